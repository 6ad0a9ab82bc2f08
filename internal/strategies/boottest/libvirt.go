package boottest

import (
	"fmt"

	libvirt "libvirt.org/go/libvirt"
)

// hypervisor is the part of a libvirt connection the boot step uses.
type hypervisor interface {
	CreateDomain(xml string) (domain, error)
	Close() error
}

type domain interface {
	Running() (bool, error)
	Destroy() error
}

type connectFunc func(uri string) (hypervisor, error)

func connectLibvirt(uri string) (hypervisor, error) {
	conn, err := libvirt.NewConnect(uri)
	if err != nil {
		return nil, fmt.Errorf("open libvirt connection %s: %w", uri, err)
	}
	return &libvirtHypervisor{conn: conn}, nil
}

type libvirtHypervisor struct {
	conn *libvirt.Connect
}

func (h *libvirtHypervisor) CreateDomain(xml string) (domain, error) {
	dom, err := h.conn.DomainCreateXML(xml, libvirt.DOMAIN_NONE)
	if err != nil {
		return nil, fmt.Errorf("create transient domain: %w", err)
	}
	return &libvirtDomain{dom: dom}, nil
}

func (h *libvirtHypervisor) Close() error {
	_, err := h.conn.Close()
	return err
}

type libvirtDomain struct {
	dom *libvirt.Domain
}

func (d *libvirtDomain) Running() (bool, error) {
	state, _, err := d.dom.GetState()
	if err != nil {
		return false, err
	}
	return state == libvirt.DOMAIN_RUNNING, nil
}

// Destroy stops the transient domain, which also undefines it.
func (d *libvirtDomain) Destroy() error {
	defer d.dom.Free()
	state, _, err := d.dom.GetState()
	if err == nil && state != libvirt.DOMAIN_RUNNING && state != libvirt.DOMAIN_PAUSED && state != libvirt.DOMAIN_BLOCKED {
		return nil
	}
	return d.dom.Destroy()
}

package boottest

import (
	"bytes"
	_ "embed"
	"encoding/xml"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"text/template"

	"github.com/google/uuid"

	"github.com/cochaviz/isoforge/arch"
	"github.com/cochaviz/isoforge/internal/spec"
)

//go:embed domain.xml.tmpl
var domainTemplate string

type domainTemplateData struct {
	Type     string
	Name     string
	UUID     string
	MemoryMB int
	VCPUs    int
	Arch     string
	ISOPath  string
	Network  string
	Bus      string
	Target   string
}

func buildDomainTemplateData(m spec.Metadata) (domainTemplateData, error) {
	iso := m.String(ISOPath)
	if iso == "" {
		return domainTemplateData{}, errors.New("iso path is required")
	}
	iso, err := filepath.Abs(iso)
	if err != nil {
		return domainTemplateData{}, fmt.Errorf("resolve iso path: %w", err)
	}

	guest := targetArch(m)
	domainType := "qemu"
	if arch.Native(arch.Host(), guest) {
		domainType = "kvm"
	}

	bus := m.StringOr(CDROMBus, DefaultCDROMBus)
	target := "sda"
	if bus == "ide" {
		target = "hda"
	}

	id := uuid.New()
	return domainTemplateData{
		Type:     domainType,
		Name:     "isoforge-boottest-" + strings.SplitN(id.String(), "-", 2)[0],
		UUID:     id.String(),
		MemoryMB: m.IntOr(MemoryMB, DefaultMemoryMB),
		VCPUs:    m.IntOr(VCPUs, DefaultVCPUs),
		Arch:     guest.String(),
		ISOPath:  iso,
		Network:  m.String(Network),
		Bus:      bus,
		Target:   target,
	}, nil
}

func renderDomainXML(templateSrc string, data domainTemplateData) ([]byte, error) {
	if templateSrc == "" {
		return nil, errors.New("domain template source is empty")
	}

	tmpl, err := template.New("domain").Funcs(template.FuncMap{"xml": escapeXML}).Parse(templateSrc)
	if err != nil {
		return nil, fmt.Errorf("parse domain template: %w", err)
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return nil, fmt.Errorf("execute domain template: %w", err)
	}
	return buf.Bytes(), nil
}

func escapeXML(s string) (string, error) {
	var b strings.Builder
	if err := xml.EscapeText(&b, []byte(s)); err != nil {
		return "", err
	}
	return b.String(), nil
}

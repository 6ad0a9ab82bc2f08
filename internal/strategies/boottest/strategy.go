// Package boottest boots a produced ISO image in a transient libvirt domain
// and checks that it keeps running for a grace period.
package boottest

import (
	"log/slog"
	"time"

	"github.com/cochaviz/isoforge/arch"
	"github.com/cochaviz/isoforge/internal/spec"
)

const ID = "boottest"

// Parameter names.
const (
	ISOPath     = "iso_path"
	ConnectURI  = "connect_uri"
	MemoryMB    = "memory_mb"
	VCPUs       = "vcpus"
	BootTimeout = "boot_timeout"
	Arch        = "arch"
	Network     = "network"
	CDROMBus    = "cdrom_bus"
)

const (
	DefaultConnectURI  = "qemu:///system"
	DefaultMemoryMB    = 1024
	DefaultVCPUs       = 1
	DefaultBootTimeout = 30 * time.Second
	DefaultCDROMBus    = "sata"
)

type Strategy struct{}

func New() Strategy {
	return Strategy{}
}

func (Strategy) ID() string { return ID }

func (Strategy) VitalParameters() []string { return []string{ISOPath} }

func (Strategy) RequireSuperUser() bool { return false }

func (Strategy) Parameters() spec.Schema {
	return spec.Schema{
		ISOPath:     {Parse: spec.AsString, Verify: spec.IsFile},
		ConnectURI:  {Parse: spec.AsString, Verify: spec.NonEmpty},
		MemoryMB:    {Parse: spec.AsInteger, Verify: spec.IntRange(128, 1<<20)},
		VCPUs:       {Parse: spec.AsInteger, Verify: spec.IntRange(1, 256)},
		BootTimeout: {Parse: spec.AsInteger, Verify: spec.IntRange(1, 3600)},
		Arch:        {Parse: spec.AsString, Verify: validArch},
		Network:     {Parse: spec.AsString, Verify: spec.NonEmpty},
		CDROMBus:    {Parse: spec.AsString, Verify: spec.OneOf("sata", "ide", "scsi", "usb")},
	}
}

func (Strategy) ExecutionSteps() []spec.StepFactory {
	return []spec.StepFactory{{Name: "boot-domain", New: newBootStep}}
}

func (Strategy) Describe(m spec.Metadata) []slog.Attr {
	return []slog.Attr{
		slog.String("iso", m.String(ISOPath)),
		slog.String("connect_uri", m.StringOr(ConnectURI, DefaultConnectURI)),
		slog.Int("memory_mb", m.IntOr(MemoryMB, DefaultMemoryMB)),
		slog.Duration("boot_timeout", bootTimeout(m)),
	}
}

func validArch(value any) bool {
	s, _ := value.(string)
	return arch.Normalize(s) != ""
}

func bootTimeout(m spec.Metadata) time.Duration {
	if seconds, ok := m.Int(BootTimeout); ok {
		return time.Duration(seconds) * time.Second
	}
	return DefaultBootTimeout
}

func targetArch(m spec.Metadata) arch.Architecture {
	if a := arch.Normalize(m.String(Arch)); a != "" {
		return a
	}
	return arch.Host()
}

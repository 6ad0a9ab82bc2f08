package boottest

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cochaviz/isoforge/internal/spec"
)

const defaultPollInterval = time.Second

// bootStep starts the image in a transient domain and watches it for the
// boot timeout. A domain that stops before then fails the step.
type bootStep struct {
	spec.BaseStep

	connect      connectFunc
	pollInterval time.Duration
	timeout      time.Duration

	xml        []byte
	domainName string
	hv         hypervisor
	dom        domain
}

func newBootStep(env spec.StepEnv) spec.Step {
	return &bootStep{
		BaseStep:     spec.BaseStep{Env: env},
		connect:      connectLibvirt,
		pollInterval: defaultPollInterval,
		timeout:      bootTimeout(env.Metadata),
	}
}

func (s *bootStep) Setup(context.Context) (int, error) {
	data, err := buildDomainTemplateData(s.Env.Metadata)
	if err != nil {
		return 0, err
	}
	xml, err := renderDomainXML(domainTemplate, data)
	if err != nil {
		return 0, err
	}
	s.xml = xml
	s.domainName = data.Name
	s.Logger().Debug("rendered domain definition", "domain", data.Name, "type", data.Type, "arch", data.Arch)
	return 0, nil
}

func (s *bootStep) PreRun(context.Context) (int, error) {
	uri := s.Env.Metadata.StringOr(ConnectURI, DefaultConnectURI)
	hv, err := s.connect(uri)
	if err != nil {
		return 0, err
	}
	s.hv = hv
	return 0, nil
}

func (s *bootStep) Run(ctx context.Context) (int, error) {
	logger := s.Logger().With("domain", s.domainName)

	dom, err := s.hv.CreateDomain(string(s.xml))
	if err != nil {
		return 0, err
	}
	s.dom = dom
	logger.Info("domain started", "timeout", s.timeout)

	deadline := time.NewTimer(s.timeout)
	defer deadline.Stop()
	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return 0, ctx.Err()
		case <-deadline.C:
			logger.Info("domain survived boot timeout")
			return 0, nil
		case <-ticker.C:
			running, err := dom.Running()
			if err != nil {
				return 0, fmt.Errorf("query domain state: %w", err)
			}
			if !running {
				logger.Error("domain stopped before boot timeout")
				return 1, nil
			}
		}
	}
}

func (s *bootStep) Kill(context.Context, bool) error {
	var errs []error
	if s.dom != nil {
		if err := s.dom.Destroy(); err != nil {
			errs = append(errs, fmt.Errorf("destroy domain %s: %w", s.domainName, err))
		}
		s.dom = nil
	}
	if s.hv != nil {
		if err := s.hv.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close libvirt connection: %w", err))
		}
		s.hv = nil
	}
	return errors.Join(errs...)
}

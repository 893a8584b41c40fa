package services

import (
	"context"
	"errors"
	"time"

	domain "github.com/feastline/checkout/internal/domain"
)

// BuildInfo captures runtime metadata exposed via health endpoints.
type BuildInfo struct {
	Version     string
	CommitSHA   string
	Environment string
	StartedAt   time.Time
}

// HealthProbe pings one dependency and reports whether it is reachable.
type HealthProbe func(ctx context.Context) error

// SystemService reports aggregate dependency health for readiness checks.
type SystemService interface {
	HealthReport(ctx context.Context) (domain.SystemHealthReport, error)
}

// SystemServiceDeps bundles collaborators required to construct a system service.
type SystemServiceDeps struct {
	Probes map[string]HealthProbe
	Clock  func() time.Time
	Build  BuildInfo
}

type systemService struct {
	probes map[string]HealthProbe
	clock  func() time.Time
	build  BuildInfo
}

var _ SystemService = (*systemService)(nil)

// NewSystemService assembles the health reporter over the given dependency probes.
func NewSystemService(deps SystemServiceDeps) (SystemService, error) {
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}

	build := deps.Build
	if build.StartedAt.IsZero() {
		build.StartedAt = clock()
	}

	probes := make(map[string]HealthProbe, len(deps.Probes))
	for name, probe := range deps.Probes {
		if probe == nil {
			return nil, errors.New("system service: probe " + name + " is nil")
		}
		probes[name] = probe
	}

	return &systemService{
		probes: probes,
		clock: func() time.Time {
			return clock().UTC()
		},
		build: build,
	}, nil
}

func (s *systemService) HealthReport(ctx context.Context) (domain.SystemHealthReport, error) {
	if ctx == nil {
		return domain.SystemHealthReport{}, errors.New("system service: context is required")
	}

	checks := make(map[string]domain.SystemHealthCheck, len(s.probes))
	for name, probe := range s.probes {
		started := s.clock()
		err := probe(ctx)
		check := domain.SystemHealthCheck{
			Status:    domain.HealthStatusOK,
			Latency:   s.clock().Sub(started),
			CheckedAt: started,
		}
		if err != nil {
			check.Status = domain.HealthStatusDegraded
			check.Error = err.Error()
		}
		checks[name] = check
	}

	now := s.clock()
	return domain.SystemHealthReport{
		Status:      deriveStatus(checks),
		Checks:      checks,
		Version:     s.build.Version,
		CommitSHA:   s.build.CommitSHA,
		Environment: s.build.Environment,
		Uptime:      now.Sub(s.build.StartedAt),
		GeneratedAt: now,
	}, nil
}

func deriveStatus(checks map[string]domain.SystemHealthCheck) string {
	status := domain.HealthStatusOK
	for _, check := range checks {
		switch check.Status {
		case domain.HealthStatusOK, "":
			continue
		case domain.HealthStatusError:
			return domain.HealthStatusError
		default:
			status = domain.HealthStatusDegraded
		}
	}
	return status
}

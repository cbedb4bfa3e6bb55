package health

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// Status represents the aggregated health status.
type Status string

const (
	// Healthy indicates all components are operational.
	Healthy Status = "ok"
	// Degraded indicates partial failure.
	Degraded Status = "degraded"
	// Unhealthy indicates total failure.
	Unhealthy Status = "error"
)

// CheckResult represents an individual component health check outcome.
type CheckResult string

const (
	// CheckOK indicates a passing health check.
	CheckOK CheckResult = "ok"
	// CheckError indicates a failing health check.
	CheckError CheckResult = "error"
)

// DefaultTimeout bounds every individual check.
const DefaultTimeout = 2 * time.Second

// Report aggregates health check results.
type Report struct {
	Status Status
	Checks map[string]CheckResult
	// Errors holds the failure message of every failing check.
	Errors map[string]string
}

// Service coordinates health checks.
type Service struct {
	names    []string
	checkers map[string]Checker
	timeout  time.Duration
}

// New creates a Service with no checks.
func New(timeout time.Duration) *Service {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Service{checkers: make(map[string]Checker), timeout: timeout}
}

// Add registers a named check. A nil checker is ignored.
func (s *Service) Add(name string, c Checker) *Service {
	if c == nil {
		return s
	}
	if _, ok := s.checkers[name]; !ok {
		s.names = append(s.names, name)
	}
	s.checkers[name] = c
	return s
}

// Check runs every check concurrently, each under its own timeout.
func (s *Service) Check(ctx context.Context) Report {
	r := Report{
		Checks: make(map[string]CheckResult, len(s.names)),
		Errors: make(map[string]string),
	}
	var mu sync.Mutex
	var g errgroup.Group
	for _, name := range s.names {
		c := s.checkers[name]
		g.Go(func() error {
			cctx, cancel := context.WithTimeout(ctx, s.timeout)
			defer cancel()
			err := c.HealthCheck(cctx)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				r.Checks[name] = CheckError
				r.Errors[name] = err.Error()
				return nil
			}
			r.Checks[name] = CheckOK
			return nil
		})
	}
	_ = g.Wait()

	failed := len(r.Errors)
	switch {
	case failed == 0:
		r.Status = Healthy
	case failed == len(s.names):
		r.Status = Unhealthy
	default:
		r.Status = Degraded
	}
	return r
}

package health

import "context"

// Status represents the aggregated health status.
type Status string

const (
	// Healthy indicates all components are operational.
	Healthy Status = "ok"
	// Degraded indicates an optional dependency is failing; queries may still succeed.
	Degraded Status = "degraded"
	// Unhealthy indicates that no query can be served.
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

// Report aggregates health check results.
type Report struct {
	Status          Status
	SnapshotVersion string
	Checks          map[string]CheckResult
}

// Service coordinates health checks.
type Service struct {
	snapshots SnapshotSource
	embedding EmbeddingChecker
	cache     Pinger
}

// New creates a Service. embedding and cache can be nil.
func New(snapshots SnapshotSource, embedding EmbeddingChecker, cache Pinger) *Service {
	return &Service{snapshots: snapshots, embedding: embedding, cache: cache}
}

// Check runs health checks against all components. A missing snapshot makes the
// service unhealthy; a failing provider or cache only degrades it.
func (s *Service) Check(ctx context.Context) Report {
	checks := make(map[string]CheckResult)
	var version string

	if m, ok := s.snapshots.Current(); ok {
		checks["snapshot"] = CheckOK
		version = m.Version
	} else {
		checks["snapshot"] = CheckError
	}

	if s.embedding != nil {
		checks["embedding"] = result(s.embedding.HealthCheck(ctx))
	}
	if s.cache != nil {
		checks["cache"] = result(s.cache.Ping(ctx))
	}

	status := Healthy
	for _, v := range checks {
		if v == CheckError {
			status = Degraded
			break
		}
	}
	if checks["snapshot"] == CheckError {
		status = Unhealthy
	}

	return Report{Status: status, SnapshotVersion: version, Checks: checks}
}

func result(err error) CheckResult {
	if err != nil {
		return CheckError
	}
	return CheckOK
}

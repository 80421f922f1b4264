package health

import "context"

// Status represents the aggregated health status.
type Status string

const (
	// Healthy indicates all components are operational.
	Healthy Status = "ok"
	// Degraded indicates partial failure.
	Degraded Status = "degraded"
	// Unhealthy indicates every check failed.
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
	Status           Status
	Checks           map[string]CheckResult
	IndexDocuments   int
	EmbeddingVersion string
}

// Service coordinates health checks. Every dependency is optional.
type Service struct {
	kv            Pinger
	calibrationDB Pinger
	embedding     EmbeddingChecker
	index         IndexStats
}

// New creates a Service.
func New(kv, calibrationDB Pinger, embedding EmbeddingChecker, index IndexStats) *Service {
	return &Service{kv: kv, calibrationDB: calibrationDB, embedding: embedding, index: index}
}

// Check runs health checks against all configured components.
func (s *Service) Check(ctx context.Context) Report {
	checks := make(map[string]CheckResult)
	run := func(name string, fn func(context.Context) error) {
		if err := fn(ctx); err != nil {
			checks[name] = CheckError
		} else {
			checks[name] = CheckOK
		}
	}
	if s.kv != nil {
		run("kv_store", s.kv.Ping)
	}
	if s.calibrationDB != nil {
		run("calibration_db", s.calibrationDB.Ping)
	}
	if s.embedding != nil {
		run("embedding", s.embedding.HealthCheck)
	}

	failed := 0
	for _, v := range checks {
		if v == CheckError {
			failed++
		}
	}
	status := Healthy
	switch {
	case failed > 0 && failed == len(checks):
		status = Unhealthy
	case failed > 0:
		status = Degraded
	}

	r := Report{Status: status, Checks: checks}
	if s.index != nil {
		r.IndexDocuments = s.index.Len()
		r.EmbeddingVersion = s.index.Version()
	}
	return r
}

package handlers

import (
	"fmt"
	"net/http"
	"sort"
	"strings"
	"time"

	domain "github.com/hanko-field/fulfillment/internal/domain"
	"github.com/hanko-field/fulfillment/internal/services"
)

// HealthHandlers serves the liveness and readiness probes.
type HealthHandlers struct {
	system services.SystemService
	build  services.BuildInfo
	now    func() time.Time
}

// HealthOption customises the health handlers.
type HealthOption func(*HealthHandlers)

// NewHealthHandlers constructs health handlers. Without a system service the readiness probe
// reports ok with no dependency checks.
func NewHealthHandlers(opts ...HealthOption) *HealthHandlers {
	h := &HealthHandlers{now: time.Now}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	if h.build.StartedAt.IsZero() {
		h.build.StartedAt = h.now()
	}
	return h
}

// WithHealthBuildInfo sets the build metadata reported by /healthz.
func WithHealthBuildInfo(info services.BuildInfo) HealthOption {
	return func(h *HealthHandlers) {
		h.build = info
	}
}

// WithHealthClock overrides the time source.
func WithHealthClock(now func() time.Time) HealthOption {
	return func(h *HealthHandlers) {
		if now != nil {
			h.now = now
		}
	}
}

// WithHealthSystemService wires the service used to probe dependencies for /readyz.
func WithHealthSystemService(svc services.SystemService) HealthOption {
	return func(h *HealthHandlers) {
		h.system = svc
	}
}

type healthzResponse struct {
	Status        string  `json:"status"`
	Version       string  `json:"version,omitempty"`
	CommitSHA     string  `json:"commitSha,omitempty"`
	Environment   string  `json:"environment,omitempty"`
	UptimeSeconds float64 `json:"uptimeSeconds"`
	Timestamp     string  `json:"timestamp"`
}

type readyzCheck struct {
	Status    string  `json:"status"`
	Detail    string  `json:"detail,omitempty"`
	Error     string  `json:"error,omitempty"`
	LatencyMS float64 `json:"latencyMs"`
	CheckedAt string  `json:"checkedAt,omitempty"`
}

type readyzResponse struct {
	Status        string                 `json:"status"`
	Version       string                 `json:"version,omitempty"`
	CommitSHA     string                 `json:"commitSha,omitempty"`
	Environment   string                 `json:"environment,omitempty"`
	UptimeSeconds float64                `json:"uptimeSeconds"`
	GeneratedAt   string                 `json:"generatedAt"`
	Checks        map[string]readyzCheck `json:"checks"`
	Details       []string               `json:"details,omitempty"`
}

// Healthz reports process liveness with build metadata. It never touches dependencies.
func (h *HealthHandlers) Healthz(w http.ResponseWriter, _ *http.Request) {
	now := h.now().UTC()
	writeJSONResponse(w, http.StatusOK, healthzResponse{
		Status:        domain.HealthStatusOK,
		Version:       h.build.Version,
		CommitSHA:     h.build.CommitSHA,
		Environment:   h.build.Environment,
		UptimeSeconds: now.Sub(h.build.StartedAt).Seconds(),
		Timestamp:     formatTime(now),
	})
}

// Readyz probes dependencies and answers 503 unless every check is ok.
func (h *HealthHandlers) Readyz(w http.ResponseWriter, r *http.Request) {
	now := h.now().UTC()
	if h.system == nil {
		writeJSONResponse(w, http.StatusOK, readyzResponse{
			Status:        domain.HealthStatusOK,
			Version:       h.build.Version,
			CommitSHA:     h.build.CommitSHA,
			Environment:   h.build.Environment,
			UptimeSeconds: now.Sub(h.build.StartedAt).Seconds(),
			GeneratedAt:   formatTime(now),
			Checks:        map[string]readyzCheck{},
		})
		return
	}

	report, err := h.system.HealthReport(r.Context())
	if err != nil {
		writeJSONResponse(w, http.StatusServiceUnavailable, readyzResponse{
			Status:      domain.HealthStatusError,
			GeneratedAt: formatTime(now),
			Checks:      map[string]readyzCheck{},
			Details:     []string{err.Error()},
		})
		return
	}

	generatedAt := report.GeneratedAt
	if generatedAt.IsZero() {
		generatedAt = now
	}
	resp := readyzResponse{
		Status:        strings.TrimSpace(report.Status),
		Version:       report.Version,
		CommitSHA:     report.CommitSHA,
		Environment:   report.Environment,
		UptimeSeconds: report.Uptime.Seconds(),
		GeneratedAt:   formatTime(generatedAt),
		Checks:        make(map[string]readyzCheck, len(report.Checks)),
	}
	if resp.Status == "" {
		resp.Status = domain.HealthStatusOK
	}

	names := make([]string, 0, len(report.Checks))
	for name := range report.Checks {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		check := report.Checks[name]
		resp.Checks[name] = readyzCheck{
			Status:    check.Status,
			Detail:    check.Detail,
			Error:     check.Error,
			LatencyMS: float64(check.Latency) / float64(time.Millisecond),
			CheckedAt: formatTime(check.CheckedAt),
		}
		if check.Status != domain.HealthStatusOK {
			reason := firstNonEmpty(check.Error, check.Detail, check.Status)
			resp.Details = append(resp.Details, fmt.Sprintf("%s: %s", name, reason))
		}
	}

	status := http.StatusOK
	if resp.Status != domain.HealthStatusOK {
		status = http.StatusServiceUnavailable
	}
	writeJSONResponse(w, status, resp)
}

package metrics

import (
	"context"
	"net/http"
	"time"

	"github.com/cloudguardian/policyguard/internal/logging"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// PrometheusSink is the default production Sink, grounded on the teacher's
// metrics tracker concept (internal/metrics/tracker.go) but implemented
// directly against prometheus/client_golang rather than a custom storage
// abstraction, since the daemon only ever exposes one scrape endpoint.
type PrometheusSink struct {
	transitions *prometheus.CounterVec
	duration    *prometheus.HistogramVec
}

// NewPrometheusSink registers the daemon's metric vectors against reg.
func NewPrometheusSink(reg prometheus.Registerer) *PrometheusSink {
	s := &PrometheusSink{
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "policyguard",
			Name:      "remediation_transitions_total",
			Help:      "Count of remediation state transitions by policy, action and status.",
		}, []string{"policy_id", "action", "status"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "policyguard",
			Name:      "remediation_duration_seconds",
			Help:      "Duration of remediation apply calls, by policy and action.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"policy_id", "action"}),
	}
	reg.MustRegister(s.transitions, s.duration)
	return s
}

func (s *PrometheusSink) Record(r Record) {
	s.transitions.WithLabelValues(r.PolicyID, string(r.Action), string(r.Status)).Inc()
	if r.DurationSeconds > 0 {
		s.duration.WithLabelValues(r.PolicyID, string(r.Action)).Observe(r.DurationSeconds)
	}
}

// Server exposes /metrics and /healthz, the daemon's one HTTP surface
// (spec.md §6 — no control-plane RPC), built on the teacher's
// gin-gonic/gin dependency.
type Server struct {
	httpServer *http.Server
}

// NewServer builds a gin server bound to addr, scraping reg at /metrics.
func NewServer(addr string, reg *prometheus.Registry) *Server {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.GET("/healthz", func(c *gin.Context) { c.String(http.StatusOK, "ok") })
	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(reg, promhttp.HandlerOpts{})))

	return &Server{httpServer: &http.Server{Addr: addr, Handler: r}}
}

// Start runs the server until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			logging.WithComponent("metrics.server").Warn().Err(err).Msg("error shutting down metrics server")
		}
	}()

	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

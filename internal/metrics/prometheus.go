package metrics

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"caracas/util"
)

const namespace = "caracas"

// shutdownGrace bounds how long in-flight scrapes may run after the
// context ends.
const shutdownGrace = 5 * time.Second

var (
	descSessionsActive = prometheus.NewDesc(namespace+"_sessions_active",
		"Currently open request sessions", nil, nil)
	descSessionsTotal = prometheus.NewDesc(namespace+"_sessions_total",
		"Request sessions opened", nil, nil)
	descMessages = prometheus.NewDesc(namespace+"_messages_total",
		"Messages exchanged with the peer", []string{"direction"}, nil)
	descBytes = prometheus.NewDesc(namespace+"_payload_bytes_total",
		"Payload bytes exchanged with the peer", []string{"direction"}, nil)
	descHandshakeFailures = prometheus.NewDesc(namespace+"_handshake_failures_total",
		"Handshakes rejected by the peer", nil, nil)
	descRTT = prometheus.NewDesc(namespace+"_round_trip_seconds",
		"Request/reply round-trip time", nil, nil)
	descModeChanges = prometheus.NewDesc(namespace+"_mode_changes_total",
		"Radio mode changes applied", nil, nil)
	descRestricted = prometheus.NewDesc(namespace+"_restricted",
		"Whether radios are currently restricted (1=yes, 0=no)", nil, nil)
	descErrors = prometheus.NewDesc(namespace+"_errors_total",
		"Errors recorded", nil, nil)
	descState = prometheus.NewDesc(namespace+"_session_state",
		"Current request session state", []string{"state"}, nil)
)

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	for _, d := range []*prometheus.Desc{
		descSessionsActive, descSessionsTotal, descMessages, descBytes,
		descHandshakeFailures, descRTT, descModeChanges, descRestricted,
		descErrors, descState,
	} {
		ch <- d
	}
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	if c == nil {
		return
	}
	gauge := func(d *prometheus.Desc, v float64, labels ...string) {
		ch <- prometheus.MustNewConstMetric(d, prometheus.GaugeValue, v, labels...)
	}
	counter := func(d *prometheus.Desc, v int64, labels ...string) {
		ch <- prometheus.MustNewConstMetric(d, prometheus.CounterValue, float64(v), labels...)
	}

	gauge(descSessionsActive, float64(c.ActiveSessions()))
	counter(descSessionsTotal, c.TotalSessions())
	counter(descMessages, c.MessagesIn(), "in")
	counter(descMessages, c.MessagesOut(), "out")
	counter(descBytes, c.TotalBytesIn(), "in")
	counter(descBytes, c.TotalBytesOut(), "out")
	counter(descHandshakeFailures, c.HandshakeFailures())
	counter(descModeChanges, c.ModeChanges())
	counter(descErrors, c.ErrorCount())

	restricted := 0.0
	if c.Restricted() {
		restricted = 1
	}
	gauge(descRestricted, restricted)

	if state := c.State(); state != "" {
		gauge(descState, 1, state)
	}

	c.rttMu.Lock()
	count := uint64(c.rtt.TotalCount())
	sum := c.rttSum.Seconds()
	quantiles := map[float64]float64{}
	for _, q := range []float64{0.5, 0.9, 0.99} {
		us := c.rtt.ValueAtQuantile(q * 100)
		quantiles[q] = (time.Duration(us) * time.Microsecond).Seconds()
	}
	c.rttMu.Unlock()
	ch <- prometheus.MustNewConstSummary(descRTT, count, sum, quantiles)
}

// ── HTTP exposition ──────────────────────────────────────────────────

// Server exposes a Collector, plus Go runtime and process metrics, on
// /metrics with a /healthz liveness probe.
type Server struct {
	server *http.Server
	ln     net.Listener
	logger *util.Logger
}

// NewServer builds an exposition server for c.
func NewServer(c *Collector, logger *util.Logger) *Server {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		c,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok")) //nolint:errcheck
	})

	return &Server{
		server: &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second},
		logger: logger.Named("metrics"),
	}
}

// Listen binds addr.  It returns the bound address, which differs from
// addr when port 0 is requested.
func (s *Server) Listen(addr string) (net.Addr, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("metrics listen %s: %w", addr, err)
	}
	s.ln = ln
	return ln.Addr(), nil
}

// Serve handles scrapes until ctx is cancelled, then shuts down
// gracefully.  Listen must have been called.
func (s *Server) Serve(ctx context.Context) error {
	if s.ln == nil {
		return errors.New("metrics: Serve called before Listen")
	}
	s.logger.Info("serving metrics on http://%s/metrics", s.ln.Addr())

	errCh := make(chan error, 1)
	go func() { errCh <- s.server.Serve(s.ln) }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownGrace)
	defer cancel()
	if err := s.server.Shutdown(shutCtx); err != nil {
		return err
	}
	if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

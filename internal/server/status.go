package server

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/devpoll/devpoll/internal/poll"
)

// HostStatus is the latest known state of one host.
type HostStatus struct {
	Host        string    `json:"host"`
	Address     string    `json:"address"`
	State       string    `json:"state"`
	Ticks       int       `json:"ticks"`
	Results     int       `json:"results"`
	Failures    int       `json:"failures"`
	LastSeq     int       `json:"last_seq"`
	LastAt      time.Time `json:"last_at,omitempty"`
	LastLatency float64   `json:"last_latency_ms"`
	LastKind    string    `json:"last_error_kind,omitempty"`
	LastError   string    `json:"last_error,omitempty"`
	LastOutput  string    `json:"last_output,omitempty"`
}

// Status is a sink that keeps the latest result per host and feeds the
// Prometheus collectors. It is safe to read while a run writes to it.
type Status struct {
	mu    sync.RWMutex
	hosts map[string]*HostStatus
	order []string

	results  *prometheus.CounterVec
	latency  *prometheus.HistogramVec
	finished *prometheus.CounterVec
	active   prometheus.Gauge
}

// NewStatus creates a Status seeded with the jobs' hosts, all idle, and
// registers its collectors with reg. A nil reg skips registration.
func NewStatus(jobs []poll.PollJob, reg prometheus.Registerer) *Status {
	s := &Status{
		hosts: make(map[string]*HostStatus, len(jobs)),
		results: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "devpoll",
			Name:      "poll_results_total",
			Help:      "Poll attempts by host and outcome.",
		}, []string{"host", "outcome"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "devpoll",
			Name:      "poll_latency_seconds",
			Help:      "Command round-trip latency.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
		}, []string{"host"}),
		finished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "devpoll",
			Name:      "hosts_finished_total",
			Help:      "Hosts that reached a terminal state.",
		}, []string{"state"}),
		active: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "devpoll",
			Name:      "hosts_active",
			Help:      "Hosts still polling.",
		}),
	}
	// Hosts wait for admission as idle; the first result marks them running.
	for _, j := range jobs {
		s.host(j.Host.ID(), j.Host.Address)
	}
	if reg != nil {
		reg.MustRegister(s.results, s.latency, s.finished, s.active)
	}
	return s
}

func (s *Status) host(id, address string) *HostStatus {
	if h, ok := s.hosts[id]; ok {
		return h
	}
	h := &HostStatus{Host: id, Address: address, State: poll.StateIdle.String()}
	s.hosts[id] = h
	s.order = append(s.order, id)
	return h
}

// Write records r.
func (s *Status) Write(r poll.PollResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	h := s.host(r.Host, r.Address)
	if r.End {
		if h.State == poll.StateRunning.String() {
			s.active.Dec()
		}
		h.State = r.State.String()
		h.Ticks = r.Ticks
		s.finished.WithLabelValues(h.State).Inc()
		return nil
	}

	if h.State == poll.StateIdle.String() {
		h.State = poll.StateRunning.String()
		s.active.Inc()
	}

	outcome := "ok"
	if r.Failed() {
		outcome = r.Kind.String()
		h.Failures++
	}
	s.results.WithLabelValues(r.Host, outcome).Inc()
	s.latency.WithLabelValues(r.Host).Observe(r.Latency.Seconds())

	h.Results++
	h.LastSeq = r.Seq
	h.LastAt = r.Timestamp
	h.LastLatency = float64(r.Latency.Microseconds()) / 1000
	h.LastKind = r.Kind.String()
	h.LastError = r.ErrString()
	h.LastOutput = r.Output
	return nil
}

// Close implements io.Closer.
func (s *Status) Close() error { return nil }

// Hosts returns a snapshot of every host, in the order first seen.
func (s *Status) Hosts() []HostStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]HostStatus, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, *s.hosts[id])
	}
	return out
}

// Host returns a snapshot of one host.
func (s *Status) Host(id string) (HostStatus, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	h, ok := s.hosts[id]
	if !ok {
		return HostStatus{}, false
	}
	return *h, true
}

// Counts returns the number of hosts per state name.
func (s *Status) Counts() map[string]int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	counts := make(map[string]int)
	for _, h := range s.hosts {
		counts[h.State]++
	}
	return counts
}

// Done reports whether every host has finished.
func (s *Status) Done() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, h := range s.hosts {
		if h.State == poll.StateRunning.String() || h.State == poll.StateIdle.String() {
			return false
		}
	}
	return true
}

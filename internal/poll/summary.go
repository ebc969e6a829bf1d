package poll

import "time"

// HostSummary aggregates one host's results.
type HostSummary struct {
	Host         string            `json:"host"`
	Address      string            `json:"address"`
	Results      int               `json:"results"`
	Failures     int               `json:"failures"`
	ByKind       map[ErrorKind]int `json:"by_kind,omitempty"`
	State        State             `json:"state"`
	FirstAt      time.Time         `json:"first_at,omitempty"`
	LastAt       time.Time         `json:"last_at,omitempty"`
	TotalLatency time.Duration     `json:"total_latency"`
	MaxLatency   time.Duration     `json:"max_latency"`
	LastError    string            `json:"last_error,omitempty"`
}

// AvgLatency returns the mean latency over all attempts.
func (h *HostSummary) AvgLatency() time.Duration {
	if h.Results == 0 {
		return 0
	}
	return h.TotalLatency / time.Duration(h.Results)
}

// Summary aggregates a whole pool run. Hosts keep submission order.
type Summary struct {
	Hosts    []*HostSummary `json:"hosts"`
	Started  time.Time      `json:"started"`
	Finished time.Time      `json:"finished"`

	byID map[string]*HostSummary
}

// NewSummary creates a summary pre-seeded with the jobs' hosts.
func NewSummary(jobs []PollJob) *Summary {
	s := &Summary{
		Started: time.Now(),
		byID:    make(map[string]*HostSummary, len(jobs)),
	}
	for _, j := range jobs {
		s.host(j.Host.ID(), j.Host.Address)
	}
	return s
}

func (s *Summary) host(id, address string) *HostSummary {
	if h, ok := s.byID[id]; ok {
		return h
	}
	h := &HostSummary{Host: id, Address: address, ByKind: make(map[ErrorKind]int)}
	s.byID[id] = h
	s.Hosts = append(s.Hosts, h)
	return h
}

// Add folds one record into the summary.
func (s *Summary) Add(r PollResult) {
	h := s.host(r.Host, r.Address)
	if r.End {
		h.State = r.State
		return
	}

	h.Results++
	if h.FirstAt.IsZero() {
		h.FirstAt = r.Timestamp
	}
	h.LastAt = r.Timestamp
	h.TotalLatency += r.Latency
	if r.Latency > h.MaxLatency {
		h.MaxLatency = r.Latency
	}
	if r.Failed() {
		h.Failures++
		h.ByKind[r.Kind]++
		h.LastError = r.ErrString()
	}
}

// Host returns the summary for id, or nil.
func (s *Summary) Host(id string) *HostSummary {
	return s.byID[id]
}

// Finish stamps the end time.
func (s *Summary) Finish() {
	s.Finished = time.Now()
}

// Duration returns the wall-clock time of the run.
func (s *Summary) Duration() time.Duration {
	if s.Finished.IsZero() {
		return time.Since(s.Started)
	}
	return s.Finished.Sub(s.Started)
}

// Counts returns the number of completed and aborted hosts.
func (s *Summary) Counts() (completed, aborted int) {
	for _, h := range s.Hosts {
		switch h.State {
		case StateCompleted:
			completed++
		case StateAborted:
			aborted++
		}
	}
	return completed, aborted
}

// Results returns the total number of attempts and failed attempts.
func (s *Summary) Results() (total, failed int) {
	for _, h := range s.Hosts {
		total += h.Results
		failed += h.Failures
	}
	return total, failed
}

// Success returns true when every host completed its window.
func (s *Summary) Success() bool {
	_, aborted := s.Counts()
	return aborted == 0
}

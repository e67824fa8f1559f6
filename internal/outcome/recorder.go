// Package outcome records admission results. Handlers report once per
// decision through a single Recorder instead of updating metrics, counters,
// and audit streams at every call site; the fanout forwards to whatever
// sinks the process configured.
package outcome

import "time"

// Verdict classifies what happened to a submission.
type Verdict string

const (
	VerdictAdmitted     Verdict = "admitted"
	VerdictRejected     Verdict = "rejected"
	VerdictRateLimited  Verdict = "rate_limited"
	VerdictPersistError Verdict = "persist_error"
)

// Outcome is one admission decision. Admitted and Dropped count items;
// rate-limited and rejected outcomes carry zero of both.
type Outcome struct {
	TenantID  string    `json:"tenantId"`
	Channel   string    `json:"channel"`
	Transport string    `json:"transport"` // "http" or "ws"
	Verdict   Verdict   `json:"verdict"`
	Admitted  int       `json:"admitted"`
	Dropped   int       `json:"dropped"`
	At        time.Time `json:"at"`
}

// Recorder receives admission outcomes.
type Recorder interface {
	Record(o Outcome)
}

// Sink is one destination for outcomes. Sinks must not block.
type Sink interface {
	Record(o Outcome)
}

// Fanout forwards each outcome to every configured sink.
type Fanout struct {
	sinks []Sink
}

// NewFanout builds a recorder over the given sinks.
func NewFanout(sinks ...Sink) *Fanout {
	return &Fanout{sinks: sinks}
}

// Record stamps the outcome and forwards it.
func (f *Fanout) Record(o Outcome) {
	if o.At.IsZero() {
		o.At = time.Now().UTC()
	}
	for _, s := range f.sinks {
		s.Record(o)
	}
}

// Nop is a recorder that discards everything, for tests.
type Nop struct{}

func (Nop) Record(Outcome) {}

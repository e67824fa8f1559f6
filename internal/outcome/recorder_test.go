package outcome_test

import (
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"pulse-telemetry/internal/outcome"
)

func TestMemorySinkAccumulatesDrops(t *testing.T) {
	sink := outcome.NewMemorySink()
	sink.Record(outcome.Outcome{TenantID: "proj-1", Verdict: outcome.VerdictAdmitted, Admitted: 2, Dropped: 3})
	sink.Record(outcome.Outcome{TenantID: "proj-1", Verdict: outcome.VerdictAdmitted, Admitted: 5, Dropped: 1})
	sink.Record(outcome.Outcome{TenantID: "proj-2", Verdict: outcome.VerdictAdmitted, Admitted: 1, Dropped: 7})
	sink.Record(outcome.Outcome{TenantID: "proj-3", Verdict: outcome.VerdictAdmitted, Admitted: 4})

	require.Equal(t, int64(4), sink.Dropped("proj-1"))
	require.Equal(t, int64(7), sink.Dropped("proj-2"))
	require.Equal(t, int64(0), sink.Dropped("proj-3"))

	snap := sink.Snapshot()
	require.Equal(t, map[string]int64{"proj-1": 4, "proj-2": 7}, snap)
}

type recordingSink struct {
	got []outcome.Outcome
}

func (s *recordingSink) Record(o outcome.Outcome) { s.got = append(s.got, o) }

func TestFanoutForwardsToEverySink(t *testing.T) {
	a := &recordingSink{}
	b := &recordingSink{}
	rec := outcome.NewFanout(a, b)

	rec.Record(outcome.Outcome{TenantID: "proj-1", Verdict: outcome.VerdictRateLimited})

	require.Len(t, a.got, 1)
	require.Len(t, b.got, 1)
	require.False(t, a.got[0].At.IsZero(), "fanout stamps the outcome time")
}

func TestKafkaSinkRecordAfterClose(t *testing.T) {
	sink := outcome.NewKafkaSink([]string{"localhost:9092"}, "ingest.outcomes", zap.NewNop())
	require.NoError(t, sink.Close())

	// streaming connections outlive server shutdown, so a late record must
	// be dropped, not panic
	require.NotPanics(t, func() {
		sink.Record(outcome.Outcome{TenantID: "proj-1", Verdict: outcome.VerdictAdmitted, Admitted: 1})
	})
	require.NoError(t, sink.Close())
}

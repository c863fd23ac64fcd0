package quota

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/setkeep/internal/events"
	"github.com/roach88/setkeep/internal/testutil"
)

func TestThresholds_Classify(t *testing.T) {
	th := DefaultThresholds
	assert.Equal(t, Healthy, th.Classify(0.5))
	assert.Equal(t, Warning, th.Classify(0.80))
	assert.Equal(t, Warning, th.Classify(0.94))
	assert.Equal(t, Critical, th.Classify(0.95))
	assert.Equal(t, Critical, th.Classify(1.2))
}

func TestSnapshot(t *testing.T) {
	est := &StaticEstimator{Current: Estimate{Usage: 850, Capacity: 1000}}
	m := NewMonitor(est)

	snap, err := m.Snapshot(context.Background())
	require.NoError(t, err)
	assert.True(t, snap.Supported)
	assert.InDelta(t, 85.0, snap.Percentage, 1e-9)
	assert.Equal(t, Warning, snap.Status)
	assert.Equal(t, int64(150), snap.Available())
}

func TestSnapshot_UnsupportedFailsOpen(t *testing.T) {
	m := NewMonitor(&StaticEstimator{Err: ErrUnsupported})

	snap, err := m.Snapshot(context.Background())
	require.NoError(t, err)
	assert.False(t, snap.Supported)
	assert.Equal(t, Healthy, snap.Status)

	adm := m.CheckWrite(context.Background(), 1<<40)
	assert.True(t, adm.Allowed)
}

func TestCheckWrite(t *testing.T) {
	tests := []struct {
		name    string
		usage   int64
		size    int64
		allowed bool
		warn    bool
	}{
		{"healthy", 100, 10, true, false},
		{"lands in warning", 790, 20, true, true},
		{"lands at critical", 900, 50, false, false},
		{"already critical", 960, 1, false, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := NewMonitor(&StaticEstimator{Current: Estimate{Usage: tt.usage, Capacity: 1000}})
			adm := m.CheckWrite(context.Background(), tt.size)
			assert.Equal(t, tt.allowed, adm.Allowed)
			assert.Equal(t, tt.warn, adm.Warn)
			assert.Equal(t, tt.size, adm.Required)
		})
	}
}

func TestCheckWrite_EstimateErrorAdmits(t *testing.T) {
	m := NewMonitor(&StaticEstimator{Err: errors.New("io")})
	assert.True(t, m.CheckWrite(context.Background(), 10).Allowed)
}

func TestAdmission_Exceeded(t *testing.T) {
	m := NewMonitor(&StaticEstimator{Current: Estimate{Usage: 960, Capacity: 1000}})
	adm := m.CheckWrite(context.Background(), 25)
	require.False(t, adm.Allowed)

	err := error(adm.Exceeded())
	assert.True(t, IsQuotaExceeded(err))

	var qe *QuotaExceededError
	require.ErrorAs(t, err, &qe)
	assert.InDelta(t, 96.0, qe.CurrentPct, 1e-9)
	assert.InDelta(t, 98.5, qe.ProjectedPct, 1e-9)
	assert.Equal(t, int64(25), qe.Required)
	assert.Equal(t, int64(40), qe.Available)
}

func TestObserve_EmitsOnTransitionAndCleans(t *testing.T) {
	ctx := context.Background()
	est := &StaticEstimator{Current: Estimate{Usage: 500, Capacity: 1000}}
	rec := &testutil.Recorder{}
	var cleaned []Status
	m := NewMonitor(est,
		WithSink(rec),
		WithClock(testutil.NewFakeClock(time.Time{})),
		WithCleaner(CleanerFunc(func(_ context.Context, s Status) error {
			cleaned = append(cleaned, s)
			return nil
		})),
	)

	_, err := m.Observe(ctx)
	require.NoError(t, err)
	assert.Empty(t, rec.Events())

	est.Current.Usage = 850
	_, err = m.Observe(ctx)
	require.NoError(t, err)
	_, err = m.Observe(ctx)
	require.NoError(t, err)

	est.Current.Usage = 970
	snap, err := m.Observe(ctx)
	require.NoError(t, err)
	assert.Equal(t, Critical, snap.Status)

	assert.Equal(t, []events.Kind{events.StorageWarning, events.StorageCritical}, rec.Kinds())
	crit := rec.OfKind(events.StorageCritical)[0]
	assert.Equal(t, int64(970), crit.Usage)
	assert.InDelta(t, 97.0, crit.Percentage, 1e-9)
	assert.Equal(t, []Status{Warning, Warning, Critical}, cleaned)
}

func TestObserve_CleanerErrorIsNotFatal(t *testing.T) {
	m := NewMonitor(&StaticEstimator{Current: Estimate{Usage: 990, Capacity: 1000}})
	m.SetCleaner(CleanerFunc(func(context.Context, Status) error { return errors.New("busy") }))
	_, err := m.Observe(context.Background())
	assert.NoError(t, err)
}

func TestRequestPersistence(t *testing.T) {
	ctx := context.Background()
	est := &StaticEstimator{Persisted: true}
	m := NewMonitor(est)

	ok, err := m.RequestPersistence(ctx)
	require.NoError(t, err)
	assert.True(t, ok)

	// Cached after the first answer.
	est.Persisted = false
	ok, err = m.RequestPersistence(ctx)
	require.NoError(t, err)
	assert.True(t, ok)

	unsupported := NewMonitor(&StaticEstimator{Err: ErrUnsupported})
	ok, err = unsupported.RequestPersistence(ctx)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestBudgetEstimator(t *testing.T) {
	ctx := context.Background()
	b := BudgetEstimator{Budget: 1000, Usage: func(context.Context) (int64, error) { return 250, nil }}
	est, err := b.Estimate(ctx)
	require.NoError(t, err)
	assert.Equal(t, Estimate{Usage: 250, Capacity: 1000}, est)

	_, err = BudgetEstimator{}.Estimate(ctx)
	assert.ErrorIs(t, err, ErrUnsupported)
}

func TestDiskEstimator(t *testing.T) {
	d := DiskEstimator{Path: t.TempDir(), Usage: func(context.Context) (int64, error) { return 4096, nil }}
	est, err := d.Estimate(context.Background())
	if errors.Is(err, ErrUnsupported) {
		t.Skip("statfs unavailable on this platform")
	}
	require.NoError(t, err)
	assert.Equal(t, int64(4096), est.Usage)
	assert.GreaterOrEqual(t, est.Capacity, est.Usage)
}

func TestRecommendations(t *testing.T) {
	snap := Snapshot{Usage: 970, Capacity: 1000, Percentage: 97, Status: Critical, Supported: true}
	recs := Recommendations(snap, DefaultThresholds, Stats{DeadLetters: 2, Orphans: 1, Evictable: 5})

	require.Len(t, recs, 4)
	assert.Equal(t, PriorityHigh, recs[0].Priority)
	assert.Contains(t, recs[0].Message, "97.0%")
	assert.Equal(t, "dead-letters", recs[1].Action)
	for i := 1; i < len(recs); i++ {
		assert.LessOrEqual(t, recs[i-1].Priority, recs[i].Priority)
	}

	healthy := Recommendations(Snapshot{Percentage: 10, Supported: true}, DefaultThresholds, Stats{Evictable: 5})
	assert.Empty(t, healthy, "evictable records are not worth mentioning when healthy")
}

func TestReport(t *testing.T) {
	m := NewMonitor(&StaticEstimator{Current: Estimate{Usage: 100, Capacity: 1000}, Persisted: true})
	rep, err := m.Report(context.Background(), Stats{Failed: 1})
	require.NoError(t, err)
	assert.True(t, rep.Persisted)
	assert.Equal(t, DefaultThresholds, rep.Thresholds)
	require.Len(t, rep.Recommendations, 1)
	assert.Equal(t, "retry", rep.Recommendations[0].Action)
}

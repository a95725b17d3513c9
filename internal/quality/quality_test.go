package quality

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"remotedesk/internal/clock"
	"remotedesk/internal/codec"
	"remotedesk/internal/domain"
	"remotedesk/internal/session"
)

func setup(t *testing.T) (*Controller, *clock.FakeClock, string) {
	t.Helper()
	clk := clock.NewFake(time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC))
	registry := session.NewRegistry(clk, 8*time.Hour, time.Minute)
	s, err := registry.Create(session.CreateSpec{HostID: "host-1", CreatedBy: "owner", Type: domain.SessionTypeRemoteControl, Quality: domain.DefaultQuality()})
	require.NoError(t, err)
	require.NoError(t, registry.With(s.ID, func(s *domain.Session) error {
		s.Participants["viewer"] = &domain.Participant{SessionID: s.ID, UserID: "viewer", Role: domain.RoleViewer}
		return nil
	}))
	return New(registry, Options{Clock: clk, AdaptInterval: 5 * time.Second}), clk, s.ID
}

func TestNormalize(t *testing.T) {
	q, err := Normalize(domain.QualitySettings{Quality: 150, TargetFPS: 24, Scale: 1.7})
	require.NoError(t, err)
	assert.Equal(t, 100, q.Quality)
	assert.Equal(t, 1.0, q.Scale)
	assert.Equal(t, domain.CompressionJPEG, q.Compression)

	q, err = Normalize(domain.QualitySettings{Quality: -4, TargetFPS: 5, Scale: 0.25, Compression: domain.CompressionWebP})
	require.NoError(t, err)
	assert.Equal(t, 0, q.Quality)
	assert.Equal(t, 0.25, q.Scale)

	for _, bad := range []domain.QualitySettings{
		{Quality: 50, TargetFPS: 30, Scale: 0},
		{Quality: 50, TargetFPS: 30, Scale: -1},
		{Quality: 50, TargetFPS: 25, Scale: 1},
		{Quality: 50, TargetFPS: 30, Scale: 1, Compression: "gif"},
		{Quality: 50, TargetFPS: 30, Scale: math.NaN()},
		{Quality: 50, TargetFPS: 30, Scale: math.Inf(1)},
		{Quality: 50, TargetFPS: 30, Scale: math.Inf(-1)},
	} {
		_, err := Normalize(bad)
		assert.ErrorIs(t, err, domain.ErrInvalidQuality)
	}
}

func TestSetStoresOnlyValidSettings(t *testing.T) {
	c, _, id := setup(t)

	_, _, err := c.Set(id, "owner", domain.QualitySettings{Quality: 60, TargetFPS: 7, Scale: 1})
	assert.ErrorIs(t, err, domain.ErrInvalidQuality)
	q, err := c.Get(id)
	require.NoError(t, err)
	assert.Equal(t, domain.DefaultQuality(), q)

	_, _, err = c.Set(id, "viewer", domain.QualitySettings{Quality: 60, TargetFPS: 15, Scale: 1})
	assert.ErrorIs(t, err, domain.ErrMissingPermission)

	q, changed, err := c.Set(id, "owner", domain.QualitySettings{Quality: 60, TargetFPS: 15, Scale: 0.5})
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, 60, q.Quality)

	_, changed, err = c.Set(id, "owner", q)
	require.NoError(t, err)
	assert.False(t, changed)
}

func TestAdaptDowngradesUnderPressure(t *testing.T) {
	c, _, id := setup(t)

	q, changed, err := c.Adapt(id, domain.HostHealth{HostID: "host-1", CPUUsage: 95}, domain.SessionStatistics{})
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, 60, q.Quality)
	assert.Equal(t, 24, q.TargetFPS)
}

func TestAdaptIsRateLimited(t *testing.T) {
	c, clk, id := setup(t)
	loss := domain.SessionStatistics{PacketLoss: 8}

	_, changed, err := c.Adapt(id, domain.HostHealth{CPUUsage: 20}, loss)
	require.NoError(t, err)
	require.True(t, changed)

	q, changed, err := c.Adapt(id, domain.HostHealth{CPUUsage: 20}, loss)
	require.NoError(t, err)
	assert.False(t, changed)
	assert.Equal(t, 60, q.Quality)

	clk.Advance(5 * time.Second)
	q, changed, err = c.Adapt(id, domain.HostHealth{CPUUsage: 20}, loss)
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, 45, q.Quality)
	assert.Equal(t, 15, q.TargetFPS)
}

func TestAdaptUpgradesTowardDefaults(t *testing.T) {
	c, clk, id := setup(t)
	_, _, err := c.Set(id, "", domain.QualitySettings{Quality: 60, TargetFPS: 15, Scale: 1})
	require.NoError(t, err)

	idle := domain.HostHealth{CPUUsage: 10}
	q, changed, err := c.Adapt(id, idle, domain.SessionStatistics{})
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, 70, q.Quality)
	assert.Equal(t, 24, q.TargetFPS)

	clk.Advance(5 * time.Second)
	q, _, err = c.Adapt(id, idle, domain.SessionStatistics{})
	require.NoError(t, err)
	assert.Equal(t, 75, q.Quality)
	assert.Equal(t, 30, q.TargetFPS)

	clk.Advance(5 * time.Second)
	_, changed, err = c.Adapt(id, idle, domain.SessionStatistics{})
	require.NoError(t, err)
	assert.False(t, changed)
}

func TestAdaptHoldsInTheMiddleBand(t *testing.T) {
	c, _, id := setup(t)
	_, changed, err := c.Adapt(id, domain.HostHealth{CPUUsage: 70}, domain.SessionStatistics{PacketLoss: 2})
	require.NoError(t, err)
	assert.False(t, changed)
}

func TestHealthMonitorKeepsLatest(t *testing.T) {
	clk := clock.NewFake(time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC))
	m := NewHealthMonitor(MonitorOptions{Clock: clk, Buffer: 4})
	seen := make(chan domain.HostHealth, 4)
	m.OnReport(func(_ context.Context, h domain.HostHealth) { seen <- h })

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.Run(ctx) }()

	require.NoError(t, m.Submit(domain.HostHealth{HostID: "h1", CPUUsage: 10}))
	require.NoError(t, m.Submit(domain.HostHealth{HostID: "h1", CPUUsage: 80}))
	<-seen
	<-seen

	latest, ok := m.Latest("h1")
	require.True(t, ok)
	assert.Equal(t, 80.0, latest.CPUUsage)
	assert.Equal(t, clk.Now(), latest.LastReportTime)

	_, ok = m.Latest("h2")
	assert.False(t, ok)

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
}

func TestHealthMonitorRejectsAndSheds(t *testing.T) {
	m := NewHealthMonitor(MonitorOptions{Buffer: 1})
	err := m.Submit(domain.HostHealth{})
	assert.True(t, domain.IsKind(err, domain.KindValidation))

	require.NoError(t, m.Submit(domain.HostHealth{HostID: "h1"}))
	err = m.Submit(domain.HostHealth{HostID: "h1"})
	assert.True(t, domain.IsKind(err, domain.KindTransient))
}

func TestNonFiniteScaleFromTheWireIsRejected(t *testing.T) {
	c, _, id := setup(t)
	before, err := c.Get(id)
	require.NoError(t, err)

	wire, err := codec.CBOR{}.Marshal(map[string]any{"quality": 60, "target_fps": 30, "scale": math.NaN()})
	require.NoError(t, err)
	var decoded domain.QualitySettings
	require.NoError(t, codec.CBOR{}.Unmarshal(wire, &decoded))
	require.True(t, math.IsNaN(decoded.Scale))

	_, _, err = c.Set(id, "owner", decoded)
	assert.ErrorIs(t, err, domain.ErrInvalidQuality)

	after, err := c.Get(id)
	require.NoError(t, err)
	assert.Equal(t, before, after)
}

func TestHealthMonitorRejectsNonFiniteMetrics(t *testing.T) {
	m := NewHealthMonitor(MonitorOptions{Buffer: 4})
	for _, bad := range []domain.HostHealth{
		{HostID: "h1", CPUUsage: math.NaN()},
		{HostID: "h1", MemoryUsage: math.Inf(1)},
		{HostID: "h1", NetworkLatencyMs: math.Inf(-1)},
	} {
		err := m.Submit(bad)
		assert.True(t, domain.IsKind(err, domain.KindValidation))
	}
	require.NoError(t, m.Submit(domain.HostHealth{HostID: "h1", CPUUsage: 42}))
}

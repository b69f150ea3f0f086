package perfmon

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bft-labs/chromasync/pkg/event"
)

func fixedLoad(load float64) func() (int, int, float64) {
	return func() (int, int, float64) { return 24, 2, load }
}

func TestFrameStatistics(t *testing.T) {
	bus := event.NewBus()
	defer bus.Destroy()

	m := New(bus, Config{FrameBudget: 20 * time.Millisecond, Window: 4}, WithLoadFunc(fixedLoad(0.1)))
	require.NoError(t, m.Initialize(context.Background()))

	for _, ms := range []int{10, 10, 30, 10, 10, 50} {
		m.UpdateAnimation(time.Duration(ms) * time.Millisecond)
	}

	s := m.Snapshot()
	assert.Equal(t, 4, s.Frames)
	assert.Equal(t, 2, s.OverBudget)
	assert.Equal(t, 50*time.Millisecond, s.MaxFrame)
	assert.Equal(t, 50*time.Millisecond, s.P95Frame)
	assert.Equal(t, 25*time.Millisecond, s.AvgFrame)
}

func TestEmptySnapshot(t *testing.T) {
	bus := event.NewBus()
	defer bus.Destroy()

	m := New(bus, Config{}, WithLoadFunc(fixedLoad(0)))
	s := m.Snapshot()
	assert.Zero(t, s.Frames)
	assert.Zero(t, s.AvgFrame)
}

func TestHealthFollowsLoadThreshold(t *testing.T) {
	bus := event.NewBus()
	defer bus.Destroy()

	tests := []struct {
		name    string
		load    float64
		healthy bool
	}{
		{"idle", 0.2, true},
		{"at threshold", 0.85, true},
		{"overloaded", 0.95, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := New(bus, DefaultConfig(), WithLoadFunc(fixedLoad(tt.load)))
			res := m.HealthCheck(context.Background())
			assert.Equal(t, tt.healthy, res.Healthy)
			assert.Equal(t, "24", res.Details["goroutines"])
		})
	}
}

func TestProcessLoadSamplesBetweenWindows(t *testing.T) {
	cpu := 10.0
	now := time.Unix(1000, 0)
	p := &ProcessLoad{
		cpuSeconds: func() (float64, error) { return cpu, nil },
		now:        func() time.Time { return now },
	}

	_, cpus, load := p.Sample()
	assert.Zero(t, load, "first sample is a baseline")

	cpu += 0.5 * float64(cpus)
	now = now.Add(100 * time.Millisecond)
	_, _, load = p.Sample()
	assert.Zero(t, load, "window too short")

	now = now.Add(900 * time.Millisecond)
	_, _, load = p.Sample()
	assert.InDelta(t, 0.5, load, 1e-9)

	cpu += 5 * float64(cpus)
	now = now.Add(time.Second)
	_, _, load = p.Sample()
	assert.Equal(t, 1.0, load, "clamped")
}

func TestProcessLoadUnavailable(t *testing.T) {
	p := &ProcessLoad{
		cpuSeconds: func() (float64, error) { return 0, errors.New("no /proc") },
		now:        time.Now,
	}
	g, cpus, load := p.Sample()
	assert.Positive(t, g)
	assert.Positive(t, cpus)
	assert.Zero(t, load)
}

func TestDefaultMonitorIgnoresParkedGoroutines(t *testing.T) {
	bus := event.NewBus()
	defer bus.Destroy()

	release := make(chan struct{})
	var wg sync.WaitGroup
	for i := 0; i < 200; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-release
		}()
	}
	defer func() {
		close(release)
		wg.Wait()
	}()

	m := New(bus, DefaultConfig())
	require.NoError(t, m.Initialize(context.Background()))

	res := m.HealthCheck(context.Background())
	assert.True(t, res.Healthy, "issues: %v", res.Issues)
	assert.Equal(t, "0.00", res.Details["cpu_load"])
}

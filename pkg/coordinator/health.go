package coordinator

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/bft-labs/chromasync/pkg/event"
	"github.com/bft-labs/chromasync/pkg/lifecycle"
)

// HealthReport is the aggregated result of HealthCheck. Healthy is true only
// when every managed system is healthy.
type HealthReport struct {
	Healthy      bool                    `json:"healthy"`
	State        string                  `json:"state"`
	Phases       []PhaseReport           `json:"phases"`
	SystemStatus map[string]SystemReport `json:"systemStatus"`
	Issues       []string                `json:"issues"`
	Bus          event.Metrics           `json:"bus"`
	CheckedAt    time.Time               `json:"checkedAt"`
}

// PhaseReport describes one initialization phase.
type PhaseReport struct {
	Name      string   `json:"name"`
	Completed bool     `json:"completed"`
	Systems   []string `json:"systems"`
}

// SystemReport describes one managed system.
type SystemReport struct {
	State     string            `json:"state"`
	Healthy   bool              `json:"healthy"`
	Issues    []string          `json:"issues,omitempty"`
	Details   map[string]string `json:"details,omitempty"`
	LastError string            `json:"lastError,omitempty"`
	ReadyIn   time.Duration     `json:"readyIn"`
}

// HealthCheck checks every managed system concurrently, each bounded by
// HealthCheckTimeout. Unhealthy ready systems become degraded and healthy
// degraded systems recover.
func (c *Coordinator) HealthCheck(ctx context.Context) HealthReport {
	c.mu.RLock()
	st, seq, bus := c.state, c.seq, c.bus
	c.mu.RUnlock()

	report := HealthReport{
		State:        st.String(),
		SystemStatus: make(map[string]SystemReport),
		Bus:          bus.Metrics(),
		CheckedAt:    c.opts.now(),
	}
	for _, p := range c.graph.Phases() {
		report.Phases = append(report.Phases, PhaseReport{
			Name:      p.Name,
			Completed: seq.PhaseCompleted(p.ID),
			Systems:   c.graph.Members(p.ID),
		})
	}

	if st != stateReady {
		report.Issues = append(report.Issues, fmt.Sprintf("coordinator is %s", st))
		for _, s := range seq.Statuses() {
			report.SystemStatus[s.Name] = systemReport(s, lifecycle.Unhealthy())
		}
		c.lifecycleMetrics.Healthy.Set(0)
		return report
	}

	results := seq.CheckHealth(ctx, c.cfg.HealthCheckTimeout)
	report.Healthy = true
	for _, s := range seq.Statuses() {
		res := results[s.Name]
		report.SystemStatus[s.Name] = systemReport(s, res)
		if res.Healthy {
			continue
		}
		report.Healthy = false
		if len(res.Issues) == 0 {
			report.Issues = append(report.Issues, s.Name+": unhealthy")
		}
		for _, issue := range res.Issues {
			report.Issues = append(report.Issues, s.Name+": "+issue)
		}
	}
	sort.Strings(report.Issues)

	if report.Healthy {
		c.lifecycleMetrics.Healthy.Set(1)
	} else {
		c.lifecycleMetrics.Healthy.Set(0)
	}
	return report
}

func systemReport(s lifecycle.Status, res lifecycle.HealthResult) SystemReport {
	r := SystemReport{
		State:   s.State.String(),
		Healthy: res.Healthy,
		Issues:  res.Issues,
		Details: res.Details,
		ReadyIn: s.ReadyIn,
	}
	if s.LastError != nil {
		r.LastError = s.LastError.Error()
	}
	return r
}

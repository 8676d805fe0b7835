package pool

import (
	"fmt"
	"sort"
	"sync/atomic"
	"time"

	"github.com/xfeldman/mcpool/internal/mcp"
)

// Strategy picks one server from a candidate list given a point-in-time
// status snapshot. Servers that are not ready are never returned.
type Strategy interface {
	Name() string
	Description() string
	Select(candidates []string, statuses map[string]ServerStatus) (string, bool)
	SelectForTool(tool string, candidates []string, statuses map[string]ServerStatus) (string, bool)
}

// NewStrategy builds a strategy by its configuration name. An empty
// name means health-based.
func NewStrategy(name string) (Strategy, error) {
	switch name {
	case "", "health":
		return &HealthBased{}, nil
	case "round_robin":
		return &RoundRobin{}, nil
	default:
		return nil, fmt.Errorf("unknown strategy %q", name)
	}
}

// HealthBased routes to the ready server with the lowest observed
// latency. Servers without a latency observation sort last; ties break
// by server id ascending. Stateless, so selection is a pure function of
// the snapshot.
type HealthBased struct{}

func (*HealthBased) Name() string { return "health" }

func (*HealthBased) Description() string {
	return "routes to the ready server with the lowest observed latency"
}

func (s *HealthBased) Select(candidates []string, statuses map[string]ServerStatus) (string, bool) {
	sorted := append([]string(nil), candidates...)
	sort.Strings(sorted)

	best := ""
	var bestLatency time.Duration
	for _, id := range sorted {
		st, ok := statuses[id]
		if !ok || st.State != mcp.StateReady {
			continue
		}
		switch {
		case best == "":
			// first ready candidate
		case st.Latency > 0 && bestLatency == 0:
			// measured beats unmeasured
		case st.Latency > 0 && bestLatency > 0 && st.Latency < bestLatency:
			// strictly faster
		default:
			continue
		}
		best = id
		bestLatency = st.Latency
	}
	return best, best != ""
}

func (s *HealthBased) SelectForTool(tool string, candidates []string, statuses map[string]ServerStatus) (string, bool) {
	return s.Select(candidates, statuses)
}

// RoundRobin rotates across candidates with a single atomic cursor. The
// cursor advances on every call, selected or not, so interleaved tool
// names keep rotating rather than pinning to one server.
type RoundRobin struct {
	cursor atomic.Int64
}

func (*RoundRobin) Name() string { return "round_robin" }

func (*RoundRobin) Description() string {
	return "rotates tool calls across ready servers"
}

func (r *RoundRobin) Select(candidates []string, statuses map[string]ServerStatus) (string, bool) {
	k := r.cursor.Add(1) - 1
	n := len(candidates)
	if n == 0 {
		return "", false
	}
	start := int(k % int64(n))
	for i := 0; i < n; i++ {
		id := candidates[(start+i)%n]
		if st, ok := statuses[id]; ok && st.State == mcp.StateReady {
			return id, true
		}
	}
	return "", false
}

func (r *RoundRobin) SelectForTool(tool string, candidates []string, statuses map[string]ServerStatus) (string, bool) {
	return r.Select(candidates, statuses)
}

// Reset zeroes the cursor.
func (r *RoundRobin) Reset() {
	r.cursor.Store(0)
}

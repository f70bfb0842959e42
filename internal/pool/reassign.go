package pool

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/kabir325/fogpool/internal/logx"
)

// Reason records what triggered a reassignment pass.
type Reason string

const (
	ReasonManual   Reason = "MANUAL"
	ReasonPeriodic Reason = "PERIODIC"
	ReasonChurn    Reason = "CHURN"
)

// ParseReason accepts reason names case-insensitively. Empty means MANUAL.
func ParseReason(s string) (Reason, error) {
	switch Reason(strings.ToUpper(strings.TrimSpace(s))) {
	case "", ReasonManual:
		return ReasonManual, nil
	case ReasonPeriodic:
		return ReasonPeriodic, nil
	case ReasonChurn:
		return ReasonChurn, nil
	}
	return "", fmt.Errorf("unknown reassignment reason %q", s)
}

// ClientChange is the before/after assignment of one client in a pass.
type ClientChange struct {
	ClientID string     `json:"client_id"`
	Before   Assignment `json:"before"`
	After    Assignment `json:"after"`
	Changed  bool       `json:"changed"`
}

// Summary reports the outcome of one reassignment pass.
type Summary struct {
	TriggeredAt time.Time      `json:"triggered_at"`
	Reason      Reason         `json:"reason"`
	Clients     []ClientChange `json:"clients"`
	Evaluated   int            `json:"evaluated"`
	Changed     int            `json:"changed"`
}

// ChangedClients returns only the entries whose tier or model moved.
func (s Summary) ChangedClients() []ClientChange {
	var out []ClientChange
	for _, c := range s.Clients {
		if c.Changed {
			out = append(out, c)
		}
	}
	return out
}

// Coordinator re-scores and re-assigns every ACTIVE client.
type Coordinator struct {
	reg      *Registry
	assignor *Assignor
	now      func() time.Time

	// serializes passes; dispatch never takes it
	mu sync.Mutex
}

func NewCoordinator(reg *Registry, assignor *Assignor) *Coordinator {
	return &Coordinator{reg: reg, assignor: assignor, now: reg.now}
}

// Reassign runs one pass. Each client is committed individually so the
// registry lock is never held for more than one record update. A client that
// left ACTIVE during the pass is skipped.
func (c *Coordinator) Reassign(reason Reason) Summary {
	c.mu.Lock()
	defer c.mu.Unlock()

	sum := Summary{TriggeredAt: c.now(), Reason: reason, Clients: []ClientChange{}}
	for _, rec := range c.reg.All() {
		if rec.State != StateActive {
			continue
		}
		next := c.assignor.Evaluate(rec.Capability)
		prev, ok := c.reg.commit(rec.ID, next)
		if !ok {
			continue
		}
		changed := prev.Tier != next.Tier || prev.Model != next.Model
		sum.Clients = append(sum.Clients, ClientChange{
			ClientID: rec.ID,
			Before:   prev,
			After:    next,
			Changed:  changed,
		})
		sum.Evaluated++
		if changed {
			sum.Changed++
			logx.Log.Info().Str("client_id", rec.ID).
				Str("from_tier", string(prev.Tier)).Str("to_tier", string(next.Tier)).
				Str("from_model", prev.Model).Str("to_model", next.Model).
				Msg("reassigned")
		}
	}
	logx.Log.Info().Str("reason", string(reason)).Int("evaluated", sum.Evaluated).Int("changed", sum.Changed).Msg("reassignment pass")
	return sum
}

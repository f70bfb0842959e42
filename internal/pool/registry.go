package pool

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kabir325/fogpool/internal/logx"
)

// State is the liveness state of a client record.
type State string

const (
	StateActive       State = "ACTIVE"
	StateStale        State = "STALE"
	StateDisconnected State = "DISCONNECTED"
)

var (
	ErrDuplicateClient = errors.New("duplicate client")
	ErrUnknownClient   = errors.New("unknown client")
)

// ClientRecord is one connected client. Records handed out by the Registry
// are copies; mutating them has no effect on the registry.
type ClientRecord struct {
	ID              string     `json:"id"`
	Hostname        string     `json:"hostname,omitempty"`
	Capability      Capability `json:"capability"`
	Score           float64    `json:"score"`
	Tier            Tier       `json:"tier"`
	AssignedModel   string     `json:"assigned_model"`
	State           State      `json:"state"`
	RegisteredAt    time.Time  `json:"registered_at"`
	LastHeartbeatAt time.Time  `json:"last_heartbeat_at"`
	// DisconnectedAt is set when the record leaves dispatch eligibility
	// through deregistration.
	DisconnectedAt time.Time `json:"disconnected_at,omitzero"`
}

// Assignment returns the record's current scoring state.
func (r ClientRecord) Assignment() Assignment {
	return Assignment{Score: r.Score, Tier: r.Tier, Model: r.AssignedModel}
}

// Registry is the authoritative store of client records. Reads take the
// shared lock; registration, heartbeat and assignment commits take the
// exclusive lock for the duration of a single record update.
type Registry struct {
	mu       sync.RWMutex
	clients  map[string]*ClientRecord
	order    []string
	assignor *Assignor
	now      func() time.Time
	newID    func(hostname string) string
}

// RegistryOption customizes a Registry.
type RegistryOption func(*Registry)

// WithClock overrides the time source.
func WithClock(now func() time.Time) RegistryOption {
	return func(r *Registry) { r.now = now }
}

// WithIDGenerator overrides client id generation.
func WithIDGenerator(gen func(hostname string) string) RegistryOption {
	return func(r *Registry) { r.newID = gen }
}

func NewRegistry(assignor *Assignor, opts ...RegistryOption) *Registry {
	r := &Registry{
		clients:  make(map[string]*ClientRecord),
		assignor: assignor,
		now:      time.Now,
		newID:    GenerateClientID,
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// GenerateClientID derives an id from the host identity plus a random suffix.
func GenerateClientID(hostname string) string {
	host := sanitizeHost(hostname)
	if host == "" {
		host, _ = os.Hostname()
		host = sanitizeHost(host)
	}
	if host == "" {
		host = "client"
	}
	return host + "-" + uuid.NewString()[:8]
}

func sanitizeHost(h string) string {
	h = strings.ToLower(strings.TrimSpace(h))
	var b strings.Builder
	for _, r := range h {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '-':
			b.WriteRune(r)
		case r == '.', r == '_', r == ' ':
			b.WriteRune('-')
		}
	}
	s := strings.Trim(b.String(), "-")
	if len(s) > 32 {
		s = s[:32]
	}
	return s
}

// Register scores the capability, assigns a model and stores an ACTIVE record.
func (r *Registry) Register(hostname string, c Capability) (ClientRecord, error) {
	id := r.newID(hostname)
	a := r.assignor.Evaluate(c)
	now := r.now()
	rec := &ClientRecord{
		ID:              id,
		Hostname:        hostname,
		Capability:      c,
		Score:           a.Score,
		Tier:            a.Tier,
		AssignedModel:   a.Model,
		State:           StateActive,
		RegisteredAt:    now,
		LastHeartbeatAt: now,
	}
	r.mu.Lock()
	if _, exists := r.clients[id]; exists {
		r.mu.Unlock()
		return ClientRecord{}, fmt.Errorf("%w: %s", ErrDuplicateClient, id)
	}
	r.clients[id] = rec
	r.order = append(r.order, id)
	out := *rec
	r.mu.Unlock()
	logx.Log.Info().Str("client_id", id).Float64("score", a.Score).Str("tier", string(a.Tier)).Str("model", a.Model).Msg("registered")
	return out, nil
}

// Heartbeat refreshes liveness and, when c is non-nil, the capability report.
// The score is not recomputed here; the next reassignment pass picks it up.
func (r *Registry) Heartbeat(id string, c *Capability) (ClientRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.clients[id]
	if !ok || rec.State == StateDisconnected {
		return ClientRecord{}, fmt.Errorf("%w: %s", ErrUnknownClient, id)
	}
	rec.LastHeartbeatAt = r.now()
	if rec.State == StateStale {
		rec.State = StateActive
		logx.Log.Info().Str("client_id", id).Msg("client active again")
	}
	if c != nil {
		rec.Capability = *c
	}
	return *rec, nil
}

// Deregister marks a client DISCONNECTED. Unknown ids are ignored.
func (r *Registry) Deregister(id string) {
	r.mu.Lock()
	rec, ok := r.clients[id]
	if ok && rec.State != StateDisconnected {
		rec.State = StateDisconnected
		rec.DisconnectedAt = r.now()
	} else {
		ok = false
	}
	r.mu.Unlock()
	if ok {
		logx.Log.Info().Str("client_id", id).Msg("deregistered")
	}
}

// Get returns a copy of one record.
func (r *Registry) Get(id string) (ClientRecord, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.clients[id]
	if !ok {
		return ClientRecord{}, false
	}
	return *rec, true
}

// SnapshotActive returns copies of all ACTIVE records in registration order.
func (r *Registry) SnapshotActive() []ClientRecord {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]ClientRecord, 0, len(r.order))
	for _, id := range r.order {
		if rec := r.clients[id]; rec.State == StateActive {
			out = append(out, *rec)
		}
	}
	return out
}

// All returns copies of every record in registration order.
func (r *Registry) All() []ClientRecord {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]ClientRecord, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, *r.clients[id])
	}
	return out
}

// MarkStaleIfSilent moves ACTIVE clients whose last heartbeat is older than
// threshold to STALE and returns their ids.
func (r *Registry) MarkStaleIfSilent(now time.Time, threshold time.Duration) []string {
	r.mu.Lock()
	var stale []string
	for _, id := range r.order {
		rec := r.clients[id]
		if rec.State == StateActive && now.Sub(rec.LastHeartbeatAt) > threshold {
			rec.State = StateStale
			stale = append(stale, id)
		}
	}
	r.mu.Unlock()
	for _, id := range stale {
		logx.Log.Warn().Str("client_id", id).Dur("threshold", threshold).Msg("client stale")
	}
	return stale
}

// Purge removes DISCONNECTED records and, when staleFor is positive, STALE
// records silent for longer than staleFor. It returns the removed ids.
func (r *Registry) Purge(now time.Time, staleFor time.Duration) []string {
	r.mu.Lock()
	var removed []string
	kept := r.order[:0]
	for _, id := range r.order {
		rec := r.clients[id]
		drop := rec.State == StateDisconnected ||
			(staleFor > 0 && rec.State == StateStale && now.Sub(rec.LastHeartbeatAt) > staleFor)
		if drop {
			delete(r.clients, id)
			removed = append(removed, id)
			continue
		}
		kept = append(kept, id)
	}
	r.order = kept
	r.mu.Unlock()
	for _, id := range removed {
		logx.Log.Info().Str("client_id", id).Msg("purged")
	}
	return removed
}

// commit stores a new assignment for an ACTIVE client and returns the one it
// replaced. It reports false when the client is gone or no longer ACTIVE.
func (r *Registry) commit(id string, a Assignment) (Assignment, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.clients[id]
	if !ok || rec.State != StateActive {
		return Assignment{}, false
	}
	prev := rec.Assignment()
	rec.Score, rec.Tier, rec.AssignedModel = a.Score, a.Tier, a.Model
	return prev, true
}

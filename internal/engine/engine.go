// Package engine is the coordinator's public contract. The HTTP facade, the
// MCP tools, the operator console and the client websocket all drive the
// pool through it.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/kabir325/fogpool/internal/chat"
	"github.com/kabir325/fogpool/internal/dispatch"
	"github.com/kabir325/fogpool/internal/logx"
	"github.com/kabir325/fogpool/internal/metrics"
	"github.com/kabir325/fogpool/internal/pool"
	"github.com/kabir325/fogpool/internal/rag"
	"github.com/kabir325/fogpool/internal/serverstate"
)

// ErrBadRequest marks malformed facade input.
var ErrBadRequest = errors.New("bad request")

// Notifier receives assignment changes made by reassignment passes.
type Notifier interface {
	NotifyAssignment(clientID string, a pool.Assignment) bool
}

// Options tunes the engine. Zero values select defaults.
type Options struct {
	PerCallTimeout      time.Duration
	GlobalTimeout       time.Duration
	Policy              dispatch.Policy
	RAGTopK             int
	ChatContextMessages int

	HeartbeatInterval time.Duration
	StaleAfter        time.Duration
	PurgeAfter        time.Duration
	ReassignInterval  time.Duration
	ReassignOnChurn   bool
}

// Deps are the collaborators of an Engine. Registry, Assignor and Inferer are
// required; the rest are optional.
type Deps struct {
	Registry *pool.Registry
	Assignor *pool.Assignor
	Inferer  dispatch.Inferer
	RAG      *rag.Store
	Chat     chat.Store
	State    *serverstate.Tracker
	Notifier Notifier
}

type Engine struct {
	reg      *pool.Registry
	assignor *pool.Assignor
	coord    *pool.Coordinator
	disp     *dispatch.Dispatcher
	rag      *rag.Store
	chat     chat.Store
	state    *serverstate.Tracker
	notifier Notifier
	opts     Options
	churn    chan struct{}
	now      func() time.Time

	// gaugeMu orders refreshGauges calls so the last published count is
	// read after every earlier registry change.
	gaugeMu sync.Mutex
}

func New(d Deps, opts Options) *Engine {
	if opts.RAGTopK <= 0 {
		opts.RAGTopK = 3
	}
	if opts.ChatContextMessages <= 0 {
		opts.ChatContextMessages = 5
	}
	if opts.HeartbeatInterval <= 0 {
		opts.HeartbeatInterval = 10 * time.Second
	}
	if opts.StaleAfter <= 0 {
		opts.StaleAfter = 3 * opts.HeartbeatInterval
	}
	if d.State == nil {
		d.State = serverstate.NewTracker(nil)
	}
	disp := dispatch.New(d.Registry, d.Inferer, dispatch.Options{
		PerCallTimeout: opts.PerCallTimeout,
		GlobalTimeout:  opts.GlobalTimeout,
		Policy:         opts.Policy,
	})
	opts.Policy = disp.Policy()
	return &Engine{
		reg:      d.Registry,
		assignor: d.Assignor,
		coord:    pool.NewCoordinator(d.Registry, d.Assignor),
		disp:     disp,
		rag:      d.RAG,
		chat:     d.Chat,
		state:    d.State,
		notifier: d.Notifier,
		opts:     opts,
		churn:    make(chan struct{}, 1),
		now:      time.Now,
	}
}

// RAG returns the document store, or nil when retrieval is disabled.
func (e *Engine) RAG() *rag.Store { return e.rag }

// Chat returns the session store, or nil when chat history is disabled.
func (e *Engine) Chat() chat.Store { return e.chat }

// State returns the server status tracker.
func (e *Engine) State() *serverstate.Tracker { return e.state }

// RegisterClient scores and stores a new client. Registrations are refused
// while the server drains.
func (e *Engine) RegisterClient(_ context.Context, hostname string, c pool.Capability) (pool.ClientRecord, error) {
	if e.state.IsDraining() {
		return pool.ClientRecord{}, serverstate.ErrDraining
	}
	rec, err := e.reg.Register(hostname, c)
	if err != nil {
		return pool.ClientRecord{}, err
	}
	e.refreshGauges()
	e.signalChurn()
	return rec, nil
}

// Heartbeat refreshes a client's liveness and optionally its capability.
func (e *Engine) Heartbeat(_ context.Context, clientID string, c *pool.Capability) error {
	rec, err := e.reg.Heartbeat(clientID, c)
	if err != nil {
		return err
	}
	logx.Log.Debug().Str("client_id", rec.ID).Msg("heartbeat")
	e.refreshGauges()
	return nil
}

// Deregister removes a client from dispatch. Unknown ids are ignored.
func (e *Engine) Deregister(_ context.Context, clientID string) {
	e.reg.Deregister(clientID)
	e.refreshGauges()
}

// Clients returns every client record in registration order.
func (e *Engine) Clients(_ context.Context) []pool.ClientRecord {
	return e.reg.All()
}

// Client returns one client record.
func (e *Engine) Client(_ context.Context, id string) (pool.ClientRecord, error) {
	rec, ok := e.reg.Get(id)
	if !ok {
		return pool.ClientRecord{}, fmt.Errorf("%w: %s", pool.ErrUnknownClient, id)
	}
	return rec, nil
}

// QueryRequest is a facade-level query.
type QueryRequest struct {
	Prompt    string `json:"prompt"`
	Context   string `json:"context,omitempty"`
	UseRAG    bool   `json:"use_rag,omitempty"`
	SessionID string `json:"session_id,omitempty"`
	Policy    string `json:"policy,omitempty"`
}

// QueryResult is the aggregate plus what was injected around it.
type QueryResult struct {
	dispatch.AggregateResult
	SessionID   string   `json:"session_id,omitempty"`
	ContextUsed []string `json:"context_used,omitempty"`
}

// SubmitQuery injects retrieval and chat context, fans the prompt out and
// records the exchange in the chat session. A request without a session id
// starts a new session when chat history is enabled.
func (e *Engine) SubmitQuery(ctx context.Context, req QueryRequest) (QueryResult, error) {
	if strings.TrimSpace(req.Prompt) == "" {
		return QueryResult{}, dispatch.ErrEmptyPrompt
	}
	policy := e.opts.Policy
	if req.Policy != "" {
		p, err := dispatch.ParsePolicy(req.Policy)
		if err != nil {
			return QueryResult{}, fmt.Errorf("%w: %v", ErrBadRequest, err)
		}
		policy = p
	}

	var blocks, used []string
	if c := strings.TrimSpace(req.Context); c != "" {
		blocks = append(blocks, c)
		used = append(used, "caller context")
	}
	if req.SessionID != "" && e.chat != nil {
		b, err := chat.ContextBlock(ctx, e.chat, req.SessionID, e.opts.ChatContextMessages)
		if err != nil {
			return QueryResult{}, err
		}
		if b != "" {
			blocks = append(blocks, b)
			used = append(used, "Chat history added")
		}
	}

	if req.UseRAG && e.rag != nil {
		if b := e.rag.ContextBlock(req.Prompt, e.opts.RAGTopK); b != "" {
			blocks = append(blocks, b)
			used = append(used, "RAG context added")
		}
	}

	res, err := e.disp.Dispatch(ctx, dispatch.Query{
		Prompt:  req.Prompt,
		Context: strings.Join(blocks, "\n\n"),
	})
	if err != nil {
		return QueryResult{}, err
	}
	if policy != res.Policy {
		res = dispatch.Aggregate(res.QueryID, res.Outcomes, policy)
	}
	out := QueryResult{AggregateResult: res, SessionID: req.SessionID, ContextUsed: used}
	if e.chat != nil {
		out.SessionID = e.recordExchange(context.WithoutCancel(ctx), req, res)
	}
	return out, nil
}

// recordExchange appends the turn to the session and returns its id. Store
// failures are logged; the answer is still returned to the caller.
func (e *Engine) recordExchange(ctx context.Context, req QueryRequest, res dispatch.AggregateResult) string {
	id := req.SessionID
	if id == "" {
		s, err := e.chat.Create(ctx, chat.TitleFromPrompt(req.Prompt))
		if err != nil {
			logx.Log.Error().Err(err).Msg("create chat session")
			return ""
		}
		id = s.ID
	}
	if _, err := e.chat.AddMessage(ctx, id, chat.RoleUser, req.Prompt); err != nil {
		logx.Log.Error().Err(err).Str("session_id", id).Msg("record user message")
		return id
	}
	answer := res.CombinedAnswer
	if res.SuccessCount == 0 {
		answer = "No client produced an answer."
	}
	if _, err := e.chat.AddMessage(ctx, id, chat.RoleAssistant, answer); err != nil {
		logx.Log.Error().Err(err).Str("session_id", id).Msg("record assistant message")
	}
	return id
}

// TriggerReassignment re-scores every active client and pushes changed
// assignments to their connections.
func (e *Engine) TriggerReassignment(_ context.Context, reason pool.Reason) pool.Summary {
	if reason == "" {
		reason = pool.ReasonManual
	}
	sum := e.coord.Reassign(reason)
	metrics.RecordReassignment(string(reason), sum.Changed)
	if e.notifier != nil {
		for _, ch := range sum.ChangedClients() {
			e.notifier.NotifyAssignment(ch.ClientID, ch.After)
		}
	}
	e.refreshGauges()
	return sum
}

// Stats is the status view of the pool.
type Stats struct {
	TotalClients    int                    `json:"total_clients"`
	ActiveClients   int                    `json:"active_clients"`
	AvailableModels []string               `json:"available_models"`
	Healthy         bool                   `json:"healthy"`
	Message         string                 `json:"message"`
	Tiers           map[pool.Tier]int      `json:"tiers"`
	TierPools       map[pool.Tier][]string `json:"tier_pools"`
	States          map[pool.State]int     `json:"states"`
	Status          string                 `json:"status"`
}

// GetStats derives the pool status. Healthy means at least one client is
// active.
func (e *Engine) GetStats(_ context.Context) Stats {
	all := e.reg.All()
	st := Stats{
		TotalClients:    len(all),
		AvailableModels: []string{},
		Tiers:           map[pool.Tier]int{},
		States:          map[pool.State]int{},
		TierPools:       make(map[pool.Tier][]string, len(pool.Tiers)),
	}
	for _, t := range pool.Tiers {
		st.TierPools[t] = e.assignor.Pool(t)
	}
	models := map[string]bool{}
	for _, r := range all {
		st.States[r.State]++
		if r.State != pool.StateActive {
			continue
		}
		st.ActiveClients++
		st.Tiers[r.Tier]++
		if !models[r.AssignedModel] {
			models[r.AssignedModel] = true
			st.AvailableModels = append(st.AvailableModels, r.AssignedModel)
		}
	}
	sort.Strings(st.AvailableModels)
	st.Healthy = st.ActiveClients > 0
	st.Message = statusMessage(st)
	st.Status = e.state.Status()
	return st
}

func statusMessage(st Stats) string {
	if st.ActiveClients == 0 {
		if st.TotalClients == 0 {
			return "No clients connected"
		}
		return fmt.Sprintf("%d clients, none active", st.TotalClients)
	}
	return fmt.Sprintf("%d clients, %d active, %d models in use", st.TotalClients, st.ActiveClients, len(st.AvailableModels))
}

// Drain stops accepting new clients.
func (e *Engine) Drain() {
	e.state.StartDrain()
	logx.Log.Info().Msg("draining; new registrations refused")
}

func (e *Engine) signalChurn() {
	if !e.opts.ReassignOnChurn {
		return
	}
	select {
	case e.churn <- struct{}{}:
	default:
	}
}

func (e *Engine) refreshGauges() {
	e.gaugeMu.Lock()
	defer e.gaugeMu.Unlock()
	byState := map[string]int{}
	byTier := map[string]int{}
	active := 0
	for _, r := range e.reg.All() {
		byState[string(r.State)]++
		if r.State == pool.StateActive {
			active++
			byTier[string(r.Tier)]++
		}
	}
	metrics.SetClientCounts(byState, byTier)
	e.state.Observe(active)
}

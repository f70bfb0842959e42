package engine

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/kabir325/fogpool/internal/chat"
	"github.com/kabir325/fogpool/internal/dispatch"
	"github.com/kabir325/fogpool/internal/pool"
	"github.com/kabir325/fogpool/internal/rag"
	"github.com/kabir325/fogpool/internal/serverstate"
)

var (
	smallBox = pool.Capability{CPUCores: 4, RAMGB: 8}
	bigBox   = pool.Capability{CPUCores: 16, RAMGB: 64, HasGPU: true, GPUVRAMGB: 24, GPUName: "RTX 4090"}
)

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

type recordingInferer struct {
	mu   sync.Mutex
	reqs []dispatch.Request
	fn   func(pool.ClientRecord, dispatch.Request) (dispatch.Response, error)
}

func (r *recordingInferer) Infer(_ context.Context, c pool.ClientRecord, req dispatch.Request) (dispatch.Response, error) {
	r.mu.Lock()
	r.reqs = append(r.reqs, req)
	r.mu.Unlock()
	if r.fn != nil {
		return r.fn(c, req)
	}
	return dispatch.Response{Text: "answer from " + c.ID}, nil
}

func (r *recordingInferer) last() dispatch.Request {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.reqs[len(r.reqs)-1]
}

type notifications struct {
	mu  sync.Mutex
	got map[string]pool.Assignment
}

func (n *notifications) NotifyAssignment(id string, a pool.Assignment) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.got == nil {
		n.got = map[string]pool.Assignment{}
	}
	n.got[id] = a
	return true
}

type fixture struct {
	eng   *Engine
	reg   *pool.Registry
	inf   *recordingInferer
	note  *notifications
	clock *clock
}

func newFixture(t *testing.T, opts Options) *fixture {
	t.Helper()
	a, err := pool.NewAssignor(pool.DefaultScorer(), pool.AssignorOptions{})
	if err != nil {
		t.Fatal(err)
	}
	clk := &clock{t: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)}
	reg := pool.NewRegistry(a, pool.WithClock(clk.Now))
	f := &fixture{reg: reg, inf: &recordingInferer{}, note: &notifications{}, clock: clk}
	f.eng = New(Deps{
		Registry: reg,
		Assignor: a,
		Inferer:  f.inf,
		RAG:      rag.NewStore(),
		Chat:     chat.NewMemoryStore(),
		Notifier: f.note,
	}, opts)
	f.eng.now = clk.Now
	return f
}

func TestSubmitQueryNoClients(t *testing.T) {
	f := newFixture(t, Options{})
	_, err := f.eng.SubmitQuery(context.Background(), QueryRequest{Prompt: "hello"})
	if !errors.Is(err, dispatch.ErrNoClientsAvailable) {
		t.Fatalf("expected ErrNoClientsAvailable, got %v", err)
	}
	stats, _ := f.eng.Chat().Stats(context.Background())
	if stats.TotalSessions != 0 {
		t.Fatalf("failed query must not open a session, got %d", stats.TotalSessions)
	}
}

func TestSubmitQueryRecordsSession(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()
	rec, err := f.eng.RegisterClient(ctx, "laptop", smallBox)
	if err != nil {
		t.Fatal(err)
	}

	res, err := f.eng.SubmitQuery(ctx, QueryRequest{Prompt: "What is fog computing?"})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if res.SessionID == "" {
		t.Fatalf("expected a new session id")
	}
	if res.SuccessCount != 1 || !strings.Contains(res.CombinedAnswer, "answer from "+rec.ID) {
		t.Fatalf("unexpected result: %+v", res.AggregateResult)
	}

	sess, err := f.eng.Chat().Get(ctx, res.SessionID)
	if err != nil {
		t.Fatal(err)
	}
	if sess.Title != "What is fog computing?" {
		t.Fatalf("title: %q", sess.Title)
	}
	if len(sess.Messages) != 2 || sess.Messages[0].Role != chat.RoleUser || sess.Messages[1].Role != chat.RoleAssistant {
		t.Fatalf("messages: %+v", sess.Messages)
	}

	res2, err := f.eng.SubmitQuery(ctx, QueryRequest{Prompt: "And edge computing?", SessionID: res.SessionID})
	if err != nil {
		t.Fatal(err)
	}
	if res2.SessionID != res.SessionID {
		t.Fatalf("session changed: %q", res2.SessionID)
	}
	got := f.inf.last().Context
	if !strings.HasPrefix(got, "Previous conversation:") || !strings.Contains(got, "User: What is fog computing?") {
		t.Fatalf("chat context not injected: %q", got)
	}
	if len(res2.ContextUsed) != 1 || res2.ContextUsed[0] != "Chat history added" {
		t.Fatalf("context used: %v", res2.ContextUsed)
	}
}

func TestSubmitQueryUnknownSession(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()
	if _, err := f.eng.RegisterClient(ctx, "a", smallBox); err != nil {
		t.Fatal(err)
	}
	_, err := f.eng.SubmitQuery(ctx, QueryRequest{Prompt: "hi", SessionID: "nope"})
	if !errors.Is(err, chat.ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound, got %v", err)
	}
}

func TestSubmitQueryInjectsRAGAndCallerContext(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()
	if _, err := f.eng.RegisterClient(ctx, "a", smallBox); err != nil {
		t.Fatal(err)
	}
	if _, err := f.eng.RAG().Add("Fog", "fog nodes sit between devices and the cloud", nil); err != nil {
		t.Fatal(err)
	}
	res, err := f.eng.SubmitQuery(ctx, QueryRequest{Prompt: "fog nodes", Context: "be brief", UseRAG: true})
	if err != nil {
		t.Fatal(err)
	}
	got := f.inf.last().Context
	if !strings.HasPrefix(got, "be brief\n\n") {
		t.Fatalf("caller context must lead: %q", got)
	}
	if !strings.Contains(got, "[Document 1: Fog]") || !strings.HasSuffix(got, "please answer: ") {
		t.Fatalf("rag block missing: %q", got)
	}
	if len(res.ContextUsed) != 2 {
		t.Fatalf("context used: %v", res.ContextUsed)
	}
}

func TestSubmitQueryPolicyOverride(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()
	for _, h := range []string{"a", "b"} {
		if _, err := f.eng.RegisterClient(ctx, h, smallBox); err != nil {
			t.Fatal(err)
		}
	}
	res, err := f.eng.SubmitQuery(ctx, QueryRequest{Prompt: "hi", Policy: "first-success"})
	if err != nil {
		t.Fatal(err)
	}
	if res.Policy != dispatch.PolicyFirstSuccess || strings.Contains(res.CombinedAnswer, "\n\n") {
		t.Fatalf("override not applied: %+v", res.AggregateResult)
	}
	if _, err := f.eng.SubmitQuery(ctx, QueryRequest{Prompt: "hi", Policy: "loudest"}); !errors.Is(err, ErrBadRequest) {
		t.Fatalf("expected ErrBadRequest, got %v", err)
	}
}

func TestRegisterRefusedWhileDraining(t *testing.T) {
	f := newFixture(t, Options{})
	f.eng.Drain()
	if _, err := f.eng.RegisterClient(context.Background(), "a", smallBox); !errors.Is(err, serverstate.ErrDraining) {
		t.Fatalf("expected ErrDraining, got %v", err)
	}
	if f.eng.State().Status() != serverstate.StatusDraining {
		t.Fatalf("status: %s", f.eng.State().Status())
	}
}

func TestGetStats(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()
	st := f.eng.GetStats(ctx)
	if st.Healthy || st.TotalClients != 0 || st.Message != "No clients connected" || len(st.AvailableModels) != 0 {
		t.Fatalf("empty stats: %+v", st)
	}
	for _, tier := range pool.Tiers {
		if len(st.TierPools[tier]) == 0 {
			t.Fatalf("tier %s has no pool in stats: %v", tier, st.TierPools)
		}
	}

	a, _ := f.eng.RegisterClient(ctx, "a", smallBox)
	b, _ := f.eng.RegisterClient(ctx, "b", bigBox)
	if _, err := f.eng.RegisterClient(ctx, "c", smallBox); err != nil {
		t.Fatal(err)
	}
	f.eng.Deregister(ctx, "missing")
	st = f.eng.GetStats(ctx)
	if !st.Healthy || st.TotalClients != 3 || st.ActiveClients != 3 {
		t.Fatalf("stats: %+v", st)
	}
	if len(st.AvailableModels) != 2 || st.AvailableModels[0] > st.AvailableModels[1] {
		t.Fatalf("models must be a sorted set: %v", st.AvailableModels)
	}
	if st.Tiers[pool.TierSmall] != 2 || st.Tiers[pool.TierLarge] != 1 {
		t.Fatalf("tiers: %v", st.Tiers)
	}
	if st.Message != "3 clients, 3 active, 2 models in use" {
		t.Fatalf("message: %q", st.Message)
	}
	if st.Status != serverstate.StatusReady {
		t.Fatalf("status: %s", st.Status)
	}

	f.eng.Deregister(ctx, a.ID)
	f.eng.Deregister(ctx, b.ID)
	st = f.eng.GetStats(ctx)
	if st.ActiveClients != 1 || st.States[pool.StateDisconnected] != 2 {
		t.Fatalf("after deregister: %+v", st)
	}
}

func TestTriggerReassignmentNotifiesChanged(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()
	up, _ := f.eng.RegisterClient(ctx, "grows", smallBox)
	same, _ := f.eng.RegisterClient(ctx, "steady", smallBox)
	if err := f.eng.Heartbeat(ctx, up.ID, &bigBox); err != nil {
		t.Fatal(err)
	}

	sum := f.eng.TriggerReassignment(ctx, "")
	if sum.Reason != pool.ReasonManual || sum.Evaluated != 2 || sum.Changed != 1 {
		t.Fatalf("summary: %+v", sum)
	}
	f.note.mu.Lock()
	defer f.note.mu.Unlock()
	if len(f.note.got) != 1 {
		t.Fatalf("notified: %v", f.note.got)
	}
	if a, ok := f.note.got[up.ID]; !ok || a.Tier != pool.TierLarge {
		t.Fatalf("assignment for %s: %+v", up.ID, a)
	}
	if _, ok := f.note.got[same.ID]; ok {
		t.Fatalf("unchanged client notified")
	}
}

func TestHeartbeatUnknownClient(t *testing.T) {
	f := newFixture(t, Options{})
	if err := f.eng.Heartbeat(context.Background(), "ghost", nil); !errors.Is(err, pool.ErrUnknownClient) {
		t.Fatalf("expected ErrUnknownClient, got %v", err)
	}
}

func TestSweepMarksStaleAndPurges(t *testing.T) {
	f := newFixture(t, Options{
		HeartbeatInterval: time.Second,
		StaleAfter:        3 * time.Second,
		PurgeAfter:        10 * time.Second,
		ReassignOnChurn:   true,
	})
	ctx := context.Background()
	quiet, _ := f.eng.RegisterClient(ctx, "quiet", smallBox)
	chatty, _ := f.eng.RegisterClient(ctx, "chatty", smallBox)
	gone, _ := f.eng.RegisterClient(ctx, "gone", smallBox)
	f.eng.Deregister(ctx, gone.ID)
	<-f.eng.churn

	f.clock.Advance(4 * time.Second)
	if err := f.eng.Heartbeat(ctx, chatty.ID, nil); err != nil {
		t.Fatal(err)
	}
	f.eng.Sweep()

	if rec, _ := f.reg.Get(quiet.ID); rec.State != pool.StateStale {
		t.Fatalf("quiet client: %s", rec.State)
	}
	if rec, _ := f.reg.Get(chatty.ID); rec.State != pool.StateActive {
		t.Fatalf("chatty client: %s", rec.State)
	}
	if _, ok := f.reg.Get(gone.ID); ok {
		t.Fatalf("disconnected client must be purged")
	}
	select {
	case <-f.eng.churn:
	default:
		t.Fatalf("stale transition must signal churn")
	}

	f.clock.Advance(11 * time.Second)
	if err := f.eng.Heartbeat(ctx, chatty.ID, nil); err != nil {
		t.Fatal(err)
	}
	f.eng.Sweep()
	if _, ok := f.reg.Get(quiet.ID); ok {
		t.Fatalf("long-stale client must be purged")
	}
}

func TestRunReassignsOnChurn(t *testing.T) {
	f := newFixture(t, Options{HeartbeatInterval: time.Hour, ReassignOnChurn: true})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		f.eng.Run(ctx)
		close(done)
	}()

	rec, _ := f.eng.RegisterClient(ctx, "a", smallBox)
	if err := f.eng.Heartbeat(ctx, rec.ID, &bigBox); err != nil {
		t.Fatal(err)
	}
	// the registration already queued one churn pass; a second registration
	// guarantees a pass that sees the upgraded capability
	if _, err := f.eng.RegisterClient(ctx, "b", smallBox); err != nil {
		t.Fatal(err)
	}

	deadline := time.After(2 * time.Second)
	for {
		f.note.mu.Lock()
		a, ok := f.note.got[rec.ID]
		f.note.mu.Unlock()
		if ok && a.Tier == pool.TierLarge {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("churn reassignment did not run")
		case <-time.After(10 * time.Millisecond):
		}
	}
	cancel()
	<-done
}

func TestServerStateFollowsConcurrentChurn(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			rec, err := f.eng.RegisterClient(ctx, "edge", smallBox)
			if err != nil {
				t.Error(err)
				return
			}
			if i%2 == 0 {
				f.eng.Deregister(ctx, rec.ID)
			}
		}(i)
	}
	wg.Wait()
	if got := f.eng.State().State().ActiveClients; got != 25 {
		t.Fatalf("server state reports %d active clients, want 25", got)
	}
	if n := len(f.reg.SnapshotActive()); n != 25 {
		t.Fatalf("registry has %d active clients", n)
	}
}

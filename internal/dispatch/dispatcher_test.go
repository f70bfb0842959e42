package dispatch

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/kabir325/fogpool/internal/pool"
)

type staticClients []pool.ClientRecord

func (s staticClients) SnapshotActive() []pool.ClientRecord {
	return append([]pool.ClientRecord(nil), s...)
}

func clients(ids ...string) staticClients {
	out := make(staticClients, len(ids))
	for i, id := range ids {
		out[i] = pool.ClientRecord{ID: id, AssignedModel: "m-" + id, State: pool.StateActive}
	}
	return out
}

type behavior func(ctx context.Context) (Response, error)

func answer(text string, delay time.Duration) behavior {
	return func(ctx context.Context) (Response, error) {
		select {
		case <-time.After(delay):
			return Response{Text: text}, nil
		case <-ctx.Done():
			return Response{}, ctx.Err()
		}
	}
}

// hang ignores its context entirely.
func hang(release <-chan struct{}) behavior {
	return func(context.Context) (Response, error) {
		<-release
		return Response{Text: "late"}, nil
	}
}

func fail(msg string) behavior {
	return func(context.Context) (Response, error) { return Response{}, errors.New(msg) }
}

func byClient(m map[string]behavior) Inferer {
	return InfererFunc(func(ctx context.Context, c pool.ClientRecord, req Request) (Response, error) {
		if req.Model != c.AssignedModel {
			return Response{}, fmt.Errorf("model %q not forwarded", c.AssignedModel)
		}
		return m[c.ID](ctx)
	})
}

func TestDispatchNoClients(t *testing.T) {
	d := New(staticClients{}, byClient(nil), Options{})
	_, err := d.Dispatch(context.Background(), Query{Prompt: "hi"})
	if !errors.Is(err, ErrNoClientsAvailable) {
		t.Fatalf("expected ErrNoClientsAvailable, got %v", err)
	}
}

func TestDispatchEmptyPrompt(t *testing.T) {
	d := New(clients("a"), byClient(nil), Options{})
	if _, err := d.Dispatch(context.Background(), Query{Prompt: "  "}); !errors.Is(err, ErrEmptyPrompt) {
		t.Fatalf("expected ErrEmptyPrompt, got %v", err)
	}
}

func TestDispatchPreservesSnapshotOrder(t *testing.T) {
	ids := []string{"a", "b", "c", "d", "e"}
	m := map[string]behavior{}
	for i, id := range ids {
		// later clients answer first
		m[id] = answer("from "+id, time.Duration(len(ids)-i)*10*time.Millisecond)
	}
	d := New(clients(ids...), byClient(m), Options{PerCallTimeout: time.Second, GlobalTimeout: 2 * time.Second})
	res, err := d.Dispatch(context.Background(), Query{Prompt: "hi"})
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Outcomes) != len(ids) || res.ParticipatingCount != len(ids) {
		t.Fatalf("expected %d outcomes, got %d", len(ids), len(res.Outcomes))
	}
	for i, o := range res.Outcomes {
		if o.ClientID != ids[i] || o.Status != StatusSuccess || o.ResponseText != "from "+ids[i] {
			t.Fatalf("outcome %d: %+v", i, o)
		}
	}
	if res.QueryID == "" {
		t.Fatalf("query id not assigned")
	}
}

func TestDispatchPartialTimeout(t *testing.T) {
	release := make(chan struct{})
	defer close(release)
	m := map[string]behavior{
		"a": answer("alpha", 5*time.Millisecond),
		"b": hang(release),
		"c": answer("gamma", 10*time.Millisecond),
	}
	d := New(clients("a", "b", "c"), byClient(m), Options{
		PerCallTimeout: 50 * time.Millisecond,
		GlobalTimeout:  time.Second,
	})
	start := time.Now()
	res, err := d.Dispatch(context.Background(), Query{Prompt: "hi"})
	if err != nil {
		t.Fatal(err)
	}
	if elapsed := time.Since(start); elapsed > 500*time.Millisecond {
		t.Fatalf("dispatch took %v", elapsed)
	}
	if res.SuccessCount != 2 {
		t.Fatalf("expected 2 successes, got %d", res.SuccessCount)
	}
	if res.Outcomes[1].Status != StatusTimeout || res.Outcomes[1].ErrorDetail != "per-call timeout" {
		t.Fatalf("expected per-call timeout for b, got %+v", res.Outcomes[1])
	}
	if !strings.Contains(res.CombinedAnswer, "alpha") || !strings.Contains(res.CombinedAnswer, "gamma") || strings.Contains(res.CombinedAnswer, "late") {
		t.Fatalf("unexpected combined answer %q", res.CombinedAnswer)
	}
}

func TestDispatchGlobalTimeout(t *testing.T) {
	release := make(chan struct{})
	defer close(release)
	m := map[string]behavior{
		"a": answer("alpha", 0),
		"b": hang(release),
	}
	global := 100 * time.Millisecond
	d := New(clients("a", "b"), byClient(m), Options{PerCallTimeout: 10 * time.Second, GlobalTimeout: global})
	start := time.Now()
	res, err := d.Dispatch(context.Background(), Query{Prompt: "hi"})
	if err != nil {
		t.Fatal(err)
	}
	if elapsed := time.Since(start); elapsed > global+200*time.Millisecond {
		t.Fatalf("dispatch exceeded global timeout: %v", elapsed)
	}
	if res.Outcomes[0].Status != StatusSuccess {
		t.Fatalf("a: %+v", res.Outcomes[0])
	}
	if res.Outcomes[1].Status != StatusTimeout {
		t.Fatalf("b: %+v", res.Outcomes[1])
	}
}

func TestDispatchCallerCancel(t *testing.T) {
	m := map[string]behavior{
		"a": answer("alpha", 0),
		"b": answer("beta", 10*time.Second),
	}
	d := New(clients("a", "b"), byClient(m), Options{PerCallTimeout: 10 * time.Second, GlobalTimeout: 20 * time.Second})
	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(50*time.Millisecond, cancel)
	res, err := d.Dispatch(ctx, Query{Prompt: "hi"})
	if err != nil {
		t.Fatalf("cancel must not be an error: %v", err)
	}
	if res.Outcomes[0].Status != StatusSuccess {
		t.Fatalf("a: %+v", res.Outcomes[0])
	}
	if res.Outcomes[1].Status != StatusSkipped || res.Outcomes[1].ErrorDetail != "query canceled" {
		t.Fatalf("b: %+v", res.Outcomes[1])
	}
}

func TestDispatchClientError(t *testing.T) {
	m := map[string]behavior{
		"a": fail("connection reset"),
		"b": fail("bad json"),
	}
	d := New(clients("a", "b"), byClient(m), Options{})
	res, err := d.Dispatch(context.Background(), Query{Prompt: "hi"})
	if err != nil {
		t.Fatal(err)
	}
	if res.SuccessCount != 0 || res.CombinedAnswer != "" || res.ParticipatingCount != 2 {
		t.Fatalf("unexpected result %+v", res)
	}
	if res.Outcomes[0].Status != StatusError || res.Outcomes[0].ErrorDetail != "connection reset" {
		t.Fatalf("a: %+v", res.Outcomes[0])
	}
}

func TestDispatchForwardsContext(t *testing.T) {
	var got Request
	inf := InfererFunc(func(_ context.Context, _ pool.ClientRecord, req Request) (Response, error) {
		got = req
		return Response{Text: "ok", Model: "override"}, nil
	})
	d := New(clients("a"), inf, Options{})
	res, err := d.Dispatch(context.Background(), Query{ID: "q1", Prompt: "p", Context: "ctx"})
	if err != nil {
		t.Fatal(err)
	}
	if got.QueryID != "q1" || got.Context != "ctx" || got.Model != "m-a" {
		t.Fatalf("request not forwarded: %+v", got)
	}
	if res.Outcomes[0].Model != "override" {
		t.Fatalf("reported model not kept: %+v", res.Outcomes[0])
	}
}

func TestDispatchBestScoreUsesClientScore(t *testing.T) {
	cs := clients("a", "b", "c")
	cs[0].Score, cs[1].Score, cs[2].Score = 30, 85, 60
	m := map[string]behavior{
		"a": answer("from a", 0),
		"b": answer("from b", 20*time.Millisecond),
		"c": answer("from c", 0),
	}
	d := New(cs, byClient(m), Options{PerCallTimeout: time.Second, GlobalTimeout: 2 * time.Second, Policy: PolicyBestScore})
	res, err := d.Dispatch(context.Background(), Query{Prompt: "hi"})
	if err != nil {
		t.Fatal(err)
	}
	if res.CombinedAnswer != "from b" || res.Policy != PolicyBestScore {
		t.Fatalf("unexpected result %+v", res)
	}
	if res.Outcomes[1].Score != 85 {
		t.Fatalf("score not carried into outcome: %+v", res.Outcomes[1])
	}
}

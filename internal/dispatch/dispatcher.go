package dispatch

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/kabir325/fogpool/internal/logx"
	"github.com/kabir325/fogpool/internal/metrics"
	"github.com/kabir325/fogpool/internal/pool"
)

const (
	DefaultPerCallTimeout = 60 * time.Second
	DefaultGlobalTimeout  = 90 * time.Second
)

// Options configures a Dispatcher.
type Options struct {
	PerCallTimeout time.Duration
	GlobalTimeout  time.Duration
	Policy         Policy
}

// Dispatcher fans a query out to every active client and aggregates the
// results. It only reads from the client source.
type Dispatcher struct {
	clients Snapshotter
	inferer Inferer
	opts    Options
	now     func() time.Time
}

func New(clients Snapshotter, inferer Inferer, opts Options) *Dispatcher {
	if opts.PerCallTimeout <= 0 {
		opts.PerCallTimeout = DefaultPerCallTimeout
	}
	if opts.GlobalTimeout <= 0 {
		opts.GlobalTimeout = DefaultGlobalTimeout
	}
	if opts.Policy == "" {
		opts.Policy = PolicyConcatenate
	}
	return &Dispatcher{clients: clients, inferer: inferer, opts: opts, now: time.Now}
}

// Policy reports the configured aggregation policy.
func (d *Dispatcher) Policy() Policy { return d.opts.Policy }

type indexed struct {
	i   int
	out ClientOutcome
}

// Dispatch runs q against a snapshot of the active clients. Only request
// faults are returned as errors. Per-client failures, the global deadline and
// caller cancellation all yield a best-effort result.
func (d *Dispatcher) Dispatch(ctx context.Context, q Query) (AggregateResult, error) {
	if strings.TrimSpace(q.Prompt) == "" {
		return AggregateResult{}, ErrEmptyPrompt
	}
	if q.ID == "" {
		q.ID = uuid.NewString()
	}
	if q.SubmittedAt.IsZero() {
		q.SubmittedAt = d.now()
	}
	if q.PerCallTimeout <= 0 {
		q.PerCallTimeout = d.opts.PerCallTimeout
	}
	if q.GlobalTimeout <= 0 {
		q.GlobalTimeout = d.opts.GlobalTimeout
	}

	snap := d.clients.SnapshotActive()
	if len(snap) == 0 {
		metrics.RecordDispatch("no_clients", 0)
		return AggregateResult{QueryID: q.ID, Policy: d.opts.Policy}, ErrNoClientsAvailable
	}

	start := d.now()
	gctx, cancel := context.WithTimeout(ctx, q.GlobalTimeout)
	defer cancel()

	results := make(chan indexed, len(snap))
	for i, c := range snap {
		go func(i int, c pool.ClientRecord) {
			results <- indexed{i: i, out: d.call(gctx, c, q)}
		}(i, c)
	}

	outcomes := make([]ClientOutcome, len(snap))
	done := make([]bool, len(snap))
	pending := len(snap)
wait:
	for pending > 0 {
		select {
		case r := <-results:
			outcomes[r.i], done[r.i] = r.out, true
			pending--
		case <-gctx.Done():
			break wait
		}
	}
	// keep anything that landed together with the deadline
drain:
	for pending > 0 {
		select {
		case r := <-results:
			outcomes[r.i], done[r.i] = r.out, true
			pending--
		default:
			break drain
		}
	}
	if pending > 0 {
		status, detail := abandonStatus(ctx)
		for i, c := range snap {
			if !done[i] {
				outcomes[i] = ClientOutcome{
					ClientID:    c.ID,
					Model:       c.AssignedModel,
					Status:      status,
					Latency:     d.now().Sub(start),
					ErrorDetail: detail,
				}
			}
		}
	}
	for _, o := range outcomes {
		metrics.RecordClientOutcome(o.Model, string(o.Status), o.Latency)
	}

	res := Aggregate(q.ID, outcomes, d.opts.Policy)
	outcome := "ok"
	switch {
	case ctx.Err() != nil:
		outcome = "canceled"
	case res.SuccessCount == 0:
		outcome = "no_success"
	}
	elapsed := d.now().Sub(start)
	metrics.RecordDispatch(outcome, elapsed)
	logx.Log.Info().Str("query_id", q.ID).Int("clients", res.ParticipatingCount).
		Int("success", res.SuccessCount).Dur("elapsed", elapsed).Msg("dispatch complete")
	return res, nil
}

// call runs one client under the per-call deadline. It returns as soon as the
// deadline passes even if the Inferer has not.
func (d *Dispatcher) call(gctx context.Context, c pool.ClientRecord, q Query) ClientOutcome {
	cctx, cancel := context.WithTimeout(gctx, q.PerCallTimeout)
	defer cancel()

	out := ClientOutcome{ClientID: c.ID, Model: c.AssignedModel, Score: c.Score}
	req := Request{QueryID: q.ID, Prompt: q.Prompt, Context: q.Context, Model: c.AssignedModel}

	type reply struct {
		resp Response
		err  error
	}
	ch := make(chan reply, 1)
	start := d.now()
	go func() {
		resp, err := d.inferer.Infer(cctx, c, req)
		ch <- reply{resp, err}
	}()

	select {
	case r := <-ch:
		out.Latency = d.now().Sub(start)
		switch {
		case r.err == nil:
			out.Status = StatusSuccess
			out.ResponseText = r.resp.Text
			if r.resp.Model != "" {
				out.Model = r.resp.Model
			}
		case cctx.Err() != nil:
			out.Status, out.ErrorDetail = timeoutStatus(gctx, cctx)
		default:
			out.Status = StatusError
			out.ErrorDetail = r.err.Error()
		}
	case <-cctx.Done():
		out.Latency = d.now().Sub(start)
		out.Status, out.ErrorDetail = timeoutStatus(gctx, cctx)
	}
	if out.Status != StatusSuccess {
		logx.Log.Debug().Str("query_id", q.ID).Str("client_id", c.ID).Str("status", string(out.Status)).Str("detail", out.ErrorDetail).Msg("client call failed")
	}
	return out
}

func timeoutStatus(gctx, cctx context.Context) (Status, string) {
	if gctx.Err() != nil && !errors.Is(gctx.Err(), context.DeadlineExceeded) {
		return StatusSkipped, "query canceled"
	}
	if gctx.Err() != nil {
		return StatusTimeout, "global timeout"
	}
	return StatusTimeout, "per-call timeout"
}

func abandonStatus(ctx context.Context) (Status, string) {
	if ctx.Err() != nil && !errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return StatusSkipped, "query canceled"
	}
	return StatusTimeout, "global timeout"
}

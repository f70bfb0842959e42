package dispatch

import (
	"context"
	"errors"
	"time"

	"github.com/kabir325/fogpool/internal/pool"
)

var (
	// ErrNoClientsAvailable is returned when no client is ACTIVE at dispatch time.
	ErrNoClientsAvailable = errors.New("no clients available")
	ErrEmptyPrompt        = errors.New("empty prompt")
)

// Status is the result of one client call.
type Status string

const (
	StatusSuccess Status = "SUCCESS"
	StatusTimeout Status = "TIMEOUT"
	StatusError   Status = "ERROR"
	StatusSkipped Status = "SKIPPED"
)

// Query is one prompt to fan out. Zero timeouts fall back to the
// dispatcher's defaults.
type Query struct {
	ID             string        `json:"id"`
	Prompt         string        `json:"prompt"`
	Context        string        `json:"context,omitempty"`
	SubmittedAt    time.Time     `json:"submitted_at"`
	PerCallTimeout time.Duration `json:"per_call_timeout"`
	GlobalTimeout  time.Duration `json:"global_timeout"`
}

// Request is what a single client is asked to run.
type Request struct {
	QueryID string `json:"query_id"`
	Prompt  string `json:"prompt"`
	Context string `json:"context,omitempty"`
	Model   string `json:"model"`
}

// Response is a client's answer.
type Response struct {
	Text  string `json:"text"`
	Model string `json:"model,omitempty"`
}

// Inferer performs the core-to-client inference call. Implementations must
// return promptly once ctx is done.
type Inferer interface {
	Infer(ctx context.Context, client pool.ClientRecord, req Request) (Response, error)
}

// InfererFunc adapts a function to Inferer.
type InfererFunc func(ctx context.Context, client pool.ClientRecord, req Request) (Response, error)

func (f InfererFunc) Infer(ctx context.Context, client pool.ClientRecord, req Request) (Response, error) {
	return f(ctx, client, req)
}

// Snapshotter supplies the clients a query is fanned out to.
type Snapshotter interface {
	SnapshotActive() []pool.ClientRecord
}

// ClientOutcome is the per-client result of one query.
type ClientOutcome struct {
	ClientID     string        `json:"client_id"`
	Model        string        `json:"model"`
	Score        float64       `json:"score"`
	Status       Status        `json:"status"`
	ResponseText string        `json:"response_text,omitempty"`
	Latency      time.Duration `json:"latency_ns"`
	ErrorDetail  string        `json:"error_detail,omitempty"`
}

// AggregateResult is the combined outcome of one query. Outcomes follow the
// order clients were snapshotted.
type AggregateResult struct {
	QueryID            string          `json:"query_id"`
	Outcomes           []ClientOutcome `json:"outcomes"`
	CombinedAnswer     string          `json:"combined_answer"`
	ParticipatingCount int             `json:"participating_count"`
	SuccessCount       int             `json:"success_count"`
	Policy             Policy          `json:"policy"`
}

package ctrl

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/kabir325/fogpool/internal/dispatch"
	"github.com/kabir325/fogpool/internal/logx"
	"github.com/kabir325/fogpool/internal/pool"
)

// ErrNotConnected is returned when a client has no live connection.
var ErrNotConnected = errors.New("client not connected")

type jobReply struct {
	text  string
	model string
	err   string
}

// session is one live client connection.
type session struct {
	id   string
	send chan any
	done chan struct{}

	mu   sync.Mutex
	jobs map[string]chan jobReply
}

func newSession(id string) *session {
	return &session{
		id:   id,
		send: make(chan any, 32),
		done: make(chan struct{}),
		jobs: make(map[string]chan jobReply),
	}
}

func (s *session) addJob(id string, ch chan jobReply) {
	s.mu.Lock()
	s.jobs[id] = ch
	s.mu.Unlock()
}

func (s *session) removeJob(id string) {
	s.mu.Lock()
	delete(s.jobs, id)
	s.mu.Unlock()
}

// deliver hands a reply to the waiting call, if it is still waiting.
func (s *session) deliver(id string, r jobReply) bool {
	s.mu.Lock()
	ch, ok := s.jobs[id]
	delete(s.jobs, id)
	s.mu.Unlock()
	if ok {
		ch <- r
	}
	return ok
}

// trySend queues msg without blocking.
func (s *session) trySend(msg any) bool {
	select {
	case s.send <- msg:
		return true
	case <-s.done:
		return false
	default:
		return false
	}
}

// Hub tracks live client connections and performs inference calls over them.
type Hub struct {
	mu       sync.RWMutex
	sessions map[string]*session
}

func NewHub() *Hub {
	return &Hub{sessions: make(map[string]*session)}
}

func (h *Hub) add(s *session) {
	h.mu.Lock()
	h.sessions[s.id] = s
	h.mu.Unlock()
}

// remove drops s unless the id was already taken over by another session.
func (h *Hub) remove(s *session) {
	h.mu.Lock()
	if cur, ok := h.sessions[s.id]; ok && cur == s {
		delete(h.sessions, s.id)
	}
	h.mu.Unlock()
}

func (h *Hub) get(id string) *session {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.sessions[id]
}

// Connected reports the number of live connections.
func (h *Hub) Connected() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.sessions)
}

// Infer sends an infer_request to the client and waits for its reply. When
// ctx ends first the client is told to cancel the job.
func (h *Hub) Infer(ctx context.Context, client pool.ClientRecord, req dispatch.Request) (dispatch.Response, error) {
	s := h.get(client.ID)
	if s == nil {
		return dispatch.Response{}, fmt.Errorf("%w: %s", ErrNotConnected, client.ID)
	}
	jobID := uuid.NewString()
	ch := make(chan jobReply, 1)
	s.addJob(jobID, ch)
	defer s.removeJob(jobID)

	msg := InferRequestMessage{
		Type:    TypeInferRequest,
		JobID:   jobID,
		QueryID: req.QueryID,
		Prompt:  req.Prompt,
		Context: req.Context,
		Model:   req.Model,
	}
	select {
	case s.send <- msg:
	case <-s.done:
		return dispatch.Response{}, fmt.Errorf("%w: %s", ErrNotConnected, client.ID)
	case <-ctx.Done():
		return dispatch.Response{}, ctx.Err()
	}

	select {
	case r := <-ch:
		if r.err != "" {
			return dispatch.Response{}, errors.New(r.err)
		}
		return dispatch.Response{Text: r.text, Model: r.model}, nil
	case <-s.done:
		return dispatch.Response{}, fmt.Errorf("client %s disconnected", client.ID)
	case <-ctx.Done():
		s.trySend(CancelJobMessage{Type: TypeCancelJob, JobID: jobID})
		logx.Log.Debug().Str("client_id", client.ID).Str("job_id", jobID).Msg("job canceled")
		return dispatch.Response{}, ctx.Err()
	}
}

// NotifyAssignment pushes a new assignment to a connected client. It reports
// false when the client is not connected or its queue is full.
func (h *Hub) NotifyAssignment(clientID string, a pool.Assignment) bool {
	s := h.get(clientID)
	if s == nil {
		return false
	}
	ok := s.trySend(AssignmentMessage{Type: TypeAssignment, Tier: a.Tier, AssignedModel: a.Model, Score: a.Score})
	if !ok {
		logx.Log.Warn().Str("client_id", clientID).Msg("assignment push dropped")
	}
	return ok
}

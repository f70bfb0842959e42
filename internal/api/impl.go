package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/kabir325/fogpool/internal/chat"
	"github.com/kabir325/fogpool/internal/engine"
	"github.com/kabir325/fogpool/internal/pool"
	"github.com/kabir325/fogpool/internal/rag"
	"github.com/kabir325/fogpool/internal/serverstate"
)

const maxBodyBytes = 1 << 20

// API implements the REST facade over an engine.
type API struct {
	Engine *engine.Engine
}

func (a *API) GetHealthz(w http.ResponseWriter, r *http.Request) {
	status := a.Engine.State().Status()
	if status != serverstate.StatusReady {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": status})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (a *API) PostQuery(w http.ResponseWriter, r *http.Request) {
	var req engine.QueryRequest
	if err := decodeBody(w, r, &req, false); err != nil {
		writeError(w, err)
		return
	}
	res, err := a.Engine.SubmitQuery(r.Context(), req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (a *API) GetStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, a.Engine.GetStats(r.Context()))
}

type reassignRequest struct {
	Reason string `json:"reason"`
}

func (a *API) PostReassign(w http.ResponseWriter, r *http.Request) {
	var req reassignRequest
	if err := decodeBody(w, r, &req, true); err != nil {
		writeError(w, err)
		return
	}
	reason, err := pool.ParseReason(req.Reason)
	if err != nil {
		writeError(w, fmt.Errorf("%w: %v", errBadRequest, err))
		return
	}
	writeJSON(w, http.StatusOK, a.Engine.TriggerReassignment(r.Context(), reason))
}

func (a *API) GetClients(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, a.Engine.Clients(r.Context()))
}

func (a *API) GetClient(w http.ResponseWriter, r *http.Request) {
	rec, err := a.Engine.Client(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// DeleteClient deregisters a client. Unknown or already purged ids succeed.
func (a *API) DeleteClient(w http.ResponseWriter, r *http.Request) {
	a.Engine.Deregister(r.Context(), chi.URLParam(r, "id"))
	w.WriteHeader(http.StatusNoContent)
}

type addDocumentRequest struct {
	Title    string            `json:"title"`
	Content  string            `json:"content"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

func (a *API) PostDocument(w http.ResponseWriter, r *http.Request) {
	var req addDocumentRequest
	if err := decodeBody(w, r, &req, false); err != nil {
		writeError(w, err)
		return
	}
	id, err := a.Engine.RAG().Add(req.Title, req.Content, req.Metadata)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"doc_id": id})
}

func (a *API) GetDocuments(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, a.Engine.RAG().List())
}

func (a *API) GetDocument(w http.ResponseWriter, r *http.Request) {
	doc, err := a.Engine.RAG().Get(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

func (a *API) DeleteDocument(w http.ResponseWriter, r *http.Request) {
	if err := a.Engine.RAG().Delete(chi.URLParam(r, "id")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) GetSearch(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query().Get("q")
	if q == "" {
		writeError(w, fmt.Errorf("%w: missing q", errBadRequest))
		return
	}
	k, err := intParam(r, "k", 3)
	if err != nil {
		writeError(w, err)
		return
	}
	matches := a.Engine.RAG().Search(q, k)
	if matches == nil {
		matches = []rag.Match{}
	}
	writeJSON(w, http.StatusOK, matches)
}

func (a *API) GetRAGStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, a.Engine.RAG().Stats())
}

type sessionRequest struct {
	Title string `json:"title"`
}

func (a *API) PostSession(w http.ResponseWriter, r *http.Request) {
	var req sessionRequest
	if err := decodeBody(w, r, &req, true); err != nil {
		writeError(w, err)
		return
	}
	s, err := a.Engine.Chat().Create(r.Context(), req.Title)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, s)
}

func (a *API) GetSessions(w http.ResponseWriter, r *http.Request) {
	limit, err := intParam(r, "limit", chat.DefaultListLimit)
	if err != nil {
		writeError(w, err)
		return
	}
	list, err := a.Engine.Chat().List(r.Context(), limit)
	if err != nil {
		writeError(w, err)
		return
	}
	if list == nil {
		list = []chat.Summary{}
	}
	writeJSON(w, http.StatusOK, list)
}

func (a *API) GetSession(w http.ResponseWriter, r *http.Request) {
	s, err := a.Engine.Chat().Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s)
}

func (a *API) PatchSession(w http.ResponseWriter, r *http.Request) {
	var req sessionRequest
	if err := decodeBody(w, r, &req, false); err != nil {
		writeError(w, err)
		return
	}
	id := chi.URLParam(r, "id")
	if err := a.Engine.Chat().Rename(r.Context(), id, req.Title); err != nil {
		writeError(w, err)
		return
	}
	a.GetSession(w, r)
}

func (a *API) DeleteSession(w http.ResponseWriter, r *http.Request) {
	if err := a.Engine.Chat().Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) GetChatStats(w http.ResponseWriter, r *http.Request) {
	st, err := a.Engine.Chat().Stats(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// decodeBody reads a JSON request body. With optional set an empty body
// leaves v untouched.
func decodeBody(w http.ResponseWriter, r *http.Request, v any, optional bool) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		if optional && errors.Is(err, io.EOF) {
			return nil
		}
		return fmt.Errorf("%w: %v", errBadRequest, err)
	}
	return nil
}

func intParam(r *http.Request, name string, def int) (int, error) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("%w: %s must be a positive integer", errBadRequest, name)
	}
	return n, nil
}

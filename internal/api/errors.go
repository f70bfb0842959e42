package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/kabir325/fogpool/internal/chat"
	"github.com/kabir325/fogpool/internal/dispatch"
	"github.com/kabir325/fogpool/internal/engine"
	"github.com/kabir325/fogpool/internal/logx"
	"github.com/kabir325/fogpool/internal/pool"
	"github.com/kabir325/fogpool/internal/rag"
	"github.com/kabir325/fogpool/internal/serverstate"
)

// Error codes carried in the "error" field of failed responses.
const (
	CodeUnknownClient      = "UNKNOWN_CLIENT"
	CodeNoClientsAvailable = "NO_CLIENTS_AVAILABLE"
	CodeBadRequest         = "BAD_REQUEST"
	CodeNotFound           = "NOT_FOUND"
	CodeUnavailable        = "UNAVAILABLE"
	CodeInternal           = "INTERNAL"
)

var errBadRequest = errors.New("bad request")

type errorBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func errorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, pool.ErrUnknownClient):
		return http.StatusNotFound, CodeUnknownClient
	case errors.Is(err, chat.ErrSessionNotFound), errors.Is(err, rag.ErrDocumentNotFound):
		return http.StatusNotFound, CodeNotFound
	case errors.Is(err, dispatch.ErrNoClientsAvailable):
		return http.StatusServiceUnavailable, CodeNoClientsAvailable
	case errors.Is(err, serverstate.ErrDraining):
		return http.StatusServiceUnavailable, CodeUnavailable
	case errors.Is(err, dispatch.ErrEmptyPrompt), errors.Is(err, engine.ErrBadRequest),
		errors.Is(err, rag.ErrEmptyContent), errors.Is(err, errBadRequest):
		return http.StatusBadRequest, CodeBadRequest
	default:
		return http.StatusInternalServerError, CodeInternal
	}
}

func writeError(w http.ResponseWriter, err error) {
	code, name := errorStatus(err)
	if code == http.StatusInternalServerError {
		logx.Log.Error().Err(err).Msg("request failed")
	}
	writeJSON(w, code, errorBody{Error: name, Message: err.Error()})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logx.Log.Error().Err(err).Msg("write response")
	}
}

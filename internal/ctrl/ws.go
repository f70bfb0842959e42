package ctrl

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/coder/websocket"

	"github.com/kabir325/fogpool/internal/logx"
	"github.com/kabir325/fogpool/internal/pool"
	"github.com/kabir325/fogpool/internal/serverstate"
)

const (
	registerTimeout = 10 * time.Second
	writeTimeout    = 10 * time.Second
	readLimit       = 4 << 20
)

// Backend is the coordinator surface driven by client connections.
type Backend interface {
	RegisterClient(ctx context.Context, hostname string, c pool.Capability) (pool.ClientRecord, error)
	Heartbeat(ctx context.Context, clientID string, c *pool.Capability) error
	Deregister(ctx context.Context, clientID string)
}

// HandlerOptions configures WSHandler.
type HandlerOptions struct {
	// ClientKey, when set, must be presented as a bearer token, a client_key
	// query parameter or in the register message.
	ClientKey string
}

// WSHandler handles incoming client websocket connections. The connection
// lifetime is the registration lifetime: closing it deregisters the client.
func WSHandler(hub *Hub, backend Backend, opts HandlerOptions) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		provided := ""
		if auth := r.Header.Get("Authorization"); strings.HasPrefix(auth, "Bearer ") {
			provided = strings.TrimPrefix(auth, "Bearer ")
		}
		if provided == "" {
			provided = r.URL.Query().Get("client_key")
		}
		if opts.ClientKey != "" && provided != "" && !keyMatches(provided, opts.ClientKey) {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		c, err := websocket.Accept(w, r, nil)
		if err != nil {
			logx.Log.Warn().Err(err).Str("remote_addr", r.RemoteAddr).Msg("websocket accept")
			return
		}
		c.SetReadLimit(readLimit)
		ctx := r.Context()
		defer c.Close(websocket.StatusInternalError, "server error")

		regCtx, cancel := context.WithTimeout(ctx, registerTimeout)
		_, data, err := c.Read(regCtx)
		cancel()
		if err != nil {
			return
		}
		var rm RegisterMessage
		if err := json.Unmarshal(data, &rm); err != nil || rm.Type != TypeRegister {
			c.Close(websocket.StatusPolicyViolation, "expected register")
			return
		}
		if opts.ClientKey != "" && provided == "" && !keyMatches(rm.ClientKey, opts.ClientKey) {
			_ = writeJSON(ctx, c, ErrorMessage{Type: TypeRegisterError, Code: CodeUnauthorized, Message: "invalid client key"})
			c.Close(websocket.StatusPolicyViolation, "unauthorized")
			return
		}
		host := rm.Hostname
		if host == "" {
			host = rm.ClientIDHint
		}
		rec, err := backend.RegisterClient(ctx, host, rm.Capability)
		if err != nil {
			_ = writeJSON(ctx, c, ErrorMessage{Type: TypeRegisterError, Code: codeFor(err), Message: err.Error()})
			status := websocket.StatusPolicyViolation
			if errors.Is(err, serverstate.ErrDraining) {
				status = websocket.StatusTryAgainLater
			}
			c.Close(status, "registration refused")
			return
		}

		s := newSession(rec.ID)
		// queued before the session is visible so the ack is always first
		s.send <- RegisterAckMessage{
			Type:          TypeRegisterAck,
			ClientID:      rec.ID,
			Tier:          rec.Tier,
			AssignedModel: rec.AssignedModel,
			Score:         rec.Score,
		}
		hub.add(s)
		logx.Log.Info().Str("client_id", rec.ID).Str("remote_addr", r.RemoteAddr).Msg("client connected")
		defer func() {
			hub.remove(s)
			close(s.done)
			backend.Deregister(context.WithoutCancel(ctx), rec.ID)
			logx.Log.Info().Str("client_id", rec.ID).Msg("client disconnected")
		}()

		go writeLoop(ctx, c, s)

		for {
			_, msg, err := c.Read(ctx)
			if err != nil {
				return
			}
			var env Envelope
			if err := json.Unmarshal(msg, &env); err != nil {
				continue
			}
			switch env.Type {
			case TypeHeartbeat:
				var hb HeartbeatMessage
				if err := json.Unmarshal(msg, &hb); err != nil {
					continue
				}
				if err := backend.Heartbeat(ctx, rec.ID, hb.Capability); err != nil {
					_ = writeJSON(ctx, c, ErrorMessage{Type: TypeHeartbeatError, Code: codeFor(err), Message: err.Error()})
					if errors.Is(err, pool.ErrUnknownClient) {
						c.Close(websocket.StatusPolicyViolation, "unknown client")
						return
					}
				}
			case TypeInferResult:
				var m InferResultMessage
				if err := json.Unmarshal(msg, &m); err == nil {
					s.deliver(m.JobID, jobReply{text: m.Text, model: m.Model})
				}
			case TypeInferError:
				var m InferErrorMessage
				if err := json.Unmarshal(msg, &m); err == nil {
					if m.Message == "" {
						m.Message = "client error"
					}
					s.deliver(m.JobID, jobReply{err: m.Message})
				}
			default:
				logx.Log.Debug().Str("client_id", rec.ID).Str("type", env.Type).Msg("ignored message")
			}
		}
	}
}

func writeLoop(ctx context.Context, c *websocket.Conn, s *session) {
	for {
		select {
		case msg := <-s.send:
			if err := writeJSON(ctx, c, msg); err != nil {
				logx.Log.Debug().Err(err).Str("client_id", s.id).Msg("write failed")
				c.Close(websocket.StatusInternalError, "write failed")
				return
			}
		case <-s.done:
			return
		case <-ctx.Done():
			return
		}
	}
}

func writeJSON(ctx context.Context, c *websocket.Conn, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	wctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return c.Write(wctx, websocket.MessageText, b)
}

func codeFor(err error) string {
	switch {
	case errors.Is(err, pool.ErrUnknownClient):
		return CodeUnknownClient
	case errors.Is(err, pool.ErrDuplicateClient):
		return CodeDuplicateClient
	case errors.Is(err, serverstate.ErrDraining):
		return CodeUnavailable
	default:
		return CodeInternal
	}
}

func keyMatches(got, want string) bool {
	return subtle.ConstantTimeCompare([]byte(got), []byte(want)) == 1
}

// Package agent is the client side of the pool: it reports local hardware to
// the coordinator and answers inference requests with a local Ollama.
package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/kabir325/fogpool/internal/config"
	"github.com/kabir325/fogpool/internal/ctrl"
	"github.com/kabir325/fogpool/internal/logx"
	"github.com/kabir325/fogpool/internal/ollama"
	"github.com/kabir325/fogpool/internal/pool"
)

const readLimit = 4 << 20

// ErrRejected marks a registration the coordinator will not accept on retry.
var ErrRejected = errors.New("registration rejected")

// Generator produces a completion with a named model.
type Generator interface {
	Generate(ctx context.Context, model, prompt string) (string, error)
}

// ModelPuller is implemented by generators that can install models.
type ModelPuller interface {
	HasModel(ctx context.Context, model string) (bool, error)
	Pull(ctx context.Context, model string) error
}

// Agent holds one client's identity and its connection to the coordinator.
type Agent struct {
	cfg        config.ClientConfig
	gen        Generator
	capability pool.Capability

	mu      sync.Mutex
	model   string
	pulling map[string]bool
}

func New(cfg config.ClientConfig, gen Generator, c pool.Capability) *Agent {
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 5 * time.Minute
	}
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = 10 * time.Second
	}
	setIdentity(cfg.ClientName, c)
	return &Agent{cfg: cfg, gen: gen, capability: c, pulling: make(map[string]bool)}
}

// Run probes the hardware and serves the coordinator until ctx ends.
func Run(ctx context.Context, cfg config.ClientConfig) error {
	c, err := Probe(ctx, NvidiaGPUProvider{})
	if err != nil {
		return err
	}
	c = applyOverrides(c, cfg)
	logx.Log.Info().Int("cpu_cores", c.CPUCores).Float64("ram_gb", c.RAMGB).Bool("has_gpu", c.HasGPU).
		Float64("gpu_vram_gb", c.GPUVRAMGB).Str("gpu", c.GPUName).Msg("capability")

	client := ollama.New(cfg.OllamaURL)
	if cfg.StatusAddr != "" {
		if _, err := StartStatusServer(ctx, cfg.StatusAddr); err != nil {
			return err
		}
	}
	if cfg.MetricsAddr != "" {
		if _, err := StartMetricsServer(ctx, cfg.MetricsAddr); err != nil {
			return err
		}
	}
	go watchOllama(ctx, client, time.Minute)

	a := New(cfg, client, c)
	return RunWithReconnect(ctx, cfg.Reconnect, a.connectAndServe)
}

type tagLister interface {
	Tags(ctx context.Context) ([]string, error)
}

func watchOllama(ctx context.Context, client tagLister, every time.Duration) {
	probe := func() {
		models, err := client.Tags(ctx)
		if err != nil {
			setConnectedToOllama(false)
			setLastError(err.Error())
			return
		}
		setConnectedToOllama(true)
		logx.Log.Debug().Strs("models", models).Msg("ollama reachable")
	}
	probe()
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			probe()
		}
	}
}

// Model returns the model currently assigned by the coordinator.
func (a *Agent) Model() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.model
}

// setModel records the assigned model and, with PullModels set, installs it
// in the background when the generator does not have it yet.
func (a *Agent) setModel(ctx context.Context, m string) {
	a.mu.Lock()
	a.model = m
	p, canPull := a.gen.(ModelPuller)
	start := a.cfg.PullModels && canPull && m != "" && !a.pulling[m]
	if start {
		a.pulling[m] = true
	}
	a.mu.Unlock()
	if start {
		go a.ensureModel(ctx, p, m)
	}
}

func (a *Agent) ensureModel(ctx context.Context, p ModelPuller, model string) {
	defer func() {
		a.mu.Lock()
		delete(a.pulling, model)
		a.mu.Unlock()
	}()
	ok, err := p.HasModel(ctx, model)
	if err != nil {
		logx.Log.Warn().Err(err).Str("model", model).Msg("check installed models")
		return
	}
	if ok {
		return
	}
	logx.Log.Info().Str("model", model).Msg("pulling assigned model")
	start := time.Now()
	if err := p.Pull(ctx, model); err != nil {
		setLastError(err.Error())
		logx.Log.Error().Err(err).Str("model", model).Msg("pull failed")
		return
	}
	logx.Log.Info().Str("model", model).Dur("elapsed", time.Since(start)).Msg("model pulled")
}

func (a *Agent) connectAndServe(ctx context.Context) (bool, error) {
	connCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	opts := &websocket.DialOptions{}
	if a.cfg.ClientKey != "" {
		opts.HTTPHeader = http.Header{"Authorization": []string{"Bearer " + a.cfg.ClientKey}}
	}
	setState("connecting")
	ws, _, err := websocket.Dial(connCtx, a.cfg.ServerURL, opts)
	if err != nil {
		setLastError(err.Error())
		return false, err
	}
	defer func() {
		_ = ws.Close(websocket.StatusNormalClosure, "closing")
	}()
	ws.SetReadLimit(readLimit)

	send := func(v any) error {
		b, err := json.Marshal(v)
		if err != nil {
			return err
		}
		return ws.Write(connCtx, websocket.MessageText, b)
	}

	if err := send(ctrl.RegisterMessage{
		Type:       ctrl.TypeRegister,
		ClientKey:  a.cfg.ClientKey,
		Hostname:   a.cfg.ClientName,
		Capability: a.capability,
	}); err != nil {
		return false, err
	}
	ack, err := readAck(connCtx, ws)
	if err != nil {
		setLastError(err.Error())
		return false, err
	}
	a.setModel(ctx, ack.AssignedModel)
	setRegistration(ack.ClientID, ack.Tier, ack.AssignedModel, ack.Score)
	setConnectedToServer(true)
	setState("connected_idle")
	setLastError("")
	defer setConnectedToServer(false)
	logx.Log.Info().Str("client_id", ack.ClientID).Str("tier", string(ack.Tier)).Str("model", ack.AssignedModel).
		Float64("score", ack.Score).Msg("registered")

	go a.heartbeat(connCtx, send)

	var jobMu sync.Mutex
	jobs := make(map[string]context.CancelFunc)
	for {
		_, data, err := ws.Read(connCtx)
		if err != nil {
			var ce websocket.CloseError
			if errors.As(err, &ce) {
				logx.Log.Info().Str("reason", ce.Reason).Int("code", int(ce.Code)).Msg("server connection closed")
			} else if ctx.Err() == nil {
				logx.Log.Error().Err(err).Msg("server read error")
			}
			if ctx.Err() != nil {
				return true, ctx.Err()
			}
			setLastError(err.Error())
			return true, err
		}
		var env ctrl.Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			continue
		}
		switch env.Type {
		case ctrl.TypeInferRequest:
			var req ctrl.InferRequestMessage
			if err := json.Unmarshal(data, &req); err != nil {
				continue
			}
			jobCtx, jobCancel := context.WithTimeout(connCtx, a.cfg.RequestTimeout)
			jobMu.Lock()
			jobs[req.JobID] = jobCancel
			jobMu.Unlock()
			go func() {
				defer func() {
					jobCancel()
					jobMu.Lock()
					delete(jobs, req.JobID)
					jobMu.Unlock()
				}()
				a.handleInfer(jobCtx, req, send)
			}()
		case ctrl.TypeCancelJob:
			var cj ctrl.CancelJobMessage
			if err := json.Unmarshal(data, &cj); err == nil {
				jobMu.Lock()
				if c, ok := jobs[cj.JobID]; ok {
					c()
					delete(jobs, cj.JobID)
				}
				jobMu.Unlock()
			}
		case ctrl.TypeAssignment:
			var am ctrl.AssignmentMessage
			if err := json.Unmarshal(data, &am); err != nil {
				continue
			}
			a.setModel(ctx, am.AssignedModel)
			setRegistration(ack.ClientID, am.Tier, am.AssignedModel, am.Score)
			logx.Log.Info().Str("tier", string(am.Tier)).Str("model", am.AssignedModel).Float64("score", am.Score).Msg("assignment changed")
		case ctrl.TypeHeartbeatError:
			var em ctrl.ErrorMessage
			_ = json.Unmarshal(data, &em)
			return true, fmt.Errorf("heartbeat refused: %s: %s", em.Code, em.Message)
		}
	}
}

func readAck(ctx context.Context, ws *websocket.Conn) (ctrl.RegisterAckMessage, error) {
	var ack ctrl.RegisterAckMessage
	_, data, err := ws.Read(ctx)
	if err != nil {
		return ack, fmt.Errorf("read register ack: %w", err)
	}
	var env ctrl.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return ack, fmt.Errorf("decode register ack: %w", err)
	}
	switch env.Type {
	case ctrl.TypeRegisterAck:
		if err := json.Unmarshal(data, &ack); err != nil {
			return ack, fmt.Errorf("decode register ack: %w", err)
		}
		return ack, nil
	case ctrl.TypeRegisterError:
		var em ctrl.ErrorMessage
		_ = json.Unmarshal(data, &em)
		switch em.Code {
		case ctrl.CodeUnauthorized, ctrl.CodeBadRequest:
			return ack, fmt.Errorf("%w: %s: %s", ErrRejected, em.Code, em.Message)
		}
		return ack, fmt.Errorf("register refused: %s: %s", em.Code, em.Message)
	default:
		return ack, fmt.Errorf("unexpected %q before register ack", env.Type)
	}
}

func (a *Agent) heartbeat(ctx context.Context, send func(any) error) {
	ticker := time.NewTicker(a.cfg.HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case t := <-ticker.C:
			c := a.capability
			if err := send(ctrl.HeartbeatMessage{Type: ctrl.TypeHeartbeat, TS: t.Unix(), Capability: &c}); err != nil {
				return
			}
			setLastHeartbeat(t)
		}
	}
}

// handleInfer runs one request against the local model and reports back.
func (a *Agent) handleInfer(ctx context.Context, req ctrl.InferRequestMessage, send func(any) error) {
	model := req.Model
	if model == "" {
		model = a.Model()
	}
	prompt := req.Prompt
	if req.Context != "" {
		prompt = req.Context + "\n\n" + req.Prompt
	}
	incJobs()
	defer decJobs()
	start := time.Now()
	text, err := a.gen.Generate(ctx, model, prompt)
	dur := time.Since(start)
	if err != nil {
		recordJob("error", dur)
		logx.Log.Warn().Str("job_id", req.JobID).Str("model", model).Dur("duration", dur).Err(err).Msg("generate failed")
		_ = send(ctrl.InferErrorMessage{Type: ctrl.TypeInferError, JobID: req.JobID, Message: err.Error()})
		return
	}
	recordJob("success", dur)
	logx.Log.Info().Str("job_id", req.JobID).Str("model", model).Dur("duration", dur).Msg("generate complete")
	_ = send(ctrl.InferResultMessage{Type: ctrl.TypeInferResult, JobID: req.JobID, Text: text, Model: model})
}

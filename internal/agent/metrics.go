package agent

import (
	"context"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/kabir325/fogpool/internal/logx"
)

var (
	connectedToServerGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "fogpool_agent_connected_to_server",
		Help: "Whether the agent is registered with the coordinator (1 or 0)",
	})
	connectedToOllamaGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "fogpool_agent_connected_to_ollama",
		Help: "Whether the local Ollama answers (1 or 0)",
	})
	currentJobsGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "fogpool_agent_current_jobs",
		Help: "Inference requests currently running",
	})
	jobsCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "fogpool_agent_jobs_total",
		Help: "Inference requests handled, by result",
	}, []string{"result"})
	jobDurationHist = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "fogpool_agent_job_duration_seconds",
		Help:    "Duration of local generations in seconds",
		Buckets: prometheus.DefBuckets,
	})
)

func registerMetrics(r prometheus.Registerer) {
	r.MustRegister(connectedToServerGauge, connectedToOllamaGauge, currentJobsGauge, jobsCounter, jobDurationHist)
}

func recordJob(result string, d time.Duration) {
	jobsCounter.WithLabelValues(result).Inc()
	jobDurationHist.Observe(d.Seconds())
}

// StartMetricsServer starts an HTTP server exposing Prometheus metrics on /metrics.
// It returns the address it is listening on.
func StartMetricsServer(ctx context.Context, addr string) (string, error) {
	reg := prometheus.NewRegistry()
	registerMetrics(reg)
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	return serve(ctx, addr, mux, "metrics")
}

func serve(ctx context.Context, addr string, h http.Handler, name string) (string, error) {
	srv := &http.Server{Handler: h, ReadHeaderTimeout: 5 * time.Second}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return "", err
	}
	actual := ln.Addr().String()
	go func() {
		<-ctx.Done()
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}()
	go func() {
		if err := srv.Serve(ln); err != nil && err != http.ErrServerClosed {
			logx.Log.Error().Err(err).Str("addr", actual).Str("server", name).Msg("server error")
		}
	}()
	return actual, nil
}

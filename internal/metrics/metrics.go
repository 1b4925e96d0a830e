package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

const namespace = "valrtrader"

var (
	FramesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "frames_total", Help: "Inbound frames by decoded event type"},
		[]string{"session", "event"},
	)
	DecodeErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "decode_errors_total", Help: "Frames skipped because they could not be decoded"},
		[]string{"session"},
	)
	BucketsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "buckets_total", Help: "Trade buckets received, split by whether the period is tracked"},
		[]string{"period", "tracked"},
	)
	SignalsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "signals_total", Help: "Swing decisions by direction"},
		[]string{"direction"},
	)
	HeartbeatsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "heartbeats_total", Help: "PING attempts by result"},
		[]string{"session", "result"},
	)
	ReconnectsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "reconnects_total", Help: "Session restarts after a failure"},
		[]string{"session"},
	)
	SessionState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{Namespace: namespace, Name: "session_state", Help: "Current stream session state code"},
		[]string{"session"},
	)
	StoredBuckets = prometheus.NewGauge(
		prometheus.GaugeOpts{Namespace: namespace, Name: "stored_buckets", Help: "Buckets held in the state store"},
	)
)

func init() {
	prometheus.MustRegister(
		FramesTotal,
		DecodeErrorsTotal,
		BucketsTotal,
		SignalsTotal,
		HeartbeatsTotal,
		ReconnectsTotal,
		SessionState,
		StoredBuckets,
	)
}

// ObservePing returns a heartbeat observer for one session.
func ObservePing(session string) func(error) {
	ok := HeartbeatsTotal.WithLabelValues(session, "ok")
	failed := HeartbeatsTotal.WithLabelValues(session, "failed")
	return func(err error) {
		if err != nil {
			failed.Inc()
			return
		}
		ok.Inc()
	}
}

// Serve exposes /metrics on addr until ctx is cancelled.
func Serve(ctx context.Context, addr string, logger *zap.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.Info("metrics endpoint listening", zap.String("addr", addr))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

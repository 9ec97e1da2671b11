// Package metrics exposes evaluation progress as prometheus collectors.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/boristopalov/simeval/pkg/events"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Collector struct {
	Rollouts      *prometheus.CounterVec
	Successes     *prometheus.CounterVec
	Chunks        *prometheus.CounterVec
	ChunkDuration *prometheus.HistogramVec
	EpisodeLength *prometheus.HistogramVec
}

// NewCollector registers the evaluation metrics on reg.
func NewCollector(reg prometheus.Registerer) (*Collector, error) {
	c := &Collector{
		Rollouts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "simeval_rollouts_total",
				Help: "Episodes rolled out",
			},
			[]string{"task"},
		),
		Successes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "simeval_successes_total",
				Help: "Episodes that reached the task goal",
			},
			[]string{"task"},
		),
		Chunks: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "simeval_chunks_total",
				Help: "Rollout chunks completed",
			},
			[]string{"task"},
		),
		ChunkDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "simeval_chunk_duration_seconds",
				Help:    "Wall time per rollout chunk",
				Buckets: prometheus.ExponentialBuckets(0.5, 2, 10),
			},
			[]string{"task"},
		),
		EpisodeLength: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "simeval_episode_steps",
				Help:    "Steps taken per episode",
				Buckets: prometheus.LinearBuckets(50, 50, 15),
			},
			[]string{"task"},
		),
	}
	for _, col := range []prometheus.Collector{c.Rollouts, c.Successes, c.Chunks, c.ChunkDuration, c.EpisodeLength} {
		if err := reg.Register(col); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// ObserveChunk records one finished chunk.
func (c *Collector) ObserveChunk(task string, elapsed time.Duration, success []bool, steps []int) {
	c.Chunks.WithLabelValues(task).Inc()
	c.ChunkDuration.WithLabelValues(task).Observe(elapsed.Seconds())
	c.Rollouts.WithLabelValues(task).Add(float64(len(success)))
	for i, ok := range success {
		if ok {
			c.Successes.WithLabelValues(task).Inc()
		}
		if i < len(steps) {
			c.EpisodeLength.WithLabelValues(task).Observe(float64(steps[i]))
		}
	}
}

// Observe folds a progress event into the collectors. Only chunk events carry
// measurements.
func (c *Collector) Observe(ev events.Event) {
	if ev.Kind == events.ChunkFinished {
		c.ObserveChunk(ev.Task, ev.Elapsed, ev.Success, ev.Steps)
	}
}

// Consume observes events from ch until it closes or ctx is done.
func (c *Collector) Consume(ctx context.Context, ch <-chan events.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			c.Observe(ev)
		}
	}
}

func NewRouter(g prometheus.Gatherer) *mux.Router {
	router := mux.NewRouter()
	router.Handle("/metrics", promhttp.HandlerFor(g, promhttp.HandlerOpts{})).Methods("GET")
	router.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"healthy"}`))
	}).Methods("GET")
	return router
}

// Serve runs the metrics endpoint until ctx is cancelled.
func Serve(ctx context.Context, addr string, g prometheus.Gatherer) error {
	srv := &http.Server{
		Addr:         addr,
		Handler:      NewRouter(g),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdown)
	}()
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

package metrics

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/boristopalov/simeval/pkg/events"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestObserveChunk(t *testing.T) {
	reg := prometheus.NewRegistry()
	c, err := NewCollector(reg)
	if err != nil {
		t.Fatalf("Failed to create collector: %v", err)
	}

	c.ObserveChunk("lift", 3*time.Second, []bool{true, false, true}, []int{40, 500, 61})
	c.ObserveChunk("lift", time.Second, []bool{false}, []int{500})

	if got := testutil.ToFloat64(c.Rollouts.WithLabelValues("lift")); got != 4 {
		t.Errorf("rollouts = %v, want 4", got)
	}
	if got := testutil.ToFloat64(c.Successes.WithLabelValues("lift")); got != 2 {
		t.Errorf("successes = %v, want 2", got)
	}
	if got := testutil.ToFloat64(c.Chunks.WithLabelValues("lift")); got != 2 {
		t.Errorf("chunks = %v, want 2", got)
	}
	if n := testutil.CollectAndCount(c.EpisodeLength); n != 1 {
		t.Errorf("episode length series = %d, want 1", n)
	}

	if _, err := NewCollector(reg); err == nil {
		t.Error("expected duplicate registration to fail")
	}
}

func TestConsume(t *testing.T) {
	c, err := NewCollector(prometheus.NewRegistry())
	if err != nil {
		t.Fatal(err)
	}
	ch := make(chan events.Event, 3)
	ch <- events.Event{Kind: events.RunStarted, Task: "square"}
	ch <- events.Event{Kind: events.ChunkFinished, Task: "square", Elapsed: time.Second, Success: []bool{false, true}, Steps: []int{500, 88}}
	ch <- events.Event{Kind: events.RunFinished, Task: "square"}
	close(ch)

	c.Consume(context.Background(), ch)

	if got := testutil.ToFloat64(c.Chunks.WithLabelValues("square")); got != 1 {
		t.Errorf("chunks = %v, want 1", got)
	}
	if got := testutil.ToFloat64(c.Rollouts.WithLabelValues("square")); got != 2 {
		t.Errorf("rollouts = %v, want 2", got)
	}
}

func TestRouter(t *testing.T) {
	reg := prometheus.NewRegistry()
	c, err := NewCollector(reg)
	if err != nil {
		t.Fatal(err)
	}
	c.ObserveChunk("can", time.Second, []bool{true}, []int{120})

	srv := httptest.NewServer(NewRouter(reg))
	t.Cleanup(srv.Close)

	t.Run("metrics", func(t *testing.T) {
		resp, err := http.Get(srv.URL + "/metrics")
		if err != nil {
			t.Fatal(err)
		}
		defer resp.Body.Close()
		body, _ := io.ReadAll(resp.Body)
		if !strings.Contains(string(body), `simeval_successes_total{task="can"} 1`) {
			t.Errorf("metrics output missing success counter:\n%s", body)
		}
	})

	t.Run("health", func(t *testing.T) {
		resp, err := http.Get(srv.URL + "/health")
		if err != nil {
			t.Fatal(err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Errorf("health status = %d", resp.StatusCode)
		}
	})

	t.Run("wrong method", func(t *testing.T) {
		resp, err := http.Post(srv.URL+"/metrics", "text/plain", nil)
		if err != nil {
			t.Fatal(err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusMethodNotAllowed {
			t.Errorf("POST /metrics status = %d", resp.StatusCode)
		}
	})
}

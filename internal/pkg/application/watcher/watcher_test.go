package watcher

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/matryer/is"
)

func TestWatcherForwardsPutEventsToTheSink(t *testing.T) {
	is := is.New(t)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		is.Equal(r.URL.Path, "/rooms.json")

		w.Header().Set("Content-Type", "text/event-stream")
		w.WriteHeader(http.StatusOK)

		io.WriteString(w, "event: keep-alive\n\n")
		io.WriteString(w, "event: put\ndata: {\"path\":\"/lobby\",\"data\":{\"open\":true}}\n\n")
		w.(http.Flusher).Flush()
	}))
	defer srv.Close()

	sink := &fakeSink{}
	cfg := &Config{Targets: []WatchTarget{{Name: "rooms", Path: "rooms"}}}

	w := New(context.Background(), srv.URL, cfg, sink, ReconnectInterval(time.Hour))
	is.NoErr(w.Start())
	defer w.Stop()

	waitFor(t, func() bool { return sink.count() == 1 })

	target, data := sink.stored()
	is.Equal(target, "rooms")
	is.Equal(data["path"], "/lobby")
}

func TestWatcherCountsEventsPerTarget(t *testing.T) {
	is := is.New(t)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		w.WriteHeader(http.StatusOK)

		io.WriteString(w, "event: keep-alive\n\n")
		io.WriteString(w, "event: put\ndata: {\"path\":\"/\",\"data\":1}\n\n")
		w.(http.Flusher).Flush()
	}))
	defer srv.Close()

	cfg := &Config{Targets: []WatchTarget{{Name: "rooms", Path: "rooms"}}}

	w := New(context.Background(), srv.URL, cfg, nil, ReconnectInterval(time.Hour))
	is.NoErr(w.Start())
	defer w.Stop()

	waitFor(t, func() bool {
		status := w.Status()
		return len(status) == 1 && status[0].Puts == 1 && status[0].KeepAlives == 1
	})
}

func TestWatcherCanOnlyBeStartedOnce(t *testing.T) {
	is := is.New(t)

	w := New(context.Background(), "http://lolcathost:1234", &Config{}, nil)
	is.NoErr(w.Start())
	defer w.Stop()

	is.True(w.Start() != nil)
}

func waitFor(t *testing.T, condition func() bool) {
	t.Helper()

	for i := 0; i < 100; i++ {
		if condition() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}

	t.Fatal("condition not met within deadline")
}

type fakeSink struct {
	mu      sync.Mutex
	targets []string
	data    []map[string]any
}

func (f *fakeSink) StorePut(ctx context.Context, target string, data map[string]any) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.targets = append(f.targets, target)
	f.data = append(f.data, data)

	return nil
}

func (f *fakeSink) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()

	return len(f.targets)
}

func (f *fakeSink) stored() (string, map[string]any) {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.targets[0], f.data[0]
}

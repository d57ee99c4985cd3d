package client

import (
	"bufio"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/matryer/is"
	"github.com/rediaas/firebase-rest/pkg/rtdb"
)

func TestNextEventParsesKeepAlive(t *testing.T) {
	is := is.New(t)
	reader := bufio.NewReader(strings.NewReader("event: keep-alive\n\n"))

	event, err := nextEvent(context.Background(), reader)

	is.NoErr(err)
	is.Equal(event.Type, rtdb.EventTypeKeepAlive)

	_, err = nextEvent(context.Background(), reader)
	is.Equal(err, io.EOF) // exactly one event should be produced
}

func TestNextEventParsesPut(t *testing.T) {
	is := is.New(t)
	reader := bufio.NewReader(strings.NewReader("event: put\ndata: {\"path\":\"/\",\"data\":{\"a\":1}}"))

	event, err := nextEvent(context.Background(), reader)

	is.NoErr(err)
	is.Equal(event.Type, rtdb.EventTypePut)
	is.Equal(event.Put["path"], "/")

	nested, ok := event.Put["data"].(map[string]any)
	is.True(ok)
	is.Equal(nested["a"], float64(1))
}

func TestNextEventDropsMalformedPutData(t *testing.T) {
	is := is.New(t)
	reader := bufio.NewReader(strings.NewReader("event: put\ndata: not-json"))

	_, err := nextEvent(context.Background(), reader)

	is.Equal(err, io.EOF) // no event should be produced
}

func TestNextEventDropsNonObjectPutData(t *testing.T) {
	is := is.New(t)
	reader := bufio.NewReader(strings.NewReader("event: put\ndata: null\n"))

	_, err := nextEvent(context.Background(), reader)

	is.Equal(err, io.EOF) // no event should be produced
}

func TestNextEventDropsUnknownEvents(t *testing.T) {
	is := is.New(t)
	reader := bufio.NewReader(strings.NewReader("event: mystery\ndata: whatever\n"))

	_, err := nextEvent(context.Background(), reader)

	is.Equal(err, io.EOF) // no event should be produced
}

func TestListenEmitsKeepAliveAndClosesOnStreamEnd(t *testing.T) {
	is := is.New(t)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		is.Equal(r.Header.Get("Accept"), "text/event-stream")

		w.Header().Set("Content-Type", "text/event-stream")
		w.WriteHeader(http.StatusOK)

		io.WriteString(w, "event: keep-alive\n\n")
		w.(http.Flusher).Flush()
	}))
	defer srv.Close()

	c := New(srv.URL, "", "")

	s, err := c.Listen(context.Background(), "")
	is.NoErr(err)
	defer s.Close()

	event, ok := <-s.Events()
	is.True(ok)
	is.Equal(event.Type, rtdb.EventTypeKeepAlive)

	_, ok = <-s.Events()
	is.True(!ok) // channel should close silently when the stream ends
}

func TestListenEmitsPut(t *testing.T) {
	is := is.New(t)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		w.WriteHeader(http.StatusOK)

		io.WriteString(w, "event: put\ndata: {\"path\":\"/rooms\",\"data\":{\"a\":1}}\n\n")
		w.(http.Flusher).Flush()
	}))
	defer srv.Close()

	c := New(srv.URL, "", "")

	s, err := c.Listen(context.Background(), "")
	is.NoErr(err)
	defer s.Close()

	event, ok := <-s.Events()
	is.True(ok)
	is.Equal(event.Type, rtdb.EventTypePut)
	is.Equal(event.Put["path"], "/rooms")
}

func TestListenFollowsRedirects(t *testing.T) {
	is := is.New(t)

	requestedPaths := make(chan string, 2)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestedPaths <- r.URL.Path

		if r.URL.Path == "/.json" {
			w.Header().Set("Location", "http://"+r.Host+"/moved.json")
			w.WriteHeader(http.StatusTemporaryRedirect)
			return
		}

		w.Header().Set("Content-Type", "text/event-stream")
		w.WriteHeader(http.StatusOK)

		io.WriteString(w, "event: keep-alive\n\n")
		w.(http.Flusher).Flush()
	}))
	defer srv.Close()

	c := New(srv.URL, "", "")

	s, err := c.Listen(context.Background(), "")
	is.NoErr(err)
	defer s.Close()

	event, ok := <-s.Events()
	is.True(ok) // the stream should survive the redirect without a closed notification
	is.Equal(event.Type, rtdb.EventTypeKeepAlive)

	is.Equal(<-requestedPaths, "/.json")
	is.Equal(<-requestedPaths, "/moved.json")
}

func TestCloseTearsDownTheConnection(t *testing.T) {
	is := is.New(t)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		w.WriteHeader(http.StatusOK)
		w.(http.Flusher).Flush()

		<-r.Context().Done()
	}))
	defer srv.Close()

	c := New(srv.URL, "", "")

	s, err := c.Listen(context.Background(), "")
	is.NoErr(err)

	s.Close()

	_, ok := <-s.Events()
	is.True(!ok) // channel should close once the connection is torn down
}

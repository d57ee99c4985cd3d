package client

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/diwise/service-chassis/pkg/infrastructure/o11y/logging"
	"github.com/diwise/service-chassis/pkg/infrastructure/o11y/tracing"
	"github.com/rediaas/firebase-rest/pkg/rtdb"
	"github.com/rediaas/firebase-rest/pkg/rtdb/errors"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Stream is a handle to a single long lived event stream connection. Events
// are delivered on the channel returned from Events. The channel is closed
// when the connection terminates, with no distinction between clean closure
// and error closure.
type Stream struct {
	events chan rtdb.Event
	cancel context.CancelFunc
}

func (s *Stream) Events() <-chan rtdb.Event {
	return s.events
}

// Close cancels the stream connection. The events channel is closed once the
// connection has been torn down.
func (s *Stream) Close() {
	s.cancel()
}

const (
	keepAliveHeader string = "event: keep-alive\n"
	putHeader       string = "event: put\n"
)

// Listen opens a persistent GET request against the endpoint and parses the
// incoming server-sent events. The returned handle must be closed by the
// caller to release the connection; SetHost does not do it.
func (c *rtdbClient) Listen(ctx context.Context, query string) (*Stream, error) {
	var err error

	ctx, span := tracer.Start(ctx, "listen",
		trace.WithAttributes(attribute.String(TraceAttributeEndpoint, c.host)),
	)
	defer func() { tracing.RecordAnyErrorAndEndSpan(err, span) }()

	ctx, cancel := context.WithCancel(ctx)

	resp, err := c.open(ctx, c.BuildPath(query))
	if err != nil {
		cancel()
		return nil, err
	}

	s := &Stream{
		events: make(chan rtdb.Event),
		cancel: cancel,
	}

	go s.run(ctx, resp)

	return s, nil
}

// open issues a streaming GET request. Automatic redirect following is
// disabled so that the database's stream redirects can be handled here: a
// redirect response is not stream end, the request is re-issued against the
// reported target instead.
func (c *rtdbClient) open(ctx context.Context, streamURL string) (*http.Response, error) {
	httpClient := http.Client{
		Transport: otelhttp.NewTransport(http.DefaultTransport),
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}

	for {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, streamURL, nil)
		if err != nil {
			return nil, fmt.Errorf("failed to create request: %s (%w)", err.Error(), errors.ErrInternal)
		}

		req.Header.Add("Accept", "text/event-stream")

		resp, err := httpClient.Do(req)
		if err != nil {
			return nil, fmt.Errorf("failed to send request: %s (%w)", err.Error(), errors.ErrRequest)
		}

		location := resp.Header.Get("Location")
		if resp.StatusCode >= http.StatusMultipleChoices && resp.StatusCode < http.StatusBadRequest && location != "" {
			resp.Body.Close()
			streamURL = location
			continue
		}

		return resp, nil
	}
}

func (s *Stream) run(ctx context.Context, resp *http.Response) {
	defer close(s.events)
	defer resp.Body.Close()

	logger := logging.GetFromContext(ctx)
	reader := bufio.NewReader(resp.Body)

	for {
		event, err := nextEvent(ctx, reader)
		if err != nil {
			if err != io.EOF && ctx.Err() == nil {
				logger.Warn("event stream terminated", "err", err.Error())
			}
			return
		}

		select {
		case s.events <- event:
		case <-ctx.Done():
			return
		}
	}
}

// nextEvent reads server-sent events until one parses into an Event. Each
// event arrives as a header line followed by a data line. Header lines are
// matched byte for byte, trailing newline included. Events that fail to
// parse are logged and dropped without any further consequence.
func nextEvent(ctx context.Context, reader *bufio.Reader) (rtdb.Event, error) {
	logger := logging.GetFromContext(ctx)

	for {
		header, err := reader.ReadString('\n')
		if err != nil {
			return rtdb.Event{}, err
		}

		if header == "\n" || header == "\r\n" {
			continue
		}

		data, err := reader.ReadString('\n')
		if err != nil && err != io.EOF {
			return rtdb.Event{}, err
		}

		switch header {
		case keepAliveHeader:
			return rtdb.NewKeepAliveEvent(), nil
		case putHeader:
			object, parseErr := parsePutData(data)
			if parseErr != nil {
				logger.Warn("malformed put data", "data", strings.TrimSpace(data), "err", parseErr.Error())
			} else {
				return rtdb.NewPutEvent(object), nil
			}
		default:
			logger.Warn("unknown event received on stream", "header", strings.TrimSpace(header))
		}

		if err == io.EOF {
			return rtdb.Event{}, io.EOF
		}
	}
}

// parsePutData strips the "data: " prefix convention by taking everything
// after the first colon and requires the remainder to be a JSON object.
func parsePutData(data string) (map[string]any, error) {
	var value string

	if index := strings.Index(data, ":"); index > 0 {
		value = data[index+1:]
	}

	value = strings.TrimSpace(value)

	var decoded any
	err := json.Unmarshal([]byte(value), &decoded)
	if err != nil {
		return nil, err
	}

	object, ok := decoded.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("payload is not a JSON object")
	}

	return object, nil
}

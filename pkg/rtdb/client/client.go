package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httputil"
	"net/url"
	"strings"

	"github.com/diwise/service-chassis/pkg/infrastructure/o11y/logging"
	"github.com/diwise/service-chassis/pkg/infrastructure/o11y/tracing"
	"github.com/rediaas/firebase-rest/pkg/rtdb"
	"github.com/rediaas/firebase-rest/pkg/rtdb/errors"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

type RealtimeDatabaseClient interface {
	BuildPath(query string) string
	Read(ctx context.Context, query string) ([]byte, error)
	Write(ctx context.Context, body any, verb, query string) error
	CallFunction(ctx context.Context, name string) (*rtdb.FunctionCallResult, error)
	Listen(ctx context.Context, query string) (*Stream, error)
	SetHost(host, dbPath string)
}

func Debug(enabled string) func(*rtdbClient) {
	return func(c *rtdbClient) {
		c.debug = (enabled == "true")
	}
}

// AuthToken configures a database secret or id token to be passed in the auth
// query parameter of every database request.
func AuthToken(token string) func(*rtdbClient) {
	return func(c *rtdbClient) {
		c.authToken = token
	}
}

// New creates a client for the Firebase Realtime Database REST API. The host
// is normalized to end with a single path separator before dbPath is appended.
// An empty host operates on the database root. No network traffic is generated
// until one of the request operations is invoked.
func New(host, functionHost, dbPath string, options ...func(*rtdbClient)) RealtimeDatabaseClient {
	c := &rtdbClient{
		functionHost: functionHost,
		debug:        false,
	}

	c.SetHost(host, dbPath)

	for _, option := range options {
		option(c)
	}

	return c
}

const (
	TraceAttributeEndpoint     string = "rtdb-endpoint"
	TraceAttributeFunctionName string = "function-name"
	TraceAttributeVerb         string = "request-verb"

	// The Realtime Database REST API ignores the content type of write
	// requests, and existing deployments of this client have always sent
	// form-urlencoded. Changing it would change wire behavior, so it stays.
	writeContentType string = "application/x-www-form-urlencoded"

	defaultWriteVerb string = http.MethodPatch
)

var tracer = otel.Tracer("firebase-rest/client")

type rtdbClient struct {
	host         string
	functionHost string
	authToken    string
	debug        bool
}

// SetHost re-normalizes and replaces the active endpoint. Streams opened
// against the previous endpoint are not closed by this operation: callers
// keep the *Stream handle and are expected to Close it themselves before
// listening against the new host.
func (c *rtdbClient) SetHost(host, dbPath string) {
	c.host = forceSuffix(strings.TrimSpace(host), "/") + strings.TrimSpace(dbPath)
}

// BuildPath returns the URL that a database request with the given query
// would be sent to. Useful for debugging.
func (c *rtdbClient) BuildPath(query string) string {
	destination := c.host

	const dotJSON = ".json"
	if len(destination) <= len(dotJSON) || !strings.HasSuffix(destination, dotJSON) {
		destination += dotJSON
	}

	if c.authToken != "" {
		auth := "auth=" + url.QueryEscape(c.authToken)
		if query == "" {
			query = auth
		} else {
			query += "&" + auth
		}
	}

	if len(query) > 0 {
		destination += forcePrefix(query, "?")
	}

	return destination
}

// Write marshals body to its compact JSON form and sends it with the given
// verb (PUT, POST, PATCH or DELETE, defaulting to PATCH). The response body
// is discarded; only transport level failures are reported.
func (c *rtdbClient) Write(ctx context.Context, body any, verb, query string) error {
	var err error

	if verb == "" {
		verb = defaultWriteVerb
	}

	ctx, span := tracer.Start(ctx, "write-value",
		trace.WithAttributes(attribute.String(TraceAttributeEndpoint, c.host)),
		trace.WithAttributes(attribute.String(TraceAttributeVerb, verb)),
	)
	defer func() { tracing.RecordAnyErrorAndEndSpan(err, span) }()

	jsonBytes, err := json.Marshal(body)
	if err != nil {
		err = fmt.Errorf("failed to marshal request body: %s (%w)", err.Error(), errors.ErrInternal)
		return err
	}

	headers := map[string][]string{"Content-Type": {writeContentType}}

	_, _, err = c.callDatabase(ctx, verb, c.BuildPath(query), bytes.NewBuffer(jsonBytes), headers)

	return err
}

// Read sends a GET request against the endpoint and returns the raw response
// body. Response status is not inspected; whatever the database returns is
// handed to the caller as is.
func (c *rtdbClient) Read(ctx context.Context, query string) ([]byte, error) {
	var err error

	ctx, span := tracer.Start(ctx, "read-value",
		trace.WithAttributes(attribute.String(TraceAttributeEndpoint, c.host)),
	)
	defer func() { tracing.RecordAnyErrorAndEndSpan(err, span) }()

	_, responseBody, err := c.callDatabase(ctx, http.MethodGet, c.BuildPath(query), nil, nil)
	if err != nil {
		return nil, err
	}

	return responseBody, nil
}

// CallFunction sends a GET request to functionHost + name and returns the
// full response body.
func (c *rtdbClient) CallFunction(ctx context.Context, name string) (*rtdb.FunctionCallResult, error) {
	var err error

	ctx, span := tracer.Start(ctx, "call-function",
		trace.WithAttributes(attribute.String(TraceAttributeFunctionName, name)),
	)
	defer func() { tracing.RecordAnyErrorAndEndSpan(err, span) }()

	_, responseBody, err := c.callDatabase(ctx, http.MethodGet, c.functionHost+name, nil, nil)
	if err != nil {
		return nil, err
	}

	return rtdb.NewFunctionCallResult(responseBody), nil
}

func (c *rtdbClient) callDatabase(ctx context.Context, method, endpoint string, body io.Reader, headers map[string][]string) (*http.Response, []byte, error) {
	httpClient := http.Client{
		Transport: otelhttp.NewTransport(http.DefaultTransport),
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create request: %s (%w)", err.Error(), errors.ErrInternal)
	}

	for header, headerValue := range headers {
		for _, val := range headerValue {
			req.Header.Add(header, val)
		}
	}

	resp, err := httpClient.Do(req)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to send request: %s (%w)", err.Error(), errors.ErrRequest)
	}

	defer resp.Body.Close()
	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read response body: %s (%w)", err.Error(), errors.ErrBadResponse)
	}

	if c.debug && resp.StatusCode >= http.StatusBadRequest {
		reqbytes, _ := httputil.DumpRequest(req, false)
		respbytes, _ := httputil.DumpResponse(resp, false)

		log := logging.GetFromContext(ctx)
		log.Warn("database request failed", "request", string(reqbytes), "response", string(respbytes))
	}

	return resp, respBody, nil
}

func forceSuffix(s, suffix string) string {
	if !strings.HasSuffix(s, suffix) {
		return s + suffix
	}

	return s
}

func forcePrefix(s, prefix string) string {
	if len(s) > 0 && !strings.HasPrefix(s, prefix) {
		return prefix + s
	}

	return s
}

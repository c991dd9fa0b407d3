package testutil

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
)

// CallbackRequest is one PUT received by a CallbackServer.
type CallbackRequest struct {
	Method        string
	Path          string
	ContentType   []string
	ContentLength int64
	Body          []byte
}

// Decode unmarshals the request body.
func (r CallbackRequest) Decode(t *testing.T) map[string]interface{} {
	t.Helper()

	var body map[string]interface{}
	if err := json.Unmarshal(r.Body, &body); err != nil {
		t.Fatalf("callback body is not JSON: %v", err)
	}
	return body
}

// CallbackServer stands in for the orchestrator's presigned response URL.
// Statuses are returned in order; once they run out every request gets 200.
//
// Example usage:
//
//	server := NewCallbackServer(t, http.StatusServiceUnavailable)
//	err := reporter.Report(ctx, server.URL(), resp)
//	assert.Len(t, server.Requests(), 2)
type CallbackServer struct {
	server *httptest.Server

	mu       sync.Mutex
	statuses []int
	requests []CallbackRequest
}

// NewCallbackServer starts a server that is closed when the test ends.
func NewCallbackServer(t *testing.T, statuses ...int) *CallbackServer {
	t.Helper()

	s := &CallbackServer{statuses: statuses}
	s.server = httptest.NewServer(http.HandlerFunc(s.serve))
	t.Cleanup(s.server.Close)
	return s
}

func (s *CallbackServer) serve(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)

	s.mu.Lock()
	s.requests = append(s.requests, CallbackRequest{
		Method:        r.Method,
		Path:          r.URL.Path,
		ContentType:   r.Header.Values("Content-Type"),
		ContentLength: r.ContentLength,
		Body:          body,
	})
	status := http.StatusOK
	if len(s.statuses) > 0 {
		status, s.statuses = s.statuses[0], s.statuses[1:]
	}
	s.mu.Unlock()

	w.WriteHeader(status)
	if status >= 400 {
		_, _ = w.Write([]byte("<Error><Code>SignatureDoesNotMatch</Code></Error>"))
	}
}

// URL returns the base URL of the server.
func (s *CallbackServer) URL() string {
	return s.server.URL
}

// Requests returns the requests received so far.
func (s *CallbackServer) Requests() []CallbackRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]CallbackRequest(nil), s.requests...)
}

// Close stops the server early, e.g. to simulate a refused connection.
func (s *CallbackServer) Close() {
	s.server.Close()
}

package testutil

import (
	"bytes"
	"io"
	"net/http"
	"sync"
)

// RecordedRequest is one request observed by a fake server.
type RecordedRequest struct {
	Seq     int64
	Service string
	Method  string
	Path    string
	Query   string
	Body    []byte
}

// Recorder captures the requests of one or more fake servers in arrival
// order, stamping each with a seq from a shared DeterministicClock.
type Recorder struct {
	mu       sync.Mutex
	clock    *DeterministicClock
	requests []RecordedRequest
}

// NewRecorder creates an empty recorder.
func NewRecorder() *Recorder {
	return &Recorder{clock: NewDeterministicClock()}
}

// Wrap returns a handler that records each request under service before
// passing it to next. The request body is restored for next to read.
func (r *Recorder) Wrap(service string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		var body []byte
		if req.Body != nil {
			body, _ = io.ReadAll(req.Body)
			_ = req.Body.Close()
			req.Body = io.NopCloser(bytes.NewReader(body))
		}
		r.Record(RecordedRequest{
			Service: service,
			Method:  req.Method,
			Path:    req.URL.Path,
			Query:   req.URL.RawQuery,
			Body:    body,
		})
		next.ServeHTTP(w, req)
	})
}

// Record appends rec with the next seq and returns the stamped copy.
func (r *Recorder) Record(rec RecordedRequest) RecordedRequest {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec.Seq = r.clock.Next()
	r.requests = append(r.requests, rec)
	return rec
}

// Requests returns a copy of everything recorded so far.
func (r *Recorder) Requests() []RecordedRequest {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]RecordedRequest, len(r.requests))
	copy(out, r.requests)
	return out
}

// Since returns the requests with seq greater than seq.
func (r *Recorder) Since(seq int64) []RecordedRequest {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []RecordedRequest
	for _, rec := range r.requests {
		if rec.Seq > seq {
			out = append(out, rec)
		}
	}
	return out
}

// Seq returns the seq of the last recorded request, or 0.
func (r *Recorder) Seq() int64 {
	return r.clock.Current()
}

// Reset drops all requests and restarts seq at 1.
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.requests = nil
	r.clock.Reset()
}

// Package testutil provides configurable test fakes for proxy interfaces.
package testutil

import (
	"context"
	"net/http"
	"sync/atomic"

	raskol "github.com/eugener/raskol/internal"
	"github.com/eugener/raskol/internal/upstream"
)

// FakeUpstream is a configurable server.Forwarder for testing. It counts
// calls so tests can assert whether a request reached the upstream.
type FakeUpstream struct {
	ForwardFn func(ctx context.Context, method, pathAndQuery string, header http.Header, body []byte) (*upstream.Result, error)

	calls atomic.Int64
}

// Forward delegates to ForwardFn or returns a default JSON completion
// carrying usage.total_tokens = 42.
func (f *FakeUpstream) Forward(ctx context.Context, method, pathAndQuery string, header http.Header, body []byte) (*upstream.Result, error) {
	f.calls.Add(1)
	if f.ForwardFn != nil {
		return f.ForwardFn(ctx, method, pathAndQuery, header, body)
	}
	return &upstream.Result{
		Status:   http.StatusOK,
		Header:   http.Header{"Content-Type": []string{"application/json"}},
		Body:     []byte(`{"choices":[{"message":{"content":"ok"}}],"usage":{"total_tokens":42}}`),
		Usage:    raskol.Usage{TotalTokens: 42},
		HasUsage: true,
	}, nil
}

// Calls returns how many times Forward was invoked.
func (f *FakeUpstream) Calls() int64 { return f.calls.Load() }

package upstream

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	raskol "github.com/eugener/raskol/internal"
)

// newTestUpstream starts a TLS server and returns a Client pointed at it.
func newTestUpstream(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewTLSServer(handler)
	t.Cleanup(srv.Close)
	target := strings.TrimPrefix(srv.URL, "https://")
	return New(target, "shared-upstream-token", Options{Insecure: true})
}

func TestForward_SubstitutesCredential(t *testing.T) {
	t.Parallel()

	var gotAuth, gotCustom string
	c := newTestUpstream(t, func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotCustom = r.Header.Get("X-Custom")
		w.WriteHeader(http.StatusOK)
	})

	inbound := http.Header{}
	inbound.Set("Authorization", "Bearer caller-jwt")
	inbound.Set("X-Custom", "kept")
	inbound.Set("Connection", "close")

	res, err := c.Forward(context.Background(), http.MethodPost, "/openai/v1/chat/completions", inbound, []byte(`{}`))
	if err != nil {
		t.Fatalf("Forward: %v", err)
	}
	if res.Status != http.StatusOK {
		t.Errorf("Status = %d, want 200", res.Status)
	}
	if gotAuth != "Bearer shared-upstream-token" {
		t.Errorf("upstream saw Authorization %q, want shared credential", gotAuth)
	}
	if gotCustom != "kept" {
		t.Errorf("X-Custom = %q, want kept", gotCustom)
	}
}

func TestForward_PreservesMethodPathQueryBody(t *testing.T) {
	t.Parallel()

	var gotMethod, gotURI, gotBody string
	c := newTestUpstream(t, func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		gotURI = r.URL.RequestURI()
		b, _ := io.ReadAll(r.Body)
		gotBody = string(b)
		w.WriteHeader(http.StatusOK)
	})

	_, err := c.Forward(context.Background(), http.MethodPost, "/v1/models?limit=5&after=x", nil, []byte(`{"model":"m"}`))
	if err != nil {
		t.Fatalf("Forward: %v", err)
	}
	if gotMethod != http.MethodPost {
		t.Errorf("method = %q", gotMethod)
	}
	if gotURI != "/v1/models?limit=5&after=x" {
		t.Errorf("uri = %q, want query preserved", gotURI)
	}
	if gotBody != `{"model":"m"}` {
		t.Errorf("body = %q", gotBody)
	}
}

func TestForward_ErrorStatusPassthrough(t *testing.T) {
	t.Parallel()

	c := newTestUpstream(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusTooManyRequests)
		w.Write([]byte(`{"error":{"message":"upstream says no"}}`))
	})

	res, err := c.Forward(context.Background(), http.MethodPost, "/v1/chat", nil, nil)
	if err != nil {
		t.Fatalf("Forward must not error on upstream 429: %v", err)
	}
	if res.Status != http.StatusTooManyRequests {
		t.Errorf("Status = %d, want 429", res.Status)
	}
	if res.HasUsage {
		t.Error("HasUsage = true for non-2xx response")
	}
	if !strings.Contains(string(res.Body), "upstream says no") {
		t.Errorf("Body = %q, want verbatim upstream body", res.Body)
	}
}

func TestForward_ExtractsUsage(t *testing.T) {
	t.Parallel()

	c := newTestUpstream(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{
			"choices": [{"message": {"content": "hi"}}],
			"usage": {
				"prompt_tokens": 10,
				"completion_tokens": 32,
				"total_tokens": 42,
				"queue_time": 0.01,
				"prompt_time": 0.2,
				"completion_time": 1.5,
				"total_time": 1.71
			}
		}`))
	})

	res, err := c.Forward(context.Background(), http.MethodPost, "/v1/chat", nil, nil)
	if err != nil {
		t.Fatalf("Forward: %v", err)
	}
	if !res.HasUsage {
		t.Fatal("HasUsage = false, want usage extracted")
	}
	want := raskol.Usage{TotalTokens: 42, QueueTime: 0.01, PromptTime: 0.2, CompletionTime: 1.5, TotalTime: 1.71}
	if res.Usage != want {
		t.Errorf("Usage = %+v, want %+v", res.Usage, want)
	}
}

func TestForward_NoUsage(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name        string
		contentType string
		body        string
	}{
		{"non-json content type", "text/event-stream", `{"usage":{"total_tokens":42}}`},
		{"invalid json", "application/json", `{"usage": tru`},
		{"missing usage", "application/json", `{"choices":[]}`},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			c := newTestUpstream(t, func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", tc.contentType)
				w.Write([]byte(tc.body))
			})
			res, err := c.Forward(context.Background(), http.MethodPost, "/v1/chat", nil, nil)
			if err != nil {
				t.Fatalf("Forward: %v", err)
			}
			if res.HasUsage {
				t.Errorf("HasUsage = true, want false")
			}
		})
	}
}

func TestForward_TransportError(t *testing.T) {
	t.Parallel()

	// Port from a listener that was immediately closed: connection refused.
	srv := httptest.NewServer(http.NotFoundHandler())
	target := strings.TrimPrefix(srv.URL, "http://")
	srv.Close()

	c := New(target, "tok", Options{Insecure: true})
	_, err := c.Forward(context.Background(), http.MethodPost, "/v1/chat", nil, nil)
	if !errors.Is(err, raskol.ErrUpstreamUnreachable) {
		t.Fatalf("err = %v, want ErrUpstreamUnreachable", err)
	}
}

func TestForward_FiltersHopByHopResponseHeaders(t *testing.T) {
	t.Parallel()

	c := newTestUpstream(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Ratelimit-Remaining", "99")
		w.WriteHeader(http.StatusOK)
	})

	res, err := c.Forward(context.Background(), http.MethodPost, "/v1/chat", nil, nil)
	if err != nil {
		t.Fatalf("Forward: %v", err)
	}
	if got := res.Header.Get("X-Ratelimit-Remaining"); got != "99" {
		t.Errorf("X-Ratelimit-Remaining = %q, want 99", got)
	}
	if _, ok := res.Header["Connection"]; ok {
		t.Error("hop-by-hop Connection header leaked through")
	}
}

func TestReadBounded(t *testing.T) {
	t.Parallel()

	body, err := readBounded(strings.NewReader("exactly10!"), 10)
	if err != nil {
		t.Fatalf("readBounded at limit: %v", err)
	}
	if string(body) != "exactly10!" {
		t.Errorf("body = %q", body)
	}

	_, err = readBounded(strings.NewReader("eleven bytes"), 10)
	if !errors.Is(err, raskol.ErrResponseTooLarge) {
		t.Fatalf("err = %v, want ErrResponseTooLarge", err)
	}
}

func TestForward_OversizedBodyRejected(t *testing.T) {
	t.Parallel()

	big := strings.Repeat("x", maxResponseBody+1)
	c := newTestUpstream(t, func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, big)
	})

	_, err := c.Forward(context.Background(), http.MethodPost, "/v1/chat", nil, nil)
	if !errors.Is(err, raskol.ErrResponseTooLarge) {
		t.Fatalf("err = %v, want ErrResponseTooLarge", err)
	}
}

func TestExtractUsage_TotalOnly(t *testing.T) {
	t.Parallel()

	u, ok := extractUsage("application/json; charset=utf-8", []byte(`{"usage":{"total_tokens":7}}`))
	if !ok {
		t.Fatal("ok = false")
	}
	if u.TotalTokens != 7 {
		t.Errorf("TotalTokens = %d, want 7", u.TotalTokens)
	}
	if u.QueueTime != 0 || u.TotalTime != 0 {
		t.Errorf("timings = %+v, want zeros", u)
	}
}

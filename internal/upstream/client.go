// Package upstream forwards requests to the shared-credential target
// API over HTTPS. The proxy's whole point lives here: the caller's
// Authorization header is stripped and the configured credential is
// substituted before the request leaves the process.
package upstream

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/rs/dnscache"
	"github.com/tidwall/gjson"
	"go.opentelemetry.io/otel/attribute"

	raskol "github.com/eugener/raskol/internal"
	"github.com/eugener/raskol/internal/telemetry"
)

// Response bodies are buffered whole for usage extraction, so they must
// be bounded. Exceeding the bound fails the forward with
// raskol.ErrResponseTooLarge rather than passing a truncated body off as
// verbatim.
const maxResponseBody = 32 << 20

// hopByHop headers that must not be forwarded between client and upstream.
var hopByHopHeaders = map[string]struct{}{
	"Connection":          {},
	"Keep-Alive":          {},
	"Proxy-Authenticate":  {},
	"Proxy-Authorization": {},
	"Te":                  {},
	"Trailer":             {},
	"Transfer-Encoding":   {},
	"Upgrade":             {},
}

// Result is one upstream exchange: verbatim status, headers, and body,
// plus the usage block extracted from JSON bodies for accounting.
type Result struct {
	Status   int
	Header   http.Header
	Body     []byte
	Usage    raskol.Usage
	HasUsage bool
}

// Client dispatches requests to a fixed target host with credential
// substitution. It performs no retries; transport failures surface as
// raskol.ErrUpstreamUnreachable.
type Client struct {
	target    string // host[:port], no scheme
	authToken string
	timeout   time.Duration // 0 = no deadline
	http      *http.Client
}

// Options configure a Client beyond the required target and credential.
type Options struct {
	Timeout  time.Duration // per-call deadline; 0 disables
	Insecure bool          // skip TLS verification (development only)
}

// New creates a Client for https://target. The transport pools
// connections and caches DNS lookups for the single target host.
func New(target, authToken string, opts Options) *Client {
	return &Client{
		target:    target,
		authToken: authToken,
		timeout:   opts.Timeout,
		http:      &http.Client{Transport: newTransport(opts.Insecure)},
	}
}

// newTransport returns a tuned *http.Transport with connection pooling
// and DNS caching for the target host.
func newTransport(insecure bool) *http.Transport {
	resolver := &dnscache.Resolver{}
	t := &http.Transport{
		MaxIdleConnsPerHost: 100,
		MaxConnsPerHost:     200,
		IdleConnTimeout:     90 * time.Second,
		ForceAttemptHTTP2:   true,
		TLSHandshakeTimeout: 5 * time.Second,
		DialContext: func(ctx context.Context, network, addr string) (net.Conn, error) {
			host, port, err := net.SplitHostPort(addr)
			if err != nil {
				return nil, err
			}
			ips, err := resolver.LookupHost(ctx, host)
			if err != nil {
				return nil, err
			}
			var d net.Dialer
			return d.DialContext(ctx, network, net.JoinHostPort(ips[0], port))
		},
	}
	if insecure {
		t.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
	}
	return t
}

// Forward sends one request to https://<target><pathAndQuery> and
// returns the upstream's verbatim response. Inbound Authorization,
// Host, and hop-by-hop headers are dropped; the shared credential is
// injected. Any upstream HTTP status is a successful forward -- only
// transport failures return an error.
func (c *Client) Forward(ctx context.Context, method, pathAndQuery string, header http.Header, body []byte) (*Result, error) {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	tracer := telemetry.Tracer("raskol/upstream")
	ctx, span := tracer.Start(ctx, "upstream.forward")
	defer span.End()
	span.SetAttributes(
		attribute.String("http.method", method),
		attribute.String("url.path", pathAndQuery),
	)

	url := "https://" + c.target + pathAndQuery
	req, err := http.NewRequestWithContext(ctx, method, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("upstream: create request: %w", err)
	}

	copyInboundHeaders(req.Header, header)
	req.Header.Set("Authorization", "Bearer "+c.authToken)
	req.Host = c.target

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", raskol.ErrUpstreamUnreachable, err)
	}
	defer resp.Body.Close()
	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))

	respBody, err := readBounded(resp.Body, maxResponseBody)
	if err != nil {
		if errors.Is(err, raskol.ErrResponseTooLarge) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: read body: %v", raskol.ErrUpstreamUnreachable, err)
	}

	res := &Result{
		Status: resp.StatusCode,
		Header: filterHeaders(resp.Header),
		Body:   respBody,
	}
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		res.Usage, res.HasUsage = extractUsage(resp.Header.Get("Content-Type"), respBody)
	}
	return res, nil
}

// copyInboundHeaders copies client request headers onto the outbound
// request, dropping hop-by-hop headers plus the ones the proxy rewrites.
func copyInboundHeaders(dst, src http.Header) {
	for key, vals := range src {
		if _, hop := hopByHopHeaders[key]; hop {
			continue
		}
		switch key {
		case "Authorization", "Host", "Content-Length":
			continue
		}
		dst[key] = vals
	}
}

// readBounded reads r in full, failing with raskol.ErrResponseTooLarge
// when more than limit bytes arrive. One extra byte is read to tell
// "exactly limit" apart from "over limit".
func readBounded(r io.Reader, limit int64) ([]byte, error) {
	body, err := io.ReadAll(io.LimitReader(r, limit+1))
	if err != nil {
		return nil, err
	}
	if int64(len(body)) > limit {
		return nil, fmt.Errorf("%w: body exceeds %d bytes", raskol.ErrResponseTooLarge, limit)
	}
	return body, nil
}

// filterHeaders returns a copy of h without hop-by-hop headers.
func filterHeaders(h http.Header) http.Header {
	out := make(http.Header, len(h))
	for key, vals := range h {
		if _, hop := hopByHopHeaders[key]; hop {
			continue
		}
		out[key] = vals
	}
	return out
}

// extractUsage pulls the usage block out of a JSON response body.
// Non-JSON bodies and JSON without usage.total_tokens record nothing.
func extractUsage(contentType string, body []byte) (raskol.Usage, bool) {
	if !strings.Contains(contentType, "application/json") {
		return raskol.Usage{}, false
	}
	if !gjson.ValidBytes(body) {
		return raskol.Usage{}, false
	}
	total := gjson.GetBytes(body, "usage.total_tokens")
	if !total.Exists() {
		return raskol.Usage{}, false
	}
	return raskol.Usage{
		TotalTokens:    total.Uint(),
		QueueTime:      gjson.GetBytes(body, "usage.queue_time").Float(),
		PromptTime:     gjson.GetBytes(body, "usage.prompt_time").Float(),
		CompletionTime: gjson.GetBytes(body, "usage.completion_time").Float(),
		TotalTime:      gjson.GetBytes(body, "usage.total_time").Float(),
	}, true
}

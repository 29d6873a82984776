package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	raskol "github.com/eugener/raskol/internal"
	"github.com/eugener/raskol/internal/admission"
)

// maxRequestBody bounds inbound bodies before they are buffered for
// forwarding.
const maxRequestBody = 10 << 20

// accountingTimeout bounds the post-response AddTokens write. Detached
// from the request context: accounting must run even when the client
// has already disconnected.
const accountingTimeout = 5 * time.Second

// handleForward runs the full pipeline for a proxied request: the
// caller is already authenticated and role-checked by middleware, so
// the steps here are admission, credential-substituted forwarding,
// token accounting, and verbatim response copy.
func (s *server) handleForward(w http.ResponseWriter, r *http.Request) {
	identity := raskol.IdentityFromContext(r.Context())

	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBody)
	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse("failed to read request body"))
		return
	}

	res, err := s.deps.Admission.Admit(r.Context(), identity.UID, s.now())
	if err != nil {
		s.writeAdmissionError(w, r.Context(), err)
		return
	}
	switch res.Decision {
	case admission.RejectRate:
		if s.deps.Metrics != nil {
			s.deps.Metrics.AdmissionRejects.WithLabelValues("rate").Inc()
		}
		w.Header().Set("Retry-After", strconv.FormatInt(res.RetryAfter, 10))
		writeJSON(w, http.StatusTooManyRequests, errorResponse(raskol.ErrRateLimited.Error()))
		return
	case admission.RejectQuota:
		if s.deps.Metrics != nil {
			s.deps.Metrics.AdmissionRejects.WithLabelValues("quota").Inc()
		}
		writeJSON(w, http.StatusTooManyRequests, errorResponse(raskol.ErrQuotaExceeded.Error()))
		return
	}

	pathAndQuery := r.URL.EscapedPath()
	if r.URL.RawQuery != "" {
		pathAndQuery += "?" + r.URL.RawQuery
	}

	start := time.Now()
	out, err := s.deps.Upstream.Forward(r.Context(), r.Method, pathAndQuery, r.Header, body)
	if s.deps.Metrics != nil {
		s.deps.Metrics.UpstreamDuration.Observe(time.Since(start).Seconds())
	}
	if err != nil {
		if errors.Is(err, context.Canceled) {
			// Client went away mid-flight; nothing to answer.
			return
		}
		if s.deps.Metrics != nil {
			s.deps.Metrics.UpstreamErrors.Inc()
		}
		slog.LogAttrs(r.Context(), slog.LevelError, "upstream call failed",
			slog.String("uid", identity.UID),
			slog.String("path", pathAndQuery),
			slog.String("error", err.Error()),
		)
		msg := raskol.ErrUpstreamUnreachable.Error()
		if errors.Is(err, raskol.ErrResponseTooLarge) {
			msg = raskol.ErrResponseTooLarge.Error()
		}
		writeJSON(w, http.StatusBadGateway, errorResponse(msg))
		return
	}

	// Account tokens before answering, dated by the upstream response
	// time in UTC. A bookkeeping failure must not penalize the client:
	// log and keep going.
	if out.Status >= 200 && out.Status < 300 && out.HasUsage {
		actx, cancel := context.WithTimeout(context.WithoutCancel(r.Context()), accountingTimeout)
		date := raskol.UTCDate(s.now())
		if err := s.deps.Store.AddTokens(actx, identity.UID, date, out.Usage.TotalTokens); err != nil {
			slog.LogAttrs(r.Context(), slog.LevelError, "token accounting failed",
				slog.String("uid", identity.UID),
				slog.String("date", date),
				slog.Uint64("tokens", out.Usage.TotalTokens),
				slog.String("error", err.Error()),
			)
		} else if s.deps.Metrics != nil {
			s.deps.Metrics.TokensRecorded.Add(float64(out.Usage.TotalTokens))
		}
		cancel()
	}

	copyResponseHeaders(w.Header(), out.Header)
	w.WriteHeader(out.Status)
	if _, err := w.Write(out.Body); err != nil {
		slog.LogAttrs(r.Context(), slog.LevelDebug, "response write failed",
			slog.String("error", err.Error()),
		)
	}
}

// copyResponseHeaders copies upstream headers to the client response.
// Content-Length is skipped; net/http recomputes it for the buffered body.
func copyResponseHeaders(dst, src http.Header) {
	for key, vals := range src {
		if key == "Content-Length" {
			continue
		}
		dst[key] = vals
	}
}

// writeAdmissionError renders store-level admission failures.
func (s *server) writeAdmissionError(w http.ResponseWriter, ctx context.Context, err error) {
	if errors.Is(err, raskol.ErrStoreBusy) {
		if s.deps.Metrics != nil {
			s.deps.Metrics.StoreBusy.Inc()
		}
		writeJSON(w, http.StatusServiceUnavailable, errorResponse(raskol.ErrStoreBusy.Error()))
		return
	}
	slog.LogAttrs(ctx, slog.LevelError, "admission failed",
		slog.String("error", err.Error()),
	)
	writeJSON(w, http.StatusInternalServerError, errorResponse("internal server error"))
}

type apiError struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

func errorResponse(msg string) apiError {
	var e apiError
	e.Error.Message = msg
	e.Error.Type = "invalid_request_error"
	return e
}

// jsonCT is a pre-allocated header value slice. Direct map assignment
// (w.Header()["Content-Type"] = jsonCT) avoids the []string{v} alloc
// that Header.Set creates on every call. Saves 1 alloc/req.
var jsonCT = []string{"application/json"}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header()["Content-Type"] = jsonCT
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}

package server

import (
	"errors"
	"log/slog"
	"net/http"

	raskol "github.com/eugener/raskol/internal"
)

// handleStats returns the accounting view of the authenticated caller.
func (s *server) handleStats(w http.ResponseWriter, r *http.Request) {
	identity := raskol.IdentityFromContext(r.Context())
	today := raskol.UTCDate(s.now())

	stats, err := s.deps.Store.StatsFor(r.Context(), identity.UID, today)
	if err != nil {
		s.writeStoreError(w, r, "stats query failed", err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// handleTotalStats returns every uid's stats. ADMIN only; the role gate
// lives in the requireAdmin middleware.
func (s *server) handleTotalStats(w http.ResponseWriter, r *http.Request) {
	today := raskol.UTCDate(s.now())

	stats, err := s.deps.Store.TotalStats(r.Context(), today)
	if err != nil {
		s.writeStoreError(w, r, "total stats query failed", err)
		return
	}
	if stats == nil {
		stats = []raskol.UserStats{}
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *server) writeStoreError(w http.ResponseWriter, r *http.Request, msg string, err error) {
	slog.LogAttrs(r.Context(), slog.LevelError, msg,
		slog.String("error", err.Error()),
	)
	if errors.Is(err, raskol.ErrStoreBusy) {
		writeJSON(w, http.StatusServiceUnavailable, errorResponse(raskol.ErrStoreBusy.Error()))
		return
	}
	writeJSON(w, http.StatusInternalServerError, errorResponse("internal server error"))
}

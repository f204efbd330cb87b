package api

import (
	"net/http"
	"strconv"

	"github.com/nerrad567/powersensor-core/internal/audit"
)

// handleListEvents returns lifecycle journal entries, newest first.
//
// Query parameters:
//   - mac: filter by device identity
//   - action: filter by action (plug_materialized, plug_removed, ...)
//   - limit: page size (default 50, max 200)
//   - offset: pagination offset
func (s *Server) handleListEvents(w http.ResponseWriter, r *http.Request) {
	if s.journal == nil {
		writeUnavailable(w, "lifecycle journal is disabled")
		return
	}

	q := r.URL.Query()
	filter := audit.Filter{
		MAC:    q.Get("mac"),
		Action: q.Get("action"),
	}
	for name, dst := range map[string]*int{"limit": &filter.Limit, "offset": &filter.Offset} {
		raw := q.Get(name)
		if raw == "" {
			continue
		}
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeBadRequest(w, name+" must be a non-negative integer")
			return
		}
		*dst = n
	}

	result, err := s.journal.List(r.Context(), filter)
	if err != nil {
		s.logger.Error("failed to list lifecycle events", "error", err)
		writeInternalError(w, "failed to list events")
		return
	}
	writeJSON(w, http.StatusOK, result)
}

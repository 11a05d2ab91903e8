package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"mdscloud.org/identity/internal/audit"
	"mdscloud.org/identity/internal/identity"
)

type landscapeEntry struct {
	Scope string `json:"scope"`
	Key   string `json:"key"`
	Value string `json:"value"`
}

// handleConfiguration serves the per-landscape endpoint registry. Reads list
// one scope; writes upsert a single (scope, key) value. Route access is
// limited to system-account members.
func (a *API) handleConfiguration(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		a.listConfiguration(w, r)
	case http.MethodPost:
		a.upsertConfiguration(w, r)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPost)
	}
}

func (a *API) listConfiguration(w http.ResponseWriter, r *http.Request) {
	scope := strings.TrimSpace(r.URL.Query().Get("scope"))
	if scope == "" {
		writeError(w, r, http.StatusBadRequest, "scope is required")
		return
	}
	entries, err := a.svc.LandscapeScope(r.Context(), scope)
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "configuration error")
		return
	}
	out := make([]landscapeEntry, 0, len(entries))
	for _, e := range entries {
		out = append(out, landscapeEntry{Scope: e.Scope, Key: e.Key, Value: e.Value})
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": out})
}

func (a *API) upsertConfiguration(w http.ResponseWriter, r *http.Request) {
	var req landscapeEntry
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if err := a.svc.SetLandscapeURL(r.Context(), req.Scope, req.Key, req.Value); err != nil {
		if errors.Is(err, identity.ErrInvalidInput) {
			writeError(w, r, http.StatusBadRequest, "scope and key are required")
			return
		}
		writeError(w, r, http.StatusInternalServerError, "configuration error")
		return
	}
	_ = audit.LogEvent(r.Context(), "configuration.updated", map[string]string{
		"scope": req.Scope,
		"key":   req.Key,
	})
	writeJSON(w, http.StatusOK, map[string]string{"status": "updated"})
}

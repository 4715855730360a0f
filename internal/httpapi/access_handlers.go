package httpapi

import (
	"net/http"
	"strings"

	"storekeep.dev/internal/authz"
)

type checkPermissionRequest struct {
	Permission string `json:"permission"`
}

func (a *API) handlePageAccess(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	name := strings.Trim(strings.TrimPrefix(r.URL.Path, "/v1/access/pages/"), "/")
	page, ok := authz.ParsePage(name)
	if !ok {
		writeError(w, r, http.StatusNotFound, "unknown page")
		return
	}
	d := a.guard.PageAccess(page)
	writeJSON(w, http.StatusOK, map[string]any{
		"page":     string(page),
		"allowed":  d.Allowed,
		"redirect": d.Redirect,
		"reason":   d.Reason,
	})
}

// handlePermissionLookup is the advisory table lookup the UI uses to show
// or hide controls. It never talks to the backend.
func (a *API) handlePermissionLookup(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	name := strings.Trim(strings.TrimPrefix(r.URL.Path, "/v1/access/permissions/"), "/")
	perm, ok := authz.ParsePermission(name)
	if !ok {
		writeError(w, r, http.StatusNotFound, "unknown permission")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"permission": string(perm),
		"allowed":    a.guard.Can(perm),
	})
}

// handlePermissionCheck is the authoritative gate called immediately
// before a mutation commits. It re-validates against the backend and
// denies on any doubt.
func (a *API) handlePermissionCheck(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var req checkPermissionRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	perm, ok := authz.ParsePermission(strings.TrimSpace(req.Permission))
	if !ok {
		writeError(w, r, http.StatusBadRequest, "unknown permission")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"permission": string(perm),
		"allowed":    a.guard.CheckPermission(r.Context(), perm),
	})
}

func (a *API) handleAccessState(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	res := a.guard.Resolution()
	writeJSON(w, http.StatusOK, map[string]any{
		"state":    string(a.guard.State()),
		"role":     string(res.Role),
		"verified": res.Verified,
		"is_owner": res.IsOwner,
		"source":   string(res.Source),
	})
}

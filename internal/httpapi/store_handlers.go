package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"storekeep.dev/internal/access"
	"storekeep.dev/internal/storectx"
)

type selectStoreRequest struct {
	StoreID string `json:"store_id"`
}

type storeView struct {
	ID       string  `json:"id"`
	Name     string  `json:"name"`
	Currency string  `json:"currency,omitempty"`
	TaxRate  float64 `json:"tax_rate,omitempty"`
}

func (a *API) handleStores(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	sess := a.sess.ActiveSession(r.Context())
	if sess == nil {
		writeError(w, r, http.StatusUnauthorized, "no active session")
		return
	}
	stores, err := a.dir.AccessibleStores(r.Context(), sess.Identity.ID())
	if err != nil {
		handleBackendError(w, r, err)
		return
	}
	items := make([]storeView, 0, len(stores))
	for _, st := range stores {
		items = append(items, storeView{ID: st.ID, Name: st.Name, Currency: st.Currency, TaxRate: st.TaxRate})
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

func (a *API) handleStoreSelect(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	sess := a.sess.ActiveSession(r.Context())
	if sess == nil {
		writeError(w, r, http.StatusUnauthorized, "no active session")
		return
	}
	var req selectStoreRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	req.StoreID = strings.TrimSpace(req.StoreID)
	if req.StoreID == "" {
		writeError(w, r, http.StatusBadRequest, "store_id is required")
		return
	}

	// A PIN session is welded to the store it was issued for. Rebinding to
	// another store invalidates it entirely rather than carrying cashier
	// authority across stores.
	if err := a.guard.SetContext(sess.Identity, req.StoreID); err != nil {
		if errors.Is(err, access.ErrStoreMismatch) {
			_ = a.sess.Clear(r.Context())
			if a.monitor != nil {
				a.monitor.Stop()
			}
			writeError(w, r, http.StatusConflict, "pin session is bound to another store; sign in again")
			return
		}
		writeError(w, r, http.StatusInternalServerError, "access context rebind failed")
		return
	}

	st, err := a.binder.Select(r.Context(), sess.Identity.ID(), req.StoreID)
	if err != nil {
		// Roll the guard back to the provisional no-store state.
		_ = a.guard.SetContext(sess.Identity, "")
		switch {
		case errors.Is(err, storectx.ErrNotAccessible):
			writeError(w, r, http.StatusForbidden, "store is not accessible to this identity")
		default:
			handleBackendError(w, r, err)
		}
		return
	}
	go func() { _, _ = a.guard.Resolve(a.detachedCtx()) }()

	writeJSON(w, http.StatusOK, storeView{ID: st.ID, Name: st.Name, Currency: st.Currency, TaxRate: st.TaxRate})
}

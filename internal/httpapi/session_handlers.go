package httpapi

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"storekeep.dev/internal/backend"
	"storekeep.dev/internal/session"
)

type accountLoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type pinLoginRequest struct {
	StoreID string `json:"store_id"`
	Pin     string `json:"pin"`
}

type identityView struct {
	Kind  string `json:"kind"`
	ID    string `json:"id"`
	Name  string `json:"name"`
	Role  string `json:"role,omitempty"`
	Store string `json:"store_id,omitempty"`
}

type sessionView struct {
	State     string        `json:"state"`
	Warning   bool          `json:"warning,omitempty"`
	ExpiresAt *time.Time    `json:"expires_at,omitempty"`
	Remaining int64         `json:"remaining_seconds,omitempty"`
	Identity  *identityView `json:"identity,omitempty"`
	StoreID   string        `json:"store_id,omitempty"`
	StoreName string        `json:"store_name,omitempty"`
}

func (a *API) handleAccountLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var req accountLoginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	req.Email = strings.TrimSpace(req.Email)
	if req.Email == "" || req.Password == "" {
		writeError(w, r, http.StatusBadRequest, "email and password are required")
		return
	}

	acc, err := a.dir.VerifyAccount(r.Context(), req.Email, req.Password)
	if err != nil {
		handleBackendError(w, r, err)
		return
	}
	if _, err := a.prov.SignIn(r.Context(), acc); err != nil {
		writeError(w, r, http.StatusInternalServerError, "session issue failed")
		return
	}
	sess, err := a.sess.AccountLogin(r.Context())
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "session activation failed")
		return
	}

	// Pick up this account's persisted store selection, if any. A missing
	// or foreign selection leaves the guard provisional until the user
	// picks a store.
	storeID := ""
	if st, err := a.binder.Restore(r.Context(), acc.ID); err == nil && st != nil {
		storeID = st.ID
	} else if err != nil {
		a.log.Debug("no store selection restored", zap.Error(err))
	}
	if err := a.guard.SetContext(sess.Identity, storeID); err != nil {
		writeError(w, r, http.StatusInternalServerError, "access context rebind failed")
		return
	}
	go func() { _, _ = a.guard.Resolve(a.detachedCtx()) }()

	if a.monitor != nil {
		a.monitor.Start()
	}
	writeJSON(w, http.StatusOK, a.sessionViewNow(r))
}

func (a *API) handlePinLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var req pinLoginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	req.StoreID = strings.TrimSpace(req.StoreID)
	if req.StoreID == "" || req.Pin == "" {
		writeError(w, r, http.StatusBadRequest, "store_id and pin are required")
		return
	}

	grant, err := a.dir.VerifyPin(r.Context(), req.StoreID, req.Pin)
	if err != nil {
		handleBackendError(w, r, err)
		return
	}
	sess, err := a.sess.PinLogin(r.Context(), grant)
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "session activation failed")
		return
	}
	if _, err := a.binder.Select(r.Context(), grant.MemberID, grant.StoreID); err != nil {
		handleBackendError(w, r, err)
		return
	}
	if err := a.guard.SetContext(sess.Identity, grant.StoreID); err != nil {
		writeError(w, r, http.StatusInternalServerError, "access context rebind failed")
		return
	}

	if a.monitor != nil {
		a.monitor.Start()
	}
	writeJSON(w, http.StatusOK, a.sessionViewNow(r))
}

func (a *API) handleLogout(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	if err := a.sess.Clear(r.Context()); err != nil {
		a.log.Warn("logout cleanup incomplete", zap.Error(err))
	}
	_ = a.guard.SetContext(nil, "")
	if a.monitor != nil {
		a.monitor.Stop()
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleRefresh(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var err error
	if a.monitor != nil {
		err = a.monitor.Extend(r.Context())
	} else {
		err = a.sess.Refresh(r.Context())
	}
	if err != nil {
		writeError(w, r, http.StatusConflict, "refresh failed: "+err.Error())
		return
	}
	writeJSON(w, http.StatusOK, a.sessionViewNow(r))
}

func (a *API) handleSession(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	writeJSON(w, http.StatusOK, a.sessionViewNow(r))
}

func (a *API) handleActivity(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	if a.monitor != nil {
		a.monitor.Touch(r.Context())
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) sessionViewNow(r *http.Request) sessionView {
	view := sessionView{State: string(a.sess.State())}
	sess := a.sess.ActiveSession(r.Context())
	if sess == nil {
		return view
	}
	exp := sess.ExpiresAt
	view.Warning = sess.Warning
	view.ExpiresAt = &exp
	view.Remaining = int64(sess.Remaining(time.Now()) / time.Second)
	view.Identity = identityViewOf(sess.Identity)
	if st := a.binder.Current(); st != nil {
		view.StoreID = st.ID
		view.StoreName = st.Name
	}
	return view
}

func identityViewOf(ident session.Identity) *identityView {
	if ident == nil {
		return nil
	}
	v := &identityView{
		Kind: string(ident.Kind()),
		ID:   ident.ID(),
		Name: ident.DisplayName(),
	}
	if pin, ok := ident.(session.PinIdentity); ok {
		v.Role = string(pin.Role)
		v.Store = pin.StoreID
	}
	return v
}

func handleBackendError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, backend.ErrUnauthorized):
		writeError(w, r, http.StatusUnauthorized, "invalid credentials")
	case errors.Is(err, backend.ErrNotFound):
		writeError(w, r, http.StatusNotFound, "not found")
	case errors.Is(err, backend.ErrUnavailable):
		writeError(w, r, http.StatusServiceUnavailable, "backend unavailable")
	default:
		writeError(w, r, http.StatusInternalServerError, "internal error")
	}
}

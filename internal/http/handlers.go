// Package http is the reference host adapter: it parses HTTP, authenticates
// clients, resolves user sessions, and maps engine outcomes to the wire. The
// engine itself never sees an http.Request.
package http

import (
	"net/http"
	"net/url"

	"github.com/dropDatabas3/grantd/internal/catalog"
	"github.com/dropDatabas3/grantd/internal/jwt"
	"github.com/dropDatabas3/grantd/internal/oauth"
	"github.com/dropDatabas3/grantd/internal/observability/logger"
	"github.com/dropDatabas3/grantd/internal/validation"
)

// SessionResolver turns an incoming request into the authenticated session, or
// nil when nobody is logged in. The host decides what a session looks like
// (cookie, gateway header); the engine only sees the resolved value.
type SessionResolver interface {
	Resolve(r *http.Request) *oauth.Session
}

type Handler struct {
	svcs     *oauth.Services
	cat      *catalog.Catalog
	issuer   *jwt.Issuer
	sessions SessionResolver

	// UI endpoints the authorize handler bounces to when interaction is needed.
	loginURL   string
	consentURL string
}

type HandlerDeps struct {
	Services   *oauth.Services
	Catalog    *catalog.Catalog
	Issuer     *jwt.Issuer
	Sessions   SessionResolver
	LoginURL   string
	ConsentURL string
}

func NewHandler(d HandlerDeps) *Handler {
	return &Handler{
		svcs:       d.Services,
		cat:        d.Catalog,
		issuer:     d.Issuer,
		sessions:   d.Sessions,
		loginURL:   d.LoginURL,
		consentURL: d.ConsentURL,
	}
}

// Authorize implements GET/POST /authorize.
func (h *Handler) Authorize(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": oauth.ErrCodeInvalidRequest})
		return
	}
	params := r.Form

	req, vErr := h.svcs.Validator.ValidateAuthorize(r.Context(), params)
	if vErr != nil {
		renderAuthorizeError(w, r, params, vErr)
		return
	}

	sess := h.sessions.Resolve(r)
	out := h.svcs.Interaction.Resolve(r.Context(), req, sess)
	switch out.Kind {
	case oauth.InteractionLogin:
		h.bounce(w, r, h.loginURL, nil)
		return
	case oauth.InteractionConsent:
		h.bounce(w, r, h.consentURL, map[string]string{"reason": out.ConsentReason})
		return
	case oauth.InteractionError:
		renderAuthorizeError(w, r, params, &oauth.ValidationError{Code: out.ErrorCode, Redirectable: true})
		return
	}

	resp, vErr := h.svcs.Authorize.Issue(r.Context(), req, sess)
	if vErr != nil {
		renderAuthorizeError(w, r, params, vErr)
		return
	}
	renderAuthorizeResponse(w, r, resp)
}

// bounce redirects to a UI endpoint carrying the original authorize query as
// return_to, so the UI can resume the flow after the interaction.
func (h *Handler) bounce(w http.ResponseWriter, r *http.Request, uiURL string, extra map[string]string) {
	target, err := url.Parse(uiURL)
	if err != nil || uiURL == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "interaction_required"})
		return
	}
	q := target.Query()
	q.Set("return_to", r.URL.RequestURI())
	for k, v := range extra {
		q.Set(k, v)
	}
	target.RawQuery = q.Encode()
	http.Redirect(w, r, target.String(), http.StatusFound)
}

// Token implements POST /token.
func (h *Handler) Token(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		writeTokenError(w, http.StatusBadRequest, oauth.ErrCodeInvalidRequest, "")
		return
	}

	client, vErr := h.authenticateClient(r)
	if vErr != nil {
		writeTokenError(w, tokenErrorStatus(vErr.Code), vErr.Code, vErr.Description)
		return
	}

	req, vErr := h.svcs.Validator.ValidateToken(r.Context(), r.PostForm, client)
	if vErr != nil {
		writeTokenError(w, tokenErrorStatus(vErr.Code), vErr.Code, vErr.Description)
		return
	}

	resp, vErr := h.svcs.Token.Issue(r.Context(), req)
	if vErr != nil {
		writeTokenError(w, tokenErrorStatus(vErr.Code), vErr.Code, vErr.Description)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// DeviceAuthorization implements POST /device_authorization (RFC 8628 §3.1).
func (h *Handler) DeviceAuthorization(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		writeTokenError(w, http.StatusBadRequest, oauth.ErrCodeInvalidRequest, "")
		return
	}
	client, vErr := h.authenticateClient(r)
	if vErr != nil {
		writeTokenError(w, tokenErrorStatus(vErr.Code), vErr.Code, vErr.Description)
		return
	}

	scopes := validation.ParseScopes(r.PostForm.Get("scope"))
	for _, s := range scopes {
		if !h.cat.IsScopeAllowed(client, s) {
			writeTokenError(w, http.StatusBadRequest, oauth.ErrCodeInvalidScope, "scope not allowed: "+s)
			return
		}
	}

	auth, vErr := h.svcs.Device.Begin(r.Context(), client, scopes)
	if vErr != nil {
		writeTokenError(w, tokenErrorStatus(vErr.Code), vErr.Code, vErr.Description)
		return
	}
	writeJSON(w, http.StatusOK, auth)
}

// DeviceApprove implements POST /device/approve, called by the verification UI
// after the user authenticated and accepted.
func (h *Handler) DeviceApprove(w http.ResponseWriter, r *http.Request) {
	h.deviceDecision(w, r, true)
}

// DeviceDeny implements POST /device/deny.
func (h *Handler) DeviceDeny(w http.ResponseWriter, r *http.Request) {
	h.deviceDecision(w, r, false)
}

func (h *Handler) deviceDecision(w http.ResponseWriter, r *http.Request, approve bool) {
	if err := r.ParseForm(); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": oauth.ErrCodeInvalidRequest})
		return
	}
	userCode := r.PostForm.Get("user_code")
	if userCode == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": oauth.ErrCodeInvalidRequest})
		return
	}

	var err error
	if approve {
		sess := h.sessions.Resolve(r)
		if sess == nil || sess.SubjectID == "" {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "login_required"})
			return
		}
		err = h.svcs.Device.Approve(r.Context(), userCode, sess.SubjectID)
	} else {
		err = h.svcs.Device.Deny(r.Context(), userCode)
	}
	if err != nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "invalid_user_code"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Revoke implements POST /revoke (RFC 7009). Always 200 for unknown tokens.
func (h *Handler) Revoke(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		writeTokenError(w, http.StatusBadRequest, oauth.ErrCodeInvalidRequest, "")
		return
	}
	client, vErr := h.authenticateClient(r)
	if vErr != nil {
		writeTokenError(w, tokenErrorStatus(vErr.Code), vErr.Code, vErr.Description)
		return
	}
	token := r.PostForm.Get("token")
	if token == "" {
		writeTokenError(w, http.StatusBadRequest, oauth.ErrCodeInvalidRequest, "token is required")
		return
	}
	if err := h.svcs.Revoke.Revoke(r.Context(), client, token); err != nil {
		logger.From(r.Context()).Error("revocation failed", logger.Err(err))
		writeTokenError(w, http.StatusInternalServerError, oauth.ErrCodeServerError, "")
		return
	}
	w.WriteHeader(http.StatusOK)
}

// JWKS implements GET /.well-known/jwks.json.
func (h *Handler) JWKS(w http.ResponseWriter, r *http.Request) {
	b := h.issuer.JWKSJSON()
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(b)
}

// Healthz is a liveness probe.
func (h *Handler) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// authenticateClient resolves and authenticates the caller: Basic auth or form
// credentials for confidential clients, bare client_id for public ones.
func (h *Handler) authenticateClient(r *http.Request) (*catalog.Client, *oauth.ValidationError) {
	clientID, secret, hasBasic := r.BasicAuth()
	if !hasBasic {
		clientID = r.PostForm.Get("client_id")
		secret = r.PostForm.Get("client_secret")
	}
	if clientID == "" {
		return nil, &oauth.ValidationError{Code: oauth.ErrCodeInvalidClient}
	}

	client, err := h.cat.GetClient(clientID)
	if err != nil {
		return nil, &oauth.ValidationError{Code: oauth.ErrCodeInvalidClient}
	}
	if client.Type == catalog.ClientConfidential {
		if !h.cat.VerifyClientSecret(client, secret) {
			logger.From(r.Context()).Warn("client authentication failed",
				logger.ClientID(clientID), logger.Audit())
			return nil, &oauth.ValidationError{Code: oauth.ErrCodeInvalidClient, Security: true}
		}
	} else if secret != "" {
		// Un cliente público no tiene secreto; presentar uno es sospechoso.
		return nil, &oauth.ValidationError{Code: oauth.ErrCodeInvalidClient}
	}
	return client, nil
}

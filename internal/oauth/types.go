// Package oauth contains the authorization and token issuance engine: request
// validation, interaction resolution, consent, and the two response generators.
// It is transport-agnostic; the host parses HTTP and renders outcomes.
package oauth

import (
	"sort"
	"strings"
	"time"

	"github.com/dropDatabas3/grantd/internal/catalog"
)

// OAuth2/OIDC error codes returned on the wire.
const (
	ErrCodeInvalidRequest          = "invalid_request"
	ErrCodeInvalidClient           = "invalid_client"
	ErrCodeInvalidGrant            = "invalid_grant"
	ErrCodeInvalidScope            = "invalid_scope"
	ErrCodeUnauthorizedClient      = "unauthorized_client"
	ErrCodeUnsupportedResponseType = "unsupported_response_type"
	ErrCodeUnsupportedGrantType    = "unsupported_grant_type"
	ErrCodeAccessDenied            = "access_denied"
	ErrCodeServerError             = "server_error"

	// Device flow polling outcomes.
	ErrCodeAuthorizationPending = "authorization_pending"
	ErrCodeSlowDown             = "slow_down"
	ErrCodeExpiredToken         = "expired_token"
)

// Grant types the token endpoint dispatches on.
const (
	GrantTypeAuthorizationCode = "authorization_code"
	GrantTypeRefreshToken      = "refresh_token"
	GrantTypeClientCredentials = "client_credentials"
	GrantTypePassword          = "password"
	GrantTypeDeviceCode        = "urn:ietf:params:oauth:grant-type:device_code"
)

// PKCE challenge methods.
const (
	PKCEMethodPlain = "plain"
	PKCEMethodS256  = "S256"
)

// Response modes: how the authorize result travels back to the client.
const (
	ResponseModeQuery    = "query"
	ResponseModeFragment = "fragment"
	ResponseModeFormPost = "form_post"
)

// supportedResponseTypes holds the fixed set, keyed by normalized form.
var supportedResponseTypes = map[string]bool{
	"code":                true,
	"token":               true,
	"id_token":            true,
	"id_token token":      true,
	"code id_token":       true,
	"code token":          true,
	"code id_token token": true,
}

// NormalizeResponseType sorts the space-separated parts so comparison is
// order-insensitive ("token id_token" == "id_token token").
func NormalizeResponseType(rt string) string {
	parts := strings.Fields(rt)
	sort.Strings(parts)
	// canonical order: code, id_token, token — sort.Strings already yields it.
	return strings.Join(parts, " ")
}

// Session is the host-supplied authenticated-user context. The engine never
// touches cookies or headers; the host resolves those into this value.
type Session struct {
	SubjectID string
	AuthTime  time.Time
	SessionID string
}

// ValidationError is the error half of every validation outcome. A request
// value and a ValidationError are mutually exclusive: callers get exactly one.
type ValidationError struct {
	Code        string // OAuth2 error code
	Description string // optional sub-reason for error_description

	// Redirectable marks errors safe to encode into the client's redirect_uri.
	// Unverified-redirect and client-auth failures must stay non-redirectable.
	Redirectable bool

	// Security marks violations that audit logging must distinguish even when
	// the wire code is an ordinary invalid_grant.
	Security bool
}

func (e *ValidationError) Error() string {
	if e.Description == "" {
		return e.Code
	}
	return e.Code + ": " + e.Description
}

func verr(code, desc string) *ValidationError {
	return &ValidationError{Code: code, Description: desc}
}

func redirectable(code, desc string) *ValidationError {
	return &ValidationError{Code: code, Description: desc, Redirectable: true}
}

// AuthorizeRequest is a fully validated authorize request. Never constructed
// on an error path; immutable once validation succeeds.
type AuthorizeRequest struct {
	Client       *catalog.Client
	RedirectURI  string
	ResponseType string // normalized
	ResponseMode string // resolved (default applied)
	Scopes       []string
	RawScope     string
	State        string
	Nonce        string

	CodeChallenge       string
	CodeChallengeMethod string

	// Prompt carries the caller's explicit interaction demands ("consent"
	// forces re-consent, "none" forbids interaction).
	Prompt string
}

// HasResponseType reports whether the normalized response_type contains part.
func (r *AuthorizeRequest) HasResponseType(part string) bool {
	for _, p := range strings.Fields(r.ResponseType) {
		if p == part {
			return true
		}
	}
	return false
}

// TokenRequest is a fully validated token request for any grant type.
type TokenRequest struct {
	Client    *catalog.Client
	GrantType string

	// authorization_code
	Code         string
	RedirectURI  string
	CodeVerifier string

	// refresh_token
	RefreshToken string

	// password
	Username string
	Password string

	// device_code
	DeviceCode string

	// requested scopes (refresh/client_credentials/password/device)
	Scopes   []string
	RawScope string
}

// InteractionKind enumerates the resolver's terminal decisions.
type InteractionKind int

const (
	InteractionProceed InteractionKind = iota
	InteractionLogin
	InteractionConsent
	InteractionError
)

// Consent reasons reported with InteractionConsent.
const (
	ConsentReasonNeverAsked       = "never_asked"
	ConsentReasonScopesNotGranted = "scopes_not_granted"
	ConsentReasonForced           = "forced"
	ConsentReasonPreviouslyDenied = "previously_denied"
)

// InteractionOutcome is a tagged variant: exactly one of the branches applies,
// selected by Kind.
type InteractionOutcome struct {
	Kind          InteractionKind
	ConsentReason string // set when Kind == InteractionConsent
	ErrorCode     string // set when Kind == InteractionError
}

// AuthorizeResponse describes what the host must deliver and how. Params carry
// either the issued artifacts (code, token, id_token, state) or a redirectable
// error; Mode selects query/fragment/form_post delivery.
type AuthorizeResponse struct {
	RedirectURI string
	Mode        string
	Params      map[string]string
}

// TokenResponse is the standard OAuth2 token response.
type TokenResponse struct {
	AccessToken  string `json:"access_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int64  `json:"expires_in"`
	RefreshToken string `json:"refresh_token,omitempty"`
	IDToken      string `json:"id_token,omitempty"`
	Scope        string `json:"scope,omitempty"`
}

// DeviceAuthorization is what the device flow hands back to the device client.
type DeviceAuthorization struct {
	DeviceCode      string `json:"device_code"`
	UserCode        string `json:"user_code"`
	VerificationURI string `json:"verification_uri"`
	ExpiresIn       int64  `json:"expires_in"`
	Interval        int64  `json:"interval"`
}

// --- stored payloads (GrantEntry.Data) ---

// codePayload binds the full original authorize request to an issued code.
type codePayload struct {
	SubjectID       string    `json:"sub"`
	ClientID        string    `json:"client_id"`
	RedirectURI     string    `json:"redirect_uri"`
	Scopes          []string  `json:"scopes"`
	Nonce           string    `json:"nonce,omitempty"`
	CodeChallenge   string    `json:"code_challenge,omitempty"`
	ChallengeMethod string    `json:"challenge_method,omitempty"`
	SessionID       string    `json:"sid,omitempty"`
	AuthTime        time.Time `json:"auth_time"`
}

// refreshPayload captures the refresh token's bound data. SingleUse is fixed
// at issuance and never changed afterwards for a given entry.
type refreshPayload struct {
	SubjectID string   `json:"sub"`
	ClientID  string   `json:"client_id"`
	Scopes    []string `json:"scopes"`
	SingleUse bool     `json:"single_use"`
	SessionID string   `json:"sid,omitempty"`
}

// consentPayload is the persisted consent decision. Empty Scopes with
// Denied=true records an explicit denial, distinguishable from "never asked".
type consentPayload struct {
	Scopes []string `json:"scopes"`
	Denied bool     `json:"denied,omitempty"`
}

// deviceStatus is the polling state machine of a device code.
type deviceStatus string

const (
	devicePending  deviceStatus = "pending"
	deviceApproved deviceStatus = "approved"
	deviceDenied   deviceStatus = "denied"
)

type devicePayload struct {
	ClientID  string       `json:"client_id"`
	UserCode  string       `json:"user_code"`
	Scopes    []string     `json:"scopes"`
	Status    deviceStatus `json:"status"`
	SubjectID string       `json:"sub,omitempty"` // set on approval
	Interval  int64        `json:"interval"`
}

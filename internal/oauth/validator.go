package oauth

import (
	"context"
	"net/url"
	"strings"

	"github.com/dropDatabas3/grantd/internal/catalog"
	"github.com/dropDatabas3/grantd/internal/metrics"
	"github.com/dropDatabas3/grantd/internal/observability/logger"
	"github.com/dropDatabas3/grantd/internal/validation"
)

// Validator turns raw protocol parameters into typed, validated requests.
// Pure function of (parameters, client record, catalog); the only side effects
// are logging and metrics.
type Validator struct {
	cat *catalog.Catalog
}

func NewValidator(cat *catalog.Catalog) *Validator {
	return &Validator{cat: cat}
}

// ValidateAuthorize validates an authorize request. Exactly one of the returned
// values is non-nil.
//
// Ordering is security-relevant: the redirect_uri is verified by exact string
// match before anything else, and every failure up to that point is
// non-redirectable. Only once the redirect target is known-registered do
// errors become safe to deliver through it.
func (v *Validator) ValidateAuthorize(ctx context.Context, params url.Values) (*AuthorizeRequest, *ValidationError) {
	log := logger.From(ctx).With(logger.Layer("engine"), logger.Op("validator.authorize"))

	clientID := params.Get("client_id")
	client, err := v.cat.GetClient(clientID)
	if err != nil {
		log.Warn("unknown client", logger.ClientID(clientID))
		return nil, v.fail(verr(ErrCodeUnauthorizedClient, "unknown client"))
	}

	redirectURI := params.Get("redirect_uri")
	if !redirectRegistered(client, redirectURI) {
		log.Warn("redirect_uri not registered", logger.ClientID(clientID), logger.Audit())
		metrics.SecurityEvents.WithLabelValues("redirect_mismatch").Inc()
		return nil, v.fail(verr(ErrCodeInvalidRequest, "redirect_uri not registered"))
	}

	// From here on the redirect target is trusted: errors are redirectable.

	responseType := NormalizeResponseType(params.Get("response_type"))
	if !supportedResponseTypes[responseType] {
		return nil, v.fail(redirectable(ErrCodeUnsupportedResponseType, ""))
	}

	responseMode, vErr := resolveResponseMode(params.Get("response_mode"), responseType)
	if vErr != nil {
		return nil, v.fail(vErr)
	}

	// The response type must map onto a grant the client is allowed to use.
	if strings.Contains(responseType, "code") && !catalog.GrantTypeAllowed(client, GrantTypeAuthorizationCode) {
		return nil, v.fail(&ValidationError{Code: ErrCodeUnauthorizedClient, Redirectable: true})
	}
	if responseType != "code" && !catalog.GrantTypeAllowed(client, "implicit") {
		return nil, v.fail(&ValidationError{Code: ErrCodeUnauthorizedClient, Redirectable: true})
	}

	rawScope := params.Get("scope")
	scopes := validation.ParseScopes(rawScope)
	if len(scopes) == 0 {
		return nil, v.fail(redirectable(ErrCodeInvalidScope, "scope is required"))
	}
	var offending []string
	for _, s := range scopes {
		if !v.cat.IsScopeAllowed(client, s) {
			offending = append(offending, s)
		}
	}
	if len(offending) > 0 {
		return nil, v.fail(redirectable(ErrCodeInvalidScope, "scope not allowed: "+strings.Join(offending, " ")))
	}

	req := &AuthorizeRequest{
		Client:       client,
		RedirectURI:  redirectURI,
		ResponseType: responseType,
		ResponseMode: responseMode,
		Scopes:       scopes,
		RawScope:     rawScope,
		State:        params.Get("state"),
		Nonce:        params.Get("nonce"),
		Prompt:       params.Get("prompt"),
	}

	// OIDC: implicit/hybrid delivery of an id_token requires a nonce.
	if req.HasResponseType("id_token") && req.Nonce == "" {
		return nil, v.fail(redirectable(ErrCodeInvalidRequest, "nonce required for id_token response types"))
	}

	if vErr := v.validatePKCE(params, client, req); vErr != nil {
		return nil, v.fail(vErr)
	}

	return req, nil
}

// validatePKCE applies the code-challenge rules. An empty code_challenge is an
// explicit reject for PKCE-required clients, not treated as absent.
func (v *Validator) validatePKCE(params url.Values, client *catalog.Client, req *AuthorizeRequest) *ValidationError {
	challenge := params.Get("code_challenge")
	method := params.Get("code_challenge_method")
	_, challengePresent := params["code_challenge"]

	if challengePresent && challenge == "" {
		return redirectable(ErrCodeInvalidRequest, "code_challenge must not be empty")
	}
	if method != "" && challenge == "" {
		return redirectable(ErrCodeInvalidRequest, "code_challenge_method without code_challenge")
	}
	if client.RequirePKCE && req.HasResponseType("code") && challenge == "" {
		return redirectable(ErrCodeInvalidRequest, "code_challenge required")
	}
	if challenge == "" {
		return nil
	}

	if method == "" {
		method = PKCEMethodPlain
	}
	switch method {
	case PKCEMethodPlain, PKCEMethodS256:
	default:
		// Unrecognized methods are rejected, never silently defaulted.
		return redirectable(ErrCodeInvalidRequest, "unsupported code_challenge_method")
	}

	req.CodeChallenge = challenge
	req.CodeChallengeMethod = method
	return nil
}

// ValidateToken validates a token request. The client identity arrives already
// authenticated by the host; each grant type runs its own sub-validator before
// the token generator sees the request.
func (v *Validator) ValidateToken(ctx context.Context, params url.Values, client *catalog.Client) (*TokenRequest, *ValidationError) {
	log := logger.From(ctx).With(logger.Layer("engine"), logger.Op("validator.token"))

	if client == nil {
		return nil, v.fail(verr(ErrCodeInvalidClient, ""))
	}

	grantType := params.Get("grant_type")
	req := &TokenRequest{Client: client, GrantType: grantType}

	var vErr *ValidationError
	switch grantType {
	case GrantTypeAuthorizationCode:
		vErr = v.validateCodeGrant(params, req)
	case GrantTypeRefreshToken:
		vErr = v.validateRefreshGrant(params, req)
	case GrantTypeClientCredentials:
		vErr = v.validateClientCredentialsGrant(params, req)
	case GrantTypePassword:
		vErr = v.validatePasswordGrant(params, req)
	case GrantTypeDeviceCode:
		vErr = v.validateDeviceGrant(params, req)
	default:
		vErr = verr(ErrCodeUnsupportedGrantType, "")
	}
	if vErr != nil {
		log.Warn("token request rejected",
			logger.ClientID(client.ClientID),
			logger.GrantType(grantType),
			logger.ErrorCode(vErr.Code))
		return nil, v.fail(vErr)
	}

	if !catalog.GrantTypeAllowed(client, grantType) {
		log.Warn("grant_type not allowed for client",
			logger.ClientID(client.ClientID), logger.GrantType(grantType))
		return nil, v.fail(verr(ErrCodeUnauthorizedClient, ""))
	}

	return req, nil
}

func (v *Validator) validateCodeGrant(params url.Values, req *TokenRequest) *ValidationError {
	req.Code = params.Get("code")
	req.RedirectURI = params.Get("redirect_uri")
	req.CodeVerifier = params.Get("code_verifier")
	if req.Code == "" || req.RedirectURI == "" {
		return verr(ErrCodeInvalidRequest, "code and redirect_uri are required")
	}
	return nil
}

func (v *Validator) validateRefreshGrant(params url.Values, req *TokenRequest) *ValidationError {
	req.RefreshToken = params.Get("refresh_token")
	if req.RefreshToken == "" {
		return verr(ErrCodeInvalidRequest, "refresh_token is required")
	}
	req.RawScope = params.Get("scope")
	req.Scopes = validation.ParseScopes(req.RawScope)
	return nil
}

func (v *Validator) validateClientCredentialsGrant(params url.Values, req *TokenRequest) *ValidationError {
	if req.Client.Type != catalog.ClientConfidential {
		return verr(ErrCodeUnauthorizedClient, "client_credentials requires a confidential client")
	}
	req.RawScope = params.Get("scope")
	req.Scopes = validation.ParseScopes(req.RawScope)
	return v.checkRequestedScopes(req)
}

func (v *Validator) validatePasswordGrant(params url.Values, req *TokenRequest) *ValidationError {
	req.Username = params.Get("username")
	req.Password = params.Get("password")
	if req.Username == "" || req.Password == "" {
		return verr(ErrCodeInvalidRequest, "username and password are required")
	}
	req.RawScope = params.Get("scope")
	req.Scopes = validation.ParseScopes(req.RawScope)
	return v.checkRequestedScopes(req)
}

func (v *Validator) validateDeviceGrant(params url.Values, req *TokenRequest) *ValidationError {
	req.DeviceCode = params.Get("device_code")
	if req.DeviceCode == "" {
		return verr(ErrCodeInvalidRequest, "device_code is required")
	}
	return nil
}

func (v *Validator) checkRequestedScopes(req *TokenRequest) *ValidationError {
	var offending []string
	for _, s := range req.Scopes {
		if !v.cat.IsScopeAllowed(req.Client, s) {
			offending = append(offending, s)
		}
	}
	if len(offending) > 0 {
		return verr(ErrCodeInvalidScope, "scope not allowed: "+strings.Join(offending, " "))
	}
	return nil
}

func (v *Validator) fail(e *ValidationError) *ValidationError {
	metrics.ValidationFailures.WithLabelValues(e.Code).Inc()
	return e
}

// redirectRegistered requires an exact string match against a registered URI.
// No prefix, sub-path, scheme, or port leniency.
func redirectRegistered(client *catalog.Client, uri string) bool {
	if uri == "" {
		return false
	}
	for _, registered := range client.RedirectURIs {
		if registered == uri {
			return true
		}
	}
	return false
}

// resolveResponseMode validates the requested mode and applies the default:
// query for pure code responses, fragment for anything carrying tokens.
// Token-bearing response types must never use query mode.
func resolveResponseMode(mode, responseType string) (string, *ValidationError) {
	tokenBearing := responseType != "code"
	switch mode {
	case "":
		if tokenBearing {
			return ResponseModeFragment, nil
		}
		return ResponseModeQuery, nil
	case ResponseModeQuery:
		if tokenBearing {
			return "", redirectable(ErrCodeInvalidRequest, "query response_mode not allowed for token-bearing response types")
		}
		return ResponseModeQuery, nil
	case ResponseModeFragment, ResponseModeFormPost:
		return mode, nil
	default:
		return "", redirectable(ErrCodeInvalidRequest, "unsupported response_mode")
	}
}

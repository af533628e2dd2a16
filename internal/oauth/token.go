package oauth

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/dropDatabas3/grantd/internal/catalog"
	"github.com/dropDatabas3/grantd/internal/jwt"
	"github.com/dropDatabas3/grantd/internal/metrics"
	"github.com/dropDatabas3/grantd/internal/observability/logger"
	tokens "github.com/dropDatabas3/grantd/internal/security/token"
	"github.com/dropDatabas3/grantd/internal/store/core"
	"github.com/dropDatabas3/grantd/internal/validation"
)

// PasswordValidator is the external credential check for the password grant.
// The engine never sees password hashes; the host wires an implementation.
type PasswordValidator interface {
	ValidateCredentials(ctx context.Context, username, password string) (subjectID string, err error)
}

// TokenIssuer consumes and produces grant-store entries and mints tokens for
// every grant type the token endpoint supports.
type TokenIssuer struct {
	grants    core.GrantStore
	issuer    *jwt.Issuer
	cat       *catalog.Catalog
	passwords PasswordValidator // nil when the host does not support the password grant
	devices   *DeviceFlow

	refreshTTL time.Duration
}

func NewTokenIssuer(grants core.GrantStore, issuer *jwt.Issuer, cat *catalog.Catalog, passwords PasswordValidator, devices *DeviceFlow, refreshTTL time.Duration) *TokenIssuer {
	if refreshTTL <= 0 {
		refreshTTL = 30 * 24 * time.Hour
	}
	return &TokenIssuer{
		grants:     grants,
		issuer:     issuer,
		cat:        cat,
		passwords:  passwords,
		devices:    devices,
		refreshTTL: refreshTTL,
	}
}

// Issue dispatches on the validated request's grant type. Exactly one of the
// returned values is non-nil.
func (t *TokenIssuer) Issue(ctx context.Context, req *TokenRequest) (*TokenResponse, *ValidationError) {
	switch req.GrantType {
	case GrantTypeAuthorizationCode:
		return t.redeemCode(ctx, req)
	case GrantTypeRefreshToken:
		return t.redeemRefresh(ctx, req)
	case GrantTypeClientCredentials:
		return t.clientCredentials(ctx, req)
	case GrantTypePassword:
		return t.password(ctx, req)
	case GrantTypeDeviceCode:
		return t.devices.Poll(ctx, req, t)
	default:
		return nil, verr(ErrCodeUnsupportedGrantType, "")
	}
}

// redeemCode handles grant_type=authorization_code: single-use consumption,
// PKCE verification, and minting.
func (t *TokenIssuer) redeemCode(ctx context.Context, req *TokenRequest) (*TokenResponse, *ValidationError) {
	log := logger.From(ctx).With(logger.Layer("engine"), logger.Op("token.authorization_code"))

	hashed := tokens.SHA256Base64URL(req.Code)
	entry, err := t.grants.GetByKey(ctx, core.GrantAuthorizationCode, hashed)
	if errors.Is(err, core.ErrNotFound) {
		log.Warn("authorization code not found", logger.ClientID(req.Client.ClientID))
		return nil, verr(ErrCodeInvalidGrant, "")
	}
	if err != nil {
		return nil, t.storeFailure(log, err)
	}
	if entry.Expired(time.Now()) {
		return nil, verr(ErrCodeInvalidGrant, "")
	}

	var code codePayload
	if err := json.Unmarshal(entry.Data, &code); err != nil {
		log.Warn("authorization code payload corrupted")
		return nil, verr(ErrCodeInvalidGrant, "")
	}

	if code.ClientID != req.Client.ClientID {
		log.Warn("code presented by a different client", logger.ClientID(req.Client.ClientID), logger.Audit())
		metrics.SecurityEvents.WithLabelValues("client_mismatch").Inc()
		return nil, &ValidationError{Code: ErrCodeInvalidGrant, Security: true}
	}
	if code.RedirectURI != req.RedirectURI {
		log.Warn("redirect_uri differs from the one bound at issuance", logger.ClientID(req.Client.ClientID), logger.Audit())
		metrics.SecurityEvents.WithLabelValues("redirect_mismatch").Inc()
		return nil, &ValidationError{Code: ErrCodeInvalidGrant, Security: true}
	}
	if vErr := verifyPKCE(code.CodeChallenge, code.ChallengeMethod, req.CodeVerifier); vErr != nil {
		log.Warn("PKCE verification failed", logger.ClientID(req.Client.ClientID), logger.Audit())
		metrics.SecurityEvents.WithLabelValues("pkce_mismatch").Inc()
		return nil, vErr
	}

	// Consumo único: el CAS del store decide el ganador entre redenciones
	// concurrentes del mismo code.
	if err := t.grants.MarkConsumed(ctx, core.GrantAuthorizationCode, hashed, time.Now().UTC()); err != nil {
		if errors.Is(err, core.ErrAlreadyConsumed) || errors.Is(err, core.ErrNotFound) {
			log.Warn("authorization code double consumption attempt", logger.ClientID(req.Client.ClientID), logger.Audit())
			metrics.SecurityEvents.WithLabelValues("double_consumption").Inc()
			return nil, &ValidationError{Code: ErrCodeInvalidGrant, Security: true}
		}
		return nil, t.storeFailure(log, err)
	}

	resp, vErr := t.mint(ctx, req.Client, code.SubjectID, code.Scopes, code.SessionID, code.Nonce, code.AuthTime)
	if vErr != nil {
		return nil, vErr
	}

	metrics.TokensIssued.WithLabelValues(GrantTypeAuthorizationCode).Inc()
	log.Info("authorization_code redeemed",
		logger.ClientID(req.Client.ClientID),
		logger.Subject(code.SubjectID),
		logger.Scope(resp.Scope))
	return resp, nil
}

// redeemRefresh handles grant_type=refresh_token with optional rotation.
func (t *TokenIssuer) redeemRefresh(ctx context.Context, req *TokenRequest) (*TokenResponse, *ValidationError) {
	log := logger.From(ctx).With(logger.Layer("engine"), logger.Op("token.refresh_token"))

	hashed := tokens.SHA256Base64URL(req.RefreshToken)
	entry, err := t.grants.GetByKey(ctx, core.GrantRefreshToken, hashed)
	if errors.Is(err, core.ErrNotFound) {
		log.Warn("refresh token not found", logger.ClientID(req.Client.ClientID))
		return nil, verr(ErrCodeInvalidGrant, "")
	}
	if err != nil {
		return nil, t.storeFailure(log, err)
	}
	if entry.Expired(time.Now()) || entry.Consumed() {
		return nil, verr(ErrCodeInvalidGrant, "")
	}

	var rt refreshPayload
	if err := json.Unmarshal(entry.Data, &rt); err != nil {
		log.Warn("refresh token payload corrupted")
		return nil, verr(ErrCodeInvalidGrant, "")
	}
	if rt.ClientID != req.Client.ClientID {
		log.Warn("refresh token presented by a different client", logger.ClientID(req.Client.ClientID), logger.Audit())
		metrics.SecurityEvents.WithLabelValues("client_mismatch").Inc()
		return nil, &ValidationError{Code: ErrCodeInvalidGrant, Security: true}
	}

	// Scope downgrade permitido; escalación sobre el grant original, no.
	scopes := rt.Scopes
	if len(req.Scopes) > 0 {
		if !validation.Subset(req.Scopes, rt.Scopes) {
			return nil, verr(ErrCodeInvalidScope, "requested scope exceeds original grant")
		}
		scopes = req.Scopes
	}

	newRefresh := req.RefreshToken
	if rt.SingleUse {
		// El CAS sobre la entrada vieja es la puerta: un segundo uso
		// concurrente del mismo handle pierde aquí y recibe invalid_grant.
		if err := t.grants.MarkConsumed(ctx, core.GrantRefreshToken, hashed, time.Now().UTC()); err != nil {
			if errors.Is(err, core.ErrAlreadyConsumed) || errors.Is(err, core.ErrNotFound) {
				log.Warn("refresh token double use attempt", logger.ClientID(req.Client.ClientID), logger.Audit())
				metrics.SecurityEvents.WithLabelValues("double_consumption").Inc()
				return nil, &ValidationError{Code: ErrCodeInvalidGrant, Security: true}
			}
			return nil, t.storeFailure(log, err)
		}
		raw, vErr := t.createRefresh(ctx, req.Client, rt.SubjectID, rt.Scopes, rt.SessionID)
		if vErr != nil {
			return nil, vErr
		}
		if err := t.grants.RemoveByKey(ctx, core.GrantRefreshToken, hashed); err != nil {
			log.Warn("removing rotated refresh token failed", logger.Err(err))
		}
		newRefresh = raw
	}

	access, exp, err := t.issuer.IssueAccess(rt.SubjectID, req.Client.ClientID, map[string]any{
		"scope": strings.Join(scopes, " "),
		"sid":   rt.SessionID,
	}, req.Client.AccessTokenTTL)
	if err != nil {
		log.Error("access token signing failed", logger.Err(err))
		return nil, verr(ErrCodeServerError, "")
	}

	metrics.TokensIssued.WithLabelValues(GrantTypeRefreshToken).Inc()
	log.Info("refresh_token exchanged", logger.ClientID(req.Client.ClientID), logger.Subject(rt.SubjectID))

	return &TokenResponse{
		AccessToken:  access,
		TokenType:    "Bearer",
		ExpiresIn:    int64(time.Until(exp).Seconds()),
		RefreshToken: newRefresh,
		Scope:        strings.Join(scopes, " "),
	}, nil
}

// clientCredentials handles grant_type=client_credentials (M2M, no refresh).
func (t *TokenIssuer) clientCredentials(ctx context.Context, req *TokenRequest) (*TokenResponse, *ValidationError) {
	log := logger.From(ctx).With(logger.Layer("engine"), logger.Op("token.client_credentials"))

	scopes := req.Scopes
	if len(scopes) == 0 {
		scopes = req.Client.Scopes
	}
	scopeOut := strings.Join(scopes, " ")

	// sub = client_id para M2M.
	access, exp, err := t.issuer.IssueAccess(req.Client.ClientID, req.Client.ClientID, map[string]any{
		"scope": scopeOut,
	}, req.Client.AccessTokenTTL)
	if err != nil {
		log.Error("access token signing failed", logger.Err(err))
		return nil, verr(ErrCodeServerError, "")
	}

	metrics.TokensIssued.WithLabelValues(GrantTypeClientCredentials).Inc()
	log.Info("client_credentials token issued", logger.ClientID(req.Client.ClientID))

	return &TokenResponse{
		AccessToken: access,
		TokenType:   "Bearer",
		ExpiresIn:   int64(time.Until(exp).Seconds()),
		Scope:       scopeOut,
	}, nil
}

// password delegates the credential check to the host-supplied validator.
func (t *TokenIssuer) password(ctx context.Context, req *TokenRequest) (*TokenResponse, *ValidationError) {
	log := logger.From(ctx).With(logger.Layer("engine"), logger.Op("token.password"))

	if t.passwords == nil {
		return nil, verr(ErrCodeUnsupportedGrantType, "password grant not configured")
	}
	subjectID, err := t.passwords.ValidateCredentials(ctx, req.Username, req.Password)
	if err != nil || subjectID == "" {
		log.Warn("resource owner credential check failed", logger.ClientID(req.Client.ClientID))
		return nil, verr(ErrCodeInvalidGrant, "")
	}

	resp, vErr := t.mint(ctx, req.Client, subjectID, req.Scopes, "", "", time.Now().UTC())
	if vErr != nil {
		return nil, vErr
	}
	metrics.TokensIssued.WithLabelValues(GrantTypePassword).Inc()
	log.Info("password grant token issued", logger.ClientID(req.Client.ClientID), logger.Subject(subjectID))
	return resp, nil
}

// mint builds the access (+id_token when openid granted, +refresh when the
// client is refresh-eligible) response shared by code, password, and device.
func (t *TokenIssuer) mint(ctx context.Context, client *catalog.Client, subjectID string, scopes []string, sessionID, nonce string, authTime time.Time) (*TokenResponse, *ValidationError) {
	log := logger.From(ctx).With(logger.Layer("engine"), logger.Op("token.mint"))

	scopeOut := strings.Join(scopes, " ")
	access, exp, err := t.issuer.IssueAccess(subjectID, client.ClientID, map[string]any{
		"scope": scopeOut,
		"sid":   sessionID,
	}, client.AccessTokenTTL)
	if err != nil {
		log.Error("access token signing failed", logger.Err(err))
		return nil, verr(ErrCodeServerError, "")
	}

	resp := &TokenResponse{
		AccessToken: access,
		TokenType:   "Bearer",
		ExpiresIn:   int64(time.Until(exp).Seconds()),
		Scope:       scopeOut,
	}

	if containsScope(scopes, "openid") {
		extra := map[string]any{"at_hash": leftmostHash(access)}
		if nonce != "" {
			extra["nonce"] = nonce
		}
		std := map[string]any{
			"sid":       sessionID,
			"auth_time": authTime.Unix(),
			"azp":       client.ClientID,
		}
		idToken, _, err := t.issuer.IssueIDToken(subjectID, client.ClientID, std, extra, client.IDTokenTTL)
		if err != nil {
			log.Error("id_token signing failed", logger.Err(err))
			return nil, verr(ErrCodeServerError, "")
		}
		resp.IDToken = idToken
	}

	if client.AllowRefresh && catalog.GrantTypeAllowed(client, GrantTypeRefreshToken) {
		raw, vErr := t.createRefresh(ctx, client, subjectID, scopes, sessionID)
		if vErr != nil {
			return nil, vErr
		}
		resp.RefreshToken = raw
	}

	return resp, nil
}

// createRefresh persists a new refresh token entry and returns the raw handle.
// The rotation policy is captured in the payload at issuance time.
func (t *TokenIssuer) createRefresh(ctx context.Context, client *catalog.Client, subjectID string, scopes []string, sessionID string) (string, *ValidationError) {
	log := logger.From(ctx).With(logger.Layer("engine"), logger.Op("token.create_refresh"))

	raw, err := tokens.GenerateOpaqueToken(32)
	if err != nil {
		return "", verr(ErrCodeServerError, "")
	}
	payload, err := json.Marshal(refreshPayload{
		SubjectID: subjectID,
		ClientID:  client.ClientID,
		Scopes:    scopes,
		SingleUse: client.RefreshUsage == catalog.RefreshSingleUse,
		SessionID: sessionID,
	})
	if err != nil {
		return "", verr(ErrCodeServerError, "")
	}

	ttl := client.RefreshTokenTTL
	if ttl <= 0 {
		ttl = t.refreshTTL
	}
	now := time.Now().UTC()
	err = t.grants.Store(ctx, &core.GrantEntry{
		Key:          tokens.SHA256Base64URL(raw),
		Type:         core.GrantRefreshToken,
		SubjectID:    subjectID,
		ClientID:     client.ClientID,
		CreationTime: now,
		Expiration:   now.Add(ttl),
		Data:         payload,
	})
	if err != nil {
		log.Error("storing refresh token failed", logger.Err(err))
		return "", verr(ErrCodeServerError, "")
	}
	return raw, nil
}

func (t *TokenIssuer) storeFailure(log *zap.Logger, err error) *ValidationError {
	log.Error("grant store unavailable", logger.Err(err))
	return verr(ErrCodeServerError, "")
}

// verifyPKCE checks the presented verifier against the stored challenge.
// Every mismatch collapses into invalid_grant so callers cannot probe which
// check failed.
func verifyPKCE(challenge, method, verifier string) *ValidationError {
	if challenge == "" {
		return nil // code was issued without PKCE
	}
	if verifier == "" {
		return &ValidationError{Code: ErrCodeInvalidGrant, Security: true}
	}
	var ok bool
	switch method {
	case PKCEMethodS256:
		ok = tokens.ConstantTimeEquals(tokens.SHA256Base64URL(verifier), challenge)
	case PKCEMethodPlain:
		ok = tokens.ConstantTimeEquals(verifier, challenge)
	default:
		ok = false
	}
	if !ok {
		return &ValidationError{Code: ErrCodeInvalidGrant, Security: true}
	}
	return nil
}

func containsScope(scopes []string, name string) bool {
	for _, s := range scopes {
		if s == name {
			return true
		}
	}
	return false
}

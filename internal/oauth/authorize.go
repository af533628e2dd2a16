package oauth

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/dropDatabas3/grantd/internal/jwt"
	"github.com/dropDatabas3/grantd/internal/metrics"
	"github.com/dropDatabas3/grantd/internal/observability/logger"
	tokens "github.com/dropDatabas3/grantd/internal/security/token"
	"github.com/dropDatabas3/grantd/internal/store/core"
)

// AuthorizeIssuer mints the code/token/id_token combination for a validated,
// fully-interacted authorize request. It must only run once the interaction
// resolver returned Proceed.
type AuthorizeIssuer struct {
	grants core.GrantStore
	issuer *jwt.Issuer

	codeTTL time.Duration
}

func NewAuthorizeIssuer(grants core.GrantStore, issuer *jwt.Issuer, codeTTL time.Duration) *AuthorizeIssuer {
	if codeTTL <= 0 {
		codeTTL = 5 * time.Minute
	}
	return &AuthorizeIssuer{grants: grants, issuer: issuer, codeTTL: codeTTL}
}

// Issue produces the authorize outcome. Errors discovered here are
// redirectable: the redirect_uri was verified during validation.
func (a *AuthorizeIssuer) Issue(ctx context.Context, req *AuthorizeRequest, sess *Session) (*AuthorizeResponse, *ValidationError) {
	log := logger.From(ctx).With(logger.Layer("engine"), logger.Op("authorize.issue"))

	if sess == nil || sess.SubjectID == "" {
		// Programming error del host: emitir sin interacción completa.
		return nil, redirectable(ErrCodeServerError, "no authenticated session")
	}

	resp := &AuthorizeResponse{
		RedirectURI: req.RedirectURI,
		Mode:        req.ResponseMode,
		Params:      map[string]string{},
	}
	if req.State != "" {
		resp.Params["state"] = req.State
	}

	var accessToken, code string

	// Implicit/hybrid: access token directo, sin entrada en el store y por lo
	// tanto sin capacidad de refresh.
	if req.HasResponseType("token") {
		signed, exp, err := a.issuer.IssueAccess(sess.SubjectID, req.Client.ClientID, map[string]any{
			"scope": strings.Join(req.Scopes, " "),
			"sid":   sess.SessionID,
		}, req.Client.AccessTokenTTL)
		if err != nil {
			log.Error("access token signing failed", logger.Err(err))
			return nil, redirectable(ErrCodeServerError, "")
		}
		accessToken = signed
		resp.Params["access_token"] = signed
		resp.Params["token_type"] = "Bearer"
		resp.Params["expires_in"] = strconv.FormatInt(int64(time.Until(exp).Seconds()), 10)
		resp.Params["scope"] = strings.Join(req.Scopes, " ")
		metrics.TokensIssued.WithLabelValues("implicit").Inc()
	}

	if req.HasResponseType("code") {
		issued, vErr := a.issueCode(ctx, req, sess)
		if vErr != nil {
			return nil, vErr
		}
		code = issued
		resp.Params["code"] = code
	}

	if req.HasResponseType("id_token") {
		extra := map[string]any{"nonce": req.Nonce}
		if accessToken != "" {
			extra["at_hash"] = leftmostHash(accessToken)
		}
		if code != "" {
			extra["c_hash"] = leftmostHash(code)
		}
		std := map[string]any{
			"sid":       sess.SessionID,
			"auth_time": sess.AuthTime.Unix(),
			"azp":       req.Client.ClientID,
		}
		idToken, _, err := a.issuer.IssueIDToken(sess.SubjectID, req.Client.ClientID, std, extra, req.Client.IDTokenTTL)
		if err != nil {
			log.Error("id_token signing failed", logger.Err(err))
			return nil, redirectable(ErrCodeServerError, "")
		}
		resp.Params["id_token"] = idToken
	}

	log.Info("authorize response issued",
		logger.ClientID(req.Client.ClientID),
		logger.Subject(sess.SubjectID),
		logger.String("response_type", req.ResponseType))

	return resp, nil
}

// issueCode persists the AuthorizationCode grant entry binding the full
// original request, and returns the raw single-use code.
func (a *AuthorizeIssuer) issueCode(ctx context.Context, req *AuthorizeRequest, sess *Session) (string, *ValidationError) {
	log := logger.From(ctx).With(logger.Layer("engine"), logger.Op("authorize.code"))

	code, err := tokens.GenerateOpaqueToken(32)
	if err != nil {
		log.Error("code generation failed", logger.Err(err))
		return "", redirectable(ErrCodeServerError, "")
	}

	payload := codePayload{
		SubjectID:       sess.SubjectID,
		ClientID:        req.Client.ClientID,
		RedirectURI:     req.RedirectURI,
		Scopes:          req.Scopes,
		Nonce:           req.Nonce,
		CodeChallenge:   req.CodeChallenge,
		ChallengeMethod: req.CodeChallengeMethod,
		SessionID:       sess.SessionID,
		AuthTime:        sess.AuthTime,
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return "", redirectable(ErrCodeServerError, "")
	}

	now := time.Now().UTC()
	err = a.grants.Store(ctx, &core.GrantEntry{
		Key:          tokens.SHA256Base64URL(code),
		Type:         core.GrantAuthorizationCode,
		SubjectID:    sess.SubjectID,
		ClientID:     req.Client.ClientID,
		CreationTime: now,
		Expiration:   now.Add(a.codeTTL),
		Data:         raw,
	})
	if err != nil {
		log.Error("storing authorization code failed", logger.Err(err))
		return "", redirectable(ErrCodeServerError, "")
	}

	return code, nil
}

// leftmostHash computes base64url(left-most half of SHA-256(input)), the OIDC
// at_hash/c_hash construction.
func leftmostHash(input string) string {
	sum := sha256.Sum256([]byte(input))
	return base64.RawURLEncoding.EncodeToString(sum[:len(sum)/2])
}

package oauth

import (
	"context"
	"net/url"
	"testing"
)

func TestValidateAuthorizeHappyPath(t *testing.T) {
	env := newTestEnv(t)

	req, vErr := env.svcs.Validator.ValidateAuthorize(context.Background(), authorizeParams())
	if vErr != nil {
		t.Fatalf("unexpected error: %v", vErr)
	}
	if req.Client.ClientID != "web" {
		t.Errorf("client = %q, want web", req.Client.ClientID)
	}
	if req.ResponseMode != ResponseModeQuery {
		t.Errorf("mode = %q, want query default", req.ResponseMode)
	}
	if len(req.Scopes) != 2 {
		t.Errorf("scopes = %v", req.Scopes)
	}
}

func TestValidateAuthorizeUnknownClientNotRedirectable(t *testing.T) {
	env := newTestEnv(t)

	p := authorizeParams()
	p.Set("client_id", "nope")
	req, vErr := env.svcs.Validator.ValidateAuthorize(context.Background(), p)
	if req != nil || vErr == nil {
		t.Fatal("want error")
	}
	if vErr.Code != ErrCodeUnauthorizedClient || vErr.Redirectable {
		t.Errorf("got %q redirectable=%v", vErr.Code, vErr.Redirectable)
	}
}

func TestValidateAuthorizeRedirectExactMatch(t *testing.T) {
	env := newTestEnv(t)

	// Prefix, sub-path, and trailing-slash variants of a registered URI must
	// all be rejected, and the rejection must never be redirectable.
	for _, uri := range []string{
		"",
		"https://web.example/cb/",
		"https://web.example/cb/extra",
		"https://web.example/other",
		"http://web.example/cb",
		"https://web.example:8443/cb",
	} {
		p := authorizeParams()
		p.Set("redirect_uri", uri)
		req, vErr := env.svcs.Validator.ValidateAuthorize(context.Background(), p)
		if req != nil || vErr == nil {
			t.Fatalf("uri %q: want error", uri)
		}
		if vErr.Redirectable {
			t.Errorf("uri %q: redirect error must not be redirectable", uri)
		}
	}
}

func TestValidateAuthorizeAfterRedirectErrorsAreRedirectable(t *testing.T) {
	env := newTestEnv(t)

	cases := []struct {
		mutate func(url.Values)
		code   string
	}{
		{func(p url.Values) { p.Set("response_type", "badness") }, ErrCodeUnsupportedResponseType},
		{func(p url.Values) { p.Set("scope", "") }, ErrCodeInvalidScope},
		{func(p url.Values) { p.Set("scope", "openid admin.power") }, ErrCodeInvalidScope},
		{func(p url.Values) { p.Set("scope", "openid Not-Valid!") }, ErrCodeInvalidScope},
	}
	for _, tc := range cases {
		p := authorizeParams()
		tc.mutate(p)
		_, vErr := env.svcs.Validator.ValidateAuthorize(context.Background(), p)
		if vErr == nil {
			t.Fatal("want error")
		}
		if vErr.Code != tc.code {
			t.Errorf("code = %q, want %q", vErr.Code, tc.code)
		}
		if !vErr.Redirectable {
			t.Errorf("%q: post-redirect-check error must be redirectable", tc.code)
		}
	}
}

func TestResponseTypeNormalizationOrderInsensitive(t *testing.T) {
	env := newTestEnv(t)

	p := authorizeParams()
	p.Set("response_type", "token id_token code")
	p.Set("nonce", "n-1")
	req, vErr := env.svcs.Validator.ValidateAuthorize(context.Background(), p)
	if vErr != nil {
		t.Fatalf("unexpected error: %v", vErr)
	}
	if req.ResponseType != "code id_token token" {
		t.Errorf("normalized = %q", req.ResponseType)
	}
	if req.ResponseMode != ResponseModeFragment {
		t.Errorf("mode = %q, want fragment for token-bearing", req.ResponseMode)
	}
}

func TestQueryModeRejectedForTokenBearing(t *testing.T) {
	env := newTestEnv(t)

	p := authorizeParams()
	p.Set("response_type", "code token")
	p.Set("response_mode", "query")
	_, vErr := env.svcs.Validator.ValidateAuthorize(context.Background(), p)
	if vErr == nil || vErr.Code != ErrCodeInvalidRequest {
		t.Fatalf("got %v, want invalid_request", vErr)
	}
}

func TestNonceRequiredForIDToken(t *testing.T) {
	env := newTestEnv(t)

	p := authorizeParams()
	p.Set("response_type", "code id_token")
	_, vErr := env.svcs.Validator.ValidateAuthorize(context.Background(), p)
	if vErr == nil || vErr.Code != ErrCodeInvalidRequest {
		t.Fatalf("got %v, want invalid_request for missing nonce", vErr)
	}

	p.Set("nonce", "n-1")
	if _, vErr := env.svcs.Validator.ValidateAuthorize(context.Background(), p); vErr != nil {
		t.Fatalf("with nonce: %v", vErr)
	}
}

func TestPKCERules(t *testing.T) {
	env := newTestEnv(t)

	spa := func() url.Values {
		return url.Values{
			"client_id":     {"spa"},
			"redirect_uri":  {"https://spa.example/cb"},
			"response_type": {"code"},
			"scope":         {"openid"},
		}
	}

	// PKCE-required client without a challenge.
	if _, vErr := env.svcs.Validator.ValidateAuthorize(context.Background(), spa()); vErr == nil || vErr.Code != ErrCodeInvalidRequest {
		t.Fatalf("missing challenge: got %v", vErr)
	}

	// Empty challenge is an explicit reject, not treated as absent.
	p := authorizeParams()
	p.Set("code_challenge", "")
	if _, vErr := env.svcs.Validator.ValidateAuthorize(context.Background(), p); vErr == nil || vErr.Code != ErrCodeInvalidRequest {
		t.Fatalf("empty challenge: got %v", vErr)
	}

	// Method without challenge.
	p = authorizeParams()
	p.Set("code_challenge_method", "S256")
	if _, vErr := env.svcs.Validator.ValidateAuthorize(context.Background(), p); vErr == nil || vErr.Code != ErrCodeInvalidRequest {
		t.Fatalf("method without challenge: got %v", vErr)
	}

	// Unknown method.
	p = spa()
	p.Set("code_challenge", "abc123")
	p.Set("code_challenge_method", "S512")
	if _, vErr := env.svcs.Validator.ValidateAuthorize(context.Background(), p); vErr == nil || vErr.Code != ErrCodeInvalidRequest {
		t.Fatalf("unknown method: got %v", vErr)
	}

	// Challenge without method defaults to plain.
	p = spa()
	p.Set("code_challenge", "abc123")
	req, vErr := env.svcs.Validator.ValidateAuthorize(context.Background(), p)
	if vErr != nil {
		t.Fatalf("plain default: %v", vErr)
	}
	if req.CodeChallengeMethod != PKCEMethodPlain {
		t.Errorf("method = %q, want plain", req.CodeChallengeMethod)
	}
}

func TestValidateTokenGrantAllowlist(t *testing.T) {
	env := newTestEnv(t)

	m2m, _ := env.cat.GetClient("m2m")
	p := url.Values{
		"grant_type":   {"authorization_code"},
		"code":         {"whatever"},
		"redirect_uri": {"https://m2m.example/cb"},
	}
	_, vErr := env.svcs.Validator.ValidateToken(context.Background(), p, m2m)
	if vErr == nil || vErr.Code != ErrCodeUnauthorizedClient {
		t.Fatalf("got %v, want unauthorized_client", vErr)
	}
}

func TestValidateTokenClientCredentialsPublicClientRejected(t *testing.T) {
	env := newTestEnv(t)

	spa, _ := env.cat.GetClient("spa")
	p := url.Values{"grant_type": {"client_credentials"}}
	_, vErr := env.svcs.Validator.ValidateToken(context.Background(), p, spa)
	if vErr == nil || vErr.Code != ErrCodeUnauthorizedClient {
		t.Fatalf("got %v, want unauthorized_client", vErr)
	}
}

package oauth

import (
	"context"
	"testing"
)

func TestRevokeRefreshToken(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	code := issueCode(t, env, "web", []string{"openid"}, "", "")
	resp, vErr := env.svcs.Token.Issue(ctx, codeTokenRequest(t, env, "web", code, ""))
	if vErr != nil {
		t.Fatalf("token: %v", vErr)
	}

	web, _ := env.cat.GetClient("web")
	if err := env.svcs.Revoke.Revoke(ctx, web, resp.RefreshToken); err != nil {
		t.Fatalf("Revoke: %v", err)
	}
	if _, vErr := env.svcs.Token.Issue(ctx, &TokenRequest{
		Client: web, GrantType: GrantTypeRefreshToken, RefreshToken: resp.RefreshToken,
	}); vErr == nil || vErr.Code != ErrCodeInvalidGrant {
		t.Fatalf("revoked handle: got %v, want invalid_grant", vErr)
	}
}

func TestRevokeUnknownTokenSilentlySucceeds(t *testing.T) {
	env := newTestEnv(t)
	web, _ := env.cat.GetClient("web")
	if err := env.svcs.Revoke.Revoke(context.Background(), web, "never-issued"); err != nil {
		t.Fatalf("Revoke: %v", err)
	}
}

func TestRevokeForeignTokenDoesNothing(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	code := issueCode(t, env, "web", []string{"openid"}, "", "")
	resp, vErr := env.svcs.Token.Issue(ctx, codeTokenRequest(t, env, "web", code, ""))
	if vErr != nil {
		t.Fatalf("token: %v", vErr)
	}

	// Another client revoking web's token: silent no-op.
	legacy, _ := env.cat.GetClient("legacy")
	if err := env.svcs.Revoke.Revoke(ctx, legacy, resp.RefreshToken); err != nil {
		t.Fatalf("Revoke: %v", err)
	}
	web, _ := env.cat.GetClient("web")
	if _, vErr := env.svcs.Token.Issue(ctx, &TokenRequest{
		Client: web, GrantType: GrantTypeRefreshToken, RefreshToken: resp.RefreshToken,
	}); vErr != nil {
		t.Fatalf("token must survive a foreign revocation: %v", vErr)
	}
}

func TestRevokeAllForSubject(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		code := issueCode(t, env, "web", []string{"openid"}, "", "")
		if _, vErr := env.svcs.Token.Issue(ctx, codeTokenRequest(t, env, "web", code, "")); vErr != nil {
			t.Fatalf("token %d: %v", i, vErr)
		}
	}

	n, err := env.svcs.Revoke.RevokeAllForSubject(ctx, "u1", "")
	if err != nil {
		t.Fatalf("RevokeAllForSubject: %v", err)
	}
	if n == 0 {
		t.Fatal("nothing revoked")
	}
	if env.grants.Len() != 0 {
		t.Errorf("entries left = %d", env.grants.Len())
	}
}

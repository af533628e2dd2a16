package oauth

import (
	"context"
	"testing"
	"time"
)

func validatedRequest(t *testing.T, env *testEnv, clientID string, scopes string) *AuthorizeRequest {
	t.Helper()
	cl, err := env.cat.GetClient(clientID)
	if err != nil {
		t.Fatalf("GetClient: %v", err)
	}
	redirect := ""
	if len(cl.RedirectURIs) > 0 {
		redirect = cl.RedirectURIs[0]
	}
	return &AuthorizeRequest{
		Client:       cl,
		RedirectURI:  redirect,
		ResponseType: "code",
		ResponseMode: ResponseModeQuery,
		Scopes:       []string{"openid", "profile"},
		RawScope:     scopes,
	}
}

func TestResolveNoSessionNeedsLogin(t *testing.T) {
	env := newTestEnv(t)
	req := validatedRequest(t, env, "web", "openid profile")

	out := env.svcs.Interaction.Resolve(context.Background(), req, nil)
	if out.Kind != InteractionLogin {
		t.Fatalf("kind = %v, want login", out.Kind)
	}

	out = env.svcs.Interaction.Resolve(context.Background(), req, &Session{})
	if out.Kind != InteractionLogin {
		t.Fatalf("empty subject: kind = %v, want login", out.Kind)
	}
}

func TestResolvePromptNoneWithoutSession(t *testing.T) {
	env := newTestEnv(t)
	req := validatedRequest(t, env, "web", "openid profile")
	req.Prompt = "none"

	out := env.svcs.Interaction.Resolve(context.Background(), req, nil)
	if out.Kind != InteractionError || out.ErrorCode != "login_required" {
		t.Fatalf("got %+v, want login_required error", out)
	}
}

func TestResolveMaxAgeForcesReauth(t *testing.T) {
	env := newTestEnv(t)
	req := validatedRequest(t, env, "web", "openid profile")
	req.Client.MaxAge = 60

	stale := &Session{SubjectID: "u1", AuthTime: time.Now().Add(-2 * time.Minute)}
	out := env.svcs.Interaction.Resolve(context.Background(), req, stale)
	if out.Kind != InteractionLogin {
		t.Fatalf("stale session: kind = %v, want login", out.Kind)
	}

	fresh := &Session{SubjectID: "u1", AuthTime: time.Now()}
	out = env.svcs.Interaction.Resolve(context.Background(), req, fresh)
	if out.Kind != InteractionProceed {
		t.Fatalf("fresh session: kind = %v, want proceed", out.Kind)
	}
}

func TestResolveConsentLifecycle(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	req := validatedRequest(t, env, "spa", "openid profile")
	sess := session("u1")

	// Never asked.
	out := env.svcs.Interaction.Resolve(ctx, req, sess)
	if out.Kind != InteractionConsent || out.ConsentReason != ConsentReasonNeverAsked {
		t.Fatalf("got %+v, want consent/never_asked", out)
	}

	// Granted and remembered: subsequent request proceeds.
	if err := env.svcs.Consent.RecordConsent(ctx, "u1", "spa", []string{"openid", "profile"}, true, 0); err != nil {
		t.Fatalf("RecordConsent: %v", err)
	}
	out = env.svcs.Interaction.Resolve(ctx, req, sess)
	if out.Kind != InteractionProceed {
		t.Fatalf("after grant: got %+v, want proceed", out)
	}

	// A broader request needs consent again.
	wider := validatedRequest(t, env, "spa", "openid profile api.read")
	wider.Scopes = []string{"openid", "profile", "api.read"}
	out = env.svcs.Interaction.Resolve(ctx, wider, sess)
	if out.Kind != InteractionConsent || out.ConsentReason != ConsentReasonScopesNotGranted {
		t.Fatalf("wider request: got %+v, want consent/scopes_not_granted", out)
	}

	// prompt=consent forces the screen even when covered.
	forced := validatedRequest(t, env, "spa", "openid profile")
	forced.Prompt = "consent"
	out = env.svcs.Interaction.Resolve(ctx, forced, sess)
	if out.Kind != InteractionConsent || out.ConsentReason != ConsentReasonForced {
		t.Fatalf("forced: got %+v, want consent/forced", out)
	}

	// prompt=none while consent is pending.
	none := validatedRequest(t, env, "spa", "openid profile api.read")
	none.Scopes = []string{"openid", "profile", "api.read"}
	none.Prompt = "none"
	out = env.svcs.Interaction.Resolve(ctx, none, sess)
	if out.Kind != InteractionError || out.ErrorCode != "consent_required" {
		t.Fatalf("prompt=none: got %+v, want consent_required", out)
	}
}

func TestResolvePreviousDenialIsNotNeverAsked(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	req := validatedRequest(t, env, "spa", "openid profile")

	if err := env.svcs.Consent.RecordConsent(ctx, "u1", "spa", nil, true, 0); err != nil {
		t.Fatalf("RecordConsent: %v", err)
	}
	out := env.svcs.Interaction.Resolve(ctx, req, session("u1"))
	if out.Kind != InteractionConsent || out.ConsentReason != ConsentReasonPreviouslyDenied {
		t.Fatalf("got %+v, want consent/previously_denied", out)
	}
}

func TestConsentNotRememberedOnlyLivesInSessionCache(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	if err := env.svcs.Consent.RecordConsent(ctx, "u1", "spa", []string{"openid"}, false, 0); err != nil {
		t.Fatalf("RecordConsent: %v", err)
	}
	d, err := env.svcs.Consent.Decision(ctx, "u1", "spa")
	if err != nil {
		t.Fatalf("Decision: %v", err)
	}
	if !d.Asked || d.Denied {
		t.Fatalf("decision = %+v", d)
	}
	// Nothing persisted: the grant store holds no consent entry.
	if env.grants.Len() != 0 {
		t.Errorf("store entries = %d, want 0", env.grants.Len())
	}
}

func TestConsentRevoke(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	if err := env.svcs.Consent.RecordConsent(ctx, "u1", "spa", []string{"openid"}, true, 0); err != nil {
		t.Fatalf("RecordConsent: %v", err)
	}
	if err := env.svcs.Consent.Revoke(ctx, "u1", "spa"); err != nil {
		t.Fatalf("Revoke: %v", err)
	}
	d, err := env.svcs.Consent.Decision(ctx, "u1", "spa")
	if err != nil {
		t.Fatalf("Decision: %v", err)
	}
	if d.Asked {
		t.Fatalf("decision = %+v, want never asked", d)
	}
}

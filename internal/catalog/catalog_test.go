package catalog

import "testing"

func baseScopes() []Scope {
	return []Scope{
		{Name: "openid", Identity: true},
		{Name: "profile", Identity: true},
		{Name: "api1", Audience: "https://api1"},
	}
}

func TestNew_RejectsBadRecords(t *testing.T) {
	if _, err := New(nil, []Scope{{Name: "BAD SCOPE"}}); err == nil {
		t.Fatal("invalid scope name accepted")
	}
	if _, err := New([]Client{{ClientID: "c1", Type: ClientConfidential}}, baseScopes()); err == nil {
		t.Fatal("confidential client without secret accepted")
	}
	if _, err := New([]Client{{ClientID: "c1", Scopes: []string{"nope"}}}, baseScopes()); err == nil {
		t.Fatal("client referencing unknown scope accepted")
	}
	if _, err := New([]Client{{ClientID: "c1"}, {ClientID: "c1"}}, baseScopes()); err == nil {
		t.Fatal("duplicate client accepted")
	}
}

func TestScopeResolution(t *testing.T) {
	cat, err := New([]Client{{ClientID: "c1", Scopes: []string{"openid", "api1"}}}, baseScopes())
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	cl, err := cat.GetClient("c1")
	if err != nil {
		t.Fatalf("get client: %v", err)
	}
	if !cat.IsScopeAllowed(cl, "api1") {
		t.Fatal("api1 should be allowed")
	}
	if cat.IsScopeAllowed(cl, "profile") {
		t.Fatal("profile is in catalog but not allowed for c1")
	}
	if cat.IsScopeAllowed(cl, "ghost") {
		t.Fatal("unknown scope allowed")
	}
	if _, err := cat.GetClient("ghost"); err != ErrClientNotFound {
		t.Fatalf("got %v, want ErrClientNotFound", err)
	}
}

func TestVerifyClientSecret(t *testing.T) {
	hash, err := HashSecret("s3cret")
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	cat, err := New([]Client{
		{ClientID: "m2m", Type: ClientConfidential, SecretHash: hash},
		{ClientID: "spa", Type: ClientPublic},
	}, baseScopes())
	if err != nil {
		t.Fatalf("new: %v", err)
	}

	m2m, _ := cat.GetClient("m2m")
	if !cat.VerifyClientSecret(m2m, "s3cret") {
		t.Fatal("correct secret rejected")
	}
	if cat.VerifyClientSecret(m2m, "wrong") {
		t.Fatal("wrong secret accepted")
	}
	spa, _ := cat.GetClient("spa")
	if cat.VerifyClientSecret(spa, "anything") {
		t.Fatal("public client must never pass secret verification")
	}
}

func TestDefaults(t *testing.T) {
	cat, err := New([]Client{{ClientID: "c1"}}, baseScopes())
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	cl, _ := cat.GetClient("c1")
	if cl.Type != ClientPublic {
		t.Fatalf("default type = %s, want public", cl.Type)
	}
	if cl.RefreshUsage != RefreshSingleUse {
		t.Fatalf("default refresh usage = %s, want single_use", cl.RefreshUsage)
	}
}

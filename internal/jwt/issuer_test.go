package jwt

import (
	"testing"
	"time"

	jwtv5 "github.com/golang-jwt/jwt/v5"
)

func newIssuer(t *testing.T) *Issuer {
	t.Helper()
	ks, err := NewKeystore()
	if err != nil {
		t.Fatalf("keystore: %v", err)
	}
	return NewIssuer("https://idp.example.com", ks)
}

func TestIssueAccess_RoundTrip(t *testing.T) {
	iss := newIssuer(t)

	signed, exp, err := iss.IssueAccess("u1", "c1", map[string]any{"scope": "openid api1"}, 0)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if time.Until(exp) > 15*time.Minute || time.Until(exp) < 14*time.Minute {
		t.Fatalf("unexpected exp %v", exp)
	}

	tok, err := jwtv5.Parse(signed, iss.Keyfunc(),
		jwtv5.WithValidMethods([]string{"EdDSA"}),
		jwtv5.WithIssuer("https://idp.example.com"),
		jwtv5.WithAudience("c1"),
		jwtv5.WithSubject("u1"),
	)
	if err != nil || !tok.Valid {
		t.Fatalf("parse: %v", err)
	}
	claims := tok.Claims.(jwtv5.MapClaims)
	if claims["scope"] != "openid api1" {
		t.Fatalf("scope claim = %v", claims["scope"])
	}
	if tok.Header["kid"] == "" {
		t.Fatal("missing kid header")
	}
}

func TestRotation_OldTokensStillVerify(t *testing.T) {
	iss := newIssuer(t)

	signed, _, err := iss.IssueAccess("u1", "c1", nil, time.Minute)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if _, err := iss.Keys.Rotate(); err != nil {
		t.Fatalf("rotate: %v", err)
	}

	// El token firmado con la clave en retiro sigue validando por kid.
	tok, err := jwtv5.Parse(signed, iss.Keyfunc(), jwtv5.WithValidMethods([]string{"EdDSA"}))
	if err != nil || !tok.Valid {
		t.Fatalf("old token should verify after rotation: %v", err)
	}

	// Y los nuevos tokens usan el kid nuevo.
	signed2, _, err := iss.IssueAccess("u1", "c1", nil, time.Minute)
	if err != nil {
		t.Fatalf("issue 2: %v", err)
	}
	t1, _, _ := jwtv5.NewParser().ParseUnverified(signed, jwtv5.MapClaims{})
	t2, _, _ := jwtv5.NewParser().ParseUnverified(signed2, jwtv5.MapClaims{})
	if t1.Header["kid"] == t2.Header["kid"] {
		t.Fatal("kid should change after rotation")
	}
}

func TestIDToken_ExtraClaims(t *testing.T) {
	iss := newIssuer(t)

	signed, _, err := iss.IssueIDToken("u1", "c1",
		map[string]any{"sid": "s-1"},
		map[string]any{"nonce": "n-123"}, 0)
	if err != nil {
		t.Fatalf("issue id_token: %v", err)
	}
	tok, err := jwtv5.Parse(signed, iss.Keyfunc(), jwtv5.WithValidMethods([]string{"EdDSA"}))
	if err != nil || !tok.Valid {
		t.Fatalf("parse: %v", err)
	}
	claims := tok.Claims.(jwtv5.MapClaims)
	if claims["nonce"] != "n-123" || claims["sid"] != "s-1" {
		t.Fatalf("claims missing: %v", claims)
	}
}

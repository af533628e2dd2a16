package tokens

import (
	"crypto/sha256"
	"encoding/base64"
	"testing"
)

func TestGenerateOpaqueToken_UniqueAndURLSafe(t *testing.T) {
	seen := map[string]bool{}
	for i := 0; i < 100; i++ {
		tok, err := GenerateOpaqueToken(32)
		if err != nil {
			t.Fatalf("generate: %v", err)
		}
		if seen[tok] {
			t.Fatalf("duplicate token generated: %q", tok)
		}
		seen[tok] = true
		if _, err := base64.RawURLEncoding.DecodeString(tok); err != nil {
			t.Fatalf("not base64url: %q", tok)
		}
	}
}

func TestSHA256Base64URL(t *testing.T) {
	in := "dBjftJeZ4CVP-mB92K27uhbUJU1p1r_wW1gFWFOEjXk"
	sum := sha256.Sum256([]byte(in))
	want := base64.RawURLEncoding.EncodeToString(sum[:])
	if got := SHA256Base64URL(in); got != want {
		t.Fatalf("got %q want %q", got, want)
	}
	// sin padding
	if got := SHA256Base64URL(""); len(got) != 43 {
		t.Fatalf("unexpected hash length %d", len(got))
	}
}

func TestConstantTimeEquals(t *testing.T) {
	if !ConstantTimeEquals("abc", "abc") {
		t.Fatal("equal strings must compare true")
	}
	if ConstantTimeEquals("abc", "abd") {
		t.Fatal("different strings must compare false")
	}
	if ConstantTimeEquals("abc", "abcd") {
		t.Fatal("different lengths must compare false")
	}
}

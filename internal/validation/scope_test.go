package validation

import (
	"reflect"
	"testing"
)

func TestValidScopeName_Valid(t *testing.T) {
	valids := []string{
		"a",
		"ab",
		"openid",
		"api1",
		"profile:read",
		"email:read:e2e123",
		"a_b-c.d:scope2",
	}
	for _, v := range valids {
		if !ValidScopeName(v) {
			t.Fatalf("expected valid: %q", v)
		}
	}
}

func TestValidScopeName_Invalid(t *testing.T) {
	invalids := []string{
		"",
		":lead",
		"trail:",
		"bad space",
		"UPPER",
		"semicolon;hack",
	}
	for _, v := range invalids {
		if ValidScopeName(v) {
			t.Fatalf("expected invalid: %q", v)
		}
	}
}

func TestParseScopes(t *testing.T) {
	cases := []struct {
		in   string
		want []string
	}{
		{"", nil},
		{"   ", nil},
		{"openid", []string{"openid"}},
		{"openid api1", []string{"openid", "api1"}},
		{"openid  api1\topenid", []string{"openid", "api1"}}, // dedupe, keep order
	}
	for _, c := range cases {
		if got := ParseScopes(c.in); !reflect.DeepEqual(got, c.want) {
			t.Fatalf("ParseScopes(%q) = %v, want %v", c.in, got, c.want)
		}
	}
}

func TestSubset(t *testing.T) {
	if !Subset([]string{"openid"}, []string{"openid", "api1"}) {
		t.Fatal("openid should be subset")
	}
	if Subset([]string{"openid", "admin"}, []string{"openid", "api1"}) {
		t.Fatal("admin is not in have")
	}
	if !Subset(nil, nil) {
		t.Fatal("empty set is subset of empty set")
	}
}

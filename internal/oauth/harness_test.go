package oauth

import (
	"context"
	"errors"
	"net/url"
	"testing"
	"time"

	"github.com/dropDatabas3/grantd/internal/cache/memory"
	"github.com/dropDatabas3/grantd/internal/catalog"
	"github.com/dropDatabas3/grantd/internal/jwt"
	storemem "github.com/dropDatabas3/grantd/internal/store/adapters/memory"
)

// testEnv wires a full engine over in-memory adapters.
type testEnv struct {
	cat    *catalog.Catalog
	grants *storemem.Store
	issuer *jwt.Issuer
	svcs   *Services
}

// passwordStub accepts exactly alice/wonderland.
type passwordStub struct{}

func (passwordStub) ValidateCredentials(_ context.Context, username, password string) (string, error) {
	if username == "alice" && password == "wonderland" {
		return "user:alice", nil
	}
	return "", errors.New("bad credentials")
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	secretHash, err := catalog.HashSecret("s3cret")
	if err != nil {
		t.Fatalf("HashSecret: %v", err)
	}

	cat, err := catalog.New([]catalog.Client{
		{
			ClientID:     "web",
			Type:         catalog.ClientConfidential,
			SecretHash:   secretHash,
			RedirectURIs: []string{"https://web.example/cb"},
			Scopes:       []string{"openid", "profile", "api.read", "api.write"},
			GrantTypes:   []string{"authorization_code", "refresh_token", "implicit"},
			AllowRefresh: true,
			RefreshUsage: catalog.RefreshSingleUse,
		},
		{
			ClientID:       "spa",
			Type:           catalog.ClientPublic,
			RedirectURIs:   []string{"https://spa.example/cb"},
			Scopes:         []string{"openid", "profile", "api.read"},
			GrantTypes:     []string{"authorization_code", "implicit"},
			RequirePKCE:    true,
			RequireConsent: true,
		},
		{
			ClientID:   "m2m",
			Type:       catalog.ClientConfidential,
			SecretHash: secretHash,
			Scopes:     []string{"api.read"},
			GrantTypes: []string{"client_credentials"},
		},
		{
			ClientID:     "tv",
			Type:         catalog.ClientPublic,
			Scopes:       []string{"openid", "profile"},
			GrantTypes:   []string{GrantTypeDeviceCode},
			AllowRefresh: false,
		},
		{
			ClientID:     "legacy",
			Type:         catalog.ClientConfidential,
			SecretHash:   secretHash,
			Scopes:       []string{"api.read"},
			GrantTypes:   []string{"password", "refresh_token"},
			AllowRefresh: true,
			RefreshUsage: catalog.RefreshReuse,
		},
	}, []catalog.Scope{
		{Name: "openid", Identity: true},
		{Name: "profile", Identity: true},
		{Name: "api.read"},
		{Name: "api.write"},
	})
	if err != nil {
		t.Fatalf("catalog.New: %v", err)
	}

	ks, err := jwt.NewKeystore()
	if err != nil {
		t.Fatalf("NewKeystore: %v", err)
	}

	grants := storemem.New()
	env := &testEnv{
		cat:    cat,
		grants: grants,
		issuer: jwt.NewIssuer("https://auth.example", ks),
	}
	env.svcs = NewServices(Deps{
		Catalog:            cat,
		Grants:             grants,
		Issuer:             env.issuer,
		Cache:              memory.New(time.Minute),
		Passwords:          passwordStub{},
		DevicePollInterval: time.Millisecond,
		VerificationURI:    "https://auth.example/device",
	})
	return env
}

// session returns an authenticated host session for subject.
func session(subject string) *Session {
	return &Session{SubjectID: subject, AuthTime: time.Now().UTC(), SessionID: "sess-" + subject}
}

// authorizeParams builds the baseline valid code-flow query for client "web".
func authorizeParams() url.Values {
	return url.Values{
		"client_id":     {"web"},
		"redirect_uri":  {"https://web.example/cb"},
		"response_type": {"code"},
		"scope":         {"openid profile"},
		"state":         {"st-123"},
	}
}

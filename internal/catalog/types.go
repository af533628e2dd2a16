// Package catalog holds the configured clients and scopes the engine validates
// against. Administration of these records is a configuration concern; the
// engine only reads them.
package catalog

import "time"

// ClientType distingue clientes con secreto (confidential) de los públicos.
type ClientType string

const (
	ClientPublic       ClientType = "public"
	ClientConfidential ClientType = "confidential"
)

// RefreshUsage define la política de rotación del refresh token, fijada a la
// emisión y nunca cambiada después para una entrada dada.
type RefreshUsage string

const (
	RefreshSingleUse RefreshUsage = "single_use" // rota en cada uso
	RefreshReuse     RefreshUsage = "reuse"      // multi-uso hasta expirar
)

// Client es el registro de un cliente OAuth2/OIDC.
type Client struct {
	ClientID       string       `yaml:"client_id"`
	Name           string       `yaml:"name"`
	Type           ClientType   `yaml:"type"`
	SecretHash     string       `yaml:"secret_hash"` // bcrypt; vacío para públicos
	RedirectURIs   []string     `yaml:"redirect_uris"`
	Scopes         []string     `yaml:"scopes"`
	GrantTypes     []string     `yaml:"grant_types"`
	RequirePKCE    bool         `yaml:"require_pkce"`
	RequireConsent bool         `yaml:"require_consent"`
	MaxAge         int          `yaml:"max_age"` // segundos; 0 = sin límite
	RefreshUsage   RefreshUsage `yaml:"refresh_usage"`
	AllowRefresh   bool         `yaml:"allow_refresh"`

	// TTLs por cliente; cero usa los defaults globales.
	AccessTokenTTL  time.Duration `yaml:"access_token_ttl"`
	IDTokenTTL      time.Duration `yaml:"id_token_ttl"`
	RefreshTokenTTL time.Duration `yaml:"refresh_token_ttl"`
	ConsentTTL      time.Duration `yaml:"consent_ttl"` // 0 = consentimiento sin expiración
}

// Scope es un scope del catálogo. Identity marca scopes OIDC (openid, profile,
// email) frente a scopes de recurso/API.
type Scope struct {
	Name        string `yaml:"name"`
	Description string `yaml:"description"`
	Identity    bool   `yaml:"identity"`
	Audience    string `yaml:"audience"` // audiencia extra para access tokens; opcional
}

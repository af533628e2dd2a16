package oauth

import (
	"time"

	"github.com/dropDatabas3/grantd/internal/cache"
	"github.com/dropDatabas3/grantd/internal/catalog"
	"github.com/dropDatabas3/grantd/internal/jwt"
	"github.com/dropDatabas3/grantd/internal/store/core"
)

// Deps contiene las dependencias base para construir el engine.
// Todas las dependencias externas se inyectan aquí.
type Deps struct {
	Catalog *catalog.Catalog
	Grants  core.GrantStore
	Issuer  *jwt.Issuer
	Cache   cache.Cache

	// Passwords habilita el grant password; nil lo deja deshabilitado.
	Passwords PasswordValidator

	// TTLs y parámetros del device flow; cero usa defaults.
	CodeTTL            time.Duration
	RefreshTTL         time.Duration
	ConsentSessionTTL  time.Duration
	ConsentDefaultTTL  time.Duration
	DeviceTTL          time.Duration
	DevicePollInterval time.Duration
	VerificationURI    string
}

// Services agrupa los componentes del engine ya cableados. Es el composition
// root: el host construye uno y expone cada endpoint sobre estos campos.
type Services struct {
	Validator   *Validator
	Interaction *InteractionResolver
	Consent     *ConsentProcessor
	Authorize   *AuthorizeIssuer
	Token       *TokenIssuer
	Device      *DeviceFlow
	Revoke      *Revoker
}

func NewServices(d Deps) *Services {
	consent := NewConsentProcessor(d.Grants, d.Cache, d.ConsentSessionTTL, d.ConsentDefaultTTL)
	device := NewDeviceFlow(d.Grants, d.Cache, d.VerificationURI, d.DeviceTTL, d.DevicePollInterval)
	return &Services{
		Validator:   NewValidator(d.Catalog),
		Interaction: NewInteractionResolver(consent),
		Consent:     consent,
		Authorize:   NewAuthorizeIssuer(d.Grants, d.Issuer, d.CodeTTL),
		Token:       NewTokenIssuer(d.Grants, d.Issuer, d.Catalog, d.Passwords, device, d.RefreshTTL),
		Device:      device,
		Revoke:      NewRevoker(d.Grants),
	}
}

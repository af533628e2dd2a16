package jwt

import (
	"crypto/ed25519"
	"time"

	jwtv5 "github.com/golang-jwt/jwt/v5"
)

// Issuer firma tokens usando la clave activa del keystore.
type Issuer struct {
	Iss       string        // claim "iss"
	Keys      *Keystore     //
	AccessTTL time.Duration // TTL por defecto de Access/ID (ej: 15m)
}

func NewIssuer(iss string, ks *Keystore) *Issuer {
	return &Issuer{
		Iss:       iss,
		Keys:      ks,
		AccessTTL: 15 * time.Minute,
	}
}

// Keyfunc devuelve un jwt.Keyfunc que elige la pubkey por 'kid' del token.
func (i *Issuer) Keyfunc() jwtv5.Keyfunc {
	return func(t *jwtv5.Token) (any, error) {
		kid, _ := t.Header["kid"].(string)
		if kid != "" {
			return i.Keys.PublicKeyByKID(kid)
		}
		// Fallback: usar la activa
		_, _, pub, err := i.Keys.Active()
		if err != nil {
			return nil, err
		}
		return ed25519.PublicKey(pub), nil
	}
}

// IssueAccess emite un Access Token con claims estándar + std (flat).
// Si ttl <= 0 usa el TTL por defecto del issuer.
func (i *Issuer) IssueAccess(sub, aud string, std map[string]any, ttl time.Duration) (string, time.Time, error) {
	return i.sign(sub, aud, std, nil, ttl)
}

// IssueIDToken emite un ID Token OIDC con claims estándar y extras.
func (i *Issuer) IssueIDToken(sub, aud string, std map[string]any, extra map[string]any, ttl time.Duration) (string, time.Time, error) {
	return i.sign(sub, aud, std, extra, ttl)
}

func (i *Issuer) sign(sub, aud string, std, extra map[string]any, ttl time.Duration) (string, time.Time, error) {
	if ttl <= 0 {
		ttl = i.AccessTTL
	}
	now := time.Now().UTC()
	exp := now.Add(ttl)

	kid, priv, _, err := i.Keys.Active()
	if err != nil {
		return "", time.Time{}, err
	}

	claims := jwtv5.MapClaims{
		"iss": i.Iss,
		"sub": sub,
		"aud": aud,
		"iat": now.Unix(),
		"nbf": now.Unix(),
		"exp": exp.Unix(),
	}
	for k, v := range std {
		claims[k] = v
	}
	for k, v := range extra {
		claims[k] = v
	}

	tk := jwtv5.NewWithClaims(jwtv5.SigningMethodEdDSA, claims)
	tk.Header["kid"] = kid
	tk.Header["typ"] = "JWT"

	signed, err := tk.SignedString(priv)
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, exp, nil
}

// JWKSJSON expone el JWKS actual (active + retiring).
func (i *Issuer) JWKSJSON() []byte {
	j, _ := i.Keys.JWKSJSON()
	return j
}

// Package jwt contains the signing side of the engine: an Ed25519 keystore and
// the token Issuer built on golang-jwt.
package jwt

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

type KeyStatus string

const (
	KeyActive   KeyStatus = "active"
	KeyRetiring KeyStatus = "retiring"
)

// SigningKey es un par Ed25519 con metadatos de rotación.
type SigningKey struct {
	KID        string
	Alg        string // "EdDSA"
	PublicKey  ed25519.PublicKey
	PrivateKey ed25519.PrivateKey
	Status     KeyStatus
	CreatedAt  time.Time
}

// Keystore mantiene la clave activa y las claves en retiro (para validar
// tokens ya emitidos durante una rotación).
type Keystore struct {
	mu   sync.RWMutex
	keys map[string]*SigningKey
	kid  string // KID activo
}

var ErrNoActiveKey = errors.New("no active signing key")

// NewKeystore genera una clave activa inicial.
func NewKeystore() (*Keystore, error) {
	ks := &Keystore{keys: make(map[string]*SigningKey)}
	if _, err := ks.Rotate(); err != nil {
		return nil, err
	}
	return ks, nil
}

// Rotate genera una nueva clave activa; la anterior pasa a retiring.
func (ks *Keystore) Rotate() (string, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return "", fmt.Errorf("generate key: %w", err)
	}
	kid := uuid.NewString()

	ks.mu.Lock()
	defer ks.mu.Unlock()
	if old, ok := ks.keys[ks.kid]; ok {
		old.Status = KeyRetiring
	}
	ks.keys[kid] = &SigningKey{
		KID:        kid,
		Alg:        "EdDSA",
		PublicKey:  pub,
		PrivateKey: priv,
		Status:     KeyActive,
		CreatedAt:  time.Now().UTC(),
	}
	ks.kid = kid
	return kid, nil
}

// Active devuelve (kid, priv, pub) de la clave activa.
func (ks *Keystore) Active() (string, ed25519.PrivateKey, ed25519.PublicKey, error) {
	ks.mu.RLock()
	defer ks.mu.RUnlock()
	k, ok := ks.keys[ks.kid]
	if !ok {
		return "", nil, nil, ErrNoActiveKey
	}
	return k.KID, k.PrivateKey, k.PublicKey, nil
}

// PublicKeyByKID busca la pubkey por KID (active o retiring).
func (ks *Keystore) PublicKeyByKID(kid string) (ed25519.PublicKey, error) {
	ks.mu.RLock()
	defer ks.mu.RUnlock()
	k, ok := ks.keys[kid]
	if !ok {
		return nil, fmt.Errorf("unknown kid %q", kid)
	}
	return k.PublicKey, nil
}

// JWKSJSON expone el JWKS actual (active + retiring).
func (ks *Keystore) JWKSJSON() ([]byte, error) {
	ks.mu.RLock()
	defer ks.mu.RUnlock()

	type jwk struct {
		Kty string `json:"kty"`
		Crv string `json:"crv"`
		Alg string `json:"alg"`
		Use string `json:"use"`
		Kid string `json:"kid"`
		X   string `json:"x"`
	}
	var set struct {
		Keys []jwk `json:"keys"`
	}
	for _, k := range ks.keys {
		set.Keys = append(set.Keys, jwk{
			Kty: "OKP",
			Crv: "Ed25519",
			Alg: "EdDSA",
			Use: "sig",
			Kid: k.KID,
			X:   base64.RawURLEncoding.EncodeToString(k.PublicKey),
		})
	}
	return json.Marshal(set)
}

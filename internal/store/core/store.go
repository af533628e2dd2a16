package core

import (
	"context"
	"time"
)

// GrantStore es la única pieza de estado compartido del motor.
//
// Contrato:
//   - Las claves llegan ya hasheadas (tokens.SHA256Base64URL); el store nunca
//     ve el secreto crudo.
//   - MarkConsumed debe ser atómico frente a llamadas concurrentes sobre la
//     misma clave: exactamente un caller observa éxito, el resto recibe
//     ErrAlreadyConsumed. Es el único punto donde una carrera produce un bug
//     de seguridad (doble canje de un code o refresh token).
//   - SweepExpired borra solo filas ya vencidas en el momento del chequeo
//     (delete-if-still-expired, nunca delete-by-assumption).
type GrantStore interface {
	// Store persists the entry. A duplicate (Type, Key) returns ErrConflict.
	Store(ctx context.Context, entry *GrantEntry) error

	// GetByKey returns the entry for the hashed key, or ErrNotFound.
	GetByKey(ctx context.Context, typ GrantType, hashedKey string) (*GrantEntry, error)

	// MarkConsumed sets ConsumedTime exactly once. Returns ErrAlreadyConsumed
	// if another caller won the race, ErrNotFound if the key does not exist.
	MarkConsumed(ctx context.Context, typ GrantType, hashedKey string, at time.Time) error

	// RemoveByKey deletes the entry. Missing keys are not an error.
	RemoveByKey(ctx context.Context, typ GrantType, hashedKey string) error

	// RemoveAll deletes every entry matching the filter and returns the count.
	RemoveAll(ctx context.Context, f Filter) (int, error)

	// SweepExpired deletes entries whose Expiration predates now and returns
	// how many were removed.
	SweepExpired(ctx context.Context, now time.Time) (int, error)
}

// Package core defines the persisted grant model and the store contract.
package core

import "time"

// GrantType clasifica las entradas persistidas del motor.
type GrantType string

const (
	GrantAuthorizationCode GrantType = "authorization_code"
	GrantRefreshToken      GrantType = "refresh_token"
	GrantDeviceCode        GrantType = "device_code"
	GrantUserConsent       GrantType = "user_consent"
)

// GrantEntry is the single persisted artifact shape. Key holds the hashed
// lookup key (callers hash before calling the store; the raw secret never
// reaches persistence). Key is unique per Type.
type GrantEntry struct {
	Key          string     `json:"key"`
	Type         GrantType  `json:"type"`
	SubjectID    string     `json:"subject_id,omitempty"`
	ClientID     string     `json:"client_id"`
	CreationTime time.Time  `json:"creation_time"`
	Expiration   time.Time  `json:"expiration"`
	ConsumedTime *time.Time `json:"consumed_time,omitempty"`
	Data         []byte     `json:"data"`
}

// Expired reports whether the entry's lifetime has passed at the given instant.
func (e *GrantEntry) Expired(now time.Time) bool {
	return !now.Before(e.Expiration)
}

// Consumed reports whether the entry was already redeemed.
func (e *GrantEntry) Consumed() bool {
	return e.ConsumedTime != nil
}

// Filter selects entries for bulk removal. Zero-value fields match everything,
// so e.g. {SubjectID: "u1", ClientID: "c1"} removes every grant type for that
// subject+client pair.
type Filter struct {
	SubjectID string
	ClientID  string
	Type      GrantType
}

// Matches reports whether the entry satisfies every non-zero filter field.
func (f Filter) Matches(e *GrantEntry) bool {
	if f.SubjectID != "" && f.SubjectID != e.SubjectID {
		return false
	}
	if f.ClientID != "" && f.ClientID != e.ClientID {
		return false
	}
	if f.Type != "" && f.Type != e.Type {
		return false
	}
	return true
}

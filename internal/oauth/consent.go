package oauth

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/dropDatabas3/grantd/internal/cache"
	"github.com/dropDatabas3/grantd/internal/observability/logger"
	tokens "github.com/dropDatabas3/grantd/internal/security/token"
	"github.com/dropDatabas3/grantd/internal/store/core"
	"github.com/dropDatabas3/grantd/internal/validation"
)

const cacheKeyPrefixSessionConsent = "consent:sess:"

// ConsentDecision is the read side of a recorded decision.
type ConsentDecision struct {
	Asked         bool     // a record exists (granted or denied)
	Denied        bool     // explicit denial was recorded
	GrantedScopes []string // empty when denied
}

// Covers reports whether the decision grants every requested scope.
func (d ConsentDecision) Covers(requested []string) bool {
	return d.Asked && !d.Denied && validation.Subset(requested, d.GrantedScopes)
}

// ConsentProcessor records and checks prior consent decisions.
//
// remember=true persists a UserConsent grant entry; remember=false only lives
// in the session cache, so the next independent authorize request re-asks.
// A denial with remember=true is stored as an explicit empty grant, so the
// engine can tell "previously denied" apart from "never asked".
type ConsentProcessor struct {
	grants core.GrantStore
	cache  cache.Cache

	sessionTTL time.Duration // lifetime of non-remembered decisions
	defaultTTL time.Duration // lifetime of remembered decisions without client override
}

func NewConsentProcessor(grants core.GrantStore, c cache.Cache, sessionTTL, defaultTTL time.Duration) *ConsentProcessor {
	if sessionTTL <= 0 {
		sessionTTL = 15 * time.Minute
	}
	if defaultTTL <= 0 {
		defaultTTL = 180 * 24 * time.Hour
	}
	return &ConsentProcessor{grants: grants, cache: c, sessionTTL: sessionTTL, defaultTTL: defaultTTL}
}

// consentKey: las consultas al store siempre van por clave hasheada.
func consentKey(subjectID, clientID string) string {
	return tokens.SHA256Base64URL(subjectID + "|" + clientID)
}

// RecordConsent stores the user's decision. Granting an empty scope set with
// remember=true records an explicit denial.
func (p *ConsentProcessor) RecordConsent(ctx context.Context, subjectID, clientID string, grantedScopes []string, remember bool, consentTTL time.Duration) error {
	log := logger.From(ctx).With(logger.Layer("engine"), logger.Op("consent.record"))

	payload := consentPayload{Scopes: grantedScopes, Denied: len(grantedScopes) == 0}
	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	if !remember {
		p.cache.Set(cacheKeyPrefixSessionConsent+consentKey(subjectID, clientID), raw, p.sessionTTL)
		return nil
	}

	ttl := consentTTL
	if ttl <= 0 {
		ttl = p.defaultTTL
	}
	key := consentKey(subjectID, clientID)

	// Upsert: reemplazar cualquier decisión anterior.
	if err := p.grants.RemoveByKey(ctx, core.GrantUserConsent, key); err != nil {
		return err
	}
	now := time.Now().UTC()
	err = p.grants.Store(ctx, &core.GrantEntry{
		Key:          key,
		Type:         core.GrantUserConsent,
		SubjectID:    subjectID,
		ClientID:     clientID,
		CreationTime: now,
		Expiration:   now.Add(ttl),
		Data:         raw,
	})
	if err != nil {
		return err
	}

	log.Info("consent recorded",
		logger.Subject(subjectID),
		logger.ClientID(clientID),
		logger.Strings("granted", grantedScopes),
		logger.Bool("denied", payload.Denied))
	return nil
}

// Decision returns the current consent state for subject+client, consulting
// the session cache first and then the persisted record.
func (p *ConsentProcessor) Decision(ctx context.Context, subjectID, clientID string) (ConsentDecision, error) {
	key := consentKey(subjectID, clientID)

	if raw, ok := p.cache.Get(cacheKeyPrefixSessionConsent + key); ok {
		var payload consentPayload
		if json.Unmarshal(raw, &payload) == nil {
			return ConsentDecision{Asked: true, Denied: payload.Denied, GrantedScopes: payload.Scopes}, nil
		}
	}

	entry, err := p.grants.GetByKey(ctx, core.GrantUserConsent, key)
	if errors.Is(err, core.ErrNotFound) {
		return ConsentDecision{}, nil
	}
	if err != nil {
		return ConsentDecision{}, err
	}
	if entry.Expired(time.Now()) {
		return ConsentDecision{}, nil
	}

	var payload consentPayload
	if err := json.Unmarshal(entry.Data, &payload); err != nil {
		// Registro ilegible: tratar como inexistente; el sweep lo purga.
		return ConsentDecision{}, nil
	}
	return ConsentDecision{Asked: true, Denied: payload.Denied, GrantedScopes: payload.Scopes}, nil
}

// CheckConsent reports whether every requested scope was previously granted.
func (p *ConsentProcessor) CheckConsent(ctx context.Context, subjectID, clientID string, requestedScopes []string) (bool, error) {
	d, err := p.Decision(ctx, subjectID, clientID)
	if err != nil {
		return false, err
	}
	return d.Covers(requestedScopes), nil
}

// Revoke removes any recorded consent for subject+client.
func (p *ConsentProcessor) Revoke(ctx context.Context, subjectID, clientID string) error {
	p.cache.Delete(cacheKeyPrefixSessionConsent + consentKey(subjectID, clientID))
	return p.grants.RemoveByKey(ctx, core.GrantUserConsent, consentKey(subjectID, clientID))
}

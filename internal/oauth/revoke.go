package oauth

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/dropDatabas3/grantd/internal/catalog"
	"github.com/dropDatabas3/grantd/internal/observability/logger"
	tokens "github.com/dropDatabas3/grantd/internal/security/token"
	"github.com/dropDatabas3/grantd/internal/store/core"
)

// Revoker removes opaque grant handles. JWT access tokens are not revocable;
// only store-backed artifacts (refresh and device codes) are.
type Revoker struct {
	grants core.GrantStore
}

func NewRevoker(grants core.GrantStore) *Revoker {
	return &Revoker{grants: grants}
}

// revocable lists the entry types a raw handle can map to, probed in order.
var revocable = []core.GrantType{core.GrantRefreshToken, core.GrantAuthorizationCode, core.GrantDeviceCode}

// Revoke removes the grant behind token, whatever its type. Unknown tokens
// succeed silently; revealing existence would let clients probe the store.
// A token belonging to another client is also a silent success, but audited.
func (r *Revoker) Revoke(ctx context.Context, client *catalog.Client, token string) error {
	log := logger.From(ctx).With(logger.Layer("engine"), logger.Op("revoke"))

	hashed := tokens.SHA256Base64URL(token)
	for _, typ := range revocable {
		entry, err := r.grants.GetByKey(ctx, typ, hashed)
		if errors.Is(err, core.ErrNotFound) {
			continue
		}
		if err != nil {
			return err
		}
		if !ownedBy(entry, client.ClientID) {
			log.Warn("revocation attempt against another client's grant",
				logger.ClientID(client.ClientID), logger.Audit())
			return nil
		}
		if err := r.grants.RemoveByKey(ctx, typ, hashed); err != nil && !errors.Is(err, core.ErrNotFound) {
			return err
		}
		log.Info("grant revoked", logger.ClientID(client.ClientID), logger.String("grant_type", string(typ)))
		return nil
	}
	return nil
}

// RevokeAllForSubject drops every grant of a subject, across clients when
// clientID is empty. Used for logout-everywhere and account disable.
func (r *Revoker) RevokeAllForSubject(ctx context.Context, subjectID, clientID string) (int, error) {
	log := logger.From(ctx).With(logger.Layer("engine"), logger.Op("revoke.all"))

	n, err := r.grants.RemoveAll(ctx, core.Filter{SubjectID: subjectID, ClientID: clientID})
	if err != nil {
		return 0, err
	}
	log.Info("subject grants revoked", logger.Subject(subjectID), logger.ClientID(clientID), logger.Count(n))
	return n, nil
}

func ownedBy(entry *core.GrantEntry, clientID string) bool {
	if entry.ClientID == clientID {
		return true
	}
	// Older entries may only carry the client inside the payload.
	var probe struct {
		ClientID string `json:"client_id"`
	}
	if err := json.Unmarshal(entry.Data, &probe); err != nil {
		return false
	}
	return probe.ClientID == clientID
}

package oauth

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/dropDatabas3/grantd/internal/cache"
	"github.com/dropDatabas3/grantd/internal/catalog"
	"github.com/dropDatabas3/grantd/internal/metrics"
	"github.com/dropDatabas3/grantd/internal/observability/logger"
	tokens "github.com/dropDatabas3/grantd/internal/security/token"
	"github.com/dropDatabas3/grantd/internal/store/core"
)

// userCodeAlphabet excludes vowels and look-alike characters so codes read
// aloud over the phone survive the trip.
const userCodeAlphabet = "BCDFGHJKLMNPQRSTVWXZ"

const userCodeCachePrefix = "device:user:"

// DeviceFlow owns the device authorization grant: code pairs, the pending ->
// approved/denied state machine, and poll pacing.
type DeviceFlow struct {
	grants core.GrantStore
	cache  cache.Cache

	verificationURI string
	ttl             time.Duration
	interval        time.Duration

	mu     sync.Mutex
	pacers map[string]*rate.Limiter // hashed device code -> poll limiter
}

func NewDeviceFlow(grants core.GrantStore, c cache.Cache, verificationURI string, ttl, interval time.Duration) *DeviceFlow {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &DeviceFlow{
		grants:          grants,
		cache:           c,
		verificationURI: verificationURI,
		ttl:             ttl,
		interval:        interval,
		pacers:          make(map[string]*rate.Limiter),
	}
}

// Begin issues a device_code/user_code pair for the client and stores the
// pending entry. The raw device code never touches storage.
func (d *DeviceFlow) Begin(ctx context.Context, client *catalog.Client, scopes []string) (*DeviceAuthorization, *ValidationError) {
	log := logger.From(ctx).With(logger.Layer("engine"), logger.Op("device.begin"))

	if !catalog.GrantTypeAllowed(client, GrantTypeDeviceCode) {
		return nil, verr(ErrCodeUnauthorizedClient, "client not allowed to use device flow")
	}

	deviceCode, err := tokens.GenerateOpaqueToken(32)
	if err != nil {
		return nil, verr(ErrCodeServerError, "")
	}
	userCode, err := newUserCode()
	if err != nil {
		return nil, verr(ErrCodeServerError, "")
	}

	hashed := tokens.SHA256Base64URL(deviceCode)
	payload, err := json.Marshal(devicePayload{
		ClientID: client.ClientID,
		UserCode: userCode,
		Scopes:   scopes,
		Status:   devicePending,
		Interval: int64(d.interval.Seconds()),
	})
	if err != nil {
		return nil, verr(ErrCodeServerError, "")
	}

	now := time.Now().UTC()
	if err := d.grants.Store(ctx, &core.GrantEntry{
		Key:          hashed,
		Type:         core.GrantDeviceCode,
		ClientID:     client.ClientID,
		CreationTime: now,
		Expiration:   now.Add(d.ttl),
		Data:         payload,
	}); err != nil {
		log.Error("storing device code failed", logger.Err(err))
		return nil, verr(ErrCodeServerError, "")
	}

	// Índice user_code -> device code hasheado para la página de verificación.
	d.cache.Set(userCodeCachePrefix+userCode, []byte(hashed), d.ttl)

	log.Info("device authorization started", logger.ClientID(client.ClientID), logger.Scope(strings.Join(scopes, " ")))
	return &DeviceAuthorization{
		DeviceCode:      deviceCode,
		UserCode:        userCode,
		VerificationURI: d.verificationURI,
		ExpiresIn:       int64(d.ttl.Seconds()),
		Interval:        int64(d.interval.Seconds()),
	}, nil
}

// Pending describes a pending device authorization for the verification page.
type Pending struct {
	ClientID string
	Scopes   []string
}

// Lookup resolves a user code typed on the verification page.
func (d *DeviceFlow) Lookup(ctx context.Context, userCode string) (*Pending, error) {
	_, payload, err := d.byUserCode(ctx, userCode)
	if err != nil {
		return nil, err
	}
	if payload.Status != devicePending {
		return nil, core.ErrNotFound
	}
	return &Pending{ClientID: payload.ClientID, Scopes: payload.Scopes}, nil
}

// Approve binds the authenticated subject to the device code. The store has no
// in-place update, so the entry is replaced whole.
func (d *DeviceFlow) Approve(ctx context.Context, userCode, subjectID string) error {
	log := logger.From(ctx).With(logger.Layer("engine"), logger.Op("device.approve"))

	entry, payload, err := d.byUserCode(ctx, userCode)
	if err != nil {
		return err
	}
	if payload.Status != devicePending {
		return core.ErrConflict
	}
	payload.Status = deviceApproved
	payload.SubjectID = subjectID
	if err := d.replace(ctx, entry, payload, subjectID); err != nil {
		return err
	}
	log.Info("device authorization approved", logger.ClientID(payload.ClientID), logger.Subject(subjectID))
	return nil
}

// Deny records an explicit denial; the next poll gets access_denied.
func (d *DeviceFlow) Deny(ctx context.Context, userCode string) error {
	log := logger.From(ctx).With(logger.Layer("engine"), logger.Op("device.deny"))

	entry, payload, err := d.byUserCode(ctx, userCode)
	if err != nil {
		return err
	}
	if payload.Status != devicePending {
		return core.ErrConflict
	}
	payload.Status = deviceDenied
	if err := d.replace(ctx, entry, payload, ""); err != nil {
		return err
	}
	log.Info("device authorization denied", logger.ClientID(payload.ClientID))
	return nil
}

// Poll services grant_type=urn:ietf:params:oauth:grant-type:device_code.
// Returns one of the RFC 8628 poll outcomes or the minted tokens.
func (d *DeviceFlow) Poll(ctx context.Context, req *TokenRequest, issuer *TokenIssuer) (*TokenResponse, *ValidationError) {
	log := logger.From(ctx).With(logger.Layer("engine"), logger.Op("token.device_code"))

	hashed := tokens.SHA256Base64URL(req.DeviceCode)

	if !d.pacer(hashed).Allow() {
		return nil, verr(ErrCodeSlowDown, "")
	}

	entry, err := d.grants.GetByKey(ctx, core.GrantDeviceCode, hashed)
	if errors.Is(err, core.ErrNotFound) {
		return nil, verr(ErrCodeInvalidGrant, "")
	}
	if err != nil {
		log.Error("grant store unavailable", logger.Err(err))
		return nil, verr(ErrCodeServerError, "")
	}
	if entry.Expired(time.Now()) {
		d.forget(hashed)
		return nil, verr(ErrCodeExpiredToken, "")
	}

	var payload devicePayload
	if err := json.Unmarshal(entry.Data, &payload); err != nil {
		log.Warn("device code payload corrupted")
		d.forget(hashed)
		return nil, verr(ErrCodeInvalidGrant, "")
	}
	if payload.ClientID != req.Client.ClientID {
		log.Warn("device code presented by a different client", logger.ClientID(req.Client.ClientID), logger.Audit())
		metrics.SecurityEvents.WithLabelValues("client_mismatch").Inc()
		return nil, &ValidationError{Code: ErrCodeInvalidGrant, Security: true}
	}

	switch payload.Status {
	case devicePending:
		return nil, verr(ErrCodeAuthorizationPending, "")
	case deviceDenied:
		d.cleanup(ctx, hashed, payload.UserCode)
		return nil, verr(ErrCodeAccessDenied, "")
	case deviceApproved:
		// sigue abajo
	default:
		return nil, verr(ErrCodeInvalidGrant, "")
	}

	// Consumo único también aquí: dos polls concurrentes tras la aprobación
	// producen exactamente una emisión.
	if err := d.grants.MarkConsumed(ctx, core.GrantDeviceCode, hashed, time.Now().UTC()); err != nil {
		if errors.Is(err, core.ErrAlreadyConsumed) || errors.Is(err, core.ErrNotFound) {
			metrics.SecurityEvents.WithLabelValues("double_consumption").Inc()
			return nil, &ValidationError{Code: ErrCodeInvalidGrant, Security: true}
		}
		log.Error("grant store unavailable", logger.Err(err))
		return nil, verr(ErrCodeServerError, "")
	}
	d.cleanup(ctx, "", payload.UserCode)
	d.forget(hashed)

	resp, vErr := issuer.mint(ctx, req.Client, payload.SubjectID, payload.Scopes, "", "", time.Now().UTC())
	if vErr != nil {
		return nil, vErr
	}
	metrics.TokensIssued.WithLabelValues("device_code").Inc()
	log.Info("device_code redeemed", logger.ClientID(req.Client.ClientID), logger.Subject(payload.SubjectID))
	return resp, nil
}

func (d *DeviceFlow) byUserCode(ctx context.Context, userCode string) (*core.GrantEntry, *devicePayload, error) {
	hashed, ok := d.cache.Get(userCodeCachePrefix + userCode)
	if !ok {
		return nil, nil, core.ErrNotFound
	}
	entry, err := d.grants.GetByKey(ctx, core.GrantDeviceCode, string(hashed))
	if err != nil {
		return nil, nil, err
	}
	if entry.Expired(time.Now()) {
		return nil, nil, core.ErrNotFound
	}
	var payload devicePayload
	if err := json.Unmarshal(entry.Data, &payload); err != nil {
		return nil, nil, core.ErrNotFound
	}
	return entry, &payload, nil
}

// replace swaps the stored entry for one carrying the new payload. Remove and
// re-store keeps every write a complete entry.
func (d *DeviceFlow) replace(ctx context.Context, entry *core.GrantEntry, payload *devicePayload, subjectID string) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	if err := d.grants.RemoveByKey(ctx, core.GrantDeviceCode, entry.Key); err != nil && !errors.Is(err, core.ErrNotFound) {
		return err
	}
	next := *entry
	next.Data = data
	if subjectID != "" {
		next.SubjectID = subjectID
	}
	return d.grants.Store(ctx, &next)
}

func (d *DeviceFlow) cleanup(ctx context.Context, hashed, userCode string) {
	if hashed != "" {
		_ = d.grants.RemoveByKey(ctx, core.GrantDeviceCode, hashed)
	}
	if userCode != "" {
		d.cache.Delete(userCodeCachePrefix + userCode)
	}
}

// pacer returns the per-device-code limiter enforcing the advertised interval.
func (d *DeviceFlow) pacer(hashed string) *rate.Limiter {
	d.mu.Lock()
	defer d.mu.Unlock()
	l, ok := d.pacers[hashed]
	if !ok {
		l = rate.NewLimiter(rate.Every(d.interval), 1)
		d.pacers[hashed] = l
	}
	return l
}

func (d *DeviceFlow) forget(hashed string) {
	d.mu.Lock()
	delete(d.pacers, hashed)
	d.mu.Unlock()
}

// newUserCode produces an XXXX-XXXX code over the restricted alphabet.
func newUserCode() (string, error) {
	raw := make([]byte, 8)
	if _, err := rand.Read(raw); err != nil {
		return "", err
	}
	out := make([]byte, 9)
	for i, b := range raw {
		pos := i
		if i >= 4 {
			pos++
		}
		out[pos] = userCodeAlphabet[int(b)%len(userCodeAlphabet)]
	}
	out[4] = '-'
	return string(out), nil
}

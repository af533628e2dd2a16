package oauth

import (
	"context"
	"strings"
	"time"

	"github.com/dropDatabas3/grantd/internal/observability/logger"
)

// InteractionResolver decides whether login or consent must happen before any
// issuance. The same transition rules apply on re-entry after the host ran an
// interaction, so a forged consent flag without a matching recorded decision
// cannot bypass the consent screen.
type InteractionResolver struct {
	consents *ConsentProcessor
}

func NewInteractionResolver(consents *ConsentProcessor) *InteractionResolver {
	return &InteractionResolver{consents: consents}
}

// Resolve runs the state machine: Start -> {NeedsLogin, NeedsConsent, Ready}.
// Only a Proceed outcome permits the authorize response generator to run.
func (r *InteractionResolver) Resolve(ctx context.Context, req *AuthorizeRequest, sess *Session) InteractionOutcome {
	log := logger.From(ctx).With(logger.Layer("engine"), logger.Op("interaction.resolve"))

	if sess == nil || sess.SubjectID == "" {
		if promptContains(req.Prompt, "none") {
			return InteractionOutcome{Kind: InteractionError, ErrorCode: "login_required"}
		}
		return InteractionOutcome{Kind: InteractionLogin}
	}

	// La sesión debe ser suficientemente reciente para el max_age del cliente.
	if req.Client.MaxAge > 0 {
		maxAge := time.Duration(req.Client.MaxAge) * time.Second
		if sess.AuthTime.IsZero() || time.Since(sess.AuthTime) > maxAge {
			log.Debug("session older than client max_age", logger.ClientID(req.Client.ClientID))
			if promptContains(req.Prompt, "none") {
				return InteractionOutcome{Kind: InteractionError, ErrorCode: "login_required"}
			}
			return InteractionOutcome{Kind: InteractionLogin}
		}
	}

	if req.Client.RequireConsent {
		if promptContains(req.Prompt, "consent") {
			return r.consentOutcome(req, ConsentReasonForced)
		}
		decision, err := r.consents.Decision(ctx, sess.SubjectID, req.Client.ClientID)
		if err != nil {
			log.Error("consent lookup failed", logger.Err(err))
			return InteractionOutcome{Kind: InteractionError, ErrorCode: ErrCodeServerError}
		}
		switch {
		case !decision.Asked:
			return r.consentOutcome(req, ConsentReasonNeverAsked)
		case decision.Denied:
			return r.consentOutcome(req, ConsentReasonPreviouslyDenied)
		case !decision.Covers(req.Scopes):
			return r.consentOutcome(req, ConsentReasonScopesNotGranted)
		}
	}

	return InteractionOutcome{Kind: InteractionProceed}
}

func (r *InteractionResolver) consentOutcome(req *AuthorizeRequest, reason string) InteractionOutcome {
	if promptContains(req.Prompt, "none") {
		return InteractionOutcome{Kind: InteractionError, ErrorCode: "consent_required"}
	}
	return InteractionOutcome{Kind: InteractionConsent, ConsentReason: reason}
}

func promptContains(prompt, value string) bool {
	for _, p := range strings.Fields(prompt) {
		if p == value {
			return true
		}
	}
	return false
}

package webhooks

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"net/http"
	"strings"

	"github.com/angelmondragon/mala-backend/api/responses"
	razorpaywebhook "github.com/angelmondragon/mala-backend/internal/webhooks/razorpay"
	pkgerrors "github.com/angelmondragon/mala-backend/pkg/errors"
	"github.com/angelmondragon/mala-backend/pkg/logger"
	"github.com/angelmondragon/mala-backend/pkg/razorpay"
)

const (
	signatureHeader = "X-Razorpay-Signature"
	eventIDHeader   = "X-Razorpay-Event-Id"
	maxWebhookBody  = 1 << 20
)

type RazorpayWebhookService interface {
	HandleEvent(ctx context.Context, event *razorpaywebhook.Event) error
}

// RazorpayWebhookGuard deduplicates deliveries by event id.
type RazorpayWebhookGuard interface {
	CheckAndMark(ctx context.Context, eventID string) (bool, error)
	Delete(ctx context.Context, eventID string) error
}

// RazorpayWebhook handles payment and refund notifications pushed by Razorpay.
func RazorpayWebhook(svc RazorpayWebhookService, secret string, guard RazorpayWebhookGuard, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		if svc == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "webhook service unavailable"))
			return
		}
		if strings.TrimSpace(secret) == "" {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeDependency, "razorpay webhook secret not configured"))
			return
		}
		if guard == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "idempotency guard unavailable"))
			return
		}

		payload, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
		if err != nil {
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "read request body"))
			return
		}

		signature := strings.TrimSpace(r.Header.Get(signatureHeader))
		if signature == "" {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeValidation, "razorpay signature missing"))
			return
		}
		if !razorpay.VerifyWebhookSignature(payload, signature, secret) {
			if logg != nil {
				logg.Warn(logg.WithField(ctx, "received_signature", signature), "razorpay webhook signature mismatch")
			}
			responses.WriteError(ctx, nil, w, pkgerrors.New(pkgerrors.CodeSignatureInvalid, "webhook signature invalid"))
			return
		}

		event, err := razorpaywebhook.ParseEvent(payload)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		eventID := strings.TrimSpace(r.Header.Get(eventIDHeader))
		if eventID == "" {
			sum := sha256.Sum256(payload)
			eventID = hex.EncodeToString(sum[:])
		}
		if logg != nil {
			ctx = logg.WithFields(ctx, map[string]any{"webhook_event_id": eventID, "webhook_event": event.Event})
		}

		alreadyProcessed, err := guard.CheckAndMark(ctx, eventID)
		if err != nil {
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "check idempotency"))
			return
		}
		if alreadyProcessed {
			responses.WriteSuccess(w, map[string]bool{"duplicate": true})
			return
		}

		if err := svc.HandleEvent(ctx, event); err != nil {
			_ = guard.Delete(ctx, eventID)
			responses.WriteError(ctx, logg, w, err)
			return
		}

		if logg != nil {
			logg.Info(ctx, "razorpay event processed")
		}
		responses.WriteSuccess(w, nil)
	}
}

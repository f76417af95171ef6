package payments

import (
	"context"
	"fmt"
	"strings"

	"gorm.io/gorm"

	"github.com/angelmondragon/marketplace-settlement/internal/audit"
	"github.com/angelmondragon/marketplace-settlement/internal/orders"
	"github.com/angelmondragon/marketplace-settlement/internal/settlement"
	"github.com/angelmondragon/marketplace-settlement/pkg/auth"
	"github.com/angelmondragon/marketplace-settlement/pkg/db"
	"github.com/angelmondragon/marketplace-settlement/pkg/db/models"
	"github.com/angelmondragon/marketplace-settlement/pkg/enums"
	pkgerrors "github.com/angelmondragon/marketplace-settlement/pkg/errors"
	"github.com/angelmondragon/marketplace-settlement/pkg/logger"
	"github.com/angelmondragon/marketplace-settlement/pkg/metrics"
)

type outcomeApplier interface {
	ApplyOutcome(ctx context.Context, outcome settlement.Outcome) (*settlement.Result, error)
}

type webhookParser interface {
	ParseWebhook(payload []byte, signatureHeader string) (*WebhookEvent, error)
}

type eventGuard interface {
	CheckAndMarkProcessed(ctx context.Context, consumer, eventID string) (bool, error)
	Delete(ctx context.Context, consumer, eventID string) error
}

// WebhookResult reports what a delivery did. Exactly one flag is set unless
// the outcome was applied or was already satisfied.
type WebhookResult struct {
	EventID   string
	EventType string
	Ignored   bool
	Duplicate bool
	Refused   bool
	Changed   bool
}

// ServiceParams wires a payments Service.
type ServiceParams struct {
	Verifier webhookParser
	Guard    eventGuard
	Engine   outcomeApplier
	Orders   orders.Repository
	Audit    audit.Recorder
	Metrics  *metrics.SettlementMetrics
	Logger   *logger.Logger
}

type Service struct {
	verifier webhookParser
	guard    eventGuard
	engine   outcomeApplier
	orders   orders.Repository
	audit    audit.Recorder
	metrics  *metrics.SettlementMetrics
	logg     *logger.Logger
}

func NewService(params ServiceParams) (*Service, error) {
	if params.Verifier == nil {
		return nil, fmt.Errorf("webhook verifier required")
	}
	if params.Guard == nil {
		return nil, fmt.Errorf("idempotency guard required")
	}
	if params.Engine == nil {
		return nil, fmt.Errorf("settlement engine required")
	}
	if params.Orders == nil {
		return nil, fmt.Errorf("orders repository required")
	}
	if params.Audit == nil {
		return nil, fmt.Errorf("audit recorder required")
	}
	return &Service{
		verifier: params.Verifier,
		guard:    params.Guard,
		engine:   params.Engine,
		orders:   params.Orders,
		audit:    params.Audit,
		metrics:  params.Metrics,
		logg:     params.Logger,
	}, nil
}

// HandleWebhook verifies a delivery and applies its outcome. Signature
// failures return an error before anything is touched. Refused outcomes
// (unknown order or a disallowed transition) are acknowledged so the gateway
// stops redelivering them; any other failure clears the guard so a retry can
// succeed.
func (s *Service) HandleWebhook(ctx context.Context, payload []byte, signatureHeader string) (*WebhookResult, error) {
	event, err := s.verifier.ParseWebhook(payload, signatureHeader)
	if err != nil {
		s.metrics.IncWebhook("unknown", "signature_invalid")
		s.warn(ctx, "stripe webhook signature rejected")
		return nil, err
	}

	result := &WebhookResult{EventID: event.ID, EventType: event.Type}
	if s.logg != nil {
		ctx = s.logg.WithFields(ctx, map[string]any{"event_id": event.ID, "event_type": event.Type})
	}
	if !event.Recognized {
		result.Ignored = true
		s.metrics.IncWebhook(event.Type, "ignored")
		if s.logg != nil {
			s.logg.Info(s.logg.WithField(ctx, "reason", event.IgnoreReason), "stripe webhook ignored")
		}
		return result, nil
	}

	seen, err := s.guard.CheckAndMarkProcessed(ctx, WebhookConsumer, event.ID)
	if err != nil {
		s.metrics.IncWebhook(event.Type, "error")
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "check webhook idempotency")
	}
	if seen {
		result.Duplicate = true
		s.metrics.IncWebhook(event.Type, "duplicate")
		s.debug(ctx, "stripe webhook already processed")
		return result, nil
	}

	applied, err := s.engine.ApplyOutcome(ctx, event.Outcome)
	if err != nil {
		if pkgerrors.IsCode(err, pkgerrors.CodeStateConflict) || pkgerrors.IsCode(err, pkgerrors.CodeNotFound) {
			result.Refused = true
			s.metrics.IncWebhook(event.Type, "refused")
			if s.logg != nil {
				fields := map[string]any{"order_id": event.Outcome.OrderID.String()}
				if reason := settlement.ConflictReason(err); reason != "" {
					fields["reason"] = reason
				}
				s.logg.Warn(s.logg.WithFields(ctx, fields), "stripe webhook outcome refused")
			}
			return result, nil
		}
		if delErr := s.guard.Delete(ctx, WebhookConsumer, event.ID); delErr != nil && s.logg != nil {
			s.logg.Error(ctx, "failed to release webhook idempotency mark", delErr)
		}
		s.metrics.IncWebhook(event.Type, "error")
		return nil, err
	}

	switch {
	case applied.Duplicate:
		result.Duplicate = true
		s.metrics.IncWebhook(event.Type, "duplicate")
	case applied.Changed:
		result.Changed = true
		s.metrics.IncWebhook(event.Type, "applied")
	default:
		s.metrics.IncWebhook(event.Type, "noop")
	}
	return result, nil
}

// RecordManualReference stores the buyer-submitted transfer reference on an
// order inside tx. The reference is not verified; the outcome stays pending
// until an admin confirms the payment.
func (s *Service) RecordManualReference(ctx context.Context, tx *gorm.DB, order *models.Order, reference string) (Outcome, error) {
	if order == nil {
		return Outcome{}, pkgerrors.New(pkgerrors.CodeValidation, "order required")
	}
	reference = strings.TrimSpace(reference)
	if reference == "" {
		return Outcome{}, pkgerrors.New(pkgerrors.CodeValidation, "payment reference required").
			WithDetails(map[string]string{"payment_reference": "required"})
	}

	if err := s.orders.WithTx(tx).UpdatePaymentFields(ctx, order.ID, orders.PaymentFields{PaymentReference: &reference}); err != nil {
		if db.IsNotFound(err) {
			return Outcome{}, pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
		}
		return Outcome{}, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "store payment reference")
	}
	order.PaymentReference = &reference

	orderID := order.ID
	payment := order.PaymentStatus
	if _, err := s.audit.Record(ctx, tx, audit.Entry{
		OrderID:           &orderID,
		Action:            enums.AuditActionManualReferenceRecorded,
		Actor:             auth.Actor{UserID: order.BuyerUserID, Source: enums.ActorSourceBuyer},
		FromPaymentStatus: &payment,
		ToPaymentStatus:   &payment,
		Note:              &reference,
	}); err != nil {
		return Outcome{}, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "record audit")
	}

	return Outcome{
		OrderID:          order.ID,
		Verdict:          VerdictPending,
		GatewayReference: reference,
		RawEventID:       "manual:" + order.ID.String(),
		EventType:        manualEventType,
	}, nil
}

func (s *Service) warn(ctx context.Context, msg string) {
	if s.logg != nil {
		s.logg.Warn(ctx, msg)
	}
}

func (s *Service) debug(ctx context.Context, msg string) {
	if s.logg != nil {
		s.logg.Debug(ctx, msg)
	}
}

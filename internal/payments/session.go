package payments

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/angelmondragon/marketplace-settlement/pkg/config"
	"github.com/angelmondragon/marketplace-settlement/pkg/db/models"
	pkgerrors "github.com/angelmondragon/marketplace-settlement/pkg/errors"
	"github.com/angelmondragon/marketplace-settlement/pkg/logger"
	"github.com/angelmondragon/marketplace-settlement/pkg/metrics"
	pkgstripe "github.com/angelmondragon/marketplace-settlement/pkg/stripe"
)

const orderIDPlaceholder = "{ORDER_ID}"

// ErrSessionTimeout marks a session call that got no answer in time. The
// gateway may still have created the session.
var ErrSessionTimeout = errors.New("checkout session timed out")

// SessionMayExist reports whether a failed session call may have reached the
// gateway, in which case a retry must reuse the same attempt.
func SessionMayExist(err error) bool {
	return errors.Is(err, ErrSessionTimeout)
}

// Session is a hosted payment page opened for an order.
type Session struct {
	ID  string
	URL string
}

// SessionCreator opens a hosted payment channel for a persisted order.
type SessionCreator interface {
	CreateSession(ctx context.Context, order *models.Order) (*Session, error)
}

type checkoutGateway interface {
	Create(ctx context.Context, req pkgstripe.SessionRequest) (*pkgstripe.Session, error)
}

// StripeSessions opens Stripe checkout sessions under a bounded timeout.
type StripeSessions struct {
	gateway    checkoutGateway
	currency   string
	successURL string
	cancelURL  string
	timeout    time.Duration
	metrics    *metrics.SettlementMetrics
	logg       *logger.Logger
}

func NewStripeSessions(gateway checkoutGateway, cfg config.CheckoutConfig, m *metrics.SettlementMetrics, logg *logger.Logger) (*StripeSessions, error) {
	if gateway == nil {
		return nil, fmt.Errorf("checkout gateway required")
	}
	if strings.TrimSpace(cfg.SuccessURL) == "" || strings.TrimSpace(cfg.CancelURL) == "" {
		return nil, fmt.Errorf("checkout success and cancel urls required")
	}
	timeout := cfg.SessionTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &StripeSessions{
		gateway:    gateway,
		currency:   cfg.Currency,
		successURL: cfg.SuccessURL,
		cancelURL:  cfg.CancelURL,
		timeout:    timeout,
		metrics:    m,
		logg:       logg,
	}, nil
}

// CreateSession returns PAYMENT_CHANNEL_ERROR with the order id in details
// when the gateway fails or does not answer in time.
func (s *StripeSessions) CreateSession(ctx context.Context, order *models.Order) (*Session, error) {
	if order == nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order required")
	}
	req := pkgstripe.SessionRequest{
		OrderID:      order.ID,
		OrderNumber:  order.OrderNumber,
		Attempt:      order.SessionAttempt,
		Currency:     order.Currency,
		SuccessURL:   strings.ReplaceAll(s.successURL, orderIDPlaceholder, order.ID.String()),
		CancelURL:    strings.ReplaceAll(s.cancelURL, orderIDPlaceholder, order.ID.String()),
	}
	if req.Currency == "" {
		req.Currency = s.currency
	}
	if order.CustomerEmail != nil {
		req.CustomerEmail = *order.CustomerEmail
	}
	for _, item := range order.Items {
		line := pkgstripe.SessionLine{
			Name:       item.ProductName,
			UnitAmount: item.UnitPrice,
			Quantity:   int64(item.Quantity),
		}
		if item.ProductImageURL != nil {
			line.ImageURL = *item.ProductImageURL
		}
		req.Lines = append(req.Lines, line)
	}

	callCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	started := time.Now()
	created, err := s.gateway.Create(callCtx, req)
	elapsed := time.Since(started)
	if err != nil {
		result := "error"
		message := "payment gateway unavailable"
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(callCtx.Err(), context.DeadlineExceeded) {
			result = "timeout"
			message = "payment gateway timed out"
			err = fmt.Errorf("%w: %w", ErrSessionTimeout, err)
		}
		s.metrics.ObserveSession(result, elapsed)
		if s.logg != nil {
			s.logg.Error(s.logg.WithOrderID(ctx, order.ID.String()), "checkout session failed", err)
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodePaymentChannel, err, message).
			WithDetails(map[string]any{"order_id": order.ID.String()})
	}
	s.metrics.ObserveSession("ok", elapsed)
	return &Session{ID: created.ID, URL: created.URL}, nil
}

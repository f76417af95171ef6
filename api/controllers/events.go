package controllers

import (
	"net/http"
	"time"

	"github.com/angelmondragon/marketplace-settlement/api/middleware"
	"github.com/angelmondragon/marketplace-settlement/api/responses"
	"github.com/angelmondragon/marketplace-settlement/api/validators"
	checkoutsvc "github.com/angelmondragon/marketplace-settlement/internal/checkout"
	"github.com/angelmondragon/marketplace-settlement/internal/feed"
	pkgerrors "github.com/angelmondragon/marketplace-settlement/pkg/errors"
	"github.com/angelmondragon/marketplace-settlement/pkg/logger"
)

// OrderEvents streams status changes of one order to a caller allowed to
// read it.
func OrderEvents(svc checkoutsvc.Service, hub *feed.Hub, heartbeat time.Duration, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil || hub == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "order feed unavailable"))
			return
		}

		orderID, err := validators.ParsePathUUID(r, "orderId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		if _, err := svc.GetOrder(r.Context(), middleware.ActorFromContext(r.Context()), orderID); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		sub := hub.Subscribe(feed.ForOrder(orderID))
		defer sub.Close()
		stream(r, w, sub, heartbeat, logg)
	}
}

// AdminOrderEvents streams every status change, or those of a single order
// when order_id is given.
func AdminOrderEvents(hub *feed.Hub, heartbeat time.Duration, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if hub == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "order feed unavailable"))
			return
		}

		orderID, err := validators.ParseQueryUUID(r, "order_id")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		var filter func(feed.Update) bool
		if orderID != nil {
			filter = feed.ForOrder(*orderID)
		}

		sub := hub.Subscribe(filter)
		defer sub.Close()
		stream(r, w, sub, heartbeat, logg)
	}
}

func stream(r *http.Request, w http.ResponseWriter, sub *feed.Subscription, heartbeat time.Duration, logg *logger.Logger) {
	ctx := r.Context()
	if logg != nil {
		logg.Info(ctx, "order feed attached")
	}
	if err := feed.Stream(ctx, w, sub, heartbeat); err != nil && logg != nil {
		logg.Warn(logg.WithField(ctx, "error", err.Error()), "order feed closed with error")
	}
}

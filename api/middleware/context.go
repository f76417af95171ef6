package middleware

import (
	"context"

	"github.com/angelmondragon/marketplace-settlement/pkg/auth"
)

type contextKey string

const ctxActor contextKey = "actor"

// WithActor stores the authenticated caller on the context.
func WithActor(ctx context.Context, actor auth.Actor) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, ctxActor, actor)
}

// ActorFromContext returns the caller seeded by Auth or OptionalAuth, or a
// guest when the request carried no credentials.
func ActorFromContext(ctx context.Context) auth.Actor {
	if ctx == nil {
		return auth.Guest()
	}
	if actor, ok := ctx.Value(ctxActor).(auth.Actor); ok {
		return actor
	}
	return auth.Guest()
}

func UserIDFromContext(ctx context.Context) string {
	actor := ActorFromContext(ctx)
	if actor.UserID == nil {
		return ""
	}
	return actor.UserID.String()
}

func RoleFromContext(ctx context.Context) string {
	return string(ActorFromContext(ctx).Role)
}

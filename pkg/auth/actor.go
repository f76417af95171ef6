package auth

import (
	"github.com/google/uuid"

	"github.com/angelmondragon/marketplace-settlement/pkg/enums"
)

// Actor is the identity a service call runs on behalf of. It is built per
// request from verified claims and passed explicitly; a zero UserID is a guest.
type Actor struct {
	UserID *uuid.UUID
	Role   enums.Role
	Source enums.ActorSource
}

// Guest is an unauthenticated buyer.
func Guest() Actor {
	return Actor{Source: enums.ActorSourceBuyer}
}

// Gateway is the payment gateway acting through a verified webhook.
func Gateway() Actor {
	return Actor{Source: enums.ActorSourceGateway}
}

// System is a scheduled or internal job.
func System() Actor {
	return Actor{Source: enums.ActorSourceSystem}
}

// FromClaims builds the actor for a verified token.
func FromClaims(claims *AccessTokenClaims) Actor {
	if claims == nil {
		return Guest()
	}
	id := claims.UserID
	source := enums.ActorSourceBuyer
	if claims.Role == enums.RoleAdmin {
		source = enums.ActorSourceAdmin
	}
	return Actor{UserID: &id, Role: claims.Role, Source: source}
}

func (a Actor) IsAdmin() bool {
	return a.Role == enums.RoleAdmin && a.UserID != nil
}

func (a Actor) IsGuest() bool {
	return a.UserID == nil
}

// Owns reports whether the actor is the registered buyer identified by buyerID.
func (a Actor) Owns(buyerID *uuid.UUID) bool {
	if a.UserID == nil || buyerID == nil {
		return false
	}
	return *a.UserID == *buyerID
}

package auth

import (
	"context"
	"errors"
	"strconv"

	"github.com/nimasrn/drone-dispatch/internal/model"
)

var (
	ErrMissingActor = errors.New("missing actor")
	ErrForbidden    = errors.New("actor is not allowed to perform this action")
)

// Kind tags an Actor.
type Kind string

const (
	KindUser   Kind = "user"
	KindSeller Kind = "seller"
	KindAdmin  Kind = "admin"
	KindSystem Kind = "system"
)

func ParseKind(s string) (Kind, bool) {
	switch k := Kind(s); k {
	case KindUser, KindSeller, KindAdmin, KindSystem:
		return k, true
	}
	return "", false
}

// Actor is the caller of a dispatch operation.
type Actor struct {
	Kind Kind
	ID   int64
}

func User(id int64) Actor   { return Actor{Kind: KindUser, ID: id} }
func Seller(id int64) Actor { return Actor{Kind: KindSeller, ID: id} }
func Admin(id int64) Actor  { return Actor{Kind: KindAdmin, ID: id} }

// System is the dispatch service acting on its own, e.g. a weather fallback.
func System() Actor { return Actor{Kind: KindSystem} }

func (a Actor) IsAdmin() bool  { return a.Kind == KindAdmin }
func (a Actor) IsSystem() bool { return a.Kind == KindSystem }

// IsUser reports whether a is the user with the given id.
func (a Actor) IsUser(id int64) bool { return a.Kind == KindUser && a.ID == id }

// IsSeller reports whether a is the seller with the given id.
func (a Actor) IsSeller(id int64) bool { return a.Kind == KindSeller && a.ID == id }

// CancelledBy maps the actor onto the cancellation metadata vocabulary.
func (a Actor) CancelledBy() model.CancelledBy {
	switch a.Kind {
	case KindUser:
		return model.CancelledByUser
	case KindSeller:
		return model.CancelledBySeller
	case KindAdmin:
		return model.CancelledByAdmin
	}
	return model.CancelledBySystem
}

func (a Actor) Role() model.Role {
	return model.Role(a.Kind)
}

func (a Actor) String() string {
	if a.Kind == KindSystem {
		return string(a.Kind)
	}
	return string(a.Kind) + ":" + strconv.FormatInt(a.ID, 10)
}

type actorKey struct{}

// WithActor stores the actor in context.
func WithActor(ctx context.Context, a Actor) context.Context {
	return context.WithValue(ctx, actorKey{}, a)
}

// FromContext retrieves the actor from context (if any).
func FromContext(ctx context.Context) (Actor, bool) {
	a, ok := ctx.Value(actorKey{}).(Actor)
	return a, ok
}

// Require returns the actor when its kind is one of kinds.
func Require(ctx context.Context, kinds ...Kind) (Actor, error) {
	a, ok := FromContext(ctx)
	if !ok {
		return Actor{}, ErrMissingActor
	}
	if len(kinds) == 0 {
		return a, nil
	}
	for _, k := range kinds {
		if a.Kind == k {
			return a, nil
		}
	}
	return Actor{}, ErrForbidden
}

func RequireAdmin(ctx context.Context) (Actor, error) {
	return Require(ctx, KindAdmin)
}

package tracker

import "context"

// Actor identifies who triggered an operation; it ends up in the audit trail.
type Actor struct {
	Source string // "cli", "telegram", ...
	ID     int64
}

type actorKey struct{}

// WithActor attaches an Actor to ctx.
func WithActor(ctx context.Context, a Actor) context.Context {
	return context.WithValue(ctx, actorKey{}, a)
}

// ActorFrom returns the Actor attached to ctx, if any.
func ActorFrom(ctx context.Context) Actor {
	a, _ := ctx.Value(actorKey{}).(Actor)
	return a
}

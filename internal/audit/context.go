package audit

import "context"

const (
	// SystemActor is recorded when no caller identity is available.
	SystemActor = "System"
	// AnonymousActor is recorded for unauthenticated HTTP requests.
	AnonymousActor = "Anonymous"
)

// Actor is the provenance attached to every change record of a save.
type Actor struct {
	ID        string
	IPAddress string
	UserAgent string
	Reason    string
}

type actorKey struct{}

// WithActor returns a context carrying a.
func WithActor(ctx context.Context, a Actor) context.Context {
	return context.WithValue(ctx, actorKey{}, a)
}

// WithReason sets the change reason on the actor already in ctx.
func WithReason(ctx context.Context, reason string) context.Context {
	a := ActorFromContext(ctx)
	a.Reason = reason
	return WithActor(ctx, a)
}

// ActorFromContext returns the actor in ctx, defaulting its ID to SystemActor.
func ActorFromContext(ctx context.Context) Actor {
	var a Actor
	if ctx != nil {
		a, _ = ctx.Value(actorKey{}).(Actor)
	}
	if a.ID == "" {
		a.ID = SystemActor
	}
	return a
}

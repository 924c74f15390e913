package services

import "context"

type actorKey struct{}

// Actor identifies the signed-in user performing an administrative action.
type Actor struct {
	UserID    string
	Email     string
	IPAddress string
	UserAgent string
}

// WithActor attaches the acting user to ctx so audit entries can name them.
func WithActor(ctx context.Context, actor Actor) context.Context {
	return context.WithValue(ensureContext(ctx), actorKey{}, actor)
}

// ActorFromContext returns the actor stored by WithActor.
func ActorFromContext(ctx context.Context) (Actor, bool) {
	if ctx == nil {
		return Actor{}, false
	}
	actor, ok := ctx.Value(actorKey{}).(Actor)
	return actor, ok
}

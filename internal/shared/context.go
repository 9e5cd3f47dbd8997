package shared

import "context"

// Actor identifies the authenticated caller and the tenant scope resolved by
// the surrounding application. The core services never read this from
// ambient state; handlers extract it once and pass tenant and user ids into
// every service call explicitly.
type Actor struct {
	UserID   int64
	TenantID int64
}

type actorContextKey struct{}

// ContextWithActor stores the resolved actor in context.
func ContextWithActor(ctx context.Context, actor Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

// ActorFromContext extracts the actor from context.
func ActorFromContext(ctx context.Context) (Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(Actor)
	return actor, ok
}

package shared

import "context"

// Actor identifies the already-authenticated user an operation runs as. The
// presentation layer authenticates and supplies it; the engine only consumes it.
type Actor struct {
	ID       int64
	Name     string
	BranchID *int64
	// AllBranches marks callers allowed to act across every branch. Callers
	// without it are confined to their own BranchID.
	AllBranches bool
	// CanEditPrice marks callers allowed to override line prices at order
	// creation.
	CanEditPrice bool
}

// Scope reports the branch the actor may act in, nil meaning unrestricted.
func (a Actor) Scope() *int64 {
	if a.AllBranches {
		return nil
	}
	return a.BranchID
}

type actorContextKey struct{}

// ContextWithActor stores the actor in context.
func ContextWithActor(ctx context.Context, actor Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

// ActorFromContext extracts the actor from context.
func ActorFromContext(ctx context.Context) (Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(Actor)
	return actor, ok
}

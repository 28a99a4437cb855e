// Package reqctx carries request-scoped identifiers used for logging and audit.
package reqctx

import "context"

type requestIDKey struct{}
type userIDKey struct{}
type actorKey struct{}

type actor struct {
	actorType string
	actorID   string
}

const (
	ActorTypeUser   = "user"
	ActorTypeAdmin  = "admin"
	ActorTypeSystem = "system"
)

func WithRequestID(ctx context.Context, requestID string) context.Context {
	if requestID == "" {
		return ctx
	}
	return context.WithValue(ctx, requestIDKey{}, requestID)
}

func RequestIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	v, _ := ctx.Value(requestIDKey{}).(string)
	return v
}

func WithUserID(ctx context.Context, userID string) context.Context {
	if userID == "" {
		return ctx
	}
	return context.WithValue(ctx, userIDKey{}, userID)
}

func UserIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	v, _ := ctx.Value(userIDKey{}).(string)
	return v
}

// WithActor records who is performing the operation.
func WithActor(ctx context.Context, actorType, actorID string) context.Context {
	if actorType == "" {
		return ctx
	}
	return context.WithValue(ctx, actorKey{}, actor{actorType: actorType, actorID: actorID})
}

// ActorFromContext returns the actor, defaulting to the system actor.
func ActorFromContext(ctx context.Context) (string, string) {
	if ctx != nil {
		if a, ok := ctx.Value(actorKey{}).(actor); ok {
			return a.actorType, a.actorID
		}
	}
	return ActorTypeSystem, ""
}

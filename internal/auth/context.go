package auth

import "context"

type contextKey string

const (
	identityKey        contextKey = "identity"
	executorClusterKey contextKey = "executor_cluster"
)

// Identity is the authenticated caller attached to a request context by the
// auth middleware.
type Identity struct {
	Name  string
	Admin bool
}

// WithIdentity returns a context carrying the given identity.
func WithIdentity(ctx context.Context, id *Identity) context.Context {
	return context.WithValue(ctx, identityKey, id)
}

// IdentityFromContext returns the identity from the context, or nil.
func IdentityFromContext(ctx context.Context) *Identity {
	v := ctx.Value(identityKey)
	if v == nil {
		return nil
	}
	id, _ := v.(*Identity)
	return id
}

// WithExecutorCluster returns a context carrying the cluster id an executor
// authenticated as.
func WithExecutorCluster(ctx context.Context, clusterID string) context.Context {
	return context.WithValue(ctx, executorClusterKey, clusterID)
}

// ExecutorClusterFromContext returns the authenticated executor cluster id,
// or "" when the request did not pass executor auth.
func ExecutorClusterFromContext(ctx context.Context) string {
	v := ctx.Value(executorClusterKey)
	if v == nil {
		return ""
	}
	id, _ := v.(string)
	return id
}

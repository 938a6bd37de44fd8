package rbac

import "context"

type securityContextKey struct{}

// WithSecurityContext stores sc in ctx for the remainder of the request.
func WithSecurityContext(ctx context.Context, sc *SecurityContext) context.Context {
	return context.WithValue(ctx, securityContextKey{}, sc)
}

// SecurityContextFromContext extracts the request's security context, or nil.
func SecurityContextFromContext(ctx context.Context) *SecurityContext {
	if ctx == nil {
		return nil
	}
	sc, _ := ctx.Value(securityContextKey{}).(*SecurityContext)
	return sc
}

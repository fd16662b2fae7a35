package authcore

import "context"

type clientIPContextKey struct{}
type principalContextKey struct{}

// WithClientIP attaches the caller's network address to ctx. The engine uses
// it as the rate limit key and in audit events.
func WithClientIP(ctx context.Context, ip string) context.Context {
	return context.WithValue(ctx, clientIPContextKey{}, ip)
}

// ClientIPFromContext returns the address set by WithClientIP.
func ClientIPFromContext(ctx context.Context) string {
	return clientIPFromContext(ctx)
}

func clientIPFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}

	ip, _ := ctx.Value(clientIPContextKey{}).(string)
	return ip
}

// WithPrincipal attaches the resolved current user to ctx. A nil principal is
// stored as-is and reads back as unauthenticated.
func WithPrincipal(ctx context.Context, p *Principal) context.Context {
	return context.WithValue(ctx, principalContextKey{}, p)
}

// PrincipalFromContext returns the current user, or nil.
func PrincipalFromContext(ctx context.Context) *Principal {
	if ctx == nil {
		return nil
	}

	p, _ := ctx.Value(principalContextKey{}).(*Principal)
	return p
}

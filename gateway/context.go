package gateway

import "context"

type proxyTokenKey struct{}

func withProxyToken(ctx context.Context, token string) context.Context {
	return context.WithValue(ctx, proxyTokenKey{}, token)
}

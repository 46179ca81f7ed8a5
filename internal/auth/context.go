package auth

import (
	"context"

	"PoE-Chain/internal/claim"
)

// identityKey 是上下文中存储 Identity 的键类型。
type identityKey struct{}

// WithIdentity 将经过身份验证的调用方存储到上下文中。
func WithIdentity(ctx context.Context, identity Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, identity)
}

// IdentityFromContext 从上下文中提取经过身份验证的调用方。
func IdentityFromContext(ctx context.Context) (Identity, bool) {
	if ctx == nil {
		return Identity{}, false
	}
	identity, ok := ctx.Value(identityKey{}).(Identity)
	return identity, ok
}

// AccountFromContext 返回调用方的账户标识。
func AccountFromContext(ctx context.Context) (claim.AccountID, bool) {
	identity, ok := IdentityFromContext(ctx)
	if !ok || identity.Account == "" {
		return "", false
	}
	return claim.AccountID(identity.Account), true
}

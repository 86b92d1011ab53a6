package auth

import (
	"context"

	"github.com/goliatone/go-router"
)

// AccountLocalsKey is the router locals key holding the current account
const AccountLocalsKey = "auth.account"

var accountCtxKey = &contextKey{"account"}

type contextKey struct {
	name string
}

// WithAccount sets the Account in the given context
func WithAccount(ctx context.Context, account *Account) context.Context {
	return context.WithValue(ctx, accountCtxKey, account)
}

// AccountFromContext finds the account from the context.
func AccountFromContext(ctx context.Context) (*Account, bool) {
	if ctx == nil {
		return nil, false
	}
	raw, ok := ctx.Value(accountCtxKey).(*Account)
	return raw, ok && raw != nil
}

// RouterAccount extracts the account stored by the protected route middleware
func RouterAccount(c router.Context) (*Account, bool) {
	raw := c.Locals(AccountLocalsKey)
	if raw == nil {
		return nil, false
	}
	account, ok := raw.(*Account)
	return account, ok && account != nil
}

package auth

import "context"

const LocalOverrideUserID = "admin-local"

// Identity is the acting principal of a request. Callers must branch on CanWrite rather than on the
// concrete type so a local override is never mistaken for a persisted account.
type Identity interface {
	UserID() string
	Email() string
	CanWrite() bool
	Kind() string
}

// AuthenticatedIdentity is backed by a verified Supabase session.
type AuthenticatedIdentity struct {
	ID      string
	Address string
}

func (a AuthenticatedIdentity) UserID() string { return a.ID }
func (a AuthenticatedIdentity) Email() string  { return a.Address }
func (a AuthenticatedIdentity) CanWrite() bool { return true }
func (a AuthenticatedIdentity) Kind() string   { return "authenticated" }

// LocalOverrideIdentity is a fixed, non-persisted principal for local inspection.
type LocalOverrideIdentity struct{}

func (LocalOverrideIdentity) UserID() string { return LocalOverrideUserID }
func (LocalOverrideIdentity) Email() string  { return "admin@local" }
func (LocalOverrideIdentity) CanWrite() bool { return false }
func (LocalOverrideIdentity) Kind() string   { return "local-override" }

type ctxKey struct{}

func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, ctxKey{}, id)
}

func FromContext(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(ctxKey{}).(Identity)
	return id, ok && id != nil
}

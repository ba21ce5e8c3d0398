package loader

import "context"

type ctxKey struct{}

// NewContext returns a copy of ctx carrying l.
func NewContext(ctx context.Context, l *Loader) context.Context {
	return context.WithValue(ctx, ctxKey{}, l)
}

// FromContext returns the request's loader, or nil.
func FromContext(ctx context.Context) *Loader {
	l, _ := ctx.Value(ctxKey{}).(*Loader)
	return l
}

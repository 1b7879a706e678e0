package logging

import "context"

type metaKey struct{}

// Meta is the response side-band read by the access-log middleware after
// the handler returns: the effective model, the error surfaced to the
// client, and a truncated request body snippet filled only on failure.
type Meta struct {
	Model       string
	Error       string
	RequestBody string
}

// WithMeta injects an empty Meta into the context. The middleware calls
// this once per request; handlers fill the pointer in place.
func WithMeta(ctx context.Context) (context.Context, *Meta) {
	m := &Meta{Model: "-"}
	return context.WithValue(ctx, metaKey{}, m), m
}

// MetaFromContext returns the request's Meta, or nil outside the
// access-log middleware.
func MetaFromContext(ctx context.Context) *Meta {
	m, _ := ctx.Value(metaKey{}).(*Meta)
	return m
}

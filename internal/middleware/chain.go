package middleware

import "net/http"

// Middleware wraps a handler.
type Middleware func(http.Handler) http.Handler

// Chain is an ordered middleware stack; the first entry sees the request
// first. A Chain is never modified in place.
type Chain []Middleware

// NewChain returns a chain of ms.
func NewChain(ms ...Middleware) Chain {
	return append(Chain(nil), ms...)
}

// With returns a new chain with ms appended after c's entries.
func (c Chain) With(ms ...Middleware) Chain {
	out := make(Chain, 0, len(c)+len(ms))
	return append(append(out, c...), ms...)
}

// Then wraps h. A nil h answers 404, so a chain never falls through to the
// default mux.
func (c Chain) Then(h http.Handler) http.Handler {
	if h == nil {
		h = http.NotFoundHandler()
	}
	for i := len(c) - 1; i >= 0; i-- {
		if c[i] != nil {
			h = c[i](h)
		}
	}
	return h
}

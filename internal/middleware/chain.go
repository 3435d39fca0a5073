package middleware

import "net/http"

// Middleware wraps an http.Handler
type Middleware func(http.Handler) http.Handler

// Chain is an ordered middleware list; the first entry is outermost.
type Chain []Middleware

// NewChain creates a chain
func NewChain(middlewares ...Middleware) Chain {
	return append(Chain(nil), middlewares...)
}

// Append returns a new chain with middlewares added innermost.
func (c Chain) Append(middlewares ...Middleware) Chain {
	out := make(Chain, 0, len(c)+len(middlewares))
	out = append(out, c...)
	return append(out, middlewares...)
}

// AppendIf appends m only when condition holds, so disabled features cost
// nothing per request.
func (c Chain) AppendIf(condition bool, m Middleware) Chain {
	if !condition {
		return c
	}
	return c.Append(m)
}

// Then wraps h. A nil h answers 404.
func (c Chain) Then(h http.Handler) http.Handler {
	if h == nil {
		h = http.NotFoundHandler()
	}
	for i := len(c) - 1; i >= 0; i-- {
		h = c[i](h)
	}
	return h
}

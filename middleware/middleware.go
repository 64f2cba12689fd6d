// Package middleware wraps dispatch with cross-cutting behavior. The server
// composes the chain once at startup and routes every inbound frame through
// it.
package middleware

// DispatchFunc takes a routine id and the request payload and returns the
// response frame bytes, if any.
type DispatchFunc func(routineID uint32, payload []byte) ([]byte, error)

type Middleware func(next DispatchFunc) DispatchFunc

// Chain combines middlewares into one. The first middleware is outermost:
// Chain(a, b)(next) runs a, then b, then next.
func Chain(middlewares ...Middleware) Middleware {
	return func(next DispatchFunc) DispatchFunc {
		for i := len(middlewares) - 1; i >= 0; i-- {
			next = middlewares[i](next)
		}
		return next
	}
}

package protocol

import (
	"encoding/json"
	"sync"
)

/**
a route handler receives the connection the request arrived on (so that
downward calls can reuse it) and the raw request payload. the returned value
is serialized into the success response; returning an error produces a
failure response instead.
*/
type Handler func(conn *Conn, payload json.RawMessage) (interface{}, error)

/**
Router maps action names onto handlers. One router is shared by every
connection a server accepts, and a client connection carries its own router
for the actions its peer may initiate downwards (stop, get_tree, ...).
*/
type Router struct {
	lock   sync.RWMutex
	routes map[string]Handler
}

func NewRouter() *Router {
	router := &Router{
		routes: make(map[string]Handler),
	}
	// Every endpoint identifies itself to any peer that asks
	router.Add("identify", func(conn *Conn, payload json.RawMessage) (interface{}, error) {
		return map[string]string{"tool": "gator", "version": "1.0"}, nil
	})
	return router
}

func (r *Router) Add(action string, handler Handler) {
	r.lock.Lock()
	defer r.lock.Unlock()
	r.routes[action] = handler
}

func (r *Router) lookup(action string) (Handler, bool) {
	r.lock.RLock()
	defer r.lock.RUnlock()
	handler, found := r.routes[action]
	return handler, found
}

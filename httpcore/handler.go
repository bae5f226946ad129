// Package httpcore implements the HTTP listener/dispatcher: the accept
// loop feeding the elastic workerpool, per-connection keep-alive request
// handling, content-name routing to registered Handlers or the static
// responder, and the loopback control command shortcut. Grounded on
// original_source/nesta/http_server.c's request_http/do_http_event/
// http_thread/request_proc, generalized from a single global config to a
// constructed Server value with no global mutable state.
package httpcore

import (
	"context"
	"net/http"

	"github.com/nesta-project/nesta/session"
)

// Request is what a registered Handler receives — everything request_proc
// pulls out of struct request_t plus the zone/session it resolved.
type Request struct {
	ContentName string
	Method      string
	URI         string
	Proto       string
	Header      http.Header
	Body        []byte
	PeerIP      string
	Query       map[string][]string

	Zone    *session.Zone
	Session *session.Session
}

// ResponseWriter is the narrow surface a Handler needs; Server's own
// connWriter implements it.
type ResponseWriter interface {
	Header() http.Header
	WriteHeader(status int)
	Write(p []byte) (int, error)
}

// Handler processes one request within a zone, mirroring API_FUNCPTR's
// signature `(*funcptr)(req, resp, &g_conf->u_param)`. It returns the HTTP
// status code actually written, for access-log purposes.
type Handler func(ctx context.Context, req *Request, resp ResponseWriter) int

// Registration binds one content-name within one zone to a Handler
// (ZONE.api's content,func,lib directive, minus the dynamic-load "lib"
// half — handlers register directly instead of loading from a module).
type Registration struct {
	Zone        string
	ContentName string
	Handler     Handler
}

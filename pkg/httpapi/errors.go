// Package httpapi is the HTTP control plane: ingress endpoints for
// batch submission/progress/status, and the tool-call/entrypoint
// endpoints a sandboxed candidate calls back into (spec §4.12, §6).
//
// Grounded on github.com/Mindburn-Labs/helm/core/pkg/api
// (apierror.go, middleware.go, handlers.go) and
// github.com/Mindburn-Labs/helm/core/pkg/auth (requestid.go): kept the
// RFC 7807 Problem Detail error shape and the request-ID middleware
// close to verbatim, since both are domain-agnostic HTTP plumbing;
// routing uses net/http.ServeMux's method+pattern matching (Go 1.22+),
// the same router the teacher's cmd/helm entrypoints use, rather than
// pulling in a third-party router none of the example repos carry.
package httpapi

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"

	"github.com/caster-hub/validator-core/pkg/runtime"
)

// ProblemDetail is an RFC 7807 Problem Details error response.
type ProblemDetail struct {
	Type     string `json:"type"`
	Title    string `json:"title"`
	Status   int    `json:"status"`
	Detail   string `json:"detail,omitempty"`
	Instance string `json:"instance,omitempty"`
	TraceID  string `json:"trace_id,omitempty"`
}

// WriteError writes an RFC 7807 response for an arbitrary status/title/detail.
func WriteError(w http.ResponseWriter, r *http.Request, status int, title, detail string) {
	problem := ProblemDetail{
		Type:     fmt.Sprintf("https://caster-hub.dev/errors/%d", status),
		Title:    title,
		Status:   status,
		Detail:   detail,
		Instance: r.URL.Path,
		TraceID:  w.Header().Get("X-Request-ID"),
	}
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(problem)
}

// WriteTaxonomyError maps a runtime.Error (or any error) to its HTTP
// status and writes a Problem Detail response. Kinds that map to 500 log
// the underlying cause; the client never sees it (spec §7: internal
// errors are opaque over the wire).
func WriteTaxonomyError(w http.ResponseWriter, r *http.Request, err error) {
	kind := runtime.KindOf(err)
	status := kind.HTTPStatus()
	detail := err.Error()
	if status >= 500 {
		log.Printf("httpapi: internal error on %s %s: %v", r.Method, r.URL.Path, err)
		detail = "an internal error occurred"
	}
	WriteError(w, r, status, string(kind), detail)
}

// WriteJSON writes v as a 200 JSON response.
func WriteJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

package httpapi

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"

	"github.com/caster-hub/validator-core/pkg/batch"
	"github.com/caster-hub/validator-core/pkg/invoker"
	"github.com/caster-hub/validator-core/pkg/progress"
	"github.com/caster-hub/validator-core/pkg/runtime"
	"github.com/caster-hub/validator-core/pkg/signing"
	"github.com/caster-hub/validator-core/pkg/statusapi"
	"github.com/caster-hub/validator-core/pkg/toolprovider"
)

// maxRequestBodyBytes bounds any single JSON request body this server
// accepts, independent of the 1024-byte log preview.
const maxRequestBodyBytes = 8 << 20 // 8MiB, generous for a BatchSpec with inline claims

// BatchEnqueuer is the seam between the HTTP layer and the batch inbox;
// satisfied by pkg/bootstrap's batchEnqueuer, which wraps the batch inbox
// with a run-id generator.
type BatchEnqueuer interface {
	Enqueue(spec *batch.BatchSpec) (runID string, err error)
	QueueDepth() int
}

// Server holds every dependency the control plane's handlers need.
type Server struct {
	acl                *signing.ACL
	tokens             tokenVerifier
	enqueuer           BatchEnqueuer
	progress           *progress.Tracker
	status             *statusapi.Provider
	invoker            *invoker.Invoker
	entrypointDispatch EntrypointDispatcher
}

// tokenVerifier is the session.TokenRegistry slice the tool-call and
// entrypoint endpoints need.
type tokenVerifier interface {
	Verify(sessionID, presented string) bool
}

// EntrypointDispatcher delivers a POST /entry/{entrypoint_name} call to
// whatever is listening on the other side of the test harness (used only
// when this validator itself exposes entrypoints for local testing; in
// production candidates run their own HTTP server and this endpoint is
// unused by the core, kept for completeness per spec §6).
type EntrypointDispatcher interface {
	Dispatch(entrypoint string, sessionID string, payload []byte) ([]byte, error)
}

func NewServer(acl *signing.ACL, tokens tokenVerifier, enqueuer BatchEnqueuer, tracker *progress.Tracker, status *statusapi.Provider, inv *invoker.Invoker, dispatch EntrypointDispatcher) *Server {
	return &Server{acl: acl, tokens: tokens, enqueuer: enqueuer, progress: tracker, status: status, invoker: inv, entrypointDispatch: dispatch}
}

// Routes builds the control-plane mux (spec §4.12, §6).
func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /batch", s.handleSubmitBatch)
	mux.HandleFunc("GET /runs/{run_id}/progress", s.handleRunProgress)
	mux.HandleFunc("GET /status", s.handleStatus)
	mux.HandleFunc("POST /tools/execute", s.handleToolsExecute)
	mux.HandleFunc("POST /entry/{entrypoint_name}", s.handleEntry)
	return mux
}

func (s *Server) handleSubmitBatch(w http.ResponseWriter, r *http.Request) {
	ss58, err := s.verifySignedIngress(r)
	if err != nil {
		WriteTaxonomyError(w, r, err)
		return
	}

	raw, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBodyBytes))
	if err != nil {
		WriteTaxonomyError(w, r, runtime.Wrap(runtime.ErrMalformedRequest, err, "reading batch body"))
		return
	}

	spec, err := batch.ValidateRaw(raw)
	if err != nil {
		WriteTaxonomyError(w, r, err)
		return
	}

	runID, err := s.enqueuer.Enqueue(spec)
	if err != nil {
		WriteTaxonomyError(w, r, err)
		return
	}
	s.status.SetQueuedBatches(s.enqueuer.QueueDepth())

	WriteJSON(w, map[string]interface{}{"status": "accepted", "run_id": runID, "caller": ss58})
}

func (s *Server) handleRunProgress(w http.ResponseWriter, r *http.Request) {
	runID := r.PathValue("run_id")
	snap, ok := s.progress.Snapshot(runID)
	if !ok {
		WriteError(w, r, http.StatusNotFound, "Not Found", "unknown run_id")
		return
	}
	WriteJSON(w, snap)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, s.status.Snapshot())
}

type toolExecuteRequest struct {
	SessionID string                 `json:"session_id"`
	Token     string                 `json:"token"`
	Tool      string                 `json:"tool"`
	Args      map[string]interface{} `json:"args"`
	Kwargs    map[string]interface{} `json:"kwargs"`
}

func (s *Server) handleToolsExecute(w http.ResponseWriter, r *http.Request) {
	var req toolExecuteRequest
	raw, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBodyBytes))
	if err != nil {
		WriteTaxonomyError(w, r, runtime.Wrap(runtime.ErrMalformedRequest, err, "reading tool-execute body"))
		return
	}
	if err := json.Unmarshal(raw, &req); err != nil {
		WriteTaxonomyError(w, r, runtime.Wrap(runtime.ErrMalformedRequest, err, "decoding tool-execute body"))
		return
	}

	invReq := invoker.Request{
		SessionID: req.SessionID,
		Token:     req.Token,
		ToolName:  req.Tool,
		Extra:     req.Args,
	}
	fillToolRequestFromArgs(&invReq, req.Args, req.Kwargs)

	resp, err := s.invoker.Execute(r.Context(), invReq)
	if err != nil {
		WriteTaxonomyError(w, r, err)
		return
	}

	WriteJSON(w, map[string]interface{}{
		"receipt_id":    resp.ReceiptID,
		"response":      resp.Result,
		"results":       resp.Results,
		"result_policy": resp.ResultPolicy,
		"cost_usd":      resp.CostUSD,
		"usage":         resp.Usage,
		"budget":        resp.Budget,
	})
}

func fillToolRequestFromArgs(req *invoker.Request, args, kwargs map[string]interface{}) {
	if q, ok := stringField(args, "query"); ok {
		req.Query = q
	}
	if c, ok := intField(args, "count"); ok {
		req.Count = c
	}
	if m, ok := stringField(kwargs, "model"); ok {
		req.Model = m
	}
	if mt, ok := intField(kwargs, "max_output_tokens"); ok {
		req.MaxOutputTokens = int64(mt)
	}
	if msgs, ok := kwargs["messages"].([]interface{}); ok {
		for _, raw := range msgs {
			m, ok := raw.(map[string]interface{})
			if !ok {
				continue
			}
			role, _ := stringField(m, "role")
			content, _ := stringField(m, "content")
			req.Messages = append(req.Messages, toolprovider.LLMMessage{Role: role, Content: content})
		}
	}
}

func stringField(m map[string]interface{}, key string) (string, bool) {
	v, ok := m[key].(string)
	return v, ok
}

func intField(m map[string]interface{}, key string) (int, bool) {
	switch v := m[key].(type) {
	case float64:
		return int(v), true
	case int:
		return v, true
	default:
		return 0, false
	}
}

func (s *Server) handleEntry(w http.ResponseWriter, r *http.Request) {
	entrypoint := r.PathValue("entrypoint_name")
	token := r.Header.Get("x-caster-token")
	sessionID := r.Header.Get("x-caster-session-id")
	if token == "" || sessionID == "" {
		WriteError(w, r, http.StatusUnauthorized, "Unauthorized", "missing sandbox token/session headers")
		return
	}
	if s.entrypointDispatch == nil {
		WriteError(w, r, http.StatusNotFound, "Not Found", "no entrypoint dispatcher configured")
		return
	}

	raw, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBodyBytes))
	if err != nil {
		WriteTaxonomyError(w, r, runtime.Wrap(runtime.ErrMalformedRequest, err, "reading entry body"))
		return
	}

	out, err := s.entrypointDispatch.Dispatch(entrypoint, sessionID, raw)
	if err != nil {
		WriteTaxonomyError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(out)
}

// verifySignedIngress runs spec §4.7's signature verification against
// the platform's owner-hotkey ACL for ingress endpoints.
func (s *Server) verifySignedIngress(r *http.Request) (string, error) {
	raw, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBodyBytes))
	if err != nil {
		return "", runtime.Wrap(runtime.ErrMalformedRequest, err, "reading request body for signature verification")
	}
	r.Body = io.NopCloser(bytes.NewReader(raw))

	pathAndQuery := r.URL.Path
	if r.URL.RawQuery != "" {
		pathAndQuery += "?" + r.URL.RawQuery
	}
	return signing.Verify(r.Context(), s.acl, r.Method, pathAndQuery, raw, r.Header.Get("Authorization"))
}

// Package api wires the broker's tool surface and push channel onto
// net/http with a strict JSON decoder and CORS middleware.
package api

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/gsd-project/review-broker/internal/broker"
	"github.com/gsd-project/review-broker/internal/push"
)

const maxBodyBytes = 1 << 20 // 1 MiB request body cap.

type handler struct {
	tools *broker.Toolset
}

// NewRouter mounts every tool under POST /tools/{verb} and the SSE channel
// under /events. The broker binds to loopback only, so no auth middleware
// is installed; every connection is trusted, per the broker's scope.
func NewRouter(tools *broker.Toolset, ch *push.Channel, assetDir string) (http.Handler, error) {
	mux := http.NewServeMux()
	h := &handler{tools: tools}

	mux.HandleFunc("POST /tools/{verb}", h.handleTool)
	mux.HandleFunc("GET /events", ch.ServeHTTP)

	if assetDir != "" {
		static, err := push.StaticHandler(assetDir)
		if err != nil {
			return nil, fmt.Errorf("static handler: %w", err)
		}
		mux.Handle("/", static)
	}

	return jsonMiddleware(corsMiddleware(mux)), nil
}

func (h *handler) handleTool(w http.ResponseWriter, r *http.Request) {
	verb := r.PathValue("verb")

	var args map[string]any
	if r.ContentLength != 0 {
		if err := decodeJSON(r, &args); err != nil {
			writeError(w, http.StatusBadRequest, &broker.Error{Kind: "invalid_argument", Message: err.Error()})
			return
		}
	}
	if args == nil {
		args = map[string]any{}
	}

	result, err := h.tools.Execute(r.Context(), verb, args)
	if err != nil {
		writeToolError(w, err)
		return
	}

	json.NewEncoder(w).Encode(map[string]any{"result": result})
}

func writeToolError(w http.ResponseWriter, err error) {
	brokerErr, ok := err.(*broker.Error)
	if !ok {
		writeError(w, http.StatusInternalServerError, &broker.Error{Kind: "db_error", Message: err.Error()})
		return
	}

	status := http.StatusBadRequest
	switch brokerErr.Kind {
	case broker.KindNotFound:
		status = http.StatusNotFound
	case broker.KindDBError:
		status = http.StatusInternalServerError
	}
	writeError(w, status, brokerErr)
}

func writeError(w http.ResponseWriter, status int, err *broker.Error) {
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]any{"error": map[string]any{
		"kind":    err.Kind,
		"message": err.Message,
		"detail":  err.Detail,
	}})
}

// decodeJSON strictly decodes r's body: unknown fields and trailing data
// are rejected, and the body is capped at maxBodyBytes.
func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("decode request body: %w", err)
	}
	var trailing struct{}
	if err := dec.Decode(&trailing); err != io.EOF {
		return fmt.Errorf("unexpected trailing data in request body")
	}
	return nil
}

func jsonMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		next.ServeHTTP(w, r)
	})
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

package handler

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"strings"

	"portscope/internal/adapter"
	"portscope/internal/codec"
	"portscope/internal/domain"
)

// Collector is the part of the orchestrator the API reads from
type Collector interface {
	CollectAll(ctx context.Context) *domain.CollectionResult
	Last() *domain.CollectionResult
	Detection() *adapter.Detection
}

// Handler serves the collection API
type Handler struct {
	collector Collector
}

// New creates a handler over c
func New(c Collector) *Handler {
	return &Handler{collector: c}
}

// ErrorResponse is the body of every non-2xx reply
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

// Register mounts every endpoint on mux
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/result", h.GetResult)
	mux.HandleFunc("GET /api/ports", h.ListPorts)
	mux.HandleFunc("GET /api/detection", h.GetDetection)
	mux.HandleFunc("POST /api/collect", h.Collect)
	mux.HandleFunc("GET /api/export/{format}", h.Export)
	mux.HandleFunc("GET /healthz", h.Health)
}

// latest returns the last pass, running one when none has finished yet
func (h *Handler) latest(r *http.Request) *domain.CollectionResult {
	if res := h.collector.Last(); res != nil {
		return res
	}
	return h.collector.CollectAll(r.Context())
}

// GetResult returns the latest collection pass
func (h *Handler) GetResult(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, h.latest(r), http.StatusOK)
}

// ListPorts returns the reconciled ports of the latest pass
func (h *Handler) ListPorts(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	protocol := strings.ToLower(q.Get("protocol"))
	source := strings.ToLower(q.Get("source"))
	owner := q.Get("owner")

	ports := []domain.PortRecord{}
	for _, p := range h.latest(r).Ports {
		if protocol != "" && string(p.Protocol) != protocol {
			continue
		}
		if source != "" && string(p.Source) != source {
			continue
		}
		if owner != "" && !strings.EqualFold(p.Owner, owner) {
			continue
		}
		ports = append(ports, p)
	}
	h.writeJSON(w, ports, http.StatusOK)
}

// GetDetection returns the last adapter detection report
func (h *Handler) GetDetection(w http.ResponseWriter, r *http.Request) {
	det := h.collector.Detection()
	if det == nil {
		h.writeError(w, "No detection yet", "no collection pass has run", http.StatusNotFound)
		return
	}
	h.writeJSON(w, det, http.StatusOK)
}

// Collect runs a pass and returns it. Concurrent calls share the pass.
func (h *Handler) Collect(w http.ResponseWriter, r *http.Request) {
	res := h.collector.CollectAll(r.Context())
	log.Printf("API: collection triggered, %d ports", len(res.Ports))
	h.writeJSON(w, res, http.StatusOK)
}

// Export renders the latest pass in the requested format
func (h *Handler) Export(w http.ResponseWriter, r *http.Request) {
	enc, err := codec.ForFormat(r.PathValue("format"))
	if err != nil {
		h.writeError(w, "Unknown format", err.Error(), http.StatusBadRequest)
		return
	}
	w.Header().Set("Content-Type", enc.ContentType())
	if err := enc.Encode(h.latest(r), w); err != nil {
		log.Printf("API: export %s failed: %v", enc.Format(), err)
	}
}

// Health reports liveness
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, map[string]string{"status": "ok"}, http.StatusOK)
}

func (h *Handler) writeJSON(w http.ResponseWriter, data interface{}, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.Printf("API: failed to encode JSON: %v", err)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, msg, details string, statusCode int) {
	h.writeJSON(w, ErrorResponse{Error: msg, Details: details}, statusCode)
}

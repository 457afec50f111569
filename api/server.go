// Package api exposes the workflow engine over HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/glimte/docflow/workflow"
	"github.com/gorilla/mux"
)

const maxBodyBytes = 1 << 20

// Engine is the workflow engine surface the API drives
type Engine interface {
	Send(ctx context.Context, envelopeID, trackingNumber string, approvals []workflow.RequiredApproval) (workflow.WorkflowDescriptor, error)
	Start(ctx context.Context, envelopeID string) (workflow.WorkflowDescriptor, error)
	CompleteStage(ctx context.Context, envelopeID string, stageNumber int, completedBy, notes string) (workflow.WorkflowDescriptor, error)
	ProcessPayment(ctx context.Context, confirmation workflow.PaymentConfirmation) (workflow.WorkflowDescriptor, error)
	RejectStage(ctx context.Context, envelopeID string, stageNumber int, reason, rejectedBy string) (workflow.WorkflowDescriptor, error)
	Workflow(ctx context.Context, envelopeID string) (workflow.WorkflowDescriptor, int, error)
	Repair(ctx context.Context, envelopeID string) (workflow.WorkflowDescriptor, bool, error)
}

// ApprovalSource resolves goods categories to approvals
type ApprovalSource interface {
	Approvals(goods ...string) ([]workflow.RequiredApproval, error)
}

// Server holds the HTTP handlers
type Server struct {
	engine  Engine
	catalog ApprovalSource
	logger  *slog.Logger
}

// ServerOption configures the server
type ServerOption func(*Server)

// WithLogger sets the logger
func WithLogger(logger *slog.Logger) ServerOption {
	return func(s *Server) {
		s.logger = logger
	}
}

// NewServer creates the API server. catalog may be nil, in which case
// Send only accepts explicit approvals.
func NewServer(engine Engine, catalog ApprovalSource, options ...ServerOption) *Server {
	s := &Server{
		engine:  engine,
		catalog: catalog,
		logger:  slog.Default(),
	}
	for _, opt := range options {
		opt(s)
	}
	return s
}

// Register mounts the workflow routes
func (s *Server) Register(r *mux.Router) {
	r.Use(s.logRequests)

	r.HandleFunc("/envelopes/{id}/workflow", s.handleSend).Methods(http.MethodPost)
	r.HandleFunc("/envelopes/{id}/workflow", s.handleWorkflow).Methods(http.MethodGet)
	r.HandleFunc("/envelopes/{id}/workflow/start", s.handleStart).Methods(http.MethodPost)
	r.HandleFunc("/envelopes/{id}/workflow/repair", s.handleRepair).Methods(http.MethodPost)
	r.HandleFunc("/envelopes/{id}/stages/{stage:[0-9]+}/complete", s.handleComplete).Methods(http.MethodPost)
	r.HandleFunc("/envelopes/{id}/stages/{stage:[0-9]+}/reject", s.handleReject).Methods(http.MethodPost)
	r.HandleFunc("/envelopes/{id}/stages/{stage:[0-9]+}/payment", s.handlePayment).Methods(http.MethodPost)
}

// Handler returns a router with only the workflow routes
func (s *Server) Handler() http.Handler {
	r := mux.NewRouter()
	s.Register(r)
	return r
}

type sendRequest struct {
	TrackingNumber string                      `json:"tracking_number"`
	Goods          []string                    `json:"goods,omitempty"`
	Approvals      []workflow.RequiredApproval `json:"approvals,omitempty"`
}

type completeRequest struct {
	CompletedBy string `json:"completed_by"`
	Notes       string `json:"notes"`
}

type rejectRequest struct {
	Reason     string `json:"reason"`
	RejectedBy string `json:"rejected_by"`
}

type paymentRequest struct {
	Reference   string `json:"reference"`
	AmountCents uint64 `json:"amount_cents"`
	Provider    string `json:"provider"`
}

type workflowResponse struct {
	Workflow     workflow.WorkflowDescriptor `json:"workflow"`
	CurrentStage *int                        `json:"current_stage,omitempty"`
	Repaired     *bool                       `json:"repaired,omitempty"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func (s *Server) handleSend(w http.ResponseWriter, r *http.Request) {
	var req sendRequest
	if !s.decode(w, r, &req) {
		return
	}

	approvals := req.Approvals
	if len(req.Goods) > 0 {
		if len(req.Approvals) > 0 {
			s.badRequest(w, "goods and approvals are mutually exclusive")
			return
		}
		if s.catalog == nil {
			s.badRequest(w, "no catalog configured, send explicit approvals")
			return
		}
		var err error
		if approvals, err = s.catalog.Approvals(req.Goods...); err != nil {
			s.badRequest(w, err.Error())
			return
		}
	}

	desc, err := s.engine.Send(r.Context(), mux.Vars(r)["id"], req.TrackingNumber, approvals)
	s.respond(w, r, desc, err)
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	desc, err := s.engine.Start(r.Context(), mux.Vars(r)["id"])
	s.respond(w, r, desc, err)
}

func (s *Server) handleWorkflow(w http.ResponseWriter, r *http.Request) {
	desc, current, err := s.engine.Workflow(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, workflowResponse{Workflow: desc, CurrentStage: &current})
}

func (s *Server) handleRepair(w http.ResponseWriter, r *http.Request) {
	desc, repaired, err := s.engine.Repair(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if repaired {
		s.logger.Info("workflow repaired", "envelopeId", desc.EnvelopeID, "totalStages", desc.TotalStages)
	}
	writeJSON(w, http.StatusOK, workflowResponse{Workflow: desc, Repaired: &repaired})
}

func (s *Server) handleComplete(w http.ResponseWriter, r *http.Request) {
	stage, ok := s.stageNumber(w, r)
	if !ok {
		return
	}
	var req completeRequest
	if !s.decode(w, r, &req) {
		return
	}

	desc, err := s.engine.CompleteStage(r.Context(), mux.Vars(r)["id"], stage, req.CompletedBy, req.Notes)
	s.respond(w, r, desc, err)
}

func (s *Server) handleReject(w http.ResponseWriter, r *http.Request) {
	stage, ok := s.stageNumber(w, r)
	if !ok {
		return
	}
	var req rejectRequest
	if !s.decode(w, r, &req) {
		return
	}
	if req.Reason == "" {
		s.badRequest(w, "reason is required")
		return
	}

	desc, err := s.engine.RejectStage(r.Context(), mux.Vars(r)["id"], stage, req.Reason, req.RejectedBy)
	s.respond(w, r, desc, err)
}

func (s *Server) handlePayment(w http.ResponseWriter, r *http.Request) {
	stage, ok := s.stageNumber(w, r)
	if !ok {
		return
	}
	var req paymentRequest
	if !s.decode(w, r, &req) {
		return
	}

	desc, err := s.engine.ProcessPayment(r.Context(), workflow.PaymentConfirmation{
		EnvelopeID:  mux.Vars(r)["id"],
		StageNumber: stage,
		Reference:   req.Reference,
		AmountCents: req.AmountCents,
		Provider:    req.Provider,
	})
	s.respond(w, r, desc, err)
}

func (s *Server) stageNumber(w http.ResponseWriter, r *http.Request) (int, bool) {
	n, err := strconv.Atoi(mux.Vars(r)["stage"])
	if err != nil || n < 1 {
		s.badRequest(w, fmt.Sprintf("invalid stage number %q", mux.Vars(r)["stage"]))
		return 0, false
	}
	return n, true
}

// decode reads an optional JSON body; an empty body leaves v untouched
func (s *Server) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if r.Body == nil || r.ContentLength == 0 {
		return true
	}
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		s.badRequest(w, fmt.Sprintf("invalid request body: %v", err))
		return false
	}
	return true
}

func (s *Server) respond(w http.ResponseWriter, r *http.Request, desc workflow.WorkflowDescriptor, err error) {
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, workflowResponse{Workflow: desc})
}

func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed", "method", r.Method, "path", r.URL.Path, "error", err)
	}
	writeJSON(w, status, errorResponse{Error: err.Error()})
}

func (s *Server) badRequest(w http.ResponseWriter, msg string) {
	writeJSON(w, http.StatusBadRequest, errorResponse{Error: msg})
}

// statusFor maps engine errors to HTTP status codes
func statusFor(err error) int {
	switch {
	case errors.Is(err, workflow.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, workflow.ErrInvalidState):
		return http.StatusConflict
	case errors.Is(err, workflow.ErrPersistence):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.logger.Debug("request handled",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"duration", time.Since(start))
	})
}

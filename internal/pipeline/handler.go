package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/google/uuid"

	"github.com/ledgerworks/factura/internal/files"
	"github.com/ledgerworks/factura/pkg/handlers"
	"github.com/ledgerworks/factura/pkg/routes"
	"github.com/ledgerworks/factura/pkg/runner"
)

const workflowName = "invoice-processing"

// Handler exposes the pipeline trigger and status endpoints. Triggering
// only ever reports "instance created"; outcome visibility is through the
// status endpoint, the error document, and the notification.
type Handler struct {
	orch   *Orchestrator
	pool   *runner.Pool
	files  files.System
	logger *slog.Logger
}

// NewHandler creates a Handler scheduling instances on the given pool.
func NewHandler(orch *Orchestrator, pool *runner.Pool, fileSys files.System, logger *slog.Logger) *Handler {
	return &Handler{
		orch:   orch,
		pool:   pool,
		files:  fileSys,
		logger: logger.With("handler", "pipeline"),
	}
}

// Routes returns the route group definition for pipeline endpoints.
func (h *Handler) Routes() routes.Group {
	return routes.Group{
		Prefix: "/invoices",
		Routes: []routes.Route{
			{Method: "POST", Pattern: "/process", Handler: h.Process},
			{Method: "GET", Pattern: "/status/{invoiceId}", Handler: h.Status},
		},
	}
}

// InstanceResponse acknowledges an accepted processing request.
type InstanceResponse struct {
	Workflow   string `json:"workflow"`
	InstanceID string `json:"instanceId"`
	InvoiceID  string `json:"invoiceId"`
}

// Process validates the trigger payload and schedules an instance,
// responding 202 immediately.
func (h *Handler) Process(w http.ResponseWriter, r *http.Request) {
	var req Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		handlers.RespondError(w, h.logger, http.StatusBadRequest, err)
		return
	}
	if err := req.Validate(); err != nil {
		handlers.RespondError(w, h.logger, http.StatusBadRequest, err)
		return
	}

	instanceID := uuid.NewString()
	h.logger.Info("instance accepted", "invoiceId", req.InvoiceID, "instanceId", instanceID)

	h.pool.Go(func(ctx context.Context) error {
		if err := h.orch.Run(ctx, req); err != nil {
			h.logger.Error(
				"instance exhausted retries",
				"invoiceId", req.InvoiceID,
				"instanceId", instanceID,
				"error", err,
			)
		}
		return nil
	})

	handlers.RespondJSON(w, http.StatusAccepted, InstanceResponse{
		Workflow:   workflowName,
		InstanceID: instanceID,
		InvoiceID:  req.InvoiceID,
	})
}

// StatusResponse reports the current processing record for an invoice.
type StatusResponse struct {
	InvoiceID       string           `json:"invoiceId"`
	ValidationState string           `json:"validationState"`
	HeaderID        *int64           `json:"headerId,omitempty"`
	ExportKey       *string          `json:"exportKey,omitempty"`
	AuditLog        []files.LogEvent `json:"auditLog"`
}

// Status returns the file record for an invoice id.
func (h *Handler) Status(w http.ResponseWriter, r *http.Request) {
	invoiceID := r.PathValue("invoiceId")

	record, err := h.files.Find(r.Context(), invoiceID)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, files.ErrNotFound) {
			status = http.StatusNotFound
		}
		handlers.RespondError(w, h.logger, status, err)
		return
	}

	handlers.RespondJSON(w, http.StatusOK, StatusResponse{
		InvoiceID:       record.InvoiceID,
		ValidationState: record.ValidationState,
		HeaderID:        record.HeaderID,
		ExportKey:       record.ExportKey,
		AuditLog:        record.AuditLog,
	})
}

package http

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	"github.com/example/facility-scheduler/internal/application"
	"github.com/example/facility-scheduler/internal/scheduler"
)

// maxStatusBody bounds the status change request body.
const maxStatusBody = 64 << 10

type taskService interface {
	ChangeTaskStatus(ctx context.Context, params application.ChangeStatusParams) (application.Occurrence, error)
}

type TaskHandler struct {
	service   taskService
	responder responder
	logger    *slog.Logger
}

func NewTaskHandler(service taskService, logger *slog.Logger) *TaskHandler {
	return &TaskHandler{service: service, responder: newResponder(logger), logger: defaultLogger(logger)}
}

func (h *TaskHandler) ChangeStatus(w http.ResponseWriter, r *http.Request, ref string) {
	if h == nil || h.service == nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}
	ctx := r.Context()

	if strings.TrimSpace(ref) == "" {
		h.responder.writeError(ctx, w, http.StatusBadRequest, errMissingTaskRef)
		return
	}
	actor, ok := ActorFromContext(ctx)
	if !ok {
		h.responder.writeError(ctx, w, http.StatusUnauthorized, errMissingActor)
		return
	}

	var req statusChangeRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxStatusBody)).Decode(&req); err != nil {
		h.responder.writeError(ctx, w, http.StatusBadRequest, errBadRequestBody)
		return
	}

	occ, err := h.service.ChangeTaskStatus(ctx, application.ChangeStatusParams{
		TaskRef: ref,
		Status:  scheduler.Status(strings.TrimSpace(req.Status)),
		Comment: req.Comment,
		Photos:  req.Photos,
		Reason:  req.Reason,
		Actor:   actor,
	})
	if err != nil {
		h.responder.handleServiceError(ctx, w, err)
		return
	}

	handlerLogger(ctx, h.logger, "tasks", "ChangeStatus", "task_ref", ref).InfoContext(ctx, "task status changed",
		"execution_id", occ.ExecutionID, "status", occ.Status)
	h.responder.writeJSON(ctx, w, http.StatusOK, toOccurrenceDTO(occ))
}

type statusChangeRequest struct {
	Status  string   `json:"status"`
	Comment string   `json:"comment"`
	Photos  []string `json:"photos"`
	Reason  string   `json:"reason"`
}

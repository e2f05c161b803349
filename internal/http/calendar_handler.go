package http

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/example/facility-scheduler/internal/application"
	"github.com/example/facility-scheduler/internal/scheduler"
)

type calendarService interface {
	ProjectCalendar(ctx context.Context, query application.CalendarQuery) (application.CalendarView, error)
}

type CalendarHandler struct {
	service   calendarService
	responder responder
	logger    *slog.Logger
}

func NewCalendarHandler(service calendarService, logger *slog.Logger) *CalendarHandler {
	return &CalendarHandler{service: service, responder: newResponder(logger), logger: defaultLogger(logger)}
}

func (h *CalendarHandler) Get(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.service == nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	query, err := buildCalendarQuery(r.URL.Query())
	if err != nil {
		h.responder.writeError(r.Context(), w, http.StatusBadRequest, err)
		return
	}

	view, err := h.service.ProjectCalendar(r.Context(), query)
	if err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}

	handlerLogger(r.Context(), h.logger, "calendar", "Get").DebugContext(r.Context(), "calendar served", "occurrences", view.Total())
	h.responder.writeJSON(r.Context(), w, http.StatusOK, toCalendarResponse(view))
}

func buildCalendarQuery(values url.Values) (application.CalendarQuery, error) {
	query := application.CalendarQuery{
		SiteID:     strings.TrimSpace(values.Get("site_id")),
		AssigneeID: strings.TrimSpace(values.Get("assignee_id")),
	}

	if raw := strings.TrimSpace(values.Get("from")); raw != "" {
		from, err := parseQueryTime(raw, false)
		if err != nil {
			return query, errors.New("from must be RFC 3339 or YYYY-MM-DD")
		}
		query.From = from
	}
	if raw := strings.TrimSpace(values.Get("to")); raw != "" {
		to, err := parseQueryTime(raw, true)
		if err != nil {
			return query, errors.New("to must be RFC 3339 or YYYY-MM-DD")
		}
		query.To = to
	}

	for _, raw := range values["status"] {
		for _, status := range parseCSV(raw) {
			query.Statuses = append(query.Statuses, scheduler.Status(status))
		}
	}
	return query, nil
}

// parseQueryTime accepts RFC 3339 timestamps or civil dates in UTC. A civil
// date used as an upper bound covers the whole day.
func parseQueryTime(value string, endOfDay bool) (time.Time, error) {
	if ts, err := time.Parse(time.RFC3339Nano, value); err == nil {
		return ts, nil
	}
	day, err := time.Parse("2006-01-02", value)
	if err != nil {
		return time.Time{}, err
	}
	if endOfDay {
		return day.Add(24*time.Hour - time.Second), nil
	}
	return day, nil
}

func parseCSV(value string) []string {
	parts := strings.Split(value, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			result = append(result, trimmed)
		}
	}
	if len(result) == 0 {
		return nil
	}
	return result
}

type calendarResponse struct {
	From        string          `json:"from"`
	To          string          `json:"to"`
	GeneratedAt string          `json:"generated_at"`
	Total       int             `json:"total"`
	Overdue     []occurrenceDTO `json:"overdue"`
	Today       []occurrenceDTO `json:"today"`
	Upcoming    []occurrenceDTO `json:"upcoming"`
	Completed   []occurrenceDTO `json:"completed"`
	Weekly      []occurrenceDTO `json:"weekly"`
	Monthly     []occurrenceDTO `json:"monthly"`
}

func toCalendarResponse(view application.CalendarView) calendarResponse {
	return calendarResponse{
		From:        formatTime(view.From),
		To:          formatTime(view.To),
		GeneratedAt: formatTime(view.GeneratedAt),
		Total:       view.Total(),
		Overdue:     toOccurrenceDTOs(view.Overdue),
		Today:       toOccurrenceDTOs(view.Today),
		Upcoming:    toOccurrenceDTOs(view.Upcoming),
		Completed:   toOccurrenceDTOs(view.Completed),
		Weekly:      toOccurrenceDTOs(view.Weekly),
		Monthly:     toOccurrenceDTOs(view.Monthly),
	}
}

type occurrenceDTO struct {
	Ref               string   `json:"ref"`
	Virtual           bool     `json:"virtual"`
	ExecutionID       string   `json:"execution_id,omitempty"`
	WorkItemID        string   `json:"work_item_id"`
	SiteID            string   `json:"site_id"`
	ChecklistID       string   `json:"checklist_id,omitempty"`
	AssigneeID        string   `json:"assignee_id,omitempty"`
	Title             string   `json:"title"`
	WorkType          string   `json:"work_type,omitempty"`
	ScheduledDate     string   `json:"scheduled_date"`
	ScheduledFor      string   `json:"scheduled_for"`
	DueAt             string   `json:"due_at"`
	Status            string   `json:"status"`
	TakenAt           string   `json:"taken_at,omitempty"`
	TakenBy           string   `json:"taken_by,omitempty"`
	ExecutedAt        string   `json:"executed_at,omitempty"`
	ExecutedBy        string   `json:"executed_by,omitempty"`
	Comment           string   `json:"comment,omitempty"`
	PhotoRefs         []string `json:"photo_refs,omitempty"`
	FailureReason     string   `json:"failure_reason,omitempty"`
	Source            string   `json:"source,omitempty"`
	Version           int64    `json:"version,omitempty"`
	FrequencyClass    string   `json:"frequency_class"`
	UnparsedFrequency bool     `json:"unparsed_frequency,omitempty"`
}

func toOccurrenceDTO(occ application.Occurrence) occurrenceDTO {
	return occurrenceDTO{
		Ref:               occ.Ref,
		Virtual:           occ.Virtual,
		ExecutionID:       occ.ExecutionID,
		WorkItemID:        occ.WorkItemID,
		SiteID:            occ.SiteID,
		ChecklistID:       occ.ChecklistID,
		AssigneeID:        occ.AssigneeID,
		Title:             occ.Title,
		WorkType:          occ.WorkType,
		ScheduledDate:     occ.ScheduledDate,
		ScheduledFor:      formatTime(occ.ScheduledFor),
		DueAt:             formatTime(occ.DueAt),
		Status:            string(occ.Status),
		TakenAt:           formatTimePtr(occ.TakenAt),
		TakenBy:           occ.TakenBy,
		ExecutedAt:        formatTimePtr(occ.ExecutedAt),
		ExecutedBy:        occ.ExecutedBy,
		Comment:           occ.Comment,
		PhotoRefs:         append([]string(nil), occ.PhotoRefs...),
		FailureReason:     occ.FailureReason,
		Source:            occ.Source,
		Version:           occ.Version,
		FrequencyClass:    string(occ.FrequencyClass),
		UnparsedFrequency: occ.UnparsedFrequency,
	}
}

// toOccurrenceDTOs never returns nil so empty buckets encode as [].
func toOccurrenceDTOs(occurrences []application.Occurrence) []occurrenceDTO {
	out := make([]occurrenceDTO, 0, len(occurrences))
	for _, occ := range occurrences {
		out = append(out, toOccurrenceDTO(occ))
	}
	return out
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

func formatTimePtr(t *time.Time) string {
	if t == nil {
		return ""
	}
	return formatTime(*t)
}

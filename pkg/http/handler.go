package http

import (
	"context"
	"encoding/json"
	"net/http"

	"coachcall-server/pkg/call"
	"coachcall-server/pkg/checklist"
	"coachcall-server/pkg/coaching"
	"coachcall-server/pkg/errors"

	"github.com/sirupsen/logrus"
)

// EngineService defines the coaching engine operations exposed over HTTP
type EngineService interface {
	StartCall(id string) (*call.Session, error)
	AppendSegment(callID string, speaker call.Speaker, text string) (*call.Segment, error)
	CompleteCall(ctx context.Context, callID string) (*call.Session, error)
	FailCall(ctx context.Context, callID string) (*call.Session, error)
	AcknowledgePrompt(callID, promptID string) (*coaching.Prompt, error)
	Snapshot(callID string) (*coaching.Snapshot, error)
	Sessions() []*call.Session
}

// ChecklistService defines the checklist configuration operations
type ChecklistService interface {
	Create(ctx context.Context, item *checklist.Item) (*checklist.Item, error)
	Update(ctx context.Context, item *checklist.Item) (*checklist.Item, error)
	Delete(ctx context.Context, id string) error
	Reorder(ctx context.Context, ids []string) error
	SetActive(ctx context.Context, id string, active bool) (*checklist.Item, error)
	SetRequired(ctx context.Context, id string, required bool) (*checklist.Item, error)
	ActiveItems() []*checklist.Item
	AllItems() []*checklist.Item
}

// HistoryService lists archived calls
type HistoryService interface {
	ListArchivedSessions(ctx context.Context, limit int) ([]*call.Session, error)
}

// CoachingHandler handles the coaching API endpoints
type CoachingHandler struct {
	logger    *logrus.Logger
	engine    EngineService
	checklist ChecklistService
	history   HistoryService
}

// NewCoachingHandler creates a coaching API handler
func NewCoachingHandler(logger *logrus.Logger, engine EngineService, checklistSvc ChecklistService, history HistoryService) *CoachingHandler {
	return &CoachingHandler{
		logger:    logger,
		engine:    engine,
		checklist: checklistSvc,
		history:   history,
	}
}

// RegisterHandlers registers all coaching endpoints with the HTTP server
func (h *CoachingHandler) RegisterHandlers(server *Server) {
	server.RegisterHandler("/api/calls", h.handleCalls)
	server.RegisterHandler("/api/calls/state", h.handleCallState)
	server.RegisterHandler("/api/calls/segments", h.handleAppendSegment)
	server.RegisterHandler("/api/calls/complete", h.handleCompleteCall)
	server.RegisterHandler("/api/calls/history", h.handleCallHistory)
	server.RegisterHandler("/api/prompts/ack", h.handleAcknowledgePrompt)
	server.RegisterHandler("/api/checklist", h.handleChecklist)
	server.RegisterHandler("/api/checklist/reorder", h.handleReorder)
	server.RegisterHandler("/api/checklist/toggle", h.handleToggle)
}

// handleCalls lists call sessions (GET) or starts a new one (POST)
func (h *CoachingHandler) handleCalls(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		sessions := h.engine.Sessions()

		if id := r.URL.Query().Get("id"); id != "" {
			for _, session := range sessions {
				if session.ID == id {
					writeJSON(w, http.StatusOK, session)
					return
				}
			}
			errors.WriteError(w, errors.NewCallNotFound(id))
			return
		}

		writeJSON(w, http.StatusOK, map[string]interface{}{
			"sessions": sessions,
			"count":    len(sessions),
		})

	case http.MethodPost:
		var req struct {
			ID string `json:"id"`
		}
		if err := decodeBody(r, &req); err != nil {
			errors.WriteError(w, err)
			return
		}

		session, err := h.engine.StartCall(req.ID)
		if err != nil {
			h.logger.WithError(err).Error("Failed to start call")
			errors.WriteError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, session)

	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

// handleCallState returns the consistent state snapshot for one call. This
// is the endpoint coach panels poll.
func (h *CoachingHandler) handleCallState(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	callID := r.URL.Query().Get("id")
	if callID == "" {
		errors.WriteError(w, errors.NewInvalidInput("missing call id"))
		return
	}

	snapshot, err := h.engine.Snapshot(callID)
	if err != nil {
		errors.WriteError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, snapshot)
}

// handleAppendSegment appends a transcript segment, triggering one
// evaluation cycle
func (h *CoachingHandler) handleAppendSegment(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req struct {
		CallID  string `json:"call_id"`
		Speaker string `json:"speaker"`
		Text    string `json:"text"`
	}
	if err := decodeBody(r, &req); err != nil {
		errors.WriteError(w, err)
		return
	}
	if req.CallID == "" {
		errors.WriteError(w, errors.NewInvalidInput("missing call_id"))
		return
	}

	segment, err := h.engine.AppendSegment(req.CallID, call.Speaker(req.Speaker), req.Text)
	if err != nil {
		h.logger.WithError(err).WithField("call_id", req.CallID).Warn("Failed to append segment")
		errors.WriteError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, segment)
}

// handleCompleteCall ends a call as completed, or failed when the body says so
func (h *CoachingHandler) handleCompleteCall(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req struct {
		CallID string `json:"call_id"`
		Failed bool   `json:"failed"`
	}
	if err := decodeBody(r, &req); err != nil {
		errors.WriteError(w, err)
		return
	}
	if req.CallID == "" {
		errors.WriteError(w, errors.NewInvalidInput("missing call_id"))
		return
	}

	var session *call.Session
	var err error
	if req.Failed {
		session, err = h.engine.FailCall(r.Context(), req.CallID)
	} else {
		session, err = h.engine.CompleteCall(r.Context(), req.CallID)
	}
	if err != nil {
		errors.WriteError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, session)
}

// handleCallHistory lists archived calls
func (h *CoachingHandler) handleCallHistory(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if h.history == nil {
		errors.WriteError(w, errors.Wrap(errors.ErrUnavailable, "call history not configured"))
		return
	}

	sessions, err := h.history.ListArchivedSessions(r.Context(), 50)
	if err != nil {
		h.logger.WithError(err).Error("Failed to list archived calls")
		errors.WriteError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"sessions": sessions,
		"count":    len(sessions),
	})
}

// handleAcknowledgePrompt marks a coaching prompt as acknowledged
func (h *CoachingHandler) handleAcknowledgePrompt(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req struct {
		CallID   string `json:"call_id"`
		PromptID string `json:"prompt_id"`
	}
	if err := decodeBody(r, &req); err != nil {
		errors.WriteError(w, err)
		return
	}
	if req.CallID == "" || req.PromptID == "" {
		errors.WriteError(w, errors.NewInvalidInput("missing call_id or prompt_id"))
		return
	}

	prompt, err := h.engine.AcknowledgePrompt(req.CallID, req.PromptID)
	if err != nil {
		errors.WriteError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, prompt)
}

// handleChecklist serves checklist item CRUD. GET returns the active set by
// default (the shape coach panels cache); ?all=true includes inactive items.
func (h *CoachingHandler) handleChecklist(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		var items []*checklist.Item
		if r.URL.Query().Get("all") == "true" {
			items = h.checklist.AllItems()
		} else {
			items = h.checklist.ActiveItems()
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"items": items,
			"count": len(items),
		})

	case http.MethodPost:
		var item checklist.Item
		if err := decodeBody(r, &item); err != nil {
			errors.WriteError(w, err)
			return
		}
		created, err := h.checklist.Create(r.Context(), &item)
		if err != nil {
			errors.WriteError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, created)

	case http.MethodPut:
		var item checklist.Item
		if err := decodeBody(r, &item); err != nil {
			errors.WriteError(w, err)
			return
		}
		if item.ID == "" {
			errors.WriteError(w, errors.NewInvalidInput("missing item id"))
			return
		}
		updated, err := h.checklist.Update(r.Context(), &item)
		if err != nil {
			errors.WriteError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, updated)

	case http.MethodDelete:
		id := r.URL.Query().Get("id")
		if id == "" {
			errors.WriteError(w, errors.NewInvalidInput("missing item id"))
			return
		}
		if err := h.checklist.Delete(r.Context(), id); err != nil {
			errors.WriteError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"deleted": id})

	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

// handleReorder applies an explicit full ordering of active checklist items
func (h *CoachingHandler) handleReorder(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req struct {
		ItemIDs []string `json:"item_ids"`
	}
	if err := decodeBody(r, &req); err != nil {
		errors.WriteError(w, err)
		return
	}

	if err := h.checklist.Reorder(r.Context(), req.ItemIDs); err != nil {
		errors.WriteError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"items": h.checklist.ActiveItems(),
	})
}

// handleToggle flips an item's active or required flag
func (h *CoachingHandler) handleToggle(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req struct {
		ItemID string `json:"item_id"`
		Field  string `json:"field"`
		Value  bool   `json:"value"`
	}
	if err := decodeBody(r, &req); err != nil {
		errors.WriteError(w, err)
		return
	}
	if req.ItemID == "" {
		errors.WriteError(w, errors.NewInvalidInput("missing item_id"))
		return
	}

	var item *checklist.Item
	var err error
	switch req.Field {
	case "active":
		item, err = h.checklist.SetActive(r.Context(), req.ItemID, req.Value)
	case "required":
		item, err = h.checklist.SetRequired(r.Context(), req.ItemID, req.Value)
	default:
		errors.WriteError(w, errors.NewInvalidInput("field must be 'active' or 'required'"))
		return
	}
	if err != nil {
		errors.WriteError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, item)
}

func decodeBody(r *http.Request, dst interface{}) error {
	if r.Body == nil {
		return errors.NewInvalidInput("missing request body")
	}
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return errors.NewInvalidInput("malformed request body",
			map[string]interface{}{"error": err.Error()})
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(payload)
}

package httpapi

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/aiopslab/taskrunner/internal/domain"
	"github.com/aiopslab/taskrunner/internal/store"
)

func (h *handlers) listConversations(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := store.ConversationFilter{Limit: 50}
	if tid := q.Get("task_id"); tid != "" {
		filter.TaskID = &tid
	}
	if role := q.Get("role"); role != "" {
		mr := domain.MessageRole(role)
		filter.Role = &mr
	}
	if l, err := strconv.Atoi(q.Get("limit")); err == nil && l > 0 {
		filter.Limit = l
	}
	if o, err := strconv.Atoi(q.Get("offset")); err == nil && o >= 0 {
		filter.Offset = o
	}

	convs, err := h.deps.Store.ListConversations(r.Context(), filter)
	if err != nil {
		writeError(w, r, h.deps.Logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"conversations": convs})
}

func (h *handlers) getConversation(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	conv, err := h.deps.Store.GetConversation(r.Context(), id)
	if err != nil {
		writeError(w, r, h.deps.Logger, err)
		return
	}
	writeJSON(w, http.StatusOK, conv)
}

func (h *handlers) listConversationMessages(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	conv, err := h.deps.Store.GetConversation(r.Context(), id)
	if err != nil {
		writeError(w, r, h.deps.Logger, err)
		return
	}

	role := r.URL.Query().Get("role")
	if role == "" {
		writeJSON(w, http.StatusOK, map[string]any{"messages": conv.Messages})
		return
	}

	filtered := make([]domain.LLMMessage, 0, len(conv.Messages))
	for _, m := range conv.Messages {
		if string(m.Role) == role {
			filtered = append(filtered, m)
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"messages": filtered})
}

func (h *handlers) conversationsForTask(w http.ResponseWriter, r *http.Request) {
	taskID := chi.URLParam(r, "taskID")
	convs, err := h.deps.Store.ConversationsForTask(r.Context(), taskID)
	if err != nil {
		writeError(w, r, h.deps.Logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"conversations": convs})
}

func (h *handlers) conversationStatsSummary(w http.ResponseWriter, r *http.Request) {
	stats, err := h.deps.Store.ConversationStats(r.Context())
	if err != nil {
		writeError(w, r, h.deps.Logger, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

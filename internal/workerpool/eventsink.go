package workerpool

import (
	"context"
	"log/slog"

	"github.com/aiopslab/taskrunner/internal/domain"
	"github.com/aiopslab/taskrunner/internal/store"
)

// storeEventSink adapts a running task's log and conversation events
// onto the Store (spec.md §4.5). It lazily creates one LLMConversation
// on the first turn a task produces and appends subsequent turns to it.
type storeEventSink struct {
	store          store.Store
	taskID         string
	model          string
	logger         *slog.Logger
	conversationID string
}

func (s *storeEventSink) Log(ctx context.Context, level domain.LogLevel, message string, fields map[string]any) {
	if _, err := s.store.AppendLog(ctx, s.taskID, level, message, fields); err != nil {
		s.logger.Warn("failed to persist task log", slog.String("error", err.Error()))
	}
}

func (s *storeEventSink) ConversationTurn(ctx context.Context, msg domain.LLMMessage) {
	if s.conversationID == "" {
		model := s.model
		if model == "" {
			model = "unknown"
		}
		conv := &domain.LLMConversation{
			TaskID:   s.taskID,
			Model:    model,
			Messages: []domain.LLMMessage{msg},
		}
		id, err := s.store.InsertConversation(ctx, conv)
		if err != nil {
			s.logger.Warn("failed to start conversation", slog.String("error", err.Error()))
			return
		}
		s.conversationID = id
		return
	}
	if err := s.store.AppendMessage(ctx, s.conversationID, msg); err != nil {
		s.logger.Warn("failed to append conversation turn", slog.String("error", err.Error()))
	}
}

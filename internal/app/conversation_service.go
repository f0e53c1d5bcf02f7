package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode"

	"github.com/google/uuid"

	"docchat/internal/llm"
	"docchat/internal/logger"
	"docchat/internal/model"
	"docchat/internal/repository"
)

const (
	SystemPrompt = "You are a helpful assistant. Always answer in the same language as the user."

	titleMaxChars  = 50
	titleEllipsis  = "…"
	transcriptSize = 200
)

type Completer interface {
	Stream(ctx context.Context, req llm.Request) (*llm.Stream, error)
}

// TranscriptCache stores transcripts under a per-conversation version. Delete
// bumps the version; Set stores nothing and returns false once the version it
// was given is no longer current.
type TranscriptCache interface {
	Get(ctx context.Context, conversationID uuid.UUID) ([]model.Message, bool, error)
	Version(ctx context.Context, conversationID uuid.UUID) (int64, error)
	Set(ctx context.Context, conversationID uuid.UUID, version int64, messages []model.Message) (bool, error)
	Delete(ctx context.Context, conversationID uuid.UUID) error
}

type ConversationService struct {
	convRepo   *repository.ConversationRepository
	msgRepo    *repository.MessageRepository
	completer  Completer
	cache      TranscriptCache
	maxContext int
	log        *slog.Logger
}

// NewConversationService wires the chat flow. cache may be nil. maxContext
// is the number of earlier messages replayed to the model; 0 sends only the
// new question.
func NewConversationService(
	convRepo *repository.ConversationRepository,
	msgRepo *repository.MessageRepository,
	completer Completer,
	cache TranscriptCache,
	maxContext int,
	log *slog.Logger,
) *ConversationService {
	if maxContext < 0 {
		maxContext = 0
	}
	return &ConversationService{
		convRepo:   convRepo,
		msgRepo:    msgRepo,
		completer:  completer,
		cache:      cache,
		maxContext: maxContext,
		log:        logger.OrDefault(log),
	}
}

type AskInput struct {
	ConversationID *uuid.UUID
	DocumentID     *uuid.UUID
	Question       string
	Model          string
}

// Ask records the question and returns a stream of the answer. The backend is
// not contacted until the first call to Next.
func (s *ConversationService) Ask(ctx context.Context, in AskInput) (uuid.UUID, *AnswerStream, error) {
	if strings.TrimSpace(in.Question) == "" {
		return uuid.Nil, nil, ErrQuestionEmpty
	}

	userMessage := &model.Message{
		Role:      model.RoleUser,
		Content:   in.Question,
		CreatedAt: time.Now().UTC(),
	}

	var (
		conv    *model.Conversation
		history []model.Message
	)
	if in.ConversationID != nil {
		existing, err := s.convRepo.GetByID(ctx, *in.ConversationID)
		if err != nil {
			return uuid.Nil, nil, err
		}
		if existing == nil {
			return uuid.Nil, nil, ErrConversationNotFound
		}
		conv = existing

		if history, err = s.msgRepo.ListRecent(ctx, conv.ID, s.maxContext); err != nil {
			return uuid.Nil, nil, err
		}
		userMessage.ConversationID = conv.ID
		if err := s.msgRepo.Create(ctx, userMessage); err != nil {
			return uuid.Nil, nil, err
		}
	} else {
		conv = &model.Conversation{
			ID:         uuid.New(),
			DocumentID: in.DocumentID,
			Title:      conversationTitle(in.Question),
			CreatedAt:  userMessage.CreatedAt,
		}
		if err := s.convRepo.CreateWithMessage(ctx, conv, userMessage); err != nil {
			return uuid.Nil, nil, err
		}
	}
	s.invalidate(ctx, conv.ID)

	stream := &AnswerStream{
		ctx:            ctx,
		svc:            s,
		conversationID: conv.ID,
		request: llm.Request{
			Messages: buildPrompt(history, in.Question),
			Model:    in.Model,
		},
	}
	return conv.ID, stream, nil
}

func (s *ConversationService) List(ctx context.Context, limit int) ([]model.Conversation, error) {
	return s.convRepo.List(ctx, limit)
}

// Transcript returns the conversation's messages oldest first, read through
// the cache when one is configured.
func (s *ConversationService) Transcript(ctx context.Context, id uuid.UUID) ([]model.Message, error) {
	conv, err := s.convRepo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if conv == nil {
		return nil, ErrConversationNotFound
	}

	cacheable := false
	var version int64
	if s.cache != nil {
		cached, hit, err := s.cache.Get(ctx, id)
		if err != nil {
			s.log.Warn("transcript cache read failed", "conversation_id", id.String(), "error", err)
		} else if hit {
			return cached, nil
		}
		if version, err = s.cache.Version(ctx, id); err != nil {
			s.log.Warn("transcript cache version read failed", "conversation_id", id.String(), "error", err)
		} else {
			cacheable = true
		}
	}

	messages, err := s.msgRepo.ListByConversationID(ctx, id, transcriptSize)
	if err != nil {
		return nil, err
	}
	if cacheable {
		stored, err := s.cache.Set(ctx, id, version, messages)
		switch {
		case err != nil:
			s.log.Warn("transcript cache write failed", "conversation_id", id.String(), "error", err)
		case !stored:
			s.log.Debug("transcript changed while loading, not cached", "conversation_id", id.String())
		}
	}
	return messages, nil
}

func (s *ConversationService) appendAnswer(ctx context.Context, conversationID uuid.UUID, answer string) error {
	msg := &model.Message{
		ConversationID: conversationID,
		Role:           model.RoleAssistant,
		Content:        answer,
		CreatedAt:      time.Now().UTC(),
	}
	if err := s.msgRepo.Create(ctx, msg); err != nil {
		return err
	}
	s.invalidate(ctx, conversationID)
	return nil
}

func (s *ConversationService) invalidate(ctx context.Context, id uuid.UUID) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Delete(ctx, id); err != nil {
		s.log.Warn("transcript cache invalidation failed", "conversation_id", id.String(), "error", err)
	}
}

func buildPrompt(history []model.Message, question string) []llm.Message {
	messages := make([]llm.Message, 0, len(history)+2)
	messages = append(messages, llm.Message{Role: llm.RoleSystem, Content: SystemPrompt})
	for _, m := range history {
		messages = append(messages, llm.Message{Role: m.Role, Content: m.Content})
	}
	messages = append(messages, llm.Message{
		Role:    llm.RoleUser,
		Content: fmt.Sprintf("User question:\n%s\n\nProvide a concise, well-structured answer.", question),
	})
	return messages
}

// conversationTitle keeps questions of up to 50 characters verbatim and
// shortens longer ones to their first 50 characters plus an ellipsis.
func conversationTitle(question string) string {
	runes := []rune(question)
	if len(runes) <= titleMaxChars {
		return question
	}
	return strings.TrimRightFunc(string(runes[:titleMaxChars]), unicode.IsSpace) + titleEllipsis
}

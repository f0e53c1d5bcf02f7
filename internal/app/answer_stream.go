package app

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"docchat/internal/llm"
)

// AnswerStream relays completion fragments and records the full answer once
// the backend finishes. Nothing is recorded if the stream fails or is closed
// early.
type AnswerStream struct {
	ctx            context.Context
	svc            *ConversationService
	conversationID uuid.UUID
	request        llm.Request

	inner  *llm.Stream
	text   string
	answer strings.Builder
	err    error
	done   bool
}

func (a *AnswerStream) ConversationID() uuid.UUID { return a.conversationID }

func (a *AnswerStream) Next() bool {
	if a.done {
		return false
	}
	if a.inner == nil {
		inner, err := a.svc.completer.Stream(a.ctx, a.request)
		if err != nil {
			a.stop(err)
			return false
		}
		a.inner = inner
	}

	if a.inner.Next() {
		a.text = a.inner.Text()
		a.answer.WriteString(a.text)
		return true
	}
	if err := a.inner.Err(); err != nil {
		a.stop(err)
		return false
	}

	a.stop(nil)
	// Saved even if the caller goes away after the last fragment.
	if err := a.svc.appendAnswer(context.WithoutCancel(a.ctx), a.conversationID, a.answer.String()); err != nil {
		a.err = fmt.Errorf("save answer failed: %w", err)
	}
	return false
}

func (a *AnswerStream) Text() string { return a.text }

func (a *AnswerStream) Err() error { return a.err }

// Close abandons the stream. It releases the backend slot and discards any
// partial answer.
func (a *AnswerStream) Close() error {
	if !a.done {
		a.svc.log.Info("answer stream abandoned", "conversation_id", a.conversationID.String(), "received_chars", a.answer.Len())
	}
	a.done = true
	if a.inner != nil {
		return a.inner.Close()
	}
	return nil
}

func (a *AnswerStream) stop(err error) {
	a.done = true
	a.text = ""
	a.err = err
	if err != nil {
		a.svc.log.Warn("answer stream failed", "conversation_id", a.conversationID.String(), "error", err)
	}
}

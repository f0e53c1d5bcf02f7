package handler

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"docchat/internal/app"
	"docchat/internal/llm"
	"docchat/internal/transport/http/response"
)

const conversationHeader = "X-Conversation-Id"

type ChatHandler struct {
	conversations *app.ConversationService
}

type StreamChatRequest struct {
	Question       string `json:"question"`
	ConversationID string `json:"conversation_id"`
	DocumentID     string `json:"document_id"`
	Model          string `json:"model"`
}

func NewChatHandler(conversations *app.ConversationService) *ChatHandler {
	return &ChatHandler{conversations: conversations}
}

// Stream answers one question as a plain-text body written fragment by
// fragment. Errors raised before the first fragment get a JSON error status;
// once the body has started the response is cut short instead.
func (h *ChatHandler) Stream(c *gin.Context) {
	var req StreamChatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "invalid request payload")
		return
	}

	in := app.AskInput{Question: req.Question, Model: req.Model}
	if req.ConversationID != "" {
		id, err := uuid.Parse(req.ConversationID)
		if err != nil {
			response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "invalid conversation id")
			return
		}
		in.ConversationID = &id
	}
	if req.DocumentID != "" {
		id, err := uuid.Parse(req.DocumentID)
		if err != nil {
			response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "invalid document id")
			return
		}
		in.DocumentID = &id
	}

	conversationID, stream, err := h.conversations.Ask(c.Request.Context(), in)
	if err != nil {
		writeChatError(c, err)
		return
	}
	defer stream.Close()

	first := stream.Next()
	if !first && stream.Err() != nil {
		writeChatError(c, stream.Err())
		return
	}

	c.Header("Content-Type", "text/plain; charset=utf-8")
	c.Header("Cache-Control", "no-cache")
	c.Header("X-Accel-Buffering", "no")
	c.Header(conversationHeader, conversationID.String())
	c.Status(http.StatusOK)

	if first {
		if !writeFragment(c, stream.Text()) {
			return
		}
		for stream.Next() {
			if !writeFragment(c, stream.Text()) {
				return
			}
		}
	}
	if err := stream.Err(); err != nil {
		_ = c.Error(err)
	}
}

func writeFragment(c *gin.Context, text string) bool {
	if _, err := c.Writer.WriteString(text); err != nil {
		_ = c.Error(err)
		return false
	}
	c.Writer.Flush()
	return true
}

func writeChatError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, app.ErrQuestionEmpty):
		response.Error(c, http.StatusBadRequest, response.CodeQuestionEmpty, err.Error())
	case errors.Is(err, app.ErrConversationNotFound):
		response.Error(c, http.StatusNotFound, response.CodeConversationNotFound, err.Error())
	case errors.Is(err, llm.ErrGatewayTimeout):
		response.Error(c, http.StatusGatewayTimeout, response.CodeGatewayTimeout, "model is busy, try again later")
	case errors.Is(err, llm.ErrCompletionStream):
		response.Error(c, http.StatusBadGateway, response.CodeCompletionFailed, err.Error())
	case errors.Is(err, llm.ErrGatewayClosed):
		response.Error(c, http.StatusServiceUnavailable, response.CodeUnavailable, err.Error())
	default:
		_ = c.Error(err)
		response.Error(c, http.StatusInternalServerError, response.CodeInternalServer, "chat failed")
	}
}

func (h *ChatHandler) ListConversations(c *gin.Context) {
	limit, _ := strconv.Atoi(c.Query("limit"))
	conversations, err := h.conversations.List(c.Request.Context(), limit)
	if err != nil {
		response.Error(c, http.StatusInternalServerError, response.CodeInternalServer, "list conversations failed")
		return
	}
	response.OK(c, conversations)
}

func (h *ChatHandler) Messages(c *gin.Context) {
	id, err := parseUUIDParam(c, "id")
	if err != nil {
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "invalid conversation id")
		return
	}
	messages, err := h.conversations.Transcript(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, app.ErrConversationNotFound) {
			response.Error(c, http.StatusNotFound, response.CodeConversationNotFound, err.Error())
			return
		}
		response.Error(c, http.StatusInternalServerError, response.CodeInternalServer, "get messages failed")
		return
	}
	response.OK(c, messages)
}

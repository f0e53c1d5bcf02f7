package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"docchat/internal/transport/http/response"
)

type ModelLister interface {
	ListModels(ctx context.Context) ([]string, error)
	DefaultModel() string
}

type ModelHandler struct {
	models ModelLister
}

func NewModelHandler(models ModelLister) *ModelHandler {
	return &ModelHandler{models: models}
}

func (h *ModelHandler) List(c *gin.Context) {
	names, err := h.models.ListModels(c.Request.Context())
	if err != nil {
		response.Error(c, http.StatusBadGateway, response.CodeCompletionFailed, "list models failed")
		return
	}
	response.OK(c, gin.H{"default": h.models.DefaultModel(), "models": names})
}

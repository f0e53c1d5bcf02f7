package response

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

const (
	CodeOK                   = 0
	CodeBadRequest           = 40000
	CodeUnsupportedFileType  = 40001
	CodeQuestionEmpty        = 40002
	CodeDocumentNotFound     = 40401
	CodeConversationNotFound = 40402
	CodePayloadTooLarge      = 41300
	CodeInternalServer       = 50000
	CodeIngestionFailed      = 50001
	CodeCompletionFailed     = 50200
	CodeUnavailable          = 50300
	CodeGatewayTimeout       = 50400
)

type APIResponse struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

func OK(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, APIResponse{
		Code:    CodeOK,
		Message: "ok",
		Data:    data,
	})
}

// Accepted acknowledges work that continues after the response is sent.
func Accepted(c *gin.Context, data interface{}) {
	c.JSON(http.StatusAccepted, APIResponse{
		Code:    CodeOK,
		Message: "accepted",
		Data:    data,
	})
}

func Error(c *gin.Context, httpStatus, code int, message string) {
	c.JSON(httpStatus, APIResponse{
		Code:    code,
		Message: message,
	})
}

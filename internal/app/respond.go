package app

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/andresaa/api-examen-conduccion/internal/submission"
)

const (
	codeInvalidJSON        = "INVALID_JSON"
	codeInvalidFormat      = "INVALID_FORMAT"
	codeUnauthorized       = "UNAUTHORIZED"
	codeTestResultNotFound = "TEST_RESULT_NOT_FOUND"
	codeNotFound           = "NOT_FOUND"
	codeInternal           = "INTERNAL_ERROR"
)

// errorBody is the flat snake_case error shape.
type errorBody struct {
	ErrorCode string         `json:"error_code"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details,omitempty"`
	Timestamp string         `json:"timestamp"`
}

// envelope wraps every response of the camelCase API.
type envelope struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Data    any    `json:"data"`
}

func nowStamp() string {
	return time.Now().UTC().Format("2006-01-02T15:04:05.000Z07:00")
}

// respond writes body as-is for variant A and inside a success envelope for variant B.
func (a *App) respond(c *gin.Context, status int, message string, body any) {
	if a.variant == submission.VariantB {
		c.JSON(status, envelope{Success: true, Message: message, Data: body})
		return
	}
	c.JSON(status, body)
}

// fail writes an error in the active variant's shape and aborts the chain.
func (a *App) fail(c *gin.Context, status int, code, message string, details map[string]any) {
	if a.variant == submission.VariantB {
		data := make(map[string]any, len(details)+1)
		for k, v := range details {
			data[k] = v
		}
		data["error_code"] = code
		c.AbortWithStatusJSON(status, envelope{Success: false, Message: message, Data: data})
		return
	}
	c.AbortWithStatusJSON(status, errorBody{ErrorCode: code, Message: message, Details: details, Timestamp: nowStamp()})
}

func (a *App) reject(c *gin.Context, rej *submission.Rejection) {
	a.fail(c, rej.Code.Status(a.variant), string(rej.Code), rej.Message, rej.Details)
}

func (a *App) internalError(c *gin.Context, msg string, err error) {
	a.logger.ErrorContext(c.Request.Context(), msg, "error", err, "request_id", c.GetString(requestIDKey))
	a.fail(c, http.StatusInternalServerError, codeInternal, "Error interno del servidor", nil)
}

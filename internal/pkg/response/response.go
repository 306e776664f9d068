package response

import "github.com/gin-gonic/gin"

// Envelope is the body of every API response.
type Envelope struct {
	Success bool       `json:"success"`
	Data    any        `json:"data,omitempty"`
	Error   *ErrorBody `json:"error,omitempty"`
}

type ErrorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

func Success(c *gin.Context, statusCode int, data any) {
	c.JSON(statusCode, Envelope{Success: true, Data: data})
}

func Error(c *gin.Context, statusCode int, code string, message string) {
	c.JSON(statusCode, Envelope{Error: &ErrorBody{Code: code, Message: message}})
}

func ErrorWithDetails(c *gin.Context, statusCode int, code string, message string, details any) {
	c.JSON(statusCode, Envelope{Error: &ErrorBody{Code: code, Message: message, Details: details}})
}

// Abort writes the error and stops the handler chain. Used by middleware.
func Abort(c *gin.Context, statusCode int, code string, message string) {
	c.AbortWithStatusJSON(statusCode, Envelope{Error: &ErrorBody{Code: code, Message: message}})
}

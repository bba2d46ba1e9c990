// Package response writes the relay's JSON envelope: every body carries
// success, failures add error.
package response

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

type Envelope struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

// Success writes 200 with success:true merged into fields.
func Success(c *gin.Context, fields gin.H) {
	body := gin.H{"success": true}
	for k, v := range fields {
		body[k] = v
	}
	c.JSON(http.StatusOK, body)
}

// Data writes 200 {success:true, data}.
func Data(c *gin.Context, data interface{}) {
	Success(c, gin.H{"data": data})
}

// JSON writes an operation result that already carries its own success flag.
func JSON(c *gin.Context, result interface{}) {
	c.JSON(http.StatusOK, result)
}

func Error(c *gin.Context, status int, message string) {
	c.JSON(status, Envelope{Success: false, Error: message})
}

// Fail reports a business failure: the call worked, the operation did not.
func Fail(c *gin.Context, message string) {
	Error(c, http.StatusOK, message)
}

func BadRequest(c *gin.Context, message string) {
	Error(c, http.StatusBadRequest, message)
}

func Unauthorized(c *gin.Context, message string) {
	c.Header("WWW-Authenticate", "Bearer")
	Error(c, http.StatusUnauthorized, message)
}

func NotFound(c *gin.Context, message string) {
	Error(c, http.StatusNotFound, message)
}

func InternalServerError(c *gin.Context, message string) {
	Error(c, http.StatusInternalServerError, message)
}

func ServiceUnavailable(c *gin.Context, message string) {
	Error(c, http.StatusServiceUnavailable, message)
}

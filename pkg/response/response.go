package response

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// RequestIDKey is the gin context key holding the request ID echoed in every envelope
const RequestIDKey = "request_id"

// Response is the standard API response structure
type Response struct {
	Code      int         `json:"code"`
	Message   string      `json:"message"`
	Data      interface{} `json:"data,omitempty"`
	RequestID string      `json:"request_id,omitempty"`
}

func write(c *gin.Context, status int, body Response) {
	body.RequestID = c.GetString(RequestIDKey)
	c.JSON(status, body)
}

// Success sends a successful response
func Success(c *gin.Context, data interface{}) {
	write(c, http.StatusOK, Response{Code: 0, Message: "success", Data: data})
}

// Created sends a 201 created response
func Created(c *gin.Context, data interface{}) {
	write(c, http.StatusCreated, Response{Code: 0, Message: "created", Data: data})
}

// Error sends an error response with an application code
func Error(c *gin.Context, statusCode int, code int, message string) {
	write(c, statusCode, Response{Code: code, Message: message})
}

// BadRequest sends a 400 for requests that fail to bind
func BadRequest(c *gin.Context, message string) {
	Error(c, http.StatusBadRequest, -1, message)
}

// Unauthorized sends a 401 error response
func Unauthorized(c *gin.Context, message string) {
	Error(c, http.StatusUnauthorized, -1001, message)
}

// Forbidden sends a 403 error response
func Forbidden(c *gin.Context, message string) {
	Error(c, http.StatusForbidden, -1002, message)
}

// NotFound sends a 404 error response
func NotFound(c *gin.Context, message string) {
	Error(c, http.StatusNotFound, -1003, message)
}

// Paginated wraps one page of a newest-first listing
type Paginated struct {
	Items      interface{} `json:"items"`
	Total      int64       `json:"total"`
	Page       int         `json:"page"`
	PageSize   int         `json:"page_size"`
	TotalPages int         `json:"total_pages"`
	HasMore    bool        `json:"has_more"`
}

// SuccessPaginated sends a successful paginated response
func SuccessPaginated(c *gin.Context, items interface{}, total int64, page, pageSize int) {
	totalPages := 0
	if pageSize > 0 {
		totalPages = int((total + int64(pageSize) - 1) / int64(pageSize))
	}

	Success(c, Paginated{
		Items:      items,
		Total:      total,
		Page:       page,
		PageSize:   pageSize,
		TotalPages: totalPages,
		HasMore:    page < totalPages,
	})
}

package middleware

import (
	"bytes"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/papersim/pkg/response"
	"gopkg.in/natefinch/lumberjack.v2"
)

const (
	// HeaderRequestID carries the request ID in and out of the service
	HeaderRequestID = "X-Request-ID"

	maxLoggedBody = 1000
)

var (
	appLogger    *log.Logger
	debugEnabled bool
)

// InitLogger sends application logs to stdout and a rotated file in logDir.
// Debug lines are only written when debug is set.
func InitLogger(logDir string, debug bool) error {
	debugEnabled = debug

	absLogDir, err := filepath.Abs(logDir)
	if err != nil {
		absLogDir = logDir
	}
	if err := os.MkdirAll(absLogDir, 0755); err != nil {
		return fmt.Errorf("failed to create log directory %s: %w", absLogDir, err)
	}

	rotating := &lumberjack.Logger{
		Filename:   filepath.Join(absLogDir, "papersim.log"),
		MaxSize:    10, // MB
		MaxBackups: 30,
		MaxAge:     30, // days
		Compress:   true,
		LocalTime:  true,
	}
	out := io.MultiWriter(os.Stdout, rotating)

	appLogger = log.New(out, "", log.LstdFlags|log.Lmicroseconds)
	// Services log through the standard logger, so it shares the file
	log.SetOutput(out)
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)

	appLogger.Printf("[INFO] Logger initialized, writing to %s (debug=%v)", rotating.Filename, debug)
	return nil
}

func logf(level, format string, v ...interface{}) {
	if appLogger != nil {
		appLogger.Printf("["+level+"] "+format, v...)
		return
	}
	log.Printf("["+level+"] "+format, v...)
}

// LogInfo logs info level messages
func LogInfo(format string, v ...interface{}) {
	logf("INFO", format, v...)
}

// LogError logs error level messages
func LogError(format string, v ...interface{}) {
	logf("ERROR", format, v...)
}

// LogDebug logs debug level messages
func LogDebug(format string, v ...interface{}) {
	if debugEnabled {
		logf("DEBUG", format, v...)
	}
}

// RequestIDMiddleware reuses the caller's X-Request-ID or assigns a new one,
// and echoes it in the response header and envelope
func RequestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(HeaderRequestID)
		if id == "" || len(id) > 64 {
			id = uuid.NewString()
		}
		c.Set(response.RequestIDKey, id)
		c.Header(HeaderRequestID, id)
		c.Next()
	}
}

func requestURL(c *gin.Context) string {
	if c.Request.URL.RawQuery == "" {
		return c.Request.URL.Path
	}
	return c.Request.URL.Path + "?" + c.Request.URL.RawQuery
}

// RequestLoggerMiddleware writes one line per request: method, URL, status,
// latency and request ID. Responses of 400 and above are logged as errors.
func RequestLoggerMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		url := requestURL(c)

		c.Next()

		status := c.Writer.Status()
		line := "%s %s | status=%d | latency=%v | rid=%s"
		args := []interface{}{c.Request.Method, url, status, time.Since(start), c.GetString(response.RequestIDKey)}
		if status >= http.StatusBadRequest {
			LogError(line, args...)
			return
		}
		LogInfo(line, args...)
	}
}

// SettlementLoggerMiddleware records every ledger mutation with the account
// and position it targets. The request body is only logged in debug mode.
func SettlementLoggerMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.Method == http.MethodGet {
			c.Next()
			return
		}
		start := time.Now()
		url := requestURL(c)

		if debugEnabled && c.Request.Body != nil {
			body, _ := io.ReadAll(c.Request.Body)
			c.Request.Body = io.NopCloser(bytes.NewReader(body))
			LogDebug("SETTLEMENT REQUEST %s %s | auth=%s | body=%s",
				c.Request.Method, url, maskToken(c.GetHeader("Authorization")), truncate(string(body)))
		}

		c.Next()

		LogInfo("SETTLEMENT %s %s | account=%s position=%s | status=%d | latency=%v | rid=%s",
			c.Request.Method, url, c.Param("account_id"), orDash(c.Param("id")),
			c.Writer.Status(), time.Since(start), c.GetString(response.RequestIDKey))
	}
}

// maskToken keeps the scheme and a short prefix of a bearer token
func maskToken(header string) string {
	if header == "" {
		return "-"
	}
	if len(header) > 15 {
		return header[:15] + "***"
	}
	return strings.Repeat("*", len(header))
}

func truncate(body string) string {
	switch {
	case body == "":
		return "(empty)"
	case len(body) > maxLoggedBody:
		return body[:maxLoggedBody] + "..."
	default:
		return body
	}
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

package server

import (
	"fmt"
	"net/http"
	"time"

	"github.com/Layr-Labs/nft-cosigner-go/pkg/metrics"
	"github.com/Layr-Labs/nft-cosigner-go/pkg/ratelimit"
	"github.com/Layr-Labs/nft-cosigner-go/pkg/requestid"
	"github.com/Layr-Labs/nft-cosigner-go/pkg/telemetry"
	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// cors attaches permissive CORS headers to every response and answers
// OPTIONS on any path with an empty 200.
func cors() gin.HandlerFunc {
	return func(c *gin.Context) {
		h := c.Writer.Header()
		h.Set("Access-Control-Allow-Origin", "*")
		h.Set("Access-Control-Allow-Methods", "GET,HEAD,POST,OPTIONS")
		h.Set("Access-Control-Max-Age", "86400")
		h.Set("Access-Control-Allow-Headers", "*")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusOK)
			return
		}
		c.Next()
	}
}

// requestLogger records one log line and one latency observation per request.
func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		elapsed := time.Since(start)

		s.metrics.ObserveRequest(c.Request.Method, c.FullPath(), c.Writer.Status(), elapsed)
		s.logger.Debug("Request completed",
			zap.String("request_id", requestid.FromContext(c.Request.Context())),
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("duration", elapsed),
			zap.String("client_ip", c.ClientIP()),
		)
	}
}

// errorResponder is the single place errors become responses. Handlers
// report failures with c.Error and return.
func (s *Server) errorResponder() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if len(c.Errors) == 0 || c.Writer.Written() {
			return
		}
		s.respondError(c, c.Errors.Last().Err)
	}
}

// recovery turns a panic anywhere below it into a 500.
func (s *Server) recovery() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if r := recover(); r != nil {
				s.logger.Error("Recovered from panic in handler",
					zap.Any("panic", r),
					zap.String("path", c.Request.URL.Path),
				)
				if c.Writer.Written() {
					c.Abort()
					return
				}
				s.respondError(c, NewInternalError(""))
				c.Abort()
			}
		}()
		c.Next()
	}
}

func (s *Server) respondError(c *gin.Context, err error) {
	httpErr := toHTTPError(err)
	if errors.Is(err, ratelimit.ErrRateLimited) {
		s.metrics.ObserveCosign(metrics.OutcomeRateLimited)
	}

	fields := []zap.Field{
		zap.String("request_id", requestid.FromContext(c.Request.Context())),
		zap.String("method", c.Request.Method),
		zap.String("path", c.Request.URL.Path),
		zap.Int("status", httpErr.Status),
		zap.Error(err),
	}
	status := telemetry.StatusWarn
	if httpErr.Status >= http.StatusInternalServerError {
		status = telemetry.StatusError
		s.logger.Error("Request failed", fields...)
	} else {
		s.logger.Info("Request rejected", fields...)
	}

	var tags []string
	if id := requestid.FromContext(c.Request.Context()); id != "" {
		tags = append(tags, "request_id:"+id)
	}
	s.telemetry.Log(telemetry.Event{
		Message: fmt.Sprintf("%s %s -> %d: %s", c.Request.Method, c.Request.URL.Path, httpErr.Status, err.Error()),
		Status:  status,
		Tags:    tags,
	})

	c.String(httpErr.Status, httpErr.Message)
}

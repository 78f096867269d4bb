package server

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/clearskynet/clearsky/go/auth"
)

const sessionKey = "clearsky.session"

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		fields := []zap.Field{
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
		}
		if len(c.Errors) > 0 {
			fields = append(fields, zap.String("errors", c.Errors.String()))
		}
		switch {
		case c.Writer.Status() >= http.StatusInternalServerError:
			s.logger.Error("request", fields...)
		case c.Writer.Status() >= http.StatusBadRequest:
			s.logger.Info("request", fields...)
		default:
			s.logger.Debug("request", fields...)
		}
	}
}

// requireSession resolves the bearer token to a session
func (s *Server) requireSession() gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || token == "" {
			fail(c, http.StatusUnauthorized, "unauthenticated", "missing bearer token")
			return
		}
		session, err := s.sessions.Lookup(strings.TrimSpace(token))
		if err != nil {
			fail(c, http.StatusUnauthorized, "unauthenticated", err.Error())
			return
		}
		c.Set(sessionKey, session)
		c.Next()
	}
}

func sessionOf(c *gin.Context) *auth.Session {
	v, _ := c.Get(sessionKey)
	session, _ := v.(*auth.Session)
	return session
}

// sameWallet reports whether the session belongs to address
func sameWallet(c *gin.Context, address string) bool {
	session := sessionOf(c)
	return session != nil && strings.EqualFold(session.Wallet, address)
}

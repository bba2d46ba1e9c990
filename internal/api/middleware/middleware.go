package middleware

import (
	"crypto/subtle"
	"errors"
	"strings"
	"time"

	"seevideo/automation/internal/config"
	"seevideo/automation/pkg/logger"
	"seevideo/automation/pkg/response"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/sirupsen/logrus"
)

// CORSMiddleware allows every origin; the relay is called by the
// see-video-server and by local tooling.
func CORSMiddleware() gin.HandlerFunc {
	corsConfig := cors.DefaultConfig()
	corsConfig.AllowAllOrigins = true
	corsConfig.AllowMethods = []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "Authorization", "X-Requested-With"}
	corsConfig.AllowWebSockets = true
	return cors.New(corsConfig)
}

// RequestLogger logs one line per request through logrus.
func RequestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		started := time.Now()
		c.Next()

		entry := logger.Component("HTTP").WithFields(logrus.Fields{
			"method":  c.Request.Method,
			"path":    c.Request.URL.Path,
			"status":  c.Writer.Status(),
			"latency": time.Since(started).String(),
			"client":  c.ClientIP(),
		})
		switch status := c.Writer.Status(); {
		case status >= 500:
			entry.Error("request failed")
		case status >= 400:
			entry.Warn("request rejected")
		default:
			entry.Info("request")
		}
	}
}

var errInvalidSigningMethod = errors.New("unexpected signing method")

// ValidateToken accepts the static service token or an HS256 JWT signed with
// the configured secret.
func ValidateToken(cfg config.AuthConfig, token string) error {
	if token == "" {
		return errors.New("missing token")
	}
	if cfg.ServiceToken != "" && subtle.ConstantTimeCompare([]byte(token), []byte(cfg.ServiceToken)) == 1 {
		return nil
	}
	if cfg.JWTSecret == "" {
		return errors.New("invalid token")
	}
	parsed, err := jwt.Parse(token, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errInvalidSigningMethod
		}
		return []byte(cfg.JWTSecret), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return err
	}
	if !parsed.Valid {
		return errors.New("invalid token")
	}
	return nil
}

// AuthMiddleware checks the bearer token. With no token or secret configured
// it lets every request through.
func AuthMiddleware(cfg config.AuthConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !cfg.Enabled() {
			c.Next()
			return
		}

		token := strings.TrimSpace(strings.TrimPrefix(c.GetHeader("Authorization"), "Bearer "))
		if token == "" {
			// browsers cannot set headers on websocket upgrades
			token = c.Query("token")
		}
		if err := ValidateToken(cfg, token); err != nil {
			logger.Component("HTTP").WithError(err).WithField("path", c.Request.URL.Path).Warn("Unauthorized request")
			response.Unauthorized(c, "unauthorized")
			c.Abort()
			return
		}
		c.Next()
	}
}

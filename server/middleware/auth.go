package middleware

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/san-kum/medassist/server/models"
)

const RoleAdmin = "admin"

type Claims struct {
	Subject   string    `json:"sub"`
	Role      string    `json:"role"`
	ExpiresAt time.Time `json:"expires_at"`
	IssuedAt  time.Time `json:"issued_at"`
}

// AuthMiddleware issues and checks HS256-signed bearer tokens.
type AuthMiddleware struct {
	secretKey []byte
	logger    *zap.Logger
	now       func() time.Time
}

func NewAuthMiddleware(secretKey string, logger *zap.Logger) *AuthMiddleware {
	if secretKey == "" {
		key := make([]byte, 32)
		_, _ = rand.Read(key)
		secretKey = base64.StdEncoding.EncodeToString(key)
		logger.Warn("No secret key provided, generated random key; issued tokens end with the process")
	}

	return &AuthMiddleware{
		secretKey: []byte(secretKey),
		logger:    logger,
		now:       time.Now,
	}
}

func (a *AuthMiddleware) RequireAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		token := extractToken(c)
		if token == "" {
			abortWithError(c, http.StatusUnauthorized, models.CodeUnauthorized, "Authorization token required")
			return
		}

		claims, err := a.ValidateToken(token)
		if err != nil {
			a.logger.Warn("Invalid token", zap.Error(err), zap.String("client_ip", c.ClientIP()))
			abortWithError(c, http.StatusUnauthorized, models.CodeUnauthorized, "Invalid or expired token")
			return
		}

		c.Set("subject", claims.Subject)
		c.Set("role", claims.Role)
		c.Next()
	}
}

func (a *AuthMiddleware) RequireRole(requiredRole string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.GetString("role") != requiredRole {
			abortWithError(c, http.StatusForbidden, models.CodeUnauthorized, "Insufficient permissions")
			return
		}
		c.Next()
	}
}

func (a *AuthMiddleware) GenerateToken(subject, role string, duration time.Duration) (string, error) {
	now := a.now()
	claims := Claims{
		Subject:   subject,
		Role:      role,
		ExpiresAt: now.Add(duration),
		IssuedAt:  now,
	}

	headerJSON, err := json.Marshal(map[string]string{"typ": "JWT", "alg": "HS256"})
	if err != nil {
		return "", err
	}
	claimsJSON, err := json.Marshal(claims)
	if err != nil {
		return "", err
	}

	message := base64.RawURLEncoding.EncodeToString(headerJSON) + "." + base64.RawURLEncoding.EncodeToString(claimsJSON)
	return message + "." + a.createSignature(message), nil
}

func (a *AuthMiddleware) ValidateToken(token string) (*Claims, error) {
	parts := strings.Split(token, ".")
	if len(parts) != 3 {
		return nil, fmt.Errorf("invalid token format")
	}

	message := parts[0] + "." + parts[1]
	if !hmac.Equal([]byte(parts[2]), []byte(a.createSignature(message))) {
		return nil, fmt.Errorf("invalid signature")
	}

	payload, err := base64.RawURLEncoding.DecodeString(parts[1])
	if err != nil {
		return nil, fmt.Errorf("invalid payload encoding")
	}

	var claims Claims
	if err := json.Unmarshal(payload, &claims); err != nil {
		return nil, fmt.Errorf("invalid payload format")
	}

	if a.now().After(claims.ExpiresAt) {
		return nil, fmt.Errorf("token expired")
	}

	return &claims, nil
}

func extractToken(c *gin.Context) string {
	authHeader := c.GetHeader("Authorization")
	if authHeader == "" {
		return ""
	}

	parts := strings.Split(authHeader, " ")
	if len(parts) != 2 || parts[0] != "Bearer" {
		return ""
	}

	return parts[1]
}

func (a *AuthMiddleware) createSignature(message string) string {
	h := hmac.New(sha256.New, a.secretKey)
	h.Write([]byte(message))
	return base64.RawURLEncoding.EncodeToString(h.Sum(nil))
}

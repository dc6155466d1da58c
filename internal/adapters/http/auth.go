package http

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

const bearerKey = "bearer"

// BearerAuth requires an Authorization bearer token. With a non-empty
// allowed list the token must be in it.
func BearerAuth(allowed []string) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := bearer(c.GetHeader("Authorization"))
		if token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing bearer token"})
			return
		}
		if len(allowed) > 0 && !contains(allowed, token) {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid bearer token"})
			return
		}
		c.Set(bearerKey, token)
		c.Next()
	}
}

func bearer(header string) string {
	scheme, token, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}

func contains(allowed []string, token string) bool {
	for _, a := range allowed {
		if subtle.ConstantTimeCompare([]byte(a), []byte(token)) == 1 {
			return true
		}
	}
	return false
}

// credentialHash is what gets stored for a meeting's creator; the token
// itself is never persisted.
func credentialHash(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

func sameCredential(token, hash string) bool {
	return hash != "" && subtle.ConstantTimeCompare([]byte(credentialHash(token)), []byte(hash)) == 1
}

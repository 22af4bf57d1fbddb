package mw

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// UserHeader carries the username of the acting user. Authentication
// happens in front of this service.
const UserHeader = "X-Wash-User"

const userKey = "wash_user"

// RequireUser rejects requests without UserHeader and stores the username
// for User.
func RequireUser() gin.HandlerFunc {
	return func(c *gin.Context) {
		username := strings.TrimSpace(c.GetHeader(UserHeader))
		if username == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": UserHeader + " header is required"})
			return
		}
		c.Set(userKey, username)
		c.Next()
	}
}

// User returns the acting username, or "" outside RequireUser.
func User(c *gin.Context) string {
	return c.GetString(userKey)
}

package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// CORSMiddleware lets the CMS editor (usually a dev server on another port)
// call this API from the browser. allowedOrigins is a comma-separated list,
// or "*" for all. Credentials are only allowed for explicitly listed origins.
func CORSMiddleware(allowedOrigins string) gin.HandlerFunc {
	allowAll := allowedOrigins == "*"
	allowed := make(map[string]bool)
	for _, o := range strings.Split(allowedOrigins, ",") {
		if o = strings.TrimSpace(o); o != "" && o != "*" {
			allowed[o] = true
		}
	}

	return func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")

		switch {
		case allowAll:
			c.Header("Access-Control-Allow-Origin", "*")
		case origin != "" && allowed[origin]:
			c.Header("Access-Control-Allow-Origin", origin)
			c.Header("Access-Control-Allow-Credentials", "true")
			c.Header("Vary", "Origin")
		default:
			// Disallowed or same-origin request: no CORS headers at all.
			c.Next()
			return
		}

		c.Header("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		if reqHeaders := c.Request.Header.Get("Access-Control-Request-Headers"); reqHeaders != "" {
			c.Header("Access-Control-Allow-Headers", reqHeaders)
		} else {
			c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Accept, Authorization")
		}
		c.Header("Access-Control-Max-Age", "86400")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}

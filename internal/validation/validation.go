// Package validation provides input validation helpers for the API.
package validation

import (
	"net/http"
	"regexp"
	"strings"

	"github.com/gin-gonic/gin"
)

// MaxRequestSize is the maximum request body size (1MB).
const MaxRequestSize = 1 << 20

// MaxReasonLength caps free-text fields such as dispute reasons.
const MaxReasonLength = 2000

// MaxMessageLength caps the optional note on an offer.
const MaxMessageLength = 500

// currencyRegex validates ISO 4217 alphabetic currency codes.
var currencyRegex = regexp.MustCompile(`^[A-Z]{3}$`)

// RequestSizeMiddleware limits request body size.
func RequestSizeMiddleware(maxSize int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxSize)
		c.Next()
	}
}

// IsValidCurrency checks an ISO 4217 alphabetic code.
func IsValidCurrency(code string) bool {
	return currencyRegex.MatchString(code)
}

// IsValidAmount checks a monetary amount in minor units.
func IsValidAmount(amount int64) bool {
	return amount > 0
}

// SanitizeString trims, caps length, and strips null bytes.
func SanitizeString(s string, maxLen int) string {
	s = strings.TrimSpace(s)
	if len(s) > maxLen {
		s = s[:maxLen]
	}
	return strings.ReplaceAll(s, "\x00", "")
}

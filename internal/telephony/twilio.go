package telephony

import (
	"net/http"
	"strings"

	"voicegate/pkg/logger"

	"github.com/gin-gonic/gin"
	"github.com/twilio/twilio-go/client"
	"go.uber.org/zap"
)

const headerTwilioSignature = "X-Twilio-Signature"

// ValidateTwilioSignature rejects webhooks whose X-Twilio-Signature does not match.
//
// publicBaseURL is the externally visible scheme+host the carrier was configured with;
// behind a proxy the request Host is not reliable.
func ValidateTwilioSignature(authToken, publicBaseURL string) gin.HandlerFunc {
	base := strings.TrimRight(publicBaseURL, "/")
	validator := client.NewRequestValidator(authToken)
	return func(c *gin.Context) {
		if err := c.Request.ParseForm(); err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid form"})
			return
		}

		got := c.GetHeader(headerTwilioSignature)
		params := make(map[string]string, len(c.Request.PostForm))
		for k := range c.Request.PostForm {
			params[k] = c.Request.PostForm.Get(k)
		}
		if got == "" || !validator.Validate(base+c.Request.URL.RequestURI(), params, got) {
			logger.FromGin(c).Warn("twilio signature rejected",
				zap.String("path", c.Request.URL.Path),
				zap.Bool("header_present", got != ""),
			)
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "invalid signature"})
			return
		}
		c.Next()
	}
}

package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
)

// errPushDisabled is returned when no VAPID key pair is configured, so no
// refund notices can be delivered.
var errPushDisabled = errors.New("push notifications are disabled")

type vapidResponse struct {
	PublicKey  string `json:"public_key"`
	TTLSeconds int    `json:"ttl_seconds"`
	// Subscribe is where the browser registers for refund notices.
	Subscribe string `json:"subscribe"`
}

// GetVAPIDPublicKey returns the application server key browsers need to
// subscribe to refund notices.
func (h *Handler) GetVAPIDPublicKey(c *gin.Context) {
	if h.webpush == nil || h.webpush.VAPIDPublicKey == "" {
		h.writeError(c, errPushDisabled)
		return
	}
	c.JSON(http.StatusOK, vapidResponse{
		PublicKey:  h.webpush.VAPIDPublicKey,
		TTLSeconds: h.webpush.TTL,
		Subscribe:  "/api/subscriptions",
	})
}

package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/markus7017/rachio-bridge/internal/bridge"
)

// GetBridges returns the health of every configured bridge.
func (h *Handler) GetBridges(c *gin.Context) {
	bridges := h.manager.Bridges()
	out := make([]bridge.Health, 0, len(bridges))
	for _, b := range bridges {
		out = append(out, b.Health())
	}
	c.JSON(http.StatusOK, out)
}

// GetBridge returns one bridge's health and account info.
func (h *Handler) GetBridge(c *gin.Context) {
	b := h.manager.ByName(c.Param("bridge"))
	if b == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "bridge not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"health":  b.Health(),
		"account": b.Account(),
	})
}

// lookupBridge resolves the :bridge path parameter, writing the error
// response itself when the bridge is unknown.
func (h *Handler) lookupBridge(c *gin.Context) *bridge.Bridge {
	b := h.manager.ByName(c.Param("bridge"))
	if b == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "bridge not found"})
	}
	return b
}

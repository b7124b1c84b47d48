package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
)

// GetEvents returns the newest persisted webhook events, optionally filtered
// by device id.
func (h *Handler) GetEvents(c *gin.Context) {
	limit, _ := strconv.Atoi(c.Query("limit"))
	recs, err := h.events.Recent(c.Query("device"), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, recs)
}

package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"locker-kiosk-backend/internal/locker"
)

type pickupRequest struct {
	Code string `json:"code" binding:"required"`
}

type pickupResponse struct {
	PickupID string              `json:"pickupId"`
	LockerID int                 `json:"lockerId"`
	Status   locker.PickupStatus `json:"status"`
	Error    string              `json:"error,omitempty"`
}

func newPickupResponse(p *locker.Pickup) pickupResponse {
	resp := pickupResponse{PickupID: p.ID, LockerID: p.LockerID, Status: p.Status()}
	if err := p.Err(); err != nil && p.Status() != locker.PickupCancelled {
		resp.Error = err.Error()
	}
	return resp
}

// CreatePickup handles POST /api/pickups. The door-close wait continues in
// the background; clients poll GET /api/pickups/:id.
func (h *Handler) CreatePickup(c *gin.Context) {
	var req pickupRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "code is required"})
		return
	}

	p, err := h.table.Redeem(c.Request.Context(), req.Code)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, newPickupResponse(p))
}

// GetPickup handles GET /api/pickups/:id.
func (h *Handler) GetPickup(c *gin.Context) {
	p, ok := h.table.Pickup(c.Param("id"))
	if !ok {
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "pickup not found"})
		return
	}
	c.JSON(http.StatusOK, newPickupResponse(p))
}

// CancelPickup handles DELETE /api/pickups/:id, sent when the kiosk screen
// is closed before the door is.
func (h *Handler) CancelPickup(c *gin.Context) {
	p, ok := h.table.Pickup(c.Param("id"))
	if !ok {
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "pickup not found"})
		return
	}
	p.Cancel()
	<-p.Done()
	c.JSON(http.StatusOK, newPickupResponse(p))
}

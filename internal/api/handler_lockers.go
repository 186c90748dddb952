package api

import (
	"net/http"
	"sort"
	"strconv"

	"github.com/gin-gonic/gin"

	"locker-kiosk-backend/internal/model"
)

func lockerID(c *gin.Context) (int, bool) {
	id, err := strconv.Atoi(c.Param("id"))
	if err != nil || id <= 0 {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "Invalid locker ID"})
		return 0, false
	}
	return id, true
}

// GetLockers handles GET /api/lockers.
func (h *Handler) GetLockers(c *gin.Context) {
	c.JSON(http.StatusOK, h.table.Snapshot())
}

// GetAvailableLockers handles GET /api/lockers/available.
func (h *Handler) GetAvailableLockers(c *gin.Context) {
	c.JSON(http.StatusOK, h.table.FindAvailable())
}

// Reconcile handles POST /api/admin/reconcile.
func (h *Handler) Reconcile(c *gin.Context) {
	result, err := h.table.Reconcile(c.Request.Context())
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

type reserveRequest struct {
	Contact string `json:"contact" binding:"required"`
}

// Reserve handles POST /api/admin/lockers/:id/reserve.
func (h *Handler) Reserve(c *gin.Context) {
	id, ok := lockerID(c)
	if !ok {
		return
	}
	var req reserveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "contact is required"})
		return
	}

	reservation, err := h.table.Reserve(c.Request.Context(), id, req.Contact)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, reservation)
}

// Release handles POST /api/admin/lockers/:id/release.
func (h *Handler) Release(c *gin.Context) {
	id, ok := lockerID(c)
	if !ok {
		return
	}
	if err := h.table.Release(c.Request.Context(), id); err != nil {
		h.writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// OpenLocker handles POST /api/admin/lockers/:id/open.
func (h *Handler) OpenLocker(c *gin.Context) {
	id, ok := lockerID(c)
	if !ok {
		return
	}
	if err := h.table.OpenForMaintenance(c.Request.Context(), id); err != nil {
		h.writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// GetRecords handles GET /api/admin/records, the export of software state.
func (h *Handler) GetRecords(c *gin.Context) {
	c.JSON(http.StatusOK, h.table.Records())
}

// PutRecords handles PUT /api/admin/records, replacing every record.
func (h *Handler) PutRecords(c *gin.Context) {
	var records []model.LockerRecord
	if err := c.ShouldBindJSON(&records); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "body must be an array of locker records"})
		return
	}
	if err := h.table.Import(c.Request.Context(), records); err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, h.table.Snapshot())
}

// GetHistory handles GET /api/admin/history?limit=N.
func (h *Handler) GetHistory(c *gin.Context) {
	limit := 100
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "Invalid limit"})
			return
		}
		limit = n
	}

	entries, err := h.store.ListHistory(c.Request.Context(), limit)
	if err != nil {
		h.writeError(c, err)
		return
	}
	if entries == nil {
		entries = []model.ReservationHistory{}
	}
	c.JSON(http.StatusOK, entries)
}

type channelStatus struct {
	Channel int                 `json:"channel"`
	Status  model.HardwareState `json:"status"`
}

// GetHardware handles GET /api/admin/hardware, a live controller snapshot
// that does not touch the table.
func (h *Handler) GetHardware(c *gin.Context) {
	statuses, err := h.hw.FetchAllStatuses(c.Request.Context())
	if err != nil {
		h.writeError(c, err)
		return
	}
	channels := make([]channelStatus, 0, len(statuses))
	for ch, state := range statuses {
		channels = append(channels, channelStatus{Channel: ch, Status: state})
	}
	sort.Slice(channels, func(i, j int) bool { return channels[i].Channel < channels[j].Channel })
	c.JSON(http.StatusOK, gin.H{"channels": channels})
}

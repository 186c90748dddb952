package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/SherClockHolmes/webpush-go"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"locker-kiosk-backend/config"
	"locker-kiosk-backend/internal/hardware"
	"locker-kiosk-backend/internal/locker"
	"locker-kiosk-backend/internal/logging"
	"locker-kiosk-backend/internal/model"
	"locker-kiosk-backend/internal/store"
)

// HardwareProbe reads the live controller state for diagnostics.
type HardwareProbe interface {
	FetchAllStatuses(ctx context.Context) (map[int]model.HardwareState, error)
}

// Handler holds shared dependencies for API handlers.
type Handler struct {
	table   *locker.Table
	store   store.Store
	hw      HardwareProbe
	webpush *webpush.Options
	admin   config.AdminConfig
	logger  zerolog.Logger
}

// NewHandler creates a new API handler.
func NewHandler(table *locker.Table, s store.Store, hw HardwareProbe, webpushOptions *webpush.Options, admin config.AdminConfig) *Handler {
	return &Handler{
		table:   table,
		store:   s,
		hw:      hw,
		webpush: webpushOptions,
		admin:   admin,
		logger:  logging.WithComponent("api"),
	}
}

// writeError maps domain errors onto HTTP statuses. Expected user errors
// are only logged at debug level.
func (h *Handler) writeError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, locker.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, locker.ErrAlreadyOccupied), errors.Is(err, locker.ErrPickupInProgress):
		status = http.StatusConflict
	case errors.Is(err, locker.ErrInvalidCode), errors.Is(err, locker.ErrInvalidContact), errors.Is(err, model.ErrInvalidRecord):
		status = http.StatusBadRequest
	case errors.Is(err, hardware.ErrCommandFailed), errors.Is(err, hardware.ErrUnreachable), errors.Is(err, hardware.ErrProtocol):
		status = http.StatusBadGateway
	case errors.Is(err, context.Canceled):
		status = http.StatusServiceUnavailable
	}

	if status >= http.StatusInternalServerError {
		h.logger.Error().Err(err).Str("path", c.FullPath()).Msg("request failed")
	} else {
		h.logger.Debug().Err(err).Str("path", c.FullPath()).Msg("request rejected")
	}

	message := err.Error()
	var cmdErr *hardware.CommandError
	if errors.As(err, &cmdErr) {
		message = cmdErr.Reason
	}
	c.AbortWithStatusJSON(status, gin.H{"error": message})
}

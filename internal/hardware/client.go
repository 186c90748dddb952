package hardware

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"locker-kiosk-backend/config"
	"locker-kiosk-backend/internal/logging"
	"locker-kiosk-backend/internal/metrics"
	"locker-kiosk-backend/internal/model"
)

// Client talks to the locker controller service over HTTP.
type Client struct {
	baseURL         string
	client          *http.Client
	pollInterval    time.Duration
	pollTimeout     time.Duration
	pollMaxAttempts int
	logger          zerolog.Logger
}

// NewClient creates a controller client from the hardware configuration.
func NewClient(cfg config.HardwareConfig) *Client {
	logger := logging.WithComponent("hardware")

	var transport http.RoundTripper = &http.Transport{}
	if cfg.HTTPProxy != "" {
		proxyURL, err := url.Parse(cfg.HTTPProxy)
		if err != nil {
			logger.Warn().Err(err).Str("proxy", cfg.HTTPProxy).Msg("invalid proxy URL, controller requests will not use a proxy")
		} else {
			transport = &http.Transport{Proxy: http.ProxyURL(proxyURL)}
		}
	}

	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	interval := cfg.PollInterval
	if interval <= 0 {
		interval = 2 * time.Second
	}

	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		client: &http.Client{
			Transport: transport,
			Timeout:   timeout,
		},
		pollInterval:    interval,
		pollTimeout:     cfg.PollTimeout,
		pollMaxAttempts: cfg.PollMaxAttempts,
		logger:          logger,
	}
}

// FetchAllStatuses returns the physical state of every channel the controller knows.
func (c *Client) FetchAllStatuses(ctx context.Context) (map[int]model.HardwareState, error) {
	timer := metrics.NewTimer()
	var resp AllStatusesResponse
	err := c.getJSON(ctx, "/check-all-statuses", &resp)
	if err == nil && !resp.Success {
		err = fmt.Errorf("%w: controller reported failure: %s", ErrProtocol, resp.Error)
	}

	var statuses map[int]model.HardwareState
	if err == nil {
		statuses = make(map[int]model.HardwareState, len(resp.Bays))
		for _, bay := range resp.Bays {
			state, ok := model.ParseHardwareState(bay.Status)
			if !ok {
				err = fmt.Errorf("%w: channel %d has unrecognised status %q", ErrProtocol, bay.Channel, bay.Status)
				break
			}
			if bay.Channel <= 0 {
				err = fmt.Errorf("%w: invalid channel %d", ErrProtocol, bay.Channel)
				break
			}
			statuses[bay.Channel] = state
		}
	}

	observe("check_all", timer, err)
	if err != nil {
		return nil, err
	}
	return statuses, nil
}

// CheckStatus returns the physical state of a single channel.
func (c *Client) CheckStatus(ctx context.Context, channel int) (model.HardwareState, error) {
	timer := metrics.NewTimer()
	var resp StatusResponse
	err := c.getJSON(ctx, fmt.Sprintf("/check-status/%d", channel), &resp)
	if err == nil && !resp.Success {
		err = fmt.Errorf("%w: controller reported failure for channel %d: %s", ErrProtocol, channel, resp.Error)
	}

	state := model.HardwareUnknown
	if err == nil {
		var ok bool
		if state, ok = model.ParseHardwareState(resp.Status); !ok {
			err = fmt.Errorf("%w: channel %d has unrecognised status %q", ErrProtocol, channel, resp.Status)
		}
	}

	observe("check_status", timer, err)
	if err != nil {
		return model.HardwareUnknown, err
	}
	return state, nil
}

// OpenLocker commands the controller to unlock a channel.
func (c *Client) OpenLocker(ctx context.Context, channel int) error {
	timer := metrics.NewTimer()
	err := c.openLocker(ctx, channel)
	observe("open", timer, err)
	if err != nil {
		c.logger.Warn().Err(err).Int("locker_id", channel).Msg("open command failed")
	}
	return err
}

func (c *Client) openLocker(ctx context.Context, channel int) error {
	body, err := json.Marshal(openRequest{LockerID: channel})
	if err != nil {
		return &CommandError{Channel: channel, Reason: "failed to marshal request", Err: err}
	}

	resp, err := c.post(ctx, "/open-locker", body)
	if err != nil {
		return &CommandError{Channel: channel, Reason: "controller unreachable", Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return &CommandError{Channel: channel, Reason: "failed to read response body", Err: fmt.Errorf("%w: %w", ErrUnreachable, err)}
	}

	var result CommandResponse
	decodeErr := json.Unmarshal(raw, &result)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		reason := result.Error
		if reason == "" {
			reason = fmt.Sprintf("controller returned status %d", resp.StatusCode)
		}
		return &CommandError{Channel: channel, Reason: reason, Err: fmt.Errorf("%w: status %d", ErrUnreachable, resp.StatusCode)}
	}
	if decodeErr != nil {
		return &CommandError{Channel: channel, Reason: "malformed controller response", Err: fmt.Errorf("%w: %w", ErrProtocol, decodeErr)}
	}
	if !result.Success {
		reason := result.Error
		if reason == "" {
			reason = "controller rejected the command"
		}
		return &CommandError{Channel: channel, Reason: reason}
	}
	return nil
}

// Log posts an audit line to the controller. Failures are ignored.
func (c *Client) Log(ctx context.Context, message string) {
	body, err := json.Marshal(logRequest{Message: message})
	if err != nil {
		return
	}
	resp, err := c.post(ctx, "/log", body)
	if err != nil {
		c.logger.Debug().Err(err).Msg("audit log not delivered")
		return
	}
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
}

// PollUntilLocked checks the channel every poll interval until the controller
// reports LOCKED. Transient errors are logged and retried. It returns
// ctx.Err() when the caller cancels and ErrPollTimeout when the configured
// attempt cap or timeout runs out.
func (c *Client) PollUntilLocked(ctx context.Context, channel int) error {
	parent := ctx
	if c.pollTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.pollTimeout)
		defer cancel()
	}

	logger := c.logger.With().Int("locker_id", channel).Logger()
	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()

	attempts := 0
	for {
		select {
		case <-ctx.Done():
			if err := parent.Err(); err != nil {
				return err
			}
			return fmt.Errorf("%w: locker %d after %s", ErrPollTimeout, channel, c.pollTimeout)
		case <-ticker.C:
			attempts++
			state, err := c.CheckStatus(ctx, channel)
			switch {
			case err != nil:
				logger.Warn().Err(err).Int("attempt", attempts).Msg("door status poll failed, retrying")
			case state == model.HardwareLocked:
				logger.Info().Int("attempts", attempts).Msg("door confirmed closed")
				return nil
			default:
				logger.Debug().Str("state", string(state)).Msg("door not locked yet")
			}
			if c.pollMaxAttempts > 0 && attempts >= c.pollMaxAttempts {
				return fmt.Errorf("%w: locker %d after %d attempts", ErrPollTimeout, channel, attempts)
			}
		}
	}
}

func (c *Client) getJSON(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("%w: failed to create request: %w", ErrUnreachable, err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: http request failed: %w", ErrUnreachable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("%w: received non-2xx status code: %d", ErrUnreachable, resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%w: failed to read response body: %w", ErrUnreachable, err)
	}

	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("%w: failed to unmarshal response: %w", ErrProtocol, err)
	}
	return nil
}

func (c *Client) post(ctx context.Context, path string, body []byte) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%w: failed to create request: %w", ErrUnreachable, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: http request failed: %w", ErrUnreachable, err)
	}
	return resp, nil
}

func observe(operation string, timer *metrics.Timer, err error) {
	timer.ObserveDuration(metrics.HardwareRequestDuration.WithLabelValues(operation))
	result := "ok"
	switch {
	case err == nil:
	case errors.Is(err, ErrProtocol):
		result = "protocol_error"
	case errors.Is(err, ErrUnreachable):
		result = "unreachable"
	default:
		result = "failed"
	}
	metrics.HardwareRequestsTotal.WithLabelValues(operation, result).Inc()
}

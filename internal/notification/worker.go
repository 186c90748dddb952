package notification

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/SherClockHolmes/webpush-go"
	"github.com/rs/zerolog"

	"locker-kiosk-backend/internal/logging"
	"locker-kiosk-backend/internal/metrics"
	"locker-kiosk-backend/internal/model"
)

// NotificationSender defines the interface for sending a web push notification.
type NotificationSender interface {
	Send(payload []byte, sub *webpush.Subscription, options *webpush.Options) (*http.Response, error)
}

// WebPushSender is a real implementation of NotificationSender using the webpush library.
type WebPushSender struct{}

// Send sends a notification using the webpush library.
func (s *WebPushSender) Send(payload []byte, sub *webpush.Subscription, options *webpush.Options) (*http.Response, error) {
	return webpush.SendNotification(payload, sub, options)
}

// SubscriptionStore is the subset of the record store used for delivery.
type SubscriptionStore interface {
	SubscriptionsForContact(ctx context.Context, contact string) ([]model.PushSubscription, error)
	DeleteSubscription(ctx context.Context, endpoint string) error
}

// Message is the JSON payload shown by the kiosk service worker.
type Message struct {
	Kind     string `json:"kind"`
	Title    string `json:"title"`
	Body     string `json:"body"`
	LockerID int    `json:"lockerId"`
	Code     string `json:"code,omitempty"`
}

const (
	KindPickupCode = "pickup_code"
	KindReceipt    = "receipt"
)

// Job is a queued receipt delivery.
type Job struct {
	Contact  string
	LockerID int
}

// WorkerPool delivers pickup codes synchronously and "package collected"
// receipts through a pool of workers.
type WorkerPool struct {
	size    int
	jobs    chan Job
	subs    SubscriptionStore
	webpush *webpush.Options
	sender  NotificationSender
	logger  zerolog.Logger
}

// NewWorkerPool creates a new worker pool. A nil webpushOptions disables
// delivery; every send then reports failure.
func NewWorkerPool(size int, subs SubscriptionStore, webpushOptions *webpush.Options) *WorkerPool {
	if size <= 0 {
		size = 1
	}
	return &WorkerPool{
		size:    size,
		jobs:    make(chan Job, size*16),
		subs:    subs,
		webpush: webpushOptions,
		sender:  &WebPushSender{}, // Use the real sender by default
		logger:  logging.WithComponent("notification"),
	}
}

// Start launches the worker goroutines.
func (wp *WorkerPool) Start(ctx context.Context) {
	for i := 0; i < wp.size; i++ {
		go wp.worker(ctx, i)
	}
}

func (wp *WorkerPool) worker(ctx context.Context, id int) {
	wp.logger.Debug().Int("worker", id).Msg("worker started")
	for {
		select {
		case job := <-wp.jobs:
			wp.sendReceipt(ctx, job)
		case <-ctx.Done():
			wp.logger.Debug().Int("worker", id).Msg("worker shutting down")
			return
		}
	}
}

// Dispatch queues a receipt. A full queue drops the job.
func (wp *WorkerPool) Dispatch(job Job) {
	select {
	case wp.jobs <- job:
	default:
		wp.logger.Warn().Int("locker_id", job.LockerID).Msg("receipt queue full, dropping receipt")
		metrics.NotificationsTotal.WithLabelValues(KindReceipt, "dropped").Inc()
	}
}

// DispatchReceipt queues a "package collected" message for contact.
func (wp *WorkerPool) DispatchReceipt(contact string, lockerID int) {
	if wp.webpush == nil {
		return
	}
	wp.Dispatch(Job{Contact: contact, LockerID: lockerID})
}

// Jobs returns the jobs channel for testing.
func (wp *WorkerPool) Jobs() chan Job {
	return wp.jobs
}

// SendPickupNotification pushes the pickup code to every subscription of
// contact and reports whether at least one was accepted.
func (wp *WorkerPool) SendPickupNotification(ctx context.Context, contact string, lockerID int, code string) bool {
	if wp.webpush == nil {
		metrics.NotificationsTotal.WithLabelValues(KindPickupCode, "disabled").Inc()
		return false
	}
	msg := Message{
		Kind:     KindPickupCode,
		Title:    "Your package is ready",
		Body:     fmt.Sprintf("Use code %s to open locker %d.", code, lockerID),
		LockerID: lockerID,
		Code:     code,
	}
	delivered := wp.sendToContact(ctx, contact, msg)
	result := "failed"
	if delivered > 0 {
		result = "delivered"
	}
	metrics.NotificationsTotal.WithLabelValues(KindPickupCode, result).Inc()
	return delivered > 0
}

func (wp *WorkerPool) sendReceipt(ctx context.Context, job Job) {
	msg := Message{
		Kind:     KindReceipt,
		Title:    "Package collected",
		Body:     fmt.Sprintf("Your package was collected from locker %d.", job.LockerID),
		LockerID: job.LockerID,
	}
	result := "failed"
	if wp.sendToContact(ctx, job.Contact, msg) > 0 {
		result = "delivered"
	}
	metrics.NotificationsTotal.WithLabelValues(KindReceipt, result).Inc()
}

// sendToContact returns how many subscriptions accepted the message.
func (wp *WorkerPool) sendToContact(ctx context.Context, contact string, msg Message) int {
	subscriptions, err := wp.subs.SubscriptionsForContact(ctx, contact)
	if err != nil {
		wp.logger.Error().Err(err).Msg("failed to fetch subscriptions")
		return 0
	}
	if len(subscriptions) == 0 {
		return 0
	}

	payload, err := json.Marshal(msg)
	if err != nil {
		wp.logger.Error().Err(err).Msg("failed to encode notification")
		return 0
	}

	delivered := 0
	for _, sub := range subscriptions {
		if wp.sendNotification(ctx, sub, payload) {
			delivered++
		}
	}
	wp.logger.Info().Str("kind", msg.Kind).Int("locker_id", msg.LockerID).
		Int("subscriptions", len(subscriptions)).Int("delivered", delivered).Msg("notification sent")
	return delivered
}

// sendNotification sends a single web push notification.
func (wp *WorkerPool) sendNotification(ctx context.Context, sub model.PushSubscription, payload []byte) bool {
	wpSub := &webpush.Subscription{
		Endpoint: sub.Endpoint,
		Keys: webpush.Keys{
			P256dh: sub.P256DH,
			Auth:   sub.Auth,
		},
	}

	resp, err := wp.sender.Send(payload, wpSub, wp.webpush)
	if err != nil {
		wp.logger.Warn().Err(err).Str("endpoint", sub.Endpoint).Msg("error sending notification")
		return false
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	// Handle expired subscriptions
	if resp.StatusCode == http.StatusGone || resp.StatusCode == http.StatusNotFound {
		wp.logger.Info().Str("endpoint", sub.Endpoint).Msg("subscription expired, deleting")
		if err := wp.subs.DeleteSubscription(ctx, sub.Endpoint); err != nil {
			wp.logger.Warn().Err(err).Str("endpoint", sub.Endpoint).Msg("failed to delete expired subscription")
		}
		return false
	}
	return resp.StatusCode >= 200 && resp.StatusCode < 300
}

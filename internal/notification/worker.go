package notification

import (
	"context"
	"net/http"

	"github.com/SherClockHolmes/webpush-go"

	"wasch-booking-backend/internal/model"
	"wasch-booking-backend/internal/store"
	"wasch-booking-backend/pkg/logging"
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

// Notice is one message for every push subscription of a user.
type Notice struct {
	Username string
	Message  string
}

// Notifier accepts notices for delivery.
type Notifier interface {
	Notify(n Notice)
}

// NopNotifier drops every notice. It is used when push is not configured.
type NopNotifier struct{}

func (NopNotifier) Notify(Notice) {}

// WorkerPool manages a pool of workers for sending notifications.
type WorkerPool struct {
	size    int
	jobs    chan Notice
	store   store.Store
	webpush *webpush.Options
	sender  NotificationSender
	log     *logging.Logger
}

// NewWorkerPool creates a new worker pool.
func NewWorkerPool(size int, s store.Store, webpushOptions *webpush.Options, logger *logging.Logger) *WorkerPool {
	if size <= 0 {
		size = 1
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &WorkerPool{
		size:    size,
		jobs:    make(chan Notice, size*16),
		store:   s,
		webpush: webpushOptions,
		sender:  &WebPushSender{},
		log:     logger,
	}
}

// Start launches the worker goroutines.
func (wp *WorkerPool) Start(ctx context.Context) {
	for i := 0; i < wp.size; i++ {
		go wp.worker(ctx, i)
	}
}

func (wp *WorkerPool) worker(ctx context.Context, id int) {
	wp.log.Debug("notification worker started", "worker", id)
	for {
		select {
		case n := <-wp.jobs:
			wp.sendNotificationsForUser(ctx, n)
		case <-ctx.Done():
			wp.log.Debug("notification worker shutting down", "worker", id)
			return
		}
	}
}

// Notify queues n without blocking. A full queue drops the notice.
func (wp *WorkerPool) Notify(n Notice) {
	select {
	case wp.jobs <- n:
	default:
		wp.log.Warn("notification queue full, dropping notice", "user", n.Username)
	}
}

// Jobs returns the jobs channel for testing.
func (wp *WorkerPool) Jobs() chan Notice {
	return wp.jobs
}

func (wp *WorkerPool) sendNotificationsForUser(ctx context.Context, n Notice) {
	subscriptions, err := wp.store.SubscriptionsFor(ctx, n.Username)
	if err != nil {
		wp.log.Error("failed to fetch subscriptions", "user", n.Username, "error", err)
		return
	}
	for _, sub := range subscriptions {
		wp.sendNotification(ctx, sub, []byte(n.Message))
	}
}

func (wp *WorkerPool) sendNotification(ctx context.Context, sub model.PushSubscription, payload []byte) {
	wpSub := &webpush.Subscription{
		Endpoint: sub.Endpoint,
		Keys: webpush.Keys{
			P256dh: sub.P256DH,
			Auth:   sub.Auth,
		},
	}

	resp, err := wp.sender.Send(payload, wpSub, wp.webpush)
	if err != nil {
		wp.log.Warn("failed to send notification", "endpoint", sub.Endpoint, "error", err)
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusGone {
		wp.log.Info("subscription expired, deleting", "endpoint", sub.Endpoint)
		if err := wp.store.DeleteSubscription(ctx, sub.Endpoint); err != nil {
			wp.log.Error("failed to delete expired subscription", "endpoint", sub.Endpoint, "error", err)
		}
	}
}

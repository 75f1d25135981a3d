package worker

import (
	"context"
	"errors"
	"sync"
	"time"

	"checkout-service/internal/models"
	"checkout-service/internal/util"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
)

var (
	ErrQueueFull   = errors.New("notification queue full")
	ErrQueueClosed = errors.New("notification queue closed")
)

const (
	defaultDrainTimeout = 30 * time.Second
	sendTimeout         = 10 * time.Second
)

// ConfirmationSender delivers one order confirmation.
type ConfirmationSender interface {
	SendOrderConfirmation(ctx context.Context, c models.OrderConfirmation) error
}

// NotificationWorker delivers queued order confirmations in the background,
// retrying each one with exponential backoff.
type NotificationWorker struct {
	sender      ConfirmationSender
	jobs        chan models.OrderConfirmation
	workers     int
	maxAttempts int

	mu      sync.RWMutex
	stopped bool

	newBackOff   func() backoff.BackOff
	drainTimeout time.Duration
	logger       *zap.Logger
}

// NewNotificationWorker creates a new notification worker
func NewNotificationWorker(sender ConfirmationSender, workers, queueSize, maxAttempts int) *NotificationWorker {
	if workers < 1 {
		workers = 1
	}
	if queueSize < 1 {
		queueSize = 1
	}
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	return &NotificationWorker{
		sender:       sender,
		jobs:         make(chan models.OrderConfirmation, queueSize),
		workers:      workers,
		maxAttempts:  maxAttempts,
		newBackOff:   defaultBackOff,
		drainTimeout: defaultDrainTimeout,
		logger:       util.GetLogger(),
	}
}

func defaultBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = time.Second
	b.MaxInterval = 30 * time.Second
	b.MaxElapsedTime = 5 * time.Minute
	return b
}

// Enqueue queues a confirmation without blocking.
func (w *NotificationWorker) Enqueue(c models.OrderConfirmation) error {
	w.mu.RLock()
	defer w.mu.RUnlock()

	if w.stopped {
		util.NotificationsDroppedTotal.WithLabelValues("closed").Inc()
		return ErrQueueClosed
	}

	select {
	case w.jobs <- c:
		return nil
	default:
		util.NotificationsDroppedTotal.WithLabelValues("full").Inc()
		return ErrQueueFull
	}
}

// Start runs the workers until ctx is cancelled, then stops accepting new
// confirmations and drains the queue. Start must be called once.
func (w *NotificationWorker) Start(ctx context.Context) error {
	w.logger.Info("Starting notification worker",
		zap.Int("workers", w.workers),
		zap.Int("queue_size", cap(w.jobs)),
		zap.Int("max_attempts", w.maxAttempts))

	// Deliveries outlive ctx so queued confirmations are sent during shutdown.
	sendCtx, cancelSends := context.WithCancel(context.WithoutCancel(ctx))
	defer cancelSends()

	var wg sync.WaitGroup
	for i := 0; i < w.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for c := range w.jobs {
				w.deliver(sendCtx, c)
			}
		}()
	}

	<-ctx.Done()
	w.stop()

	w.logger.Info("Stopping notification worker", zap.Int("pending", len(w.jobs)))

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	timer := time.NewTimer(w.drainTimeout)
	defer timer.Stop()

	select {
	case <-done:
	case <-timer.C:
		w.logger.Warn("Notification drain timed out, abandoning pending confirmations",
			zap.Int("pending", len(w.jobs)))
		cancelSends()
		<-done
	}

	return nil
}

func (w *NotificationWorker) stop() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.stopped {
		w.stopped = true
		close(w.jobs)
	}
}

func (w *NotificationWorker) deliver(ctx context.Context, c models.OrderConfirmation) {
	log := w.logger.With(zap.String("order_id", c.OrderID.String()))

	if ctx.Err() != nil {
		util.NotificationsFailedTotal.Inc()
		log.Error("Order confirmation abandoned at shutdown")
		return
	}

	attempts := 0
	send := func() error {
		attempts++
		util.NotificationAttemptsTotal.Inc()

		attemptCtx, cancel := context.WithTimeout(ctx, sendTimeout)
		defer cancel()

		start := time.Now()
		err := w.sender.SendOrderConfirmation(attemptCtx, c)
		util.NotificationSendLatency.Observe(time.Since(start).Seconds())
		return err
	}

	policy := backoff.WithContext(
		backoff.WithMaxRetries(w.newBackOff(), uint64(w.maxAttempts-1)),
		ctx,
	)

	err := backoff.RetryNotify(send, policy, func(err error, next time.Duration) {
		log.Warn("Order confirmation failed, retrying",
			zap.Int("attempt", attempts),
			zap.Duration("retry_in", next),
			zap.Error(err))
	})
	if err != nil {
		util.NotificationsFailedTotal.Inc()
		log.Error("Giving up on order confirmation",
			zap.Int("attempts", attempts),
			zap.Error(err))
		return
	}

	util.NotificationsSentTotal.Inc()
	log.Info("Order confirmation sent", zap.Int("attempts", attempts))
}

package notification

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/aed-compliance/platform/internal/shared/metrics"
)

// Service delivers notifications through a provider. Send queues work for
// the background workers; Deliver sends synchronously. Both retry failed
// attempts with exponential backoff.
type Service struct {
	provider Provider
	log      *zap.Logger

	mu    sync.RWMutex
	stats NotificationStats

	notifCh chan *Notification

	startMu sync.Mutex
	started bool
	stopCh  chan struct{}
	wg      sync.WaitGroup

	config ServiceConfig
}

// ServiceConfig holds service configuration
type ServiceConfig struct {
	Workers       int
	BufferSize    int
	RetryAttempts int
	RetryDelay    time.Duration
}

// DefaultServiceConfig returns default configuration
func DefaultServiceConfig() ServiceConfig {
	return ServiceConfig{
		Workers:       2,
		BufferSize:    256,
		RetryAttempts: 3,
		RetryDelay:    2 * time.Second,
	}
}

// NewService creates a new notification service
func NewService(provider Provider, log *zap.Logger, config ServiceConfig) *Service {
	if config.RetryAttempts < 1 {
		config.RetryAttempts = 1
	}
	if config.Workers < 1 {
		config.Workers = 1
	}
	return &Service{
		provider: provider,
		log:      log.Named("notification"),
		stats:    NotificationStats{ByTemplate: make(map[TemplateName]int64)},
		notifCh:  make(chan *Notification, config.BufferSize),
		stopCh:   make(chan struct{}),
		config:   config,
	}
}

// Start starts the background workers
func (s *Service) Start(ctx context.Context) error {
	s.startMu.Lock()
	defer s.startMu.Unlock()
	if s.started {
		return fmt.Errorf("service already started")
	}
	s.started = true

	for i := 0; i < s.config.Workers; i++ {
		s.wg.Add(1)
		go s.worker(ctx)
	}
	return nil
}

// Stop stops the workers after the notifications already queued are sent.
func (s *Service) Stop() {
	s.startMu.Lock()
	if !s.started {
		s.startMu.Unlock()
		return
	}
	s.started = false
	s.startMu.Unlock()

	close(s.stopCh)
	s.wg.Wait()
}

// Send queues a notification. Without running workers it is delivered
// synchronously.
func (s *Service) Send(ctx context.Context, n *Notification) error {
	prepare(n)

	// Stop flips started under startMu, so a queued notification is always
	// ahead of the drain.
	s.startMu.Lock()
	if !s.started {
		s.startMu.Unlock()
		return s.Deliver(ctx, n)
	}
	defer s.startMu.Unlock()

	select {
	case s.notifCh <- n:
		return nil
	default:
		return fmt.Errorf("notification buffer full")
	}
}

// Deliver sends n now, retrying up to the configured number of attempts.
func (s *Service) Deliver(ctx context.Context, n *Notification) error {
	prepare(n)

	delay := s.config.RetryDelay
	var err error
	for attempt := 1; attempt <= s.config.RetryAttempts; attempt++ {
		if err = s.provider.Send(ctx, n); err == nil {
			break
		}

		now := time.Now()
		n.RetryCount = attempt
		n.LastRetryAt = &now
		n.ErrorMessage = err.Error()
		s.log.Warn("notification attempt failed",
			zap.String("id", n.ID),
			zap.Int("attempt", attempt),
			zap.Error(err))

		if attempt == s.config.RetryAttempts {
			break
		}
		select {
		case <-ctx.Done():
			err = ctx.Err()
			attempt = s.config.RetryAttempts
		case <-time.After(delay):
			delay *= 2
		}
	}

	now := time.Now()
	n.UpdatedAt = now
	if err != nil {
		n.Status = StatusFailed
		s.record(n, false)
		return fmt.Errorf("deliver notification %s: %w", n.ID, err)
	}
	n.Status = StatusSent
	n.SentAt = &now
	s.record(n, true)
	return nil
}

func (s *Service) worker(ctx context.Context) {
	defer s.wg.Done()

	for {
		select {
		case n := <-s.notifCh:
			if err := s.Deliver(ctx, n); err != nil {
				s.log.Error("notification failed", zap.String("id", n.ID), zap.Error(err))
			}
		case <-s.stopCh:
			s.drain(ctx)
			return
		case <-ctx.Done():
			return
		}
	}
}

func (s *Service) drain(ctx context.Context) {
	for {
		select {
		case n := <-s.notifCh:
			if err := s.Deliver(ctx, n); err != nil {
				s.log.Error("notification failed", zap.String("id", n.ID), zap.Error(err))
			}
		default:
			return
		}
	}
}

func (s *Service) record(n *Notification, success bool) {
	metrics.RecordNotification(s.provider.Name(), success)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.stats.TotalSent++
	s.stats.ByTemplate[n.Template]++
	if success {
		s.stats.TotalDelivered++
	} else {
		s.stats.TotalFailed++
	}
	s.stats.DeliveryRate = float64(s.stats.TotalDelivered) / float64(s.stats.TotalSent)
}

// GetStats returns notification statistics
func (s *Service) GetStats() NotificationStats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := s.stats
	out.ByTemplate = make(map[TemplateName]int64, len(s.stats.ByTemplate))
	for k, v := range s.stats.ByTemplate {
		out.ByTemplate[k] = v
	}
	return out
}

// Notify renders a template and sends it to one recipient.
func (s *Service) Notify(ctx context.Context, name TemplateName, to Recipient, data any) error {
	n, err := Build(name, to, data)
	if err != nil {
		return err
	}
	return s.Send(ctx, n)
}

func prepare(n *Notification) {
	if n.ID == "" {
		n.ID = "ntf-" + uuid.NewString()
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now()
	}
	if n.Status == "" {
		n.Status = StatusPending
	}
}

package sweeper

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	allocationsapp "linkband-cloud/internal/allocations/application"
	allocations "linkband-cloud/internal/allocations/domain"
	"linkband-cloud/internal/notify"
	"linkband-cloud/internal/observability/metrics"
)

// Sweeper expires overdue rentals on a schedule and warns organizations
// about rentals approaching their end date.
type Sweeper struct {
	service  *allocationsapp.Service
	repo     allocations.Repository
	notifier notify.Notifier
	logger   *log.Logger
	cfg      Config
	clock    func() time.Time
}

// Option configures the sweeper.
type Option func(*Sweeper)

// WithNotifier attaches a notifier for expiry notices.
func WithNotifier(notifier notify.Notifier) Option {
	return func(s *Sweeper) { s.notifier = notifier }
}

// WithClock overrides the time source.
func WithClock(clock func() time.Time) Option {
	return func(s *Sweeper) {
		if clock != nil {
			s.clock = clock
		}
	}
}

// NewSweeper constructs a sweeper.
func NewSweeper(service *allocationsapp.Service, repo allocations.Repository, cfg Config, logger *log.Logger, opts ...Option) (*Sweeper, error) {
	if service == nil {
		return nil, errors.New("sweeper: nil allocation service")
	}
	if repo == nil {
		return nil, errors.New("sweeper: nil allocation repository")
	}
	if logger == nil {
		logger = log.Default()
	}
	s := &Sweeper{
		service: service,
		repo:    repo,
		logger:  logger,
		cfg:     cfg,
		clock:   func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Sweep runs one pass: expires overdue rentals, then sends expiry notices
// for rentals ending within the configured window.
func (s *Sweeper) Sweep(ctx context.Context) error {
	now := s.clock()

	expired, err := s.service.ExpireOverdue(ctx, now)
	if expired > 0 {
		metrics.AddSweeperExpirations(expired)
		s.logger.Printf("sweeper: expired %d overdue rentals", expired)
	}
	if err != nil {
		return fmt.Errorf("expire overdue rentals: %w", err)
	}

	if s.notifier == nil || s.cfg.ExpiryNoticeDays <= 0 {
		return nil
	}
	horizon := now.AddDate(0, 0, s.cfg.ExpiryNoticeDays)
	upcoming, err := s.repo.ListOverdueRentals(ctx, horizon)
	if err != nil {
		return fmt.Errorf("list expiring rentals: %w", err)
	}
	for _, allocation := range upcoming {
		if !allocation.RentalEndDate.After(now) {
			// Already past due, handled by the expiry pass above.
			continue
		}
		daysLeft := int(allocation.RentalEndDate.Sub(now).Hours() / 24)
		s.notifier.Notify(ctx, notify.DeviceNotification{
			Type:           notify.TypeRentalExpiring,
			Priority:       notify.PriorityMedium,
			OrganizationID: allocation.OrganizationID,
			DeviceID:       allocation.DeviceID,
			Title:          "Rental ending soon",
			Message: fmt.Sprintf("Rental %s for device %s ends on %s (%d days left)",
				allocation.ID, allocation.DeviceID, allocation.RentalEndDate.Format("2006-01-02"), daysLeft),
			OccurredAt: now,
		})
	}
	return nil
}

// Run sweeps on the configured interval until the context is cancelled.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.Sweep(ctx); err != nil {
				s.logger.Printf("sweeper: %v", err)
			}
		}
	}
}

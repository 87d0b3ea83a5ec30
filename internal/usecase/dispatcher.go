package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/samber/lo"

	"BreachWatch/internal/domain"
	"BreachWatch/internal/metrics"
	"BreachWatch/internal/ports"
)

// Dispatcher delivers breach alerts through the outbox formed by unsent breach records.
// Delivery failures are logged and never returned; the records stay unsent and the
// next recovery pass picks them up.
type Dispatcher struct {
	breaches ports.BreachRepository
	notifier ports.Notifier
	secrets  ports.SecretStore
	now      func() time.Time
	logger   *slog.Logger
}

func NewDispatcher(breaches ports.BreachRepository, notifier ports.Notifier, secrets ports.SecretStore, now func() time.Time, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{
		breaches: breaches,
		notifier: notifier,
		secrets:  secrets,
		now:      now,
		logger:   logger.With("component", "dispatcher"),
	}
}

// DeliverPending sends one alert covering every pending breach of address and stamps
// them as sent. It reports whether the breaches left the outbox.
func (d *Dispatcher) DeliverPending(ctx context.Context, address string, pending []domain.BreachRecord) bool {
	if len(pending) == 0 {
		return true
	}
	logger := d.logger.With("email", address, "breaches", len(pending))

	to, err := d.recipient(ctx)
	if err != nil {
		logger.Warn("breach alert not sent", "error", err)
		return false
	}

	err = d.notifier.SendBreachAlert(ctx, domain.BreachAlert{To: to, Address: address, Breaches: pending})
	if err != nil {
		logger.Warn("breach alert not sent, will retry next run", "error", err)
		return false
	}

	ids := lo.Map(pending, func(b domain.BreachRecord, _ int) string { return b.ID })
	if err := d.breaches.MarkBreachesSent(ctx, ids, d.now()); err != nil {
		logger.Error("breach alert sent but not recorded, it may be sent again", "error", err)
		return false
	}
	logger.Info("breach alert sent")
	return true
}

// DeliverSummary sends the end-of-run report when the run found something worth
// reporting. It reports whether a message went out.
func (d *Dispatcher) DeliverSummary(ctx context.Context, scanned, newBreaches int, errs []string) bool {
	if newBreaches == 0 && len(errs) == 0 {
		return false
	}

	to, err := d.recipient(ctx)
	if err != nil {
		d.logger.Warn("scan summary not sent", "error", err)
		return false
	}

	err = d.notifier.SendScanSummary(ctx, domain.ScanSummary{
		To:            to,
		EmailsScanned: scanned,
		NewBreaches:   newBreaches,
		Errors:        errs,
	})
	if err != nil {
		d.logger.Warn("scan summary not sent", "error", err)
		return false
	}
	return true
}

// RecoverAllPending retries every owed alert, one message per address. The returned
// count is the number of breaches attempted; only the outbox query can fail.
func (d *Dispatcher) RecoverAllPending(ctx context.Context) (int, error) {
	pending, err := d.breaches.ListUnsentBreaches(ctx)
	if err != nil {
		return 0, fmt.Errorf("list unsent breaches: %w", err)
	}
	metrics.PendingAlerts.Set(float64(len(pending)))
	if len(pending) == 0 {
		return 0, nil
	}

	groups := GroupPending(pending)
	d.logger.Info("retrying pending breach alerts", "breaches", len(pending), "addresses", len(groups))

	remaining := len(pending)
	for _, group := range groups {
		if err := ctx.Err(); err != nil {
			return len(pending), err
		}
		if d.DeliverPending(ctx, group.Address, group.Breaches) {
			remaining -= len(group.Breaches)
		}
	}
	metrics.PendingAlerts.Set(float64(remaining))
	return len(pending), nil
}

func (d *Dispatcher) recipient(ctx context.Context) (string, error) {
	to, err := d.secrets.NotificationEmail(ctx)
	if err != nil {
		return "", fmt.Errorf("load notification email: %w", err)
	}
	if to == "" {
		return "", domain.ErrMissingRecipient
	}
	return to, nil
}

// GroupPending groups unsent breaches by address, keeping the order in which
// addresses first appear.
func GroupPending(pending []domain.PendingBreach) []domain.PendingGroup {
	byAddress := lo.GroupBy(pending, func(p domain.PendingBreach) string { return p.Address })
	addresses := lo.Uniq(lo.Map(pending, func(p domain.PendingBreach, _ int) string { return p.Address }))

	return lo.Map(addresses, func(address string, _ int) domain.PendingGroup {
		return domain.PendingGroup{
			Address: address,
			Breaches: lo.Map(byAddress[address], func(p domain.PendingBreach, _ int) domain.BreachRecord {
				return p.BreachRecord
			}),
		}
	})
}

package shared

import (
	"context"
	"errors"
)

// ChangeNotifier is told when a tenant's ledger data changed so derived views
// can be refreshed.
type ChangeNotifier interface {
	LedgerChanged(ctx context.Context, tenantID int64) error
}

// NopNotifier ignores change notifications.
type NopNotifier struct{}

// LedgerChanged implements ChangeNotifier.
func (NopNotifier) LedgerChanged(context.Context, int64) error { return nil }

// Notifiers fans a change out to every notifier, joining their errors.
type Notifiers []ChangeNotifier

// LedgerChanged implements ChangeNotifier.
func (n Notifiers) LedgerChanged(ctx context.Context, tenantID int64) error {
	var errs []error
	for _, notifier := range n {
		if notifier == nil {
			continue
		}
		if err := notifier.LedgerChanged(ctx, tenantID); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

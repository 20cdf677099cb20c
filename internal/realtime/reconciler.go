package realtime

import (
	"context"
	"fmt"
	"log/slog"
)

// ReadConfirmer is the server side of read-state mutations.
type ReadConfirmer interface {
	MarkRead(ctx context.Context, id string) error
	MarkAllRead(ctx context.Context) error
}

// Reconciler applies read-state changes optimistically and undoes them when
// the server does not confirm. Nothing is retried automatically.
type Reconciler struct {
	ledger *Ledger
	api    ReadConfirmer
	logger *slog.Logger
}

func NewReconciler(ledger *Ledger, api ReadConfirmer, logger *slog.Logger) *Reconciler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Reconciler{ledger: ledger, api: api, logger: logger}
}

// markCommand is one optimistic mutation: the local change already applied
// and the call that confirms it.
type markCommand struct {
	ledger  *Ledger
	change  readChange
	confirm func(ctx context.Context) error
}

func (m markCommand) execute(ctx context.Context) error {
	if err := m.confirm(ctx); err != nil {
		m.ledger.revert(m.change)
		return err
	}
	return nil
}

// MarkRead marks one notification read. Marking an entry that is already
// read is a no-op and issues no call.
func (r *Reconciler) MarkRead(ctx context.Context, id string) error {
	change, changed, err := r.ledger.markReadLocal(id)
	if err != nil {
		return err
	}
	if !changed {
		return nil
	}

	cmd := markCommand{
		ledger: r.ledger,
		change: change,
		confirm: func(ctx context.Context) error {
			return r.api.MarkRead(ctx, id)
		},
	}
	if err := cmd.execute(ctx); err != nil {
		r.logger.Warn("mark read rolled back", "id", id, "error", err)
		return fmt.Errorf("mark %s read: %w", id, err)
	}
	return nil
}

// MarkAllRead marks the whole role scope read on the server. The local flip
// only covers what is loaded; the next fetch brings the rest in line.
func (r *Reconciler) MarkAllRead(ctx context.Context) error {
	cmd := markCommand{
		ledger:  r.ledger,
		change:  r.ledger.markAllReadLocal(),
		confirm: r.api.MarkAllRead,
	}
	if err := cmd.execute(ctx); err != nil {
		r.logger.Warn("mark all read rolled back", "entries", len(cmd.change.ids), "error", err)
		return fmt.Errorf("mark all read: %w", err)
	}
	return nil
}

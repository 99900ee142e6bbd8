package commission

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/kalanatw/growaloe-crm/internal/shared"
)

// RepositoryPort abstracts repository usage for service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	Get(ctx context.Context, id int64) (Commission, error)
	Dashboard(ctx context.Context) ([]SalesmanTotals, error)
}

// AuditPort abstracts audit logging functionality.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Service manages commission payouts.
type Service struct {
	repo   RepositoryPort
	audit  AuditPort
	logger *slog.Logger
	now    func() time.Time
}

// NewService builds Service.
func NewService(repo RepositoryPort, audit AuditPort, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, audit: audit, logger: logger, now: time.Now}
}

// Get returns a commission.
func (s *Service) Get(ctx context.Context, id int64) (Commission, error) {
	return s.repo.Get(ctx, id)
}

// GetDashboard returns pending/paid totals overall and per salesman.
func (s *Service) GetDashboard(ctx context.Context) (Dashboard, error) {
	rows, err := s.repo.Dashboard(ctx)
	if err != nil {
		return Dashboard{}, fmt.Errorf("commission dashboard: %w", err)
	}
	dash := Dashboard{PendingTotal: decimal.Zero, PaidTotal: decimal.Zero, PerSalesman: rows}
	if dash.PerSalesman == nil {
		dash.PerSalesman = []SalesmanTotals{}
	}
	for _, r := range rows {
		dash.PendingTotal = dash.PendingTotal.Add(r.PendingTotal)
		dash.PaidTotal = dash.PaidTotal.Add(r.PaidTotal)
	}
	return dash, nil
}

// MarkPending moves a calculated commission into the approval queue.
func (s *Service) MarkPending(ctx context.Context, id, actorID int64) (Commission, error) {
	return s.transition(ctx, id, actorID, "commission:pending", func(c *Commission) error {
		if c.Status != StatusCalculated {
			return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, c.Status, StatusPending)
		}
		c.Status = StatusPending
		return nil
	})
}

// MarkPaid records the payout. Paid commissions no longer follow invoice edits.
func (s *Service) MarkPaid(ctx context.Context, input PayInput) (Commission, error) {
	if strings.TrimSpace(input.PaymentReference) == "" {
		return Commission{}, shared.NewValidationError("payment_reference", "is required")
	}
	paidAt := input.PaidAt
	if paidAt.IsZero() {
		paidAt = s.now().UTC()
	}
	return s.transition(ctx, input.CommissionID, input.ActorID, "commission:paid", func(c *Commission) error {
		if !c.Status.Recomputable() {
			return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, c.Status, StatusPaid)
		}
		c.Status = StatusPaid
		c.PaidAt = &paidAt
		c.PaymentReference = input.PaymentReference
		return nil
	})
}

// Cancel voids an unpaid commission.
func (s *Service) Cancel(ctx context.Context, id, actorID int64, reason string) (Commission, error) {
	return s.transition(ctx, id, actorID, "commission:cancel", func(c *Commission) error {
		if !c.Status.Recomputable() {
			return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, c.Status, StatusCancelled)
		}
		c.Status = StatusCancelled
		c.Note = reason
		return nil
	})
}

// Reverse is the administrative correction for a paid commission.
func (s *Service) Reverse(ctx context.Context, id, actorID int64, reason string) (Commission, error) {
	if strings.TrimSpace(reason) == "" {
		return Commission{}, shared.NewValidationError("reason", "is required for a reversal")
	}
	return s.transition(ctx, id, actorID, "commission:reverse", func(c *Commission) error {
		if c.Status != StatusPaid {
			return fmt.Errorf("%w: only paid commissions can be reversed, got %s", ErrInvalidTransition, c.Status)
		}
		c.Status = StatusCancelled
		c.Note = reason
		return nil
	})
}

func (s *Service) transition(ctx context.Context, id, actorID int64, action string, apply func(*Commission) error) (Commission, error) {
	if id <= 0 {
		return Commission{}, shared.NewValidationError("commission_id", "must be positive")
	}
	var out Commission
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		c, err := tx.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		from := c.Status
		if err := apply(&c); err != nil {
			return err
		}
		if err := tx.Update(ctx, c); err != nil {
			return err
		}
		s.logger.Info("commission status changed", slog.Int64("commission_id", id), slog.String("from", string(from)), slog.String("to", string(c.Status)))
		out = c
		return nil
	})
	if err != nil {
		return Commission{}, err
	}
	if s.audit != nil {
		if err := s.audit.Record(ctx, shared.AuditLog{
			ActorID:  actorID,
			Action:   action,
			Entity:   "commission",
			EntityID: fmt.Sprintf("%d", id),
			Meta:     map[string]any{"status": out.Status, "amount": out.Amount.String()},
		}); err != nil {
			s.logger.Warn("audit record failed", slog.String("action", action), slog.Any("error", err))
		}
	}
	return out, nil
}

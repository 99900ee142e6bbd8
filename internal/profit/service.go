package profit

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/singleflight"

	"github.com/kalanatw/growaloe-crm/internal/shared"
)

// RepositoryPort abstracts persistence for the profit service.
type RepositoryPort interface {
	LoadInputs(ctx context.Context, w Window) (Inputs, error)
	UpsertSummary(ctx context.Context, s Summary) error
	InsertTransaction(ctx context.Context, t Transaction) (int64, error)
	ListTransactions(ctx context.Context, w Window) ([]Transaction, error)
}

// Service computes and caches profit summaries.
type Service struct {
	repo   RepositoryPort
	cache  *Cache
	policy Policy
	logger *slog.Logger
	builds singleflight.Group
	now    func() time.Time
}

// NewService wires a repository with the cache helper. cache may be nil.
func NewService(repo RepositoryPort, cache *Cache, policy Policy, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, cache: cache, policy: policy, logger: logger, now: time.Now}
}

// SummaryRequest selects the window to summarise.
type SummaryRequest struct {
	Start      time.Time
	End        time.Time
	PeriodType PeriodType
	// Refresh skips the cache and rebuilds the stored summary.
	Refresh bool
}

func (r SummaryRequest) window() (Window, error) {
	if r.PeriodType == "" {
		return Window{}, shared.NewValidationError("period_type", "is required")
	}
	if !r.PeriodType.IsValid() {
		return Window{}, shared.NewValidationError("period_type", "unknown period %q", r.PeriodType)
	}
	w := Window{Start: dateOnly(r.Start), End: dateOnly(r.End)}
	return w, w.validate()
}

// GetSummary returns the summary for the window, served from the cache when
// possible. A rebuild also upserts the profit_summaries row.
func (s *Service) GetSummary(ctx context.Context, req SummaryRequest) (Summary, error) {
	w, err := req.window()
	if err != nil {
		return Summary{}, err
	}
	key, err := s.cache.BuildKey(ctx, keySummary(req.PeriodType, w))
	if err != nil {
		s.logger.Warn("profit cache unavailable", slog.Any("error", err))
		return s.buildSummary(ctx, req.PeriodType, w)
	}
	loader := func(ctx context.Context) (any, error) {
		return s.singleBuild(ctx, key, func(ctx context.Context) (any, error) {
			return s.buildSummary(ctx, req.PeriodType, w)
		})
	}
	var summary Summary
	if req.Refresh {
		value, err := loader(ctx)
		if err != nil {
			return Summary{}, err
		}
		err = s.cache.Store(ctx, key, value, &summary)
		return summary, err
	}
	if err := s.cache.FetchJSON(ctx, key, &summary, loader); err != nil {
		return Summary{}, err
	}
	return summary, nil
}

func (s *Service) buildSummary(ctx context.Context, period PeriodType, w Window) (Summary, error) {
	in, err := s.repo.LoadInputs(ctx, w)
	if err != nil {
		return Summary{}, fmt.Errorf("load profit inputs: %w", err)
	}
	in.Window = w
	summary := Compute(in, s.policy)
	summary.PeriodType = period
	summary.GeneratedAt = s.now().UTC()
	if err := s.repo.UpsertSummary(ctx, summary); err != nil {
		return Summary{}, fmt.Errorf("store profit summary: %w", err)
	}
	s.logger.Info("profit summary built",
		slog.String("period_type", string(period)),
		slog.String("start", w.Start.Format(time.DateOnly)),
		slog.String("end", w.End.Format(time.DateOnly)),
		slog.String("realized", summary.RealizedProfit.String()),
	)
	return summary, nil
}

// RiskAdjusted returns the safe-to-spend view for the window.
func (s *Service) RiskAdjusted(ctx context.Context, start, end time.Time) (RiskReport, error) {
	w := Window{Start: dateOnly(start), End: dateOnly(end)}
	if err := w.validate(); err != nil {
		return RiskReport{}, err
	}
	key, err := s.cache.BuildKey(ctx, keyRisk(w))
	if err != nil {
		return RiskReport{}, err
	}
	var report RiskReport
	err = s.cache.FetchJSON(ctx, key, &report, func(ctx context.Context) (any, error) {
		return s.singleBuild(ctx, key, func(ctx context.Context) (any, error) {
			in, err := s.repo.LoadInputs(ctx, w)
			if err != nil {
				return nil, err
			}
			in.Window = w
			return RiskAdjust(in, s.policy), nil
		})
	})
	return report, err
}

// TransactionInput records manual income or expense.
type TransactionInput struct {
	Type        TransactionType
	Category    string
	Amount      decimal.Decimal
	Date        time.Time
	Description string
	ActorID     int64
}

// RecordTransaction stores a manual entry and invalidates cached summaries.
func (s *Service) RecordTransaction(ctx context.Context, input TransactionInput) (Transaction, error) {
	if input.Type != TransactionIncome && input.Type != TransactionExpense {
		return Transaction{}, shared.NewValidationError("transaction_type", "must be income or expense")
	}
	if !input.Amount.IsPositive() {
		return Transaction{}, shared.NewValidationError("amount", "must be positive")
	}
	if strings.TrimSpace(input.Category) == "" {
		return Transaction{}, shared.NewValidationError("category", "is required")
	}
	date := input.Date
	if date.IsZero() {
		date = s.now()
	}
	t := Transaction{
		Type:        input.Type,
		Category:    strings.TrimSpace(input.Category),
		Amount:      input.Amount,
		Date:        dateOnly(date),
		Description: input.Description,
		CreatedBy:   input.ActorID,
	}
	id, err := s.repo.InsertTransaction(ctx, t)
	if err != nil {
		return Transaction{}, err
	}
	t.ID = id
	s.Invalidate(ctx)
	return t, nil
}

// ListTransactions returns manual entries dated inside the window.
func (s *Service) ListTransactions(ctx context.Context, start, end time.Time) ([]Transaction, error) {
	w := Window{Start: dateOnly(start), End: dateOnly(end)}
	if err := w.validate(); err != nil {
		return nil, err
	}
	return s.repo.ListTransactions(ctx, w)
}

// Invalidate drops cached summaries after ledger data changed. Failures are
// logged; the TTL bounds staleness.
func (s *Service) Invalidate(ctx context.Context) {
	if err := s.cache.Bump(ctx); err != nil {
		s.logger.Warn("profit cache bump failed", slog.Any("error", err))
	}
}

// singleBuild collapses concurrent builds of the same key into one.
func (s *Service) singleBuild(ctx context.Context, key string, fn func(context.Context) (any, error)) (any, error) {
	ch := s.builds.DoChan(key, func() (any, error) {
		return fn(context.WithoutCancel(ctx))
	})
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		return res.Val, res.Err
	}
}

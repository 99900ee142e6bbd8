package ledger

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/kalanatw/growaloe-crm/internal/commission"
	"github.com/kalanatw/growaloe-crm/internal/shared"
)

// RepositoryPort abstracts persistence for the ledger service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	ListMovements(ctx context.Context, filter MovementFilter) ([]StockMovement, error)
	ListOpenAssignments(ctx context.Context, salesmanID int64) ([]Assignment, error)
	GetAssignment(ctx context.Context, id int64) (Assignment, error)
	GetInvoice(ctx context.Context, id int64) (Invoice, error)
	GetSettlement(ctx context.Context, id int64) (SettlementRecord, error)
}

// AuditPort abstracts audit logging functionality.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Locker serialises critical sections across processes.
type Locker interface {
	Lock(ctx context.Context, key string) (func(context.Context) error, error)
}

// Valuation selects the unit value used for settlement totals.
type Valuation string

const (
	ValuationBatchCost Valuation = "batch_cost"
	ValuationBasePrice Valuation = "base_price"
)

// Observer counts ledger operations by outcome.
type Observer interface {
	ObserveOperation(operation string, err error)
}

// ServiceConfig groups optional settings.
type ServiceConfig struct {
	Commission commission.Policy
	Valuation  Valuation
	Observer   Observer
}

// Service coordinates the batch/assignment ledger.
type Service struct {
	repo       RepositoryPort
	audit      AuditPort
	locker     Locker
	logger     *slog.Logger
	commission commission.Policy
	valuation  Valuation
	observer   Observer
	now        func() time.Time
}

// NewService builds Service. locker may be nil when Redis is not configured.
func NewService(repo RepositoryPort, audit AuditPort, locker Locker, logger *slog.Logger, cfg ServiceConfig) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Valuation == "" {
		cfg.Valuation = ValuationBatchCost
	}
	if cfg.Commission.InvoiceBasis == "" {
		cfg.Commission = commission.DefaultPolicy()
	}
	return &Service{
		repo:       repo,
		audit:      audit,
		locker:     locker,
		logger:     logger,
		commission: cfg.Commission,
		valuation:  cfg.Valuation,
		observer:   cfg.Observer,
		now:        time.Now,
	}
}

// RegisterBatchInput describes a freshly produced lot.
type RegisterBatchInput struct {
	ProductID         int64
	BatchNumber       string
	ManufacturingDate time.Time
	ExpiryDate        time.Time
	Quantity          decimal.Decimal
	UnitCost          decimal.Decimal
	ActorID           int64
}

// RegisterBatch records a production lot and its purchase movement.
func (s *Service) RegisterBatch(ctx context.Context, input RegisterBatchInput) (Batch, error) {
	if input.ProductID <= 0 {
		return Batch{}, shared.NewValidationError("product_id", "is required")
	}
	if strings.TrimSpace(input.BatchNumber) == "" {
		return Batch{}, shared.NewValidationError("batch_number", "is required")
	}
	if !input.Quantity.IsPositive() {
		return Batch{}, shared.NewValidationError("quantity", "must be positive")
	}
	if input.UnitCost.IsNegative() {
		return Batch{}, shared.NewValidationError("unit_cost", "must be >= 0")
	}
	if input.ExpiryDate.IsZero() || input.ManufacturingDate.IsZero() {
		return Batch{}, shared.NewValidationError("expiry_date", "manufacturing and expiry dates are required")
	}
	if !startOfDay(input.ExpiryDate).After(startOfDay(input.ManufacturingDate)) {
		return Batch{}, shared.NewValidationError("expiry_date", "must be after manufacturing date")
	}
	batch := Batch{
		ProductID:         input.ProductID,
		BatchNumber:       strings.TrimSpace(input.BatchNumber),
		ManufacturingDate: input.ManufacturingDate,
		ExpiryDate:        input.ExpiryDate,
		InitialQuantity:   input.Quantity,
		CurrentQuantity:   input.Quantity,
		UnitCost:          input.UnitCost,
		IsActive:          true,
	}
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		id, err := tx.InsertBatch(ctx, batch)
		if err != nil {
			return err
		}
		batch.ID = id
		_, err = tx.InsertMovement(ctx, StockMovement{
			ProductID:     batch.ProductID,
			BatchID:       id,
			Type:          MovementPurchase,
			Pool:          PoolOwner,
			QuantityDelta: batch.InitialQuantity,
			Reference:     batch.BatchNumber,
			ActorID:       input.ActorID,
		})
		return err
	})
	s.observe("register_batch", err)
	if err != nil {
		return Batch{}, err
	}
	s.record(ctx, input.ActorID, "ledger:batch_registered", "batch", batch.ID, map[string]any{"quantity": batch.InitialQuantity.String()})
	return batch, nil
}

// AdjustBatchInput corrects the owner-held quantity of a batch.
type AdjustBatchInput struct {
	BatchID int64
	Delta   decimal.Decimal
	Type    MovementType
	Note    string
	ActorID int64
}

// AdjustBatch applies an adjustment or damage write-off to a batch.
func (s *Service) AdjustBatch(ctx context.Context, input AdjustBatchInput) (Batch, error) {
	if input.Type != MovementAdjustment && input.Type != MovementDamage {
		return Batch{}, shared.NewValidationError("type", "must be adjustment or damage")
	}
	if input.Delta.IsZero() {
		return Batch{}, shared.NewValidationError("delta", "must be non zero")
	}
	if input.Type == MovementDamage && input.Delta.IsPositive() {
		return Batch{}, shared.NewValidationError("delta", "damage must reduce stock")
	}
	var out Batch
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		batch, err := tx.GetBatchForUpdate(ctx, input.BatchID)
		if err != nil {
			return err
		}
		batch.CurrentQuantity = batch.CurrentQuantity.Add(input.Delta)
		if err := batch.validate(); err != nil {
			return err
		}
		if err := tx.UpdateBatch(ctx, batch); err != nil {
			return err
		}
		if _, err := tx.InsertMovement(ctx, StockMovement{
			ProductID:     batch.ProductID,
			BatchID:       batch.ID,
			Type:          input.Type,
			Pool:          PoolOwner,
			QuantityDelta: input.Delta,
			Reference:     batch.BatchNumber,
			Note:          input.Note,
			ActorID:       input.ActorID,
		}); err != nil {
			return err
		}
		out = batch
		return nil
	})
	s.observe("adjust_batch", err)
	if err != nil {
		return Batch{}, err
	}
	return out, nil
}

// DeactivateBatch recalls a batch; its assignments stop being sellable.
func (s *Service) DeactivateBatch(ctx context.Context, batchID, actorID int64) (Batch, error) {
	var out Batch
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		batch, err := tx.GetBatchForUpdate(ctx, batchID)
		if err != nil {
			return err
		}
		batch.IsActive = false
		if err := tx.UpdateBatch(ctx, batch); err != nil {
			return err
		}
		out = batch
		return nil
	})
	if err != nil {
		return Batch{}, err
	}
	s.record(ctx, actorID, "ledger:batch_deactivated", "batch", batchID, nil)
	return out, nil
}

// AllocateInput hands part of a batch to a salesman.
type AllocateInput struct {
	BatchID    int64
	SalesmanID int64
	Quantity   decimal.Decimal
	ActorID    int64
}

// Allocate creates a pending assignment and takes the quantity out of the
// owner's batch remainder.
func (s *Service) Allocate(ctx context.Context, input AllocateInput) (Assignment, error) {
	if input.BatchID <= 0 || input.SalesmanID <= 0 {
		return Assignment{}, shared.NewValidationError("batch_id", "batch and salesman are required")
	}
	if !input.Quantity.IsPositive() {
		return Assignment{}, shared.NewValidationError("quantity", "must be positive")
	}
	var out Assignment
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		batch, err := tx.GetBatchForUpdate(ctx, input.BatchID)
		if err != nil {
			return err
		}
		if !batch.IsActive {
			return fmt.Errorf("%w: batch %d is inactive", ErrInvalidState, batch.ID)
		}
		if batch.CurrentQuantity.LessThan(input.Quantity) {
			return &InsufficientStockError{ProductID: batch.ProductID, Available: batch.CurrentQuantity, Requested: input.Quantity}
		}
		batch.CurrentQuantity = batch.CurrentQuantity.Sub(input.Quantity)
		if err := batch.validate(); err != nil {
			return err
		}
		if err := tx.UpdateBatch(ctx, batch); err != nil {
			return err
		}
		a := Assignment{
			BatchID:           batch.ID,
			SalesmanID:        input.SalesmanID,
			ProductID:         batch.ProductID,
			DeliveredQuantity: input.Quantity,
			SoldQuantity:      decimal.Zero,
			ReturnedQuantity:  decimal.Zero,
			Status:            AssignmentPending,
			BatchNumber:       batch.BatchNumber,
			ExpiryDate:        batch.ExpiryDate,
			ManufacturingDate: batch.ManufacturingDate,
			BatchActive:       batch.IsActive,
			UnitCost:          batch.UnitCost,
		}
		id, err := tx.InsertAssignment(ctx, a)
		if err != nil {
			return err
		}
		a.ID = id
		if _, err := tx.InsertMovement(ctx, StockMovement{
			ProductID:     batch.ProductID,
			BatchID:       batch.ID,
			AssignmentID:  id,
			SalesmanID:    input.SalesmanID,
			Type:          MovementAllocation,
			Pool:          PoolOwner,
			QuantityDelta: input.Quantity.Neg(),
			Reference:     fmt.Sprintf("ASG-%d", id),
			ActorID:       input.ActorID,
		}); err != nil {
			return err
		}
		out = a
		return nil
	})
	s.observe("allocate", err)
	if err != nil {
		return Assignment{}, err
	}
	s.record(ctx, input.ActorID, "ledger:allocate", "assignment", out.ID, map[string]any{
		"batch_id":    out.BatchID,
		"salesman_id": out.SalesmanID,
		"quantity":    out.DeliveredQuantity.String(),
	})
	return out, nil
}

// MarkDelivered hands a pending assignment over to the salesman.
func (s *Service) MarkDelivered(ctx context.Context, assignmentID, actorID int64) (Assignment, error) {
	var out Assignment
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		a, err := tx.GetAssignmentForUpdate(ctx, assignmentID)
		if err != nil {
			return err
		}
		if a.Status != AssignmentPending {
			return fmt.Errorf("%w: assignment %d is %s", ErrInvalidState, a.ID, a.Status)
		}
		now := s.now().UTC()
		a.Status = AssignmentDelivered
		a.DeliveredAt = &now
		if err := tx.UpdateAssignment(ctx, a); err != nil {
			return err
		}
		out = a
		return nil
	})
	if err != nil {
		return Assignment{}, err
	}
	s.record(ctx, actorID, "ledger:deliver", "assignment", assignmentID, nil)
	return out, nil
}

// ReserveInput asks the allocation engine for a quantity.
type ReserveInput struct {
	SalesmanID int64
	ProductID  int64
	Quantity   decimal.Decimal
	AsOf       time.Time
}

// Reserve previews which assignments a sale would consume. The selection is
// computed under row locks and then released; committing happens through the
// invoice consumption operations.
func (s *Service) Reserve(ctx context.Context, input ReserveInput) ([]Reservation, error) {
	if err := validateReserve(input); err != nil {
		return nil, err
	}
	var picks []Reservation
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		picks, _, err = s.reserveTx(ctx, tx, input)
		return err
	})
	return picks, err
}

func validateReserve(input ReserveInput) error {
	if input.SalesmanID <= 0 {
		return shared.NewValidationError("salesman_id", "is required")
	}
	if input.ProductID <= 0 {
		return shared.NewValidationError("product_id", "is required")
	}
	if !input.Quantity.IsPositive() {
		return shared.NewValidationError("quantity", "must be positive")
	}
	return nil
}

// reserveTx locks the salesman's candidates and runs the FIFO selection.
func (s *Service) reserveTx(ctx context.Context, tx TxRepository, input ReserveInput) ([]Reservation, map[int64]Assignment, error) {
	asOf := input.AsOf
	if asOf.IsZero() {
		asOf = s.now()
	}
	candidates, err := tx.LockSaleCandidates(ctx, input.SalesmanID, input.ProductID)
	if err != nil {
		return nil, nil, err
	}
	picks, err := SelectFIFO(input.SalesmanID, input.ProductID, candidates, input.Quantity, asOf)
	if err != nil {
		return nil, nil, err
	}
	byID := make(map[int64]Assignment, len(candidates))
	for _, a := range candidates {
		byID[a.ID] = a
	}
	return picks, byID, nil
}

// ListMovements returns movement log rows.
func (s *Service) ListMovements(ctx context.Context, filter MovementFilter) ([]StockMovement, error) {
	if filter.ProductID == 0 && filter.SalesmanID == 0 && filter.BatchID == 0 && filter.AssignmentID == 0 {
		return nil, shared.NewValidationError("filter", "product, salesman, batch or assignment required")
	}
	return s.repo.ListMovements(ctx, filter)
}

// ListStaleAssignments reports outstanding stock on expired or inactive
// batches so it can be recalled instead of sold.
func (s *Service) ListStaleAssignments(ctx context.Context, asOf time.Time) ([]Assignment, error) {
	if asOf.IsZero() {
		asOf = s.now()
	}
	rows, err := s.repo.ListOpenAssignments(ctx, 0)
	if err != nil {
		return nil, err
	}
	stale := make([]Assignment, 0)
	for _, a := range rows {
		if a.Status.Sellable() && a.Stale(asOf) {
			stale = append(stale, a)
		}
	}
	SortFIFO(stale)
	return stale, nil
}

// SalesmanStock returns the per-product stock view derived from assignments.
func (s *Service) SalesmanStock(ctx context.Context, salesmanID int64, asOf time.Time) ([]SalesmanStock, error) {
	if salesmanID <= 0 {
		return nil, shared.NewValidationError("salesman_id", "is required")
	}
	if asOf.IsZero() {
		asOf = s.now()
	}
	rows, err := s.repo.ListOpenAssignments(ctx, salesmanID)
	if err != nil {
		return nil, err
	}
	byProduct := map[int64]*SalesmanStock{}
	var order []int64
	for _, a := range rows {
		st, ok := byProduct[a.ProductID]
		if !ok {
			st = &SalesmanStock{SalesmanID: salesmanID, ProductID: a.ProductID}
			byProduct[a.ProductID] = st
			order = append(order, a.ProductID)
		}
		st.Delivered = st.Delivered.Add(a.DeliveredQuantity)
		st.Sold = st.Sold.Add(a.SoldQuantity)
		st.Returned = st.Returned.Add(a.ReturnedQuantity)
		st.Outstanding = st.Outstanding.Add(a.Outstanding())
		if a.Status.Sellable() && !a.Stale(asOf) {
			st.Sellable = st.Sellable.Add(a.Outstanding())
		}
	}
	out := make([]SalesmanStock, 0, len(order))
	for _, id := range order {
		out = append(out, *byProduct[id])
	}
	return out, nil
}

// AssignmentHistory rebuilds an assignment's counters from the movement log
// and compares them with the stored row.
func (s *Service) AssignmentHistory(ctx context.Context, assignmentID int64) (AssignmentReplay, error) {
	a, err := s.repo.GetAssignment(ctx, assignmentID)
	if err != nil {
		return AssignmentReplay{}, err
	}
	movements, err := s.repo.ListMovements(ctx, MovementFilter{AssignmentID: assignmentID})
	if err != nil {
		return AssignmentReplay{}, err
	}
	replay := ReplayAssignment(assignmentID, movements)
	replay.Consistent = replay.Delivered.Equal(a.DeliveredQuantity) &&
		replay.Sold.Equal(a.SoldQuantity) &&
		replay.Returned.Equal(a.ReturnedQuantity)
	return replay, nil
}

// ReplayAssignment folds movements of one assignment into its counters.
func ReplayAssignment(assignmentID int64, movements []StockMovement) AssignmentReplay {
	replay := AssignmentReplay{AssignmentID: assignmentID, Movements: movements}
	for _, m := range movements {
		if m.AssignmentID != assignmentID {
			continue
		}
		switch {
		case m.Type == MovementAllocation:
			replay.Delivered = replay.Delivered.Sub(m.QuantityDelta)
		case m.Type == MovementSale:
			replay.Sold = replay.Sold.Sub(m.QuantityDelta)
		case m.Type == MovementReturn && m.Pool == PoolSalesman:
			replay.Sold = replay.Sold.Sub(m.QuantityDelta)
		case m.Type == MovementReturn && m.Pool == PoolOwner:
			replay.Returned = replay.Returned.Add(m.QuantityDelta)
		}
	}
	return replay
}

// GetInvoice returns an invoice with its items and lines.
func (s *Service) GetInvoice(ctx context.Context, id int64) (Invoice, error) {
	return s.repo.GetInvoice(ctx, id)
}

func (s *Service) observe(operation string, err error) {
	if s.observer != nil {
		s.observer.ObserveOperation(operation, err)
	}
}

func (s *Service) record(ctx context.Context, actorID int64, action, entity string, id int64, meta map[string]any) {
	if s.audit == nil {
		return
	}
	if err := s.audit.Record(ctx, shared.AuditLog{
		ActorID:  actorID,
		Action:   action,
		Entity:   entity,
		EntityID: fmt.Sprintf("%d", id),
		Meta:     meta,
	}); err != nil {
		s.logger.Warn("audit record failed", slog.String("action", action), slog.Any("error", err))
	}
}

func newReference(prefix string) string {
	return fmt.Sprintf("%s-%s", prefix, strings.ToUpper(uuid.NewString()[:8]))
}

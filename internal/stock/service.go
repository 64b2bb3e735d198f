package stock

import (
	"context"
	"errors"
	"log/slog"
	"sort"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/procureflow/internal/notify"
	"github.com/odyssey-erp/procureflow/internal/shared"
	"github.com/odyssey-erp/procureflow/internal/store"
)

// RepositoryPort abstracts repository usage for service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	Bind(tx store.Tx) TxRepository
	GetLevel(ctx context.Context, ns Namespace, materialID string) (Level, error)
	ListLevels(ctx context.Context, ns Namespace) ([]Level, error)
	ListMovements(ctx context.Context, ns Namespace, materialID string) ([]Movement, error)
}

// Options groups optional collaborators.
type Options struct {
	Logger   *slog.Logger
	Notifier *notify.FanOut
	Clock    shared.Clock
}

// Service is the only writer of stock levels.
type Service struct {
	repo     RepositoryPort
	notifier *notify.FanOut
	logger   *slog.Logger
	clock    shared.Clock
}

// NewService builds Service.
func NewService(repo RepositoryPort, opts Options) *Service {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, notifier: opts.Notifier, logger: logger, clock: opts.Clock}
}

// RecordMovement posts a movement in its own transaction.
func (s *Service) RecordMovement(ctx context.Context, actor shared.Actor, input MovementInput) (Movement, error) {
	var movement Movement
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		movement, err = s.postMovement(ctx, tx, actor, input)
		return err
	})
	if err != nil {
		return Movement{}, shared.FromStore("stock.record_movement", err)
	}
	if movement.Direction == DirectionOut {
		s.checkLowStock(ctx, movement.Namespace, movement.MaterialID)
	}
	return movement, nil
}

// RecordMovementTx posts a movement inside a transaction owned by the caller.
func (s *Service) RecordMovementTx(ctx context.Context, tx store.Tx, actor shared.Actor, input MovementInput) (Movement, error) {
	return s.postMovement(ctx, s.repo.Bind(tx), actor, input)
}

// Dispatch is the outbound path; over-dispatch floors the level at zero.
func (s *Service) Dispatch(ctx context.Context, actor shared.Actor, input DispatchInput) (Movement, error) {
	return s.RecordMovement(ctx, actor, MovementInput{
		Namespace:  input.Namespace,
		MaterialID: input.MaterialID,
		Direction:  DirectionOut,
		Quantity:   input.Quantity,
		Reason:     ReasonDispatch,
		RefModule:  "dispatch",
		RefID:      input.RefID,
	})
}

func (s *Service) postMovement(ctx context.Context, tx TxRepository, actor shared.Actor, input MovementInput) (Movement, error) {
	const op = "stock.record_movement"
	if err := actor.Require(op); err != nil {
		return Movement{}, err
	}
	ns, ok := ParseNamespace(string(input.Namespace))
	if !ok {
		return Movement{}, shared.Validation(op, "unknown namespace %q", input.Namespace)
	}
	if err := shared.ValidateStruct(op, input); err != nil {
		return Movement{}, err
	}
	if !input.Quantity.IsPositive() {
		return Movement{}, shared.Validation(op, "quantity must be greater than zero")
	}

	if input.ID != "" {
		existing, err := tx.GetMovement(ctx, ns, input.ID)
		if err == nil {
			return existing, nil
		}
		if !errors.Is(err, ErrMovementNotFound) {
			return Movement{}, shared.FromStore(op, err)
		}
	}

	now := s.clock.Now()
	level, version, err := tx.GetLevelForUpdate(ctx, ns, input.MaterialID)
	switch {
	case errors.Is(err, ErrLevelNotFound):
		level = Level{Namespace: ns, MaterialID: input.MaterialID, Quantity: decimal.Zero, ReorderLevel: decimal.Zero, Stamp: shared.NewStamp(actor, now)}
	case err != nil:
		return Movement{}, shared.FromStore(op, err)
	}

	next, clamped := apply(level.Quantity, input.Direction, input.Quantity)
	if clamped {
		s.logger.Warn("stock dispatch exceeds level, clamping at zero",
			slog.String("material_id", input.MaterialID),
			slog.String("level", level.Quantity.String()),
			slog.String("quantity", input.Quantity.String()))
	}

	movement := Movement{
		ID:           input.ID,
		Seq:          level.Seq + 1,
		Namespace:    ns,
		MaterialID:   input.MaterialID,
		MaterialName: input.MaterialName,
		Direction:    input.Direction,
		Quantity:     input.Quantity,
		Reason:       input.Reason,
		BatchNumber:  input.BatchNumber,
		SupplierID:   input.SupplierID,
		RefModule:    input.RefModule,
		RefID:        input.RefID,
		Actor:        actor.Ref(),
		At:           now.UnixMilli(),
		Clamped:      clamped,
		LevelAfter:   next,
	}
	if err := tx.InsertMovement(ctx, &movement); err != nil {
		return Movement{}, shared.FromStore(op, err)
	}

	level.Quantity = next
	level.Seq = movement.Seq
	if input.MaterialName != "" {
		level.MaterialName = input.MaterialName
	}
	if input.Unit != "" {
		level.Unit = input.Unit
	}
	level.Touch(actor, now)
	if err := tx.SaveLevel(ctx, level, version); err != nil {
		return Movement{}, shared.FromStore(op, err)
	}
	return movement, nil
}

func apply(current decimal.Decimal, dir Direction, qty decimal.Decimal) (decimal.Decimal, bool) {
	if dir == DirectionIn {
		return current.Add(qty), false
	}
	next := current.Sub(qty)
	if next.IsNegative() {
		return decimal.Zero, true
	}
	return next, false
}

// Project replays movements in ledger order with the zero clamp.
func Project(movements []Movement) decimal.Decimal {
	ordered := make([]Movement, len(movements))
	copy(ordered, movements)
	sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].Seq < ordered[j].Seq })
	level := decimal.Zero
	for _, m := range ordered {
		level, _ = apply(level, m.Direction, m.Quantity)
	}
	return level
}

// SetReorderLevel configures the alert threshold for a material.
func (s *Service) SetReorderLevel(ctx context.Context, actor shared.Actor, ns Namespace, materialID string, reorder decimal.Decimal) (Level, error) {
	const op = "stock.set_reorder_level"
	if err := actor.Require(op); err != nil {
		return Level{}, err
	}
	parsed, ok := ParseNamespace(string(ns))
	if !ok {
		return Level{}, shared.Validation(op, "unknown namespace %q", ns)
	}
	ns = parsed
	if materialID == "" {
		return Level{}, shared.Validation(op, "material id required")
	}
	if reorder.IsNegative() {
		return Level{}, shared.Validation(op, "reorder level must not be negative")
	}
	var level Level
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		now := s.clock.Now()
		current, version, err := tx.GetLevelForUpdate(ctx, ns, materialID)
		if errors.Is(err, ErrLevelNotFound) {
			current = Level{Namespace: ns, MaterialID: materialID, Quantity: decimal.Zero, Stamp: shared.NewStamp(actor, now)}
		} else if err != nil {
			return err
		}
		current.ReorderLevel = reorder
		current.Touch(actor, now)
		level = current
		return tx.SaveLevel(ctx, current, version)
	})
	if err != nil {
		return Level{}, shared.FromStore(op, err)
	}
	return level, nil
}

// GetLevel returns the projected level of a material.
func (s *Service) GetLevel(ctx context.Context, ns Namespace, materialID string) (Level, error) {
	level, err := s.repo.GetLevel(ctx, ns, materialID)
	if errors.Is(err, ErrLevelNotFound) {
		return Level{}, shared.NotFound("stock.get_level", "no stock recorded for %s", materialID)
	}
	if err != nil {
		return Level{}, shared.FromStore("stock.get_level", err)
	}
	return level, nil
}

// ListMovements returns a material's ledger in posting order.
func (s *Service) ListMovements(ctx context.Context, ns Namespace, materialID string) ([]Movement, error) {
	movements, err := s.repo.ListMovements(ctx, ns, materialID)
	if err != nil {
		return nil, shared.FromStore("stock.list_movements", err)
	}
	sort.SliceStable(movements, func(i, j int) bool {
		if movements[i].MaterialID != movements[j].MaterialID {
			return movements[i].MaterialID < movements[j].MaterialID
		}
		return movements[i].Seq < movements[j].Seq
	})
	return movements, nil
}

// Verify checks that the stored level equals the clamped replay of its movements.
func (s *Service) Verify(ctx context.Context, ns Namespace, materialID string) (Verification, error) {
	level, err := s.GetLevel(ctx, ns, materialID)
	if err != nil {
		return Verification{}, err
	}
	movements, err := s.ListMovements(ctx, ns, materialID)
	if err != nil {
		return Verification{}, err
	}
	replayed := Project(movements)
	return Verification{
		MaterialID: materialID,
		Stored:     level.Quantity,
		Replayed:   replayed,
		Movements:  len(movements),
		Consistent: replayed.Equal(level.Quantity),
	}, nil
}

var half = decimal.NewFromFloat(0.5)

// LowStockAlerts lists materials at or below their reorder level.
func (s *Service) LowStockAlerts(ctx context.Context, ns Namespace) ([]Alert, error) {
	levels, err := s.repo.ListLevels(ctx, ns)
	if err != nil {
		return nil, shared.FromStore("stock.low_stock_alerts", err)
	}
	alerts := make([]Alert, 0)
	for _, level := range levels {
		if alert, ok := evaluate(level); ok {
			alerts = append(alerts, alert)
		}
	}
	sort.SliceStable(alerts, func(i, j int) bool {
		if alerts[i].Severity != alerts[j].Severity {
			return alerts[i].Severity == SeverityCritical
		}
		return alerts[i].MaterialID < alerts[j].MaterialID
	})
	return alerts, nil
}

func evaluate(level Level) (Alert, bool) {
	if !level.ReorderLevel.IsPositive() || level.Quantity.GreaterThan(level.ReorderLevel) {
		return Alert{}, false
	}
	severity := SeverityWarning
	if level.Quantity.LessThanOrEqual(level.ReorderLevel.Mul(half)) {
		severity = SeverityCritical
	}
	return Alert{
		Namespace:    level.Namespace,
		MaterialID:   level.MaterialID,
		MaterialName: level.MaterialName,
		Quantity:     level.Quantity,
		ReorderLevel: level.ReorderLevel,
		Severity:     severity,
	}, true
}

func (s *Service) checkLowStock(ctx context.Context, ns Namespace, materialID string) {
	level, err := s.repo.GetLevel(ctx, ns, materialID)
	if err != nil {
		return
	}
	alert, ok := evaluate(level)
	if !ok {
		return
	}
	s.notifier.Send(ctx, notify.Notification{
		Recipient: notify.ToRole(shared.RolePurchasing),
		Kind:      notify.KindStockLow,
		RelatedID: materialID,
		Meta:      map[string]string{"severity": string(alert.Severity), "quantity": level.Quantity.String()},
	})
}

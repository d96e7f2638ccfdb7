package inventory

import (
	"context"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/angelmondragon/mala-backend/pkg/db/models"
	pkgerrors "github.com/angelmondragon/mala-backend/pkg/errors"
)

// Ledger owns per-product stock counters. Every mutation is a relative delta
// applied in a single UPDATE so concurrent checkouts never lose writes.
type Ledger interface {
	WithTx(tx *gorm.DB) Ledger
	Decrement(ctx context.Context, productID string, qty int) error
	Increment(ctx context.Context, productID string, qty int) error
	Lookup(ctx context.Context, productIDs []string) (map[string]int, error)
}

type ledger struct {
	db  *gorm.DB
	now func() time.Time
}

// NewLedger binds a ledger to the provided connection.
func NewLedger(db *gorm.DB) Ledger {
	return &ledger{db: db, now: time.Now}
}

func (l *ledger) WithTx(tx *gorm.DB) Ledger {
	if tx == nil {
		return l
	}
	return &ledger{db: tx, now: l.now}
}

// Decrement lowers stock by qty, clamping at zero.
func (l *ledger) Decrement(ctx context.Context, productID string, qty int) error {
	if err := validateDelta(productID, qty); err != nil {
		return err
	}
	return l.apply(ctx, productID, gorm.Expr("CASE WHEN stock > ? THEN stock - ? ELSE 0 END", qty, qty))
}

// Increment raises stock by qty.
func (l *ledger) Increment(ctx context.Context, productID string, qty int) error {
	if err := validateDelta(productID, qty); err != nil {
		return err
	}
	return l.apply(ctx, productID, gorm.Expr("stock + ?", qty))
}

func (l *ledger) apply(ctx context.Context, productID string, expr any) error {
	res := l.db.WithContext(ctx).
		Model(&models.InventoryItem{}).
		Where("product_id = ?", productID).
		Updates(map[string]any{
			"stock":      expr,
			"updated_at": l.now().UTC(),
		})
	if res.Error != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, res.Error, "update inventory stock")
	}
	if res.RowsAffected == 0 {
		return pkgerrors.Newf(pkgerrors.CodeNotFound, "inventory record for product %s not found", productID)
	}
	return nil
}

// Lookup returns current stock keyed by product id. Unknown products are absent from the map.
func (l *ledger) Lookup(ctx context.Context, productIDs []string) (map[string]int, error) {
	out := make(map[string]int, len(productIDs))
	if len(productIDs) == 0 {
		return out, nil
	}
	var rows []models.InventoryItem
	if err := l.db.WithContext(ctx).
		Where("product_id IN ?", productIDs).
		Find(&rows).Error; err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load inventory")
	}
	for _, row := range rows {
		out[row.ProductID] = row.Stock
	}
	return out, nil
}

func validateDelta(productID string, qty int) error {
	if strings.TrimSpace(productID) == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "product id is required")
	}
	if qty <= 0 {
		return pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("quantity must be positive, got %d", qty))
	}
	return nil
}

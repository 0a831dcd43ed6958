package service

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/linemk/shop-orders/internal/domain/models"
	"github.com/linemk/shop-orders/internal/storage"
	"github.com/shopspring/decimal"
)

// Reservation - результат резервирования корзины: позиции с зафиксированными ценами и итог
type Reservation struct {
	Lines []models.OrderLine
	Total decimal.Decimal
}

// ReservationEngine проверяет наличие и списывает остатки по всей корзине.
type ReservationEngine struct {
	log      *slog.Logger
	products storage.ProductStorage
}

func NewReservationEngine(log *slog.Logger, products storage.ProductStorage) *ReservationEngine {
	return &ReservationEngine{
		log:      log,
		products: products,
	}
}

// Reserve списывает остаток по каждой позиции в порядке корзины и фиксирует цену.
// Корзина резервируется целиком или никак: если очередная позиция не прошла,
// уже списанные позиции возвращаются на склад до того, как ошибка уйдёт наверх.
func (e *ReservationEngine) Reserve(ctx context.Context, tx *sql.Tx, items []models.CartItem) (*Reservation, error) {
	const op = "service.ReservationEngine.Reserve"
	logger := e.log.With(slog.String("op", op), slog.Int("items", len(items)))

	if err := validateCart(items); err != nil {
		return nil, err
	}

	res := &Reservation{
		Lines: make([]models.OrderLine, 0, len(items)),
	}
	for _, item := range items {
		product, err := e.debit(ctx, tx, item)
		if err != nil {
			logger.Warn("reservation rejected", slog.Int64("productID", item.ProductID), slog.Any("error", err))
			if relErr := e.Release(ctx, tx, res.Lines); relErr != nil {
				logger.Error("failed to release partial reservation", slog.Any("error", relErr))
			}
			return nil, err
		}

		line := models.OrderLine{
			ProductID: item.ProductID,
			Quantity:  item.Quantity,
			UnitPrice: product.Price,
		}
		res.Lines = append(res.Lines, line)
	}
	res.Total = models.SumLines(res.Lines)

	logger.Debug("cart reserved", slog.String("total", res.Total.StringFixed(2)))
	return res, nil
}

func (e *ReservationEngine) debit(ctx context.Context, tx *sql.Tx, item models.CartItem) (*models.Product, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return e.products.DebitStockTx(ctx, tx, item.ProductID, item.Quantity)
}

// Release возвращает на склад количество по позициям, в обратном порядке.
// Выполняется даже при отменённом контексте.
// Товар, удалённый из каталога, пропускается: возвращать остаток некуда.
func (e *ReservationEngine) Release(ctx context.Context, tx *sql.Tx, lines []models.OrderLine) error {
	const op = "service.ReservationEngine.Release"
	ctx = context.WithoutCancel(ctx)

	for i := len(lines) - 1; i >= 0; i-- {
		line := lines[i]
		if err := e.products.RestockTx(ctx, tx, line.ProductID, line.Quantity); err != nil {
			if isNotFound(err) {
				e.log.Warn("product disappeared, skipping restock",
					slog.String("op", op), slog.Int64("productID", line.ProductID))
				continue
			}
			return fmt.Errorf("%s: restock product %d: %w", op, line.ProductID, err)
		}
	}
	return nil
}

func validateCart(items []models.CartItem) error {
	if len(items) == 0 {
		return models.NewValidationError("order must have at least one item")
	}
	for i, item := range items {
		if item.Quantity <= 0 {
			return models.NewValidationError("item %d: quantity must be positive, got %d", i, item.Quantity)
		}
	}
	return nil
}

package storage

import (
	"context"
	"database/sql"
	"errors"

	"github.com/linemk/shop-orders/internal/domain/models"
)

// ProductStorage описывает контракт каталога: чтение товара и изменение остатка.
type ProductStorage interface {
	// GetProductByID возвращает товар с текущей ценой и остатком.
	GetProductByID(ctx context.Context, id int64) (*models.Product, error)
	// DebitStockTx атомарно проверяет остаток и списывает quantity.
	// Возвращает товар уже с новым остатком и ценой на момент списания.
	DebitStockTx(ctx context.Context, tx *sql.Tx, id int64, quantity int) (*models.Product, error)
	// RestockTx возвращает quantity на склад.
	RestockTx(ctx context.Context, tx *sql.Tx, id int64, quantity int) error
}

// productRepository - реализация ProductStorage для PostgreSQL.
type productRepository struct {
	db *sql.DB
}

// NewProductRepository создаёт новый репозиторий товаров.
func NewProductRepository(db *sql.DB) ProductStorage {
	return &productRepository{db: db}
}

func (r *productRepository) GetProductByID(ctx context.Context, id int64) (*models.Product, error) {
	product := &models.Product{}
	query := "SELECT id, name, price, stock, default_image_url FROM products WHERE id = $1"
	row := r.db.QueryRowContext(ctx, query, id)
	if err := row.Scan(&product.ID, &product.Name, &product.Price, &product.Stock, &product.DefaultImageURL); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, notFound("product", id)
		}
		return nil, wrapErr("get product", err)
	}
	return product, nil
}

// DebitStockTx списывает остаток одним условным UPDATE: проверка и списание происходят под блокировкой строки,
// поэтому две конкурентные транзакции не могут вместе списать больше, чем есть.
func (r *productRepository) DebitStockTx(ctx context.Context, tx *sql.Tx, id int64, quantity int) (*models.Product, error) {
	product := &models.Product{}
	query := `UPDATE products SET stock = stock - $1
	          WHERE id = $2 AND stock >= $1
	          RETURNING id, name, price, stock, default_image_url`
	row := tx.QueryRowContext(ctx, query, quantity, id)
	err := row.Scan(&product.ID, &product.Name, &product.Price, &product.Stock, &product.DefaultImageURL)
	if err == nil {
		return product, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, wrapErr("debit stock", err)
	}

	// ни одна строка не обновлена: либо товара нет, либо не хватает остатка
	var available int
	if err := tx.QueryRowContext(ctx, "SELECT stock FROM products WHERE id = $1", id).Scan(&available); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, notFound("product", id)
		}
		return nil, wrapErr("read stock", err)
	}
	return nil, &models.InsufficientStockError{ProductID: id, Available: available, Requested: quantity}
}

func (r *productRepository) RestockTx(ctx context.Context, tx *sql.Tx, id int64, quantity int) error {
	res, err := tx.ExecContext(ctx, "UPDATE products SET stock = stock + $1 WHERE id = $2", quantity, id)
	if err != nil {
		return wrapErr("restock", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return wrapErr("restock", err)
	}
	if affected == 0 {
		return notFound("product", id)
	}
	return nil
}

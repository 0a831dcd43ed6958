package storage

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/lib/pq"
	"github.com/linemk/shop-orders/internal/domain/models"
)

// OrderStorage описывает методы для работы с заказами и их позициями.
type OrderStorage interface {
	// CreateOrder вставляет заказ и все его позиции в рамках транзакции tx.
	CreateOrder(ctx context.Context, tx *sql.Tx, order *models.Order) (*models.Order, error)
	// GetOrderByID возвращает заказ без позиций.
	GetOrderByID(ctx context.Context, id int64) (*models.Order, error)
	// GetOrderWithLines возвращает заказ вместе с позициями в порядке добавления.
	GetOrderWithLines(ctx context.Context, id int64) (*models.Order, error)
	GetOrdersByUserID(ctx context.Context, userID int64) ([]*models.Order, error)
	GetAllOrders(ctx context.Context) ([]*models.Order, error)
	// LockOrderTx блокирует строку заказа до конца транзакции и возвращает заказ с позициями.
	LockOrderTx(ctx context.Context, tx *sql.Tx, id int64) (*models.Order, error)
	UpdateOrderStatus(ctx context.Context, tx *sql.Tx, id int64, status models.OrderStatus, updatedAt time.Time) error
	// DeleteOrder удаляет заказ, позиции удаляются каскадно.
	DeleteOrder(ctx context.Context, tx *sql.Tx, id int64) error
}

// orderRepository - конкретная реализация OrderStorage.
type orderRepository struct {
	db *sql.DB
}

// NewOrderRepository создаёт новый репозиторий заказов.
func NewOrderRepository(db *sql.DB) OrderStorage {
	return &orderRepository{db: db}
}

const orderColumns = "id, user_id, total, status, payment_method, shipping_address, created_at, updated_at"

type scanner interface {
	Scan(dest ...any) error
}

func scanOrder(row scanner) (*models.Order, error) {
	order := &models.Order{}
	var status string
	if err := row.Scan(&order.ID, &order.UserID, &order.Total, &status, &order.PaymentMethod,
		&order.ShippingAddress, &order.CreatedAt, &order.UpdatedAt); err != nil {
		return nil, err
	}
	order.Status = models.OrderStatus(status)
	return order, nil
}

func (r *orderRepository) CreateOrder(ctx context.Context, tx *sql.Tx, order *models.Order) (*models.Order, error) {
	query := `INSERT INTO orders (user_id, total, status, payment_method, shipping_address, created_at, updated_at)
	          VALUES ($1, $2, $3, $4, $5, $6, $7) RETURNING id`
	err := tx.QueryRowContext(ctx, query, order.UserID, order.Total, string(order.Status),
		order.PaymentMethod, order.ShippingAddress, order.CreatedAt, order.UpdatedAt).Scan(&order.ID)
	if err != nil {
		return nil, wrapErr("create order", err)
	}

	lineQuery := `INSERT INTO order_items (order_id, product_id, quantity, unit_price)
	              VALUES ($1, $2, $3, $4) RETURNING id`
	for i := range order.Lines {
		line := &order.Lines[i]
		line.OrderID = order.ID
		if err := tx.QueryRowContext(ctx, lineQuery, order.ID, line.ProductID, line.Quantity, line.UnitPrice).Scan(&line.ID); err != nil {
			return nil, wrapErr("create order item", err)
		}
	}
	return order, nil
}

func (r *orderRepository) GetOrderByID(ctx context.Context, id int64) (*models.Order, error) {
	row := r.db.QueryRowContext(ctx, "SELECT "+orderColumns+" FROM orders WHERE id = $1", id)
	order, err := scanOrder(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, notFound("order", id)
		}
		return nil, wrapErr("get order", err)
	}
	return order, nil
}

func (r *orderRepository) GetOrderWithLines(ctx context.Context, id int64) (*models.Order, error) {
	order, err := r.GetOrderByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := r.attachLines(ctx, r.db, []*models.Order{order}); err != nil {
		return nil, err
	}
	return order, nil
}

// GetOrdersByUserID возвращает заказы пользователя, новые первыми.
func (r *orderRepository) GetOrdersByUserID(ctx context.Context, userID int64) ([]*models.Order, error) {
	query := "SELECT " + orderColumns + " FROM orders WHERE user_id = $1 ORDER BY created_at DESC, id DESC"
	return r.listOrders(ctx, query, userID)
}

func (r *orderRepository) GetAllOrders(ctx context.Context) ([]*models.Order, error) {
	query := "SELECT " + orderColumns + " FROM orders ORDER BY created_at DESC, id DESC"
	return r.listOrders(ctx, query)
}

func (r *orderRepository) listOrders(ctx context.Context, query string, args ...any) ([]*models.Order, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, wrapErr("list orders", err)
	}
	defer rows.Close()

	orders := []*models.Order{}
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			return nil, wrapErr("scan order", err)
		}
		orders = append(orders, order)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapErr("list orders", err)
	}
	if len(orders) == 0 {
		return orders, nil
	}

	if err := r.attachLines(ctx, r.db, orders); err != nil {
		return nil, err
	}
	return orders, nil
}

type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// attachLines одним запросом подгружает позиции для всех заказов.
// Позиции сортируются по id, то есть в порядке корзины.
func (r *orderRepository) attachLines(ctx context.Context, q querier, orders []*models.Order) error {
	ids := make([]int64, 0, len(orders))
	byID := make(map[int64]*models.Order, len(orders))
	for _, o := range orders {
		ids = append(ids, o.ID)
		byID[o.ID] = o
		o.Lines = []models.OrderLine{}
	}

	query := `SELECT id, order_id, product_id, quantity, unit_price
	          FROM order_items
	          WHERE order_id = ANY($1)
	          ORDER BY id`
	rows, err := q.QueryContext(ctx, query, pq.Array(ids))
	if err != nil {
		return wrapErr("list order items", err)
	}
	defer rows.Close()

	for rows.Next() {
		var line models.OrderLine
		if err := rows.Scan(&line.ID, &line.OrderID, &line.ProductID, &line.Quantity, &line.UnitPrice); err != nil {
			return wrapErr("scan order item", err)
		}
		if o, ok := byID[line.OrderID]; ok {
			o.Lines = append(o.Lines, line)
		}
	}
	if err := rows.Err(); err != nil {
		return wrapErr("list order items", err)
	}
	return nil
}

func (r *orderRepository) LockOrderTx(ctx context.Context, tx *sql.Tx, id int64) (*models.Order, error) {
	row := tx.QueryRowContext(ctx, "SELECT "+orderColumns+" FROM orders WHERE id = $1 FOR UPDATE", id)
	order, err := scanOrder(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, notFound("order", id)
		}
		return nil, wrapErr("lock order", err)
	}
	if err := r.attachLines(ctx, tx, []*models.Order{order}); err != nil {
		return nil, err
	}
	return order, nil
}

func (r *orderRepository) UpdateOrderStatus(ctx context.Context, tx *sql.Tx, id int64, status models.OrderStatus, updatedAt time.Time) error {
	res, err := tx.ExecContext(ctx, "UPDATE orders SET status = $1, updated_at = $2 WHERE id = $3", string(status), updatedAt, id)
	if err != nil {
		return wrapErr("update order status", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return wrapErr("update order status", err)
	}
	if affected == 0 {
		return notFound("order", id)
	}
	return nil
}

func (r *orderRepository) DeleteOrder(ctx context.Context, tx *sql.Tx, id int64) error {
	res, err := tx.ExecContext(ctx, "DELETE FROM orders WHERE id = $1", id)
	if err != nil {
		return wrapErr("delete order", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return wrapErr("delete order", err)
	}
	if affected == 0 {
		return notFound("order", id)
	}
	return nil
}

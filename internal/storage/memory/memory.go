// Package memory содержит реализации хранилищ в памяти процесса.
// Они не умеют откатывать записи, поэтому согласованность при ошибках обеспечивается
// компенсацией в сервисном слое, а Transactor сериализует пишущие операции.
package memory

import (
	"context"
	"database/sql"
	"sort"
	"sync"
	"time"

	"github.com/linemk/shop-orders/internal/domain/models"
	"github.com/linemk/shop-orders/internal/storage"
)

var (
	_ storage.Transactor     = (*Transactor)(nil)
	_ storage.ProductStorage = (*ProductRepository)(nil)
	_ storage.OrderStorage   = (*OrderRepository)(nil)
	_ storage.UserStorage    = (*UserRepository)(nil)
)

// Transactor выполняет fn под общим мьютексом, tx всегда nil.
type Transactor struct {
	mu sync.Mutex
}

func NewTransactor() *Transactor {
	return &Transactor{}
}

func (t *Transactor) WithinTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}
	return fn(nil)
}

// ProductRepository хранит товары и остатки.
type ProductRepository struct {
	mu       sync.Mutex
	products map[int64]models.Product
}

func NewProductRepository() *ProductRepository {
	return &ProductRepository{products: make(map[int64]models.Product)}
}

// Put добавляет или заменяет товар
func (r *ProductRepository) Put(p models.Product) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.products[p.ID] = p
}

// Delete удаляет товар из каталога
func (r *ProductRepository) Delete(id int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.products, id)
}

func (r *ProductRepository) GetProductByID(ctx context.Context, id int64) (*models.Product, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.products[id]
	if !ok {
		return nil, models.NewNotFoundError("product", id)
	}
	return &p, nil
}

func (r *ProductRepository) DebitStockTx(ctx context.Context, _ *sql.Tx, id int64, quantity int) (*models.Product, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.products[id]
	if !ok {
		return nil, models.NewNotFoundError("product", id)
	}
	if p.Stock < quantity {
		return nil, &models.InsufficientStockError{ProductID: id, Available: p.Stock, Requested: quantity}
	}
	p.Stock -= quantity
	r.products[id] = p
	return &p, nil
}

// RestockTx не смотрит на отмену контекста: он используется для компенсации.
func (r *ProductRepository) RestockTx(_ context.Context, _ *sql.Tx, id int64, quantity int) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.products[id]
	if !ok {
		return models.NewNotFoundError("product", id)
	}
	p.Stock += quantity
	r.products[id] = p
	return nil
}

// OrderRepository хранит заказы вместе с позициями.
type OrderRepository struct {
	mu         sync.RWMutex
	orders     map[int64]*models.Order
	nextID     int64
	nextLineID int64
}

func NewOrderRepository() *OrderRepository {
	return &OrderRepository{orders: make(map[int64]*models.Order)}
}

func cloneOrder(o *models.Order) *models.Order {
	c := *o
	c.Lines = append([]models.OrderLine{}, o.Lines...)
	return &c
}

func (r *OrderRepository) CreateOrder(ctx context.Context, _ *sql.Tx, order *models.Order) (*models.Order, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.nextID++
	order.ID = r.nextID
	for i := range order.Lines {
		r.nextLineID++
		order.Lines[i].ID = r.nextLineID
		order.Lines[i].OrderID = order.ID
	}
	r.orders[order.ID] = cloneOrder(order)
	return order, nil
}

func (r *OrderRepository) GetOrderByID(ctx context.Context, id int64) (*models.Order, error) {
	order, err := r.GetOrderWithLines(ctx, id)
	if err != nil {
		return nil, err
	}
	order.Lines = nil
	return order, nil
}

func (r *OrderRepository) GetOrderWithLines(_ context.Context, id int64) (*models.Order, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	o, ok := r.orders[id]
	if !ok {
		return nil, models.NewNotFoundError("order", id)
	}
	return cloneOrder(o), nil
}

func (r *OrderRepository) GetOrdersByUserID(_ context.Context, userID int64) ([]*models.Order, error) {
	return r.list(func(o *models.Order) bool { return o.UserID == userID }), nil
}

func (r *OrderRepository) GetAllOrders(_ context.Context) ([]*models.Order, error) {
	return r.list(func(*models.Order) bool { return true }), nil
}

// list возвращает заказы, новые первыми
func (r *OrderRepository) list(keep func(*models.Order) bool) []*models.Order {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := []*models.Order{}
	for _, o := range r.orders {
		if keep(o) {
			out = append(out, cloneOrder(o))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID > out[j].ID
	})
	return out
}

func (r *OrderRepository) LockOrderTx(ctx context.Context, _ *sql.Tx, id int64) (*models.Order, error) {
	return r.GetOrderWithLines(ctx, id)
}

func (r *OrderRepository) UpdateOrderStatus(_ context.Context, _ *sql.Tx, id int64, status models.OrderStatus, updatedAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	o, ok := r.orders[id]
	if !ok {
		return models.NewNotFoundError("order", id)
	}
	o.Status = status
	o.UpdatedAt = updatedAt
	return nil
}

func (r *OrderRepository) DeleteOrder(_ context.Context, _ *sql.Tx, id int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.orders[id]; !ok {
		return models.NewNotFoundError("order", id)
	}
	delete(r.orders, id)
	return nil
}

// UserRepository хранит пользователей
type UserRepository struct {
	mu     sync.RWMutex
	users  map[int64]*models.User
	nextID int64
}

func NewUserRepository() *UserRepository {
	return &UserRepository{users: make(map[int64]*models.User)}
}

func (r *UserRepository) GetUserByUsername(_ context.Context, username string) (*models.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, u := range r.users {
		if u.Username == username {
			c := *u
			return &c, nil
		}
	}
	return nil, &models.NotFoundError{Entity: "user"}
}

func (r *UserRepository) GetUserByID(_ context.Context, id int64) (*models.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	u, ok := r.users[id]
	if !ok {
		return nil, models.NewNotFoundError("user", id)
	}
	c := *u
	return &c, nil
}

func (r *UserRepository) CreateUser(_ context.Context, user *models.User) (*models.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, u := range r.users {
		if u.Username == user.Username {
			return nil, storage.ErrUserExists
		}
	}
	r.nextID++
	user.ID = r.nextID
	c := *user
	r.users[user.ID] = &c
	return user, nil
}

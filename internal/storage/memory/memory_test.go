package memory_test

import (
	"context"
	"database/sql"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/linemk/shop-orders/internal/domain/models"
	"github.com/linemk/shop-orders/internal/storage"
	"github.com/linemk/shop-orders/internal/storage/memory"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProductRepository_DebitAndRestock(t *testing.T) {
	repo := memory.NewProductRepository()
	repo.Put(models.Product{ID: 1, Name: "A", Price: decimal.RequireFromString("10.00"), Stock: 5})
	ctx := context.Background()

	p, err := repo.DebitStockTx(ctx, nil, 1, 2)
	require.NoError(t, err)
	assert.Equal(t, 3, p.Stock)

	_, err = repo.DebitStockTx(ctx, nil, 1, 4)
	var stockErr *models.InsufficientStockError
	require.ErrorAs(t, err, &stockErr)
	assert.Equal(t, 3, stockErr.Available)
	assert.Equal(t, 4, stockErr.Requested)

	require.NoError(t, repo.RestockTx(ctx, nil, 1, 2))
	p, err = repo.GetProductByID(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 5, p.Stock)

	var nf *models.NotFoundError
	_, err = repo.DebitStockTx(ctx, nil, 9, 1)
	assert.ErrorAs(t, err, &nf)
	assert.ErrorAs(t, repo.RestockTx(ctx, nil, 9, 1), &nf)
}

// Конкурентные списания без Transactor: проверка остатка и списание должны быть одним шагом
func TestProductRepository_ConcurrentDebitNeverOversells(t *testing.T) {
	const (
		initial = 50
		workers = 200
	)
	repo := memory.NewProductRepository()
	repo.Put(models.Product{ID: 1, Name: "A", Price: decimal.RequireFromString("1.00"), Stock: initial})

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		debited int
		start   = make(chan struct{})
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(qty int) {
			defer wg.Done()
			<-start
			p, err := repo.DebitStockTx(context.Background(), nil, 1, qty)

			var stockErr *models.InsufficientStockError
			switch {
			case err == nil:
				if p.Stock < 0 {
					t.Errorf("stock went negative: %d", p.Stock)
				}
				mu.Lock()
				debited += qty
				mu.Unlock()
			case errors.As(err, &stockErr):
				if stockErr.Available >= qty {
					t.Errorf("rejected %d with %d available", qty, stockErr.Available)
				}
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}(i%3 + 1)
	}
	close(start)
	wg.Wait()

	p, err := repo.GetProductByID(context.Background(), 1)
	require.NoError(t, err)
	assert.LessOrEqual(t, debited, initial)
	assert.GreaterOrEqual(t, p.Stock, 0)
	assert.Equal(t, initial-debited, p.Stock, "every successful debit is accounted for")
}

func TestProductRepository_ReturnsCopies(t *testing.T) {
	repo := memory.NewProductRepository()
	repo.Put(models.Product{ID: 1, Name: "A", Stock: 5})

	p, err := repo.GetProductByID(context.Background(), 1)
	require.NoError(t, err)
	p.Stock = 100

	again, err := repo.GetProductByID(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, 5, again.Stock)
}

func TestOrderRepository_CreateAndList(t *testing.T) {
	repo := memory.NewOrderRepository()
	ctx := context.Background()
	base := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)

	first, err := repo.CreateOrder(ctx, nil, &models.Order{
		UserID: 1, CreatedAt: base, Status: models.StatusPending,
		Lines: []models.OrderLine{{ProductID: 1, Quantity: 1}, {ProductID: 2, Quantity: 2}},
	})
	require.NoError(t, err)
	second, err := repo.CreateOrder(ctx, nil, &models.Order{UserID: 2, CreatedAt: base.Add(time.Hour), Status: models.StatusPending})
	require.NoError(t, err)
	// тот же момент создания - порядок по id
	third, err := repo.CreateOrder(ctx, nil, &models.Order{UserID: 1, CreatedAt: base, Status: models.StatusPending})
	require.NoError(t, err)

	assert.NotEqual(t, first.ID, second.ID)
	require.Len(t, first.Lines, 2)
	assert.Equal(t, first.ID, first.Lines[1].OrderID)
	assert.NotEqual(t, first.Lines[0].ID, first.Lines[1].ID)

	all, err := repo.GetAllOrders(ctx)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, []int64{second.ID, third.ID, first.ID}, []int64{all[0].ID, all[1].ID, all[2].ID})

	mine, err := repo.GetOrdersByUserID(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, mine, 2)

	none, err := repo.GetOrdersByUserID(ctx, 42)
	require.NoError(t, err)
	assert.NotNil(t, none)
	assert.Empty(t, none)

	bare, err := repo.GetOrderByID(ctx, first.ID)
	require.NoError(t, err)
	assert.Empty(t, bare.Lines)
}

func TestOrderRepository_UpdateAndDelete(t *testing.T) {
	repo := memory.NewOrderRepository()
	ctx := context.Background()
	order, err := repo.CreateOrder(ctx, nil, &models.Order{UserID: 1, Status: models.StatusPending})
	require.NoError(t, err)

	later := time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, repo.UpdateOrderStatus(ctx, nil, order.ID, models.StatusShipped, later))

	got, err := repo.GetOrderWithLines(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusShipped, got.Status)
	assert.Equal(t, later, got.UpdatedAt)

	// изменение полученной копии не влияет на хранилище
	got.Status = models.StatusCancelled
	again, err := repo.GetOrderWithLines(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusShipped, again.Status)

	require.NoError(t, repo.DeleteOrder(ctx, nil, order.ID))
	var nf *models.NotFoundError
	_, err = repo.GetOrderWithLines(ctx, order.ID)
	assert.ErrorAs(t, err, &nf)
	assert.ErrorAs(t, repo.DeleteOrder(ctx, nil, order.ID), &nf)
	assert.ErrorAs(t, repo.UpdateOrderStatus(ctx, nil, order.ID, models.StatusShipped, later), &nf)
}

func TestUserRepository(t *testing.T) {
	repo := memory.NewUserRepository()
	ctx := context.Background()

	u, err := repo.CreateUser(ctx, &models.User{Username: "alice", FullName: "Alice"})
	require.NoError(t, err)
	assert.NotZero(t, u.ID)

	_, err = repo.CreateUser(ctx, &models.User{Username: "alice"})
	assert.ErrorIs(t, err, storage.ErrUserExists)

	byName, err := repo.GetUserByUsername(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, u.ID, byName.ID)

	var nf *models.NotFoundError
	_, err = repo.GetUserByUsername(ctx, "bob")
	assert.ErrorAs(t, err, &nf)
	_, err = repo.GetUserByID(ctx, 99)
	assert.ErrorAs(t, err, &nf)
}

func TestTransactor_CanceledContext(t *testing.T) {
	tr := memory.NewTransactor()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	called := false
	err := tr.WithinTx(ctx, func(tx *sql.Tx) error {
		called = true
		return nil
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, called)

	err = tr.WithinTx(context.Background(), func(tx *sql.Tx) error {
		assert.Nil(t, tx)
		called = true
		return nil
	})
	require.NoError(t, err)
	assert.True(t, called)
}

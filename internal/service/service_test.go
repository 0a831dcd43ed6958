package service_test

import (
	"context"
	"testing"
	"time"

	"github.com/linemk/shop-orders/internal/domain/models"
	"github.com/linemk/shop-orders/internal/lib/logger"
	"github.com/linemk/shop-orders/internal/lib/metrics"
	"github.com/linemk/shop-orders/internal/service"
	"github.com/linemk/shop-orders/internal/storage"
	"github.com/linemk/shop-orders/internal/storage/memory"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

const (
	productA int64 = 1
	productB int64 = 2
	userID   int64 = 42
)

var fixedNow = time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

// fixture - сервис заказов поверх хранилищ в памяти
type fixture struct {
	products *memory.ProductRepository
	orders   *memory.OrderRepository
	users    *memory.UserRepository
	engine   *service.ReservationEngine
	svc      service.OrderService
}

type fixtureOption func(*fixtureConfig)

type fixtureConfig struct {
	opts    service.OrderOptions
	orders  storage.OrderStorage
	metrics *metrics.OrderMetrics
}

func withOptions(opts service.OrderOptions) fixtureOption {
	return func(c *fixtureConfig) { c.opts = opts }
}

func withOrderStorage(s storage.OrderStorage) fixtureOption {
	return func(c *fixtureConfig) { c.orders = s }
}

func withMetrics(m *metrics.OrderMetrics) fixtureOption {
	return func(c *fixtureConfig) { c.metrics = m }
}

func newFixture(t testing.TB, options ...fixtureOption) *fixture {
	t.Helper()
	log := logger.Discard()

	f := &fixture{
		products: memory.NewProductRepository(),
		orders:   memory.NewOrderRepository(),
		users:    memory.NewUserRepository(),
	}
	cfg := &fixtureConfig{orders: f.orders}
	for _, o := range options {
		o(cfg)
	}
	if cfg.opts.Clock == nil {
		cfg.opts.Clock = func() time.Time { return fixedNow }
	}

	f.products.Put(models.Product{ID: productA, Name: "A", Price: decimal.RequireFromString("10.00"), Stock: 5, DefaultImageURL: "/a.png"})
	f.products.Put(models.Product{ID: productB, Name: "B", Price: decimal.RequireFromString("5.00"), Stock: 1})

	f.engine = service.NewReservationEngine(log, f.products)
	f.svc = service.NewOrderService(log, memory.NewTransactor(), f.engine, cfg.orders, f.products, f.users, cfg.metrics, cfg.opts)
	return f
}

func (f *fixture) stock(t testing.TB, id int64) int {
	t.Helper()
	p, err := f.products.GetProductByID(context.Background(), id)
	require.NoError(t, err)
	return p.Stock
}

func (f *fixture) createAB(t testing.TB) *service.OrderView {
	t.Helper()
	view, err := f.svc.CreateOrder(context.Background(), userID, "card", "Main st 1", []models.CartItem{
		{ProductID: productA, Quantity: 2},
		{ProductID: productB, Quantity: 1},
	})
	require.NoError(t, err)
	return view
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

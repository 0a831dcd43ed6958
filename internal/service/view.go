package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/linemk/shop-orders/internal/domain/models"
	"github.com/linemk/shop-orders/internal/storage"
	"github.com/shopspring/decimal"
)

// OrderView - заказ в том виде, в котором его видит вызывающий слой.
// Имена пользователя и товаров подтягиваются при чтении и в заказе не хранятся.
type OrderView struct {
	ID              int64           `json:"id"`
	UserID          int64           `json:"userId"`
	UserName        string          `json:"userName"`
	Lines           []OrderLineView `json:"items"`
	Total           decimal.Decimal `json:"total"`
	Status          string          `json:"status"`
	PaymentMethod   string          `json:"paymentMethod"`
	ShippingAddress string          `json:"shippingAddress"`
	CreatedAt       time.Time       `json:"createdAt"`
	UpdatedAt       time.Time       `json:"updatedAt"`
}

type OrderLineView struct {
	ID           int64           `json:"id"`
	ProductID    int64           `json:"productId"`
	ProductName  string          `json:"productName"`
	ProductImage string          `json:"productImage"`
	Quantity     int             `json:"quantity"`
	UnitPrice    decimal.Decimal `json:"unitPrice"`
	Subtotal     decimal.Decimal `json:"subtotal"`
}

type viewBuilder struct {
	log      *slog.Logger
	users    storage.UserStorage
	products storage.ProductStorage
}

// lookupCache живёт в пределах одного чтения, чтобы в списке не запрашивать одного и того же пользователя дважды
type lookupCache struct {
	users    map[int64]string
	products map[int64]*models.Product
}

func newLookupCache() *lookupCache {
	return &lookupCache{
		users:    make(map[int64]string),
		products: make(map[int64]*models.Product),
	}
}

func (b *viewBuilder) build(ctx context.Context, order *models.Order) *OrderView {
	return b.buildWith(ctx, newLookupCache(), order)
}

func (b *viewBuilder) buildAll(ctx context.Context, orders []*models.Order) []*OrderView {
	cache := newLookupCache()
	views := make([]*OrderView, 0, len(orders))
	for _, o := range orders {
		views = append(views, b.buildWith(ctx, cache, o))
	}
	return views
}

func (b *viewBuilder) buildWith(ctx context.Context, cache *lookupCache, order *models.Order) *OrderView {
	view := &OrderView{
		ID:              order.ID,
		UserID:          order.UserID,
		UserName:        b.userName(ctx, cache, order.UserID),
		Lines:           make([]OrderLineView, 0, len(order.Lines)),
		Total:           order.Total,
		Status:          string(order.Status),
		PaymentMethod:   order.PaymentMethod,
		ShippingAddress: order.ShippingAddress,
		CreatedAt:       order.CreatedAt,
		UpdatedAt:       order.UpdatedAt,
	}
	for _, line := range order.Lines {
		lv := OrderLineView{
			ID:        line.ID,
			ProductID: line.ProductID,
			Quantity:  line.Quantity,
			UnitPrice: line.UnitPrice,
			Subtotal:  line.Subtotal(),
		}
		// товар могли изменить или удалить из каталога - тогда поля остаются пустыми
		if p := b.product(ctx, cache, line.ProductID); p != nil {
			lv.ProductName = p.Name
			lv.ProductImage = p.DefaultImageURL
		}
		view.Lines = append(view.Lines, lv)
	}
	return view
}

func (b *viewBuilder) userName(ctx context.Context, cache *lookupCache, id int64) string {
	if name, ok := cache.users[id]; ok {
		return name
	}
	name := ""
	user, err := b.users.GetUserByID(ctx, id)
	if err == nil {
		name = user.DisplayName()
	} else {
		b.log.Debug("user lookup failed", slog.Int64("userID", id), slog.Any("error", err))
	}
	cache.users[id] = name
	return name
}

func (b *viewBuilder) product(ctx context.Context, cache *lookupCache, id int64) *models.Product {
	if p, ok := cache.products[id]; ok {
		return p
	}
	p, err := b.products.GetProductByID(ctx, id)
	if err != nil {
		b.log.Debug("product lookup failed", slog.Int64("productID", id), slog.Any("error", err))
		p = nil
	}
	cache.products[id] = p
	return p
}

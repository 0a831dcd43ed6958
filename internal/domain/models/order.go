package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// OrderStatus статус заказа
type OrderStatus string

const (
	StatusPending    OrderStatus = "Pending"
	StatusProcessing OrderStatus = "Processing"
	StatusShipped    OrderStatus = "Shipped"
	StatusDelivered  OrderStatus = "Delivered"
	StatusCancelled  OrderStatus = "Cancelled"
)

var orderStatuses = []OrderStatus{
	StatusPending,
	StatusProcessing,
	StatusShipped,
	StatusDelivered,
	StatusCancelled,
}

// ParseOrderStatus проверяет, что строка - одно из пяти допустимых значений статуса
func ParseOrderStatus(s string) (OrderStatus, error) {
	for _, st := range orderStatuses {
		if string(st) == s {
			return st, nil
		}
	}
	return "", NewValidationError("unknown order status: %q", s)
}

// Order представляет заказ вместе с позициями.
// Total фиксируется при создании и больше никогда не пересчитывается.
type Order struct {
	ID              int64
	UserID          int64
	Lines           []OrderLine
	Total           decimal.Decimal
	Status          OrderStatus
	PaymentMethod   string
	ShippingAddress string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// OrderLine - позиция заказа с ценой на момент покупки
type OrderLine struct {
	ID        int64
	OrderID   int64
	ProductID int64
	Quantity  int
	UnitPrice decimal.Decimal
}

// Subtotal возвращает цену позиции (unit price * quantity)
func (l OrderLine) Subtotal() decimal.Decimal {
	return l.UnitPrice.Mul(decimal.NewFromInt(int64(l.Quantity)))
}

// SumLines считает итог заказа по позициям
func SumLines(lines []OrderLine) decimal.Decimal {
	total := decimal.Zero
	for _, l := range lines {
		total = total.Add(l.Subtotal())
	}
	return total
}

// CartItem - запрошенная позиция корзины
type CartItem struct {
	ProductID int64
	Quantity  int
}

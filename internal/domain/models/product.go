package models

import "github.com/shopspring/decimal"

// Product представляет товар каталога и его остаток на складе
type Product struct {
	ID              int64           // Уникальный идентификатор товара
	Name            string          // Название товара
	Price           decimal.Decimal // Текущая цена
	Stock           int             // Доступное количество
	DefaultImageURL string
}

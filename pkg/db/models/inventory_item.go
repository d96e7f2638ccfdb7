package models

import "time"

// InventoryItem is the stock counter for one catalog product.
type InventoryItem struct {
	ProductID string    `gorm:"column:product_id;primaryKey"`
	Stock     int       `gorm:"column:stock;not null;default:0"`
	UpdatedAt time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

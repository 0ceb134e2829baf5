package models

import "gorm.io/datatypes"

// Product is a catalog item. Tags are compared as a whole; a change to any
// tag records the full old and new list.
type Product struct {
	Base
	Name        string                      `gorm:"not null" json:"name"`
	SKU         string                      `gorm:"uniqueIndex;not null" json:"sku"`
	Description string                      `json:"description"`
	Price       int64                       `gorm:"not null" json:"price"` // minor units
	Currency    string                      `gorm:"size:3;not null" json:"currency"`
	Stock       int                         `gorm:"not null" json:"stock"`
	Tags        datatypes.JSONSlice[string] `json:"tags"`
	CreatedBy   string                      `gorm:"type:uuid" json:"created_by"`
}

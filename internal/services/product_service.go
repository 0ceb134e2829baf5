package services

import (
	"context"
	"errors"
	"strings"

	"gorm.io/datatypes"
	"gorm.io/gorm"

	apperrors "audittrail/internal/errors"
	"audittrail/internal/models"
	"audittrail/internal/pagination"
)

// productService handles product catalog logic.
type productService struct {
	db *gorm.DB
}

// NewProductService creates a new ProductServicer.
func NewProductService(db *gorm.DB) ProductServicer {
	return &productService{db: db}
}

// CreateProduct adds a product owned by userID.
func (s *productService) CreateProduct(ctx context.Context, userID string, input ProductInput) (*models.Product, error) {
	if input.Name == nil || strings.TrimSpace(*input.Name) == "" {
		return nil, apperrors.WithMessage(apperrors.ErrInvalidInput, "product name is required")
	}
	if input.SKU == nil || strings.TrimSpace(*input.SKU) == "" {
		return nil, apperrors.WithMessage(apperrors.ErrInvalidInput, "product SKU is required")
	}
	if input.Price != nil && *input.Price < 0 {
		return nil, apperrors.WithMessage(apperrors.ErrInvalidInput, "price cannot be negative")
	}
	if input.Stock != nil && *input.Stock < 0 {
		return nil, apperrors.WithMessage(apperrors.ErrInvalidInput, "stock cannot be negative")
	}

	sku := strings.ToUpper(strings.TrimSpace(*input.SKU))
	if err := s.ensureUniqueSKU(ctx, sku, ""); err != nil {
		return nil, err
	}

	product := &models.Product{
		Name:      strings.TrimSpace(*input.Name),
		SKU:       sku,
		Currency:  "USD",
		CreatedBy: userID,
	}
	if input.Description != nil {
		product.Description = *input.Description
	}
	if input.Price != nil {
		product.Price = *input.Price
	}
	if input.Currency != nil && *input.Currency != "" {
		product.Currency = strings.ToUpper(*input.Currency)
	}
	if input.Stock != nil {
		product.Stock = *input.Stock
	}
	if input.Tags != nil {
		product.Tags = datatypes.JSONSlice[string](input.Tags)
	}

	if err := s.db.WithContext(ctx).Create(product).Error; err != nil {
		return nil, passThroughAudit(err)
	}
	return product, nil
}

// GetProducts lists products, newest first.
func (s *productService) GetProducts(ctx context.Context, page pagination.PageRequest) (*pagination.PageResponse[models.Product], error) {
	page.Normalize()

	base := s.db.WithContext(ctx).Model(&models.Product{})

	var totalItems int64
	if err := base.Count(&totalItems).Error; err != nil {
		return nil, apperrors.Wrap(apperrors.ErrInternalServer, err)
	}

	var products []models.Product
	if err := base.Scopes(pagination.Paginate(page, "created_at DESC", "id DESC")).Find(&products).Error; err != nil {
		return nil, apperrors.Wrap(apperrors.ErrInternalServer, err)
	}

	result := pagination.NewPageResponse(products, page.Page, page.PageSize, totalItems)
	return &result, nil
}

// GetProductByID retrieves a product by ID
func (s *productService) GetProductByID(ctx context.Context, productID string) (*models.Product, error) {
	var product models.Product
	if err := s.db.WithContext(ctx).Where("id = ?", productID).First(&product).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperrors.ErrProductNotFound
		}
		return nil, apperrors.Wrap(apperrors.ErrInternalServer, err)
	}
	return &product, nil
}

// UpdateProduct applies the non-nil fields of input.
func (s *productService) UpdateProduct(ctx context.Context, productID string, input ProductInput) (*models.Product, error) {
	product, err := s.GetProductByID(ctx, productID)
	if err != nil {
		return nil, err
	}

	updates := make(map[string]interface{})
	if input.Name != nil {
		if strings.TrimSpace(*input.Name) == "" {
			return nil, apperrors.WithMessage(apperrors.ErrInvalidInput, "product name cannot be empty")
		}
		updates["name"] = strings.TrimSpace(*input.Name)
	}
	if input.SKU != nil {
		sku := strings.ToUpper(strings.TrimSpace(*input.SKU))
		if sku == "" {
			return nil, apperrors.WithMessage(apperrors.ErrInvalidInput, "product SKU cannot be empty")
		}
		if sku != product.SKU {
			if err := s.ensureUniqueSKU(ctx, sku, product.ID); err != nil {
				return nil, err
			}
		}
		updates["sku"] = sku
	}
	if input.Description != nil {
		updates["description"] = *input.Description
	}
	if input.Price != nil {
		if *input.Price < 0 {
			return nil, apperrors.WithMessage(apperrors.ErrInvalidInput, "price cannot be negative")
		}
		updates["price"] = *input.Price
	}
	if input.Currency != nil {
		updates["currency"] = strings.ToUpper(*input.Currency)
	}
	if input.Stock != nil {
		if *input.Stock < 0 {
			return nil, apperrors.WithMessage(apperrors.ErrInvalidInput, "stock cannot be negative")
		}
		updates["stock"] = *input.Stock
	}
	if input.Tags != nil {
		updates["tags"] = datatypes.JSONSlice[string](input.Tags)
	}

	if len(updates) > 0 {
		if err := s.db.WithContext(ctx).Model(product).Updates(updates).Error; err != nil {
			return nil, passThroughAudit(err)
		}
	}
	return product, nil
}

// DeleteProduct soft-deletes a product.
func (s *productService) DeleteProduct(ctx context.Context, productID string) error {
	product, err := s.GetProductByID(ctx, productID)
	if err != nil {
		return err
	}
	if err := s.db.WithContext(ctx).Delete(product).Error; err != nil {
		return passThroughAudit(err)
	}
	return nil
}

func (s *productService) ensureUniqueSKU(ctx context.Context, sku, exceptID string) error {
	query := s.db.WithContext(ctx).Unscoped().Model(&models.Product{}).Where("sku = ?", sku)
	if exceptID != "" {
		query = query.Where("id <> ?", exceptID)
	}
	var count int64
	if err := query.Count(&count).Error; err != nil {
		return apperrors.Wrap(apperrors.ErrInternalServer, err)
	}
	if count > 0 {
		return apperrors.ErrDuplicateSKU
	}
	return nil
}

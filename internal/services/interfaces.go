package services

import (
	"context"
	"time"

	"audittrail/internal/audit"
	"audittrail/internal/models"
	"audittrail/internal/pagination"
)

// UserServicer defines the contract for user-related business logic.
type UserServicer interface {
	CreateUser(ctx context.Context, email, password, firstName, lastName string) (*models.User, error)
	GetUserByEmail(ctx context.Context, email string) (*models.User, error)
	GetUserByID(ctx context.Context, id string) (*models.User, error)
	VerifyPassword(user *models.User, password string) bool
	AttemptLogin(ctx context.Context, email, password string) (*models.User, error)
	UpdateProfile(ctx context.Context, userID, firstName, lastName string) (*models.User, error)
	ChangePassword(ctx context.Context, userID, currentPassword, newPassword string) error
	DeleteUser(ctx context.Context, userID string) error
	StoreRefreshTokenHash(ctx context.Context, userID, tokenHash string) error
	GetRefreshTokenHash(ctx context.Context, userID string) (string, error)
}

// ProductInput carries the writable fields of a product. Nil pointers on
// update leave the stored value untouched.
type ProductInput struct {
	Name        *string
	SKU         *string
	Description *string
	Price       *int64
	Currency    *string
	Stock       *int
	Tags        []string
}

// ProductServicer defines the contract for product catalog logic.
type ProductServicer interface {
	CreateProduct(ctx context.Context, userID string, input ProductInput) (*models.Product, error)
	GetProducts(ctx context.Context, page pagination.PageRequest) (*pagination.PageResponse[models.Product], error)
	GetProductByID(ctx context.Context, productID string) (*models.Product, error)
	UpdateProduct(ctx context.Context, productID string, input ProductInput) (*models.Product, error)
	DeleteProduct(ctx context.Context, productID string) error
}

// Provenance is the optional request context stored with manual change records.
type Provenance struct {
	IPAddress string
	UserAgent string
	Reason    string
}

// AuditServicer records changes made outside the ORM and queries the change log.
type AuditServicer interface {
	LogChange(ctx context.Context, oldEntity, newEntity any, changedBy, entityID string, op models.OperationType, prov Provenance) ([]models.ChangeRecord, error)
	GetByEntity(ctx context.Context, entityName, entityID string) ([]models.ChangeRecord, error)
	GetByDateRange(ctx context.Context, start, end time.Time) ([]models.ChangeRecord, error)
	Search(ctx context.Context, filter audit.Filter, page pagination.PageRequest) (*pagination.PageResponse[models.ChangeRecord], error)
	EntityNames() []string
	DecodeEntity(entityName string, raw []byte) (any, error)
}

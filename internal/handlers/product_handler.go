package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	apperrors "audittrail/internal/errors"
	"audittrail/internal/pagination"
	"audittrail/internal/services"
)

// ProductHandler handles product catalog requests.
type ProductHandler struct {
	productService services.ProductServicer
}

// NewProductHandler creates a new ProductHandler.
func NewProductHandler(productService services.ProductServicer) *ProductHandler {
	return &ProductHandler{productService: productService}
}

// CreateProductRequest represents the request payload for creating a product
type CreateProductRequest struct {
	Name        string   `json:"name" binding:"required,max=255"`
	SKU         string   `json:"sku" binding:"required,sku"`
	Description string   `json:"description" binding:"max=2000"`
	Price       int64    `json:"price" binding:"gte=0"`
	Currency    string   `json:"currency" binding:"omitempty,iso4217"`
	Stock       int      `json:"stock" binding:"gte=0"`
	Tags        []string `json:"tags" binding:"omitempty,max=20,dive,max=50"`
}

// UpdateProductRequest represents a partial product update. Omitted fields
// keep their stored value.
type UpdateProductRequest struct {
	Name        *string  `json:"name" binding:"omitempty,max=255"`
	SKU         *string  `json:"sku" binding:"omitempty,sku"`
	Description *string  `json:"description" binding:"omitempty,max=2000"`
	Price       *int64   `json:"price" binding:"omitempty,gte=0"`
	Currency    *string  `json:"currency" binding:"omitempty,iso4217"`
	Stock       *int     `json:"stock" binding:"omitempty,gte=0"`
	Tags        []string `json:"tags" binding:"omitempty,max=20,dive,max=50"`
}

// CreateProduct handles the creation of a new product
// @Summary     Create a product
// @Description Create a catalog product. Every set field is recorded in the change log.
// @Tags        products
// @Accept      json
// @Produce     json
// @Security    BearerAuth
// @Param       X-Change-Reason header string false "Reason stored with the change records"
// @Param       request body CreateProductRequest true "Product details"
// @Success     201 {object} models.Product "Product created"
// @Failure     400 {object} ErrorResponse "Invalid input"
// @Failure     401 {object} ErrorResponse "Unauthorized"
// @Failure     409 {object} ErrorResponse "Duplicate SKU"
// @Failure     500 {object} ErrorResponse "Server error"
// @Router      /products [post]
func (h *ProductHandler) CreateProduct(c *gin.Context) {
	userID, err := getUserID(c)
	if err != nil {
		respondWithError(c, err)
		return
	}

	var req CreateProductRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondWithError(c, apperrors.WithMessage(apperrors.ErrInvalidInput, err.Error()))
		return
	}

	input := services.ProductInput{
		Name:        &req.Name,
		SKU:         &req.SKU,
		Description: &req.Description,
		Price:       &req.Price,
		Stock:       &req.Stock,
		Tags:        req.Tags,
	}
	if req.Currency != "" {
		input.Currency = &req.Currency
	}

	product, err := h.productService.CreateProduct(c.Request.Context(), userID, input)
	if err != nil {
		respondWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"product": product})
}

// GetProducts lists products
// @Summary     List products
// @Description Get a paginated list of products, newest first
// @Tags        products
// @Produce     json
// @Security    BearerAuth
// @Param       page      query int false "Page number (default 1)"
// @Param       page_size query int false "Items per page (default 20, max 100)"
// @Success     200 {object} pagination.PageResponse[models.Product] "Paginated products"
// @Failure     400 {object} ErrorResponse "Invalid input"
// @Failure     401 {object} ErrorResponse "Unauthorized"
// @Router      /products [get]
func (h *ProductHandler) GetProducts(c *gin.Context) {
	var page pagination.PageRequest
	if err := c.ShouldBindQuery(&page); err != nil {
		respondWithError(c, apperrors.WithMessage(apperrors.ErrInvalidInput, err.Error()))
		return
	}

	result, err := h.productService.GetProducts(c.Request.Context(), page)
	if err != nil {
		respondWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, result)
}

// GetProductByID returns one product
// @Summary     Get a product
// @Tags        products
// @Produce     json
// @Security    BearerAuth
// @Param       id path string true "Product ID"
// @Success     200 {object} models.Product "Product"
// @Failure     404 {object} ErrorResponse "Product not found"
// @Router      /products/{id} [get]
func (h *ProductHandler) GetProductByID(c *gin.Context) {
	product, err := h.productService.GetProductByID(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"product": product})
}

// UpdateProduct applies a partial update
// @Summary     Update a product
// @Description Update the given fields of a product. Only fields whose value changes are recorded.
// @Tags        products
// @Accept      json
// @Produce     json
// @Security    BearerAuth
// @Param       id path string true "Product ID"
// @Param       X-Change-Reason header string false "Reason stored with the change records"
// @Param       request body UpdateProductRequest true "Fields to update"
// @Success     200 {object} models.Product "Updated product"
// @Failure     400 {object} ErrorResponse "Invalid input"
// @Failure     404 {object} ErrorResponse "Product not found"
// @Failure     409 {object} ErrorResponse "Duplicate SKU"
// @Router      /products/{id} [put]
func (h *ProductHandler) UpdateProduct(c *gin.Context) {
	var req UpdateProductRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondWithError(c, apperrors.WithMessage(apperrors.ErrInvalidInput, err.Error()))
		return
	}

	product, err := h.productService.UpdateProduct(c.Request.Context(), c.Param("id"), services.ProductInput{
		Name:        req.Name,
		SKU:         req.SKU,
		Description: req.Description,
		Price:       req.Price,
		Currency:    req.Currency,
		Stock:       req.Stock,
		Tags:        req.Tags,
	})
	if err != nil {
		respondWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"product": product})
}

// DeleteProduct removes a product
// @Summary     Delete a product
// @Tags        products
// @Security    BearerAuth
// @Param       id path string true "Product ID"
// @Param       X-Change-Reason header string false "Reason stored with the change records"
// @Success     204 "Product deleted"
// @Failure     404 {object} ErrorResponse "Product not found"
// @Router      /products/{id} [delete]
func (h *ProductHandler) DeleteProduct(c *gin.Context) {
	if err := h.productService.DeleteProduct(c.Request.Context(), c.Param("id")); err != nil {
		respondWithError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// Package api exposes the catalog, checkout and fulfillment operations over
// JSON HTTP for the admin UI and the payment webhook.
package api

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/safar/handloom-fulfillment/internal/checkout"
	"github.com/safar/handloom-fulfillment/internal/ledger"
	"github.com/safar/handloom-fulfillment/internal/lifecycle"
	"github.com/safar/handloom-fulfillment/internal/logger"
	"github.com/safar/handloom-fulfillment/internal/models"
	"github.com/safar/handloom-fulfillment/internal/packing"
	"github.com/safar/handloom-fulfillment/internal/store"
	"go.uber.org/zap"
)

type Catalog interface {
	CreateProduct(ctx context.Context, p ledger.NewProduct) (*models.Product, error)
	MergeStock(ctx context.Context, productID int64, amount int) (int, error)
	Product(ctx context.Context, productID int64) (*models.Product, error)
	ListProducts(ctx context.Context, page, pageSize int) (*store.OffsetPage, error)
}

type Checkout interface {
	Quote(ctx context.Context, cart checkout.Cart) (*checkout.Quote, error)
	PlaceOrder(ctx context.Context, cart checkout.Cart, customer models.Customer, paymentRef string) (*checkout.Placement, error)
}

type Fulfillment interface {
	GetOrder(ctx context.Context, id int64) (*models.Order, error)
	ListOrders(ctx context.Context, status models.OrderStatus, cursor string, limit int) (*store.CursorPage, error)
	Transition(ctx context.Context, orderID int64, from, to models.OrderStatus, payload lifecycle.Payload) (*models.Order, error)
	OpenPacking(ctx context.Context, orderID int64) (packing.View, error)
	Scan(ctx context.Context, orderID int64, barcode string) (packing.ScanReport, error)
	ConfirmPacked(ctx context.Context, orderID int64) (*models.Order, error)
	AbortPacking(ctx context.Context, orderID int64) error
	ClaimNext(ctx context.Context) (*models.Order, packing.View, error)
}

type Handler struct {
	catalog     Catalog
	checkout    Checkout
	fulfillment Fulfillment
	ping        func(ctx context.Context) error
	logger      *zap.Logger
}

func NewHandler(catalog Catalog, co Checkout, f Fulfillment, ping func(ctx context.Context) error, logger *zap.Logger) *Handler {
	return &Handler{
		catalog:     catalog,
		checkout:    co,
		fulfillment: f,
		ping:        ping,
		logger:      logger.Named("api"),
	}
}

// NewRouter wires the routes onto a gin engine with request logging and
// panic recovery.
func NewRouter(h *Handler, base *zap.Logger) *gin.Engine {
	r := gin.New()
	r.Use(logger.RequestID(), logger.GinMiddleware(base), logger.Recovery(base))

	r.GET("/healthz", h.health)

	products := r.Group("/products")
	products.POST("", h.createProduct)
	products.GET("", h.listProducts)
	products.GET("/:id", h.getProduct)
	products.POST("/:id/merge-stock", h.mergeStock)

	co := r.Group("/checkout")
	co.POST("/quote", h.quote)
	co.POST("", h.placeOrder)

	orders := r.Group("/orders")
	orders.GET("", h.listOrders)
	orders.GET("/:id", h.getOrder)
	orders.POST("/:id/transition", h.transition)
	orders.POST("/:id/packing", h.openPacking)
	orders.POST("/:id/packing/scan", h.scan)
	orders.POST("/:id/packing/complete", h.completePacking)
	orders.DELETE("/:id/packing", h.abortPacking)

	r.POST("/packing/claim", h.claimNext)

	return r
}

func (h *Handler) health(c *gin.Context) {
	if h.ping != nil {
		if err := h.ping(c.Request.Context()); err != nil {
			h.logger.Warn("Health check failed", zap.Error(err))
			respondError(c, http.StatusServiceUnavailable, "UNAVAILABLE", "database unavailable")
			return
		}
	}
	respondJSON(c, http.StatusOK, gin.H{"status": "ok"})
}

func pathID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		respondError(c, http.StatusBadRequest, "INVALID_ID", "invalid id")
		return 0, false
	}
	return id, true
}

func bindJSON(c *gin.Context, dst any) bool {
	if err := c.ShouldBindJSON(dst); err != nil {
		respondError(c, http.StatusBadRequest, "INVALID_BODY", "invalid request body")
		return false
	}
	return true
}

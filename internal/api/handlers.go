package api

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/safar/handloom-fulfillment/internal/checkout"
	"github.com/safar/handloom-fulfillment/internal/ledger"
	"github.com/safar/handloom-fulfillment/internal/lifecycle"
	"github.com/safar/handloom-fulfillment/internal/models"
)

func (h *Handler) createProduct(c *gin.Context) {
	var req ledger.NewProduct
	if !bindJSON(c, &req) {
		return
	}

	product, err := h.catalog.CreateProduct(c.Request.Context(), req)
	if err != nil {
		respondErr(c, h.logger, err)
		return
	}
	respondJSON(c, http.StatusCreated, product)
}

func (h *Handler) listProducts(c *gin.Context) {
	page, _ := strconv.Atoi(c.Query("page"))
	if page < 1 {
		page = 1
	}
	pageSize, _ := strconv.Atoi(c.Query("page_size"))
	if pageSize < 1 || pageSize > 100 {
		pageSize = 20
	}

	result, err := h.catalog.ListProducts(c.Request.Context(), page, pageSize)
	if err != nil {
		respondErr(c, h.logger, err)
		return
	}
	respondJSON(c, http.StatusOK, result)
}

func (h *Handler) getProduct(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}

	product, err := h.catalog.Product(c.Request.Context(), id)
	if err != nil {
		respondErr(c, h.logger, err)
		return
	}
	respondJSON(c, http.StatusOK, product)
}

func (h *Handler) mergeStock(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	var req struct {
		Quantity int `json:"quantity"`
	}
	if !bindJSON(c, &req) {
		return
	}

	total, err := h.catalog.MergeStock(c.Request.Context(), id, req.Quantity)
	if err != nil {
		respondErr(c, h.logger, err)
		return
	}
	respondJSON(c, http.StatusOK, gin.H{"product_id": id, "quantity": total})
}

func (h *Handler) quote(c *gin.Context) {
	var cart checkout.Cart
	if !bindJSON(c, &cart) {
		return
	}

	quote, err := h.checkout.Quote(c.Request.Context(), cart)
	if err != nil {
		respondErr(c, h.logger, err)
		return
	}
	respondJSON(c, http.StatusOK, quote)
}

type placeOrderRequest struct {
	Lines      []checkout.Line `json:"lines"`
	Customer   models.Customer `json:"customer"`
	PaymentRef string          `json:"payment_ref"`
}

func (h *Handler) placeOrder(c *gin.Context) {
	var req placeOrderRequest
	if !bindJSON(c, &req) {
		return
	}

	placement, err := h.checkout.PlaceOrder(c.Request.Context(), checkout.Cart{Lines: req.Lines}, req.Customer, req.PaymentRef)
	if err != nil {
		respondErr(c, h.logger, err)
		return
	}
	respondJSON(c, http.StatusCreated, placement)
}

func (h *Handler) getOrder(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}

	order, err := h.fulfillment.GetOrder(c.Request.Context(), id)
	if err != nil {
		respondErr(c, h.logger, err)
		return
	}
	respondJSON(c, http.StatusOK, order)
}

func (h *Handler) listOrders(c *gin.Context) {
	status := models.OrderStatus(strings.TrimSpace(c.Query("status")))
	if status != "" && !status.IsValid() {
		respondError(c, http.StatusBadRequest, "INVALID_STATUS", "unknown order status")
		return
	}
	limit, _ := strconv.Atoi(c.Query("limit"))
	if limit < 1 || limit > 100 {
		limit = 20
	}

	page, err := h.fulfillment.ListOrders(c.Request.Context(), status, c.Query("cursor"), limit)
	if err != nil {
		respondErr(c, h.logger, err)
		return
	}
	respondJSON(c, http.StatusOK, page)
}

type transitionRequest struct {
	From models.OrderStatus `json:"from"`
	To   models.OrderStatus `json:"to"`
	lifecycle.Payload
}

func (h *Handler) transition(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	var req transitionRequest
	if !bindJSON(c, &req) {
		return
	}
	if !req.From.IsValid() || !req.To.IsValid() {
		respondError(c, http.StatusBadRequest, "INVALID_STATUS", "from and to must be known order statuses")
		return
	}

	order, err := h.fulfillment.Transition(c.Request.Context(), id, req.From, req.To, req.Payload)
	if err != nil {
		respondErr(c, h.logger, err)
		return
	}
	respondJSON(c, http.StatusOK, order)
}

func (h *Handler) openPacking(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}

	view, err := h.fulfillment.OpenPacking(c.Request.Context(), id)
	if err != nil {
		respondErr(c, h.logger, err)
		return
	}
	respondJSON(c, http.StatusOK, view)
}

func (h *Handler) scan(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	var req struct {
		Barcode string `json:"barcode"`
	}
	if !bindJSON(c, &req) {
		return
	}

	report, err := h.fulfillment.Scan(c.Request.Context(), id, req.Barcode)
	if err != nil {
		respondErr(c, h.logger, err)
		return
	}
	respondJSON(c, http.StatusOK, report)
}

func (h *Handler) completePacking(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}

	order, err := h.fulfillment.ConfirmPacked(c.Request.Context(), id)
	if err != nil {
		respondErr(c, h.logger, err)
		return
	}
	respondJSON(c, http.StatusOK, order)
}

func (h *Handler) abortPacking(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}

	if err := h.fulfillment.AbortPacking(c.Request.Context(), id); err != nil {
		respondErr(c, h.logger, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) claimNext(c *gin.Context) {
	order, view, err := h.fulfillment.ClaimNext(c.Request.Context())
	if err != nil {
		respondErr(c, h.logger, err)
		return
	}
	respondJSON(c, http.StatusOK, gin.H{"order": order, "packing": view})
}

// Package httpapi is the REST intake for orders, served by gin.
package httpapi

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"orderpipe/domain/order"
	"orderpipe/infra/clock"
)

const createdMessage = "Order created successfully"

// Orders is the slice of the order service the API needs.
type Orders interface {
	Create(ctx context.Context, req order.CreateRequest) (order.Order, error)
	Get(ctx context.Context, orderID string) (order.Order, bool)
}

// OrderResponse is returned for created and fetched orders.
type OrderResponse struct {
	OrderID      string       `json:"orderId"`
	CustomerName string       `json:"customerName"`
	Items        []order.Item `json:"items"`
	Status       order.Status `json:"status"`
	Message      string       `json:"message,omitempty"`
}

type errorResponse struct {
	Timestamp string            `json:"timestamp"`
	Path      string            `json:"path"`
	ErrorCode string            `json:"errorCode"`
	Message   string            `json:"message"`
	Details   string            `json:"details,omitempty"`
	Fields    map[string]string `json:"fields,omitempty"`
}

type Server struct {
	orders Orders
	clock  clock.Clock
	log    *zap.Logger
	router *gin.Engine
}

func NewServer(orders Orders, clk clock.Clock, log *zap.Logger) *Server {
	if clk == nil {
		clk = clock.Real{}
	}
	if log == nil {
		log = zap.NewNop()
	}

	router := gin.New()
	router.Use(gin.Recovery())

	s := &Server{
		orders: orders,
		clock:  clk,
		log:    log.Named("http"),
		router: router,
	}

	router.GET("/healthz", s.handleHealth)
	router.POST("/orders", s.handleCreate)
	router.GET("/orders/:id", s.handleGet)

	return s
}

// Handler exposes the router for an http.Server or tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) handleCreate(c *gin.Context) {
	var req order.CreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.fail(c, http.StatusBadRequest, "MALFORMED_JSON", "Malformed JSON or wrong format", err.Error(), nil)
		return
	}

	o, err := s.orders.Create(c.Request.Context(), req)
	if err != nil {
		var verr *order.ValidationError
		if errors.As(err, &verr) {
			s.fail(c, http.StatusBadRequest, "VALIDATION_ERROR", "Request validation failed", verr.Error(), verr.Fields)
			return
		}
		s.log.Error("create order failed", zap.Error(err))
		s.fail(c, http.StatusInternalServerError, "INTERNAL_ERROR", "Unexpected error", "", nil)
		return
	}

	c.Header("Location", "/orders/"+o.OrderID)
	c.JSON(http.StatusCreated, toResponse(o, createdMessage))
}

func (s *Server) handleGet(c *gin.Context) {
	o, ok := s.orders.Get(c.Request.Context(), c.Param("id"))
	if !ok {
		s.fail(c, http.StatusNotFound, "NOT_FOUND", "Order not found", "", nil)
		return
	}
	c.JSON(http.StatusOK, toResponse(o, ""))
}

func (s *Server) fail(c *gin.Context, status int, code, msg, details string, fields map[string]string) {
	c.JSON(status, errorResponse{
		Timestamp: s.clock.Now().Format("2006-01-02T15:04:05.000Z07:00"),
		Path:      c.Request.URL.Path,
		ErrorCode: code,
		Message:   msg,
		Details:   details,
		Fields:    fields,
	})
}

func toResponse(o order.Order, msg string) OrderResponse {
	return OrderResponse{
		OrderID:      o.OrderID,
		CustomerName: o.CustomerName,
		Items:        o.Items,
		Status:       o.Status,
		Message:      msg,
	}
}

package http

import (
	"context"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	log "github.com/sirupsen/logrus"

	"github.com/avolkov/ticketchange/internal/domain"
	"github.com/avolkov/ticketchange/internal/service/change"
	redisstore "github.com/avolkov/ticketchange/internal/storage/redis"
)

// Deps перечисляет зависимости HTTP-слоя. Cache и Idempotency опциональны:
// без кеша чтение идёт напрямую в хранилище, без idempotency-репозитория
// заголовок Idempotency-Key игнорируется.
type Deps struct {
	Changes     *change.Service
	Orders      domain.OrderRepository
	Items       domain.ItemRepository
	Payments    domain.PaymentRepository
	Quotas      domain.QuotaService
	Timeline    domain.TimelineRepository
	Idempotency domain.IdempotencyRepository
	Cache       *redisstore.OrderCache
	Logger      *log.Entry
}

// Server — HTTP-интерфейс сервиса изменения заказов.
type Server struct {
	echo   *echo.Echo
	deps   Deps
	logger *log.Entry
}

// NewServer создаёт echo-сервер и регистрирует маршруты.
func NewServer(deps Deps) *Server {
	logger := deps.Logger
	if logger == nil {
		logger = log.WithField("component", "http")
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())

	s := &Server{
		echo:   e,
		deps:   deps,
		logger: logger,
	}
	s.registerRoutes()
	return s
}

func (s *Server) registerRoutes() {
	s.echo.GET("/healthz", func(c echo.Context) error {
		return c.JSON(http.StatusOK, echo.Map{"status": "ok"})
	})

	v1 := s.echo.Group("/v1")
	v1.POST("/orders", s.createOrder)
	v1.GET("/orders", s.listOrders)
	v1.GET("/orders/:id", s.getOrder)
	v1.POST("/orders/:id/changes", s.applyChanges)
	v1.POST("/orders/:id/cancel", s.cancelOrder)
	v1.GET("/orders/:id/timeline", s.getTimeline)
}

// Handler отдаёт http.Handler для тестов и встраивания.
func (s *Server) Handler() http.Handler {
	return s.echo
}

// Start запускает сервер и блокируется до остановки.
func (s *Server) Start(addr string) error {
	s.logger.WithField("addr", addr).Info("http server listening")
	err := s.echo.Start(addr)
	if err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown останавливает сервер, дожидаясь активных запросов.
func (s *Server) Shutdown(ctx context.Context) error {
	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	return s.echo.Shutdown(shutdownCtx)
}

package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/linemk/shop-orders/internal/domain/models"
	"github.com/linemk/shop-orders/internal/lib/metrics"
	"github.com/linemk/shop-orders/internal/storage"
)

// OrderService - единственная точка входа для создания, чтения, смены статуса и удаления заказов
type OrderService interface {
	CreateOrder(ctx context.Context, userID int64, paymentMethod, shippingAddress string, items []models.CartItem) (*OrderView, error)
	GetOrder(ctx context.Context, id int64) (*OrderView, error)
	ListOrdersForUser(ctx context.Context, userID int64) ([]*OrderView, error)
	ListAllOrders(ctx context.Context) ([]*OrderView, error)
	UpdateOrderStatus(ctx context.Context, id int64, status string) (*OrderView, error)
	DeleteOrder(ctx context.Context, id int64) error
}

// Clock источник текущего времени
type Clock func() time.Time

// OrderOptions настройки жизненного цикла заказа
type OrderOptions struct {
	// StrictTransitions включает граф переходов вместо проверки "статус из списка"
	StrictTransitions bool
	// RestockOnDelete возвращает остатки на склад при удалении заказа
	RestockOnDelete bool
	// OperationTimeout ограничивает каждую операцию, 0 - без ограничения
	OperationTimeout time.Duration
	Clock            Clock
}

type orderService struct {
	log       *slog.Logger
	tx        storage.Transactor
	engine    *ReservationEngine
	orderRepo storage.OrderStorage
	views     *viewBuilder
	metrics   *metrics.OrderMetrics
	opts      OrderOptions
}

func NewOrderService(
	log *slog.Logger,
	tx storage.Transactor,
	engine *ReservationEngine,
	orderRepo storage.OrderStorage,
	productRepo storage.ProductStorage,
	userRepo storage.UserStorage,
	m *metrics.OrderMetrics,
	opts OrderOptions,
) OrderService {
	if opts.Clock == nil {
		opts.Clock = func() time.Time { return time.Now().UTC() }
	}
	return &orderService{
		log:       log,
		tx:        tx,
		engine:    engine,
		orderRepo: orderRepo,
		views:     &viewBuilder{log: log, users: userRepo, products: productRepo},
		metrics:   m,
		opts:      opts,
	}
}

func (s *orderService) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.opts.OperationTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, s.opts.OperationTimeout)
}

// CreateOrder резервирует корзину и сохраняет заказ с позициями в одной транзакции.
// Если что-то идет не так, резерв снимается, а транзакция откатывается.
func (s *orderService) CreateOrder(ctx context.Context, userID int64, paymentMethod, shippingAddress string, items []models.CartItem) (*OrderView, error) {
	const op = "service.OrderService.CreateOrder"
	logger := s.log.With(slog.String("op", op), slog.Int64("userID", userID), slog.Int("items", len(items)))
	logger.Info("creating order")

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	var created *models.Order
	err := s.tx.WithinTx(ctx, func(tx *sql.Tx) error {
		res, err := s.engine.Reserve(ctx, tx, items)
		if err != nil {
			return err
		}

		now := s.opts.Clock()
		order := &models.Order{
			UserID:          userID,
			Lines:           res.Lines,
			Total:           res.Total,
			Status:          models.StatusPending,
			PaymentMethod:   paymentMethod,
			ShippingAddress: shippingAddress,
			CreatedAt:       now,
			UpdatedAt:       now,
		}
		created, err = s.orderRepo.CreateOrder(ctx, tx, order)
		if err != nil {
			if relErr := s.engine.Release(ctx, tx, res.Lines); relErr != nil {
				logger.Error("failed to release reservation", slog.Any("error", relErr))
			}
			return err
		}
		return nil
	})
	if err != nil {
		err = opErr(ctx, op, err)
		s.metrics.OrderRejected(rejectReason(err))
		logger.Error("failed to create order", slog.Any("error", err))
		return nil, err
	}

	s.metrics.OrderCreated()
	logger.Info("order created", slog.Int64("orderID", created.ID), slog.String("total", created.Total.StringFixed(2)))
	return s.views.build(ctx, created), nil
}

func (s *orderService) GetOrder(ctx context.Context, id int64) (*OrderView, error) {
	const op = "service.OrderService.GetOrder"

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	order, err := s.orderRepo.GetOrderWithLines(ctx, id)
	if err != nil {
		s.log.Error("failed to get order", slog.String("op", op), slog.Int64("orderID", id), slog.Any("error", err))
		return nil, opErr(ctx, op, err)
	}
	return s.views.build(ctx, order), nil
}

func (s *orderService) ListOrdersForUser(ctx context.Context, userID int64) ([]*OrderView, error) {
	const op = "service.OrderService.ListOrdersForUser"

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	orders, err := s.orderRepo.GetOrdersByUserID(ctx, userID)
	if err != nil {
		s.log.Error("failed to list orders", slog.String("op", op), slog.Int64("userID", userID), slog.Any("error", err))
		return nil, opErr(ctx, op, err)
	}
	return s.views.buildAll(ctx, orders), nil
}

func (s *orderService) ListAllOrders(ctx context.Context) ([]*OrderView, error) {
	const op = "service.OrderService.ListAllOrders"

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	orders, err := s.orderRepo.GetAllOrders(ctx)
	if err != nil {
		s.log.Error("failed to list orders", slog.String("op", op), slog.Any("error", err))
		return nil, opErr(ctx, op, err)
	}
	return s.views.buildAll(ctx, orders), nil
}

// UpdateOrderStatus меняет статус заказа и обновляет updated_at.
// Без StrictTransitions допускается любой из пяти статусов.
func (s *orderService) UpdateOrderStatus(ctx context.Context, id int64, status string) (*OrderView, error) {
	const op = "service.OrderService.UpdateOrderStatus"
	logger := s.log.With(slog.String("op", op), slog.Int64("orderID", id), slog.String("status", status))

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	var updated *models.Order
	err := s.tx.WithinTx(ctx, func(tx *sql.Tx) error {
		order, err := s.orderRepo.LockOrderTx(ctx, tx, id)
		if err != nil {
			return err
		}
		next, err := models.ParseOrderStatus(status)
		if err != nil {
			return err
		}
		if s.opts.StrictTransitions && !canTransition(order.Status, next) {
			return &models.InvalidStateError{OrderID: id, Status: order.Status, Op: "move to " + string(next)}
		}

		now := s.opts.Clock()
		if err := s.orderRepo.UpdateOrderStatus(ctx, tx, id, next, now); err != nil {
			return err
		}
		order.Status = next
		order.UpdatedAt = now
		updated = order
		return nil
	})
	if err != nil {
		logger.Error("failed to update order status", slog.Any("error", err))
		return nil, opErr(ctx, op, err)
	}

	s.metrics.StatusChanged(string(updated.Status))
	logger.Info("order status updated")
	return s.views.build(ctx, updated), nil
}

// DeleteOrder удаляет заказ вместе с позициями, только пока он в статусе Pending.
// Остатки возвращаются на склад только при RestockOnDelete.
func (s *orderService) DeleteOrder(ctx context.Context, id int64) error {
	const op = "service.OrderService.DeleteOrder"
	logger := s.log.With(slog.String("op", op), slog.Int64("orderID", id))

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	err := s.tx.WithinTx(ctx, func(tx *sql.Tx) error {
		order, err := s.orderRepo.LockOrderTx(ctx, tx, id)
		if err != nil {
			return err
		}
		if order.Status != models.StatusPending {
			return &models.InvalidStateError{OrderID: id, Status: order.Status, Op: "delete"}
		}
		if err := s.orderRepo.DeleteOrder(ctx, tx, id); err != nil {
			return err
		}
		if s.opts.RestockOnDelete {
			if err := s.engine.Release(ctx, tx, order.Lines); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		logger.Error("failed to delete order", slog.Any("error", err))
		return opErr(ctx, op, err)
	}

	s.metrics.OrderDeleted()
	logger.Info("order deleted", slog.Bool("restocked", s.opts.RestockOnDelete))
	return nil
}

// allowedTransitions - граф переходов для строгого режима. Delivered и Cancelled конечные.
var allowedTransitions = map[models.OrderStatus][]models.OrderStatus{
	models.StatusPending:    {models.StatusProcessing, models.StatusCancelled},
	models.StatusProcessing: {models.StatusShipped, models.StatusCancelled},
	models.StatusShipped:    {models.StatusDelivered},
}

func canTransition(from, to models.OrderStatus) bool {
	if from == to {
		return true
	}
	for _, st := range allowedTransitions[from] {
		if st == to {
			return true
		}
	}
	return false
}

// opErr оборачивает ошибку операции. Если контекст уже истёк, его причина добавляется явно:
// драйвер возвращает собственную ошибку отмены запроса, по которой errors.Is(err, context.DeadlineExceeded) ложно.
func opErr(ctx context.Context, op string, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil && !errors.Is(err, ctxErr) {
		return fmt.Errorf("%s: %w: %w", op, ctxErr, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}

func isNotFound(err error) bool {
	var nf *models.NotFoundError
	return errors.As(err, &nf)
}

// rejectReason - метка причины отказа для метрик
func rejectReason(err error) string {
	var (
		validation *models.ValidationError
		notFound   *models.NotFoundError
		stock      *models.InsufficientStockError
	)
	switch {
	case errors.As(err, &validation):
		return "validation"
	case errors.As(err, &notFound):
		return "not_found"
	case errors.As(err, &stock):
		return "insufficient_stock"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "canceled"
	default:
		return "storage"
	}
}

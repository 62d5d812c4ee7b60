package order

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ServiceInterface defines the order service interface.
type ServiceInterface interface {
	CreateOrder(ctx context.Context, req *CreateOrderRequest) (*Order, error)
	GetOrder(ctx context.Context, id uuid.UUID) (*Order, error)
	FindByCode(ctx context.Context, code string) (*Order, error)
	TransitionToState(ctx context.Context, ord *Order, target State) error
}

// CreateOrderRequest holds the inputs for creating an order.
type CreateOrderRequest struct {
	Code         string      `json:"code" binding:"required"`
	CurrencyCode string      `json:"currency_code" binding:"required"`
	ChannelToken string      `json:"channel_token"`
	LanguageCode string      `json:"language_code"`
	CustomerID   *uuid.UUID  `json:"customer_id"`
	Lines        []OrderLine `json:"lines"`
}

// Service implements order operations.
type Service struct {
	repo   Repository
	sm     *StateMachine
	logger *zap.Logger
}

// NewService creates a new order service.
func NewService(repo Repository, logger *zap.Logger) *Service {
	return &Service{
		repo:   repo,
		sm:     NewStateMachine(),
		logger: logger,
	}
}

// CreateOrder creates a new order in the created state.
func (s *Service) CreateOrder(ctx context.Context, req *CreateOrderRequest) (*Order, error) {
	currency := strings.ToUpper(req.CurrencyCode)
	language := req.LanguageCode
	if language == "" {
		language = "en"
	}

	ord := &Order{
		ID:           uuid.New(),
		Code:         req.Code,
		State:        StateCreated,
		CurrencyCode: currency,
		ChannelToken: req.ChannelToken,
		LanguageCode: language,
		CustomerID:   req.CustomerID,
	}
	for _, line := range req.Lines {
		line.ID = uuid.New()
		line.OrderID = ord.ID
		if line.Quantity == 0 {
			line.Quantity = 1
		}
		line.Amount = int64(line.Quantity) * line.UnitPrice
		ord.TotalWithTax += line.Amount
		ord.Lines = append(ord.Lines, line)
	}

	if err := s.repo.CreateOrder(ctx, ord); err != nil {
		return nil, fmt.Errorf("create order: %w", err)
	}
	return ord, nil
}

// GetOrder returns an order by ID.
func (s *Service) GetOrder(ctx context.Context, id uuid.UUID) (*Order, error) {
	return s.repo.GetOrder(ctx, id)
}

// FindByCode returns an order by its public code.
func (s *Service) FindByCode(ctx context.Context, code string) (*Order, error) {
	return s.repo.GetOrderByCode(ctx, code)
}

// TransitionToState moves an order to the target state, guarding against
// concurrent updates. A transition the state table forbids fails
// structurally. A guarded update that loses the race, or a storage
// failure, fails retryably.
func (s *Service) TransitionToState(ctx context.Context, ord *Order, target State) error {
	from := ord.State
	if from == target {
		return nil
	}
	if !s.sm.CanTransition(from, target) {
		return &TransitionError{From: from, To: target, Err: ErrInvalidTransition}
	}

	ok, err := s.repo.UpdateOrderState(ctx, ord.ID, from, target)
	if err != nil {
		return &TransitionError{From: from, To: target, Retryable: true, Err: err}
	}
	if !ok {
		// Another writer moved the order first. Re-reading may show it
		// already reached the target.
		current, getErr := s.repo.GetOrder(ctx, ord.ID)
		if getErr == nil && current.State == target {
			ord.State = target
			return nil
		}
		return &TransitionError{
			From:      from,
			To:        target,
			Retryable: true,
			Err:       fmt.Errorf("concurrent state change on order %s", ord.Code),
		}
	}

	ord.State = target
	now := time.Now()
	switch target {
	case StatePaymentSettled:
		ord.SettledAt = &now
		if err := s.repo.UpdateOrder(ctx, ord); err != nil {
			s.logger.Warn("record settled timestamp",
				zap.String("order_code", ord.Code),
				zap.Error(err))
		}
	case StateCancelled:
		ord.CancelledAt = &now
		if err := s.repo.UpdateOrder(ctx, ord); err != nil {
			s.logger.Warn("record cancelled timestamp",
				zap.String("order_code", ord.Code),
				zap.Error(err))
		}
	}

	s.logger.Info("order state changed",
		zap.String("order_code", ord.Code),
		zap.String("from", string(from)),
		zap.String("to", string(target)))
	return nil
}

package payment

import (
	"fmt"
	"sync"

	"github.com/orderforge/payments/internal/module/payment/provider"
)

// HandlerRegistry holds the payment handlers available to payment
// methods, keyed by handler code.
type HandlerRegistry struct {
	mu       sync.RWMutex
	handlers map[string]provider.PaymentHandler
}

// NewHandlerRegistry creates a new handler registry.
func NewHandlerRegistry() *HandlerRegistry {
	return &HandlerRegistry{
		handlers: make(map[string]provider.PaymentHandler),
	}
}

// Register registers a handler under its code.
func (r *HandlerRegistry) Register(h provider.PaymentHandler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[h.Code()] = h
}

// Get returns a handler by code.
func (r *HandlerRegistry) Get(code string) (provider.PaymentHandler, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[code]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrHandlerNotFound, code)
	}
	return h, nil
}

// List returns all registered handler codes.
func (r *HandlerRegistry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	codes := make([]string, 0, len(r.handlers))
	for code := range r.handlers {
		codes = append(codes, code)
	}
	return codes
}

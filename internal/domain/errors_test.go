package domain_test

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/vitos/crypto_trade_core/internal/domain"
)

func TestExchangeError_Classification(t *testing.T) {
	cause := errors.New("connection reset")
	network := fmt.Errorf("fetch balance: %w", domain.NewNetworkError("read failed", cause))

	assert.True(t, domain.IsRetriable(network))
	assert.True(t, domain.IsErrorType(network, domain.ErrorTypeNetwork))
	assert.ErrorIs(t, network, cause)
	assert.Contains(t, network.Error(), "[network:network_error] read failed: connection reset")

	limited := domain.NewRateLimitError("slow down", 3*time.Second)
	assert.True(t, domain.IsRateLimit(limited))
	after, ok := domain.RetryAfter(fmt.Errorf("create order: %w", limited))
	assert.True(t, ok)
	assert.Equal(t, 3*time.Second, after)

	_, ok = domain.RetryAfter(network)
	assert.False(t, ok)

	for _, err := range []error{
		domain.NewAuthenticationError("bad key"),
		domain.NewFailedRequestError("bad request", nil),
		domain.NewOrderRejectedError("insufficient funds"),
		domain.NewProxyError("proxy down", false, nil),
	} {
		assert.False(t, domain.IsRetriable(err), err.Error())
	}
	assert.True(t, domain.IsRetriable(domain.NewProxyError("proxy busy", true, nil)))
	assert.False(t, domain.IsRetriable(domain.ErrUnknownOrder))
	assert.False(t, domain.IsErrorType(domain.ErrUnknownOrder, domain.ErrorTypeNetwork))
}

package domain_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/vitos/crypto_trade_core/internal/domain"
)

func TestParseOrderType(t *testing.T) {
	cases := []struct {
		raw  string
		hint domain.TakerOrMaker
		want domain.OrderType
	}{
		{"LIMIT", domain.Taker, domain.OrderTypeLimit},
		{" market ", "", domain.OrderTypeMarket},
		{"stop_loss_limit", "", domain.OrderTypeStopLossLimit},
		{"take-profit", "", domain.OrderTypeTakeProfit},
		{"trailing_stop_market", "", domain.OrderTypeTrailingStop},
		{"", domain.Maker, domain.OrderTypeLimit},
		{"", domain.Taker, domain.OrderTypeMarket},
		{"", "", domain.OrderTypeUnknown},
		{"iceberg", domain.Maker, domain.OrderTypeUnknown},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, domain.ParseOrderType(tc.raw, tc.hint), "%q/%q", tc.raw, tc.hint)
	}
}

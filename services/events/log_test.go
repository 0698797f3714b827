package eventsvc

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"github.com/trezcool/masomo-fees/core/fee"
)

func TestLogPublisher(t *testing.T) {
	p := NewLogPublisher(nil)
	ctx := context.Background()

	err := p.Publish(ctx, fee.EventFeeAssessed, fee.FeeAssessedEvent{AccountID: "acc-1", NetAmount: decimal.NewFromInt(15000)})
	assert.NoError(t, err)
	err = p.Publish(ctx, fee.EventPaymentRecorded, fee.PaymentRecordedEvent{PaymentID: "pay-1", ORNumber: "OR-2024-000001"})
	assert.NoError(t, err)

	events := p.Events()
	if assert.Len(t, events, 2) {
		assert.Equal(t, fee.EventFeeAssessed, events[0].RoutingKey)
		assert.Contains(t, string(events[0].Body), `"account_id":"acc-1"`)
		assert.Contains(t, string(events[0].Body), `"net_amount":"15000"`)
		assert.Equal(t, fee.EventPaymentRecorded, events[1].RoutingKey)
		assert.Contains(t, string(events[1].Body), `"or_number":"OR-2024-000001"`)
	}

	assert.Error(t, p.Publish(ctx, "bad", make(chan int)))
	assert.Len(t, p.Events(), 2)
}

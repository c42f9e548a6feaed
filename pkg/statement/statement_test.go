package statement

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/flaboy/aira-splitpay/internal/testutil"
	"github.com/flaboy/aira-splitpay/pkg/errors"
	"github.com/flaboy/aira-splitpay/pkg/models"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

func newService(t *testing.T) (*Service, *testutil.Clock) {
	t.Helper()
	clock := testutil.NewClock(time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC))
	return NewService(testutil.NewDB(t)).WithClock(clock.Now), clock
}

func TestRecordAndList(t *testing.T) {
	svc, clock := newService(t)
	ctx := context.Background()

	require.NoError(t, svc.Record(ctx,
		models.HistoryEntry{BookingID: 1, SubBookingID: 2, Concept: "Slot 1", Payer: "Ana", Amount: decimal.RequireFromString("20.004")},
		models.HistoryEntry{BookingID: 1, SubBookingID: 3, Concept: "Slot 2", Payer: "Luis", Amount: decimal.NewFromInt(20)},
	))
	clock.Advance(time.Hour)
	require.NoError(t, svc.Record(ctx, models.HistoryEntry{BookingID: 2, Amount: decimal.NewFromInt(99)}))
	require.NoError(t, svc.Record(ctx))

	list, err := svc.List(ctx, 1, 0)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, models.HistoryTypePayment, list[0].Type)
	assert.True(t, decimal.NewFromInt(20).Equal(list[0].Amount))
	assert.True(t, list[0].Date.Equal(time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)))
	assert.True(t, decimal.NewFromInt(40).Equal(Total(list)))

	sub, err := svc.List(ctx, 1, 3)
	require.NoError(t, err)
	require.Len(t, sub, 1)
	assert.Equal(t, "Luis", sub[0].Payer)
}

func TestRecordReversal(t *testing.T) {
	svc, clock := newService(t)
	ctx := context.Background()

	require.NoError(t, svc.Record(ctx, models.HistoryEntry{BookingID: 1, Concept: "Payment", Amount: decimal.NewFromInt(40)}))
	clock.Advance(time.Minute)

	entry, err := svc.RecordReversal(ctx, ReversalRequest{BookingID: 1, Amount: decimal.NewFromInt(15), Concept: "Chargeback"})
	require.NoError(t, err)
	assert.Equal(t, models.HistoryTypeReversal, entry.Type)
	assert.True(t, decimal.NewFromInt(-15).Equal(entry.Amount))

	list, err := svc.List(ctx, 1, 0)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, models.HistoryTypeReversal, list[1].Type)
	assert.True(t, decimal.NewFromInt(25).Equal(Total(list)))

	tests := []struct {
		name string
		req  ReversalRequest
	}{
		{"missing booking", ReversalRequest{Amount: decimal.NewFromInt(1)}},
		{"zero amount", ReversalRequest{BookingID: 1}},
		{"negative amount", ReversalRequest{BookingID: 1, Amount: decimal.NewFromInt(-5)}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.RecordReversal(ctx, tt.req)
			assert.ErrorIs(t, err, errors.ErrValidation)
		})
	}
}

func TestExportXLSX(t *testing.T) {
	svc, clock := newService(t)
	ctx := context.Background()

	require.NoError(t, svc.Record(ctx, models.HistoryEntry{BookingID: 7, Concept: "Slot 1", Payer: "Ana", Amount: decimal.NewFromInt(20)}))
	clock.Advance(time.Minute)
	_, err := svc.RecordReversal(ctx, ReversalRequest{BookingID: 7, Amount: decimal.NewFromInt(5), Concept: "Fee refund"})
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, svc.ExportXLSX(ctx, 7, &buf))

	f, err := excelize.OpenReader(&buf)
	require.NoError(t, err)
	defer f.Close()

	rows, err := f.GetRows(sheetName)
	require.NoError(t, err)
	require.Len(t, rows, 4)
	assert.Equal(t, []string{"Date", "Type", "Sub booking", "Concept", "Payer", "Amount"}, rows[0])
	assert.Equal(t, []string{"2026-03-01 10:00", "payment", "0", "Slot 1", "Ana", "20"}, rows[1])
	assert.Equal(t, "reversal", rows[2][1])
	assert.Equal(t, "-5", rows[2][5])
	assert.Equal(t, []string{"", "", "", "", "Total", "15"}, rows[3])
}

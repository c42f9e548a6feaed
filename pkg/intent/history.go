package intent

import (
	"time"

	"github.com/flaboy/aira-splitpay/pkg/allocation"
	"github.com/flaboy/aira-splitpay/pkg/models"
	"github.com/shopspring/decimal"
)

// historyEntries 每个分到金额的分期一行；没有分期或有剩余时，剩余金额单独一行
func historyEntries(in *models.PaymentIntent, amount decimal.Decimal, payer string, result *allocation.Result, now time.Time) []models.HistoryEntry {
	base := models.HistoryEntry{
		BookingID:    in.BookingID,
		SubBookingID: in.SubBookingID,
		IntentID:     in.ID,
		Date:         now,
		Type:         models.HistoryTypePayment,
		Concept:      concept(in),
		Payer:        payer,
	}

	if result == nil || len(result.Records) == 0 {
		base.Amount = amount
		return []models.HistoryEntry{base}
	}

	entries := make([]models.HistoryEntry, 0, len(result.Records)+1)
	for _, r := range result.Records {
		e := base
		e.SlotID = r.SlotID
		e.Amount = r.AmountApplied
		entries = append(entries, e)
	}
	if result.Remaining.IsPositive() {
		e := base
		e.Amount = result.Remaining
		entries = append(entries, e)
	}
	return entries
}

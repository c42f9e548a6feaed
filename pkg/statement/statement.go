package statement

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/flaboy/aira-splitpay/pkg/errors"
	"github.com/flaboy/aira-splitpay/pkg/models"
	"github.com/shopspring/decimal"
	"github.com/xuri/excelize/v2"
	"gorm.io/gorm"
)

const sheetName = "Payments"

// Service 付款历史（对账单），只追加
type Service struct {
	db  *gorm.DB
	now func() time.Time
}

func NewService(db *gorm.DB) *Service {
	return &Service{db: db, now: func() time.Time { return time.Now().UTC() }}
}

func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

func (s *Service) WithTx(tx *gorm.DB) *Service {
	return &Service{db: tx, now: s.now}
}

// Record 追加付款记录
func (s *Service) Record(ctx context.Context, entries ...models.HistoryEntry) error {
	if len(entries) == 0 {
		return nil
	}
	for i := range entries {
		if entries[i].Type == "" {
			entries[i].Type = models.HistoryTypePayment
		}
		if entries[i].Date.IsZero() {
			entries[i].Date = s.now()
		}
		entries[i].Amount = entries[i].Amount.Round(2)
	}
	if err := s.db.WithContext(ctx).Create(&entries).Error; err != nil {
		return fmt.Errorf("%w: record history: %v", errors.ErrPersistence, err)
	}
	return nil
}

// ReversalRequest 冲正参数，金额取正数，写入时取负
type ReversalRequest struct {
	BookingID    uint
	SubBookingID uint
	IntentID     uint
	Amount       decimal.Decimal
	Concept      string
	Payer        string
}

// RecordReversal 追加一条负数的冲正记录，不涉及退款流程
func (s *Service) RecordReversal(ctx context.Context, req ReversalRequest) (*models.HistoryEntry, error) {
	if req.BookingID == 0 || !req.Amount.IsPositive() {
		return nil, fmt.Errorf("%w: reversal needs a booking and a positive amount", errors.ErrValidation)
	}
	entry := models.HistoryEntry{
		BookingID:    req.BookingID,
		SubBookingID: req.SubBookingID,
		IntentID:     req.IntentID,
		Type:         models.HistoryTypeReversal,
		Concept:      req.Concept,
		Payer:        req.Payer,
		Amount:       req.Amount.Neg(),
	}
	if err := s.Record(ctx, entry); err != nil {
		return nil, err
	}
	slog.Info("[Statement] Reversal recorded", "booking", req.BookingID, "amount", req.Amount.String())
	return &entry, nil
}

// List 按日期返回预订的历史记录；subBookingID 为 0 时返回整单
func (s *Service) List(ctx context.Context, bookingID, subBookingID uint) ([]models.HistoryEntry, error) {
	var list []models.HistoryEntry
	q := s.db.WithContext(ctx).Where("booking_id = ?", bookingID)
	if subBookingID != 0 {
		q = q.Where("sub_booking_id = ?", subBookingID)
	}
	if err := q.Order("date ASC, id ASC").Find(&list).Error; err != nil {
		return nil, fmt.Errorf("%w: list history: %v", errors.ErrPersistence, err)
	}
	return list, nil
}

// Total 历史记录金额合计（冲正为负数）
func Total(list []models.HistoryEntry) decimal.Decimal {
	total := decimal.Zero
	for _, e := range list {
		total = total.Add(e.Amount)
	}
	return total
}

// ExportXLSX 导出对账单
func (s *Service) ExportXLSX(ctx context.Context, bookingID uint, w io.Writer) error {
	list, err := s.List(ctx, bookingID, 0)
	if err != nil {
		return err
	}

	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", sheetName); err != nil {
		return err
	}

	header := []interface{}{"Date", "Type", "Sub booking", "Concept", "Payer", "Amount"}
	if err := f.SetSheetRow(sheetName, "A1", &header); err != nil {
		return err
	}
	for i, e := range list {
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		row := []interface{}{
			e.Date.Format("2006-01-02 15:04"),
			string(e.Type),
			e.SubBookingID,
			e.Concept,
			e.Payer,
			e.Amount.InexactFloat64(),
		}
		if err := f.SetSheetRow(sheetName, cell, &row); err != nil {
			return err
		}
	}

	totalCell, err := excelize.CoordinatesToCellName(5, len(list)+2)
	if err != nil {
		return err
	}
	totalRow := []interface{}{"Total", Total(list).InexactFloat64()}
	if err := f.SetSheetRow(sheetName, totalCell, &totalRow); err != nil {
		return err
	}

	_, err = f.WriteTo(w)
	return err
}

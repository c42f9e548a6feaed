package reservation

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/flaboy/aira-splitpay/pkg/errors"
	"github.com/flaboy/aira-splitpay/pkg/slots"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ReservedSlot 预留结果中的一个分期
type ReservedSlot struct {
	SlotID     uint            `json:"slot_id"`
	SlotIndex  int             `json:"slot_index"`
	AmountOpen decimal.Decimal `json:"amount_open"`
}

// Reservation 一次成功的预留；Slots 为空表示可用分期不足
type Reservation struct {
	Token         string         `json:"token"`
	BookingID     uint           `json:"booking_id"`
	SubBookingID  uint           `json:"sub_booking_id"`
	ReservedUntil time.Time      `json:"reserved_until"`
	Slots         []ReservedSlot `json:"slots"`
}

// Empty 可用分期不足时返回的结果
func (r *Reservation) Empty() bool {
	return r == nil || len(r.Slots) == 0
}

func (r *Reservation) SlotIDs() []uint {
	ids := make([]uint, len(r.Slots))
	for i, s := range r.Slots {
		ids[i] = s.SlotID
	}
	return ids
}

// AmountOpen 预留分期的未付金额合计
func (r *Reservation) AmountOpen() decimal.Decimal {
	total := decimal.Zero
	for _, s := range r.Slots {
		total = total.Add(s.AmountOpen)
	}
	return total
}

// Service 为付款人在限定时间内独占若干分期
type Service struct {
	store *slots.Store
}

func NewService(store *slots.Store) *Service {
	return &Service{store: store}
}

// Reserve 预留 count 个开放分期。可用数量不足时返回空结果而不是错误，
// 此时不会留下任何部分预留。
func (s *Service) Reserve(ctx context.Context, bookingID, subBookingID uint, count int, ttl time.Duration) (*Reservation, error) {
	if bookingID == 0 || count <= 0 || ttl <= 0 {
		return nil, fmt.Errorf("%w: booking=%d count=%d ttl=%s", errors.ErrValidation, bookingID, count, ttl)
	}

	token := uuid.NewString()
	now := s.store.Now()
	until := now.Add(ttl)

	affected, err := s.store.CompareAndReserve(ctx, bookingID, subBookingID, count, token, until, now)
	if err != nil {
		return nil, err
	}

	empty := &Reservation{BookingID: bookingID, SubBookingID: subBookingID, Slots: []ReservedSlot{}}
	if affected < int64(count) {
		if affected > 0 {
			// 部分预留不可用，立即归还
			if _, err := s.store.ReleaseToken(ctx, token); err != nil {
				return nil, err
			}
		}
		slog.Info("[Reservation] Insufficient slots", "booking", bookingID, "sub_booking", subBookingID,
			"requested", count, "granted", affected)
		return empty, nil
	}

	rows, err := s.store.ListByToken(ctx, token)
	if err != nil {
		return nil, err
	}

	result := &Reservation{
		Token:         token,
		BookingID:     bookingID,
		SubBookingID:  subBookingID,
		ReservedUntil: until,
		Slots:         make([]ReservedSlot, 0, len(rows)),
	}
	for i := range rows {
		result.Slots = append(result.Slots, ReservedSlot{
			SlotID:     rows[i].ID,
			SlotIndex:  rows[i].SlotIndex,
			AmountOpen: rows[i].Open(),
		})
	}
	slog.Info("[Reservation] Slots reserved", "booking", bookingID, "sub_booking", subBookingID,
		"count", len(result.Slots), "until", until)
	return result, nil
}

// Release 付款人放弃时提前归还预留
func (s *Service) Release(ctx context.Context, token string) error {
	if token == "" {
		return nil
	}
	n, err := s.store.ReleaseToken(ctx, token)
	if err != nil {
		return err
	}
	slog.Info("[Reservation] Released", "slots", n)
	return nil
}

// Available 返回当前可以选择的分期，供分期选择页展示
func (s *Service) Available(ctx context.Context, bookingID, subBookingID uint) ([]ReservedSlot, error) {
	rows, err := s.store.ListAvailable(ctx, bookingID, subBookingID)
	if err != nil {
		return nil, err
	}
	list := make([]ReservedSlot, 0, len(rows))
	for i := range rows {
		list = append(list, ReservedSlot{SlotID: rows[i].ID, SlotIndex: rows[i].SlotIndex, AmountOpen: rows[i].Open()})
	}
	return list, nil
}

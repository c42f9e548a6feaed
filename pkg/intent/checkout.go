package intent

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/flaboy/aira-splitpay/pkg/errors"
	"github.com/flaboy/aira-splitpay/pkg/extensions/payment/types"
	"github.com/flaboy/aira-splitpay/pkg/ledger"
	"github.com/flaboy/aira-splitpay/pkg/models"
	"github.com/flaboy/aira-splitpay/pkg/money"
	"github.com/flaboy/aira-splitpay/pkg/reservation"
)

// SlotCheckoutRequest 付款人通过分组令牌选择若干分期付款
type SlotCheckoutRequest struct {
	GroupToken   string
	SubBookingID uint
	Count        int
	CustomerID   uint
	Provider     models.Provider
	Method       string
	Currency     string
	PayerName    string
	PayerEmail   string
	TTL          time.Duration
}

// LinkCheckoutRequest 通过支付链接付款
type LinkCheckoutRequest struct {
	LinkToken  string
	CustomerID uint
	Provider   models.Provider
	Method     string
	PayerName  string
	PayerEmail string
}

// Checkout 发起支付后返回给页面的结果
type Checkout struct {
	Intent      *models.PaymentIntent    `json:"-"`
	IntentToken string                   `json:"intent_token"`
	Link        *models.PaymentLink      `json:"link,omitempty"`
	Reservation *reservation.Reservation `json:"reservation,omitempty"`
	Result      *types.InitiateResult    `json:"result"`
}

// CheckoutSlots 校验分组令牌，按后台余额建立分期，预留 Count 个分期后发起支付
func (s *Service) CheckoutSlots(ctx context.Context, req SlotCheckoutRequest) (*Checkout, error) {
	if req.Count <= 0 {
		return nil, fmt.Errorf("%w: slot count must be positive", errors.ErrValidation)
	}
	if s.providers.Get(req.Provider) == nil {
		return nil, fmt.Errorf("%w: %s", errors.ErrProviderNotFound, req.Provider)
	}

	group, err := s.links.ValidateGroupToken(ctx, req.GroupToken)
	if err != nil {
		return nil, err
	}
	subBookingID := group.SubBookingID
	if subBookingID == 0 {
		subBookingID = req.SubBookingID
	}
	customerID := req.CustomerID
	if customerID == 0 {
		customerID = group.CustomerID
	}

	items, err := s.ledger.GetBookingLineItems(ctx, group.BookingID, group.CustomerID)
	if err != nil {
		return nil, fmt.Errorf("%w: line items: %v", errors.ErrLedger, err)
	}
	numSlots, totalPending := ledger.GroupTotals(items, subBookingID)
	if numSlots == 0 || money.Settled(totalPending) {
		return nil, errors.ErrNoSlotsRemaining
	}

	if _, err := s.slots.EnsureSlots(ctx, group.BookingID, subBookingID, numSlots, totalPending); err != nil {
		return nil, err
	}

	ttl := req.TTL
	if ttl <= 0 {
		ttl = s.reservationTTL
	}
	res, err := s.reservations.Reserve(ctx, group.BookingID, subBookingID, req.Count, ttl)
	if err != nil {
		return nil, err
	}
	if res.Empty() {
		return nil, errors.ErrNoSlotsRemaining
	}

	link, err := s.links.CreateSlotLink(ctx, res, customerID, req.Currency, models.LinkMetadata{
		BillingName:     req.PayerName,
		BillingEmail:    req.PayerEmail,
		PreferredMethod: req.Method,
	})
	if err != nil {
		s.releaseQuietly(ctx, res.Token)
		return nil, err
	}

	in, err := s.CreateIntent(ctx, CreateIntentRequest{
		BookingID:        group.BookingID,
		SubBookingID:     subBookingID,
		CustomerID:       customerID,
		LinkToken:        link.Token,
		Amount:           link.AmountAuthorized,
		Currency:         link.Currency,
		Provider:         req.Provider,
		Method:           req.Method,
		SlotMode:         models.SlotModeReserved,
		SlotIDs:          res.SlotIDs(),
		ReservationToken: res.Token,
		PayerName:        req.PayerName,
	})
	if err != nil {
		s.releaseQuietly(ctx, res.Token)
		return nil, err
	}

	result, err := s.Initiate(ctx, in, InitiateOptions{
		Description: fmt.Sprintf("Booking %d, %d of %d installments", group.BookingID, len(res.Slots), numSlots),
		PayerEmail:  req.PayerEmail,
	})
	if err != nil {
		return nil, err
	}

	slog.Info("[IntentService] Slot checkout started", "intent", in.Token, "booking", group.BookingID,
		"sub_booking", subBookingID, "slots", len(res.Slots))
	return &Checkout{Intent: in, IntentToken: in.Token, Link: link, Reservation: res, Result: result}, nil
}

// CheckoutLink 校验链接并按应付金额发起支付。
// 分期链接把金额落到链接记录的分期上，其它链接按顺序落到所有未付分期。
func (s *Service) CheckoutLink(ctx context.Context, req LinkCheckoutRequest) (*Checkout, error) {
	if s.providers.Get(req.Provider) == nil {
		return nil, fmt.Errorf("%w: %s", errors.ErrProviderNotFound, req.Provider)
	}

	link, err := s.links.Validate(ctx, req.LinkToken)
	if err != nil {
		return nil, err
	}
	amount, err := s.links.AmountDue(ctx, link)
	if err != nil {
		return nil, err
	}
	if money.Settled(amount) {
		return nil, fmt.Errorf("%w: nothing due on link", errors.ErrLinkNotActive)
	}

	meta, err := link.ParseMetadata()
	if err != nil {
		return nil, fmt.Errorf("%w: link metadata: %v", errors.ErrValidation, err)
	}

	create := CreateIntentRequest{
		BookingID:    link.BookingID,
		SubBookingID: link.SubBookingID,
		CustomerID:   link.CustomerID,
		LinkToken:    link.Token,
		Amount:       amount,
		Currency:     link.Currency,
		Provider:     req.Provider,
		Method:       req.Method,
		SlotMode:     models.SlotModeOpen,
		PayerName:    req.PayerName,
	}
	if req.CustomerID != 0 {
		create.CustomerID = req.CustomerID
	}
	if create.PayerName == "" {
		create.PayerName = meta.BillingName
	}
	if link.Scope == models.LinkScopeSlotBased && len(meta.SlotIDs) > 0 {
		create.SlotMode = models.SlotModeReserved
		create.SlotIDs = meta.SlotIDs
		create.ReservationToken = meta.ReservationID
	}

	in, err := s.CreateIntent(ctx, create)
	if err != nil {
		return nil, err
	}

	payerEmail := req.PayerEmail
	if payerEmail == "" {
		payerEmail = meta.BillingEmail
	}
	result, err := s.Initiate(ctx, in, InitiateOptions{PayerEmail: payerEmail})
	if err != nil {
		return nil, err
	}

	slog.Info("[IntentService] Link checkout started", "intent", in.Token, "booking", link.BookingID, "scope", link.Scope)
	return &Checkout{Intent: in, IntentToken: in.Token, Link: link, Result: result}, nil
}

func (s *Service) releaseQuietly(ctx context.Context, token string) {
	if err := s.reservations.Release(ctx, token); err != nil {
		slog.Error("[IntentService] Failed to release reservation", "error", err)
	}
}

// AvailableSlots 按后台余额建立分期后返回当前可选的分期
func (s *Service) AvailableSlots(ctx context.Context, groupToken string, subBookingID uint) ([]reservation.ReservedSlot, error) {
	group, err := s.links.ValidateGroupToken(ctx, groupToken)
	if err != nil {
		return nil, err
	}
	if group.SubBookingID != 0 {
		subBookingID = group.SubBookingID
	}

	items, err := s.ledger.GetBookingLineItems(ctx, group.BookingID, group.CustomerID)
	if err != nil {
		return nil, fmt.Errorf("%w: line items: %v", errors.ErrLedger, err)
	}
	numSlots, totalPending := ledger.GroupTotals(items, subBookingID)
	if numSlots == 0 {
		return []reservation.ReservedSlot{}, nil
	}
	if _, err := s.slots.EnsureSlots(ctx, group.BookingID, subBookingID, numSlots, totalPending); err != nil {
		return nil, err
	}
	return s.reservations.Available(ctx, group.BookingID, subBookingID)
}

package paymentlink

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	stderrors "errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/flaboy/aira-splitpay/pkg/errors"
	"github.com/flaboy/aira-splitpay/pkg/ledger"
	"github.com/flaboy/aira-splitpay/pkg/models"
	"github.com/flaboy/aira-splitpay/pkg/reservation"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// CreateLinkRequest 创建支付链接的参数
type CreateLinkRequest struct {
	BookingID        uint
	SubBookingID     uint
	CustomerID       uint
	Scope            models.LinkScope
	AmountAuthorized decimal.Decimal
	Currency         string
	ExpiresAt        *time.Time
	BillingDni       string
	Metadata         models.LinkMetadata
}

// Resolution 打开链接时展示给付款人的信息
type Resolution struct {
	Status           models.LinkStatus `json:"status"`
	Scope            models.LinkScope  `json:"scope"`
	AmountAuthorized decimal.Decimal   `json:"amount_authorized"`
	AmountPending    decimal.Decimal   `json:"amount_pending"`
	Currency         string            `json:"currency"`
	ExpiresAt        *time.Time        `json:"expires_at,omitempty"`
}

type Service struct {
	db              *gorm.DB
	ledger          ledger.Service
	defaultCurrency string
	now             func() time.Time
}

func NewService(db *gorm.DB, ledgerService ledger.Service, defaultCurrency string) *Service {
	return &Service{db: db, ledger: ledgerService, defaultCurrency: defaultCurrency, now: time.Now}
}

// WithClock 替换时间来源（测试用）
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// NewToken 生成不可猜测的令牌
func NewToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}

// Create 创建支付链接
func (s *Service) Create(ctx context.Context, req CreateLinkRequest) (*models.PaymentLink, error) {
	if req.BookingID == 0 {
		return nil, fmt.Errorf("%w: booking id is required", errors.ErrValidation)
	}
	if !req.Scope.Valid() {
		return nil, fmt.Errorf("%w: unknown scope %q", errors.ErrValidation, req.Scope)
	}

	amount := req.AmountAuthorized.Round(2)
	if req.Scope == models.LinkScopeWholeBookingTotal {
		// 整单链接在打开时才按当前待付余额计算
		amount = decimal.Zero
	} else if !amount.IsPositive() {
		return nil, fmt.Errorf("%w: amount must be positive for scope %s", errors.ErrValidation, req.Scope)
	}

	currency := strings.ToUpper(req.Currency)
	if currency == "" {
		currency = s.defaultCurrency
	}

	token, err := NewToken()
	if err != nil {
		return nil, fmt.Errorf("failed to generate link token: %w", err)
	}

	link := &models.PaymentLink{
		Token:            token,
		BookingID:        req.BookingID,
		SubBookingID:     req.SubBookingID,
		CustomerID:       req.CustomerID,
		Scope:            req.Scope,
		AmountAuthorized: amount,
		Currency:         currency,
		Status:           models.LinkStatusActive,
		ExpiresAt:        req.ExpiresAt,
		BillingDni:       req.BillingDni,
	}
	if err := link.SetMetadata(req.Metadata); err != nil {
		return nil, fmt.Errorf("failed to serialize link metadata: %w", err)
	}

	if err := s.db.WithContext(ctx).Create(link).Error; err != nil {
		return nil, fmt.Errorf("%w: create link: %v", errors.ErrPersistence, err)
	}
	slog.Info("[PaymentLink] Created", "booking", link.BookingID, "scope", link.Scope, "amount", link.AmountAuthorized.String())
	return link, nil
}

// CreateSlotLink 为一次分期预留生成的链接，过期时间与预留一致
func (s *Service) CreateSlotLink(ctx context.Context, res *reservation.Reservation, customerID uint, currency string, meta models.LinkMetadata) (*models.PaymentLink, error) {
	if res.Empty() {
		return nil, errors.ErrNoSlotsRemaining
	}
	until := res.ReservedUntil
	meta.Mode = "slots"
	meta.SlotIDs = res.SlotIDs()
	meta.ReservationID = res.Token
	return s.Create(ctx, CreateLinkRequest{
		BookingID:        res.BookingID,
		SubBookingID:     res.SubBookingID,
		CustomerID:       customerID,
		Scope:            models.LinkScopeSlotBased,
		AmountAuthorized: res.AmountOpen(),
		Currency:         currency,
		ExpiresAt:        &until,
		Metadata:         meta,
	})
}

func (s *Service) Get(ctx context.Context, token string) (*models.PaymentLink, error) {
	var link models.PaymentLink
	err := s.db.WithContext(ctx).Where("token = ?", token).First(&link).Error
	if stderrors.Is(err, gorm.ErrRecordNotFound) {
		return nil, errors.ErrLinkNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: load link: %v", errors.ErrPersistence, err)
	}
	return &link, nil
}

// Validate 检查链接可用。检测到过期时把状态改为 expired，
// 条件更新保证并发读取时只会改一次。
func (s *Service) Validate(ctx context.Context, token string) (*models.PaymentLink, error) {
	if token == "" {
		return nil, errors.ErrLinkNotFound
	}
	link, err := s.Get(ctx, token)
	if err != nil {
		return nil, err
	}

	switch link.Status {
	case models.LinkStatusExpired:
		return nil, errors.ErrLinkExpired
	case models.LinkStatusPaid:
		return nil, errors.ErrLinkNotActive
	case models.LinkStatusActive:
	default:
		return nil, errors.ErrLinkNotActive
	}

	if link.ExpiredAt(s.now()) {
		err := s.db.WithContext(ctx).Model(&models.PaymentLink{}).
			Where("id = ? AND status = ?", link.ID, models.LinkStatusActive).
			Update("status", models.LinkStatusExpired).Error
		if err != nil {
			return nil, fmt.Errorf("%w: expire link: %v", errors.ErrPersistence, err)
		}
		slog.Info("[PaymentLink] Expired on read", "booking", link.BookingID)
		return nil, errors.ErrLinkExpired
	}
	return link, nil
}

// Resolve 返回链接状态和当前应付金额
func (s *Service) Resolve(ctx context.Context, token string) (*Resolution, error) {
	link, err := s.Validate(ctx, token)
	if err != nil {
		return nil, err
	}
	pending, err := s.AmountDue(ctx, link)
	if err != nil {
		return nil, err
	}
	return &Resolution{
		Status:           link.Status,
		Scope:            link.Scope,
		AmountAuthorized: link.AmountAuthorized,
		AmountPending:    pending,
		Currency:         link.Currency,
		ExpiresAt:        link.ExpiresAt,
	}, nil
}

// AmountDue 整单链接按后台余额计算，其它链接就是授权金额
func (s *Service) AmountDue(ctx context.Context, link *models.PaymentLink) (decimal.Decimal, error) {
	if link.Scope != models.LinkScopeWholeBookingTotal {
		return link.AmountAuthorized, nil
	}
	balance, err := s.ledger.GetBookingBalance(ctx, link.BookingID, link.CustomerID)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: booking balance: %v", errors.ErrLedger, err)
	}
	if balance.Pending.IsNegative() {
		return decimal.Zero, nil
	}
	return balance.Pending, nil
}

// MarkPaid 把链接标记为已支付。只能从 active 变为 paid，重复调用无副作用。
func (s *Service) MarkPaid(ctx context.Context, token string) (bool, error) {
	now := s.now()
	res := s.db.WithContext(ctx).Model(&models.PaymentLink{}).
		Where("token = ? AND status = ?", token, models.LinkStatusActive).
		Updates(map[string]interface{}{
			"status":  models.LinkStatusPaid,
			"paid_at": now,
		})
	if res.Error != nil {
		return false, fmt.Errorf("%w: mark link paid: %v", errors.ErrPersistence, res.Error)
	}
	if res.RowsAffected == 0 {
		link, err := s.Get(ctx, token)
		if err != nil {
			return false, err
		}
		if link.Status != models.LinkStatusPaid {
			slog.Warn("[PaymentLink] Payment arrived for inactive link", "booking", link.BookingID, "status", link.Status)
		}
		return false, nil
	}
	slog.Info("[PaymentLink] Marked paid")
	return true, nil
}

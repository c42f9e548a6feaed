package intent

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/flaboy/aira-splitpay/pkg/allocation"
	"github.com/flaboy/aira-splitpay/pkg/errors"
	"github.com/flaboy/aira-splitpay/pkg/extensions/payment"
	"github.com/flaboy/aira-splitpay/pkg/extensions/payment/types"
	"github.com/flaboy/aira-splitpay/pkg/extensions/payment/utils"
	"github.com/flaboy/aira-splitpay/pkg/ledger"
	"github.com/flaboy/aira-splitpay/pkg/models"
	"github.com/flaboy/aira-splitpay/pkg/paymentlink"
	"github.com/flaboy/aira-splitpay/pkg/reservation"
	"github.com/flaboy/aira-splitpay/pkg/slots"
	"github.com/flaboy/aira-splitpay/pkg/statement"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// RetryQueue 记账失败后投递重试任务
type RetryQueue interface {
	Enqueue(ctx context.Context, intentID uint, reason string) error
}

type Options struct {
	DB           *gorm.DB
	Ledger       ledger.Service
	Providers    *payment.Registry
	Slots        *slots.Store
	Reservations *reservation.Service
	Allocations  *allocation.Service
	Links        *paymentlink.Service
	Statement    *statement.Service
	Queue        RetryQueue

	// BuildURL 生成对外访问的绝对地址
	BuildURL        func(path string) string
	DefaultCurrency string
	ReservationTTL  time.Duration
	SettleLease     time.Duration
	Now             func() time.Time
}

// Service 支付意图：创建、发起、处理回调和对账
type Service struct {
	db           *gorm.DB
	ledger       ledger.Service
	providers    *payment.Registry
	slots        *slots.Store
	reservations *reservation.Service
	allocations  *allocation.Service
	links        *paymentlink.Service
	statement    *statement.Service
	queue        RetryQueue

	buildURL        func(path string) string
	defaultCurrency string
	reservationTTL  time.Duration
	settleLease     time.Duration
	now             func() time.Time
}

func NewService(opts Options) *Service {
	s := &Service{
		db:              opts.DB,
		ledger:          opts.Ledger,
		providers:       opts.Providers,
		slots:           opts.Slots,
		reservations:    opts.Reservations,
		allocations:     opts.Allocations,
		links:           opts.Links,
		statement:       opts.Statement,
		queue:           opts.Queue,
		buildURL:        opts.BuildURL,
		defaultCurrency: opts.DefaultCurrency,
		reservationTTL:  opts.ReservationTTL,
		settleLease:     opts.SettleLease,
		now:             opts.Now,
	}
	if s.slots == nil {
		s.slots = slots.NewStore(s.db)
	}
	if s.reservations == nil {
		s.reservations = reservation.NewService(s.slots)
	}
	if s.allocations == nil {
		s.allocations = allocation.NewService(s.slots)
	}
	if s.links == nil {
		s.links = paymentlink.NewService(s.db, s.ledger, s.defaultCurrency)
	}
	if s.statement == nil {
		s.statement = statement.NewService(s.db)
	}
	if s.buildURL == nil {
		s.buildURL = func(path string) string { return path }
	}
	if s.defaultCurrency == "" {
		s.defaultCurrency = "EUR"
	}
	if s.reservationTTL <= 0 {
		s.reservationTTL = 15 * time.Minute
	}
	if s.settleLease <= 0 {
		s.settleLease = 2 * time.Minute
	}
	if s.now == nil {
		s.now = func() time.Time { return time.Now().UTC() }
	}
	return s
}

// CreateIntentRequest 创建支付意图的参数
type CreateIntentRequest struct {
	BookingID        uint
	SubBookingID     uint
	CustomerID       uint
	LinkToken        string
	Amount           decimal.Decimal
	Currency         string
	Provider         models.Provider
	Method           string
	SlotMode         models.SlotMode
	SlotIDs          []uint
	ReservationToken string
	PayerName        string
}

// CreateIntent 创建支付意图并分配渠道订单号
func (s *Service) CreateIntent(ctx context.Context, req CreateIntentRequest) (*models.PaymentIntent, error) {
	if req.BookingID == 0 || !req.Amount.IsPositive() {
		return nil, fmt.Errorf("%w: intent needs a booking and a positive amount", errors.ErrValidation)
	}
	if s.providers.Get(req.Provider) == nil {
		return nil, fmt.Errorf("%w: %s", errors.ErrProviderNotFound, req.Provider)
	}

	orderRef, err := utils.NewOrderRef()
	if err != nil {
		return nil, fmt.Errorf("failed to generate order reference: %w", err)
	}

	currency := strings.ToUpper(req.Currency)
	if currency == "" {
		currency = s.defaultCurrency
	}
	mode := req.SlotMode
	if mode == "" {
		mode = models.SlotModeNone
	}

	in := &models.PaymentIntent{
		BookingID:        req.BookingID,
		SubBookingID:     req.SubBookingID,
		CustomerID:       req.CustomerID,
		LinkToken:        req.LinkToken,
		Amount:           req.Amount.Round(2),
		Currency:         currency,
		Provider:         req.Provider,
		Method:           req.Method,
		Status:           models.IntentStatusCreated,
		ProviderOrderRef: orderRef,
		SlotMode:         mode,
		ReservationToken: req.ReservationToken,
		PayerName:        req.PayerName,
	}
	if err := in.SetSlotIDs(req.SlotIDs); err != nil {
		return nil, err
	}
	if err := in.AppendEvent(models.IntentEvent{Kind: models.EventCreated, At: s.now(), Data: map[string]interface{}{
		"amount":    in.Amount.String(),
		"slot_mode": string(mode),
	}}); err != nil {
		return nil, err
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(in).Error; err != nil {
			return err
		}
		in.Token = utils.EncodeIntentID(in.ID)
		return tx.Model(in).Update("token", in.Token).Error
	})
	if err != nil {
		return nil, fmt.Errorf("%w: create intent: %v", errors.ErrPersistence, err)
	}

	slog.Info("[IntentService] Intent created", "intent", in.Token, "booking", in.BookingID,
		"provider", in.Provider, "amount", in.Amount.String(), "slot_mode", in.SlotMode)
	return in, nil
}

// InitiateOptions 发起支付时展示给渠道的附加信息
type InitiateOptions struct {
	Description string
	PayerEmail  string
}

// ReturnPath 用户从渠道返回的路径
func ReturnPath(provider models.Provider, token string) string {
	return "/payment/" + string(provider) + "/return/" + token
}

// WebhookPath 渠道异步通知的路径
func WebhookPath(provider models.Provider) string {
	return "/payment/" + string(provider) + "/webhook"
}

// Initiate 向渠道发起支付。失败时意图变为 failed 并归还预留。
func (s *Service) Initiate(ctx context.Context, in *models.PaymentIntent, opts InitiateOptions) (*types.InitiateResult, error) {
	if in.Status != models.IntentStatusCreated {
		return nil, fmt.Errorf("%w: intent %s is %s", errors.ErrValidation, in.Token, in.Status)
	}
	adapter := s.providers.Get(in.Provider)
	if adapter == nil {
		return nil, fmt.Errorf("%w: %s", errors.ErrProviderNotFound, in.Provider)
	}

	description := opts.Description
	if description == "" {
		description = fmt.Sprintf("Booking %d", in.BookingID)
	}
	returnURL := s.buildURL(ReturnPath(in.Provider, in.Token))
	req := &types.InitiateRequest{
		OrderRef:    in.ProviderOrderRef,
		IntentToken: in.Token,
		Amount:      in.Amount,
		Currency:    in.Currency,
		Method:      in.Method,
		Description: description,
		PayerName:   in.PayerName,
		PayerEmail:  opts.PayerEmail,
		OkURL:       returnURL,
		KoURL:       returnURL + "?result=ko",
		NotifyURL:   s.buildURL(WebhookPath(in.Provider)),
	}
	if err := in.AppendEvent(models.IntentEvent{Kind: models.EventProviderRequest, At: s.now(), Data: map[string]interface{}{
		"order_ref":  req.OrderRef,
		"amount":     req.Amount.String(),
		"notify_url": req.NotifyURL,
	}}); err != nil {
		return nil, err
	}

	result, err := adapter.Initiate(ctx, req)
	if err != nil {
		slog.Error("[IntentService] Provider initiate failed", "intent", in.Token, "provider", in.Provider, "error", err)
		if ferr := s.markFailed(ctx, in, map[string]interface{}{"stage": "initiate", "error": err.Error()}); ferr != nil {
			slog.Error("[IntentService] Failed to mark intent failed", "intent", in.Token, "error", ferr)
		}
		if !stderrors.Is(err, errors.ErrProviderRequest) {
			err = fmt.Errorf("%w: %v", errors.ErrProviderRequest, err)
		}
		return nil, err
	}

	in.Status = result.Status
	if in.Status == "" {
		in.Status = models.IntentStatusInitiated
	}
	if result.ProviderPaymentID != "" {
		in.ProviderPaymentID = result.ProviderPaymentID
	}
	if result.ProviderReference != "" {
		in.ProviderReference = result.ProviderReference
	}
	if err := in.AppendEvent(models.IntentEvent{Kind: models.EventProviderResponse, At: s.now(), Data: result.Raw}); err != nil {
		return nil, err
	}
	if err := s.save(ctx, in, "status", "provider_payment_id", "provider_reference", "events"); err != nil {
		return nil, err
	}

	slog.Info("[IntentService] Intent initiated", "intent", in.Token, "provider", in.Provider, "status", in.Status)
	return result, nil
}

// Get 按 token（pi- 开头）读取
func (s *Service) Get(ctx context.Context, token string) (*models.PaymentIntent, error) {
	id, err := utils.DecodeIntentHashID(token)
	if err != nil {
		return nil, errors.ErrIntentNotFound
	}
	return s.GetByID(ctx, id)
}

func (s *Service) GetByID(ctx context.Context, id uint) (*models.PaymentIntent, error) {
	var in models.PaymentIntent
	err := s.db.WithContext(ctx).First(&in, id).Error
	if stderrors.Is(err, gorm.ErrRecordNotFound) {
		return nil, errors.ErrIntentNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: load intent: %v", errors.ErrPersistence, err)
	}
	return &in, nil
}

// ReturnOK 用户从银行页面返回，initiated 变为 returned_ok；其它状态不变
func (s *Service) ReturnOK(ctx context.Context, token string) (*models.PaymentIntent, error) {
	in, err := s.Get(ctx, token)
	if err != nil {
		return nil, err
	}
	if in.Status != models.IntentStatusInitiated {
		return in, nil
	}

	if err := in.AppendEvent(models.IntentEvent{Kind: models.EventReturned, At: s.now()}); err != nil {
		return nil, err
	}
	res := s.db.WithContext(ctx).Model(&models.PaymentIntent{}).
		Where("id = ? AND status = ?", in.ID, models.IntentStatusInitiated).
		Updates(map[string]interface{}{"status": models.IntentStatusReturnedOK, "events": in.Events})
	if res.Error != nil {
		return nil, fmt.Errorf("%w: mark returned: %v", errors.ErrPersistence, res.Error)
	}
	if res.RowsAffected == 1 {
		in.Status = models.IntentStatusReturnedOK
	}
	return in, nil
}

// SettlesOnReturn 渠道是否在用户返回时完成支付（PayPal）
func (s *Service) SettlesOnReturn(provider models.Provider) bool {
	adapter := s.providers.Get(provider)
	if adapter == nil {
		return false
	}
	r, ok := adapter.(interface{ SettlesOnReturn() bool })
	return ok && r.SettlesOnReturn()
}

// markFailed 非终态的意图变为 failed，并归还预留
func (s *Service) markFailed(ctx context.Context, in *models.PaymentIntent, data map[string]interface{}) error {
	if in.Status.Terminal() {
		return nil
	}
	if err := in.AppendEvent(models.IntentEvent{Kind: models.EventFailed, At: s.now(), Data: data}); err != nil {
		return err
	}
	res := s.db.WithContext(ctx).Model(&models.PaymentIntent{}).
		Where("id = ? AND status NOT IN ?", in.ID, terminalStatuses).
		Updates(map[string]interface{}{"status": models.IntentStatusFailed, "events": in.Events})
	if res.Error != nil {
		return fmt.Errorf("%w: mark intent failed: %v", errors.ErrPersistence, res.Error)
	}
	if res.RowsAffected == 0 {
		return nil
	}
	in.Status = models.IntentStatusFailed

	if in.SlotMode == models.SlotModeReserved && in.ReservationToken != "" {
		if err := s.reservations.Release(ctx, in.ReservationToken); err != nil {
			return err
		}
	}
	slog.Info("[IntentService] Intent failed", "intent", in.Token, "provider", in.Provider)
	return nil
}

var terminalStatuses = []models.IntentStatus{models.IntentStatusReconciled, models.IntentStatusFailed}

func (s *Service) save(ctx context.Context, in *models.PaymentIntent, columns ...string) error {
	return saveWith(ctx, s.db, in, columns...)
}

func saveWith(ctx context.Context, db *gorm.DB, in *models.PaymentIntent, columns ...string) error {
	cols := make([]interface{}, 0, len(columns))
	for _, c := range columns[1:] {
		cols = append(cols, c)
	}
	err := db.WithContext(ctx).Model(in).Select(columns[0], cols...).Updates(in).Error
	if err != nil {
		return fmt.Errorf("%w: save intent: %v", errors.ErrPersistence, err)
	}
	return nil
}

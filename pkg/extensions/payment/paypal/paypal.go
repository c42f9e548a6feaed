package paypal

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/flaboy/aira-splitpay/pkg/errors"
	"github.com/flaboy/aira-splitpay/pkg/extensions/payment/types"
	"github.com/flaboy/aira-splitpay/pkg/models"
	"github.com/plutov/paypal/v4"
	"github.com/shopspring/decimal"
)

const (
	statusApproved  = "APPROVED"
	statusCompleted = "COMPLETED"
	statusDeclined  = "DECLINED"
	statusVoided    = "VOIDED"
)

type Config struct {
	ClientID     string
	ClientSecret string
	Sandbox      bool
	APIBase      string // 为空时按 Sandbox 选择
}

type PayPal struct {
	cfg    Config
	client *paypal.Client
}

func New(cfg Config) *PayPal {
	return &PayPal{cfg: cfg}
}

// Init 初始化PayPal客户端
func (p *PayPal) Init() error {
	environment := paypal.APIBaseLive
	if p.cfg.Sandbox {
		environment = paypal.APIBaseSandBox
	}
	if p.cfg.APIBase != "" {
		environment = p.cfg.APIBase
	}

	client, err := paypal.NewClient(p.cfg.ClientID, p.cfg.ClientSecret, environment)
	if err != nil {
		return err
	}

	// 获取访问令牌
	if _, err = client.GetAccessToken(context.Background()); err != nil {
		return err
	}

	p.client = client
	slog.Info("PayPal payment channel initialized", "sandbox", p.cfg.Sandbox)
	return nil
}

func (p *PayPal) Name() models.Provider {
	return models.ProviderPayPal
}

// SettlesOnReturn PayPal 没有异步通知，用户返回时由服务端查询并捕获订单
func (p *PayPal) SettlesOnReturn() bool {
	return true
}

// Initiate 创建PayPal订单
func (p *PayPal) Initiate(ctx context.Context, req *types.InitiateRequest) (*types.InitiateResult, error) {
	currency := strings.ToUpper(req.Currency)
	purchaseUnits := []paypal.PurchaseUnitRequest{
		{
			ReferenceID: req.OrderRef,
			Amount: &paypal.PurchaseUnitAmount{
				Currency: currency,
				Value:    req.Amount.StringFixed(2),
			},
			Description: req.Description,
		},
	}
	applicationContext := &paypal.ApplicationContext{
		ReturnURL: withAction(req.OkURL, "success"),
		CancelURL: withAction(req.KoURL, "cancel"),
	}

	order, err := p.client.CreateOrder(ctx, "CAPTURE", purchaseUnits, nil, applicationContext)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errors.ErrProviderRequest, err)
	}

	approvalURL := approvalURL(order)
	if approvalURL == "" {
		return nil, fmt.Errorf("%w: paypal order %s has no approval link", errors.ErrProviderRequest, order.ID)
	}

	return &types.InitiateResult{
		Status:            models.IntentStatusRedirecting,
		RedirectURL:       approvalURL,
		ProviderPaymentID: order.ID,
		ProviderReference: req.OrderRef,
		Raw: map[string]interface{}{
			"order_id":     order.ID,
			"order_status": order.Status,
			"approval_url": approvalURL,
		},
	}, nil
}

// ParseCallback 用户从PayPal返回时查询订单状态，不做捕获。
// 返回地址本身不带签名，订单状态以服务端查询结果为准：
// 取消地址只有在订单既未确认也未完成时才算失败。
func (p *PayPal) ParseCallback(ctx context.Context, req *types.CallbackRequest) (*types.CallbackResult, error) {
	orderID := req.Query.Get("token")
	if orderID == "" {
		return nil, fmt.Errorf("%w: missing paypal order token", errors.ErrInvalidSignature)
	}

	order, err := p.client.GetOrder(ctx, orderID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errors.ErrProviderRequest, err)
	}

	result := &types.CallbackResult{
		Status:       types.CallbackPending,
		PaymentID:    orderID,
		ResponseCode: order.Status,
		Raw:          map[string]interface{}{"order_id": orderID, "order_status": order.Status},
	}
	if len(order.PurchaseUnits) > 0 {
		result.OrderRef = order.PurchaseUnits[0].ReferenceID
		result.Reference = order.PurchaseUnits[0].ReferenceID
		if order.PurchaseUnits[0].Amount != nil {
			if amount, err := decimal.NewFromString(order.PurchaseUnits[0].Amount.Value); err == nil {
				result.Amount = amount
			}
		}
	}

	cancelled := req.Query.Get("action") == "cancel"
	switch order.Status {
	case statusCompleted:
		// 重复返回，订单已被捕获
		result.Status = types.CallbackSucceeded
	case statusApproved:
		if !cancelled {
			result.Status = types.CallbackAuthorized
		}
	default:
		if cancelled {
			result.Status = types.CallbackFailed
		}
	}
	return result, nil
}

// Capture 捕获已确认的订单
func (p *PayPal) Capture(ctx context.Context, res *types.CallbackResult) (*types.CallbackResult, error) {
	capture, err := p.client.CaptureOrder(ctx, res.PaymentID, paypal.CaptureOrderRequest{})
	if err != nil {
		slog.Error("[PayPal] Failed to capture order", "order_id", res.PaymentID, "error", err)
		return nil, fmt.Errorf("%w: %v", errors.ErrProviderRequest, err)
	}

	captured := *res
	captured.Raw = map[string]interface{}{"order_id": res.PaymentID, "order_status": capture.Status}
	captured.ResponseCode = capture.Status
	switch capture.Status {
	case statusCompleted:
		captured.Status = types.CallbackSucceeded
	case statusDeclined, statusVoided:
		captured.Status = types.CallbackFailed
	default:
		captured.Status = types.CallbackPending
	}
	slog.Info("[PayPal] Order captured", "order_id", res.PaymentID, "status", capture.Status)
	return &captured, nil
}

func approvalURL(order *paypal.Order) string {
	for _, link := range order.Links {
		if link.Rel == "approve" || link.Rel == "payer-action" {
			return link.Href
		}
	}
	return ""
}

func withAction(u, action string) string {
	sep := "?"
	if strings.Contains(u, "?") {
		sep = "&"
	}
	return u + sep + "action=" + action
}

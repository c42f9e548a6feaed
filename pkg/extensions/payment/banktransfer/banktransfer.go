package banktransfer

import (
	"context"
	"crypto/hmac"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/flaboy/aira-splitpay/pkg/errors"
	"github.com/flaboy/aira-splitpay/pkg/extensions/payment/types"
	"github.com/flaboy/aira-splitpay/pkg/extensions/payment/utils"
	"github.com/flaboy/aira-splitpay/pkg/models"
	"github.com/flaboy/aira-splitpay/pkg/money"
	"github.com/valyala/fasthttp"
)

const SignatureHeader = "X-Signature"

type Config struct {
	BaseURL       string
	APIKey        string
	WebhookSecret string
	Timeout       time.Duration
}

// BankTransfer 即时银行转账网关
type BankTransfer struct {
	cfg    Config
	client *fasthttp.Client
}

func New(cfg Config) *BankTransfer {
	if cfg.Timeout == 0 {
		cfg.Timeout = 15 * time.Second
	}
	return &BankTransfer{cfg: cfg, client: &fasthttp.Client{}}
}

func (b *BankTransfer) Init() error {
	if b.cfg.BaseURL == "" || b.cfg.APIKey == "" {
		return fmt.Errorf("bank transfer base url and api key are required")
	}
	if b.cfg.WebhookSecret == "" {
		return fmt.Errorf("bank transfer webhook secret is required")
	}
	slog.Info("Bank transfer payment channel initialized", "base_url", b.cfg.BaseURL)
	return nil
}

func (b *BankTransfer) Name() models.Provider {
	return models.ProviderBankTransferGateway
}

type singlePaymentRequest struct {
	Amount          int64  `json:"amount"`
	Currency        string `json:"currency"`
	Reference       string `json:"reference"`
	Description     string `json:"description"`
	PayerName       string `json:"payerName,omitempty"`
	PayerEmail      string `json:"payerEmail,omitempty"`
	NotificationURL string `json:"notificationUrl"`
	OkURL           string `json:"okUrl"`
	KoURL           string `json:"koUrl"`
}

// Initiate 创建单笔转账，返回网关的支付页面地址
func (b *BankTransfer) Initiate(ctx context.Context, req *types.InitiateRequest) (*types.InitiateResult, error) {
	body, err := json.Marshal(&singlePaymentRequest{
		Amount:          money.ToMinorUnits(req.Amount),
		Currency:        strings.ToUpper(req.Currency),
		Reference:       req.OrderRef,
		Description:     req.Description,
		PayerName:       req.PayerName,
		PayerEmail:      req.PayerEmail,
		NotificationURL: req.NotifyURL,
		OkURL:           req.OkURL,
		KoURL:           req.KoURL,
	})
	if err != nil {
		return nil, err
	}

	httpReq := fasthttp.AcquireRequest()
	httpResp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(httpReq)
	defer fasthttp.ReleaseResponse(httpResp)

	httpReq.SetRequestURI(strings.TrimRight(b.cfg.BaseURL, "/") + "/payments/single")
	httpReq.Header.SetMethod(fasthttp.MethodPost)
	httpReq.Header.Set("Authorization", "Bearer "+b.cfg.APIKey)
	httpReq.Header.SetContentType("application/json")
	httpReq.SetBody(body)

	if err := b.client.DoTimeout(httpReq, httpResp, timeout(ctx, b.cfg.Timeout)); err != nil {
		return nil, fmt.Errorf("%w: %v", errors.ErrProviderRequest, err)
	}

	raw := map[string]interface{}{}
	if err := json.Unmarshal(httpResp.Body(), &raw); err != nil {
		return nil, fmt.Errorf("%w: invalid response body (status %d)", errors.ErrProviderRequest, httpResp.StatusCode())
	}
	if httpResp.StatusCode() >= 300 {
		slog.Error("[BankTransfer] Payment request rejected",
			"status", httpResp.StatusCode(), "reference", req.OrderRef, "error", utils.Field(raw, "message", "error"))
		return nil, fmt.Errorf("%w: status %d", errors.ErrProviderRequest, httpResp.StatusCode())
	}

	redirect := utils.Field(raw, "redirectUrl", "redirect_url", "paymentUrl", "url")
	if redirect == "" {
		if links, ok := raw["links"].(map[string]interface{}); ok {
			redirect = utils.Field(links, "redirect", "payment")
		}
	}
	if redirect == "" {
		return nil, fmt.Errorf("%w: response has no redirect url", errors.ErrProviderRequest)
	}

	return &types.InitiateResult{
		Status:            models.IntentStatusInitiated,
		RedirectURL:       redirect,
		ProviderPaymentID: utils.Field(raw, "paymentId", "payment_id", "id"),
		ProviderReference: req.OrderRef,
		Raw:               raw,
	}, nil
}

// ParseCallback 校验 X-Signature（原始请求体的 HMAC-SHA256 十六进制）后解析通知
func (b *BankTransfer) ParseCallback(ctx context.Context, req *types.CallbackRequest) (*types.CallbackResult, error) {
	if !b.verify(req.Body, req.Headers.Get(SignatureHeader)) {
		return nil, errors.ErrInvalidSignature
	}

	data := map[string]interface{}{}
	if err := json.Unmarshal(req.Body, &data); err != nil {
		return nil, fmt.Errorf("%w: webhook body is not json", errors.ErrValidation)
	}
	// 部分事件把支付信息包在 data 字段里
	if inner, ok := data["data"].(map[string]interface{}); ok {
		data = inner
	}

	status := strings.ToUpper(utils.Field(data, "status", "paymentStatus"))
	result := &types.CallbackResult{
		Status:       mapStatus(status),
		OrderRef:     utils.Field(data, "reference", "merchantReference"),
		PaymentID:    utils.Field(data, "paymentId", "payment_id", "id"),
		ResponseCode: status,
		Raw:          data,
	}
	result.Reference = result.OrderRef
	if minor, err := utils.MinorUnits(utils.Field(data, "amount")); err == nil {
		result.Amount = money.FromMinorUnits(minor)
	}
	return result, nil
}

// Sign 计算请求体签名，网关与测试共用
func Sign(secret string, body []byte) string {
	return hex.EncodeToString(utils.HMAC256([]byte(secret), body))
}

func (b *BankTransfer) verify(body []byte, signature string) bool {
	got, err := hex.DecodeString(strings.TrimSpace(signature))
	if err != nil || len(got) == 0 {
		return false
	}
	return hmac.Equal(got, utils.HMAC256([]byte(b.cfg.WebhookSecret), body))
}

func mapStatus(status string) types.CallbackStatus {
	switch status {
	case "COMPLETED", "SETTLED", "ACCEPTED":
		return types.CallbackSucceeded
	case "FAILED", "REJECTED", "CANCELLED", "CANCELED":
		return types.CallbackFailed
	default:
		return types.CallbackPending
	}
}

func timeout(ctx context.Context, fallback time.Duration) time.Duration {
	if deadline, ok := ctx.Deadline(); ok {
		if d := time.Until(deadline); d > 0 && d < fallback {
			return d
		}
	}
	return fallback
}

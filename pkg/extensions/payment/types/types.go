package types

import (
	"net/http"
	"net/url"

	"github.com/flaboy/aira-splitpay/pkg/models"
	"github.com/shopspring/decimal"
)

// InitiateRequest 发起支付的参数
type InitiateRequest struct {
	OrderRef    string          `json:"order_ref"`
	IntentToken string          `json:"intent_token"`
	Amount      decimal.Decimal `json:"amount"`
	Currency    string          `json:"currency"`
	Method      string          `json:"method"`
	Description string          `json:"description"`
	PayerName   string          `json:"payer_name,omitempty"`
	PayerEmail  string          `json:"payer_email,omitempty"`
	OkURL       string          `json:"ok_url"`
	KoURL       string          `json:"ko_url"`
	NotifyURL   string          `json:"notify_url"`
}

// InitiateResult 发起支付结果
type InitiateResult struct {
	Status            models.IntentStatus    `json:"status"`       // initiated 或 redirecting
	RedirectURL       string                 `json:"redirect_url"` // 需要用户跳转的URL
	FormURL           string                 `json:"form_url,omitempty"`
	FormFields        map[string]string      `json:"form_fields,omitempty"` // 需要 POST 到 FormURL 的字段
	ProviderPaymentID string                 `json:"provider_payment_id,omitempty"`
	ProviderReference string                 `json:"provider_reference,omitempty"`
	Raw               map[string]interface{} `json:"-"` // 请求/响应快照
}

type CallbackStatus string

const (
	CallbackSucceeded CallbackStatus = "succeeded"
	CallbackFailed    CallbackStatus = "failed"
	CallbackPending   CallbackStatus = "pending"
	// 付款人已确认，服务端捕获后才扣款
	CallbackAuthorized CallbackStatus = "authorized"
)

// CallbackRequest 服务商回调的原始内容
type CallbackRequest struct {
	Body    []byte
	Form    url.Values
	Query   url.Values
	Headers http.Header
}

// CallbackResult 各渠道解析后的统一回调结果
type CallbackResult struct {
	Status       CallbackStatus         `json:"status"`
	OrderRef     string                 `json:"order_ref,omitempty"`
	PaymentID    string                 `json:"payment_id,omitempty"`
	Reference    string                 `json:"reference,omitempty"`
	Amount       decimal.Decimal        `json:"amount"`
	ResponseCode string                 `json:"response_code,omitempty"`
	Raw          map[string]interface{} `json:"raw,omitempty"`
}

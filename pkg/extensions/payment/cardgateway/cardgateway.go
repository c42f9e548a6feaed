package cardgateway

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/flaboy/aira-splitpay/pkg/errors"
	"github.com/flaboy/aira-splitpay/pkg/extensions/payment/types"
	"github.com/flaboy/aira-splitpay/pkg/extensions/payment/utils"
	"github.com/flaboy/aira-splitpay/pkg/models"
	"github.com/flaboy/aira-splitpay/pkg/money"
)

const SignatureVersion = "HMAC_SHA256_V1"

type Config struct {
	URL          string
	MerchantCode string
	Terminal     string
	CurrencyCode string // ISO 4217 数字代码
	Secret       string
}

// CardGateway 银行卡支付：生成签名表单，由用户浏览器 POST 到网关
type CardGateway struct {
	cfg    Config
	signer Signer
}

func New(cfg Config) *CardGateway {
	return &CardGateway{cfg: cfg, signer: NewHMACSigner(cfg.Secret)}
}

// WithSigner 替换签名方案
func (g *CardGateway) WithSigner(signer Signer) *CardGateway {
	g.signer = signer
	return g
}

func (g *CardGateway) Init() error {
	if g.cfg.MerchantCode == "" || g.cfg.Secret == "" {
		return fmt.Errorf("card gateway merchant code and secret are required")
	}
	if g.cfg.Terminal == "" {
		g.cfg.Terminal = "1"
	}
	if g.cfg.CurrencyCode == "" {
		g.cfg.CurrencyCode = "978"
	}
	slog.Info("Card gateway payment channel initialized", "merchant", g.cfg.MerchantCode)
	return nil
}

func (g *CardGateway) Name() models.Provider {
	return models.ProviderCardGateway
}

// Initiate 构造签名后的表单参数
func (g *CardGateway) Initiate(ctx context.Context, req *types.InitiateRequest) (*types.InitiateResult, error) {
	params := map[string]string{
		"DS_MERCHANT_AMOUNT":             strconv.FormatInt(money.ToMinorUnits(req.Amount), 10),
		"DS_MERCHANT_ORDER":              req.OrderRef,
		"DS_MERCHANT_MERCHANTCODE":       g.cfg.MerchantCode,
		"DS_MERCHANT_CURRENCY":           g.cfg.CurrencyCode,
		"DS_MERCHANT_TRANSACTIONTYPE":    "0",
		"DS_MERCHANT_TERMINAL":           g.cfg.Terminal,
		"DS_MERCHANT_MERCHANTURL":        req.NotifyURL,
		"DS_MERCHANT_URLOK":              req.OkURL,
		"DS_MERCHANT_URLKO":              req.KoURL,
		"DS_MERCHANT_PRODUCTDESCRIPTION": req.Description,
	}
	if req.PayerName != "" {
		params["DS_MERCHANT_TITULAR"] = req.PayerName
	}

	encoded, err := json.Marshal(params)
	if err != nil {
		return nil, fmt.Errorf("failed to encode merchant parameters: %w", err)
	}
	merchantParameters := base64.StdEncoding.EncodeToString(encoded)

	fields := map[string]string{
		"Ds_SignatureVersion":   SignatureVersion,
		"Ds_MerchantParameters": merchantParameters,
		"Ds_Signature":          g.signer.Sign(merchantParameters, req.OrderRef),
	}

	raw := make(map[string]interface{}, len(params))
	for k, v := range params {
		raw[k] = v
	}
	return &types.InitiateResult{
		Status:            models.IntentStatusRedirecting,
		FormURL:           g.cfg.URL,
		RedirectURL:       g.cfg.URL,
		FormFields:        fields,
		ProviderReference: req.OrderRef,
		Raw:               raw,
	}, nil
}

// ParseCallback 验签并解析网关通知
func (g *CardGateway) ParseCallback(ctx context.Context, req *types.CallbackRequest) (*types.CallbackResult, error) {
	merchantParameters := formValue(req, "Ds_MerchantParameters")
	signature := formValue(req, "Ds_Signature")
	if merchantParameters == "" || signature == "" {
		return nil, fmt.Errorf("%w: missing merchant parameters or signature", errors.ErrInvalidSignature)
	}

	decoded, ok := decodeSignature(merchantParameters)
	if !ok {
		return nil, fmt.Errorf("%w: merchant parameters are not base64", errors.ErrInvalidSignature)
	}
	var data map[string]interface{}
	if err := json.Unmarshal(decoded, &data); err != nil {
		return nil, fmt.Errorf("%w: merchant parameters are not json", errors.ErrInvalidSignature)
	}

	orderRef := utils.Field(data, "Ds_Order", "DS_MERCHANT_ORDER")
	if orderRef == "" || !g.signer.Verify(merchantParameters, orderRef, signature) {
		return nil, errors.ErrInvalidSignature
	}

	code := utils.Field(data, "Ds_Response")
	result := &types.CallbackResult{
		Status:       types.CallbackFailed,
		OrderRef:     orderRef,
		Reference:    orderRef,
		PaymentID:    utils.Field(data, "Ds_AuthorisationCode"),
		ResponseCode: code,
		Raw:          data,
	}
	if minor, err := utils.MinorUnits(utils.Field(data, "Ds_Amount")); err == nil {
		result.Amount = money.FromMinorUnits(minor)
	}

	// 0000-0099 为授权成功
	if n, err := utils.MinorUnits(code); err == nil && code != "" && n >= 0 && n <= 99 {
		result.Status = types.CallbackSucceeded
	}
	return result, nil
}

func formValue(req *types.CallbackRequest, key string) string {
	if v := req.Form.Get(key); v != "" {
		return v
	}
	if v := req.Query.Get(key); v != "" {
		return v
	}
	if len(req.Body) > 0 {
		var body map[string]interface{}
		if err := json.Unmarshal(req.Body, &body); err == nil {
			return utils.Field(body, key)
		}
	}
	return ""
}

package payment

import (
	"fmt"
	"log/slog"

	"github.com/flaboy/aira-splitpay/pkg/config"
	"github.com/flaboy/aira-splitpay/pkg/extensions/payment/banktransfer"
	"github.com/flaboy/aira-splitpay/pkg/extensions/payment/cardgateway"
	"github.com/flaboy/aira-splitpay/pkg/extensions/payment/paypal"
)

// Init 按配置注册启用的支付渠道
func Init(cfg *config.CommenceConfig) (*Registry, error) {
	registry := NewRegistry()

	if cfg.CardGateway.Enabled {
		err := registry.Register(cardgateway.New(cardgateway.Config{
			URL:          cfg.CardGateway.URL,
			MerchantCode: cfg.CardGateway.MerchantCode,
			Terminal:     cfg.CardGateway.Terminal,
			CurrencyCode: cfg.CardGateway.CurrencyCode,
			Secret:       cfg.CardGateway.Secret,
		}))
		if err != nil {
			return nil, fmt.Errorf("card gateway: %w", err)
		}
	}

	if cfg.BankTransfer.Enabled {
		err := registry.Register(banktransfer.New(banktransfer.Config{
			BaseURL:       cfg.BankTransfer.BaseURL,
			APIKey:        cfg.BankTransfer.APIKey,
			WebhookSecret: cfg.BankTransfer.WebhookSecret,
		}))
		if err != nil {
			return nil, fmt.Errorf("bank transfer gateway: %w", err)
		}
	}

	if cfg.PayPal.Enabled {
		err := registry.Register(paypal.New(paypal.Config{
			ClientID:     cfg.PayPal.ClientID,
			ClientSecret: cfg.PayPal.ClientSecret,
			Sandbox:      cfg.PayPal.Sandbox,
		}))
		if err != nil {
			return nil, fmt.Errorf("paypal: %w", err)
		}
	}

	slog.Info("[PaymentManager] Providers registered", "providers", registry.Available())
	return registry, nil
}

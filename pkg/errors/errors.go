package errors

import (
	stderrors "errors"

	"github.com/flaboy/pin/usererrors"
)

// 输入校验
var (
	ErrValidation = usererrors.New("splitpay.validation_failed", "Invalid request")
)

// 分期相关错误
var (
	ErrNoSlotsRemaining = usererrors.New("slot.none_remaining", "No slots remaining")
	ErrPersistence      = usererrors.New("slot.persistence_failed", "Failed to persist payment state")
)

// 支付链接相关错误
var (
	ErrLinkNotFound  = usererrors.New("link.not_found", "Payment link not found")
	ErrLinkNotActive = usererrors.New("link.not_active", "Payment link is not active")
	ErrLinkExpired   = usererrors.New("link.expired", "Payment link expired")
)

// 支付相关错误
var (
	ErrInvalidSignature = usererrors.New("payment.invalid_signature", "Invalid callback signature")
	ErrLedger           = usererrors.New("payment.ledger_failed", "Failed to record collection")
	ErrProviderNotFound = usererrors.New("payment.provider_not_found", "Payment provider not found")
	ErrProviderRequest  = usererrors.New("payment.provider_request_failed", "Payment provider request failed")
	ErrIntentNotFound   = usererrors.New("payment.intent_not_found", "Payment intent not found")
)

const (
	MessagePaymentFailed  = "We could not complete the payment. Please try again later."
	MessageNoSlots        = "There are no slots remaining for this booking."
	MessageLinkExpired    = "This payment link has expired."
	MessageLinkNotActive  = "This payment link is no longer available."
	MessageInvalidRequest = "The request is not valid."
)

// UserMessage 将内部错误映射为可以展示给付款人的文案，不暴露内部标识或记账错误详情
func UserMessage(err error) string {
	switch {
	case err == nil:
		return ""
	case stderrors.Is(err, ErrNoSlotsRemaining):
		return MessageNoSlots
	case stderrors.Is(err, ErrLinkExpired):
		return MessageLinkExpired
	case stderrors.Is(err, ErrLinkNotFound), stderrors.Is(err, ErrLinkNotActive):
		return MessageLinkNotActive
	case stderrors.Is(err, ErrValidation):
		return MessageInvalidRequest
	default:
		return MessagePaymentFailed
	}
}

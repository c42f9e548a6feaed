package events

import "github.com/flaboy/aira-splitpay/pkg/types"

// EventHandler 由通知层（邮件、后台推送）实现
type EventHandler interface {
	OnPaymentReconciled(event *types.PaymentReconciledEvent) error
	OnSlotsAllocated(event *types.SlotsAllocatedEvent) error
	OnLinkPaid(event *types.LinkPaidEvent) error
}

var handler EventHandler

func SetEventHandler(h EventHandler) {
	handler = h
}

func EmitPaymentReconciled(event *types.PaymentReconciledEvent) error {
	if handler != nil {
		return handler.OnPaymentReconciled(event)
	}
	return nil
}

func EmitSlotsAllocated(event *types.SlotsAllocatedEvent) error {
	if handler != nil {
		return handler.OnSlotsAllocated(event)
	}
	return nil
}

func EmitLinkPaid(event *types.LinkPaidEvent) error {
	if handler != nil {
		return handler.OnLinkPaid(event)
	}
	return nil
}

package payment

import (
	"context"
	"sort"
	"sync"

	"github.com/flaboy/aira-splitpay/pkg/extensions/payment/types"
	"github.com/flaboy/aira-splitpay/pkg/models"
)

// ProviderAdapter 一个支付渠道：负责签名、验签以及请求/响应格式
type ProviderAdapter interface {
	// 资源初始化
	Init() error

	// 获取渠道名称
	Name() models.Provider

	// 发起支付
	Initiate(ctx context.Context, req *types.InitiateRequest) (*types.InitiateResult, error)

	// 验签并解析回调；签名错误时返回 errors.ErrInvalidSignature
	ParseCallback(ctx context.Context, req *types.CallbackRequest) (*types.CallbackResult, error)
}

// Capturer 需要服务端捕获才完成扣款的渠道（PayPal）。
// ParseCallback 对这类渠道只返回 CallbackAuthorized，不移动资金。
type Capturer interface {
	Capture(ctx context.Context, res *types.CallbackResult) (*types.CallbackResult, error)
}

// Registry 已注册的支付渠道
type Registry struct {
	mu       sync.RWMutex
	adapters map[models.Provider]ProviderAdapter
}

func NewRegistry() *Registry {
	return &Registry{adapters: make(map[models.Provider]ProviderAdapter)}
}

// Register 初始化并注册渠道
func (r *Registry) Register(adapter ProviderAdapter) error {
	if err := adapter.Init(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.adapters[adapter.Name()] = adapter
	return nil
}

func (r *Registry) Get(provider models.Provider) ProviderAdapter {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.adapters[provider]
}

// Available 获取所有可用的支付渠道
func (r *Registry) Available() []models.Provider {
	r.mu.RLock()
	defer r.mu.RUnlock()
	list := make([]models.Provider, 0, len(r.adapters))
	for name := range r.adapters {
		list = append(list, name)
	}
	sort.Slice(list, func(i, j int) bool { return list[i] < list[j] })
	return list
}

package commence

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/flaboy/aira-splitpay/pkg/allocation"
	"github.com/flaboy/aira-splitpay/pkg/config"
	"github.com/flaboy/aira-splitpay/pkg/database"
	"github.com/flaboy/aira-splitpay/pkg/events"
	"github.com/flaboy/aira-splitpay/pkg/extensions/payment"
	"github.com/flaboy/aira-splitpay/pkg/intent"
	"github.com/flaboy/aira-splitpay/pkg/ledger"
	"github.com/flaboy/aira-splitpay/pkg/ledger/rest"
	"github.com/flaboy/aira-splitpay/pkg/paymentlink"
	"github.com/flaboy/aira-splitpay/pkg/reservation"
	"github.com/flaboy/aira-splitpay/pkg/retry"
	"github.com/flaboy/aira-splitpay/pkg/serviceaction"
	"github.com/flaboy/aira-splitpay/pkg/slots"
	"github.com/flaboy/aira-splitpay/pkg/statement"
	"github.com/flaboy/aira-splitpay/pkg/web"
	"gorm.io/gorm"
)

// App 启动后的服务组件
type App struct {
	Config       *config.CommenceConfig
	DB           *gorm.DB
	Ledger       ledger.Service
	Providers    *payment.Registry
	Slots        *slots.Store
	Reservations *reservation.Service
	Allocations  *allocation.Service
	Links        *paymentlink.Service
	Statement    *statement.Service
	Intents      *intent.Service
	Engine       *serviceaction.Engine
	Sweeper      *retry.Sweeper

	sqsQueue   *retry.SQSQueue
	localQueue *retry.LocalQueue
}

// Option 替换默认组件（测试或嵌入时使用）
type Option func(*App)

// WithLedger 使用给定的账务系统实现，而不是配置中的 REST 客户端
func WithLedger(l ledger.Service) Option {
	return func(a *App) { a.Ledger = l }
}

// WithProviders 使用给定的渠道注册表
func WithProviders(r *payment.Registry) Option {
	return func(a *App) { a.Providers = r }
}

// WithDB 使用已经打开的数据库连接
func WithDB(db *gorm.DB) Option {
	return func(a *App) { a.DB = db }
}

func Start(ctx context.Context, cfg *config.CommenceConfig, opts ...Option) (*App, error) {
	config.Config = cfg
	app := &App{Config: cfg}
	for _, opt := range opts {
		opt(app)
	}

	if app.DB == nil {
		db, err := database.Open(cfg.Database.Driver, cfg.Database.DSN)
		if err != nil {
			return nil, err
		}
		app.DB = db
	}
	database.SetDatabase(app.DB)

	if app.Ledger == nil {
		if cfg.Ledger.BaseURL == "" {
			return nil, fmt.Errorf("ledger base url is not configured")
		}
		app.Ledger = rest.New(cfg.Ledger.BaseURL, cfg.Ledger.APIKey, cfg.Ledger.Timeout)
	}

	if app.Providers == nil {
		registry, err := payment.Init(cfg)
		if err != nil {
			return nil, err
		}
		app.Providers = registry
	}

	var queue intent.RetryQueue
	if cfg.Retry.SQSQueueURL != "" {
		q, err := retry.NewSQSQueue(ctx, retry.SQSConfig{
			QueueURL:  cfg.Retry.SQSQueueURL,
			Region:    cfg.Retry.AWSRegion,
			AccessKey: cfg.Retry.AWSAccessKey,
			Secret:    cfg.Retry.AWSSecret,
		})
		if err != nil {
			return nil, err
		}
		app.sqsQueue = q
		queue = q
	} else {
		app.localQueue = retry.NewLocalQueue(0)
		queue = app.localQueue
	}

	app.Slots = slots.NewStore(app.DB)
	app.Reservations = reservation.NewService(app.Slots)
	app.Allocations = allocation.NewService(app.Slots)
	app.Links = paymentlink.NewService(app.DB, app.Ledger, cfg.DefaultCurrency)
	app.Statement = statement.NewService(app.DB)
	app.Intents = intent.NewService(intent.Options{
		DB:              app.DB,
		Ledger:          app.Ledger,
		Providers:       app.Providers,
		Slots:           app.Slots,
		Reservations:    app.Reservations,
		Allocations:     app.Allocations,
		Links:           app.Links,
		Statement:       app.Statement,
		Queue:           queue,
		BuildURL:        cfg.BuildURL,
		DefaultCurrency: cfg.DefaultCurrency,
		ReservationTTL:  cfg.ReservationTTL,
		SettleLease:     cfg.SettleLease,
	})

	app.Engine = serviceaction.NewEngine()
	if err := app.Engine.Register(serviceaction.NewReconcileIntentExecutor(app.Intents)); err != nil {
		return nil, err
	}
	app.Sweeper = retry.NewSweeper(app.Intents, cfg.Retry.Interval, cfg.Retry.BatchSize)

	slog.Info("[Commence] Started", "providers", app.Providers.Available(), "actions", app.Engine.Types())
	return app, nil
}

// RunWorkers 启动重试队列监听和定期扫描，阻塞直到 ctx 结束
func (a *App) RunWorkers(ctx context.Context) {
	if a.sqsQueue != nil {
		go a.sqsQueue.Listen(ctx, a.Engine)
	} else if a.localQueue != nil {
		go a.localQueue.Listen(ctx, a.Engine)
	}
	a.Sweeper.Run(ctx)
}

// Server 创建 HTTP 服务
func (a *App) Server() *web.Server {
	return web.NewServer(a.Intents, a.Links, a.Statement)
}

// 注册业务系统的事件处理器
func RegisterEventHandler(handler events.EventHandler) {
	events.SetEventHandler(handler)
}

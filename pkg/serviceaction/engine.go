package serviceaction

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"
)

var (
	ErrUnknownAction = errors.New("unknown action")
	ErrInvalidArgs   = errors.New("invalid action args")
)

// Permanent 重试也不会成功的错误（未知动作、参数错误），队列应直接丢弃消息
func Permanent(err error) bool {
	return errors.Is(err, ErrUnknownAction) || errors.Is(err, ErrInvalidArgs)
}

// Engine 按动作类型分发队列消息
type Engine struct {
	mu        sync.RWMutex
	executors map[ActionType]Executor
}

func NewEngine() *Engine {
	return &Engine{executors: make(map[ActionType]Executor)}
}

// Register 注册执行器，同一类型只能注册一次
func (e *Engine) Register(executor Executor) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, exists := e.executors[executor.Type()]; exists {
		return fmt.Errorf("executor for %s already registered", executor.Type())
	}
	e.executors[executor.Type()] = executor
	return nil
}

// Dispatch 校验参数后执行动作
func (e *Engine) Dispatch(ctx context.Context, action Action) error {
	e.mu.RLock()
	executor, exists := e.executors[action.Type]
	e.mu.RUnlock()
	if !exists {
		return fmt.Errorf("%w: %s", ErrUnknownAction, action.Type)
	}

	if err := executor.Validate(action.Args); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrInvalidArgs, action.Type, err)
	}

	start := time.Now()
	if err := executor.Execute(ctx, action.Args); err != nil {
		return fmt.Errorf("%s: %w", action.Type, err)
	}
	slog.Debug("[ServiceAction] Executed", "action", action.Type, "duration", time.Since(start))
	return nil
}

// Types 已注册的动作类型，按名称排序
func (e *Engine) Types() []ActionType {
	e.mu.RLock()
	defer e.mu.RUnlock()
	list := make([]ActionType, 0, len(e.executors))
	for t := range e.executors {
		list = append(list, t)
	}
	sort.Slice(list, func(i, j int) bool { return list[i] < list[j] })
	return list
}

package xrun

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/omeyang/mongolock/pkg/observability/xlog"
)

// Group 基于 errgroup 管理一组协作的后台任务（如锁续期、持有时限）。
//
// 任一任务返回错误、Cancel 被调用或父 ctx 结束时，其余任务的 ctx 被取消。
// Go 与 Cancel 可并发调用，Wait 只应调用一次。
type Group struct {
	eg       *errgroup.Group
	ctx      context.Context
	causeCtx context.Context
	cancel   context.CancelCauseFunc
	opts     *groupOptions
}

// NewGroup 创建 Group，返回的 ctx 在任一任务失败时取消。
func NewGroup(ctx context.Context, opts ...Option) (*Group, context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}

	o := defaultOptions()
	for _, opt := range opts {
		if opt != nil {
			opt(o)
		}
	}

	causeCtx, cancel := context.WithCancelCause(ctx)
	eg, egCtx := errgroup.WithContext(causeCtx)

	return &Group{
		eg:       eg,
		ctx:      egCtx,
		causeCtx: causeCtx,
		cancel:   cancel,
		opts:     o,
	}, egCtx
}

// Go 启动任务。fn 为 nil 时该任务返回 ErrNilFunc。
func (g *Group) Go(fn func(ctx context.Context) error) {
	g.eg.Go(func() error {
		if fn == nil {
			return ErrNilFunc
		}
		return fn(g.ctx)
	})
}

// GoWithName 同 Go，额外记录任务的启动与退出日志。
func (g *Group) GoWithName(name string, fn func(ctx context.Context) error) {
	g.eg.Go(func() error {
		if fn == nil {
			return ErrNilFunc
		}
		logger := g.logger()
		logger.Debug(g.ctx, "task starting", xlog.Component(g.opts.name), xlog.Operation(name))

		err := fn(g.ctx)
		if err != nil && !errors.Is(err, context.Canceled) {
			logger.Warn(g.ctx, "task exited with error",
				xlog.Component(g.opts.name), xlog.Operation(name), xlog.Err(err))
		} else {
			logger.Debug(g.ctx, "task stopped", xlog.Component(g.opts.name), xlog.Operation(name))
		}
		return err
	})
}

// Wait 等待全部任务结束，返回第一个错误。
//
// Group 已结束（Cancel 或父 ctx 取消/超时）时，任务返回的 ctx 错误会被过滤：
// 有显式 cause 时返回 cause（如 *SignalError），否则返回 nil。
// Group 仍存活时任务自身产生的 ctx 错误原样返回。
func (g *Group) Wait() error {
	defer g.cancel(nil)

	err := g.eg.Wait()

	if g.causeCtx.Err() == nil {
		return err
	}
	if err == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return g.cause()
	}
	return err
}

// cause 返回显式的取消原因；普通的取消或超时返回 nil。
func (g *Group) cause() error {
	cause := context.Cause(g.causeCtx)
	if cause == nil || cause == g.causeCtx.Err() {
		return nil
	}
	return cause
}

// Cancel 取消所有任务。cause 非 nil 时由 Wait 返回；
// cause 为 context.Canceled 本身时视为普通取消。
func (g *Group) Cancel(cause error) {
	g.cancel(cause)
}

// Context 返回任务共享的 ctx。
func (g *Group) Context() context.Context {
	return g.ctx
}

func (g *Group) logger() xlog.Logger {
	if g.opts.logger != nil {
		return g.opts.logger
	}
	return xlog.Default()
}

// watchSignals 收到信号后以 *SignalError 取消 Group，done 关闭后退出。
func (g *Group) watchSignals(signals []os.Signal, done <-chan struct{}) {
	g.Go(func(ctx context.Context) error {
		testc := testSigChan(ctx)
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, signals...)
		defer signal.Stop(sigCh)

		var sig os.Signal
		select {
		case sig = <-testc:
		case sig = <-sigCh:
		case <-done:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}

		g.logger().Info(ctx, "received signal",
			xlog.Component(g.opts.name),
			xlog.Operation(sig.String()),
		)
		g.cancel(&SignalError{Signal: sig})
		return nil
	})
}

// Run 运行任务直到全部结束、任一失败或收到信号。
//
// 默认监听 SIGINT/SIGTERM，收到信号时返回 *SignalError（errors.Is(err, ErrSignal) 为真）；
// 可用 WithSignals 调整，WithoutSignalHandler 关闭。
func Run(ctx context.Context, opts []Option, tasks ...func(ctx context.Context) error) error {
	g, _ := NewGroup(ctx, opts...)

	done := make(chan struct{})
	if !g.opts.noSignalHandler {
		signals := g.opts.signals
		if len(signals) == 0 {
			signals = DefaultSignals()
		}
		g.watchSignals(signals, done)
	}

	var wg sync.WaitGroup
	for _, task := range tasks {
		wg.Add(1)
		g.Go(func(ctx context.Context) error {
			defer wg.Done()
			if task == nil {
				return ErrNilFunc
			}
			return task(ctx)
		})
	}
	go func() {
		wg.Wait()
		close(done)
	}()

	return g.Wait()
}

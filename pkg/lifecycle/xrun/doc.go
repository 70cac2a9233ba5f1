// Package xrun 基于 errgroup 的后台任务编排，用于持有锁期间的续期与退出协调。
//
// 任一任务失败、收到终止信号或父 ctx 结束时，所有任务的 ctx 被取消；
// Wait/Run 过滤由此产生的 context.Canceled，信号退出返回 *SignalError。
//
//	err := xrun.Run(ctx, []xrun.Option{xrun.WithName("hold")},
//		xrun.Ticker(every, false, func(ctx context.Context) error {
//			return m.Renew(ctx, name, owner, lockTimeout)
//		}),
//	)
//	if errors.Is(err, xrun.ErrSignal) {
//		// 正常退出，随后释放锁
//	}
package xrun

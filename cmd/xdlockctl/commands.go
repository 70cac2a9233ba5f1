package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"slices"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/google/uuid"
	"github.com/urfave/cli/v3"
	"go.mongodb.org/mongo-driver/v2/bson"

	"github.com/omeyang/mongolock/pkg/distributed/xdlock"
	"github.com/omeyang/mongolock/pkg/lifecycle/xrun"
	"github.com/omeyang/mongolock/pkg/observability/xlog"
	"github.com/omeyang/mongolock/pkg/storage/xmongo"
)

const (
	defaultPageSize = 20
	timeFormat      = time.RFC3339
)

// errHoldElapsed hold 到达 --for 时限，属于正常退出。
var errHoldElapsed = errors.New("hold duration elapsed")

// exitError 表示需要非零退出码但已完成输出的场景。
type exitError struct {
	code int
}

func (e *exitError) Error() string { return "" }

// usageError 参数错误，退出码 2。
type usageError struct {
	msg string
}

func (e *usageError) Error() string { return e.msg }

// cliUsageMessages urfave/cli 参数解析错误的特征文本。
var cliUsageMessages = []string{
	"flag provided but not defined",
	"Required flag",
	"Required flags",
	"invalid value",
	"No help topic for",
}

// isCLIUsageError 判断是否为 CLI 框架产生的参数错误。
func isCLIUsageError(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return slices.ContainsFunc(cliUsageMessages, func(s string) bool {
		return strings.Contains(msg, s)
	})
}

// onUsageError 将 flag 解析错误统一为 usageError。
func onUsageError(_ context.Context, _ *cli.Command, err error, _ bool) error {
	return &usageError{msg: err.Error()}
}

// lockAction 在已打开的后端上执行的命令体。
type lockAction func(ctx context.Context, cmd *cli.Command, b *backend) error

// withBackend 加载配置、构建日志器并打开后端，命令结束后释放连接。
func withBackend(fn lockAction) cli.ActionFunc {
	return func(ctx context.Context, cmd *cli.Command) error {
		s, err := loadSettings(cmd)
		if err != nil {
			return err
		}
		logger, cleanup, err := newLogger(s.Log, errWriter(cmd))
		if err != nil {
			return err
		}
		defer func() { _ = cleanup() }()

		openCtx, cancel := context.WithTimeout(ctx, cmd.Duration("timeout"))
		b, err := openBackend(openCtx, s, logger)
		cancel()
		if err != nil {
			return err
		}
		defer func() {
			if err := b.Close(context.WithoutCancel(ctx)); err != nil {
				logger.Warn(ctx, "close backend", xlog.Backend(b.kind), xlog.Err(err))
			}
		}()

		return fn(ctx, cmd, b)
	}
}

func createCommands() []*cli.Command {
	return []*cli.Command{
		createAcquireCommand(),
		createReleaseCommand(),
		createRenewCommand(),
		createStatusCommand(),
		createListCommand(),
		createHoldCommand(),
		createPingCommand(),
	}
}

func ownerFlag(required bool) cli.Flag {
	usage := "持有者标识（默认随机生成）"
	if required {
		usage = "持有者标识"
	}
	return &cli.StringFlag{
		Name:     "owner",
		Aliases:  []string{"o"},
		Usage:    usage,
		Required: required,
	}
}

func waitFlag() cli.Flag {
	return &cli.DurationFlag{
		Name:    "wait",
		Aliases: []string{"w"},
		Usage:   "锁被占用时的最长等待时间",
	}
}

func lockTimeoutFlag() cli.Flag {
	return &cli.DurationFlag{
		Name:  "lock-timeout",
		Usage: "锁持有时长（0 表示使用配置的默认值）",
	}
}

func createAcquireCommand() *cli.Command {
	return &cli.Command{
		Name:         "acquire",
		Usage:        "获取锁，被占用时退出码为 1",
		ArgsUsage:    "<name>",
		Flags:        []cli.Flag{ownerFlag(false), waitFlag(), lockTimeoutFlag()},
		OnUsageError: onUsageError,
		Action: withBackend(func(ctx context.Context, cmd *cli.Command, b *backend) error {
			name, err := lockName(cmd)
			if err != nil {
				return err
			}
			return cmdAcquire(ctx, cmd, b, name, ownerOrNew(cmd))
		}),
	}
}

func cmdAcquire(ctx context.Context, cmd *cli.Command, b *backend, name, owner string) error {
	wait := cmd.Duration("wait")
	ctx, cancel := context.WithTimeout(ctx, cmd.Duration("timeout")+wait)
	defer cancel()

	err := b.manager.Acquire(ctx, name, owner, wait, lockTimeoutOption(cmd)...)
	if xdlock.IsDuplicateKey(err) {
		fmt.Fprintf(errWriter(cmd), "锁 %s 已被占用\n", name)
		return &exitError{code: 1}
	}
	if err != nil {
		return fmt.Errorf("acquire %s: %w", name, err)
	}
	fmt.Fprintf(outWriter(cmd), "acquired %s owner=%s\n", name, owner)
	return nil
}

func createReleaseCommand() *cli.Command {
	return &cli.Command{
		Name:         "release",
		Usage:        "释放锁（非持有者释放不报错）",
		ArgsUsage:    "<name>",
		Flags:        []cli.Flag{ownerFlag(true)},
		OnUsageError: onUsageError,
		Action: withBackend(func(ctx context.Context, cmd *cli.Command, b *backend) error {
			name, err := lockName(cmd)
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(ctx, cmd.Duration("timeout"))
			defer cancel()

			if err := b.manager.Release(ctx, name, cmd.String("owner")); err != nil {
				return fmt.Errorf("release %s: %w", name, err)
			}
			fmt.Fprintf(outWriter(cmd), "released %s\n", name)
			return nil
		}),
	}
}

func createRenewCommand() *cli.Command {
	return &cli.Command{
		Name:         "renew",
		Usage:        "延长锁的持有时间，锁已被他人持有时退出码为 1",
		ArgsUsage:    "<name>",
		Flags:        []cli.Flag{ownerFlag(true), lockTimeoutFlag()},
		OnUsageError: onUsageError,
		Action: withBackend(func(ctx context.Context, cmd *cli.Command, b *backend) error {
			name, err := lockName(cmd)
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(ctx, cmd.Duration("timeout"))
			defer cancel()

			d := lockTimeout(cmd, b)
			err = b.manager.Renew(ctx, name, cmd.String("owner"), d)
			if xdlock.IsDuplicateKey(err) {
				fmt.Fprintf(errWriter(cmd), "锁 %s 已被其他持有者占用\n", name)
				return &exitError{code: 1}
			}
			if err != nil {
				return fmt.Errorf("renew %s: %w", name, err)
			}
			fmt.Fprintf(outWriter(cmd), "renewed %s for %s\n", name, d)
			return nil
		}),
	}
}

func createStatusCommand() *cli.Command {
	return &cli.Command{
		Name:         "status",
		Usage:        "查看锁状态",
		ArgsUsage:    "<name>",
		OnUsageError: onUsageError,
		Action: withBackend(func(ctx context.Context, cmd *cli.Command, b *backend) error {
			name, err := lockName(cmd)
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(ctx, cmd.Duration("timeout"))
			defer cancel()

			rec, err := b.manager.Inspect(ctx, name)
			if err != nil {
				return fmt.Errorf("status %s: %w", name, err)
			}
			out := outWriter(cmd)
			if rec == nil {
				fmt.Fprintf(out, "%s free\n", name)
				return nil
			}
			fmt.Fprintf(out, "%s owner=%s expires=%s%s\n",
				name, rec.Owner, rec.Expires.Format(timeFormat), expiredMarker(*rec, time.Now()))
			return nil
		}),
	}
}

func createListCommand() *cli.Command {
	return &cli.Command{
		Name:  "list",
		Usage: "分页列出锁记录（仅 mongo 后端）",
		Flags: []cli.Flag{
			&cli.IntFlag{Name: "page", Usage: "页码，从 1 开始", Value: 1},
			&cli.IntFlag{Name: "page-size", Usage: "每页条数", Value: defaultPageSize},
		},
		OnUsageError: onUsageError,
		Action: withBackend(func(ctx context.Context, cmd *cli.Command, b *backend) error {
			if b.mongo == nil {
				return &usageError{msg: fmt.Sprintf("list 仅支持 mongo 后端，当前为 %s", b.kind)}
			}
			ctx, cancel := context.WithTimeout(ctx, cmd.Duration("timeout"))
			defer cancel()

			page, err := b.mongo.FindPage(ctx, b.coll, bson.D{}, xmongo.PageOptions{
				Page:     int64(cmd.Int("page")),
				PageSize: int64(cmd.Int("page-size")),
				Sort:     bson.D{{Key: "_id", Value: 1}},
			})
			if err != nil {
				return pageError(err)
			}

			records := make([]xdlock.Record, 0, len(page.Data))
			for _, raw := range page.Data {
				var rec xdlock.Record
				if err := bson.Unmarshal(raw, &rec); err != nil {
					return fmt.Errorf("list decode: %w", err)
				}
				records = append(records, rec)
			}
			return writeRecords(outWriter(cmd), records, page, time.Now())
		}),
	}
}

// pageError 将分页参数错误映射为用法错误（退出码 2）。
func pageError(err error) error {
	switch {
	case errors.Is(err, xmongo.ErrInvalidPage),
		errors.Is(err, xmongo.ErrInvalidPageSize),
		errors.Is(err, xmongo.ErrPageSizeTooLarge),
		errors.Is(err, xmongo.ErrPageOverflow):
		return &usageError{msg: err.Error()}
	default:
		return fmt.Errorf("list: %w", err)
	}
}

// writeRecords 以表格形式输出一页锁记录。
func writeRecords(w io.Writer, records []xdlock.Record, page *xmongo.PageResult, now time.Time) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tOWNER\tEXPIRES\tSTATE")
	for _, rec := range records {
		state := "held"
		if rec.Expired(now) {
			state = "expired"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", rec.Name, rec.Owner, rec.Expires.Format(timeFormat), state)
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	_, err := fmt.Fprintf(w, "page %d/%d, total %d\n", page.Page, page.TotalPages, page.Total)
	return err
}

func createHoldCommand() *cli.Command {
	return &cli.Command{
		Name:      "hold",
		Usage:     "获取锁并周期续期，收到 SIGINT/SIGTERM 后释放",
		ArgsUsage: "<name>",
		Flags: []cli.Flag{
			ownerFlag(false),
			waitFlag(),
			lockTimeoutFlag(),
			&cli.DurationFlag{
				Name:  "renew-every",
				Usage: "续期间隔（0 表示锁持有时长的 1/3）",
			},
			&cli.DurationFlag{
				Name:  "for",
				Usage: "持有时长，到期后释放（0 表示直到收到信号）",
			},
		},
		OnUsageError: onUsageError,
		Action: withBackend(func(ctx context.Context, cmd *cli.Command, b *backend) error {
			name, err := lockName(cmd)
			if err != nil {
				return err
			}
			return cmdHold(ctx, cmd, b, name, ownerOrNew(cmd))
		}),
	}
}

func cmdHold(ctx context.Context, cmd *cli.Command, b *backend, name, owner string) error {
	d := lockTimeout(cmd, b)
	every := cmd.Duration("renew-every")
	if every <= 0 {
		every = d / 3
	}
	if every <= 0 || every >= d {
		return &usageError{msg: fmt.Sprintf("renew-every (%s) 必须小于锁持有时长 (%s)", every, d)}
	}

	if err := cmdAcquire(ctx, cmd, b, name, owner); err != nil {
		return err
	}

	tasks := []func(context.Context) error{
		xrun.Ticker(every, false, renewTask(b, name, owner, d)),
	}
	if limit := cmd.Duration("for"); limit > 0 {
		tasks = append(tasks, xrun.Timer(limit, func(context.Context) error {
			return errHoldElapsed
		}))
	}
	holdErr := xrun.Run(ctx, []xrun.Option{xrun.WithName("hold"), xrun.WithLogger(b.logger)}, tasks...)
	if errors.Is(holdErr, errHoldElapsed) || errors.Is(holdErr, xrun.ErrSignal) {
		holdErr = nil
	}

	releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cmd.Duration("timeout"))
	defer cancel()
	if err := b.manager.Release(releaseCtx, name, owner); err != nil {
		return errors.Join(holdErr, fmt.Errorf("release %s: %w", name, err))
	}
	if holdErr != nil {
		return holdErr
	}
	fmt.Fprintf(outWriter(cmd), "released %s\n", name)
	return nil
}

// renewTask 返回单次续期函数。
// 续期冲突说明锁已过期并被他人获取，返回错误终止持有。
func renewTask(b *backend, name, owner string, d time.Duration) func(context.Context) error {
	return func(ctx context.Context) error {
		err := b.manager.Renew(ctx, name, owner, d)
		switch {
		case err == nil:
			b.logger.Debug(ctx, "lock renewed", xlog.Lock(name), xlog.Owner(owner), xlog.Duration(d))
			return nil
		case ctx.Err() != nil:
			return ctx.Err()
		case xdlock.IsDuplicateKey(err):
			return fmt.Errorf("lock %s lost to another owner: %w", name, err)
		default:
			return fmt.Errorf("renew %s: %w", name, err)
		}
	}
}

func createPingCommand() *cli.Command {
	return &cli.Command{
		Name:         "ping",
		Usage:        "检查后端连通性",
		OnUsageError: onUsageError,
		Action: withBackend(func(ctx context.Context, cmd *cli.Command, b *backend) error {
			ctx, cancel := context.WithTimeout(ctx, cmd.Duration("timeout"))
			defer cancel()

			start := time.Now()
			if err := b.health(ctx); err != nil {
				return fmt.Errorf("ping %s: %w", b.kind, err)
			}
			out := outWriter(cmd)
			fmt.Fprintf(out, "%s ok (%s)\n", b.kind, time.Since(start).Round(time.Microsecond))
			if b.mongo != nil {
				st := b.mongo.Stats()
				fmt.Fprintf(out, "pings=%d ping_errors=%d slow_queries=%d sessions=%d\n",
					st.PingCount, st.PingErrors, st.SlowQueries, st.SessionsInProgress)
			}
			return nil
		}),
	}
}

// =============================================================================
// 辅助函数
// =============================================================================

func lockName(cmd *cli.Command) (string, error) {
	switch cmd.Args().Len() {
	case 0:
		return "", &usageError{msg: "缺少锁名称"}
	case 1:
		return cmd.Args().First(), nil
	default:
		return "", &usageError{msg: fmt.Sprintf("只能指定一个锁名称，收到 %d 个", cmd.Args().Len())}
	}
}

func ownerOrNew(cmd *cli.Command) string {
	if owner := cmd.String("owner"); owner != "" {
		return owner
	}
	return uuid.NewString()
}

func lockTimeout(cmd *cli.Command, b *backend) time.Duration {
	if d := cmd.Duration("lock-timeout"); d > 0 {
		return d
	}
	return b.manager.LockTimeout()
}

func lockTimeoutOption(cmd *cli.Command) []xdlock.CallOption {
	if d := cmd.Duration("lock-timeout"); d > 0 {
		return []xdlock.CallOption{xdlock.WithTimeout(d)}
	}
	return nil
}

func expiredMarker(rec xdlock.Record, now time.Time) string {
	if rec.Expired(now) {
		return " (expired)"
	}
	return ""
}

func outWriter(cmd *cli.Command) io.Writer {
	if w := cmd.Root().Writer; w != nil {
		return w
	}
	return os.Stdout
}

func errWriter(cmd *cli.Command) io.Writer {
	if w := cmd.Root().ErrWriter; w != nil {
		return w
	}
	return os.Stderr
}

// setupSignalHandler 第一次信号取消 ctx（hold 会释放锁后退出），第二次强制退出。
func setupSignalHandler(cancel context.CancelFunc) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()

		<-sigCh
		signal.Stop(sigCh)
		os.Exit(130)
	}()
}

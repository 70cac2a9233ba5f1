// xdlockctl 是 xdlock 分布式锁的命令行工具，用于排查与手工操作锁记录。
//
// 用法:
//
//	xdlockctl [全局选项] <命令> [命令参数] <name>
//
// 全局选项:
//
//	-c, --config      配置文件（yaml/json），命令行参数优先
//	--backend         存储后端 mongo|redis|etcd (默认: mongo)
//	--uri             MongoDB 连接串
//	--database        MongoDB 数据库
//	--collection      MongoDB 集合
//	--redis-addr      Redis 地址
//	--etcd-endpoints  etcd 地址，逗号分隔
//	-t, --timeout     单次操作超时 (默认: 30s)
//	--log-level       日志级别 (默认: warn)
//	--log-format      日志格式 text|json
//
// 命令:
//
//	acquire <name>    获取锁
//	release <name>    释放锁
//	renew <name>      续期
//	status <name>     查看锁状态
//	list              分页列出锁记录（仅 mongo）
//	hold <name>       持有锁直到收到信号
//	ping              检查后端连通性
//
// 退出码:
//
//	0: 成功
//	1: 执行失败或锁被占用
//	2: 参数错误
//
// 示例:
//
//	xdlockctl acquire nightly-report --owner host-a --wait 5s
//	xdlockctl status nightly-report
//	xdlockctl --backend redis --redis-addr 127.0.0.1:6379 hold migrate --renew-every 5s
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/urfave/cli/v3"
)

const defaultTimeout = 30 * time.Second

// 版本信息，通过 -ldflags "-X main.Version=..." 注入。
var (
	Version   = "0.1.0-dev"
	GitCommit = "unknown"
	BuildTime = "unknown"
)

func main() {
	os.Exit(run())
}

func createApp() *cli.Command {
	return &cli.Command{
		Name:    "xdlockctl",
		Usage:   "xdlock 分布式锁命令行工具",
		Version: fmt.Sprintf("%s (commit: %s, built: %s)", Version, GitCommit, BuildTime),
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "配置文件路径",
				Sources: cli.EnvVars("XDLOCK_CONFIG"),
			},
			&cli.StringFlag{
				Name:    "backend",
				Usage:   "存储后端 (mongo|redis|etcd)",
				Value:   backendMongo,
				Sources: cli.EnvVars("XDLOCK_BACKEND"),
			},
			&cli.StringFlag{
				Name:    "uri",
				Usage:   "MongoDB 连接串",
				Sources: cli.EnvVars("XDLOCK_MONGO_URI"),
			},
			&cli.StringFlag{
				Name:  "database",
				Usage: "MongoDB 数据库",
			},
			&cli.StringFlag{
				Name:  "collection",
				Usage: "MongoDB 集合",
			},
			&cli.StringFlag{
				Name:    "redis-addr",
				Usage:   "Redis 地址",
				Sources: cli.EnvVars("XDLOCK_REDIS_ADDR"),
			},
			&cli.StringSliceFlag{
				Name:    "etcd-endpoints",
				Usage:   "etcd 地址，逗号分隔",
				Sources: cli.EnvVars("XDLOCK_ETCD_ENDPOINTS"),
			},
			&cli.DurationFlag{
				Name:    "timeout",
				Aliases: []string{"t"},
				Usage:   "单次操作超时",
				Value:   defaultTimeout,
			},
			&cli.StringFlag{
				Name:    "log-level",
				Usage:   "日志级别 (debug|info|warn|error)",
				Sources: cli.EnvVars("XDLOCK_LOG_LEVEL"),
			},
			&cli.StringFlag{
				Name:  "log-format",
				Usage: "日志格式 (text|json)",
			},
		},
		Commands:     createCommands(),
		OnUsageError: onUsageError,
		// 退出码统一由 run() 映射，不让 urfave/cli 直接 os.Exit
		ExitErrHandler: func(_ context.Context, cmd *cli.Command, err error) {
			if _, ok := err.(cli.ExitCoder); ok {
				fmt.Fprintln(errWriter(cmd), err)
			}
		},
	}
}

func run() int {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	setupSignalHandler(cancel)

	return exitCode(createApp().Run(ctx, os.Args), os.Stderr)
}

// exitCode 将命令错误映射为退出码，并输出错误信息。
func exitCode(err error, stderr io.Writer) int {
	if err == nil {
		return 0
	}
	var exitErr *exitError
	if errors.As(err, &exitErr) {
		return exitErr.code
	}
	var usageErr *usageError
	if errors.As(err, &usageErr) {
		fmt.Fprintf(stderr, "参数错误: %v\n", usageErr)
		return 2
	}
	if isCLIUsageError(err) {
		fmt.Fprintf(stderr, "参数错误: %v\n", err)
		return 2
	}
	fmt.Fprintf(stderr, "错误: %v\n", err)
	return 1
}

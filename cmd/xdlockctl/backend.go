package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	retry "github.com/avast/retry-go/v5"
	"github.com/redis/go-redis/v9"
	clientv3 "go.etcd.io/etcd/client/v3"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/omeyang/mongolock/pkg/distributed/xdlock"
	"github.com/omeyang/mongolock/pkg/observability/xlog"
	"github.com/omeyang/mongolock/pkg/storage/xmongo"
)

const (
	pingAttempts = 3
	pingDelay    = 200 * time.Millisecond
)

// newMongoWrapper 测试中可替换。
var newMongoWrapper = xmongo.New

// backend 聚合一次命令执行所需的连接与 Manager。
type backend struct {
	kind    string
	manager *xdlock.Manager
	logger  xlog.Logger

	// 仅 mongo 后端
	mongo xmongo.Mongo
	coll  *mongo.Collection

	// 仅 redis 后端
	redis *redis.Client

	// 仅 etcd 后端
	etcd      *clientv3.Client
	etcdStore *xdlock.EtcdStore
}

// newLogger 按配置构建日志器，输出到 w（配置了文件时写入轮转文件）。
func newLogger(s logSettings, w io.Writer) (xlog.LoggerWithLevel, func() error, error) {
	b := xlog.New().
		SetOutput(w).
		SetLevelString(s.Level).
		SetFormat(s.Format)
	if s.File != "" {
		b = b.SetRotation(s.File, xlog.WithRotationConfig(s.Rotation))
	}
	logger, cleanup, err := b.Build()
	if err != nil {
		return nil, nil, &usageError{msg: fmt.Sprintf("日志配置: %v", err)}
	}
	return logger, cleanup, nil
}

// openBackend 建立连接、校验连通性并创建 Manager。
func openBackend(ctx context.Context, s *settings, logger xlog.Logger) (*backend, error) {
	b := &backend{kind: s.Backend, logger: logger}

	var (
		store xdlock.Store
		err   error
	)
	switch s.Backend {
	case backendMongo:
		store, err = b.openMongo(ctx, s.Mongo)
	case backendRedis:
		store, err = b.openRedis(s.Redis)
	case backendEtcd:
		store, err = b.openEtcd(ctx, s.Etcd)
	default:
		err = &usageError{msg: fmt.Sprintf("不支持的后端 %q", s.Backend)}
	}
	if err != nil {
		_ = b.Close(context.WithoutCancel(ctx))
		return nil, err
	}

	if err := b.ping(ctx); err != nil {
		_ = b.Close(context.WithoutCancel(ctx))
		return nil, err
	}

	b.manager, err = xdlock.New(store,
		xdlock.WithLockTimeout(s.Lock.Timeout),
		xdlock.WithRetryInterval(s.Lock.RetryInterval),
		xdlock.WithLogger(logger),
	)
	if err != nil {
		_ = b.Close(context.WithoutCancel(ctx))
		return nil, err
	}
	return b, nil
}

func (b *backend) openMongo(ctx context.Context, s mongoSettings) (xdlock.Store, error) {
	client, err := mongo.Connect(options.Client().
		ApplyURI(s.URI).
		SetConnectTimeout(s.ConnectTimeout))
	if err != nil {
		return nil, fmt.Errorf("连接 mongo: %w", err)
	}

	m, err := newMongoWrapper(client,
		xmongo.WithSlowQueryThreshold(s.SlowQueryThreshold),
		xmongo.WithSlowQueryHook(func(ctx context.Context, info xmongo.SlowQueryInfo) {
			b.logger.Warn(ctx, "slow query",
				xlog.Operation(info.Operation),
				xlog.Duration(info.Duration),
			)
		}),
	)
	if err != nil {
		_ = client.Disconnect(context.WithoutCancel(ctx))
		return nil, err
	}
	b.mongo = m
	b.coll = client.Database(s.Database).Collection(s.Collection)
	return xdlock.NewMongoStore(b.coll)
}

func (b *backend) openRedis(s redisSettings) (xdlock.Store, error) {
	b.redis = redis.NewClient(&redis.Options{
		Addr:     s.Addr,
		Password: s.Password,
		DB:       s.DB,
	})
	return xdlock.NewRedisStore(b.redis, xdlock.WithRedisKeyPrefix(s.KeyPrefix))
}

func (b *backend) openEtcd(ctx context.Context, s etcdSettings) (xdlock.Store, error) {
	// 建连时长不超过本次命令的剩余时间
	dialTimeout := s.DialTimeout
	if deadline, ok := ctx.Deadline(); ok {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil, ctx.Err()
		}
		dialTimeout = min(dialTimeout, remaining)
	}

	client, err := clientv3.New(clientv3.Config{
		Endpoints:   s.Endpoints,
		DialTimeout: dialTimeout,
		Username:    s.Username,
		Password:    s.Password,
	})
	if err != nil {
		return nil, fmt.Errorf("连接 etcd: %w", err)
	}
	b.etcd = client
	b.etcdStore, err = xdlock.NewEtcdStore(client, xdlock.WithEtcdKeyPrefix(s.KeyPrefix))
	if err != nil {
		return nil, err
	}
	return b.etcdStore, nil
}

// ping 带有限重试的连通性检查，容忍后端刚启动时的短暂不可用。
func (b *backend) ping(ctx context.Context) error {
	return retry.New(
		retry.Context(ctx),
		retry.Attempts(pingAttempts),
		retry.Delay(pingDelay),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(n uint, err error) {
			b.logger.Debug(ctx, "ping backend failed, retrying",
				xlog.Backend(b.kind),
				xlog.Count(int64(n+1)),
				xlog.Err(err),
			)
		}),
	).Do(func() error {
		return b.health(ctx)
	})
}

func (b *backend) health(ctx context.Context) error {
	switch {
	case b.mongo != nil:
		return b.mongo.Health(ctx)
	case b.redis != nil:
		if err := b.redis.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("redis ping: %w", err)
		}
		return nil
	case b.etcdStore != nil:
		return b.etcdStore.Health(ctx)
	default:
		return errors.New("backend not opened")
	}
}

// Close 释放底层连接。
func (b *backend) Close(ctx context.Context) error {
	var errs []error
	if b.mongo != nil {
		errs = append(errs, b.mongo.Close(ctx))
	}
	if b.redis != nil {
		errs = append(errs, b.redis.Close())
	}
	if b.etcd != nil {
		errs = append(errs, b.etcd.Close())
	}
	return errors.Join(errs...)
}

package main

import (
	"fmt"
	"slices"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/omeyang/mongolock/pkg/config/xconf"
	"github.com/omeyang/mongolock/pkg/distributed/xdlock"
	"github.com/omeyang/mongolock/pkg/observability/xlog"
)

const (
	backendMongo = "mongo"
	backendRedis = "redis"
	backendEtcd  = "etcd"
)

var supportedBackends = []string{backendMongo, backendRedis, backendEtcd}

// settings 是命令行工具的完整配置。
// 合并顺序：内置默认值 → 配置文件 → 显式设置的命令行参数。
type settings struct {
	Backend string        `koanf:"backend"`
	Mongo   mongoSettings `koanf:"mongo"`
	Redis   redisSettings `koanf:"redis"`
	Etcd    etcdSettings  `koanf:"etcd"`
	Lock    lockSettings  `koanf:"lock"`
	Log     logSettings   `koanf:"log"`
}

type mongoSettings struct {
	URI                string        `koanf:"uri"`
	Database           string        `koanf:"database"`
	Collection         string        `koanf:"collection"`
	ConnectTimeout     time.Duration `koanf:"connect_timeout"`
	SlowQueryThreshold time.Duration `koanf:"slow_query_threshold"`
}

type redisSettings struct {
	Addr      string `koanf:"addr"`
	Password  string `koanf:"password"`
	DB        int    `koanf:"db"`
	KeyPrefix string `koanf:"key_prefix"`
}

type etcdSettings struct {
	Endpoints   []string      `koanf:"endpoints"`
	DialTimeout time.Duration `koanf:"dial_timeout"`
	Username    string        `koanf:"username"`
	Password    string        `koanf:"password"`
	KeyPrefix   string        `koanf:"key_prefix"`
}

type lockSettings struct {
	Timeout       time.Duration `koanf:"timeout"`
	RetryInterval time.Duration `koanf:"retry_interval"`
}

type logSettings struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
	File   string `koanf:"file"`

	// Rotation 仅在 File 非空时生效。
	Rotation xlog.RotationConfig `koanf:"rotation"`
}

func defaultSettings() map[string]any {
	return map[string]any{
		"backend":                    backendMongo,
		"mongo.uri":                  "mongodb://localhost:27017",
		"mongo.database":             "mongolock",
		"mongo.collection":           "locks",
		"mongo.connect_timeout":      10 * time.Second,
		"mongo.slow_query_threshold": 200 * time.Millisecond,
		"redis.addr":                 "localhost:6379",
		"redis.db":                   0,
		"redis.key_prefix":           xdlock.DefaultRedisKeyPrefix,
		"etcd.endpoints":             []string{"localhost:2379"},
		"etcd.dial_timeout":          5 * time.Second,
		"etcd.key_prefix":            xdlock.DefaultEtcdKeyPrefix,
		"lock.timeout":               xdlock.DefaultLockTimeout,
		"lock.retry_interval":        xdlock.DefaultRetryInterval,
		"log.level":                  "warn",
		"log.format":                 "text",
		"log.rotation.max_size_mb":   xlog.DefaultMaxSizeMB,
		"log.rotation.max_backups":   xlog.DefaultMaxBackups,
		"log.rotation.max_age_days":  xlog.DefaultMaxAgeDays,
		"log.rotation.compress":      true,
	}
}

// loadSettings 读取配置文件（可选）并叠加命令行参数。
func loadSettings(cmd *cli.Command) (*settings, error) {
	s, err := readSettings(cmd.String("config"))
	if err != nil {
		return nil, err
	}

	overlayString(cmd, "backend", &s.Backend)
	overlayString(cmd, "uri", &s.Mongo.URI)
	overlayString(cmd, "database", &s.Mongo.Database)
	overlayString(cmd, "collection", &s.Mongo.Collection)
	overlayString(cmd, "redis-addr", &s.Redis.Addr)
	if cmd.IsSet("etcd-endpoints") {
		s.Etcd.Endpoints = cmd.StringSlice("etcd-endpoints")
	}
	overlayString(cmd, "log-level", &s.Log.Level)
	overlayString(cmd, "log-format", &s.Log.Format)

	if err := s.validate(); err != nil {
		return nil, err
	}
	return s, nil
}

// readSettings 合并内置默认值与配置文件，path 为空时只用默认值。
func readSettings(path string) (*settings, error) {
	var (
		cfg xconf.Config
		err error
	)
	opt := xconf.WithDefaults(defaultSettings())
	if path != "" {
		cfg, err = xconf.New(path, opt)
	} else {
		cfg, err = xconf.NewFromBytes(nil, xconf.FormatYAML, opt)
	}
	if err != nil {
		return nil, &usageError{msg: fmt.Sprintf("加载配置: %v", err)}
	}

	s := &settings{}
	if err := cfg.Unmarshal("", s); err != nil {
		return nil, &usageError{msg: fmt.Sprintf("解析配置: %v", err)}
	}
	return s, nil
}

// overlayString 仅在参数被显式设置（命令行或环境变量）时覆盖配置文件的值。
func overlayString(cmd *cli.Command, name string, dst *string) {
	if cmd.IsSet(name) {
		*dst = cmd.String(name)
	}
}

func (s *settings) validate() error {
	if !slices.Contains(supportedBackends, s.Backend) {
		return &usageError{msg: fmt.Sprintf("不支持的后端 %q（可选: %v）", s.Backend, supportedBackends)}
	}
	if s.Lock.Timeout <= 0 {
		return &usageError{msg: "lock.timeout 必须为正数"}
	}
	if s.Lock.RetryInterval <= 0 {
		return &usageError{msg: "lock.retry_interval 必须为正数"}
	}
	if s.Backend == backendEtcd && len(s.Etcd.Endpoints) == 0 {
		return &usageError{msg: "etcd.endpoints 不能为空"}
	}
	r := s.Log.Rotation
	if r.MaxSizeMB < 0 || r.MaxBackups < 0 || r.MaxAgeDays < 0 {
		return &usageError{msg: "log.rotation 的取值不能为负数"}
	}
	return nil
}

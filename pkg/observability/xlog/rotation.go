package xlog

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"gopkg.in/natefinch/lumberjack.v2"
)

// 轮转默认值
const (
	DefaultMaxSizeMB  = 100
	DefaultMaxBackups = 7
	DefaultMaxAgeDays = 30
)

// ErrEmptyFilename 轮转文件名为空
var ErrEmptyFilename = errors.New("xlog: rotation filename is empty")

// RotationConfig 文件轮转配置，koanf 标签便于直接从配置文件解析。
type RotationConfig struct {
	// MaxSizeMB 单个文件最大大小（MB），必须 > 0
	MaxSizeMB int `koanf:"max_size_mb"`
	// MaxBackups 保留的备份数，0 表示不限制
	MaxBackups int `koanf:"max_backups"`
	// MaxAgeDays 备份保留天数，0 表示不按天清理
	MaxAgeDays int `koanf:"max_age_days"`
	// Compress 是否 gzip 压缩备份
	Compress bool `koanf:"compress"`
	// LocalTime 备份文件名是否使用本地时间
	LocalTime bool `koanf:"local_time"`
}

// RotationOption 修改轮转配置
type RotationOption func(*RotationConfig)

// WithMaxSize 设置单个文件最大大小（MB）
func WithMaxSize(mb int) RotationOption {
	return func(c *RotationConfig) { c.MaxSizeMB = mb }
}

// WithMaxBackups 设置保留的备份数
func WithMaxBackups(n int) RotationOption {
	return func(c *RotationConfig) { c.MaxBackups = n }
}

// WithMaxAge 设置备份保留天数
func WithMaxAge(days int) RotationOption {
	return func(c *RotationConfig) { c.MaxAgeDays = days }
}

// WithCompress 设置是否压缩备份
func WithCompress(compress bool) RotationOption {
	return func(c *RotationConfig) { c.Compress = compress }
}

// WithRotationConfig 整体替换配置，零值字段回落到默认值
func WithRotationConfig(cfg RotationConfig) RotationOption {
	return func(c *RotationConfig) {
		if cfg.MaxSizeMB > 0 {
			c.MaxSizeMB = cfg.MaxSizeMB
		}
		if cfg.MaxBackups > 0 {
			c.MaxBackups = cfg.MaxBackups
		}
		if cfg.MaxAgeDays > 0 {
			c.MaxAgeDays = cfg.MaxAgeDays
		}
		c.Compress = cfg.Compress
		c.LocalTime = cfg.LocalTime
	}
}

func (c RotationConfig) validate() error {
	if c.MaxSizeMB <= 0 {
		return fmt.Errorf("xlog: rotation max size must be positive, got %d", c.MaxSizeMB)
	}
	if c.MaxBackups < 0 || c.MaxAgeDays < 0 {
		return fmt.Errorf("xlog: rotation backups/age must not be negative")
	}
	return nil
}

// newRotator 创建 lumberjack 轮转写入器。
func newRotator(filename string, opts ...RotationOption) (*lumberjack.Logger, error) {
	filename = strings.TrimSpace(filename)
	if filename == "" {
		return nil, ErrEmptyFilename
	}

	cfg := RotationConfig{
		MaxSizeMB:  DefaultMaxSizeMB,
		MaxBackups: DefaultMaxBackups,
		MaxAgeDays: DefaultMaxAgeDays,
		Compress:   true,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return &lumberjack.Logger{
		Filename:   filepath.Clean(filename),
		MaxSize:    cfg.MaxSizeMB,
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAgeDays,
		Compress:   cfg.Compress,
		LocalTime:  cfg.LocalTime,
	}, nil
}

package xconf

import "github.com/knadh/koanf/v2"

// Format 配置格式
type Format string

const (
	FormatYAML Format = "yaml"
	FormatJSON Format = "json"
)

// Config 配置接口。基础读取请直接使用 Client()。
type Config interface {
	// Client 返回底层 koanf 实例
	Client() *koanf.Koanf

	// Unmarshal 将 path 处的配置解码到 target，path 为空时解码整个配置
	Unmarshal(path string, target any) error

	// Reload 重新读取文件，并发安全；从字节创建的 Config 返回 ErrReloadBytes
	Reload() error

	// Path 配置文件路径，从字节创建时为空
	Path() string

	Format() Format
}

// MustUnmarshal 失败时 panic，用于启动阶段的必需配置
func MustUnmarshal(cfg Config, path string, target any) {
	if err := cfg.Unmarshal(path, target); err != nil {
		panic(err)
	}
}

package xmongo

import (
	"errors"
	"fmt"

	"github.com/omeyang/mongolock/internal/storageopt"
)

var (
	ErrNilClient = errors.New("xmongo: nil client")
	// ErrNilContext Close 例外：nil ctx 被替换为 Background
	ErrNilContext    = errors.New("xmongo: context must not be nil")
	ErrClosed        = errors.New("xmongo: client closed")
	ErrNilCollection = errors.New("xmongo: nil collection")
)

// 分页错误，包装 storageopt 的同名错误，errors.Is 对两者均成立
var (
	ErrInvalidPage     = fmt.Errorf("xmongo: %w", storageopt.ErrInvalidPage)
	ErrInvalidPageSize = fmt.Errorf("xmongo: %w", storageopt.ErrInvalidPageSize)
	ErrPageOverflow    = fmt.Errorf("xmongo: %w", storageopt.ErrPageOverflow)
	// ErrPageSizeTooLarge PageSize 超过 MaxPageSize
	ErrPageSizeTooLarge = errors.New("xmongo: page size too large")
)

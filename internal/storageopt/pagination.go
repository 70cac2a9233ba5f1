package storageopt

import (
	"errors"
	"math"
)

// 分页错误
var (
	ErrInvalidPage     = errors.New("storageopt: invalid page number, must be >= 1")
	ErrInvalidPageSize = errors.New("storageopt: invalid page size, must be >= 1")
	// ErrPageOverflow (page-1)*pageSize 超出 int64
	ErrPageOverflow = errors.New("storageopt: page calculation overflow")
)

// ValidatePagination 校验分页参数并返回 offset = (page-1)*pageSize。
func ValidatePagination(page, pageSize int64) (offset int64, err error) {
	if page < 1 {
		return 0, ErrInvalidPage
	}
	if pageSize < 1 {
		return 0, ErrInvalidPageSize
	}
	if page-1 > math.MaxInt64/pageSize {
		return 0, ErrPageOverflow
	}
	return (page - 1) * pageSize, nil
}

// CalculateTotalPages 向上取整的总页数，total 或 pageSize <= 0 时返回 0
func CalculateTotalPages(total, pageSize int64) int64 {
	if total <= 0 || pageSize <= 0 {
		return 0
	}
	pages := total / pageSize
	if total%pageSize > 0 {
		pages++
	}
	return pages
}

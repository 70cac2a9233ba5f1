package storageopt

import "sync/atomic"

// HealthCounter 健康检查计数
type HealthCounter struct {
	pingCount  atomic.Int64
	pingErrors atomic.Int64
}

// Observe 记录一次健康检查，err 非 nil 时同时计入失败
func (h *HealthCounter) Observe(err error) {
	h.pingCount.Add(1)
	if err != nil {
		h.pingErrors.Add(1)
	}
}

func (h *HealthCounter) PingCount() int64 {
	return h.pingCount.Load()
}

func (h *HealthCounter) PingErrors() int64 {
	return h.pingErrors.Load()
}

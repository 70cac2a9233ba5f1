package xmongo

// Stats 包装器统计
type Stats struct {
	PingCount   int64
	PingErrors  int64
	SlowQueries int64
	// SessionsInProgress driver 报告的活跃会话数。
	// driver v2 不暴露连接池细节，这是最接近"使用中连接数"的指标。
	SessionsInProgress int
}

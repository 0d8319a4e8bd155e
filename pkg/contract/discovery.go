package contract

import "context"

// DiscoverRequest: 测试发现参数。
type DiscoverRequest struct {
	ProjectRoot string
	// OutputDir: 收集报告落盘目录。
	OutputDir string
	// MaxTests: >0 时截断为前 N 个（在洗牌之后）。
	MaxTests int
	Shuffle  bool
	Seed     int64
}

// Discoverer: 以不执行测试的方式枚举规范化 TestID。
// 收集进程非零退出为致命错误（ErrDiscoveryFailed），不做部分恢复。
type Discoverer interface {
	Discover(ctx context.Context, req DiscoverRequest) ([]TestID, error)
}

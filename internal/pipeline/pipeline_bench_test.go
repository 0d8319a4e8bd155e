package pipeline

import (
	"context"
	"fmt"
	"io"
	"runtime"
	"testing"
	"time"

	"sweflow/pkg/contract"
)

// discardWriter 丢弃所有输出，避免磁盘开销。
type discardWriter struct{}

func (discardWriter) Write(ctx context.Context, id contract.ArtifactID, r io.Reader) error {
	_, err := io.Copy(io.Discard, r)
	return err
}

// BenchmarkPipeline 测试调度 + 汇总 + 编码的开销（单测执行以固定延迟模拟）。
func BenchmarkPipeline(b *testing.B) {
	names := make([]string, 200)
	for i := range names {
		names[i] = fmt.Sprintf("test_%03d", i)
	}
	for _, c := range []int{1, runtime.NumCPU()} {
		b.Run(fmt.Sprintf("C=%d", c), func(b *testing.B) {
			comp := Components{Discoverer: &stubDiscoverer{ids: ids(names...)}, Runner: &stubRunner{delay: 100 * time.Microsecond}, Writer: discardWriter{}}
			set := Settings{ProjectRoot: "p", Concurrency: c}
			ctx := context.Background()
			b.ReportAllocs()
			b.ResetTimer()
			for i := 0; i < b.N; i++ {
				if _, err := Run(ctx, comp, set, nil); err != nil {
					b.Fatalf("运行失败: %v", err)
				}
			}
		})
	}
}

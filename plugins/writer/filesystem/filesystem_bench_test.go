package filesystem

import (
	"bytes"
	"context"
	"fmt"
	"testing"

	"sweflow/pkg/contract"
)

// BenchmarkWrite 不同工件尺寸下的原子写入（含 JSON 校验）。
func BenchmarkWrite(b *testing.B) {
	for _, n := range []int{16, 16 * 1024} {
		b.Run(fmt.Sprintf("edges=%d", n), func(b *testing.B) {
			var buf bytes.Buffer
			buf.WriteByte('[')
			for i := 0; i < n; i++ {
				if i > 0 {
					buf.WriteByte(',')
				}
				fmt.Fprintf(&buf, `{"caller":{"filepath":"a.py","lineno":%d,"func_name":"f"},"callee":{"filepath":"b.py","lineno":1,"func_name":"g"}}`, i+1)
			}
			buf.WriteByte(']')
			data := buf.Bytes()
			w, err := New(&Options{OutputDir: b.TempDir()})
			if err != nil {
				b.Fatalf("创建 Writer 失败: %v", err)
			}
			id := contract.ArtifactID("trace.json")
			ctx := context.Background()
			b.ReportAllocs()
			b.ResetTimer()
			for i := 0; i < b.N; i++ {
				if err := w.Write(ctx, id, bytes.NewReader(data)); err != nil {
					b.Fatalf("写入失败: %v", err)
				}
			}
		})
	}
}

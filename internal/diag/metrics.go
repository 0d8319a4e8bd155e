package diag

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Registry 为进程内指标注册表；--metrics-file 时以文本格式导出。
// 名称：
// - sweflow_op_total{comp,stage,result}
// - sweflow_error_total{comp,code}
// - sweflow_op_duration_ms{comp,stage}
// - sweflow_tests_total{result}
var Registry = prometheus.NewRegistry()

var (
	opTotal = promauto.With(Registry).NewCounterVec(prometheus.CounterOpts{
		Name: "sweflow_op_total",
		Help: "Operations by component, stage and result",
	}, []string{"comp", "stage", "result"})

	errorTotal = promauto.With(Registry).NewCounterVec(prometheus.CounterOpts{
		Name: "sweflow_error_total",
		Help: "Errors by component and classified code",
	}, []string{"comp", "code"})

	opDuration = promauto.With(Registry).NewHistogramVec(prometheus.HistogramOpts{
		Name:    "sweflow_op_duration_ms",
		Help:    "Stage duration in milliseconds",
		Buckets: prometheus.ExponentialBuckets(10, 2, 14), // 10ms ~ 80s
	}, []string{"comp", "stage"})

	testsTotal = promauto.With(Registry).NewCounterVec(prometheus.CounterOpts{
		Name: "sweflow_tests_total",
		Help: "Per-test outcomes",
	}, []string{"result"})
)

// IncOp 累加操作计数（result=success|error）。
func IncOp(comp, stage, result string) {
	opTotal.WithLabelValues(comp, stage, result).Inc()
}

// IncError 按分类累加错误计数。
func IncError(comp, code string) {
	errorTotal.WithLabelValues(comp, code).Inc()
}

// ObserveDuration 记录阶段耗时（毫秒）。
func ObserveDuration(comp, stage string, durMS int64) {
	opDuration.WithLabelValues(comp, stage).Observe(float64(durMS))
}

// IncTest 按结果类别累加单测计数（traced|not_passed|failed）。
func IncTest(result string) {
	testsTotal.WithLabelValues(result).Inc()
}

// WriteMetrics 以文本暴露格式原子写出全部指标。
func WriteMetrics(path string) error {
	return prometheus.WriteToTextfile(path, Registry)
}

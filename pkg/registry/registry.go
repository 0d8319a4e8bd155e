package registry

import (
	"bytes"
	"encoding/json"

	"sweflow/pkg/contract"
	pyt "sweflow/plugins/discovery/pytest"
	epy "sweflow/plugins/events/python"
	erp "sweflow/plugins/events/replay"
	hooked "sweflow/plugins/runner/hooked"
	wfs "sweflow/plugins/writer/filesystem"
)

// strictUnmarshal: 使用 DisallowUnknownFields 严格解码，拒绝未知字段。
func strictUnmarshal(raw json.RawMessage, v any) error {
	if len(raw) == 0 || bytes.Equal(bytes.TrimSpace(raw), []byte("null")) {
		// 保持零值（默认选项）
		return nil
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

// NewDiscoverer 工厂签名：接收原样 JSON Options。
type NewDiscoverer func(raw json.RawMessage) (contract.Discoverer, error)

// NewRunner 工厂签名：接收原样 JSON Options。
type NewRunner func(raw json.RawMessage) (contract.Runner, error)

// NewEventSource 工厂签名：接收原样 JSON Options。
type NewEventSource func(raw json.RawMessage) (contract.EventSource, error)

// NewWriter 工厂签名：接收原样 JSON Options。
type NewWriter func(raw json.RawMessage) (contract.Writer, error)

// Discovery 工厂注册表（显式、零反射）。
var Discovery = map[string]NewDiscoverer{
	// pytest: --collect-only + JSON 报告
	"pytest": func(raw json.RawMessage) (contract.Discoverer, error) {
		var opts pyt.Options
		if err := strictUnmarshal(raw, &opts); err != nil {
			return nil, err
		}
		return pyt.New(&opts), nil
	},
}

// Runner 工厂注册表。
var Runner = map[string]NewRunner{
	// hooked: 在 hook 子命令下运行单个 pytest 节点
	"hooked": func(raw json.RawMessage) (contract.Runner, error) {
		var opts hooked.Options
		if err := strictUnmarshal(raw, &opts); err != nil {
			return nil, err
		}
		return hooked.New(&opts)
	},
}

// Events 工厂注册表。
var Events = map[string]NewEventSource{
	// python: 子进程 profile 钩子，事件经管道回传
	"python": func(raw json.RawMessage) (contract.EventSource, error) {
		var opts epy.Options
		if err := strictUnmarshal(raw, &opts); err != nil {
			return nil, err
		}
		return epy.New(&opts), nil
	},
	// replay: 重放已录制的事件日志
	"replay": func(raw json.RawMessage) (contract.EventSource, error) {
		var opts erp.Options
		if err := strictUnmarshal(raw, &opts); err != nil {
			return nil, err
		}
		return erp.New(&opts), nil
	},
}

// Writer 工厂注册表。
var Writer = map[string]NewWriter{
	// fs: 文件系统 Writer（原子替换 + JSON 校验可配置）
	"fs": func(raw json.RawMessage) (contract.Writer, error) {
		var opts wfs.Options
		if err := strictUnmarshal(raw, &opts); err != nil {
			return nil, err
		}
		return wfs.New(&opts)
	},
}

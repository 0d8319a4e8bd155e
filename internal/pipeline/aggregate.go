package pipeline

import (
	"bytes"
	"context"
	"encoding/json"

	"sweflow/pkg/contract"
)

// Aggregate 仅保留 Traced 结果的记录，顺序与 results 一致（完成顺序）。
func Aggregate(results []contract.Result) contract.Corpus {
	corpus := make(contract.Corpus, 0, len(results))
	for _, r := range results {
		if r.Kind != contract.ResultTraced || r.Record == nil {
			continue
		}
		rec := *r.Record
		if rec.CallRelations == nil {
			rec.CallRelations = []contract.CallEdge{}
		}
		corpus = append(corpus, rec)
	}
	return corpus
}

// EncodeCorpus 编码为 JSON 数组（4 空格缩进）；空语料编码为 []。
func EncodeCorpus(c contract.Corpus) ([]byte, error) {
	if c == nil {
		c = contract.Corpus{}
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetIndent("", "    ")
	enc.SetEscapeHTML(false)
	if err := enc.Encode(c); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// WriteCorpus 经 Writer 持久化语料。
func WriteCorpus(ctx context.Context, w contract.Writer, id contract.ArtifactID, c contract.Corpus) error {
	if id == "" {
		id = DefaultCorpusID
	}
	b, err := EncodeCorpus(c)
	if err != nil {
		return err
	}
	return w.Write(ctx, id, bytes.NewReader(b))
}

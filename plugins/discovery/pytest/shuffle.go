package pytest

import (
	"math/rand/v2"

	"sweflow/pkg/contract"
)

// Shuffle 以 seed 确定性地原地洗牌（Fisher–Yates）。
// 随机源为 PCG，下标以拒绝采样取模得到；同一 seed 产生相同顺序。
func Shuffle(ids []contract.TestID, seed int64) {
	src := rand.NewPCG(uint64(seed), 0x9e3779b97f4a7c15)
	for i := len(ids) - 1; i > 0; i-- {
		j := int(boundedIndex(src, uint64(i+1)))
		ids[i], ids[j] = ids[j], ids[i]
	}
}

// boundedIndex 返回 [0, n) 内的无偏整数。
func boundedIndex(src *rand.PCG, n uint64) uint64 {
	// 丢弃尾部不足一个完整区间的取值
	limit := ^uint64(0) - (^uint64(0) % n)
	for {
		v := src.Uint64()
		if v < limit {
			return v % n
		}
	}
}

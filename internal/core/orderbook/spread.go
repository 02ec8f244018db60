package orderbook

import (
	"math"

	"marketsync/internal/core/model"
	"marketsync/internal/util/fastparse"
)

// Spread 计算最优买价与最优卖价之间的价差
// 任一侧没有有限正价格时返回全 0
func Spread(bids, asks []model.Level) model.SpreadResult {
	highestBid, okBid := bestPrice(bids, func(a, b float64) bool { return a > b })
	lowestAsk, okAsk := bestPrice(asks, func(a, b float64) bool { return a < b })
	if !okBid || !okAsk || highestBid <= 0 || lowestAsk <= 0 {
		return model.SpreadResult{}
	}

	amount := lowestAsk - highestBid
	pct := amount / highestBid * 100
	if math.IsNaN(pct) || math.IsInf(pct, 0) {
		pct = 0
	}

	return model.SpreadResult{
		SpreadAmount:     amount,
		SpreadPercentage: pct,
		HighestBid:       highestBid,
		LowestAsk:        lowestAsk,
	}
}

// bestPrice 在有限正价格中按 better 选出最优价
func bestPrice(levels []model.Level, better func(a, b float64) bool) (float64, bool) {
	var best float64
	found := false
	for _, lv := range levels {
		if !fastparse.IsFinitePositive(lv.Price) {
			continue
		}
		if !found || better(lv.Price, best) {
			best = lv.Price
			found = true
		}
	}
	return best, found
}

// Package orderbook 将账本挂单记录归一化为排序、累计、带均价的订单簿，
// 并计算买卖价差。所有函数均为纯函数，不做 I/O。
package orderbook

import (
	"sort"

	"github.com/shopspring/decimal"

	"marketsync/internal/core/model"
	"marketsync/internal/util/fastparse"
)

// Normalize 将一个交易对某一侧的原始挂单转换为归一化档位
// 参数 offers: 原始挂单
// 参数 side: bids 或 asks；其他值返回 nil
// 返回: 按价格排序并累计后的档位，无效挂单被丢弃
func Normalize(offers []model.Offer, side model.Side) []model.Level {
	if side != model.SideBids && side != model.SideAsks {
		return nil
	}

	levels := make([]model.Level, 0, len(offers))
	for i := range offers {
		if lv, ok := normalizeOffer(&offers[i], side); ok {
			levels = append(levels, lv)
		}
	}

	if side == model.SideBids {
		sort.SliceStable(levels, func(i, j int) bool { return levels[i].Price > levels[j].Price })
	} else {
		sort.SliceStable(levels, func(i, j int) bool { return levels[i].Price < levels[j].Price })
	}

	var sumAmount, sumValue float64
	for i := range levels {
		sumAmount += levels[i].Amount
		sumValue += levels[i].Total
		levels[i].SumAmount = sumAmount
		levels[i].SumValue = sumValue
		if sumAmount > 0 {
			levels[i].AvgPrice = sumValue / sumAmount
		}
	}

	return levels
}

// legs 按方向确定基础资产与报价资产
// asks: 基础资产为挂单卖出的 TakerGets；bids: 基础资产为挂单买入的 TakerPays。
// 两侧都由金额重新计算价格，不直接使用 quality。
func legs(o *model.Offer, side model.Side) (base, quote model.Amount, baseFunded, quoteFunded *model.Amount) {
	if side == model.SideAsks {
		return o.TakerGets, o.TakerPays, o.TakerGetsFunded, o.TakerPaysFunded
	}
	return o.TakerPays, o.TakerGets, o.TakerPaysFunded, o.TakerGetsFunded
}

// normalizeOffer 归一化单条挂单，返回 false 表示该挂单无效
func normalizeOffer(o *model.Offer, side model.Side) (model.Level, bool) {
	base, quote, baseFunded, quoteFunded := legs(o, side)

	nominalAmount, err := base.Decimal()
	if err != nil {
		return model.Level{}, false
	}
	nominalTotal, err := quote.Decimal()
	if err != nil {
		return model.Level{}, false
	}

	amount, total := nominalAmount, nominalTotal
	partial := baseFunded != nil || quoteFunded != nil
	if partial {
		amount, total, err = fundedLegs(nominalAmount, nominalTotal, baseFunded, quoteFunded)
		if err != nil {
			return model.Level{}, false
		}
	}

	if !amount.IsPositive() || !total.IsPositive() {
		return model.Level{}, false
	}

	amountF, _ := amount.Float64()
	totalF, _ := total.Float64()
	price := totalF / amountF
	if !fastparse.IsFinitePositive(price) || !fastparse.IsFinitePositive(amountF) || !fastparse.IsFinitePositive(totalF) {
		return model.Level{}, false
	}

	offerAmount, _ := nominalAmount.Float64()
	offerTotal, _ := nominalTotal.Float64()

	return model.Level{
		Price:       price,
		Amount:      amountF,
		Total:       totalF,
		Partial:     partial,
		OfferAmount: offerAmount,
		OfferTotal:  offerTotal,
		Account:     o.Account,
		Sequence:    o.Sequence,
		Quality:     o.Quality,
	}, true
}

// fundedLegs 计算资金覆盖后的可成交数量
// 只给出一侧的 funded 值时，另一侧按名义比例推算
func fundedLegs(nominalAmount, nominalTotal decimal.Decimal, baseFunded, quoteFunded *model.Amount) (amount, total decimal.Decimal, err error) {
	amount, total = nominalAmount, nominalTotal
	if baseFunded != nil {
		if amount, err = baseFunded.Decimal(); err != nil {
			return
		}
	}
	if quoteFunded != nil {
		if total, err = quoteFunded.Decimal(); err != nil {
			return
		}
	}

	switch {
	case baseFunded != nil && quoteFunded == nil && nominalAmount.IsPositive():
		total = nominalTotal.Mul(amount).Div(nominalAmount)
	case quoteFunded != nil && baseFunded == nil && nominalTotal.IsPositive():
		amount = nominalAmount.Mul(total).Div(nominalTotal)
	}
	return amount, total, nil
}

// Build 由买卖两侧原始挂单构建完整订单簿并计算价差
func Build(bidOffers, askOffers []model.Offer) model.Book {
	bids := Normalize(bidOffers, model.SideBids)
	asks := Normalize(askOffers, model.SideAsks)
	return model.Book{
		Bids:   bids,
		Asks:   asks,
		Spread: Spread(bids, asks),
	}
}

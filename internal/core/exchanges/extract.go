// Package exchanges 从交易元数据中提取已执行的挂单成交。
// 纯函数实现，数值计算使用精确十进制。
package exchanges

import (
	"marketsync/internal/core/model"
)

// Options 提取选项
type Options struct {
	// Collapse 为 true 时按 (paid 资产, got 资产) 合并成交
	Collapse bool
}

// Option 提取选项函数
type Option func(*Options)

// WithCollapse 按资产对合并成交
func WithCollapse() Option {
	return func(o *Options) { o.Collapse = true }
}

// Extract 提取交易中的成交事件
// 参数 tx: 已验证交易（含元数据）
// 返回: 成交事件列表；交易未成功或无挂单成交时返回空切片
func Extract(tx *model.Transaction, opts ...Option) []model.ExchangeEvent {
	var o Options
	for _, opt := range opts {
		opt(&o)
	}

	events := []model.ExchangeEvent{}
	if tx == nil || tx.Meta == nil || tx.Meta.TransactionResult != model.ResultSuccess {
		return events
	}

	for _, node := range tx.Meta.AffectedNodes {
		diff := node.ModifiedNode
		if diff == nil {
			diff = node.DeletedNode
		}
		if diff == nil || diff.LedgerEntryType != model.LedgerEntryOffer {
			continue
		}
		if ev, ok := exchangeFromNode(tx, diff); ok {
			events = append(events, ev)
		}
	}

	if o.Collapse {
		return collapse(events)
	}
	return events
}

// exchangeFromNode 由单个挂单节点的前后状态计算成交
// 缺少前置状态（如新建或直接撤销的挂单）的节点不是成交
func exchangeFromNode(tx *model.Transaction, diff *model.NodeDiff) (model.ExchangeEvent, bool) {
	prev, final := diff.PreviousFields, diff.FinalFields
	if prev == nil || final == nil {
		return model.ExchangeEvent{}, false
	}
	if prev.TakerGets == nil || prev.TakerPays == nil || final.TakerGets == nil || final.TakerPays == nil {
		return model.ExchangeEvent{}, false
	}

	paid, ok := consumed(*prev.TakerPays, *final.TakerPays)
	if !ok {
		return model.ExchangeEvent{}, false
	}
	got, ok := consumed(*prev.TakerGets, *final.TakerGets)
	if !ok {
		return model.ExchangeEvent{}, false
	}

	direction := model.DirectionBuy
	if final.Flags&model.FlagSell != 0 {
		direction = model.DirectionSell
	}

	return model.ExchangeEvent{
		Maker:       final.Account,
		Taker:       tx.Account,
		Sequence:    final.Sequence,
		LedgerIndex: tx.LedgerIndex,
		Hash:        tx.Hash,
		Date:        tx.Date,
		Direction:   direction,
		Paid:        paid,
		Got:         got,
	}, true
}

// consumed 计算前后金额差值，资产信息取自变更后的一侧
func consumed(before, after model.Amount) (model.Quantity, bool) {
	b, err := before.Decimal()
	if err != nil {
		return model.Quantity{}, false
	}
	a, err := after.Decimal()
	if err != nil {
		return model.Quantity{}, false
	}
	return model.Quantity{
		Currency: after.Currency,
		Issuer:   after.Issuer,
		Value:    b.Sub(a),
	}, true
}

type pairKey struct {
	paid string
	got  string
}

// collapse 合并相同资产对的成交，保留首次出现的顺序与元信息
func collapse(events []model.ExchangeEvent) []model.ExchangeEvent {
	out := make([]model.ExchangeEvent, 0, len(events))
	index := make(map[pairKey]int, len(events))
	for _, ev := range events {
		k := pairKey{paid: ev.Paid.AssetKey(), got: ev.Got.AssetKey()}
		if i, ok := index[k]; ok {
			out[i].Paid.Value = out[i].Paid.Value.Add(ev.Paid.Value)
			out[i].Got.Value = out[i].Got.Value.Add(ev.Got.Value)
			continue
		}
		index[k] = len(out)
		out = append(out, ev)
	}
	return out
}

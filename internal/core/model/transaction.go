package model

import (
	"encoding/json"
)

// ResultSuccess 交易成功结果码
const ResultSuccess = "tesSUCCESS"

// LedgerEntryOffer 挂单账本对象类型
const LedgerEntryOffer = "Offer"

// FlagSell 挂单 lsfSell 标志位
const FlagSell uint32 = 0x00020000

// Direction 成交方向
type Direction string

const (
	// DirectionBuy 买
	DirectionBuy Direction = "buy"
	// DirectionSell 卖
	DirectionSell Direction = "sell"
)

// Transaction 已验证交易及其元数据
type Transaction struct {
	// Hash 交易哈希
	Hash string `json:"hash"`
	// Account 发起账户（吃单方）
	Account string `json:"Account"`
	// Sequence 发起账户序列号
	Sequence uint32 `json:"Sequence"`
	// TransactionType 交易类型
	TransactionType string `json:"TransactionType"`
	// LedgerIndex 所在账本序号
	LedgerIndex uint32 `json:"ledger_index"`
	// Date 账本时间（自 2000-01-01 起的秒数）
	Date int64 `json:"date"`
	// Meta 交易元数据
	Meta *Meta `json:"meta,omitempty"`
}

// UnmarshalJSON 兼容 meta 与 metaData 两种键名
func (t *Transaction) UnmarshalJSON(data []byte) error {
	type plain Transaction
	var aux struct {
		plain
		MetaData *Meta `json:"metaData,omitempty"`
	}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	*t = Transaction(aux.plain)
	if t.Meta == nil {
		t.Meta = aux.MetaData
	}
	return nil
}

// Meta 交易元数据
type Meta struct {
	// TransactionResult 结果码
	TransactionResult string `json:"TransactionResult"`
	// AffectedNodes 受影响的账本对象
	AffectedNodes []AffectedNode `json:"AffectedNodes"`
}

// AffectedNode 受影响节点，三者只有一个非空
type AffectedNode struct {
	CreatedNode  *NodeDiff `json:"CreatedNode,omitempty"`
	ModifiedNode *NodeDiff `json:"ModifiedNode,omitempty"`
	DeletedNode  *NodeDiff `json:"DeletedNode,omitempty"`
}

// NodeDiff 账本对象前后状态
type NodeDiff struct {
	// LedgerEntryType 账本对象类型
	LedgerEntryType string `json:"LedgerEntryType"`
	// LedgerIndex 账本对象 ID
	LedgerIndex string `json:"LedgerIndex"`
	// FinalFields 变更后字段（Modified/Deleted）
	FinalFields *OfferFields `json:"FinalFields,omitempty"`
	// PreviousFields 变更前字段（仅包含变化的字段）
	PreviousFields *OfferFields `json:"PreviousFields,omitempty"`
	// NewFields 新建字段（Created）
	NewFields *OfferFields `json:"NewFields,omitempty"`
}

// OfferFields 挂单对象字段子集
type OfferFields struct {
	Account   string  `json:"Account,omitempty"`
	Sequence  uint32  `json:"Sequence,omitempty"`
	Flags     uint32  `json:"Flags,omitempty"`
	TakerGets *Amount `json:"TakerGets,omitempty"`
	TakerPays *Amount `json:"TakerPays,omitempty"`
}

// ExchangeEvent 一笔已执行的成交
type ExchangeEvent struct {
	// Maker 挂单方账户
	Maker string `json:"maker"`
	// Taker 吃单方账户
	Taker string `json:"taker"`
	// Sequence 挂单序列号
	Sequence uint32 `json:"sequence"`
	// LedgerIndex 账本序号
	LedgerIndex uint32 `json:"ledgerIndex"`
	// Hash 交易哈希
	Hash string `json:"hash"`
	// Date 账本时间（自 2000-01-01 起的秒数）
	Date int64 `json:"date"`
	// Direction 方向，由挂单 lsfSell 标志决定
	Direction Direction `json:"direction"`
	// Paid 吃单方支付（TakerPays 减少量）
	Paid Quantity `json:"paid"`
	// Got 吃单方获得（TakerGets 减少量）
	Got Quantity `json:"got"`
}

package model

// Side 订单簿方向
type Side string

const (
	// SideBids 买盘，按价格降序
	SideBids Side = "bids"
	// SideAsks 卖盘，按价格升序
	SideAsks Side = "asks"
)

// Offer 账本挂单原始记录（book_offers 返回格式）
type Offer struct {
	// Account 挂单账户
	Account string `json:"Account"`
	// Sequence 挂单序列号
	Sequence uint32 `json:"Sequence"`
	// Flags 挂单标志位
	Flags uint32 `json:"Flags,omitempty"`
	// TakerGets 吃单方获得（挂单方卖出）
	TakerGets Amount `json:"TakerGets"`
	// TakerPays 吃单方支付（挂单方买入）
	TakerPays Amount `json:"TakerPays"`
	// Quality 账本原生比率 TakerPays/TakerGets（未做单位换算）
	Quality string `json:"quality,omitempty"`
	// TakerGetsFunded 部分资金覆盖时实际可成交的 TakerGets
	TakerGetsFunded *Amount `json:"taker_gets_funded,omitempty"`
	// TakerPaysFunded 部分资金覆盖时实际可成交的 TakerPays
	TakerPaysFunded *Amount `json:"taker_pays_funded,omitempty"`
}

// Level 归一化后的订单簿档位
type Level struct {
	// Price 报价资产/基础资产，恒为有限正数
	Price float64 `json:"price"`
	// Amount 本档基础资产数量
	Amount float64 `json:"amount"`
	// Total 本档报价资产价值
	Total float64 `json:"total"`
	// SumAmount 排序后累计基础资产数量
	SumAmount float64 `json:"sumAmount"`
	// SumValue 排序后累计报价资产价值
	SumValue float64 `json:"sumValue"`
	// AvgPrice 累计均价 SumValue/SumAmount
	AvgPrice float64 `json:"avgPrice"`
	// Partial 是否来自部分资金覆盖的挂单
	Partial bool `json:"partial"`

	// OfferAmount 挂单名义基础资产数量（未按资金覆盖裁剪）
	OfferAmount float64 `json:"offerAmount"`
	// OfferTotal 挂单名义报价资产价值（未按资金覆盖裁剪）
	OfferTotal float64 `json:"offerTotal"`
	// Account 挂单账户
	Account string `json:"account,omitempty"`
	// Sequence 挂单序列号
	Sequence uint32 `json:"sequence,omitempty"`
	// Quality 原始 quality
	Quality string `json:"quality,omitempty"`
}

// SpreadResult 买卖价差
// 任一侧无有效价格时全部字段为 0
type SpreadResult struct {
	SpreadAmount     float64 `json:"spreadAmount"`
	SpreadPercentage float64 `json:"spreadPercentage"`
	HighestBid       float64 `json:"highestBid"`
	LowestAsk        float64 `json:"lowestAsk"`
}

// Book 一个交易对的归一化订单簿
type Book struct {
	Bids   []Level      `json:"bids"`
	Asks   []Level      `json:"asks"`
	Spread SpreadResult `json:"spread"`
}

package orderbook

import (
	"encoding/json"
	"strconv"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"marketsync/internal/core/model"
)

const usdIssuer = "rvYAfWj5gh67oV6fW32ZzP3Aw4Eubs59B"

func usd(v string) model.Amount {
	return model.NewIssuedAmount("USD", usdIssuer, v)
}

func TestNormalize_DropsConversion(t *testing.T) {
	offers := []model.Offer{{
		Account:   "rMaker",
		Sequence:  7,
		TakerGets: model.NewNativeAmount("1000000"),
		TakerPays: usd("0.5"),
	}}

	asks := Normalize(offers, model.SideAsks)
	require.Len(t, asks, 1)
	assert.Equal(t, 1.0, asks[0].Amount, "1000000 drops 应换算为 1")
	assert.InDelta(t, 0.5, asks[0].Total, 1e-12)
	assert.InDelta(t, 0.5, asks[0].Price, 1e-12)
	assert.Equal(t, "rMaker", asks[0].Account)
	assert.False(t, asks[0].Partial)
}

func TestNormalize_BidLegSelection(t *testing.T) {
	// 买盘挂单: 卖出 2 USD，买入 4 XRP；基础资产为 XRP，价格 0.5 USD/XRP
	offers := []model.Offer{{
		TakerGets: usd("2"),
		TakerPays: model.NewNativeAmount("4000000"),
	}}

	bids := Normalize(offers, model.SideBids)
	require.Len(t, bids, 1)
	assert.InDelta(t, 4.0, bids[0].Amount, 1e-12)
	assert.InDelta(t, 2.0, bids[0].Total, 1e-12)
	assert.InDelta(t, 0.5, bids[0].Price, 1e-12)
}

func TestNormalize_SortAndAccumulate(t *testing.T) {
	offers := []model.Offer{
		{TakerGets: model.NewNativeAmount("1000000"), TakerPays: usd("0.52")},
		{TakerGets: model.NewNativeAmount("2000000"), TakerPays: usd("1.00")},
		{TakerGets: model.NewNativeAmount("1000000"), TakerPays: usd("0.51")},
	}

	asks := Normalize(offers, model.SideAsks)
	require.Len(t, asks, 3)

	assert.InDelta(t, 0.50, asks[0].Price, 1e-12)
	assert.InDelta(t, 0.51, asks[1].Price, 1e-12)
	assert.InDelta(t, 0.52, asks[2].Price, 1e-12)

	assert.InDelta(t, 2.0, asks[0].SumAmount, 1e-12)
	assert.InDelta(t, 3.0, asks[1].SumAmount, 1e-12)
	assert.InDelta(t, 4.0, asks[2].SumAmount, 1e-12)
	assert.InDelta(t, 2.03/4.0, asks[2].AvgPrice, 1e-12)
}

func TestNormalize_DropsInvalidOffers(t *testing.T) {
	offers := []model.Offer{
		{TakerGets: model.NewNativeAmount("0"), TakerPays: usd("1")},
		{TakerGets: model.NewNativeAmount("1000000"), TakerPays: usd("0")},
		{TakerGets: model.NewNativeAmount("1000000"), TakerPays: usd("-1")},
		{TakerGets: model.NewNativeAmount("abc"), TakerPays: usd("1")},
		{TakerGets: model.NewNativeAmount("1000000"), TakerPays: usd("")},
		{TakerGets: model.NewNativeAmount("1000000"), TakerPays: usd("0.9")},
	}

	asks := Normalize(offers, model.SideAsks)
	require.Len(t, asks, 1, "只有最后一条挂单有效")
	assert.InDelta(t, 0.9, asks[0].Price, 1e-12)
}

func TestNormalize_UnknownSide(t *testing.T) {
	offers := []model.Offer{{TakerGets: model.NewNativeAmount("1000000"), TakerPays: usd("1")}}
	assert.Nil(t, Normalize(offers, model.Side("middle")))
	assert.Empty(t, Normalize(nil, model.SideBids))
}

func TestNormalize_PartiallyFunded(t *testing.T) {
	funded := model.NewNativeAmount("500000")
	fundedPays := usd("0.25")
	offers := []model.Offer{{
		TakerGets:       model.NewNativeAmount("1000000"),
		TakerPays:       usd("0.5"),
		TakerGetsFunded: &funded,
		TakerPaysFunded: &fundedPays,
	}}

	asks := Normalize(offers, model.SideAsks)
	require.Len(t, asks, 1)
	assert.True(t, asks[0].Partial)
	assert.InDelta(t, 0.5, asks[0].Amount, 1e-12)
	assert.InDelta(t, 0.25, asks[0].Total, 1e-12)
	assert.InDelta(t, 1.0, asks[0].OfferAmount, 1e-12, "名义数量保留用于展示核对")
	assert.InDelta(t, 0.5, asks[0].OfferTotal, 1e-12)
}

func TestNormalize_PartiallyFundedOneLeg(t *testing.T) {
	funded := model.NewNativeAmount("250000")
	offers := []model.Offer{{
		TakerGets:       model.NewNativeAmount("1000000"),
		TakerPays:       usd("2"),
		TakerGetsFunded: &funded,
	}}

	asks := Normalize(offers, model.SideAsks)
	require.Len(t, asks, 1)
	assert.InDelta(t, 0.25, asks[0].Amount, 1e-12)
	assert.InDelta(t, 0.5, asks[0].Total, 1e-12, "另一侧按名义比例推算")
	assert.InDelta(t, 2.0, asks[0].Price, 1e-12)
}

func TestNormalize_FromBookOffersJSON(t *testing.T) {
	raw := `[
	  {"Account":"rA","Sequence":1,"TakerGets":"3000000","TakerPays":{"currency":"USD","issuer":"` + usdIssuer + `","value":"1.5"},"quality":"0.0000005"},
	  {"Account":"rB","Sequence":2,"TakerGets":"1000000","TakerPays":{"currency":"USD","issuer":"` + usdIssuer + `","value":"0.6"},"quality":"0.0000006",
	   "taker_gets_funded":"500000","taker_pays_funded":{"currency":"USD","issuer":"` + usdIssuer + `","value":"0.3"}}
	]`
	var offers []model.Offer
	require.NoError(t, json.Unmarshal([]byte(raw), &offers))

	asks := Normalize(offers, model.SideAsks)
	require.Len(t, asks, 2)
	assert.Equal(t, "rA", asks[0].Account)
	assert.Equal(t, "0.0000005", asks[0].Quality)
	assert.True(t, asks[1].Partial)
	assert.InDelta(t, 3.5, asks[1].SumAmount, 1e-12)
}

func TestNormalize_MalformedAmountJSON(t *testing.T) {
	// 数值形式的 drops 与数值形式的 value 只影响各自的挂单
	raw := `[
	  {"Account":"rA","Sequence":1,"TakerGets":"1000000","TakerPays":{"currency":"USD","issuer":"` + usdIssuer + `","value":"0.5"}},
	  {"Account":"rBad1","Sequence":2,"TakerGets":2000000,"TakerPays":{"currency":"USD","issuer":"` + usdIssuer + `","value":"1"}},
	  {"Account":"rBad2","Sequence":3,"TakerGets":"1000000","TakerPays":{"currency":"USD","issuer":"` + usdIssuer + `","value":0.7}},
	  {"Account":"rBad3","Sequence":4,"TakerGets":null,"TakerPays":true},
	  {"Account":"rC","Sequence":5,"TakerGets":"2000000","TakerPays":{"currency":"USD","issuer":"` + usdIssuer + `","value":"1.2"}}
	]`
	var offers []model.Offer
	require.NoError(t, json.Unmarshal([]byte(raw), &offers), "坏金额不应导致整体解析失败")
	require.Len(t, offers, 5)

	_, err := offers[1].TakerGets.Decimal()
	assert.Error(t, err)
	_, err = offers[2].TakerPays.Decimal()
	assert.Error(t, err)

	asks := Normalize(offers, model.SideAsks)
	require.Len(t, asks, 2)
	assert.Equal(t, "rA", asks[0].Account)
	assert.Equal(t, "rC", asks[1].Account)
	assert.InDelta(t, 3.0, asks[1].SumAmount, 1e-12)

	// 无效金额原样编码
	out, err := json.Marshal(offers[1].TakerGets)
	require.NoError(t, err)
	assert.JSONEq(t, `2000000`, string(out))
}

// TestNormalize_Monotonicity 订单簿单调性
// 属性: 买盘价格不增、卖盘价格不减，累计数量与价值不减，均价在累计后有定义
func TestNormalize_Monotonicity(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200

	properties := gopter.NewProperties(parameters)

	properties.Property("归一化订单簿单调", prop.ForAll(
		func(drops []int64, values []float64) bool {
			n := len(drops)
			if len(values) < n {
				n = len(values)
			}
			offers := make([]model.Offer, 0, n)
			for i := 0; i < n; i++ {
				v := strconv.FormatFloat(values[i], 'f', -1, 64)
				offers = append(offers, model.Offer{
					TakerGets: model.NewNativeAmount(strconv.FormatInt(drops[i], 10)),
					TakerPays: usd(v),
				})
			}

			for _, side := range []model.Side{model.SideBids, model.SideAsks} {
				levels := Normalize(offers, side)
				if len(levels) != n {
					return false
				}
				for i := 1; i < len(levels); i++ {
					prev, cur := levels[i-1], levels[i]
					if side == model.SideBids && cur.Price > prev.Price {
						return false
					}
					if side == model.SideAsks && cur.Price < prev.Price {
						return false
					}
					if cur.SumAmount < prev.SumAmount || cur.SumValue < prev.SumValue {
						return false
					}
				}
				for _, lv := range levels {
					if lv.SumAmount <= 0 || lv.AvgPrice <= 0 {
						return false
					}
				}
			}
			return true
		},
		gen.SliceOf(gen.Int64Range(1, 1_000_000_000_000)),
		gen.SliceOf(gen.Float64Range(0.0001, 1_000_000)),
	))

	properties.TestingRun(t)
}

func TestBuild(t *testing.T) {
	bids := []model.Offer{{TakerGets: usd("1"), TakerPays: model.NewNativeAmount("1000000")}}
	asks := []model.Offer{{TakerGets: model.NewNativeAmount("1000000"), TakerPays: usd("1.02")}}

	book := Build(bids, asks)
	require.Len(t, book.Bids, 1)
	require.Len(t, book.Asks, 1)
	assert.InDelta(t, 0.02, book.Spread.SpreadAmount, 1e-9)
	assert.InDelta(t, 2.0, book.Spread.SpreadPercentage, 1e-7)
}

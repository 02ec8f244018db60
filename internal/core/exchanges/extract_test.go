package exchanges

import (
	"encoding/json"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"marketsync/internal/core/model"
)

const sampleTx = `{
  "hash": "E08D6E9754025BA2534A78707605E0601F03ACE063687A0CA1BDDACFCD1698C7",
  "Account": "rTaker",
  "Sequence": 42,
  "TransactionType": "OfferCreate",
  "ledger_index": 90000001,
  "date": 780000000,
  "meta": {
    "TransactionResult": "tesSUCCESS",
    "AffectedNodes": [
      {"ModifiedNode": {
        "LedgerEntryType": "AccountRoot",
        "LedgerIndex": "A1",
        "FinalFields": {"Account": "rTaker", "Flags": 0, "Sequence": 43},
        "PreviousFields": {"Sequence": 42}
      }},
      {"ModifiedNode": {
        "LedgerEntryType": "Offer",
        "LedgerIndex": "B1",
        "FinalFields": {"Account": "rMaker1", "Sequence": 10, "Flags": 131072,
          "TakerGets": "5000000",
          "TakerPays": {"currency": "USD", "issuer": "rIssuer", "value": "2.5"}},
        "PreviousFields": {
          "TakerGets": "10000000",
          "TakerPays": {"currency": "USD", "issuer": "rIssuer", "value": "5"}}
      }},
      {"DeletedNode": {
        "LedgerEntryType": "Offer",
        "LedgerIndex": "B2",
        "FinalFields": {"Account": "rMaker2", "Sequence": 11, "Flags": 0,
          "TakerGets": "0",
          "TakerPays": {"currency": "USD", "issuer": "rIssuer", "value": "0"}},
        "PreviousFields": {
          "TakerGets": "3000000",
          "TakerPays": {"currency": "USD", "issuer": "rIssuer", "value": "1.5000000000000001"}}
      }},
      {"DeletedNode": {
        "LedgerEntryType": "Offer",
        "LedgerIndex": "B3",
        "FinalFields": {"Account": "rMaker3", "Sequence": 12, "Flags": 0,
          "TakerGets": "1000000",
          "TakerPays": {"currency": "USD", "issuer": "rIssuer", "value": "1"}}
      }},
      {"CreatedNode": {
        "LedgerEntryType": "Offer",
        "LedgerIndex": "B4",
        "NewFields": {"Account": "rTaker", "Sequence": 42,
          "TakerGets": {"currency": "USD", "issuer": "rIssuer", "value": "1"},
          "TakerPays": "2000000"}
      }}
    ]
  }
}`

func loadTx(t *testing.T, raw string) *model.Transaction {
	t.Helper()
	var tx model.Transaction
	require.NoError(t, json.Unmarshal([]byte(raw), &tx))
	return &tx
}

func TestExtract_Basic(t *testing.T) {
	tx := loadTx(t, sampleTx)

	events := Extract(tx)
	require.Len(t, events, 2, "只有带前置状态的 Modified/Deleted 挂单节点产生成交")

	first := events[0]
	assert.Equal(t, "rMaker1", first.Maker)
	assert.Equal(t, "rTaker", first.Taker)
	assert.Equal(t, uint32(10), first.Sequence)
	assert.Equal(t, uint32(90000001), first.LedgerIndex)
	assert.Equal(t, int64(780000000), first.Date)
	assert.Equal(t, model.DirectionSell, first.Direction)
	assert.Equal(t, "USD", first.Paid.Currency)
	assert.Equal(t, "rIssuer", first.Paid.Issuer)
	assert.True(t, first.Paid.Value.Equal(decimal.RequireFromString("2.5")))
	assert.Equal(t, model.NativeCurrency, first.Got.Currency)
	assert.True(t, first.Got.Value.Equal(decimal.NewFromInt(5)), "drops 差值换算为展示单位")

	second := events[1]
	assert.Equal(t, "rMaker2", second.Maker)
	assert.Equal(t, model.DirectionBuy, second.Direction)
	assert.Equal(t, "1.5000000000000001", second.Paid.Value.String(), "十进制精确相减")
}

func TestExtract_FailedTransaction(t *testing.T) {
	tx := loadTx(t, sampleTx)
	tx.Meta.TransactionResult = "tecUNFUNDED_OFFER"

	events := Extract(tx)
	assert.NotNil(t, events)
	assert.Empty(t, events)
}

func TestExtract_NilInputs(t *testing.T) {
	assert.Empty(t, Extract(nil))
	assert.Empty(t, Extract(&model.Transaction{}))
}

func TestExtract_MetaDataKey(t *testing.T) {
	raw := `{"hash":"H","Account":"rT","metaData":{"TransactionResult":"tesSUCCESS","AffectedNodes":[
	  {"ModifiedNode":{"LedgerEntryType":"Offer","FinalFields":{"Account":"rM","TakerGets":"1","TakerPays":"1"},
	   "PreviousFields":{"TakerGets":"3","TakerPays":"2"}}}]}}`
	events := Extract(loadTx(t, raw))
	require.Len(t, events, 1)
	assert.Equal(t, "0.000001", events[0].Paid.Value.String())
}

func TestExtract_MalformedNodeSkipped(t *testing.T) {
	raw := `{"hash":"H","Account":"rT","meta":{"TransactionResult":"tesSUCCESS","AffectedNodes":[
	  {"ModifiedNode":{"LedgerEntryType":"Offer","FinalFields":{"Account":"rM","TakerGets":"x","TakerPays":"1"},
	   "PreviousFields":{"TakerGets":"3","TakerPays":"2"}}},
	  {"ModifiedNode":{"LedgerEntryType":"Offer","FinalFields":{"Account":"rM"},
	   "PreviousFields":{"TakerGets":"3","TakerPays":"2"}}},
	  {"ModifiedNode":{"LedgerEntryType":"Offer","FinalFields":{"Account":"rOK","TakerGets":"1000000","TakerPays":"1000000"},
	   "PreviousFields":{"TakerGets":"2000000","TakerPays":"2000000"}}}]}}`
	events := Extract(loadTx(t, raw))
	require.Len(t, events, 1, "坏节点被丢弃，其余照常输出")
	assert.Equal(t, "rOK", events[0].Maker)
}

func TestExtract_MalformedAmountJSON(t *testing.T) {
	// 第二个节点的 value 为 JSON 数值，只丢弃该节点
	raw := `{"hash":"H","Account":"rT","meta":{"TransactionResult":"tesSUCCESS","AffectedNodes":[
	  {"ModifiedNode":{"LedgerEntryType":"Offer","FinalFields":{"Account":"rOK","TakerGets":"1000000","TakerPays":{"currency":"USD","issuer":"rI","value":"1"}},
	   "PreviousFields":{"TakerGets":"2000000","TakerPays":{"currency":"USD","issuer":"rI","value":"2"}}}},
	  {"ModifiedNode":{"LedgerEntryType":"Offer","FinalFields":{"Account":"rBad","TakerGets":"1000000","TakerPays":{"currency":"USD","issuer":"rI","value":1}},
	   "PreviousFields":{"TakerGets":2000000,"TakerPays":{"currency":"USD","issuer":"rI","value":"2"}}}}]}}`
	tx := loadTx(t, raw)
	require.NotNil(t, tx.Meta)

	events := Extract(tx)
	require.Len(t, events, 1)
	assert.Equal(t, "rOK", events[0].Maker)
	assert.True(t, events[0].Got.Value.Equal(decimal.NewFromInt(1)))
}

func TestExtract_Idempotent(t *testing.T) {
	tx := loadTx(t, sampleTx)

	a := Extract(tx)
	b := Extract(tx)
	assert.Equal(t, a, b)

	ac := Extract(tx, WithCollapse())
	bc := Extract(tx, WithCollapse())
	assert.Equal(t, ac, bc)
}

func TestExtract_Collapse(t *testing.T) {
	tx := loadTx(t, sampleTx)

	events := Extract(tx, WithCollapse())
	require.Len(t, events, 1, "两笔相同资产对的成交合并为一条")
	assert.Equal(t, "rMaker1", events[0].Maker, "保留首笔成交的元信息")
	assert.Equal(t, "4.0000000000000001", events[0].Paid.Value.String())
	assert.True(t, events[0].Got.Value.Equal(decimal.NewFromInt(8)))
}

func TestExtract_CollapseDistinctPairs(t *testing.T) {
	raw := `{"hash":"H","Account":"rT","meta":{"TransactionResult":"tesSUCCESS","AffectedNodes":[
	  {"ModifiedNode":{"LedgerEntryType":"Offer","FinalFields":{"Account":"rA","TakerGets":"1000000",
	    "TakerPays":{"currency":"USD","issuer":"rI1","value":"1"}},
	   "PreviousFields":{"TakerGets":"2000000","TakerPays":{"currency":"USD","issuer":"rI1","value":"2"}}}},
	  {"ModifiedNode":{"LedgerEntryType":"Offer","FinalFields":{"Account":"rB","TakerGets":"1000000",
	    "TakerPays":{"currency":"USD","issuer":"rI2","value":"1"}},
	   "PreviousFields":{"TakerGets":"2000000","TakerPays":{"currency":"USD","issuer":"rI2","value":"2"}}}}]}}`
	events := Extract(loadTx(t, raw), WithCollapse())
	require.Len(t, events, 2, "发行方不同不合并")
	assert.Equal(t, "rA", events[0].Maker)
	assert.Equal(t, "rB", events[1].Maker)
}

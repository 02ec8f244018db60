package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	"marketsync/internal/core/exchanges"
	"marketsync/internal/core/model"
	"marketsync/internal/core/orderbook"
	"marketsync/internal/output/jsonl"
	"marketsync/internal/util/timeutil"
)

// offersInput book 子命令输入: 两侧 book_offers 报价，逐条解码
type offersInput struct {
	Bids []json.RawMessage `json:"bids"`
	Asks []json.RawMessage `json:"asks"`
}

func runBook(args []string, stdin io.Reader, stdout io.Writer) error {
	fs := flag.NewFlagSet("book", flag.ContinueOnError)
	in := fs.String("in", "", "报价 JSON 文件，为空读取标准输入")
	out := fs.String("out", "", "追加记录到 JSONL 文件")
	if err := fs.Parse(args); err != nil {
		return err
	}

	data, err := readInput(*in, stdin)
	if err != nil {
		return err
	}
	var offers offersInput
	if err := json.Unmarshal(data, &offers); err != nil {
		return fmt.Errorf("解析报价失败: %w", err)
	}

	book := orderbook.Build(decodeEach[model.Offer](offers.Bids), decodeEach[model.Offer](offers.Asks))
	if err := appendRecord(*out, "book", "book", book); err != nil {
		return err
	}
	return writeJSON(stdout, book)
}

// tradeOutput 成交事件附带换算后的账本时间
type tradeOutput struct {
	model.ExchangeEvent
	Time time.Time `json:"time"`
}

func runTrades(args []string, stdin io.Reader, stdout io.Writer) error {
	fs := flag.NewFlagSet("trades", flag.ContinueOnError)
	in := fs.String("in", "", "交易 JSON 文件（单笔或数组），为空读取标准输入")
	collapse := fs.Bool("collapse", false, "合并相同资产对的成交")
	out := fs.String("out", "", "追加记录到 JSONL 文件")
	if err := fs.Parse(args); err != nil {
		return err
	}

	data, err := readInput(*in, stdin)
	if err != nil {
		return err
	}
	txs, err := decodeTransactions(data)
	if err != nil {
		return err
	}

	var opts []exchanges.Option
	if *collapse {
		opts = append(opts, exchanges.WithCollapse())
	}
	events := make([]tradeOutput, 0)
	for i := range txs {
		for _, ev := range exchanges.Extract(&txs[i], opts...) {
			events = append(events, tradeOutput{ExchangeEvent: ev, Time: timeutil.LedgerTime(ev.Date)})
		}
	}

	if err := appendRecord(*out, "trades", "exchanges", events); err != nil {
		return err
	}
	return writeJSON(stdout, events)
}

// decodeTransactions 接受单笔交易或交易数组
func decodeTransactions(data []byte) ([]model.Transaction, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		var raws []json.RawMessage
		if err := json.Unmarshal(trimmed, &raws); err != nil {
			return nil, fmt.Errorf("解析交易失败: %w", err)
		}
		return decodeEach[model.Transaction](raws), nil
	}
	var tx model.Transaction
	if err := json.Unmarshal(trimmed, &tx); err != nil {
		return nil, fmt.Errorf("解析交易失败: %w", err)
	}
	return []model.Transaction{tx}, nil
}

// decodeEach 逐条解码，无法解码的记录被跳过
func decodeEach[T any](raws []json.RawMessage) []T {
	out := make([]T, 0, len(raws))
	for _, raw := range raws {
		var v T
		if err := json.Unmarshal(raw, &v); err != nil {
			continue
		}
		out = append(out, v)
	}
	return out
}

func readInput(path string, stdin io.Reader) ([]byte, error) {
	if path == "" {
		data, err := io.ReadAll(stdin)
		if err != nil {
			return nil, fmt.Errorf("读取标准输入失败: %w", err)
		}
		return data, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("读取输入文件失败: %w", err)
	}
	return data, nil
}

func appendRecord(path, channel, kind string, data any) error {
	if path == "" {
		return nil
	}
	w, err := jsonl.NewWriter(path, 1)
	if err != nil {
		return err
	}
	if err := w.Record(channel, kind, data); err != nil {
		w.Close()
		return fmt.Errorf("写入记录失败: %w", err)
	}
	return w.Close()
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("输出结果失败: %w", err)
	}
	return nil
}

// Package main 是行情同步工具的入口点。
//
// 子命令:
//
//	stream  连接列表/详情推送通道，维护本地代币状态并记录更新
//	book    将 book_offers 报价整理为买卖盘档位与价差
//	trades  从交易元数据中提取成交
package main

import (
	"fmt"
	"io"
	"os"
)

func main() {
	if len(os.Args) < 2 {
		usage(os.Stderr)
		os.Exit(2)
	}

	var err error
	switch os.Args[1] {
	case "stream":
		err = runStream(os.Args[2:])
	case "book":
		err = runBook(os.Args[2:], os.Stdin, os.Stdout)
	case "trades":
		err = runTrades(os.Args[2:], os.Stdin, os.Stdout)
	case "-h", "--help", "help":
		usage(os.Stdout)
		return
	default:
		fmt.Fprintf(os.Stderr, "未知子命令: %s\n", os.Args[1])
		usage(os.Stderr)
		os.Exit(2)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
}

func usage(w io.Writer) {
	fmt.Fprintln(w, "用法: marketsync <stream|book|trades> [参数]")
	fmt.Fprintln(w, "  stream -config config.yaml [-env .env] [-detail ID] [-subscribe a,b] [-lazy]")
	fmt.Fprintln(w, "  book   [-in offers.json] [-out records.jsonl]")
	fmt.Fprintln(w, "  trades [-in tx.json] [-collapse] [-out records.jsonl]")
}

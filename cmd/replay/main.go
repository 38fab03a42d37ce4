package main

import (
	"encoding/csv"
	"flag"
	"fmt"
	"log"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"position-sync-go/broker"
	"position-sync-go/internal/store"
	"position-sync-go/position"
)

// 离线重放脚本：把昨日库存快照与当日成交明细喂进部位簿，
// 输出收盘后的部位与昨日抵销量，用于核对券商日终报表。
// 用法：
//
//	go run ./cmd/replay -positions data/open_positions.csv -deals data/deals.csv -out eod.csv
func main() {
	posPath := flag.String("positions", "", "开盘部位 CSV（code,cond,direction,quantity,yd_quantity）")
	dealPath := flag.String("deals", "", "当日成交 CSV（ts,code,action,quantity,price,cond,day_trade）")
	outPath := flag.String("out", "", "若指定则写入收盘部位 CSV")
	flag.Parse()

	if *dealPath == "" {
		log.Fatal("未指定成交明细 CSV")
	}

	account := broker.Account{BrokerID: "replay", AccountID: "replay", Type: broker.AccountStock}
	key := position.KeyFor(account)
	book := store.NewBook(nil)

	if *posPath != "" {
		snapshot, err := loadPositions(*posPath)
		if err != nil {
			log.Fatalf("读取开盘部位失败: %v", err)
		}
		book.ReplaceStock(key, snapshot)
	}

	deals, err := loadDeals(*dealPath, account)
	if err != nil {
		log.Fatalf("读取成交明细失败: %v", err)
	}
	sort.SliceStable(deals, func(i, j int) bool { return deals[i].Ts.Before(deals[j].Ts) })

	applied, rejected := 0, 0
	for _, d := range deals {
		if err := book.ApplyStockDeal(d); err != nil {
			rejected++
			log.Printf("成交被拒 code=%s action=%s qty=%d: %v", d.Code, d.Action, d.Quantity, err)
			continue
		}
		applied++
	}

	final := book.StockPositions(key)
	log.Printf("deals=%d applied=%d rejected=%d positions=%d", len(deals), applied, rejected, len(final))
	for _, p := range final {
		log.Printf("code=%s cond=%s dir=%s qty=%d yd=%d yd_offset=%d",
			p.Code, p.Cond, p.Direction, p.Quantity, p.YdQuantity, p.YdOffsetQuantity)
	}

	if *outPath != "" {
		if err := writePositionsCSV(*outPath, final); err != nil {
			log.Printf("写入收盘部位 CSV 失败: %v", err)
		} else {
			log.Printf("已写入收盘部位: %s", *outPath)
		}
	}
}

func loadPositions(path string) ([]broker.RemotePosition, error) {
	rows, err := readCSV(path)
	if err != nil {
		return nil, err
	}
	var out []broker.RemotePosition
	for i, row := range rows {
		if len(row) < 5 {
			return nil, fmt.Errorf("line %d: expected 5 columns", i+2)
		}
		qty, err := strconv.ParseInt(strings.TrimSpace(row[3]), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("line %d quantity: %w", i+2, err)
		}
		yd, err := strconv.ParseInt(strings.TrimSpace(row[4]), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("line %d yd_quantity: %w", i+2, err)
		}
		out = append(out, broker.RemotePosition{
			Code:       strings.TrimSpace(row[0]),
			Cond:       broker.StockCond(strings.TrimSpace(row[1])),
			Direction:  broker.Action(strings.TrimSpace(row[2])),
			Quantity:   qty,
			YdQuantity: yd,
		})
	}
	return out, nil
}

func loadDeals(path string, account broker.Account) ([]broker.Deal, error) {
	rows, err := readCSV(path)
	if err != nil {
		return nil, err
	}
	var out []broker.Deal
	for i, row := range rows {
		if len(row) < 7 {
			return nil, fmt.Errorf("line %d: expected 7 columns", i+2)
		}
		ts, err := parseTs(strings.TrimSpace(row[0]))
		if err != nil {
			return nil, fmt.Errorf("line %d ts: %w", i+2, err)
		}
		qty, err := strconv.ParseInt(strings.TrimSpace(row[3]), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("line %d quantity: %w", i+2, err)
		}
		price, err := strconv.ParseFloat(strings.TrimSpace(row[4]), 64)
		if err != nil {
			return nil, fmt.Errorf("line %d price: %w", i+2, err)
		}
		dayTrade, err := strconv.ParseBool(strings.TrimSpace(row[6]))
		if err != nil {
			return nil, fmt.Errorf("line %d day_trade: %w", i+2, err)
		}
		cond := broker.StockCond(strings.TrimSpace(row[5]))
		if cond == "" {
			cond = broker.CondCash
		}
		out = append(out, broker.Deal{
			Account:  account,
			Code:     strings.TrimSpace(row[1]),
			Action:   broker.Action(strings.TrimSpace(row[2])),
			Quantity: qty,
			Price:    price,
			Cond:     cond,
			DayTrade: dayTrade,
			Ts:       ts,
		})
	}
	return out, nil
}

func parseTs(s string) (time.Time, error) {
	if ms, err := strconv.ParseInt(s, 10, 64); err == nil {
		return time.UnixMilli(ms), nil
	}
	return time.Parse(time.RFC3339, s)
}

func readCSV(path string) ([][]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	r := csv.NewReader(f)
	rows, err := r.ReadAll()
	if err != nil {
		return nil, err
	}
	if len(rows) > 0 {
		rows = rows[1:] // 跳过表头
	}
	return rows, nil
}

func writePositionsCSV(path string, positions []position.StockPosition) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	w := csv.NewWriter(f)
	defer w.Flush()
	if err := w.Write([]string{"code", "cond", "direction", "quantity", "yd_quantity", "yd_offset_quantity"}); err != nil {
		return err
	}
	for _, p := range positions {
		row := []string{
			p.Code,
			string(p.Cond),
			string(p.Direction),
			strconv.FormatInt(p.Quantity, 10),
			strconv.FormatInt(p.YdQuantity, 10),
			strconv.FormatInt(p.YdOffsetQuantity, 10),
		}
		if err := w.Write(row); err != nil {
			return err
		}
	}
	return w.Error()
}

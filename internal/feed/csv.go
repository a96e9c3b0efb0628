package feed

import (
	"encoding/csv"
	"fmt"
	"io"
	"math"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"backtest-drift-monitor/internal/models"

	"go.uber.org/zap"
)

// PriceRow is one `timestamp_ms,instrument,price` record.
type PriceRow struct {
	Timestamp    time.Time
	InstrumentID string
	Price        float64
}

// Loader 读取 CSV 行情与成交文件并合并成按时间排序的 tick 序列。
// 无法解析的行会被跳过并记录警告。
type Loader struct {
	logger *zap.SugaredLogger
}

func NewLoader(logger *zap.Logger) *Loader {
	return &Loader{logger: logger.Named("feed").Sugar()}
}

// LoadTicks reads the price file and, when fillsPath is not empty, the fill
// file, and groups both into ticks.
func (l *Loader) LoadTicks(pricesPath, fillsPath string) ([]models.Tick, error) {
	prices, err := l.readFile(pricesPath, l.ReadPrices)
	if err != nil {
		return nil, err
	}

	var fills []models.Fill
	if fillsPath != "" {
		fills, err = l.readFillFile(fillsPath)
		if err != nil {
			return nil, err
		}
	}

	ticks := Merge(prices, fills)
	if len(ticks) == 0 {
		return nil, fmt.Errorf("no usable rows in %s", pricesPath)
	}
	l.logger.Infof("Loaded %d ticks (%d price rows, %d fills)", len(ticks), len(prices), len(fills))
	return ticks, nil
}

func (l *Loader) readFile(path string, read func(io.Reader) ([]PriceRow, error)) ([]PriceRow, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("无法打开行情文件: %w", err)
	}
	defer f.Close()
	return read(f)
}

func (l *Loader) readFillFile(path string) ([]models.Fill, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("无法打开成交文件: %w", err)
	}
	defer f.Close()
	return l.ReadFills(f)
}

// ReadPrices parses `timestamp_ms,instrument,price` rows. A non-numeric first
// row is treated as a header.
func (l *Loader) ReadPrices(r io.Reader) ([]PriceRow, error) {
	records, err := readRecords(r)
	if err != nil {
		return nil, err
	}

	rows := make([]PriceRow, 0, len(records))
	for i, record := range records {
		if len(record) < 3 {
			l.logger.Warnf("行情数据列数不足，跳过第 %d 行: %v", i+1, record)
			continue
		}
		ts, errT := parseMillis(record[0])
		price, errP := parseFinite(record[2])
		instrument := strings.TrimSpace(record[1])
		if errT != nil || errP != nil || instrument == "" || price <= 0 {
			l.logger.Warnf("无法解析行情数据，跳过第 %d 行: %v", i+1, record)
			continue
		}
		rows = append(rows, PriceRow{Timestamp: ts, InstrumentID: instrument, Price: price})
	}
	return rows, nil
}

// ReadFills parses `timestamp_ms,instrument,side,quantity,price,fee` rows.
func (l *Loader) ReadFills(r io.Reader) ([]models.Fill, error) {
	records, err := readRecords(r)
	if err != nil {
		return nil, err
	}

	fills := make([]models.Fill, 0, len(records))
	for i, record := range records {
		if len(record) < 6 {
			l.logger.Warnf("成交数据列数不足，跳过第 %d 行: %v", i+1, record)
			continue
		}
		ts, errT := parseMillis(record[0])
		side, errS := models.ParseSide(strings.TrimSpace(record[2]))
		qty, errQ := parseFinite(record[3])
		price, errP := parseFinite(record[4])
		fee, errF := parseFinite(record[5])
		if errT != nil || errS != nil || errQ != nil || errP != nil || errF != nil ||
			qty <= 0 || price <= 0 || fee < 0 {
			l.logger.Warnf("无法解析成交数据，跳过第 %d 行: %v", i+1, record)
			continue
		}
		fills = append(fills, models.Fill{
			Timestamp:    ts,
			InstrumentID: strings.TrimSpace(record[1]),
			Side:         side,
			Quantity:     qty,
			Price:        price,
			Fee:          fee,
		})
	}
	return fills, nil
}

// Merge groups price rows and fills by timestamp into ascending ticks. A fill
// whose instrument has no price row at that timestamp contributes its own
// price to the tick.
func Merge(prices []PriceRow, fills []models.Fill) []models.Tick {
	byTime := make(map[int64]*models.Tick)
	get := func(ts time.Time) *models.Tick {
		key := ts.UnixMilli()
		t, ok := byTime[key]
		if !ok {
			t = &models.Tick{Timestamp: ts, Prices: make(map[string]float64)}
			byTime[key] = t
		}
		return t
	}

	for _, p := range prices {
		get(p.Timestamp).Prices[p.InstrumentID] = p.Price
	}
	for _, f := range fills {
		t := get(f.Timestamp)
		t.Fills = append(t.Fills, f)
	}
	for _, t := range byTime {
		for _, f := range t.Fills {
			if _, ok := t.Prices[f.InstrumentID]; !ok && f.Price > 0 {
				t.Prices[f.InstrumentID] = f.Price
			}
		}
	}

	ticks := make([]models.Tick, 0, len(byTime))
	for _, t := range byTime {
		ticks = append(ticks, *t)
	}
	sort.Slice(ticks, func(i, j int) bool { return ticks[i].Timestamp.Before(ticks[j].Timestamp) })
	return ticks
}

func readRecords(r io.Reader) ([][]string, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true
	records, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("无法读取CSV记录: %w", err)
	}
	// 移除表头
	if len(records) > 0 && len(records[0]) > 0 {
		if _, err := strconv.ParseInt(strings.TrimSpace(records[0][0]), 10, 64); err != nil {
			records = records[1:]
		}
	}
	return records, nil
}

// parseFinite rejects NaN and ±Inf, which strconv accepts.
func parseFinite(s string) (float64, error) {
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0, err
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, fmt.Errorf("non-finite value %q", s)
	}
	return v, nil
}

func parseMillis(s string) (time.Time, error) {
	ms, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil {
		return time.Time{}, err
	}
	return time.UnixMilli(ms).UTC(), nil
}

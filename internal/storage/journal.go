package storage

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"spot_trader/internal/models"

	"github.com/shopspring/decimal"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

// DefaultTradeLog is the JSON lines trade history file.
const DefaultTradeLog = "logs/trade_history.log"

// FileJournal appends one JSON object per closed trade.
type FileJournal struct {
	path string
	mu   sync.Mutex
}

var _ Journal = (*FileJournal)(nil)

func NewFileJournal(path string) (*FileJournal, error) {
	if path == "" {
		path = DefaultTradeLog
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("%w: create journal dir: %w", ErrPersistence, err)
	}
	return &FileJournal{path: path}, nil
}

func (j *FileJournal) Record(_ context.Context, rec models.TradeRecord) error {
	b, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("%w: encode trade: %w", ErrPersistence, err)
	}

	j.mu.Lock()
	defer j.mu.Unlock()

	f, err := os.OpenFile(j.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("%w: open journal: %w", ErrPersistence, err)
	}
	defer f.Close()

	if _, err := f.Write(append(b, '\n')); err != nil {
		return fmt.Errorf("%w: append trade: %w", ErrPersistence, err)
	}
	return f.Sync()
}

// Recent returns up to n trades from the end of the file, newest first.
func (j *FileJournal) Recent(_ context.Context, n int) ([]models.TradeRecord, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	f, err := os.Open(j.path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var all []models.TradeRecord
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var rec models.TradeRecord
		if err := json.Unmarshal(sc.Bytes(), &rec); err != nil {
			continue
		}
		all = append(all, rec)
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}

	out := make([]models.TradeRecord, 0, n)
	for i := len(all) - 1; i >= 0 && len(out) < n; i-- {
		out = append(out, all[i])
	}
	return out, nil
}

// TradeRow is the trade_records table.
type TradeRow struct {
	ID          uint            `gorm:"primaryKey"`
	PositionID  string          `gorm:"uniqueIndex;size:64"`
	Symbol      string          `gorm:"index;size:32"`
	EntryTime   time.Time       `gorm:"not null"`
	ExitTime    time.Time       `gorm:"index"`
	EntryPrice  decimal.Decimal `gorm:"type:numeric"`
	ExitPrice   decimal.Decimal `gorm:"type:numeric"`
	Quantity    decimal.Decimal `gorm:"type:numeric"`
	PnL         decimal.Decimal `gorm:"type:numeric"`
	PnLPercent  decimal.Decimal `gorm:"type:numeric"`
	CloseReason string          `gorm:"size:32"`
	CreatedAt   time.Time
}

func (TradeRow) TableName() string { return "trade_records" }

// GormJournal writes trades to Postgres through gorm.
type GormJournal struct {
	db *gorm.DB
}

var _ Journal = (*GormJournal)(nil)

// OpenGormJournal connects to dsn and migrates the trade_records table.
func OpenGormJournal(dsn string) (*GormJournal, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("%w: open journal db: %w", ErrPersistence, err)
	}
	return NewGormJournal(db)
}

func NewGormJournal(db *gorm.DB) (*GormJournal, error) {
	if err := db.AutoMigrate(&TradeRow{}); err != nil {
		return nil, fmt.Errorf("%w: migrate trade_records: %w", ErrPersistence, err)
	}
	return &GormJournal{db: db}, nil
}

func (j *GormJournal) Record(ctx context.Context, rec models.TradeRecord) error {
	row := TradeRow{
		PositionID:  rec.PositionID,
		Symbol:      rec.Symbol,
		EntryTime:   rec.EntryTime,
		ExitTime:    rec.ExitTime,
		EntryPrice:  rec.EntryPrice,
		ExitPrice:   rec.ExitPrice,
		Quantity:    rec.Quantity,
		PnL:         rec.PnL,
		PnLPercent:  rec.PnLPercent,
		CloseReason: string(rec.CloseReason),
	}
	if err := j.db.WithContext(ctx).Create(&row).Error; err != nil {
		return fmt.Errorf("%w: insert trade %s: %w", ErrPersistence, rec.PositionID, err)
	}
	return nil
}

// Recent returns the latest n trades, newest first.
func (j *GormJournal) Recent(ctx context.Context, n int) ([]models.TradeRecord, error) {
	var rows []TradeRow
	if err := j.db.WithContext(ctx).Order("exit_time desc").Limit(n).Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]models.TradeRecord, 0, len(rows))
	for _, r := range rows {
		out = append(out, models.TradeRecord{
			PositionID:  r.PositionID,
			Symbol:      r.Symbol,
			EntryTime:   r.EntryTime,
			ExitTime:    r.ExitTime,
			EntryPrice:  r.EntryPrice,
			ExitPrice:   r.ExitPrice,
			Quantity:    r.Quantity,
			PnL:         r.PnL,
			PnLPercent:  r.PnLPercent,
			CloseReason: models.CloseReason(r.CloseReason),
		})
	}
	return out, nil
}

// Close releases the underlying connection pool.
func (j *GormJournal) Close() error {
	sqlDB, err := j.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// MultiJournal fans a record out to several journals and returns the first error.
type MultiJournal []Journal

func (m MultiJournal) Record(ctx context.Context, rec models.TradeRecord) error {
	var first error
	for _, j := range m {
		if err := j.Record(ctx, rec); err != nil && first == nil {
			first = err
		}
	}
	return first
}

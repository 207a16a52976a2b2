package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"spot_trader/internal/models"

	"github.com/shopspring/decimal"
)

// DefaultStateFile is where positions live when no path is configured.
const DefaultStateFile = "positions.json"

// SchemaVersion is the current on-disk format.
const SchemaVersion = "2.0"

// FileStore keeps all positions in one JSON document, rewritten atomically
// on every Save. The previous image is kept next to it as <path>.bak.
type FileStore struct {
	path string
	mu   sync.Mutex
}

var _ Store = (*FileStore)(nil)

// OpenFileStore returns a store backed by path, creating an empty document
// if none exists and migrating older formats in place.
func OpenFileStore(path string) (*FileStore, error) {
	if path == "" {
		path = DefaultStateFile
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("%w: create state dir: %w", ErrPersistence, err)
		}
	}

	s := &FileStore{path: path}

	if _, err := os.Stat(path); os.IsNotExist(err) {
		log.Println("State file missing, generating template...")
		doc := models.PortfolioState{Version: SchemaVersion, Positions: map[string]models.Position{}}
		if err := s.write(doc); err != nil {
			return nil, err
		}
		return s, nil
	}

	doc, migrated, err := s.read()
	if err != nil {
		return nil, err
	}
	if migrated {
		log.Printf("INFO: State migrated to version %s. Saving...", doc.Version)
		if err := s.write(doc); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// Path returns the state file location.
func (s *FileStore) Path() string { return s.path }

func (s *FileStore) Load(_ context.Context) (map[string]models.Position, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, _, err := s.read()
	if err != nil {
		return nil, err
	}
	return doc.Positions, nil
}

func (s *FileStore) Save(_ context.Context, p models.Position) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, _, err := s.read()
	if err != nil {
		return err
	}
	doc.Positions[p.Symbol] = p
	return s.write(doc)
}

func (s *FileStore) Delete(_ context.Context, symbol string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, _, err := s.read()
	if err != nil {
		return err
	}
	if _, ok := doc.Positions[symbol]; !ok {
		return nil
	}
	delete(doc.Positions, symbol)
	return s.write(doc)
}

func (s *FileStore) Close() error { return nil }

// read loads the document, falling back to the backup if the primary is
// unreadable. The bool reports whether a migration was applied.
func (s *FileStore) read() (models.PortfolioState, bool, error) {
	b, err := os.ReadFile(s.path)
	if err != nil {
		return models.PortfolioState{}, false, fmt.Errorf("%w: read %s: %w", ErrPersistence, s.path, err)
	}

	doc, migrated, err := decode(b)
	if err == nil {
		return doc, migrated, nil
	}

	log.Printf("CRITICAL: State file %s unreadable (%v), trying backup", s.path, err)
	bak, bakErr := os.ReadFile(s.path + ".bak")
	if bakErr != nil {
		return models.PortfolioState{}, false, fmt.Errorf("%w: decode %s: %w", ErrPersistence, s.path, err)
	}
	doc, _, bakErr = decode(bak)
	if bakErr != nil {
		return models.PortfolioState{}, false, fmt.Errorf("%w: decode %s and backup: %w", ErrPersistence, s.path, err)
	}
	// Rewrite the primary from the backup.
	return doc, true, nil
}

func decode(b []byte) (models.PortfolioState, bool, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(b, &fields); err != nil {
		return models.PortfolioState{}, false, err
	}

	if _, ok := fields["version"]; !ok {
		doc, err := migrateLegacy(b)
		return doc, true, err
	}

	var doc models.PortfolioState
	if err := json.Unmarshal(b, &doc); err != nil {
		return doc, false, err
	}
	if doc.Positions == nil {
		doc.Positions = map[string]models.Position{}
	}
	return doc, migrateState(&doc), nil
}

// migrateState handles schema evolution of versioned documents.
// Returns true if changes were made and the state needs to be saved.
func migrateState(s *models.PortfolioState) bool {
	updated := false

	// 1.x -> 2.0: records without a state are holding positions.
	if versionLess(s.Version, "2.0") {
		log.Printf("INFO: Migrating State Schema from %s to 2.0", s.Version)
		for sym, p := range s.Positions {
			if p.State == "" {
				p.State = models.StateOpen
				if p.TrailingArmed {
					p.State = models.StateTrailing
				}
			}
			if p.Symbol == "" {
				p.Symbol = sym
			}
			if p.PeakPrice.LessThan(p.EntryPrice) {
				p.PeakPrice = p.EntryPrice
			}
			s.Positions[sym] = p
		}
		s.Version = "2.0"
		updated = true
	}

	return updated
}

// versionLess compares dotted numeric versions component by component.
// Missing components count as zero; an unparsable version sorts first.
func versionLess(a, b string) bool {
	pa, okA := parseVersion(a)
	pb, okB := parseVersion(b)
	if !okA || !okB {
		return !okA && okB
	}
	for i := 0; i < len(pa) || i < len(pb); i++ {
		var x, y int
		if i < len(pa) {
			x = pa[i]
		}
		if i < len(pb) {
			y = pb[i]
		}
		if x != y {
			return x < y
		}
	}
	return false
}

func parseVersion(v string) ([]int, bool) {
	if v == "" {
		return nil, false
	}
	parts := strings.Split(v, ".")
	out := make([]int, len(parts))
	for i, part := range parts {
		n, err := strconv.Atoi(part)
		if err != nil || n < 0 {
			return nil, false
		}
		out[i] = n
	}
	return out, true
}

// legacyPosition is the unversioned symbol -> position map written by the
// first generation of the bot.
type legacyPosition struct {
	Symbol       string          `json:"symbol"`
	EntryPrice   float64         `json:"entry_price"`
	Quantity     float64         `json:"quantity"`
	EntryTime    string          `json:"entry_time"`
	OrderID      json.RawMessage `json:"order_id"`
	HighestPrice float64         `json:"highest_price"`
	StopLoss     float64         `json:"stop_loss"`
	TrailingStop *float64        `json:"trailing_stop"`
}

func migrateLegacy(b []byte) (models.PortfolioState, error) {
	var legacy map[string]legacyPosition
	if err := json.Unmarshal(b, &legacy); err != nil {
		return models.PortfolioState{}, fmt.Errorf("unrecognised state format: %w", err)
	}

	log.Printf("INFO: Migrating %d legacy positions to schema %s", len(legacy), SchemaVersion)
	doc := models.PortfolioState{Version: SchemaVersion, Positions: make(map[string]models.Position, len(legacy))}
	for sym, lp := range legacy {
		opened, err := time.Parse("2006-01-02T15:04:05.999999", lp.EntryTime)
		if err != nil {
			opened = time.Now().UTC()
		}
		p := models.Position{
			ID:            fmt.Sprintf("legacy-%s", sym),
			Symbol:        sym,
			State:         models.StateOpen,
			EntryPrice:    decimal.NewFromFloat(lp.EntryPrice),
			Quantity:      decimal.NewFromFloat(lp.Quantity),
			RequestedQty:  decimal.NewFromFloat(lp.Quantity),
			LimitPrice:    decimal.NewFromFloat(lp.EntryPrice),
			StopLossPrice: decimal.NewFromFloat(lp.StopLoss),
			PeakPrice:     decimal.NewFromFloat(lp.HighestPrice),
			CreatedAt:     opened,
			OpenedAt:      &opened,
			UpdatedAt:     opened,
		}
		if id := strings.Trim(string(lp.OrderID), `"`); id != "" && id != "null" {
			p.EntryOrderID = id
		}
		if p.PeakPrice.LessThan(p.EntryPrice) {
			p.PeakPrice = p.EntryPrice
		}
		if lp.TrailingStop != nil {
			p.TrailingArmed = true
			p.State = models.StateTrailing
		}
		doc.Positions[sym] = p
	}
	return doc, nil
}

// write replaces the state file using an atomic write pattern.
// 1. Copy the current file to the backup.
// 2. Write and sync a temporary file, then verify it reads back identically.
// 3. Rename the temporary file over the destination.
func (s *FileStore) write(doc models.PortfolioState) error {
	doc.LastSync = time.Now().UTC().Format(time.RFC3339)
	b, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("%w: marshal state: %w", ErrPersistence, err)
	}

	if cur, err := os.ReadFile(s.path); err == nil && json.Valid(cur) {
		if err := os.WriteFile(s.path+".bak", cur, 0o644); err != nil {
			log.Printf("Warning: Failed to write state backup: %v", err)
		}
	}

	tmpFile := s.path + ".tmp"
	f, err := os.Create(tmpFile)
	if err != nil {
		return fmt.Errorf("%w: create temp state file: %w", ErrPersistence, err)
	}
	defer f.Close()

	if _, err := f.Write(b); err != nil {
		os.Remove(tmpFile)
		return fmt.Errorf("%w: write temp state file: %w", ErrPersistence, err)
	}
	if err := f.Sync(); err != nil {
		os.Remove(tmpFile)
		return fmt.Errorf("%w: sync temp state file: %w", ErrPersistence, err)
	}
	// Close explicitly before renaming (essential on Windows)
	f.Close()

	written, err := os.ReadFile(tmpFile)
	if err != nil || !bytes.Equal(written, b) {
		os.Remove(tmpFile)
		return fmt.Errorf("%w: temp state file failed verification", ErrPersistence)
	}

	if err := os.Rename(tmpFile, s.path); err != nil {
		return fmt.Errorf("%w: replace state file (atomic rename): %w", ErrPersistence, err)
	}
	syncDir(filepath.Dir(s.path))
	return nil
}

func syncDir(dir string) {
	d, err := os.Open(dir)
	if err != nil {
		return
	}
	defer d.Close()
	_ = d.Sync()
}

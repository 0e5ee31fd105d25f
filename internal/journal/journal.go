// Package journal persists the Tiered Memory Engine's in-memory staging
// state to disk as JSON snapshots — perceptual.json, short_term.json,
// promotion_queue.json — so a restart can replay recent,
// not-yet-consolidated memory state instead of losing it (spec §6
// "JSON staging journals").
//
// No third-party library in the example corpus models a local
// append-only snapshot journal; every write is a plain
// marshal-to-temp-file-then-rename, which is what stdlib already gives
// atomically on a POSIX filesystem, so this is a deliberate stdlib-only
// package (see DESIGN.md).
package journal

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/xianshu-virtuous/MoFox-Core/internal/logger"
	"github.com/xianshu-virtuous/MoFox-Core/internal/memory/longterm"
	"github.com/xianshu-virtuous/MoFox-Core/internal/memory/perceptual"
	"github.com/xianshu-virtuous/MoFox-Core/internal/memory/shortterm"
)

const (
	perceptualFile = "perceptual.json"
	shortTermFile  = "short_term.json"
	promotionFile  = "promotion_queue.json"
)

// Store owns the data directory every journal file lives under.
type Store struct {
	dataDir string
}

// New creates a Store rooted at dataDir, creating the directory if
// necessary.
func New(dataDir string) (*Store, error) {
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("journal: creating data dir: %w", err)
	}
	return &Store{dataDir: dataDir}, nil
}

func (s *Store) path(name string) string { return filepath.Join(s.dataDir, name) }

// writeJSON marshals v and writes it to name atomically: it writes to a
// sibling temp file first, then renames over the target, so a crash
// mid-write never leaves a half-written journal behind.
func (s *Store) writeJSON(name string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("journal: marshaling %s: %w", name, err)
	}
	target := s.path(name)
	tmp := target + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("journal: writing %s: %w", name, err)
	}
	if err := os.Rename(tmp, target); err != nil {
		return fmt.Errorf("journal: renaming %s: %w", name, err)
	}
	return nil
}

// readJSON unmarshals name into v, reporting found=false (and no error)
// if the file does not exist yet.
func (s *Store) readJSON(name string, v any) (found bool, err error) {
	data, err := os.ReadFile(s.path(name))
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("journal: reading %s: %w", name, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return false, fmt.Errorf("journal: unmarshaling %s: %w", name, err)
	}
	return true, nil
}

// SavePerceptual snapshots every block currently held in the perceptual
// FIFO.
func (s *Store) SavePerceptual(blocks []*perceptual.Block) error {
	if err := s.writeJSON(perceptualFile, blocks); err != nil {
		logger.Journal().Error().Err(err).Msg("failed to write perceptual journal")
		return err
	}
	return nil
}

// LoadPerceptual restores the perceptual journal, if present.
func (s *Store) LoadPerceptual() ([]*perceptual.Block, error) {
	var blocks []*perceptual.Block
	if _, err := s.readJSON(perceptualFile, &blocks); err != nil {
		return nil, err
	}
	return blocks, nil
}

// SaveShortTerm snapshots every short-term memory.
func (s *Store) SaveShortTerm(memories []shortterm.Memory) error {
	if err := s.writeJSON(shortTermFile, memories); err != nil {
		logger.Journal().Error().Err(err).Msg("failed to write short-term journal")
		return err
	}
	return nil
}

// LoadShortTerm restores the short-term journal, if present.
func (s *Store) LoadShortTerm() ([]shortterm.Memory, error) {
	var memories []shortterm.Memory
	if _, err := s.readJSON(shortTermFile, &memories); err != nil {
		return nil, err
	}
	return memories, nil
}

// SavePromotionQueue snapshots the short-term-to-long-term transfer
// queue, so an in-flight promotion survives a restart.
func (s *Store) SavePromotionQueue(items []longterm.TransferItem) error {
	if err := s.writeJSON(promotionFile, items); err != nil {
		logger.Journal().Error().Err(err).Msg("failed to write promotion queue journal")
		return err
	}
	return nil
}

// LoadPromotionQueue restores the promotion queue journal, if present.
func (s *Store) LoadPromotionQueue() ([]longterm.TransferItem, error) {
	var items []longterm.TransferItem
	if _, err := s.readJSON(promotionFile, &items); err != nil {
		return nil, err
	}
	return items, nil
}

// Package train manages the user's checklists: persistence, the active
// checklist and its step cursor, and shareable import/export codes.
package train

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/afero"

	"traincommander/internal/config"
	appLog "traincommander/internal/log"
	"traincommander/internal/model"
)

// ErrCorruptStore means trains.json exists but could not be decoded. The
// unreadable file is moved aside before the error is returned.
var ErrCorruptStore = errors.New("train: corrupt store")

// Document is the on-disk shape of trains.json.
type Document struct {
	Trains []model.TrainTemplate `json:"trains"`
}

// Store reads and writes trains.json.
type Store struct {
	fs   afero.Fs
	path string
}

// NewStore returns a store for path on fsys. A nil fsys means the OS
// filesystem.
func NewStore(fsys afero.Fs, path string) *Store {
	if fsys == nil {
		fsys = afero.NewOsFs()
	}
	return &Store{fs: fsys, path: path}
}

// Path returns the file the store writes to.
func (s *Store) Path() string {
	return s.path
}

// Load reads every train. A missing file is an empty list.
func (s *Store) Load() ([]model.TrainTemplate, error) {
	data, err := afero.ReadFile(s.fs, s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return []model.TrainTemplate{}, nil
		}
		return nil, fmt.Errorf("read trains: %w", err)
	}

	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		backup := s.path + ".corrupt"
		if rerr := s.fs.Rename(s.path, backup); rerr != nil {
			appLog.Error("train store: could not move corrupt file aside", rerr, "path", s.path)
		} else {
			appLog.Warn("train store: corrupt file moved aside", "path", s.path, "backup", backup)
		}
		return nil, fmt.Errorf("%w: %v", ErrCorruptStore, err)
	}
	if doc.Trains == nil {
		doc.Trains = []model.TrainTemplate{}
	}
	return doc.Trains, nil
}

// Save writes every train atomically.
func (s *Store) Save(trains []model.TrainTemplate) error {
	data, err := Marshal(trains)
	if err != nil {
		return err
	}
	if err := config.WriteFileAtomic(s.fs, s.path, data); err != nil {
		return fmt.Errorf("write trains: %w", err)
	}
	appLog.Debug("train store saved", "path", s.path, "train_count", len(trains))
	return nil
}

// Marshal renders trains as the trains.json document, indented by four
// spaces.
func Marshal(trains []model.TrainTemplate) ([]byte, error) {
	if trains == nil {
		trains = []model.TrainTemplate{}
	}
	doc := Document{Trains: make([]model.TrainTemplate, len(trains))}
	for i, t := range trains {
		if t.Steps == nil {
			t.Steps = []model.TrainStep{}
		}
		doc.Trains[i] = t
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "    ")
	if err := enc.Encode(&doc); err != nil {
		return nil, fmt.Errorf("encode trains: %w", err)
	}
	return buf.Bytes(), nil
}

package testutils

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/ahrav/go-consensus/internal/domain"
)

// snapshotFile is the JSON form of a Snapshot. Public flags are stored
// as a list because JSON objects cannot be keyed by struct keys.
type snapshotFile struct {
	Users       []domain.User                                           `json:"users"`
	Entities    []domain.EntityID                                       `json:"entities"`
	Vouches     []domain.Vouch                                          `json:"vouches"`
	Comparisons map[domain.Criterion][]domain.Comparison                `json:"comparisons"`
	Public      []domain.PublicKey                                      `json:"public"`
	Scalings    map[domain.Criterion]map[domain.UserID]domain.Scaling   `json:"prior_scalings,omitempty"`
	Models      map[domain.Criterion]map[domain.UserID]domain.UserModel `json:"prior_models,omitempty"`
}

// SaveSnapshot writes a snapshot as JSON, creating parent directories
// as needed.
func SaveSnapshot(s *Snapshot, path string) error {
	file := snapshotFile{
		Users:       s.UserList,
		Entities:    s.EntityList,
		Vouches:     s.VouchList,
		Comparisons: s.Comparison,
		Scalings:    s.Scalings,
		Models:      s.Models,
	}
	for key, public := range s.PublicFlags {
		if public {
			file.Public = append(file.Public, key)
		}
	}

	data, err := json.MarshalIndent(file, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return fmt.Errorf("create output directory: %w", err)
		}
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("write snapshot: %w", err)
	}
	return nil
}

// LoadSnapshot reads a snapshot saved by SaveSnapshot.
func LoadSnapshot(path string) (*Snapshot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read snapshot: %w", err)
	}
	var file snapshotFile
	if err := json.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse snapshot: %w", err)
	}

	s := NewSnapshot()
	s.UserList = file.Users
	s.EntityList = file.Entities
	s.VouchList = file.Vouches
	if file.Comparisons != nil {
		s.Comparison = file.Comparisons
	}
	if file.Scalings != nil {
		s.Scalings = file.Scalings
	}
	if file.Models != nil {
		s.Models = file.Models
	}
	for _, key := range file.Public {
		s.PublicFlags[key] = true
	}
	return s, nil
}

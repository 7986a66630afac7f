// Package backup snapshots the graph to timestamped directories and
// restores from them. A snapshot is three JSON files: entities,
// relationships, and a manifest that restore validates first.
package backup

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/graphmend/graphmend/pkg/driver"
	"github.com/graphmend/graphmend/pkg/types"
)

const (
	manifestFile      = "manifest.json"
	entitiesFile      = "entities.json"
	relationshipsFile = "relationships.json"

	manifestVersion = 1
)

// Manifest describes a snapshot's contents. Restore refuses a snapshot
// whose files disagree with its manifest.
type Manifest struct {
	Version           int       `json:"version"`
	CreatedAt         time.Time `json:"created_at"`
	EntityCount       int       `json:"entity_count"`
	RelationshipCount int       `json:"relationship_count"`
}

// Manager creates and restores snapshots for one graph store.
type Manager struct {
	store  driver.SnapshotStore
	dir    string
	logger *slog.Logger
}

// NewManager creates a backup manager rooted at dir.
func NewManager(store driver.SnapshotStore, dir string, logger *slog.Logger) *Manager {
	return &Manager{store: store, dir: dir, logger: logger}
}

// Snapshot exports the full graph into a new timestamped directory and
// returns its path.
func (m *Manager) Snapshot(ctx context.Context) (string, error) {
	entities, relationships, err := m.store.ExportAll(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to export graph: %w", err)
	}

	path := filepath.Join(m.dir, "backup_"+time.Now().Format("20060102_150405"))
	if err := os.MkdirAll(path, 0o755); err != nil {
		return "", fmt.Errorf("failed to create backup directory: %w", err)
	}

	if err := writeJSON(filepath.Join(path, entitiesFile), entities); err != nil {
		return "", err
	}
	if err := writeJSON(filepath.Join(path, relationshipsFile), relationships); err != nil {
		return "", err
	}
	manifest := Manifest{
		Version:           manifestVersion,
		CreatedAt:         time.Now(),
		EntityCount:       len(entities),
		RelationshipCount: len(relationships),
	}
	if err := writeJSON(filepath.Join(path, manifestFile), manifest); err != nil {
		return "", err
	}

	m.logger.Info("snapshot created",
		"path", path, "entities", len(entities), "relationships", len(relationships))
	return path, nil
}

// Restore loads a snapshot back into the store. The snapshot is validated
// against its manifest before any write; with clear set, the store is
// emptied first.
func (m *Manager) Restore(ctx context.Context, path string, clear bool) error {
	manifest, entities, relationships, err := m.load(path)
	if err != nil {
		return err
	}

	if clear {
		if err := m.store.Clear(ctx); err != nil {
			return fmt.Errorf("failed to clear store before restore: %w", err)
		}
	}
	if err := m.store.ImportAll(ctx, entities, relationships); err != nil {
		return fmt.Errorf("failed to import snapshot: %w", err)
	}

	m.logger.Info("snapshot restored",
		"path", path,
		"entities", manifest.EntityCount,
		"relationships", manifest.RelationshipCount)
	return nil
}

// Latest returns the path of the most recent snapshot under the backup
// directory, or a NotFoundError when none exist.
func (m *Manager) Latest() (string, error) {
	entries, err := os.ReadDir(m.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return "", &types.NotFoundError{Kind: "backup", ID: m.dir}
		}
		return "", err
	}
	var names []string
	for _, entry := range entries {
		if entry.IsDir() {
			names = append(names, entry.Name())
		}
	}
	if len(names) == 0 {
		return "", &types.NotFoundError{Kind: "backup", ID: m.dir}
	}
	sort.Strings(names)
	return filepath.Join(m.dir, names[len(names)-1]), nil
}

func (m *Manager) load(path string) (*Manifest, []*types.Entity, []*types.Relationship, error) {
	var manifest Manifest
	if err := readJSON(filepath.Join(path, manifestFile), &manifest); err != nil {
		return nil, nil, nil, &types.ValidationError{Reason: fmt.Sprintf(
			"snapshot %s has no readable manifest: %v", path, err)}
	}
	if manifest.Version != manifestVersion {
		return nil, nil, nil, &types.ValidationError{Reason: fmt.Sprintf(
			"unsupported snapshot version %d", manifest.Version)}
	}

	var entities []*types.Entity
	if err := readJSON(filepath.Join(path, entitiesFile), &entities); err != nil {
		return nil, nil, nil, &types.ValidationError{Reason: fmt.Sprintf(
			"snapshot %s entities unreadable: %v", path, err)}
	}
	var relationships []*types.Relationship
	if err := readJSON(filepath.Join(path, relationshipsFile), &relationships); err != nil {
		return nil, nil, nil, &types.ValidationError{Reason: fmt.Sprintf(
			"snapshot %s relationships unreadable: %v", path, err)}
	}

	if len(entities) != manifest.EntityCount || len(relationships) != manifest.RelationshipCount {
		return nil, nil, nil, &types.ValidationError{Reason: fmt.Sprintf(
			"snapshot %s does not match its manifest: %d/%d entities, %d/%d relationships",
			path, len(entities), manifest.EntityCount, len(relationships), manifest.RelationshipCount)}
	}
	return &manifest, entities, relationships, nil
}

func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", filepath.Base(path), err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", filepath.Base(path), err)
	}
	return nil
}

func readJSON(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, v)
}

// Package planstore persists resolution plans and execution reports in an
// embedded badger database, with optional JSON export for human review.
package planstore

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"time"

	badger "github.com/dgraph-io/badger/v4"

	"github.com/graphmend/graphmend/pkg/types"
)

const (
	planPrefix   = "plan/"
	reportPrefix = "report/"
)

// Store is a durable plan and report archive.
type Store struct {
	db     *badger.DB
	logger *slog.Logger
}

// Open opens (or creates) the badger database at path.
func Open(path string, logger *slog.Logger) (*Store, error) {
	if err := os.MkdirAll(path, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create plan store directory: %w", err)
	}
	opts := badger.DefaultOptions(path).WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open plan store: %w", err)
	}
	return &Store{db: db, logger: logger}, nil
}

// SavePlan persists a plan. Plans are immutable: saving an id twice is
// rejected rather than silently overwriting.
func (s *Store) SavePlan(plan *types.ResolutionPlan) error {
	key := []byte(planPrefix + plan.ID)
	value, err := json.Marshal(plan)
	if err != nil {
		return fmt.Errorf("failed to encode plan: %w", err)
	}
	return s.db.Update(func(txn *badger.Txn) error {
		if _, err := txn.Get(key); err == nil {
			return &types.ValidationError{Reason: fmt.Sprintf("plan %s already exists; plans are immutable", plan.ID)}
		} else if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}
		return txn.Set(key, value)
	})
}

// GetPlan loads a plan by id, migrating older schema versions on read. The
// stored bytes are left untouched; migration happens on the returned value.
func (s *Store) GetPlan(id string) (*types.ResolutionPlan, error) {
	var raw []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(planPrefix + id))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return &types.NotFoundError{Kind: "plan", ID: id}
		}
		if err != nil {
			return err
		}
		raw, err = item.ValueCopy(nil)
		return err
	})
	if err != nil {
		return nil, err
	}
	return decodePlan(raw)
}

// ListPlans returns all stored plans, newest first.
func (s *Store) ListPlans() ([]*types.ResolutionPlan, error) {
	var plans []*types.ResolutionPlan
	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		prefix := []byte(planPrefix)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			raw, err := it.Item().ValueCopy(nil)
			if err != nil {
				return err
			}
			plan, err := decodePlan(raw)
			if err != nil {
				return err
			}
			plans = append(plans, plan)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(plans, func(i, j int) bool { return plans[i].CreatedAt.After(plans[j].CreatedAt) })
	return plans, nil
}

// DeletePlan removes a plan and its report.
func (s *Store) DeletePlan(id string) error {
	return s.db.Update(func(txn *badger.Txn) error {
		if err := txn.Delete([]byte(planPrefix + id)); err != nil {
			return err
		}
		return txn.Delete([]byte(reportPrefix + id))
	})
}

// SaveReport persists the execution report for a plan, keyed by plan id.
func (s *Store) SaveReport(report *types.ExecutionReport) error {
	value, err := json.Marshal(report)
	if err != nil {
		return fmt.Errorf("failed to encode report: %w", err)
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(reportPrefix+report.PlanID), value)
	})
}

// GetReport loads the execution report for a plan.
func (s *Store) GetReport(planID string) (*types.ExecutionReport, error) {
	var report types.ExecutionReport
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(reportPrefix + planID))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return &types.NotFoundError{Kind: "report", ID: planID}
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &report)
		})
	})
	if err != nil {
		return nil, err
	}
	return &report, nil
}

// ExportJSON writes a plan as an indented JSON file under dir for review,
// named resolution_plan_<timestamp>.json. Returns the file path.
func (s *Store) ExportJSON(plan *types.ResolutionPlan, dir string) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create export directory: %w", err)
	}
	name := fmt.Sprintf("resolution_plan_%s.json", plan.CreatedAt.Format("20060102_150405"))
	path := filepath.Join(dir, name)
	data, err := json.MarshalIndent(plan, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to encode plan: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("failed to write plan export: %w", err)
	}
	s.logger.Info("plan exported for review", "plan_id", plan.ID, "path", path)
	return path, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// decodePlan unmarshals plan bytes, applying the v1 migration when needed.
// Unknown schema versions are an error, never a silent coercion.
func decodePlan(raw []byte) (*types.ResolutionPlan, error) {
	var probe struct {
		SchemaVersion int `json:"schema_version"`
	}
	if err := json.Unmarshal(raw, &probe); err != nil {
		return nil, fmt.Errorf("failed to decode plan: %w", err)
	}
	switch probe.SchemaVersion {
	case types.PlanSchemaVersion:
		var plan types.ResolutionPlan
		if err := json.Unmarshal(raw, &plan); err != nil {
			return nil, fmt.Errorf("failed to decode plan: %w", err)
		}
		return &plan, nil
	case 1:
		return migrateV1(raw)
	default:
		return nil, &types.ValidationError{Reason: fmt.Sprintf(
			"unknown plan schema version %d", probe.SchemaVersion)}
	}
}

// planV1 is the original plan layout: flat merge groups with "canonical"
// and "members" keys, no scope, no conflict records.
type planV1 struct {
	SchemaVersion int       `json:"schema_version"`
	ID            string    `json:"id"`
	CreatedAt     time.Time `json:"created_at"`
	Groups        []struct {
		Canonical string                          `json:"canonical"`
		Members   []string                        `json:"members"`
		Rewrites  []types.RelationshipRewriteRule `json:"rewrites,omitempty"`
	} `json:"groups"`
}

func migrateV1(raw []byte) (*types.ResolutionPlan, error) {
	var old planV1
	if err := json.Unmarshal(raw, &old); err != nil {
		return nil, fmt.Errorf("failed to decode v1 plan: %w", err)
	}
	plan := &types.ResolutionPlan{
		SchemaVersion: types.PlanSchemaVersion,
		ID:            old.ID,
		CreatedAt:     old.CreatedAt,
		Scope:         types.Scope{Kind: types.ScopeAll},
	}
	for _, g := range old.Groups {
		plan.Groups = append(plan.Groups, types.DuplicateGroup{
			CanonicalID:          g.Canonical,
			MemberIDs:            g.Members,
			RelationshipRewrites: g.Rewrites,
		})
	}
	return plan, nil
}

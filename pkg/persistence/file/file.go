// Package file provides JSON-file persistence for development and tests.
// Records live under a root directory, one document per record, guarded by a
// process-wide mutex. Not suitable for multi-process deployments.
package file

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/dukex/flowstate/pkg/persistence"
)

type Persistence struct {
	store *store

	definitions *DefinitionRepository
	instances   *InstanceRepository
	tasks       *TaskRepository
	delegations *DelegationRepository
	timers      *TimerRepository
	history     *HistoryRepository
}

func NewPersistence(root string) *Persistence {
	s := &store{root: root}

	return &Persistence{
		store:       s,
		definitions: &DefinitionRepository{store: s},
		instances:   &InstanceRepository{store: s},
		tasks:       &TaskRepository{store: s},
		delegations: &DelegationRepository{store: s},
		timers:      &TimerRepository{store: s},
		history:     &HistoryRepository{store: s},
	}
}

func (p *Persistence) Definitions() persistence.DefinitionRepository { return p.definitions }
func (p *Persistence) Instances() persistence.InstanceRepository     { return p.instances }
func (p *Persistence) Tasks() persistence.TaskRepository             { return p.tasks }
func (p *Persistence) Delegations() persistence.DelegationRepository { return p.delegations }
func (p *Persistence) Timers() persistence.TimerRepository           { return p.timers }
func (p *Persistence) History() persistence.HistoryRepository        { return p.history }

func (p *Persistence) HealthCheck(ctx context.Context) error {
	return p.store.ensureRoot()
}

func (p *Persistence) Close(ctx context.Context) error {
	return nil
}

// store serializes all file access for the repositories sharing it.
type store struct {
	root string
	mu   sync.RWMutex
}

func (s *store) ensureRoot() error {
	return os.MkdirAll(s.root, 0o755)
}

func (s *store) path(kind, id string) string {
	return filepath.Join(s.root, kind, id+".json")
}

func (s *store) write(kind, id string, v any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	dir := filepath.Join(s.root, kind)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create %s directory: %w", kind, err)
	}

	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal %s %s: %w", kind, id, err)
	}

	if err := os.WriteFile(s.path(kind, id), data, 0o644); err != nil {
		return fmt.Errorf("failed to write %s %s: %w", kind, id, err)
	}

	return nil
}

// read loads one record; notFound is returned (wrapped) when the file does
// not exist.
func (s *store) read(kind, id string, v any, notFound error) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	data, err := os.ReadFile(s.path(kind, id))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return persistence.NewStorageError("GetByID", kind, id, notFound)
		}

		return fmt.Errorf("failed to read %s %s: %w", kind, id, err)
	}

	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("failed to unmarshal %s %s: %w", kind, id, err)
	}

	return nil
}

// readAll decodes every record of a kind through decode, which receives the
// raw document bytes.
func (s *store) readAll(kind string, decode func(data []byte) error) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	dir := filepath.Join(s.root, kind)

	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}

		return fmt.Errorf("failed to list %s directory: %w", kind, err)
	}

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}

		data, err := os.ReadFile(filepath.Join(dir, entry.Name()))
		if err != nil {
			return fmt.Errorf("failed to read %s record: %w", kind, err)
		}

		if err := decode(data); err != nil {
			return err
		}
	}

	return nil
}

func (s *store) delete(kind, id string, notFound error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	err := os.Remove(s.path(kind, id))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return persistence.NewStorageError("Delete", kind, id, notFound)
		}

		return fmt.Errorf("failed to delete %s %s: %w", kind, id, err)
	}

	return nil
}

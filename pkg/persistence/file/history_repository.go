package file

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/dukex/flowstate/pkg/models"
)

const kindHistory = "history"

// HistoryRepository stores one append-only JSON array per workflow. There is
// deliberately no update or delete path.
type HistoryRepository struct {
	store *store
}

func (r *HistoryRepository) Append(ctx context.Context, entry *models.HistoryEntry) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	dir := filepath.Join(r.store.root, kindHistory)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create history directory: %w", err)
	}

	path := filepath.Join(dir, entry.WorkflowID+".json")

	entries, err := readHistoryFile(path)
	if err != nil {
		return err
	}

	entries = append(entries, entry)

	data, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal history for workflow %s: %w", entry.WorkflowID, err)
	}

	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write history for workflow %s: %w", entry.WorkflowID, err)
	}

	return nil
}

func (r *HistoryRepository) ListByWorkflow(ctx context.Context, workflowID string) ([]*models.HistoryEntry, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	path := filepath.Join(r.store.root, kindHistory, workflowID+".json")

	return readHistoryFile(path)
}

func readHistoryFile(path string) ([]*models.HistoryEntry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return make([]*models.HistoryEntry, 0), nil
		}

		return nil, fmt.Errorf("failed to read history file: %w", err)
	}

	entries := make([]*models.HistoryEntry, 0)
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("failed to unmarshal history file: %w", err)
	}

	return entries, nil
}

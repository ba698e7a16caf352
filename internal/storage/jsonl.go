package db

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/lueurxax/incident-crawler/internal/core/domain"
)

// Auditor persists one discard record.
type Auditor interface {
	Record(ctx context.Context, rec domain.DiscardRecord) error
}

var (
	_ Auditor = (*DB)(nil)
	_ Auditor = (*JSONLAuditor)(nil)
	_ Auditor = MultiAuditor(nil)
)

// JSONLAuditor appends discard records to one JSON-lines file per gate
// under dir. Files are opened lazily and kept open until Close.
type JSONLAuditor struct {
	dir   string
	mu    sync.Mutex
	files map[string]*os.File
}

func NewJSONLAuditor(dir string) *JSONLAuditor {
	return &JSONLAuditor{dir: dir, files: make(map[string]*os.File)}
}

// FileForGate returns the audit file name of gate.
func FileForGate(gate string) string {
	switch gate {
	case domain.GateRelevance:
		return FileRelevanceRejects
	case domain.GateIncident:
		return FileIncidentRejects
	case domain.GateClassification:
		return FileClassificationRejects
	default:
		return FileOtherRejects
	}
}

// Record appends rec as one line to the file of its gate.
func (a *JSONLAuditor) Record(_ context.Context, rec domain.DiscardRecord) error {
	line, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode discard record: %w", err)
	}

	line = append(line, '\n')

	a.mu.Lock()
	defer a.mu.Unlock()

	f, err := a.file(FileForGate(rec.Gate))
	if err != nil {
		return err
	}

	if _, err := f.Write(line); err != nil {
		return fmt.Errorf("append discard record: %w", err)
	}

	return nil
}

func (a *JSONLAuditor) file(name string) (*os.File, error) {
	if f, ok := a.files[name]; ok {
		return f, nil
	}

	if err := os.MkdirAll(a.dir, auditDirPerm); err != nil {
		return nil, fmt.Errorf("create audit dir: %w", err)
	}

	f, err := os.OpenFile(filepath.Join(a.dir, name), os.O_CREATE|os.O_APPEND|os.O_WRONLY, auditFilePerm)
	if err != nil {
		return nil, fmt.Errorf("open audit file: %w", err)
	}

	a.files[name] = f

	return f, nil
}

// Close flushes and closes every open audit file.
func (a *JSONLAuditor) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	var errs []error

	for name, f := range a.files {
		if err := f.Sync(); err != nil {
			errs = append(errs, err)
		}

		if err := f.Close(); err != nil {
			errs = append(errs, err)
		}

		delete(a.files, name)
	}

	return errors.Join(errs...)
}

// MultiAuditor records to every auditor in turn. A failing auditor does not
// stop the others; the errors are joined.
type MultiAuditor []Auditor

func (m MultiAuditor) Record(ctx context.Context, rec domain.DiscardRecord) error {
	var errs []error

	for _, a := range m {
		if err := a.Record(ctx, rec); err != nil {
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}

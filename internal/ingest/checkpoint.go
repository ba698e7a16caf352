package ingest

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/lueurxax/incident-crawler/internal/core/domain"
	apperrors "github.com/lueurxax/incident-crawler/internal/core/errors"
	"github.com/lueurxax/incident-crawler/internal/platform/observability"
)

const (
	checkpointExt     = ".json"
	tempPattern       = ".tmp_state_*.json"
	tempPrefix        = ".tmp_state_"
	basenameTimestamp = "02-01-2006_15-04"
	dirPerm           = 0o755
)

var unsafeBasename = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// CheckpointStore keeps one bound checkpoint file per category under
// <dir>/<category>/<basename>.json.
type CheckpointStore struct {
	dir    string
	mu     sync.Mutex
	bound  map[domain.Category]string
	now    func() time.Time
	logger *zerolog.Logger
}

func NewCheckpointStore(dir string, logger *zerolog.Logger) *CheckpointStore {
	return &CheckpointStore{
		dir:    dir,
		bound:  make(map[domain.Category]string),
		now:    time.Now,
		logger: logger,
	}
}

// SanitizeBasename reduces name to a safe file stem. The ".json" suffix is
// optional on input.
func SanitizeBasename(name string) string {
	name = strings.TrimSuffix(strings.TrimSpace(name), checkpointExt)
	name = unsafeBasename.ReplaceAllString(name, "-")

	return strings.Trim(name, "-")
}

// Bind makes basename the checkpoint of category, replacing any earlier
// binding. An empty or fully unsafe basename gets a timestamped default.
func (s *CheckpointStore) Bind(category domain.Category, basename string) string {
	name := SanitizeBasename(basename)
	if name == "" {
		name = fmt.Sprintf("state_%s_%s", category, s.now().Format(basenameTimestamp))
	}

	s.mu.Lock()
	s.bound[category] = name
	s.mu.Unlock()

	return name
}

// Basename returns the bound basename of category.
func (s *CheckpointStore) Basename(category domain.Category) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	name, ok := s.bound[category]

	return name, ok
}

// Path returns the bound checkpoint path of category.
func (s *CheckpointStore) Path(category domain.Category) (string, error) {
	name, ok := s.Basename(category)
	if !ok {
		return "", fmt.Errorf("category %s is not bound: %w", category, apperrors.ErrNoCheckpoint)
	}

	return filepath.Join(s.dir, string(category), name+checkpointExt), nil
}

// Latest returns the basename of the most recently written checkpoint of
// category.
func (s *CheckpointStore) Latest(category domain.Category) (string, error) {
	dir := filepath.Join(s.dir, string(category))

	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return "", fmt.Errorf("no checkpoints for %s: %w", category, apperrors.ErrNoCheckpoint)
		}

		return "", fmt.Errorf("list checkpoints: %w", err)
	}

	type candidate struct {
		name string
		mod  time.Time
	}

	var found []candidate

	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, checkpointExt) || strings.HasPrefix(name, tempPrefix) {
			continue
		}

		info, err := e.Info()
		if err != nil {
			continue
		}

		found = append(found, candidate{name: strings.TrimSuffix(name, checkpointExt), mod: info.ModTime()})
	}

	if len(found) == 0 {
		return "", fmt.Errorf("no checkpoints for %s: %w", category, apperrors.ErrNoCheckpoint)
	}

	sort.Slice(found, func(i, j int) bool {
		if !found[i].mod.Equal(found[j].mod) {
			return found[i].mod.After(found[j].mod)
		}

		return found[i].name > found[j].name
	})

	return found[0].name, nil
}

// Init writes the initial state of a run to the bound file.
func (s *CheckpointStore) Init(category domain.Category, params Params, keywords []string) (*RunState, error) {
	st := NewRunState(category, params, keywords)
	if err := s.Save(st); err != nil {
		return nil, err
	}

	return st, nil
}

// Save atomically writes st to the bound file of its category.
func (s *CheckpointStore) Save(st *RunState) error {
	path, err := s.Path(st.Category)
	if err != nil {
		return err
	}

	st.Version = SchemaVersion
	st.LastSavedAt = s.now().UTC()

	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return fmt.Errorf("encode checkpoint: %w", err)
	}

	if err := writeAtomic(path, data); err != nil {
		return err
	}

	observability.CheckpointWrites.WithLabelValues(string(st.Category), string(st.Status)).Inc()
	s.logger.Debug().
		Str(LogFieldCategory, string(st.Category)).
		Str(LogFieldStatus, string(st.Status)).
		Int(LogFieldRemaining, len(st.RemainingKeywords)).
		Msg("checkpoint saved")

	return nil
}

// Load reads the bound checkpoint of category. A missing file is
// ErrNoCheckpoint; an undecodable one, or one of another schema version, is
// ErrCorruptCheckpoint.
func (s *CheckpointStore) Load(category domain.Category) (*RunState, error) {
	path, err := s.Path(category)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%s: %w", path, apperrors.ErrNoCheckpoint)
		}

		return nil, fmt.Errorf("read checkpoint: %w", err)
	}

	var st RunState
	if err := json.Unmarshal(data, &st); err != nil {
		return nil, fmt.Errorf("%s: %w: %w", path, apperrors.ErrCorruptCheckpoint, err)
	}

	if st.Version != SchemaVersion {
		return nil, fmt.Errorf("%s: version %d: %w", path, st.Version, apperrors.ErrCorruptCheckpoint)
	}

	if st.Category != category {
		return nil, fmt.Errorf("%s: category %q: %w", path, st.Category, apperrors.ErrCorruptCheckpoint)
	}

	st.normalize()

	return &st, nil
}

// Patch loads the bound checkpoint, applies mutate and saves it back.
func (s *CheckpointStore) Patch(category domain.Category, mutate func(st *RunState)) (*RunState, error) {
	st, err := s.Load(category)
	if err != nil {
		return nil, err
	}

	mutate(st)

	if err := s.Save(st); err != nil {
		return nil, err
	}

	return st, nil
}

// MarkError saves st as paused with the given failure.
func (s *CheckpointStore) MarkError(st *RunState, lastErr LastError) error {
	st.Status = StatusError
	st.LastError = &lastErr

	return s.Save(st)
}

// MarkCompleted saves st as finished.
func (s *CheckpointStore) MarkCompleted(st *RunState) error {
	st.Status = StatusCompleted
	st.CurrentKeyword = ""
	st.LastError = nil

	return s.Save(st)
}

// Clear removes the bound checkpoint file of category. A missing file is
// not an error.
func (s *CheckpointStore) Clear(category domain.Category) error {
	path, err := s.Path(category)
	if err != nil {
		return err
	}

	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove checkpoint: %w", err)
	}

	return nil
}

// writeAtomic writes data next to path and renames it into place, so readers
// see either the old file or the new one.
func writeAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, dirPerm); err != nil {
		return fmt.Errorf("create checkpoint dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, tempPattern)
	if err != nil {
		return fmt.Errorf("create temp checkpoint: %w", err)
	}

	tmpName := tmp.Name()

	cleanup := func() {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
	}

	if _, err := tmp.Write(data); err != nil {
		cleanup()
		return fmt.Errorf("write temp checkpoint: %w", err)
	}

	if err := tmp.Sync(); err != nil {
		cleanup()
		return fmt.Errorf("sync temp checkpoint: %w", err)
	}

	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("close temp checkpoint: %w", err)
	}

	if err := os.Rename(tmpName, path); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("rename checkpoint: %w", err)
	}

	return nil
}

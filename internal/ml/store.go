package ml

import (
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/rs/zerolog"

	"signal-scorer/internal/features"
)

const (
	fileA         = "predictor_a.json"
	fileB         = "predictor_b.json"
	fileNorm      = "normalizer.json"
	fileMeta      = "metadata.json"
	currentFile   = "CURRENT"
	storeDirPerm  = 0o755
	storeFilePerm = 0o644
)

// ModelStore persists model generations under a root directory. Each
// generation is a subdirectory named by its version holding the four artifact
// files; the CURRENT file at the root names the live generation and is
// replaced atomically, so readers observe either the old generation or the
// new one, never a mix.
type ModelStore struct {
	root string
	log  zerolog.Logger
}

// NewModelStore opens (creating if needed) a store rooted at dir.
func NewModelStore(dir string, log zerolog.Logger) (*ModelStore, error) {
	if err := os.MkdirAll(dir, storeDirPerm); err != nil {
		return nil, fmt.Errorf("model store: %w", err)
	}
	return &ModelStore{root: dir, log: log.With().Str("component", "model_store").Logger()}, nil
}

// Save writes the artifact as a new generation and flips CURRENT to it. The
// generation directory is fully written before the pointer moves; a crash
// mid-save leaves CURRENT on the previous generation.
func (s *ModelStore) Save(art *Artifact) error {
	dir := filepath.Join(s.root, art.Version)
	if err := os.MkdirAll(dir, storeDirPerm); err != nil {
		return fmt.Errorf("model store: create generation dir: %w", err)
	}

	parts := []struct {
		name string
		v    interface{}
	}{
		{fileA, art.A},
		{fileB, art.B},
		{fileNorm, art.Normalizer.State()},
		{fileMeta, art.Meta},
	}
	for _, p := range parts {
		if err := writeJSON(filepath.Join(dir, p.name), p.v); err != nil {
			return fmt.Errorf("model store: write %s: %w", p.name, err)
		}
	}

	if err := s.setCurrent(art.Version); err != nil {
		return err
	}
	s.log.Info().Str("version", art.Version).Str("dir", dir).Msg("model generation saved")
	return nil
}

// LoadCurrent loads the generation CURRENT points at. Returns fs.ErrNotExist
// when the store holds no model yet, and ErrIncompleteArtifact when the
// generation directory is missing some of its files.
func (s *ModelStore) LoadCurrent() (*Artifact, error) {
	raw, err := os.ReadFile(filepath.Join(s.root, currentFile))
	if err != nil {
		return nil, err
	}
	version := strings.TrimSpace(string(raw))
	if version == "" {
		return nil, fmt.Errorf("model store: %w: empty CURRENT pointer", ErrIncompleteArtifact)
	}
	return s.Load(version)
}

// Load reads one generation by version.
func (s *ModelStore) Load(version string) (*Artifact, error) {
	dir := filepath.Join(s.root, version)

	missing := 0
	for _, name := range []string{fileA, fileB, fileNorm, fileMeta} {
		if _, err := os.Stat(filepath.Join(dir, name)); err != nil {
			missing++
		}
	}
	if missing == 4 {
		return nil, fmt.Errorf("model store: generation %s: %w", version, fs.ErrNotExist)
	}
	if missing > 0 {
		return nil, fmt.Errorf("model store: generation %s is missing %d of 4 files: %w", version, missing, ErrIncompleteArtifact)
	}

	art := &Artifact{Version: version, A: &Boost{}, B: &Boost{}}
	var normState features.NormalizerState

	parts := []struct {
		name string
		v    interface{}
	}{
		{fileA, art.A},
		{fileB, art.B},
		{fileNorm, &normState},
		{fileMeta, &art.Meta},
	}
	for _, p := range parts {
		if err := readJSON(filepath.Join(dir, p.name), p.v); err != nil {
			return nil, fmt.Errorf("model store: read %s: %w", p.name, err)
		}
	}

	if !art.A.Trained() || !art.B.Trained() {
		return nil, fmt.Errorf("model store: generation %s: %w: predictor has no trees", version, ErrIncompleteArtifact)
	}
	art.Normalizer = features.RestoreNormalizer(normState)
	return art, nil
}

// Versions lists stored generations, oldest first.
func (s *ModelStore) Versions() ([]string, error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, e := range entries {
		if e.IsDir() {
			out = append(out, e.Name())
		}
	}
	sort.Strings(out)
	return out, nil
}

// setCurrent replaces the CURRENT pointer via temp file and rename.
func (s *ModelStore) setCurrent(version string) error {
	tmp := filepath.Join(s.root, currentFile+".tmp")
	if err := os.WriteFile(tmp, []byte(version+"\n"), storeFilePerm); err != nil {
		return fmt.Errorf("model store: write current pointer: %w", err)
	}
	if err := os.Rename(tmp, filepath.Join(s.root, currentFile)); err != nil {
		return fmt.Errorf("model store: swap current pointer: %w", err)
	}
	return nil
}

func writeJSON(path string, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, storeFilePerm)
}

func readJSON(path string, v interface{}) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, v)
}

package fit

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/afero"
)

const (
	structureSuffix = ".json"
	weightsSuffix   = ".hdf5"
)

// Persister saves a model snapshot.
type Persister interface {
	Persist(model Serializer) error
}

// FilePersister writes {Path}.json (structure) and {Path}.hdf5 (weights).
// Both files are truncated and rewritten on every call. Writes are not
// atomic: a failure between the two leaves a mismatched pair on disk.
type FilePersister struct {
	Fs   afero.Fs
	Path string
}

// NewFilePersister returns a FilePersister over fs, defaulting to the OS filesystem.
func NewFilePersister(fs afero.Fs, path string) *FilePersister {
	if fs == nil {
		fs = afero.NewOsFs()
	}
	return &FilePersister{Fs: fs, Path: path}
}

// StructurePath is the file the structure description is written to.
func (p *FilePersister) StructurePath() string { return p.Path + structureSuffix }

// WeightsPath is the file the weights are written to.
func (p *FilePersister) WeightsPath() string { return p.Path + weightsSuffix }

// Persist writes the model's structure description and then its weights.
func (p *FilePersister) Persist(model Serializer) error {
	if p.Path == "" {
		return fmt.Errorf("persist: empty save path")
	}
	if dir := filepath.Dir(p.Path); dir != "." && dir != "" {
		if err := p.Fs.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("persist: creating %s: %w", dir, err)
		}
	}

	structure, err := model.StructureJSON()
	if err != nil {
		return fmt.Errorf("persist: serializing structure: %w", err)
	}
	if err := afero.WriteFile(p.Fs, p.StructurePath(), structure, 0o644); err != nil {
		return fmt.Errorf("persist: writing %s: %w", p.StructurePath(), err)
	}

	f, err := p.Fs.OpenFile(p.WeightsPath(), os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("persist: opening %s: %w", p.WeightsPath(), err)
	}
	if err := model.WriteWeights(f); err != nil {
		_ = f.Close()
		return fmt.Errorf("persist: writing %s: %w", p.WeightsPath(), err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("persist: closing %s: %w", p.WeightsPath(), err)
	}
	return nil
}

package fs

import (
	"context"
	"os"
	"path/filepath"

	jsoniter "github.com/json-iterator/go"

	"github.com/bft-labs/boardlink/internal/domain"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const statusFileName = "status.json"

// StatusFile implements ports.StatusRepository with a JSON file that is
// replaced atomically on every save.
type StatusFile struct {
	dir string
}

// NewStatusFile creates a repository writing into dir.
func NewStatusFile(dir string) *StatusFile {
	return &StatusFile{dir: dir}
}

// Load reads the last snapshot. A missing file yields a zero snapshot.
func (r *StatusFile) Load(ctx context.Context) (domain.HubStatus, error) {
	data, err := os.ReadFile(r.Path())
	if err != nil {
		if os.IsNotExist(err) {
			return domain.HubStatus{}, nil
		}
		return domain.HubStatus{}, err
	}

	var st domain.HubStatus
	if err := json.Unmarshal(data, &st); err != nil {
		return domain.HubStatus{}, err
	}
	return st, nil
}

// Save writes to a temp file and renames it over the old snapshot.
func (r *StatusFile) Save(ctx context.Context, st domain.HubStatus) error {
	if err := os.MkdirAll(r.dir, 0o700); err != nil {
		return err
	}
	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return err
	}

	path := r.Path()
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// Path returns the full path of the status file.
func (r *StatusFile) Path() string {
	return filepath.Join(r.dir, statusFileName)
}

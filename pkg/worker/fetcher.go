package worker

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	commonerrors "github.com/S-Corkum/remstore/pkg/common/errors"
)

// FSFetcher resolves storage paths against a local data root, for
// deployments where the object store is mounted as a filesystem
type FSFetcher struct {
	Root string
}

// Fetch implements ObjectFetcher
func (f *FSFetcher) Fetch(_ context.Context, objectPath string) ([]byte, error) {
	clean := filepath.Clean(objectPath)
	if strings.HasPrefix(clean, "..") || filepath.IsAbs(clean) {
		return nil, commonerrors.Newf("worker", "Fetch", commonerrors.KindValidation,
			"path escapes data root: %s", objectPath)
	}
	body, err := os.ReadFile(filepath.Join(f.Root, clean))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, commonerrors.New("worker", "Fetch", commonerrors.KindNotFound, err)
		}
		return nil, commonerrors.New("worker", "Fetch", commonerrors.KindTransient, err)
	}
	return body, nil
}

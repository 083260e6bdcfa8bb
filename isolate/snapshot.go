package isolate

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	esbuild "github.com/evanw/esbuild/pkg/api"
)

// Snapshot is compiled script ready to be evaluated into a context. It is
// immutable and shared by every isolate of a group.
type Snapshot struct {
	Path          string
	NativeLibrary string
	Source        string
}

// LoadSnapshot reads the script at path and compiles it down to ES2020 so
// both engines accept it. A non-empty nativeLibrary must exist on disk.
// Failures wrap ErrSnapshotLoad.
func LoadSnapshot(path, nativeLibrary string) (*Snapshot, error) {
	if path == "" {
		return nil, fmt.Errorf("%w: no snapshot path", ErrSnapshotLoad)
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSnapshotLoad, err)
	}
	if nativeLibrary != "" {
		if _, err := os.Stat(nativeLibrary); err != nil {
			return nil, fmt.Errorf("%w: native library: %v", ErrSnapshotLoad, err)
		}
	}

	result := esbuild.Transform(string(raw), esbuild.TransformOptions{
		Loader:     esbuild.LoaderJS,
		Target:     esbuild.ES2020,
		Sourcefile: filepath.Base(path),
	})
	if len(result.Errors) > 0 {
		msgs := make([]string, 0, len(result.Errors))
		for _, e := range result.Errors {
			msgs = append(msgs, e.Text)
		}
		return nil, fmt.Errorf("%w: %s: %s", ErrSnapshotLoad, path, strings.Join(msgs, "; "))
	}

	return &Snapshot{
		Path:          path,
		NativeLibrary: nativeLibrary,
		Source:        string(result.Code),
	}, nil
}

// IsSnapshotError reports whether err came from LoadSnapshot.
func IsSnapshotError(err error) bool {
	return errors.Is(err, ErrSnapshotLoad)
}

package labels

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/h2non/filetype"
)

const (
	frameExt     = ".png"
	frameFormat  = "images%04d.png"
	pngExtension = "png"
)

// FrameNames returns n sequential frame names under prefixedName, 1-indexed.
func FrameNames(prefixedName string, n int) []string {
	out := make([]string, 0, n)
	for i := 1; i <= n; i++ {
		out = append(out, prefixedName+"/"+fmt.Sprintf(frameFormat, i))
	}
	return out
}

// FrameCounter counts extracted frames in a sample directory.
type FrameCounter struct {
	// VerifyContent additionally requires PNG magic bytes for every frame.
	VerifyContent bool
}

// Count returns the number of frames in dir. found is false when the
// directory does not exist.
func (c FrameCounter) Count(dir string) (n int, found bool, err error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return 0, false, nil
		}
		return 0, false, fmt.Errorf("read frame dir %q: %w", dir, err)
	}

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), frameExt) {
			continue
		}
		if c.VerifyContent {
			ok, err := isPNG(filepath.Join(dir, entry.Name()))
			if err != nil {
				return 0, true, err
			}
			if !ok {
				continue
			}
		}
		n++
	}
	return n, true, nil
}

// Exists reports whether dir is an existing directory.
func (c FrameCounter) Exists(dir string) (bool, error) {
	info, err := os.Stat(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, fmt.Errorf("stat frame dir %q: %w", dir, err)
	}
	return info.IsDir(), nil
}

func isPNG(path string) (bool, error) {
	kind, err := filetype.MatchFile(path)
	if err != nil {
		return false, fmt.Errorf("sniff frame %q: %w", path, err)
	}
	return kind.Extension == pngExtension, nil
}

package archive

import (
	"archive/zip"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/akhmedovh4mid/AntiDetectedMobileBrowser/internal/config"
)

// Archiver files finished captures under the permanent output tree.
type Archiver struct {
	cfg    config.ArchiveConfig
	logger *zap.Logger
}

func NewArchiver(cfg config.ArchiveConfig, logger *zap.Logger) *Archiver {
	return &Archiver{cfg: cfg, logger: logger.Named("archiver")}
}

// Store files srcDir as the next numbered slot under the region's output
// root: <output>/<region>/<N>/ with a sibling <N>.zip when zipping is on.
// The zip is written before the source is moved or removed; a failed zip
// leaves the staging directory untouched so the capture is never lost.
// With RemoveSource set the staging directory is consumed and only the
// zip remains.
func (a *Archiver) Store(srcDir, region string) (folderPath, zipPath string, err error) {
	if _, err := os.Stat(srcDir); err != nil {
		return "", "", fmt.Errorf("staging dir: %w", err)
	}

	regionRoot := filepath.Join(a.cfg.OutputDir, region)
	if err := os.MkdirAll(regionRoot, 0o755); err != nil {
		return "", "", fmt.Errorf("creating region root: %w", err)
	}

	slot := nextSlot(regionRoot)
	base := filepath.Join(regionRoot, strconv.Itoa(slot))

	if a.cfg.MakeZip {
		zipPath = base + ".zip"
		if err := zipDirectory(srcDir, zipPath); err != nil {
			os.Remove(zipPath)
			return "", "", fmt.Errorf("zipping capture: %w", err)
		}
	}

	if a.cfg.RemoveSource {
		if err := os.RemoveAll(srcDir); err != nil {
			a.logger.Warn("Staging dir not removed", zap.String("dir", srcDir), zap.Error(err))
		}
		a.logger.Info("Capture archived",
			zap.String("region", region),
			zap.Int("slot", slot),
			zap.String("zip", zipPath),
		)
		return "", zipPath, nil
	}

	folderPath = base
	if err := moveDir(srcDir, folderPath); err != nil {
		return "", zipPath, fmt.Errorf("moving capture into place: %w", err)
	}

	a.logger.Info("Capture archived",
		zap.String("region", region),
		zap.Int("slot", slot),
		zap.String("folder", folderPath),
		zap.String("zip", zipPath),
	)
	return folderPath, zipPath, nil
}

// nextSlot returns one past the highest numeric directory name under root.
// Non-numeric entries and files are ignored; gaps are not reused.
func nextSlot(root string) int {
	entries, err := os.ReadDir(root)
	if err != nil {
		return 1
	}
	max := 0
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		n, err := strconv.Atoi(entry.Name())
		if err != nil || n <= 0 {
			continue
		}
		if n > max {
			max = n
		}
	}
	return max + 1
}

// zipDirectory writes srcDir's contents into a zip at dst, with the
// directory's own files at the archive root.
func zipDirectory(srcDir, dst string) error {
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	zw := zip.NewWriter(out)

	walkErr := filepath.WalkDir(srcDir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(srcDir, p)
		if err != nil {
			return err
		}
		w, err := zw.Create(filepath.ToSlash(rel))
		if err != nil {
			return err
		}
		f, err := os.Open(p)
		if err != nil {
			return err
		}
		defer f.Close()
		_, err = io.Copy(w, f)
		return err
	})

	if walkErr != nil {
		zw.Close()
		out.Close()
		return walkErr
	}
	if err := zw.Close(); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

// moveDir renames src to dst, falling back to a copy when the rename
// crosses filesystems.
func moveDir(src, dst string) error {
	if err := os.Rename(src, dst); err == nil {
		return nil
	} else if !isCrossDevice(err) {
		return err
	}
	if err := copyTree(src, dst); err != nil {
		return err
	}
	return os.RemoveAll(src)
}

func isCrossDevice(err error) bool {
	var linkErr *os.LinkError
	if !errors.As(err, &linkErr) {
		return false
	}
	return strings.Contains(linkErr.Err.Error(), "cross-device")
}

func copyTree(src, dst string) error {
	return filepath.WalkDir(src, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, p)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)
		if d.IsDir() {
			return os.MkdirAll(target, 0o755)
		}
		in, err := os.Open(p)
		if err != nil {
			return err
		}
		defer in.Close()
		out, err := os.Create(target)
		if err != nil {
			return err
		}
		if _, err := io.Copy(out, in); err != nil {
			out.Close()
			return err
		}
		return out.Close()
	})
}

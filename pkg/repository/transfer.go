package repository

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/golang/glog"

	"github.com/openkim/KIMkit/pkg/archive"
	"github.com/openkim/KIMkit/pkg/kimerr"
	"github.com/openkim/KIMkit/pkg/kimspec"
)

// Export writes an item version as a gzipped tarball. A portable model
// that runs on a model driver is bundled together with the driver, so
// the exported archive is self-contained.
func (r *Repository) Export(code string, w io.Writer) error {
	dir, err := r.itemDir(code)
	if err != nil {
		return err
	}
	record, err := kimspec.LoadDir(dir)
	if err != nil {
		return err
	}

	if record.ModelDriver == "" {
		return archive.CreateTarball(dir, w, code)
	}

	driverDir, err := r.itemDir(record.ModelDriver)
	if err != nil {
		return fmt.Errorf("export %s: driver %s: %w", code, record.ModelDriver, err)
	}

	bundle, err := r.newStaging("export")
	if err != nil {
		return err
	}
	defer os.RemoveAll(bundle)

	for _, pair := range []struct{ src, name string }{
		{dir, code},
		{driverDir, record.ModelDriver},
	} {
		dst := filepath.Join(bundle, pair.name)
		if err := os.Mkdir(dst, 0o755); err != nil {
			return fmt.Errorf("export %s: %w", code, err)
		}
		if err := copyDir(pair.src, dst); err != nil {
			return fmt.Errorf("export %s: %w", code, err)
		}
	}
	return archive.CreateTarball(bundle, w, code)
}

// Install copies an item version into a simulator collection directory
// and builds it. A portable model's driver is installed first, since
// the model cannot compile without it.
func (r *Repository) Install(ctx context.Context, code, collectionDir string) error {
	if r.builder == nil {
		return fmt.Errorf("install %s: no builder configured", code)
	}
	dir, err := r.itemDir(code)
	if err != nil {
		return err
	}
	record, err := kimspec.LoadDir(dir)
	if err != nil {
		return err
	}
	if record.ModelDriver != "" {
		if err := r.Install(ctx, record.ModelDriver, collectionDir); err != nil {
			return fmt.Errorf("install driver for %s: %w", code, err)
		}
	}

	dest := filepath.Join(collectionDir, code)
	if _, err := os.Stat(dest); err == nil {
		glog.Infof("%s already present in %s, rebuilding", code, collectionDir)
	} else if !os.IsNotExist(err) {
		return err
	} else {
		if err := os.MkdirAll(dest, 0o755); err != nil {
			return fmt.Errorf("install %s: %w", code, err)
		}
		if err := copyDir(dir, dest); err != nil {
			return fmt.Errorf("install %s: %w", code, err)
		}
	}

	if record.ItemType == "" {
		return fmt.Errorf("%w: %s has no kim-item-type", kimerr.ErrInvalidItemType, code)
	}
	if err := r.builder.Build(ctx, dest, record.ItemType); err != nil {
		return err
	}
	glog.Infof("installed %s into %s", code, collectionDir)
	return nil
}

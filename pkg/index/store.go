// Package index maintains the secondary search index: a relational
// mirror of every item version's metadata, rebuilt from the repository
// at will. The repository's directory tree stays the source of truth;
// rows here exist only so queries do not have to walk it.
package index

import (
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/golang/glog"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/openkim/KIMkit/pkg/kimcode"
	"github.com/openkim/KIMkit/pkg/kimerr"
	"github.com/openkim/KIMkit/pkg/kimspec"
)

// Store provides database operations over the item mirror.
type Store struct {
	db             *gorm.DB
	repositoryRoot string
}

// Open connects to the index database at the given path, creating it
// if needed. ":memory:" gives an ephemeral index.
func Open(databasePath string) (*gorm.DB, error) {
	db, err := gorm.Open(sqlite.Open(databasePath), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open index database: %w", err)
	}
	return db, nil
}

// NewStore creates a Store mirroring the repository rooted at
// repositoryRoot.
func NewStore(db *gorm.DB, repositoryRoot string) *Store {
	return &Store{db: db, repositoryRoot: repositoryRoot}
}

// AutoMigrate creates or updates the items table.
func (s *Store) AutoMigrate() error {
	return s.db.AutoMigrate(&ItemRow{})
}

// Upsert reads the item's metadata from the repository and writes its
// row, then recomputes the lineage's latest flag.
func (s *Store) Upsert(extendedID string) error {
	dir, err := kimcode.Path(extendedID, s.repositoryRoot)
	if err != nil {
		return err
	}
	record, err := kimspec.LoadDir(dir)
	if err != nil {
		return err
	}
	row, err := rowFromRecord(record)
	if err != nil {
		return err
	}
	if err := s.db.Save(row).Error; err != nil {
		return fmt.Errorf("upsert %s: %w", extendedID, err)
	}
	return s.MarkLatest(row.Number)
}

// MarkLatest sets the latest flag on the highest indexed version of the
// lineage and clears it everywhere else.
func (s *Store) MarkLatest(number string) error {
	var top ItemRow
	err := s.db.Where("number = ?", number).Order("version desc").First(&top).Error
	if err == gorm.ErrRecordNotFound {
		return nil
	}
	if err != nil {
		return fmt.Errorf("mark latest %s: %w", number, err)
	}
	tx := s.db.Model(&ItemRow{}).Where("number = ?", number).
		Update("latest", gorm.Expr("version = ?", top.Version))
	if tx.Error != nil {
		return fmt.Errorf("mark latest %s: %w", number, tx.Error)
	}
	return nil
}

// FindByKimcode returns the row for an extended kimcode, or nil.
func (s *Store) FindByKimcode(extendedID string) (*ItemRow, error) {
	var row ItemRow
	if err := s.db.Where("extended_id = ?", extendedID).First(&row).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("find %s: %w", extendedID, err)
	}
	return &row, nil
}

// FindLineage returns every indexed version of a lineage, oldest first.
func (s *Store) FindLineage(number string) ([]ItemRow, error) {
	var rows []ItemRow
	if err := s.db.Where("number = ?", number).Order("version asc").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("find lineage %s: %w", number, err)
	}
	return rows, nil
}

// Query lists items matching the filter. Unless AllVersions is set only
// the latest version of each lineage is returned.
func (s *Store) Query(f Filter) ([]ItemRow, error) {
	tx := s.db.Model(&ItemRow{})
	if !f.AllVersions {
		tx = tx.Where("latest = ?", true)
	}
	if f.ItemType != "" {
		tx = tx.Where("item_type = ?", f.ItemType)
	}
	if f.Number != "" {
		tx = tx.Where("number = ?", f.Number)
	}
	if f.Prefix != "" {
		tx = tx.Where("prefix = ?", f.Prefix)
	}
	if f.Contributor != "" {
		tx = tx.Where("contributor = ?", f.Contributor)
	}
	if f.Maintainer != "" {
		tx = tx.Where("maintainer = ?", f.Maintainer)
	}
	if f.Driver != "" {
		c, err := kimcode.Parse(f.Driver)
		if err != nil {
			return nil, err
		}
		tx = tx.Where("driver_number = ?", c.Number)
	}
	var rows []ItemRow
	if err := tx.Order("extended_id asc").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("query items: %w", err)
	}
	return rows, nil
}

// DriverDependents lists the latest items built on any version of the
// given model driver.
func (s *Store) DriverDependents(driverCode string) ([]ItemRow, error) {
	return s.Query(Filter{Driver: driverCode})
}

// Delete removes the row for an extended kimcode and recomputes the
// lineage's latest flag.
func (s *Store) Delete(extendedID string) error {
	c, err := kimcode.Parse(extendedID)
	if err != nil {
		return err
	}
	if err := s.db.Where("extended_id = ?", extendedID).Delete(&ItemRow{}).Error; err != nil {
		return fmt.Errorf("delete %s: %w", extendedID, err)
	}
	return s.MarkLatest(c.Number)
}

// Rebuild drops every row and re-mirrors the whole repository by
// walking it for kimspec files. Items whose metadata fails to load are
// logged and skipped so one bad directory does not block the rest.
func (s *Store) Rebuild() (int, error) {
	if err := s.db.Where("1 = 1").Delete(&ItemRow{}).Error; err != nil {
		return 0, fmt.Errorf("clear index: %w", err)
	}
	count := 0
	err := filepath.WalkDir(s.repositoryRoot, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || d.Name() != kimspec.SpecFileName {
			return nil
		}
		record, err := kimspec.LoadDir(filepath.Dir(path))
		if err != nil {
			glog.Errorf("index rebuild: skipping %s: %v", path, err)
			return nil
		}
		row, err := rowFromRecord(record)
		if err != nil {
			glog.Errorf("index rebuild: skipping %s: %v", path, err)
			return nil
		}
		if err := s.db.Save(row).Error; err != nil {
			return fmt.Errorf("index %s: %w", row.ExtendedID, err)
		}
		count++
		return nil
	})
	if err != nil {
		if os.IsNotExist(err) {
			return 0, fmt.Errorf("%w: repository root %s", kimerr.ErrItemNotFound, s.repositoryRoot)
		}
		return count, err
	}

	var numbers []string
	if err := s.db.Model(&ItemRow{}).Distinct("number").Pluck("number", &numbers).Error; err != nil {
		return count, fmt.Errorf("list lineages: %w", err)
	}
	for _, n := range numbers {
		if err := s.MarkLatest(n); err != nil {
			return count, err
		}
	}
	return count, nil
}

func rowFromRecord(record *kimspec.Record) (*ItemRow, error) {
	c, err := kimcode.Parse(record.ExtendedID)
	if err != nil {
		return nil, err
	}
	if !c.HasVersion {
		return nil, fmt.Errorf("%w: %q has no version", kimerr.ErrInvalidIdentifier, record.ExtendedID)
	}
	shortID, err := kimcode.ShortID(record.ExtendedID)
	if err != nil {
		return nil, err
	}

	driverNumber := ""
	if record.ModelDriver != "" {
		dc, err := kimcode.Parse(record.ModelDriver)
		if err != nil {
			return nil, fmt.Errorf("model-driver reference: %w", err)
		}
		driverNumber = dc.Number
	}

	blob, err := json.Marshal(record.ToMap())
	if err != nil {
		return nil, fmt.Errorf("encode metadata: %w", err)
	}

	return &ItemRow{
		ExtendedID:   record.ExtendedID,
		ShortID:      shortID,
		Prefix:       c.Name,
		Typecode:     strings.ToLower(c.Leader),
		ItemType:     string(record.ItemType),
		Number:       c.Number,
		Version:      c.Version,
		Title:        record.Title,
		Contributor:  record.ContributorID,
		Maintainer:   record.MaintainerID,
		ModelDriver:  record.ModelDriver,
		DriverNumber: driverNumber,
		SpecJSON:     string(blob),
		InsertedAt:   time.Now().UTC(),
	}, nil
}

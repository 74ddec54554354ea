package repository

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"context"
	"os"
	"path/filepath"
	"regexp"
	"testing"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/openkim/KIMkit/pkg/archive"
	"github.com/openkim/KIMkit/pkg/build"
	"github.com/openkim/KIMkit/pkg/index"
	"github.com/openkim/KIMkit/pkg/kimcode"
	"github.com/openkim/KIMkit/pkg/kimerr"
	"github.com/openkim/KIMkit/pkg/provenance"
	"github.com/openkim/KIMkit/pkg/users"
)

// testRepo bundles everything a lifecycle scenario needs.
type testRepo struct {
	repo    *Repository
	cfg     *Config
	gate    *users.Gate
	store   *users.Store
	index   *index.Store
	builder *build.NoopBuilder
	ada     string // registered acting user's UUID
}

func setupTestRepo(t *testing.T) *testRepo {
	t.Helper()
	root := t.TempDir()
	cfg := &Config{
		RepositoryPath: filepath.Join(root, "repository"),
		EditorsFile:    filepath.Join(root, "editors.txt"),
		DatabasePath:   filepath.Join(root, "kimkit.db"),
		StagingDir:     filepath.Join(root, "staging"),
	}
	require.NoError(t, cfg.EnsureLayout())

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	store := users.NewStore(db)
	require.NoError(t, store.AutoMigrate())

	gate := users.NewGateAs(store, cfg.EditorsFile, "ada")
	ada, err := gate.AddSelf("Ada Lovelace")
	require.NoError(t, err)

	idxDB, err := index.Open(":memory:")
	require.NoError(t, err)
	idx := index.NewStore(idxDB, cfg.RepositoryPath)
	require.NoError(t, idx.AutoMigrate())

	builder := &build.NoopBuilder{}
	return &testRepo{
		repo:    New(cfg, gate, idx, builder),
		cfg:     cfg,
		gate:    gate,
		store:   store,
		index:   idx,
		builder: builder,
		ada:     ada,
	}
}

// as returns a Repository acting as another OS username, sharing the
// same stores and editors file.
func (tr *testRepo) as(t *testing.T, username string) (*Repository, *users.Gate) {
	t.Helper()
	gate := users.NewGateAs(tr.store, tr.cfg.EditorsFile, username)
	return New(tr.cfg, gate, tr.index, tr.builder), gate
}

func itemTarball(t *testing.T, files map[string]string) *bytes.Reader {
	t.Helper()
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gz)
	for name, content := range files {
		require.NoError(t, tw.WriteHeader(&tar.Header{
			Name: name, Typeflag: tar.TypeReg, Mode: 0o644, Size: int64(len(content)),
		}))
		_, err := tw.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, tw.Close())
	require.NoError(t, gz.Close())
	return bytes.NewReader(buf.Bytes())
}

func driverMetadata(developer string) map[string]any {
	return map[string]any{
		"description":     "A pair potential driver.",
		"developer":       []string{developer},
		"implementer":     []string{developer},
		"kim-api-version": "2.3.0",
		"license":         "CDDL-1.0",
		"title":           "Pair potential driver",
	}
}

func modelMetadata(developer, driver string) map[string]any {
	m := map[string]any{
		"description":     "A fitted pair potential.",
		"developer":       []string{developer},
		"implementer":     []string{developer},
		"kim-api-version": "2.3.0",
		"license":         "CDDL-1.0",
		"potential-type":  "lj",
		"species":         []string{"Ar"},
		"title":           "Fitted pair potential",
	}
	if driver != "" {
		m["model-driver"] = driver
	}
	return m
}

func TestImportCreatesVersionZero(t *testing.T) {
	tr := setupTestRepo(t)

	code, err := tr.repo.Import(
		itemTarball(t, map[string]string{"driver.f90": "subroutine pair\nend"}),
		"Foo", kimcode.ModelDriver, driverMetadata(tr.ada), "first import")
	require.NoError(t, err)
	assert.Regexp(t, regexp.MustCompile(`^Foo__MD_\d{12}_000$`), code)

	dir, err := kimcode.Path(code, tr.cfg.RepositoryPath)
	require.NoError(t, err)
	for _, name := range []string{"driver.f90", "kimspec.json", "kimprovenance.json"} {
		_, err := os.Stat(filepath.Join(dir, name))
		assert.NoError(t, err, name)
	}

	entries, err := provenance.Load(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, provenance.EventInitialCreation, entries[0].EventType)
	assert.Equal(t, code, entries[0].ExtendedID)
	assert.Equal(t, tr.ada, entries[0].UserID)
	assert.Equal(t, "first import", entries[0].Comments)

	row, err := tr.index.FindByKimcode(code)
	require.NoError(t, err)
	require.NotNil(t, row)
	assert.True(t, row.Latest)
}

func TestImportWithIdentifierUsesCallerCode(t *testing.T) {
	tr := setupTestRepo(t)
	code := "Foo__MD_555500001111_000"

	require.NoError(t, tr.repo.ImportWithIdentifier(
		itemTarball(t, map[string]string{"driver.f90": "reserved"}),
		code, driverMetadata(tr.ada), "reserved import"))

	dir, err := kimcode.Path(code, tr.cfg.RepositoryPath)
	require.NoError(t, err)
	content, err := os.ReadFile(filepath.Join(dir, "driver.f90"))
	require.NoError(t, err)
	assert.Equal(t, "reserved", string(content))

	entries, err := provenance.Load(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, provenance.EventInitialCreation, entries[0].EventType)
	assert.Equal(t, code, entries[0].ExtendedID)

	row, err := tr.index.FindByKimcode(code)
	require.NoError(t, err)
	require.NotNil(t, row)
	assert.True(t, row.Latest)
}

func TestImportWithIdentifierRejectsTakenCode(t *testing.T) {
	tr := setupTestRepo(t)
	code := "Foo__MD_555500001111_000"
	require.NoError(t, tr.repo.ImportWithIdentifier(
		itemTarball(t, map[string]string{"driver.f90": "original"}),
		code, driverMetadata(tr.ada), ""))

	err := tr.repo.ImportWithIdentifier(
		itemTarball(t, map[string]string{"driver.f90": "usurper"}),
		code, driverMetadata(tr.ada), "")
	assert.ErrorIs(t, err, kimerr.ErrIdentifierInUse)

	// The committed item is untouched and no partial item remains.
	dir, err := kimcode.Path(code, tr.cfg.RepositoryPath)
	require.NoError(t, err)
	content, err := os.ReadFile(filepath.Join(dir, "driver.f90"))
	require.NoError(t, err)
	assert.Equal(t, "original", string(content))

	staged, err := os.ReadDir(tr.cfg.StagingDir)
	require.NoError(t, err)
	assert.Empty(t, staged)
}

func TestImportWithIdentifierRejectsVersionlessCode(t *testing.T) {
	tr := setupTestRepo(t)
	err := tr.repo.ImportWithIdentifier(
		itemTarball(t, map[string]string{"f": "x"}),
		"Foo__MD_555500001111", driverMetadata(tr.ada), "")
	assert.ErrorIs(t, err, kimerr.ErrInvalidIdentifier)
}

func TestImportRecordsExecutables(t *testing.T) {
	tr := setupTestRepo(t)

	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gz)
	require.NoError(t, tw.WriteHeader(&tar.Header{Name: "build.sh", Typeflag: tar.TypeReg, Mode: 0o755, Size: 9}))
	_, err := tw.Write([]byte("#!/bin/sh"))
	require.NoError(t, err)
	require.NoError(t, tw.Close())
	require.NoError(t, gz.Close())

	code, err := tr.repo.Import(bytes.NewReader(buf.Bytes()), "Foo", kimcode.ModelDriver, driverMetadata(tr.ada), "")
	require.NoError(t, err)

	dir, err := kimcode.Path(code, tr.cfg.RepositoryPath)
	require.NoError(t, err)
	raw, err := os.ReadFile(filepath.Join(dir, "kimspec.json"))
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"build.sh"`)
}

func TestImportRejectsUnregisteredUser(t *testing.T) {
	tr := setupTestRepo(t)
	repo, _ := tr.as(t, "stranger")
	_, err := repo.Import(itemTarball(t, map[string]string{"f": "x"}),
		"Foo", kimcode.ModelDriver, driverMetadata(tr.ada), "")
	assert.ErrorIs(t, err, kimerr.ErrUnknownUser)
}

func TestImportRejectsIncompleteMetadata(t *testing.T) {
	tr := setupTestRepo(t)
	metadata := driverMetadata(tr.ada)
	delete(metadata, "title")

	_, err := tr.repo.Import(itemTarball(t, map[string]string{"f": "x"}),
		"Foo", kimcode.ModelDriver, metadata, "")
	assert.ErrorIs(t, err, kimerr.ErrMissingRequiredField)

	// A failed import leaves no staging debris behind.
	entries, err := os.ReadDir(tr.cfg.StagingDir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestVersionUpdateCreatesNextVersion(t *testing.T) {
	tr := setupTestRepo(t)
	code, err := tr.repo.Import(itemTarball(t, map[string]string{"driver.f90": "v0"}),
		"Foo", kimcode.ModelDriver, driverMetadata(tr.ada), "")
	require.NoError(t, err)

	newCode, err := tr.repo.VersionUpdate(code,
		itemTarball(t, map[string]string{"driver.f90": "v1"}),
		map[string]any{"description": "Improved pair potential driver."}, "fix cutoff", false)
	require.NoError(t, err)

	c, err := kimcode.Parse(code)
	require.NoError(t, err)
	assert.Equal(t, kimcode.Format(c.Name, c.Leader, c.Number, 1), newCode)

	newDir, err := kimcode.Path(newCode, tr.cfg.RepositoryPath)
	require.NoError(t, err)
	content, err := os.ReadFile(filepath.Join(newDir, "driver.f90"))
	require.NoError(t, err)
	assert.Equal(t, "v1", string(content))

	entries, err := provenance.Load(newDir)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, provenance.EventRevisedVersion, entries[0].EventType)
	assert.Equal(t, newCode, entries[0].ExtendedID)
	assert.Equal(t, provenance.EventInitialCreation, entries[1].EventType)
	assert.Equal(t, code, entries[1].ExtendedID)

	// The previous version is untouched.
	oldDir, err := kimcode.Path(code, tr.cfg.RepositoryPath)
	require.NoError(t, err)
	content, err = os.ReadFile(filepath.Join(oldDir, "driver.f90"))
	require.NoError(t, err)
	assert.Equal(t, "v0", string(content))
}

func TestVersionUpdateRequiresLatest(t *testing.T) {
	tr := setupTestRepo(t)
	code, err := tr.repo.Import(itemTarball(t, map[string]string{"f": "v0"}),
		"Foo", kimcode.ModelDriver, driverMetadata(tr.ada), "")
	require.NoError(t, err)
	_, err = tr.repo.VersionUpdate(code, itemTarball(t, map[string]string{"f": "v1"}), nil, "", false)
	require.NoError(t, err)

	_, err = tr.repo.VersionUpdate(code, itemTarball(t, map[string]string{"f": "v2"}), nil, "", false)
	assert.ErrorIs(t, err, kimerr.ErrNotLatestVersion)
}

func TestVersionUpdatePermissions(t *testing.T) {
	tr := setupTestRepo(t)
	code, err := tr.repo.Import(itemTarball(t, map[string]string{"f": "v0"}),
		"Foo", kimcode.ModelDriver, driverMetadata(tr.ada), "")
	require.NoError(t, err)

	bobRepo, bobGate := tr.as(t, "bob")
	_, err = bobGate.AddSelf("Bob")
	require.NoError(t, err)

	_, err = bobRepo.VersionUpdate(code, itemTarball(t, map[string]string{"f": "v1"}), nil, "", false)
	assert.ErrorIs(t, err, kimerr.ErrNotAnEditor)

	require.NoError(t, tr.gate.AddEditor("bob", true))
	_, err = bobRepo.VersionUpdate(code, itemTarball(t, map[string]string{"f": "v1"}), nil, "", false)
	assert.ErrorIs(t, err, kimerr.ErrNotRunAsEditor)

	newCode, err := bobRepo.VersionUpdate(code, itemTarball(t, map[string]string{"f": "v1"}), nil, "", true)
	require.NoError(t, err)
	assert.NotEqual(t, code, newCode)
}

func TestForkStartsNewLineageWithHistory(t *testing.T) {
	tr := setupTestRepo(t)
	code, err := tr.repo.Import(itemTarball(t, map[string]string{"driver.f90": "original"}),
		"Foo", kimcode.ModelDriver, driverMetadata(tr.ada), "")
	require.NoError(t, err)

	forkCode, err := tr.repo.Fork(code, "FooFork", "independent line", false)
	require.NoError(t, err)
	assert.Regexp(t, regexp.MustCompile(`^FooFork__MD_\d{12}_000$`), forkCode)

	orig, err := kimcode.Parse(code)
	require.NoError(t, err)
	forked, err := kimcode.Parse(forkCode)
	require.NoError(t, err)
	assert.NotEqual(t, orig.Number, forked.Number)

	forkDir, err := kimcode.Path(forkCode, tr.cfg.RepositoryPath)
	require.NoError(t, err)
	content, err := os.ReadFile(filepath.Join(forkDir, "driver.f90"))
	require.NoError(t, err)
	assert.Equal(t, "original", string(content))

	entries, err := provenance.Load(forkDir)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, provenance.EventFork, entries[0].EventType)
	assert.Equal(t, forkCode, entries[0].ExtendedID)
	assert.Equal(t, provenance.EventInitialCreation, entries[1].EventType)
	assert.Equal(t, code, entries[1].ExtendedID)
}

func TestEditMetadataRecordsUpdate(t *testing.T) {
	tr := setupTestRepo(t)
	code, err := tr.repo.Import(itemTarball(t, map[string]string{"f": "x"}),
		"Foo", kimcode.ModelDriver, driverMetadata(tr.ada), "")
	require.NoError(t, err)

	require.NoError(t, tr.repo.EditMetadata(code, "description", "Rewritten description.", "clarify", false))

	dir, err := kimcode.Path(code, tr.cfg.RepositoryPath)
	require.NoError(t, err)
	raw, err := os.ReadFile(filepath.Join(dir, "kimspec.json"))
	require.NoError(t, err)
	assert.Contains(t, string(raw), "Rewritten description.")

	entries, err := provenance.Load(dir)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, provenance.EventMetadataUpdate, entries[0].EventType)
	assert.Equal(t, "clarify", entries[0].Comments)
}

func TestEditMetadataRejectsUnknownField(t *testing.T) {
	tr := setupTestRepo(t)
	code, err := tr.repo.Import(itemTarball(t, map[string]string{"f": "x"}),
		"Foo", kimcode.ModelDriver, driverMetadata(tr.ada), "")
	require.NoError(t, err)

	err = tr.repo.EditMetadata(code, "favourite-color", "blue", "", false)
	assert.ErrorIs(t, err, kimerr.ErrUnknownMetadataField)
	assert.ErrorIs(t, tr.repo.DeleteMetadataField(code, "favourite-color", "", false), kimerr.ErrUnknownMetadataField)
}

func TestDeleteMetadataFieldCannotBreakRequirements(t *testing.T) {
	tr := setupTestRepo(t)
	code, err := tr.repo.Import(itemTarball(t, map[string]string{"f": "x"}),
		"Foo", kimcode.ModelDriver, driverMetadata(tr.ada), "")
	require.NoError(t, err)

	err = tr.repo.DeleteMetadataField(code, "title", "", false)
	assert.ErrorIs(t, err, kimerr.ErrMissingRequiredField)

	require.NoError(t, tr.repo.EditMetadata(code, "doi", "10.5555/12345678", "", false))
	require.NoError(t, tr.repo.DeleteMetadataField(code, "doi", "", false))
}

func TestDiscontinueKeepsContent(t *testing.T) {
	tr := setupTestRepo(t)
	code, err := tr.repo.Import(itemTarball(t, map[string]string{"f": "x"}),
		"Foo", kimcode.ModelDriver, driverMetadata(tr.ada), "")
	require.NoError(t, err)

	require.NoError(t, tr.repo.Discontinue(code, "superseded upstream", false))

	dir, err := kimcode.Path(code, tr.cfg.RepositoryPath)
	require.NoError(t, err)
	_, err = os.Stat(filepath.Join(dir, "f"))
	assert.NoError(t, err)

	entries, err := provenance.Load(dir)
	require.NoError(t, err)
	assert.Equal(t, provenance.EventDiscontinued, entries[0].EventType)
}

func TestDeleteOnlyVersionFreesIdentifier(t *testing.T) {
	tr := setupTestRepo(t)
	code, err := tr.repo.Import(itemTarball(t, map[string]string{"f": "x"}),
		"Foo", kimcode.ModelDriver, driverMetadata(tr.ada), "")
	require.NoError(t, err)

	require.NoError(t, tr.repo.Delete(code, false))

	free, err := kimcode.IsAvailable(tr.cfg.RepositoryPath, code)
	require.NoError(t, err)
	assert.True(t, free)

	// The empty lineage and shard directories are pruned.
	dir, err := kimcode.Path(code, tr.cfg.RepositoryPath)
	require.NoError(t, err)
	_, err = os.Stat(filepath.Dir(dir))
	assert.True(t, os.IsNotExist(err))

	row, err := tr.index.FindByKimcode(code)
	require.NoError(t, err)
	assert.Nil(t, row)

	assert.ErrorIs(t, tr.repo.Delete(code, false), kimerr.ErrItemNotFound)
}

func TestDeleteDeniedForOutsider(t *testing.T) {
	tr := setupTestRepo(t)
	code, err := tr.repo.Import(itemTarball(t, map[string]string{"f": "x"}),
		"Foo", kimcode.ModelDriver, driverMetadata(tr.ada), "")
	require.NoError(t, err)

	bobRepo, bobGate := tr.as(t, "bob")
	_, err = bobGate.AddSelf("Bob")
	require.NoError(t, err)
	assert.ErrorIs(t, bobRepo.Delete(code, true), kimerr.ErrNotAnEditor)
}

func TestExportSingleItemRoundTrip(t *testing.T) {
	tr := setupTestRepo(t)
	code, err := tr.repo.Import(itemTarball(t, map[string]string{"driver.f90": "source"}),
		"Foo", kimcode.ModelDriver, driverMetadata(tr.ada), "")
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, tr.repo.Export(code, &buf))

	dst := t.TempDir()
	require.NoError(t, archive.ExtractToStaging(bytes.NewReader(buf.Bytes()), dst))
	content, err := os.ReadFile(filepath.Join(dst, "driver.f90"))
	require.NoError(t, err)
	assert.Equal(t, "source", string(content))
}

func TestExportPortableModelBundlesDriver(t *testing.T) {
	tr := setupTestRepo(t)
	driver, err := tr.repo.Import(itemTarball(t, map[string]string{"driver.f90": "source"}),
		"Bar", kimcode.ModelDriver, driverMetadata(tr.ada), "")
	require.NoError(t, err)
	model, err := tr.repo.Import(itemTarball(t, map[string]string{"model.params": "eps sigma"}),
		"Foo", kimcode.PortableModel, modelMetadata(tr.ada, driver), "")
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, tr.repo.Export(model, &buf))

	dst := t.TempDir()
	require.NoError(t, archive.ExtractToStaging(bytes.NewReader(buf.Bytes()), dst))
	_, err = os.Stat(filepath.Join(dst, model, "model.params"))
	assert.NoError(t, err)
	_, err = os.Stat(filepath.Join(dst, driver, "driver.f90"))
	assert.NoError(t, err)
}

func TestInstallBuildsDriverBeforeModel(t *testing.T) {
	tr := setupTestRepo(t)
	driver, err := tr.repo.Import(itemTarball(t, map[string]string{"driver.f90": "source"}),
		"Bar", kimcode.ModelDriver, driverMetadata(tr.ada), "")
	require.NoError(t, err)
	model, err := tr.repo.Import(itemTarball(t, map[string]string{"model.params": "eps sigma"}),
		"Foo", kimcode.PortableModel, modelMetadata(tr.ada, driver), "")
	require.NoError(t, err)

	collection := t.TempDir()
	require.NoError(t, tr.repo.Install(context.Background(), model, collection))

	require.Len(t, tr.builder.Built, 2)
	assert.Equal(t, filepath.Join(collection, driver), tr.builder.Built[0])
	assert.Equal(t, filepath.Join(collection, model), tr.builder.Built[1])

	_, err = os.Stat(filepath.Join(collection, model, "model.params"))
	assert.NoError(t, err)
}

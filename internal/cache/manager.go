/**
 * Local Cache Manager: durable LocalFile records plus the physical
 * files they point at (§4.G).
 *
 * Grounded on CloudPull's FileStore (internal/state/files.go): same
 * sqlx-backed CRUD shape (WithTx-wrapped writes, here a
 * positional-parameter INSERT ... ON CONFLICT upsert), collapsed from CloudPull's
 * multi-table files/folders/chunks schema into the single
 * cached_local_files table §6 specifies, since chunked resumable
 * downloads have no place here (non-goal).
 */

package cache

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/fetchkit/fetchkit/internal/logger"
	"github.com/fetchkit/fetchkit/internal/taxonomy"
)

// StorageClass is a LocalFile's durability tier.
type StorageClass string

const (
	StorageCached    StorageClass = "cached"
	StoragePermanent StorageClass = "permanent"
)

// dominates reports whether sc is at least as durable as other (I5:
// permanent dominates cached).
func (sc StorageClass) dominates(other StorageClass) bool {
	if sc == other {
		return true
	}
	return sc == StoragePermanent
}

// LocalFile is the persisted cache record (§3, §6).
type LocalFile struct {
	ResourceID   string       `db:"resource_id"`
	MirrorID     string       `db:"mirror_id"`
	LocalPath    string       `db:"local_path"`
	StorageClass StorageClass `db:"storage_class"`
	CreatedAt    time.Time    `db:"created_at"`
}

// StoreOptions carries the caller's requested storage class for a
// store/upgrade operation.
type StoreOptions struct {
	StorageClass StorageClass
}

// Mirror is the minimal mirror view the cache needs to compute a
// final asset extension.
type Mirror struct {
	ID       string
	Location string
}

// Manager persists LocalFile records in db and places files under
// cacheDir/assets and permanentDir/assets.
type Manager struct {
	db          *DB
	cacheDir    string
	permanentDir string
	logger      *logger.Logger
}

// NewManager creates a Manager rooted at cacheDir (OS cache
// directory) and permanentDir (application-support-like directory).
// Both directories' "assets" subdirectory are created if absent. A
// nil log falls back to logger.New(nil)'s defaults.
func NewManager(db *DB, cacheDir, permanentDir string, log *logger.Logger) (*Manager, error) {
	if log == nil {
		log = logger.New(nil)
	}
	m := &Manager{db: db, cacheDir: cacheDir, permanentDir: permanentDir, logger: log}
	for _, dir := range []string{m.assetsDir(StorageCached), m.assetsDir(StoragePermanent)} {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, taxonomy.New(taxonomy.FilesystemCannotCreateDirectory, dir, err)
		}
	}
	return m, nil
}

func (m *Manager) assetsDir(class StorageClass) string {
	if class == StoragePermanent {
		return filepath.Join(m.permanentDir, "assets")
	}
	return filepath.Join(m.cacheDir, "assets")
}

func (m *Manager) get(ctx context.Context, resourceID string) (*LocalFile, error) {
	var lf LocalFile
	err := m.db.WithReadTx(ctx, func(tx *sqlx.Tx) error {
		return tx.GetContext(ctx, &lf, `SELECT resource_id, mirror_id, local_path, storage_class, created_at
			FROM cached_local_files WHERE resource_id = ?`, resourceID)
	})
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, taxonomy.New(taxonomy.CacheStorageError, "read local file", err)
	}
	return &lf, nil
}

// IsAvailable reports whether resourceID has a record AND the
// referenced file exists on disk (I3).
func (m *Manager) IsAvailable(ctx context.Context, resourceID string) bool {
	lf, err := m.get(ctx, resourceID)
	if err != nil || lf == nil {
		return false
	}
	return pathExists(lf.LocalPath)
}

// FileURL returns the local path for resourceID, if a valid record
// and backing file exist.
func (m *Manager) FileURL(ctx context.Context, resourceID string) (string, bool) {
	lf, err := m.get(ctx, resourceID)
	if err != nil || lf == nil {
		return "", false
	}
	if !pathExists(lf.LocalPath) {
		return "", false
	}
	return lf.LocalPath, true
}

// StorageClassOf returns the current storage class for resourceID, if any.
func (m *Manager) StorageClassOf(ctx context.Context, resourceID string) (StorageClass, bool) {
	lf, err := m.get(ctx, resourceID)
	if err != nil || lf == nil {
		return "", false
	}
	return lf.StorageClass, true
}

// Dominates reports whether a LocalFile's existing storage class is
// at least as durable as requested (used by the Resource Manager to
// decide between "already satisfied" and "needs upgrade").
func Dominates(existing, requested StorageClass) bool {
	return existing.dominates(requested)
}

// Store computes the final path for resource under options.StorageClass,
// atomically moves tempPath there, and upserts the record (I2, I5). If
// a prior file existed at a different path, it is removed after the
// move-then-upsert succeeds.
func (m *Manager) Store(ctx context.Context, resourceID string, mirror Mirror, tempPath string, options StoreOptions) (*LocalFile, error) {
	class := options.StorageClass
	if class == "" {
		class = StorageCached
	}

	ext := filepath.Ext(mirror.Location)
	finalPath := filepath.Join(m.assetsDir(class), fmt.Sprintf("%s.%s%s", resourceID, uuid.New().String(), ext))

	if err := os.MkdirAll(filepath.Dir(finalPath), 0o750); err != nil {
		return nil, taxonomy.New(taxonomy.FilesystemCannotCreateDirectory, filepath.Dir(finalPath), err)
	}

	previous, _ := m.get(ctx, resourceID)

	if err := atomicMove(tempPath, finalPath); err != nil {
		return nil, taxonomy.New(taxonomy.FilesystemCannotMove, finalPath, err)
	}

	lf := &LocalFile{
		ResourceID:   resourceID,
		MirrorID:     mirror.ID,
		LocalPath:    finalPath,
		StorageClass: class,
		CreatedAt:    time.Now(),
	}

	err := m.db.WithTx(ctx, func(tx *sqlx.Tx) error {
		_, err := tx.ExecContext(ctx, `INSERT INTO cached_local_files
			(resource_id, mirror_id, local_path, storage_class, created_at)
			VALUES (?, ?, ?, ?, ?)
			ON CONFLICT(resource_id) DO UPDATE SET
				mirror_id = excluded.mirror_id,
				local_path = excluded.local_path,
				storage_class = excluded.storage_class,
				created_at = excluded.created_at`,
			lf.ResourceID, lf.MirrorID, lf.LocalPath, string(lf.StorageClass), lf.CreatedAt)
		return err
	})
	if err != nil {
		os.Remove(finalPath)
		return nil, taxonomy.New(taxonomy.CacheStorageError, "upsert local file", err)
	}

	if previous != nil && previous.LocalPath != finalPath {
		os.Remove(previous.LocalPath)
	}

	m.logger.Debug("stored local file",
		"resource_id", resourceID,
		"mirror_id", mirror.ID,
		"storage_class", string(class),
		"local_path", finalPath,
	)

	return lf, nil
}

// UpdateStorage moves every resource in resourceIDs whose current
// class differs from newClass into newClass's directory, updating its
// record. Returns the subset actually moved (resources absent from
// the cache are skipped).
func (m *Manager) UpdateStorage(ctx context.Context, resourceIDs []string, newClass StorageClass) ([]string, error) {
	var moved []string

	for _, id := range resourceIDs {
		lf, err := m.get(ctx, id)
		if err != nil {
			return moved, err
		}
		if lf == nil || lf.StorageClass == newClass {
			continue
		}

		newPath := filepath.Join(m.assetsDir(newClass), filepath.Base(lf.LocalPath))
		if err := atomicMove(lf.LocalPath, newPath); err != nil {
			return moved, taxonomy.New(taxonomy.FilesystemCannotMove, newPath, err)
		}

		err = m.db.WithTx(ctx, func(tx *sqlx.Tx) error {
			_, err := tx.ExecContext(ctx,
				`UPDATE cached_local_files SET local_path = ?, storage_class = ? WHERE resource_id = ?`,
				newPath, string(newClass), id)
			return err
		})
		if err != nil {
			return moved, taxonomy.New(taxonomy.CacheStorageError, "update storage class", err)
		}

		moved = append(moved, id)
	}

	if len(moved) > 0 {
		m.logger.Debug("updated storage class", "new_storage_class", string(newClass), "resource_ids", moved)
	}

	return moved, nil
}

// DownloadsFrom returns the subset of resourceIDs not currently
// available in the cache.
func (m *Manager) DownloadsFrom(ctx context.Context, resourceIDs []string) []string {
	var missing []string
	for _, id := range resourceIDs {
		if !m.IsAvailable(ctx, id) {
			missing = append(missing, id)
		}
	}
	return missing
}

// Cleanup deletes every record (and backing file) whose resource id
// is not in excluding.
func (m *Manager) Cleanup(ctx context.Context, excluding map[string]bool) error {
	var all []LocalFile
	err := m.db.WithReadTx(ctx, func(tx *sqlx.Tx) error {
		return tx.SelectContext(ctx, &all, `SELECT resource_id, mirror_id, local_path, storage_class, created_at FROM cached_local_files`)
	})
	if err != nil {
		return taxonomy.New(taxonomy.CacheStorageError, "list local files", err)
	}

	for _, lf := range all {
		if excluding[lf.ResourceID] {
			continue
		}
		if err := m.delete(ctx, lf.ResourceID, lf.LocalPath); err != nil {
			return err
		}
	}
	return nil
}

// Reset deletes every record and file unconditionally.
func (m *Manager) Reset(ctx context.Context) error {
	return m.Cleanup(ctx, map[string]bool{})
}

// Stats is an aggregate count of cached resources by storage class.
type Stats struct {
	CachedCount    int
	PermanentCount int
}

// Stats summarizes the current contents of the cache.
func (m *Manager) Stats(ctx context.Context) (Stats, error) {
	var rows []struct {
		StorageClass string `db:"storage_class"`
		Count        int    `db:"count"`
	}

	err := m.db.WithReadTx(ctx, func(tx *sqlx.Tx) error {
		return tx.SelectContext(ctx, &rows,
			`SELECT storage_class, COUNT(*) AS count FROM cached_local_files GROUP BY storage_class`)
	})
	if err != nil {
		return Stats{}, taxonomy.New(taxonomy.CacheStorageError, "aggregate cache stats", err)
	}

	var stats Stats
	for _, row := range rows {
		switch StorageClass(row.StorageClass) {
		case StorageCached:
			stats.CachedCount = row.Count
		case StoragePermanent:
			stats.PermanentCount = row.Count
		}
	}
	return stats, nil
}

func (m *Manager) delete(ctx context.Context, resourceID, localPath string) error {
	err := m.db.WithTx(ctx, func(tx *sqlx.Tx) error {
		_, err := tx.ExecContext(ctx, `DELETE FROM cached_local_files WHERE resource_id = ?`, resourceID)
		return err
	})
	if err != nil {
		return taxonomy.New(taxonomy.CacheStorageError, "delete local file record", err)
	}
	os.Remove(localPath)
	m.logger.Debug("deleted local file", "resource_id", resourceID)
	return nil
}

func pathExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// atomicMove renames src to dst, falling back to copy+remove when
// os.Rename fails (as it does with EXDEV across filesystem/device
// boundaries).
func atomicMove(src, dst string) error {
	if err := os.Rename(src, dst); err == nil {
		return nil
	}

	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}

	if _, err := copyAll(out, in); err != nil {
		out.Close()
		os.Remove(dst)
		return err
	}
	if err := out.Sync(); err != nil {
		out.Close()
		os.Remove(dst)
		return err
	}
	if err := out.Close(); err != nil {
		os.Remove(dst)
		return err
	}
	return os.Remove(src)
}

func copyAll(dst *os.File, src *os.File) (int64, error) {
	return dst.ReadFrom(src)
}

// DefaultAppDirs returns the OS cache and application-support-like
// directories fetchkit uses by default, rooted under subdir.
func DefaultAppDirs(subdir string) (cacheDir, permanentDir string, err error) {
	uc, err := os.UserCacheDir()
	if err != nil {
		return "", "", err
	}
	cfg, err := os.UserConfigDir()
	if err != nil {
		return "", "", err
	}
	return filepath.Join(uc, subdir), filepath.Join(cfg, subdir), nil
}

package statecache

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// FileRecord is one (target, path) row: what we last saw locally and
// when it was last deployed, pulled or sync-checked.
type FileRecord struct {
	ID            uint      `gorm:"primarykey"`
	Target        string    `gorm:"uniqueIndex:idx_target_path;not null"`
	Path          string    `gorm:"uniqueIndex:idx_target_path;not null"`
	Hash          string    `gorm:"not null"`
	Size          int64     `gorm:"not null"`
	ModTime       time.Time `gorm:"not null"`
	LastDeploy    time.Time
	LastPull      time.Time
	LastSyncCheck time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Cache manages the state database under the workspace scratch dir.
type Cache struct {
	db   *gorm.DB
	root string
}

// Open connects to (and migrates) the state database. root is the
// workspace directory paths are stored relative to.
func Open(dbPath string, root string) (*Cache, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create state directory: %v", err)
	}

	db, err := gorm.Open(sqlite.Open(dbPath), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %v", err)
	}

	if err := db.AutoMigrate(&FileRecord{}); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %v", err)
	}

	return &Cache{db: db, root: root}, nil
}

// Reset clears all cached records.
func (c *Cache) Reset() error {
	result := c.db.Unscoped().Delete(&FileRecord{}, "1 = 1")
	if result.Error != nil {
		return fmt.Errorf("failed to reset cache: %v", result.Error)
	}
	return nil
}

// HashFile calculates the xxHash of a file for fast change detection.
func HashFile(path string) (string, error) {
	file, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer file.Close()

	hash := xxhash.New()
	if _, err := io.Copy(hash, file); err != nil {
		return "", err
	}
	return fmt.Sprintf("%x", hash.Sum(nil)), nil
}

// rel converts an absolute workspace path to the slash-relative form
// rows are keyed by.
func (c *Cache) rel(path string) string {
	relPath, err := filepath.Rel(c.root, path)
	if err != nil {
		if strings.HasPrefix(path, c.root) {
			relPath = strings.TrimPrefix(strings.TrimPrefix(path, c.root), string(os.PathSeparator))
		} else {
			relPath = filepath.Base(path)
		}
	}
	return filepath.ToSlash(relPath)
}

// ShouldDeploy reports whether the file changed since it was last
// deployed to target. Unknown files always deploy.
func (c *Cache) ShouldDeploy(target, absPath string) (bool, error) {
	if _, err := os.Stat(absPath); err != nil {
		return false, err
	}

	currentHash, err := HashFile(absPath)
	if err != nil {
		return false, err
	}

	rec, err := c.Lookup(target, c.rel(absPath))
	if err != nil {
		return false, err
	}
	if rec == nil {
		return true, nil
	}
	return rec.Hash != currentHash, nil
}

// Lookup fetches a record, nil when the path was never seen for the
// target.
func (c *Cache) Lookup(target, rel string) (*FileRecord, error) {
	var rec FileRecord
	err := c.db.Where("target = ? AND path = ?", target, rel).First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// RecordDeployed upserts the row after a successful upload.
func (c *Cache) RecordDeployed(target, absPath string) error {
	return c.record(target, absPath, func(rec *FileRecord) {
		rec.LastDeploy = time.Now()
	})
}

// RecordPulled upserts the row after a successful download.
func (c *Cache) RecordPulled(target, absPath string) error {
	return c.record(target, absPath, func(rec *FileRecord) {
		rec.LastPull = time.Now()
	})
}

func (c *Cache) record(target, absPath string, stamp func(*FileRecord)) error {
	info, err := os.Stat(absPath)
	if err != nil {
		return err
	}
	hash, err := HashFile(absPath)
	if err != nil {
		return err
	}

	rel := c.rel(absPath)
	rec := FileRecord{
		Target:  target,
		Path:    rel,
		Hash:    hash,
		Size:    info.Size(),
		ModTime: info.ModTime(),
	}
	stamp(&rec)

	result := c.db.Where("target = ? AND path = ?", target, rel).Assign(rec).FirstOrCreate(&rec)
	return result.Error
}

// Forget drops the row after a remote delete so the next deploy does
// not get skipped.
func (c *Cache) Forget(target, rel string) error {
	return c.db.Unscoped().Where("target = ? AND path = ?", target, rel).Delete(&FileRecord{}).Error
}

// MarkSyncChecked stamps the sync-when-open suppression time.
func (c *Cache) MarkSyncChecked(target, rel string) error {
	rec := FileRecord{
		Target:        target,
		Path:          rel,
		Hash:          "",
		ModTime:       time.Now(),
		LastSyncCheck: time.Now(),
	}
	var existing FileRecord
	err := c.db.Where("target = ? AND path = ?", target, rel).First(&existing).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return c.db.Create(&rec).Error
	}
	if err != nil {
		return err
	}
	return c.db.Model(&existing).Update("last_sync_check", time.Now()).Error
}

// Stats returns how many files are tracked and their cumulative size.
func (c *Cache) Stats() (totalFiles int64, totalSize int64, err error) {
	var count int64
	if err = c.db.Model(&FileRecord{}).Count(&count).Error; err != nil {
		return 0, 0, err
	}
	var size int64
	if err = c.db.Model(&FileRecord{}).Select("COALESCE(SUM(size), 0)").Scan(&size).Error; err != nil {
		return count, 0, err
	}
	return count, size, nil
}

// Close closes the database connection.
func (c *Cache) Close() error {
	sqlDB, err := c.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

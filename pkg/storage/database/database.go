// Package database registers the "database" storage driver, which keeps
// file contents in a SQL table through GORM. Supported dialects: sqlite
// (default), postgres, mysql and sqlserver.
package database

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"time"

	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/driver/sqlserver"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"github.com/shashiranjanraj/filestore/pkg/storage"
)

func init() {
	storage.Register(storage.DriverDatabase, func(cfg storage.DiskConfig) (storage.Driver, error) {
		return New(cfg)
	})
}

// File is one stored object.
type File struct {
	Path      string `gorm:"primaryKey;size:767"`
	Content   []byte
	Size      int64
	UpdatedAt time.Time
}

func (File) TableName() string { return "storage_files" }

// Driver is the database driver.
type Driver struct {
	storage.Base

	dialector gorm.Dialector
	baseURL   string

	mu       sync.Mutex
	db       *gorm.DB
	migrated bool
}

// New validates cfg. The database is opened and migrated on Init or first
// use.
func New(cfg storage.DiskConfig) (*Driver, error) {
	if cfg.DSN == "" {
		return nil, errors.New("storage/database: dsn is required")
	}
	dialect := cfg.Dialect
	if dialect == "" {
		dialect = "sqlite"
	}
	dialector, err := buildDialector(dialect, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("storage/database: %w", err)
	}

	baseURL := cfg.PublicURL
	if baseURL == "" {
		baseURL = "db://" + cfg.Name
	}
	return &Driver{
		Base:      storage.NewBase(cfg),
		dialector: dialector,
		baseURL:   strings.TrimRight(baseURL, "/"),
	}, nil
}

// NewWithDB returns a driver on an open handle. The table is migrated on
// Init or first use.
func NewWithDB(cfg storage.DiskConfig, db *gorm.DB) *Driver {
	baseURL := cfg.PublicURL
	if baseURL == "" {
		baseURL = "db://" + cfg.Name
	}
	return &Driver{
		Base:      storage.NewBase(cfg),
		dialector: db.Dialector,
		baseURL:   strings.TrimRight(baseURL, "/"),
		db:        db,
	}
}

func buildDialector(dialect, dsn string) (gorm.Dialector, error) {
	switch dialect {
	case "sqlite":
		return sqlite.Open(dsn), nil
	case "postgres":
		return postgres.Open(dsn), nil
	case "mysql":
		return mysql.Open(dsn), nil
	case "sqlserver":
		return sqlserver.Open(dsn), nil
	default:
		return nil, fmt.Errorf("unsupported dialect %q (supported: sqlite, postgres, mysql, sqlserver)", dialect)
	}
}

// Init opens the database and creates the table.
func (d *Driver) Init(ctx context.Context) error {
	_, err := d.conn(ctx)
	return err
}

func (d *Driver) conn(ctx context.Context) (*gorm.DB, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.migrated {
		return d.db.WithContext(ctx), nil
	}

	db := d.db
	if db == nil {
		var err error
		db, err = gorm.Open(d.dialector, &gorm.Config{
			Logger: logger.Default.LogMode(logger.Silent),
		})
		if err != nil {
			return nil, fmt.Errorf("storage/database: open: %w", err)
		}
		sqlDB, err := db.DB()
		if err != nil {
			return nil, fmt.Errorf("storage/database: get sql.DB: %w", err)
		}
		sqlDB.SetMaxOpenConns(25)
		sqlDB.SetMaxIdleConns(10)
		sqlDB.SetConnMaxLifetime(5 * time.Minute)
		sqlDB.SetConnMaxIdleTime(2 * time.Minute)
	}

	if err := db.WithContext(ctx).AutoMigrate(&File{}); err != nil {
		return nil, fmt.Errorf("storage/database: migrate: %w", err)
	}
	d.db, d.migrated = db, true
	return db.WithContext(ctx), nil
}

// Close closes the connection pool.
func (d *Driver) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.db == nil {
		return nil
	}
	sqlDB, err := d.db.DB()
	if err != nil {
		return err
	}
	d.db, d.migrated = nil, false
	return sqlDB.Close()
}

// key maps path to a row key, rejecting paths outside the disk.
func key(path string) (string, error) {
	k, err := storage.CleanFile(path)
	if err != nil {
		return "", fmt.Errorf("storage/database: %w", err)
	}
	return k, nil
}

func wrap(op, path string, err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		err = storage.ErrFileNotFound
	}
	return fmt.Errorf("storage/database: %s %s: %w", op, path, err)
}

// ── Write ─────────────────────────────────────────────────────────────────────

func (d *Driver) Put(ctx context.Context, path string, r io.Reader) (storage.Metadata, error) {
	k, err := key(path)
	if err != nil {
		return nil, err
	}
	db, err := d.conn(ctx)
	if err != nil {
		return nil, err
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("storage/database: read %s: %w", path, err)
	}

	f := File{Path: k, Content: data, Size: int64(len(data))}
	err = db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "path"}},
		DoUpdates: clause.AssignmentColumns([]string{"content", "size", "updated_at"}),
	}).Create(&f).Error
	if err != nil {
		return nil, wrap("put", path, err)
	}
	return storage.Metadata{"size": f.Size}, nil
}

// ── Read ──────────────────────────────────────────────────────────────────────

func (d *Driver) find(ctx context.Context, op, path string, columns ...string) (*File, error) {
	k, err := key(path)
	if err != nil {
		return nil, err
	}
	db, err := d.conn(ctx)
	if err != nil {
		return nil, err
	}
	var f File
	q := db.Where("path = ?", k)
	if len(columns) > 0 {
		q = q.Select(columns)
	}
	if err := q.Take(&f).Error; err != nil {
		return nil, wrap(op, path, err)
	}
	return &f, nil
}

func (d *Driver) Get(ctx context.Context, path string) (io.ReadCloser, error) {
	f, err := d.find(ctx, "get", path)
	if err != nil {
		return nil, err
	}
	return io.NopCloser(bytes.NewReader(f.Content)), nil
}

func (d *Driver) ImageStats(ctx context.Context, path string, keepBuffer bool) (*storage.ImageStats, error) {
	rc, err := d.Get(ctx, path)
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return storage.ReadImageStats(rc, keepBuffer)
}

// ── Metadata ──────────────────────────────────────────────────────────────────

func (d *Driver) Exists(ctx context.Context, path string) (bool, error) {
	k, err := key(path)
	if err != nil {
		return false, err
	}
	db, err := d.conn(ctx)
	if err != nil {
		return false, err
	}
	var n int64
	if err := db.Model(&File{}).Where("path = ?", k).Count(&n).Error; err != nil {
		return false, wrap("exists", path, err)
	}
	return n > 0, nil
}

func (d *Driver) Size(ctx context.Context, path string) (int64, error) {
	f, err := d.find(ctx, "size", path, "path", "size")
	if err != nil {
		return 0, err
	}
	return f.Size, nil
}

func (d *Driver) LastModified(ctx context.Context, path string) (int64, error) {
	f, err := d.find(ctx, "stat", path, "path", "updated_at")
	if err != nil {
		return 0, err
	}
	return f.UpdatedAt.UnixMilli(), nil
}

func (d *Driver) URL(path string) string {
	return d.baseURL + "/" + strings.TrimLeft(path, "/")
}

// ── Delete / Copy / Move ──────────────────────────────────────────────────────

func (d *Driver) Delete(ctx context.Context, path string) error {
	k, err := key(path)
	if err != nil {
		return err
	}
	db, err := d.conn(ctx)
	if err != nil {
		return err
	}
	res := db.Where("path = ?", k).Delete(&File{})
	if res.Error != nil {
		return wrap("delete", path, res.Error)
	}
	if res.RowsAffected == 0 {
		return wrap("delete", path, storage.ErrFileNotFound)
	}
	return nil
}

func (d *Driver) Copy(ctx context.Context, src, dst string) error {
	return storage.CopyVia(ctx, d, src, dst)
}

// Move renames the row, replacing any file at dst.
func (d *Driver) Move(ctx context.Context, src, dst string) error {
	from, err := key(src)
	if err != nil {
		return err
	}
	to, err := key(dst)
	if err != nil {
		return err
	}
	db, err := d.conn(ctx)
	if err != nil {
		return err
	}
	return db.Transaction(func(tx *gorm.DB) error {
		var n int64
		if err := tx.Model(&File{}).Where("path = ?", from).Count(&n).Error; err != nil {
			return wrap("move", src, err)
		}
		if n == 0 {
			return wrap("move", src, storage.ErrFileNotFound)
		}
		if err := tx.Where("path = ?", to).Delete(&File{}).Error; err != nil {
			return wrap("move", dst, err)
		}
		err := tx.Model(&File{}).Where("path = ?", from).
			Updates(map[string]any{"path": to, "updated_at": time.Now()}).Error
		if err != nil {
			return wrap("move", src, err)
		}
		return nil
	})
}

// ── Directories ───────────────────────────────────────────────────────────────

// MakeDir only validates dir; paths are plain keys.
func (d *Driver) MakeDir(_ context.Context, dir string) (string, error) {
	if _, err := prefix(dir); err != nil {
		return "", err
	}
	return dir, nil
}

func (d *Driver) RemoveDir(ctx context.Context, dir string) (string, error) {
	sub, err := storage.CleanRemovableDir(dir)
	if err != nil {
		return "", fmt.Errorf("storage/database: %w", err)
	}
	db, err := d.conn(ctx)
	if err != nil {
		return "", err
	}
	if err := db.Where("path LIKE ? ESCAPE '!'", likePrefix(sub+"/")).Delete(&File{}).Error; err != nil {
		return "", wrap("rmdir", dir, err)
	}
	return dir, nil
}

func (d *Driver) List(ctx context.Context, dir string, recursive bool) ([]string, error) {
	pfx, err := prefix(dir)
	if err != nil {
		return nil, err
	}
	db, err := d.conn(ctx)
	if err != nil {
		return nil, err
	}
	var paths []string
	if err := db.Model(&File{}).Where("path LIKE ? ESCAPE '!'", likePrefix(pfx)).Pluck("path", &paths).Error; err != nil {
		return nil, wrap("list", dir, err)
	}

	out := paths[:0]
	for _, p := range paths {
		if recursive || !strings.Contains(p[len(pfx):], "/") {
			out = append(out, p)
		}
	}
	sort.Strings(out)
	return out, nil
}

func prefix(dir string) (string, error) {
	p, err := storage.CleanPath(dir)
	if err != nil {
		return "", fmt.Errorf("storage/database: %w", err)
	}
	if p != "" {
		p += "/"
	}
	return p, nil
}

var likeEscaper = strings.NewReplacer("!", "!!", "%", "!%", "_", "!_")

// likePrefix turns a prefix from prefix into a LIKE pattern.
func likePrefix(pfx string) string {
	return likeEscaper.Replace(pfx) + "%"
}

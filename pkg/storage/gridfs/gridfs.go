// Package gridfs registers the "gridfs" storage driver, which keeps files
// in a MongoDB GridFS bucket. Paths are stored as GridFS file names; a put
// replaces every older revision of the same name.
package gridfs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/gridfs"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/shashiranjanraj/filestore/pkg/storage"
)

const (
	defaultDatabase = "filestore"
	defaultBucket   = "fs"
)

func init() {
	storage.Register(storage.DriverGridFS, func(cfg storage.DiskConfig) (storage.Driver, error) {
		return New(cfg)
	})
}

// Driver is the GridFS driver.
type Driver struct {
	storage.Base

	dsn     string
	dbName  string
	name    string
	baseURL string

	mu     sync.Mutex
	client *mongo.Client // nil when the database was supplied by the caller
	db     *mongo.Database
	bucket *gridfs.Bucket
}

// fileDoc is the part of a GridFS files document the driver reads.
type fileDoc struct {
	ID         primitive.ObjectID `bson:"_id"`
	Name       string             `bson:"filename"`
	Length     int64              `bson:"length"`
	UploadDate time.Time          `bson:"uploadDate"`
}

// New validates cfg. The connection is made on Init or first use.
func New(cfg storage.DiskConfig) (*Driver, error) {
	if cfg.DSN == "" {
		return nil, errors.New("storage/gridfs: dsn is required")
	}
	d := newDriver(cfg)
	d.dsn = cfg.DSN
	return d, nil
}

// NewWithDatabase returns a driver on an existing database handle. Close
// leaves the client connected.
func NewWithDatabase(cfg storage.DiskConfig, db *mongo.Database) *Driver {
	d := newDriver(cfg)
	d.db = db
	d.dbName = db.Name()
	return d
}

func newDriver(cfg storage.DiskConfig) *Driver {
	dbName := cfg.Database
	if dbName == "" {
		dbName = defaultDatabase
	}
	name := cfg.Bucket
	if name == "" {
		name = defaultBucket
	}
	baseURL := cfg.PublicURL
	if baseURL == "" {
		baseURL = "gridfs://" + dbName + "/" + name
	}
	return &Driver{
		Base:    storage.NewBase(cfg),
		dbName:  dbName,
		name:    name,
		baseURL: strings.TrimRight(baseURL, "/"),
	}
}

// Init connects and pings the server.
func (d *Driver) Init(ctx context.Context) error {
	if _, err := d.gridfs(ctx); err != nil {
		return err
	}
	if d.client == nil {
		return nil
	}
	if err := d.client.Ping(ctx, nil); err != nil {
		return wrap("ping", d.dbName, err)
	}
	return nil
}

func (d *Driver) gridfs(ctx context.Context) (*gridfs.Bucket, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.bucket != nil {
		return d.bucket, nil
	}

	if d.db == nil {
		client, err := mongo.Connect(ctx, options.Client().ApplyURI(d.dsn))
		if err != nil {
			return nil, wrap("connect", d.dbName, err)
		}
		d.client = client
		d.db = client.Database(d.dbName)
	}

	b, err := gridfs.NewBucket(d.db, options.GridFSBucket().SetName(d.name))
	if err != nil {
		return nil, wrap("bucket", d.name, err)
	}
	d.bucket = b
	return b, nil
}

// Close disconnects the client the driver opened.
func (d *Driver) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.client == nil {
		return nil
	}
	err := d.client.Disconnect(context.Background())
	d.client, d.db, d.bucket = nil, nil, nil
	return err
}

// key maps path to a GridFS file name, rejecting paths outside the bucket.
func key(path string) (string, error) {
	k, err := storage.CleanFile(path)
	if err != nil {
		return "", fmt.Errorf("storage/gridfs: %w", err)
	}
	return k, nil
}

func wrap(op, path string, err error) error {
	var cmdErr mongo.CommandError
	switch {
	case errors.Is(err, gridfs.ErrFileNotFound), errors.Is(err, mongo.ErrNoDocuments):
		err = storage.ErrFileNotFound
	case errors.As(err, &cmdErr) && (cmdErr.Code == 13 || cmdErr.Code == 18):
		// Unauthorized, AuthenticationFailed
		err = fmt.Errorf("%w: %v", storage.ErrUnauthenticated, err)
	}
	return fmt.Errorf("storage/gridfs: %s %s: %w", op, path, err)
}

// revisions returns every files document named name, newest first.
func (d *Driver) revisions(ctx context.Context, name string) ([]fileDoc, error) {
	b, err := d.gridfs(ctx)
	if err != nil {
		return nil, err
	}
	opts := options.Find().SetSort(bson.D{{Key: "uploadDate", Value: -1}})
	cur, err := b.GetFilesCollection().Find(ctx, bson.D{{Key: "filename", Value: name}}, opts)
	if err != nil {
		return nil, err
	}
	var docs []fileDoc
	if err := cur.All(ctx, &docs); err != nil {
		return nil, err
	}
	return docs, nil
}

func (d *Driver) latest(ctx context.Context, path string) (*fileDoc, error) {
	name, err := key(path)
	if err != nil {
		return nil, err
	}
	docs, err := d.revisions(ctx, name)
	if err != nil {
		return nil, wrap("stat", path, err)
	}
	if len(docs) == 0 {
		return nil, wrap("stat", path, storage.ErrFileNotFound)
	}
	return &docs[0], nil
}

// ── Write ─────────────────────────────────────────────────────────────────────

func (d *Driver) Put(ctx context.Context, path string, r io.Reader) (storage.Metadata, error) {
	name, err := key(path)
	if err != nil {
		return nil, err
	}
	b, err := d.gridfs(ctx)
	if err != nil {
		return nil, err
	}

	up, err := b.OpenUploadStream(name)
	if err != nil {
		return nil, wrap("put", path, err)
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = up.SetWriteDeadline(deadline)
	}
	n, err := io.Copy(up, r)
	if err != nil {
		_ = up.Abort()
		return nil, wrap("put", path, err)
	}
	if err := up.Close(); err != nil {
		return nil, wrap("put", path, err)
	}

	id, _ := up.FileID.(primitive.ObjectID)
	if err := d.deleteOlder(ctx, name, id); err != nil {
		return nil, wrap("put", path, err)
	}
	return storage.Metadata{"size": n, "id": id.Hex()}, nil
}

func (d *Driver) deleteOlder(ctx context.Context, name string, keep primitive.ObjectID) error {
	docs, err := d.revisions(ctx, name)
	if err != nil {
		return err
	}
	for _, doc := range docs {
		if doc.ID == keep {
			continue
		}
		if err := d.bucket.DeleteContext(ctx, doc.ID); err != nil && !errors.Is(err, gridfs.ErrFileNotFound) {
			return err
		}
	}
	return nil
}

// ── Read ──────────────────────────────────────────────────────────────────────

func (d *Driver) Get(ctx context.Context, path string) (io.ReadCloser, error) {
	doc, err := d.latest(ctx, path)
	if err != nil {
		return nil, err
	}
	stream, err := d.bucket.OpenDownloadStream(doc.ID)
	if err != nil {
		return nil, wrap("get", path, err)
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = stream.SetReadDeadline(deadline)
	}
	return stream, nil
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
	name, err := key(path)
	if err != nil {
		return false, err
	}
	b, err := d.gridfs(ctx)
	if err != nil {
		return false, err
	}
	n, err := b.GetFilesCollection().CountDocuments(ctx, bson.D{{Key: "filename", Value: name}})
	if err != nil {
		return false, wrap("exists", path, err)
	}
	return n > 0, nil
}

func (d *Driver) Size(ctx context.Context, path string) (int64, error) {
	doc, err := d.latest(ctx, path)
	if err != nil {
		return 0, err
	}
	return doc.Length, nil
}

func (d *Driver) LastModified(ctx context.Context, path string) (int64, error) {
	doc, err := d.latest(ctx, path)
	if err != nil {
		return 0, err
	}
	return doc.UploadDate.UnixMilli(), nil
}

func (d *Driver) URL(path string) string {
	return d.baseURL + "/" + strings.TrimLeft(path, "/")
}

// ── Delete / Copy / Move ──────────────────────────────────────────────────────

// Delete removes every revision of path.
func (d *Driver) Delete(ctx context.Context, path string) error {
	name, err := key(path)
	if err != nil {
		return err
	}
	docs, err := d.revisions(ctx, name)
	if err != nil {
		return wrap("delete", path, err)
	}
	if len(docs) == 0 {
		return wrap("delete", path, storage.ErrFileNotFound)
	}
	for _, doc := range docs {
		if err := d.bucket.DeleteContext(ctx, doc.ID); err != nil {
			return wrap("delete", path, err)
		}
	}
	return nil
}

func (d *Driver) Copy(ctx context.Context, src, dst string) error {
	return storage.CopyVia(ctx, d, src, dst)
}

// Move renames every revision of src after dropping any file at dst.
func (d *Driver) Move(ctx context.Context, src, dst string) error {
	from, err := key(src)
	if err != nil {
		return err
	}
	to, err := key(dst)
	if err != nil {
		return err
	}
	docs, err := d.revisions(ctx, from)
	if err != nil {
		return wrap("move", src, err)
	}
	if len(docs) == 0 {
		return wrap("move", src, storage.ErrFileNotFound)
	}
	if err := d.deleteOlder(ctx, to, primitive.NilObjectID); err != nil {
		return wrap("move", dst, err)
	}
	for _, doc := range docs {
		if err := d.bucket.RenameContext(ctx, doc.ID, to); err != nil {
			return wrap("move", src, err)
		}
	}
	return nil
}

// ── Directories ───────────────────────────────────────────────────────────────

// MakeDir only validates dir; GridFS names are flat.
func (d *Driver) MakeDir(_ context.Context, dir string) (string, error) {
	if _, err := prefix(dir); err != nil {
		return "", err
	}
	return dir, nil
}

// RemoveDir deletes every file whose name starts with dir/.
func (d *Driver) RemoveDir(ctx context.Context, dir string) (string, error) {
	sub, err := storage.CleanRemovableDir(dir)
	if err != nil {
		return "", fmt.Errorf("storage/gridfs: %w", err)
	}
	docs, err := d.under(ctx, sub+"/")
	if err != nil {
		return "", wrap("rmdir", dir, err)
	}
	for _, doc := range docs {
		if err := d.bucket.DeleteContext(ctx, doc.ID); err != nil && !errors.Is(err, gridfs.ErrFileNotFound) {
			return "", wrap("rmdir", dir, err)
		}
	}
	return dir, nil
}

func (d *Driver) List(ctx context.Context, dir string, recursive bool) ([]string, error) {
	pfx, err := prefix(dir)
	if err != nil {
		return nil, err
	}
	docs, err := d.under(ctx, pfx)
	if err != nil {
		return nil, wrap("list", dir, err)
	}
	names := make([]string, 0, len(docs))
	for _, doc := range docs {
		names = append(names, doc.Name)
	}
	return filterNames(names, pfx, recursive), nil
}

// under returns the files documents whose names start with pfx.
func (d *Driver) under(ctx context.Context, pfx string) ([]fileDoc, error) {
	b, err := d.gridfs(ctx)
	if err != nil {
		return nil, err
	}
	filter := bson.D{{Key: "filename", Value: primitive.Regex{Pattern: "^" + regexp.QuoteMeta(pfx)}}}
	cur, err := b.GetFilesCollection().Find(ctx, filter)
	if err != nil {
		return nil, err
	}
	var docs []fileDoc
	if err := cur.All(ctx, &docs); err != nil {
		return nil, err
	}
	return docs, nil
}

func prefix(dir string) (string, error) {
	p, err := storage.CleanPath(dir)
	if err != nil {
		return "", fmt.Errorf("storage/gridfs: %w", err)
	}
	if p != "" {
		p += "/"
	}
	return p, nil
}

// filterNames dedupes revisions, drops names in subdirectories unless
// recursive, and sorts.
func filterNames(names []string, pfx string, recursive bool) []string {
	seen := make(map[string]struct{}, len(names))
	out := []string{}
	for _, n := range names {
		if !strings.HasPrefix(n, pfx) {
			continue
		}
		if !recursive && strings.Contains(n[len(pfx):], "/") {
			continue
		}
		if _, dup := seen[n]; dup {
			continue
		}
		seen[n] = struct{}{}
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

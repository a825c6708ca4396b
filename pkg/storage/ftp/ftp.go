// Package ftp registers the "ftp" storage driver. Every operation opens
// its own control connection, so a driver is safe for concurrent use.
package ftp

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/textproto"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/jlaffaye/ftp"

	"github.com/shashiranjanraj/filestore/pkg/storage"
)

const (
	defaultPort    = 21
	defaultTimeout = 30 * time.Second
)

func init() {
	storage.Register(storage.DriverFTP, func(cfg storage.DiskConfig) (storage.Driver, error) {
		return New(cfg)
	})
}

// Driver is the FTP driver.
type Driver struct {
	storage.Base

	addr     string
	username string
	password string
	root     string
	baseURL  string
	timeout  time.Duration
}

// New validates cfg. No connection is made until the first operation.
func New(cfg storage.DiskConfig) (*Driver, error) {
	if cfg.Host == "" {
		return nil, errors.New("storage/ftp: host is required")
	}
	port := cfg.Port
	if port == 0 {
		port = defaultPort
	}
	username := cfg.Username
	if username == "" {
		username = "anonymous"
	}
	root := path.Join("/", cfg.Root)

	baseURL := cfg.PublicURL
	if baseURL == "" {
		baseURL = "ftp://" + cfg.Host + strings.TrimRight(root, "/")
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	return &Driver{
		Base:     storage.NewBase(cfg),
		addr:     net.JoinHostPort(cfg.Host, strconv.Itoa(port)),
		username: username,
		password: cfg.Password,
		root:     root,
		baseURL:  strings.TrimRight(baseURL, "/"),
		timeout:  timeout,
	}, nil
}

// Init checks that the server accepts the credentials.
func (d *Driver) Init(ctx context.Context) error {
	c, err := d.dial(ctx)
	if err != nil {
		return err
	}
	return c.Quit()
}

func (d *Driver) dial(ctx context.Context) (*ftp.ServerConn, error) {
	c, err := ftp.Dial(d.addr, ftp.DialWithContext(ctx), ftp.DialWithTimeout(d.timeout))
	if err != nil {
		return nil, fmt.Errorf("storage/ftp: dial %s: %w", d.addr, err)
	}
	if err := c.Login(d.username, d.password); err != nil {
		_ = c.Quit()
		return nil, wrap("login", d.username, err)
	}
	return c, nil
}

// with runs fn on a fresh connection.
func (d *Driver) with(ctx context.Context, fn func(c *ftp.ServerConn) error) error {
	c, err := d.dial(ctx)
	if err != nil {
		return err
	}
	defer c.Quit()
	return fn(c)
}

// abs maps p below the root. Paths that climb out of it are rejected.
func (d *Driver) abs(p string) (string, error) {
	c, err := storage.CleanPath(p)
	if err != nil {
		return "", fmt.Errorf("storage/ftp: %w", err)
	}
	return path.Join(d.root, c), nil
}

// file is abs for paths that must name a file.
func (d *Driver) file(p string) (string, error) {
	c, err := storage.CleanFile(p)
	if err != nil {
		return "", fmt.Errorf("storage/ftp: %w", err)
	}
	return path.Join(d.root, c), nil
}

func code(err error) int {
	var te *textproto.Error
	if errors.As(err, &te) {
		return te.Code
	}
	return 0
}

func wrap(op, p string, err error) error {
	switch code(err) {
	case ftp.StatusNotLoggedIn:
		err = fmt.Errorf("%w: %v", storage.ErrUnauthenticated, err)
	case ftp.StatusFileUnavailable:
		err = storage.ErrFileNotFound
	}
	return fmt.Errorf("storage/ftp: %s %s: %w", op, p, err)
}

// ── Write ─────────────────────────────────────────────────────────────────────

func (d *Driver) Put(ctx context.Context, p string, r io.Reader) (storage.Metadata, error) {
	full, err := d.file(p)
	if err != nil {
		return nil, err
	}
	cr := &countingReader{r: r}
	err = d.with(ctx, func(c *ftp.ServerConn) error {
		if err := mkdirAll(c, path.Dir(full)); err != nil {
			return wrap("mkdir", p, err)
		}
		if err := c.Stor(full, cr); err != nil {
			return wrap("put", p, err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return storage.Metadata{"size": cr.n}, nil
}

type countingReader struct {
	r io.Reader
	n int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	return n, err
}

// ── Read ──────────────────────────────────────────────────────────────────────

// Get streams the file. The connection stays open until the reader is
// closed.
func (d *Driver) Get(ctx context.Context, p string) (io.ReadCloser, error) {
	full, err := d.file(p)
	if err != nil {
		return nil, err
	}
	c, err := d.dial(ctx)
	if err != nil {
		return nil, err
	}
	resp, err := c.Retr(full)
	if err != nil {
		_ = c.Quit()
		return nil, wrap("get", p, err)
	}
	return &retrReader{Response: resp, conn: c}, nil
}

type retrReader struct {
	*ftp.Response
	conn *ftp.ServerConn
}

func (r *retrReader) Close() error {
	err := r.Response.Close()
	if qerr := r.conn.Quit(); err == nil {
		err = qerr
	}
	return err
}

func (d *Driver) ImageStats(ctx context.Context, p string, keepBuffer bool) (*storage.ImageStats, error) {
	rc, err := d.Get(ctx, p)
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return storage.ReadImageStats(rc, keepBuffer)
}

// ── Metadata ──────────────────────────────────────────────────────────────────

func (d *Driver) Exists(ctx context.Context, p string) (bool, error) {
	_, err := d.Size(ctx, p)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, storage.ErrFileNotFound):
		return false, nil
	default:
		return false, err
	}
}

func (d *Driver) Size(ctx context.Context, p string) (int64, error) {
	full, err := d.file(p)
	if err != nil {
		return 0, err
	}
	var n int64
	err = d.with(ctx, func(c *ftp.ServerConn) error {
		var err error
		if n, err = c.FileSize(full); err != nil {
			return wrap("size", p, err)
		}
		return nil
	})
	return n, err
}

func (d *Driver) LastModified(ctx context.Context, p string) (int64, error) {
	full, err := d.file(p)
	if err != nil {
		return 0, err
	}
	var t time.Time
	err = d.with(ctx, func(c *ftp.ServerConn) error {
		var err error
		if t, err = c.GetTime(full); err != nil {
			return wrap("stat", p, err)
		}
		return nil
	})
	return t.UnixMilli(), err
}

func (d *Driver) URL(p string) string {
	return d.baseURL + "/" + strings.TrimLeft(p, "/")
}

// ── Delete / Copy / Move ──────────────────────────────────────────────────────

func (d *Driver) Delete(ctx context.Context, p string) error {
	full, err := d.file(p)
	if err != nil {
		return err
	}
	return d.with(ctx, func(c *ftp.ServerConn) error {
		if err := c.Delete(full); err != nil {
			return wrap("delete", p, err)
		}
		return nil
	})
}

func (d *Driver) Copy(ctx context.Context, src, dst string) error {
	return storage.CopyVia(ctx, d, src, dst)
}

func (d *Driver) Move(ctx context.Context, src, dst string) error {
	from, err := d.file(src)
	if err != nil {
		return err
	}
	to, err := d.file(dst)
	if err != nil {
		return err
	}
	return d.with(ctx, func(c *ftp.ServerConn) error {
		if err := mkdirAll(c, path.Dir(to)); err != nil {
			return wrap("mkdir", dst, err)
		}
		if err := c.Rename(from, to); err != nil {
			return wrap("move", src, err)
		}
		return nil
	})
}

// ── Directories ───────────────────────────────────────────────────────────────

func (d *Driver) MakeDir(ctx context.Context, dir string) (string, error) {
	full, err := d.abs(dir)
	if err != nil {
		return "", err
	}
	err = d.with(ctx, func(c *ftp.ServerConn) error {
		if err := mkdirAll(c, full); err != nil {
			return wrap("mkdir", dir, err)
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	return dir, nil
}

func (d *Driver) RemoveDir(ctx context.Context, dir string) (string, error) {
	sub, err := storage.CleanRemovableDir(dir)
	if err != nil {
		return "", fmt.Errorf("storage/ftp: %w", err)
	}
	full := path.Join(d.root, sub)
	err = d.with(ctx, func(c *ftp.ServerConn) error {
		err := c.RemoveDirRecur(full)
		if err != nil && code(err) != ftp.StatusFileUnavailable {
			return wrap("rmdir", dir, err)
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	return dir, nil
}

// List returns file paths relative to the disk root.
func (d *Driver) List(ctx context.Context, dir string, recursive bool) ([]string, error) {
	full, err := d.abs(dir)
	if err != nil {
		return nil, err
	}
	var out []string
	err = d.with(ctx, func(c *ftp.ServerConn) error {
		if !recursive {
			entries, err := c.List(full)
			if err != nil {
				return wrap("list", dir, err)
			}
			for _, e := range entries {
				if e.Type == ftp.EntryTypeFile {
					out = append(out, d.rel(path.Join(full, e.Name)))
				}
			}
			return nil
		}

		w := c.Walk(full)
		for w.Next() {
			if w.Stat().Type == ftp.EntryTypeFile {
				out = append(out, d.rel(w.Path()))
			}
		}
		if err := w.Err(); err != nil {
			return wrap("list", dir, err)
		}
		return nil
	})
	return out, err
}

func (d *Driver) rel(full string) string {
	return strings.TrimPrefix(strings.TrimPrefix(full, d.root), "/")
}

// mkdirAll creates dir and its parents. A failing MKD is accepted when the
// directory turns out to exist.
func mkdirAll(c *ftp.ServerConn, dir string) error {
	if dir == "/" || dir == "." {
		return nil
	}
	cur := ""
	for _, part := range strings.Split(strings.Trim(dir, "/"), "/") {
		cur += "/" + part
		if err := c.MakeDir(cur); err != nil {
			if cerr := c.ChangeDir(cur); cerr != nil {
				return err
			}
		}
	}
	return nil
}

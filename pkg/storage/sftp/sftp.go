// Package sftp registers the "sftp" storage driver. One SSH connection is
// opened per driver, on Init or first use, and shared by its operations.
package sftp

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"net"
	"os"
	"path"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"

	"github.com/shashiranjanraj/filestore/pkg/storage"
)

const (
	defaultPort    = 22
	defaultTimeout = 30 * time.Second
)

func init() {
	storage.Register(storage.DriverSFTP, func(cfg storage.DiskConfig) (storage.Driver, error) {
		return New(cfg)
	})
}

// Driver is the SFTP driver.
type Driver struct {
	storage.Base

	addr    string
	ssh     *ssh.ClientConfig
	root    string
	baseURL string

	mu     sync.Mutex
	conn   *ssh.Client
	client *sftp.Client
}

// New builds the SSH client configuration from cfg. Password and
// PrivateKey (PEM text or a path to a PEM file) may both be set. Without
// HostKey (an authorized_keys line) the server key is not verified.
func New(cfg storage.DiskConfig) (*Driver, error) {
	if cfg.Host == "" {
		return nil, errors.New("storage/sftp: host is required")
	}
	port := cfg.Port
	if port == 0 {
		port = defaultPort
	}

	var auth []ssh.AuthMethod
	if cfg.PrivateKey != "" {
		signer, err := parseKey(cfg.PrivateKey)
		if err != nil {
			return nil, err
		}
		auth = append(auth, ssh.PublicKeys(signer))
	}
	if cfg.Password != "" {
		auth = append(auth, ssh.Password(cfg.Password))
	}
	if len(auth) == 0 {
		return nil, errors.New("storage/sftp: password or private_key is required")
	}

	hostKey := ssh.InsecureIgnoreHostKey()
	if cfg.HostKey != "" {
		pub, _, _, _, err := ssh.ParseAuthorizedKey([]byte(cfg.HostKey))
		if err != nil {
			return nil, fmt.Errorf("storage/sftp: parse host key: %w", err)
		}
		hostKey = ssh.FixedHostKey(pub)
	} else {
		slog.Warn("sftp disk has no host_key, server identity is not verified", "disk", cfg.Name)
	}

	root := cfg.Root
	if root == "" {
		root = "."
	}
	baseURL := cfg.PublicURL
	if baseURL == "" {
		baseURL = "sftp://" + cfg.Host + "/" + strings.Trim(cfg.Root, "/")
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	return &Driver{
		Base: storage.NewBase(cfg),
		addr: net.JoinHostPort(cfg.Host, strconv.Itoa(port)),
		ssh: &ssh.ClientConfig{
			User:            cfg.Username,
			Auth:            auth,
			HostKeyCallback: hostKey,
			Timeout:         timeout,
		},
		root:    root,
		baseURL: strings.TrimRight(baseURL, "/"),
	}, nil
}

// NewWithClient returns a driver over an existing SFTP session. Close
// leaves the session open.
func NewWithClient(cfg storage.DiskConfig, client *sftp.Client) *Driver {
	root := cfg.Root
	if root == "" {
		root = "."
	}
	return &Driver{
		Base:    storage.NewBase(cfg),
		root:    root,
		baseURL: strings.TrimRight(cfg.PublicURL, "/"),
		client:  client,
	}
}

func parseKey(key string) (ssh.Signer, error) {
	pem := []byte(key)
	if !strings.HasPrefix(strings.TrimSpace(key), "-----BEGIN") {
		data, err := os.ReadFile(key)
		if err != nil {
			return nil, fmt.Errorf("storage/sftp: read private key: %w", err)
		}
		pem = data
	}
	signer, err := ssh.ParsePrivateKey(pem)
	if err != nil {
		return nil, fmt.Errorf("storage/sftp: parse private key: %w", err)
	}
	return signer, nil
}

// Init connects eagerly.
func (d *Driver) Init(ctx context.Context) error {
	_, err := d.sftp(ctx)
	return err
}

func (d *Driver) sftp(ctx context.Context) (*sftp.Client, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.client != nil {
		return d.client, nil
	}

	dialer := net.Dialer{Timeout: d.ssh.Timeout}
	raw, err := dialer.DialContext(ctx, "tcp", d.addr)
	if err != nil {
		return nil, fmt.Errorf("storage/sftp: dial %s: %w", d.addr, err)
	}
	c, chans, reqs, err := ssh.NewClientConn(raw, d.addr, d.ssh)
	if err != nil {
		_ = raw.Close()
		if strings.Contains(err.Error(), "unable to authenticate") {
			err = fmt.Errorf("%w: %v", storage.ErrUnauthenticated, err)
		}
		return nil, fmt.Errorf("storage/sftp: handshake %s: %w", d.addr, err)
	}
	conn := ssh.NewClient(c, chans, reqs)

	client, err := sftp.NewClient(conn)
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("storage/sftp: start subsystem: %w", err)
	}
	d.conn, d.client = conn, client
	return client, nil
}

// Close ends the SFTP session and the SSH connection the driver opened.
func (d *Driver) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.conn == nil {
		return nil
	}
	err := errors.Join(d.client.Close(), d.conn.Close())
	d.conn, d.client = nil, nil
	return err
}

// abs maps p below the root. Paths that climb out of it are rejected.
func (d *Driver) abs(p string) (string, error) {
	c, err := storage.CleanPath(p)
	if err != nil {
		return "", fmt.Errorf("storage/sftp: %w", err)
	}
	return path.Join(d.root, c), nil
}

// file is abs for paths that must name a file.
func (d *Driver) file(p string) (string, error) {
	c, err := storage.CleanFile(p)
	if err != nil {
		return "", fmt.Errorf("storage/sftp: %w", err)
	}
	return path.Join(d.root, c), nil
}

func (d *Driver) rel(full string) string {
	return strings.TrimPrefix(strings.TrimPrefix(full, d.root), "/")
}

func wrap(op, p string, err error) error {
	switch {
	case errors.Is(err, fs.ErrNotExist):
		err = storage.ErrFileNotFound
	case errors.Is(err, fs.ErrPermission):
		err = fmt.Errorf("%w: %v", storage.ErrUnauthenticated, err)
	}
	return fmt.Errorf("storage/sftp: %s %s: %w", op, p, err)
}

// ── Write ─────────────────────────────────────────────────────────────────────

func (d *Driver) Put(ctx context.Context, p string, r io.Reader) (storage.Metadata, error) {
	full, err := d.file(p)
	if err != nil {
		return nil, err
	}
	c, err := d.sftp(ctx)
	if err != nil {
		return nil, err
	}
	if err := c.MkdirAll(path.Dir(full)); err != nil {
		return nil, wrap("mkdir", p, err)
	}
	f, err := c.Create(full)
	if err != nil {
		return nil, wrap("create", p, err)
	}
	n, err := f.ReadFrom(r)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return nil, wrap("write", p, err)
	}
	return storage.Metadata{"size": n}, nil
}

// ── Read ──────────────────────────────────────────────────────────────────────

func (d *Driver) Get(ctx context.Context, p string) (io.ReadCloser, error) {
	full, err := d.file(p)
	if err != nil {
		return nil, err
	}
	c, err := d.sftp(ctx)
	if err != nil {
		return nil, err
	}
	f, err := c.Open(full)
	if err != nil {
		return nil, wrap("open", p, err)
	}
	return f, nil
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

func (d *Driver) stat(ctx context.Context, p string) (fs.FileInfo, error) {
	full, err := d.file(p)
	if err != nil {
		return nil, err
	}
	c, err := d.sftp(ctx)
	if err != nil {
		return nil, err
	}
	info, err := c.Stat(full)
	if err != nil {
		return nil, wrap("stat", p, err)
	}
	return info, nil
}

func (d *Driver) Exists(ctx context.Context, p string) (bool, error) {
	_, err := d.stat(ctx, p)
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
	info, err := d.stat(ctx, p)
	if err != nil {
		return 0, err
	}
	return info.Size(), nil
}

func (d *Driver) LastModified(ctx context.Context, p string) (int64, error) {
	info, err := d.stat(ctx, p)
	if err != nil {
		return 0, err
	}
	return info.ModTime().UnixMilli(), nil
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
	c, err := d.sftp(ctx)
	if err != nil {
		return err
	}
	if err := c.Remove(full); err != nil {
		return wrap("delete", p, err)
	}
	return nil
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
	c, err := d.sftp(ctx)
	if err != nil {
		return err
	}
	if _, err := c.Stat(from); err != nil {
		return wrap("move", src, err)
	}
	if err := c.MkdirAll(path.Dir(to)); err != nil {
		return wrap("mkdir", dst, err)
	}
	if err := c.Rename(from, to); err != nil {
		return wrap("move", src, err)
	}
	return nil
}

// ── Directories ───────────────────────────────────────────────────────────────

func (d *Driver) MakeDir(ctx context.Context, dir string) (string, error) {
	full, err := d.abs(dir)
	if err != nil {
		return "", err
	}
	c, err := d.sftp(ctx)
	if err != nil {
		return "", err
	}
	if err := c.MkdirAll(full); err != nil {
		return "", wrap("mkdir", dir, err)
	}
	return dir, nil
}

func (d *Driver) RemoveDir(ctx context.Context, dir string) (string, error) {
	sub, err := storage.CleanRemovableDir(dir)
	if err != nil {
		return "", fmt.Errorf("storage/sftp: %w", err)
	}
	c, err := d.sftp(ctx)
	if err != nil {
		return "", err
	}
	if err := c.RemoveAll(path.Join(d.root, sub)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return "", wrap("rmdir", dir, err)
	}
	return dir, nil
}

// List returns file paths relative to the disk root. A missing directory
// lists as empty.
func (d *Driver) List(ctx context.Context, dir string, recursive bool) ([]string, error) {
	full, err := d.abs(dir)
	if err != nil {
		return nil, err
	}
	c, err := d.sftp(ctx)
	if err != nil {
		return nil, err
	}

	var out []string
	if !recursive {
		entries, err := c.ReadDir(full)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil, nil
			}
			return nil, wrap("list", dir, err)
		}
		for _, e := range entries {
			if e.Mode().IsRegular() {
				out = append(out, d.rel(path.Join(full, e.Name())))
			}
		}
		return out, nil
	}

	w := c.Walk(full)
	for w.Step() {
		if err := w.Err(); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return nil, wrap("list", dir, err)
		}
		if w.Stat().Mode().IsRegular() {
			out = append(out, d.rel(w.Path()))
		}
	}
	return out, nil
}

package ftp

import (
	"fmt"
	"io"
	"net"
	"net/textproto"
	"path"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// fakeServer is an in-memory FTP server speaking the subset of RFC 959 and
// RFC 3659 the client library uses: login, EPSV data connections, STOR,
// RETR, SIZE, MDTM, DELE, RNFR/RNTO, MKD, RMD, CWD, CDUP, PWD and LIST.
type fakeServer struct {
	ln       net.Listener
	user     string
	password string
	mtime    time.Time

	mu    sync.Mutex
	files map[string][]byte
	dirs  map[string]bool
}

func newFakeServer(t *testing.T) *fakeServer {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	f := &fakeServer{
		ln:       ln,
		user:     "bob",
		password: "secret",
		mtime:    time.Date(2023, 11, 14, 22, 13, 20, 0, time.UTC),
		files:    map[string][]byte{},
		dirs:     map[string]bool{"/": true},
	}
	go f.serve()
	t.Cleanup(func() { _ = ln.Close() })
	return f
}

func (f *fakeServer) port() int { return f.ln.Addr().(*net.TCPAddr).Port }

func (f *fakeServer) serve() {
	for {
		c, err := f.ln.Accept()
		if err != nil {
			return
		}
		go f.session(c)
	}
}

// file returns a stored file and whether it exists.
func (f *fakeServer) file(p string) ([]byte, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.files[p]
	return data, ok
}

type session struct {
	f      *fakeServer
	tc     *textproto.Conn
	cwd    string
	user   string
	authed bool
	data   net.Listener
	from   string
}

func (f *fakeServer) session(c net.Conn) {
	s := &session{f: f, tc: textproto.NewConn(c), cwd: "/"}
	defer s.tc.Close()
	defer s.closeData()

	s.reply(220, "fake ftp ready")
	for {
		line, err := s.tc.ReadLine()
		if err != nil {
			return
		}
		cmd, arg, _ := strings.Cut(line, " ")
		if !s.handle(strings.ToUpper(cmd), arg) {
			return
		}
	}
}

func (s *session) reply(code int, format string, args ...any) {
	_ = s.tc.PrintfLine("%d %s", code, fmt.Sprintf(format, args...))
}

func (s *session) abs(p string) string {
	if !strings.HasPrefix(p, "/") {
		p = path.Join(s.cwd, p)
	}
	return path.Clean(p)
}

func (s *session) closeData() {
	if s.data != nil {
		_ = s.data.Close()
		s.data = nil
	}
}

// accept takes the data connection the client opened after EPSV.
func (s *session) accept() (net.Conn, bool) {
	if s.data == nil {
		s.reply(425, "use EPSV first")
		return nil, false
	}
	defer s.closeData()
	c, err := s.data.Accept()
	if err != nil {
		s.reply(425, "cannot open data connection")
		return nil, false
	}
	return c, true
}

func (s *session) handle(cmd, arg string) bool {
	f := s.f
	switch cmd {
	case "FEAT":
		_ = s.tc.PrintfLine("211-Features:")
		_ = s.tc.PrintfLine(" MDTM")
		_ = s.tc.PrintfLine(" SIZE")
		_ = s.tc.PrintfLine("211 End")
		return true
	case "USER":
		s.user = arg
		s.reply(331, "password required")
		return true
	case "PASS":
		if s.user != f.user || arg != f.password {
			s.reply(530, "login incorrect")
			return true
		}
		s.authed = true
		s.reply(230, "logged in")
		return true
	case "QUIT":
		s.reply(221, "bye")
		return false
	}
	if !s.authed {
		s.reply(530, "not logged in")
		return true
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	switch cmd {
	case "TYPE", "OPTS":
		s.reply(200, "ok")
	case "EPSV":
		s.closeData()
		ln, err := net.Listen("tcp", "127.0.0.1:0")
		if err != nil {
			s.reply(425, "cannot listen")
			return true
		}
		s.data = ln
		s.reply(229, "Entering Extended Passive Mode (|||%d|)", ln.Addr().(*net.TCPAddr).Port)
	case "PWD":
		s.reply(257, "%q is the current directory", s.cwd)
	case "CWD":
		p := s.abs(arg)
		if !f.dirs[p] {
			s.reply(550, "no such directory")
			return true
		}
		s.cwd = p
		s.reply(250, "ok")
	case "CDUP":
		s.cwd = path.Dir(s.cwd)
		s.reply(250, "ok")
	case "MKD":
		p := s.abs(arg)
		if f.dirs[p] || !f.dirs[path.Dir(p)] {
			s.reply(550, "cannot create %s", p)
			return true
		}
		f.dirs[p] = true
		s.reply(257, "%q created", p)
	case "RMD":
		p := s.abs(arg)
		if !f.dirs[p] || len(f.children(p)) > 0 {
			s.reply(550, "cannot remove %s", p)
			return true
		}
		delete(f.dirs, p)
		s.reply(250, "removed")
	case "SIZE":
		data, ok := f.files[s.abs(arg)]
		if !ok {
			s.reply(550, "no such file")
			return true
		}
		s.reply(213, "%d", len(data))
	case "MDTM":
		if _, ok := f.files[s.abs(arg)]; !ok {
			s.reply(550, "no such file")
			return true
		}
		s.reply(213, "%s", f.mtime.Format("20060102150405"))
	case "DELE":
		p := s.abs(arg)
		if _, ok := f.files[p]; !ok {
			s.reply(550, "no such file")
			return true
		}
		delete(f.files, p)
		s.reply(250, "deleted")
	case "RNFR":
		p := s.abs(arg)
		if _, ok := f.files[p]; !ok {
			s.reply(550, "no such file")
			return true
		}
		s.from = p
		s.reply(350, "ready for RNTO")
	case "RNTO":
		p := s.abs(arg)
		if s.from == "" || !f.dirs[path.Dir(p)] {
			s.reply(550, "cannot rename")
			return true
		}
		f.files[p] = f.files[s.from]
		delete(f.files, s.from)
		s.from = ""
		s.reply(250, "renamed")
	case "STOR":
		p := s.abs(arg)
		if !f.dirs[path.Dir(p)] {
			s.closeData()
			s.reply(550, "no such directory")
			return true
		}
		c, ok := s.accept()
		if !ok {
			return true
		}
		s.reply(150, "send data")
		data, err := io.ReadAll(c)
		_ = c.Close()
		if err != nil {
			s.reply(426, "transfer aborted")
			return true
		}
		f.files[p] = data
		s.reply(226, "stored")
	case "RETR":
		data, ok := f.files[s.abs(arg)]
		if !ok {
			s.closeData()
			s.reply(550, "no such file")
			return true
		}
		c, ok := s.accept()
		if !ok {
			return true
		}
		s.reply(150, "sending")
		_, _ = c.Write(data)
		_ = c.Close()
		s.reply(226, "done")
	case "LIST":
		p := s.abs(arg)
		if !f.dirs[p] {
			s.closeData()
			s.reply(550, "no such directory")
			return true
		}
		c, ok := s.accept()
		if !ok {
			return true
		}
		s.reply(150, "listing")
		for _, name := range f.children(p) {
			full := path.Join(p, name)
			if f.dirs[full] {
				_, _ = fmt.Fprintf(c, "drwxr-xr-x 1 ftp ftp 0 Nov 14 22:13 %s\r\n", name)
			} else {
				_, _ = fmt.Fprintf(c, "-rw-r--r-- 1 ftp ftp %d Nov 14 22:13 %s\r\n", len(f.files[full]), name)
			}
		}
		_ = c.Close()
		s.reply(226, "done")
	default:
		s.reply(502, "%s not implemented", cmd)
	}
	return true
}

// children returns the sorted names directly under dir. Callers hold mu.
func (f *fakeServer) children(dir string) []string {
	var out []string
	add := func(p string) {
		if p != dir && path.Dir(p) == dir {
			out = append(out, path.Base(p))
		}
	}
	for p := range f.files {
		add(p)
	}
	for p := range f.dirs {
		add(p)
	}
	sort.Strings(out)
	return out
}

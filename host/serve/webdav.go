package serve

import (
	"context"
	"net/http"
	"os"
	"path"

	"github.com/fclairamb/go-log"
	"github.com/gorilla/handlers"
	"github.com/spf13/afero"
	"golang.org/x/net/webdav"
)

// FS adapts an afero.Fs to webdav.FileSystem. Names are rooted before
// they reach the afero.Fs: webdav.Handler strips its prefix, so a "/"
// prefix leaves them relative.
type FS struct {
	afero.Fs
	log log.Logger
}

var _ webdav.FileSystem = (*FS)(nil)

func newFS(fs afero.Fs, logger log.Logger) *FS {
	return &FS{Fs: fs, log: logger}
}

func rooted(name string) string {
	return path.Join("/", name)
}

func (f *FS) Mkdir(ctx context.Context, name string, perm os.FileMode) error {
	f.log.Debug("webdav mkdir", "name", name)
	return f.Fs.Mkdir(rooted(name), perm)
}

func (f *FS) OpenFile(ctx context.Context, name string, flag int, perm os.FileMode) (webdav.File, error) {
	f.log.Debug("webdav open", "name", name, "flag", flag)
	return f.Fs.OpenFile(rooted(name), flag, perm)
}

func (f *FS) RemoveAll(ctx context.Context, name string) error {
	f.log.Debug("webdav remove", "name", name)
	return f.Fs.RemoveAll(rooted(name))
}

func (f *FS) Rename(ctx context.Context, oldName, newName string) error {
	f.log.Debug("webdav rename", "from", oldName, "to", newName)
	return f.Fs.Rename(rooted(oldName), rooted(newName))
}

func (f *FS) Stat(ctx context.Context, name string) (os.FileInfo, error) {
	return f.Fs.Stat(rooted(name))
}

// NewWebDAVHandler serves fs under prefix. Requests are logged to
// accessLog in Common Log Format when it is not nil, and require basic
// auth when user is set.
func NewWebDAVHandler(fs afero.Fs, cfg *Config) http.Handler {
	var h http.Handler = &webdav.Handler{
		Prefix:     cfg.Prefix,
		FileSystem: newFS(fs, cfg.Logger),
		LockSystem: webdav.NewMemLS(),
		Logger: func(r *http.Request, err error) {
			if err != nil {
				cfg.Logger.Warn("webdav request failed", "method", r.Method, "path", r.URL.Path, "err", err)
			}
		},
	}
	if cfg.User != "" {
		h = basicAuth(h, cfg.User, cfg.Password)
	}
	if cfg.AccessLog != nil {
		h = handlers.LoggingHandler(cfg.AccessLog, h)
	}
	return h
}

func basicAuth(next http.Handler, user, pass string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		u, p, ok := r.BasicAuth()
		if !ok || !credentialsMatch(user, pass, u, p) {
			w.Header().Set("WWW-Authenticate", `Basic realm="sdspi"`)
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

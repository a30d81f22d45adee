// Package serve publishes a filesystem over FTP and WebDAV.
package serve

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"sync"
	"time"

	ftpserver "github.com/fclairamb/ftpserverlib"
	"github.com/fclairamb/go-log"
	"github.com/fclairamb/go-log/noop"
	"github.com/spf13/afero"
)

// Config selects the servers to run. An empty address disables a server.
type Config struct {
	FTPAddr    string
	WebDAVAddr string
	// Prefix is the WebDAV mount path, "/" by default.
	Prefix   string
	User     string
	Password string
	Banner   string
	// AccessLog receives the WebDAV access log.
	AccessLog io.Writer
	Logger    log.Logger
}

func (c *Config) applyDefaults() {
	if c.Prefix == "" {
		c.Prefix = "/"
	}
	if c.Banner == "" {
		c.Banner = "sdspi card image"
	}
	if c.Logger == nil {
		c.Logger = noop.NewNoOpLogger()
	}
}

// ErrNothingToServe is returned by Run when no address is configured.
var ErrNothingToServe = errors.New("serve: no server address configured")

// NewFTPServer returns an FTP server for fs. It is not started.
func NewFTPServer(fs afero.Fs, cfg *Config) *ftpserver.FtpServer {
	c := *cfg
	c.applyDefaults()
	srv := ftpserver.NewFtpServer(&FTPDriver{
		Settings:   &ftpserver.Settings{ListenAddr: c.FTPAddr},
		FileSystem: fs,
		User:       c.User,
		Password:   c.Password,
		Banner:     c.Banner,
		Logger:     c.Logger,
	})
	srv.Logger = c.Logger
	return srv
}

// Run serves fs until ctx is done or a server fails.
func Run(ctx context.Context, fs afero.Fs, cfg *Config) error {
	c := *cfg
	c.applyDefaults()
	if c.FTPAddr == "" && c.WebDAVAddr == "" {
		return ErrNothingToServe
	}

	var (
		wg      sync.WaitGroup
		errOnce sync.Once
		runErr  error
	)
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	fail := func(err error) {
		// errors after shutdown started are expected
		if ctx.Err() == nil {
			errOnce.Do(func() { runErr = err })
		}
		cancel()
	}

	if c.FTPAddr != "" {
		srv := NewFTPServer(fs, &c)
		if err := srv.Listen(); err != nil {
			return err
		}
		c.Logger.Info("ftp listening", "addr", c.FTPAddr)
		wg.Add(2)
		go func() {
			defer wg.Done()
			if err := srv.Serve(); err != nil {
				fail(err)
			}
		}()
		go func() {
			defer wg.Done()
			<-ctx.Done()
			srv.Stop()
		}()
	}

	if c.WebDAVAddr != "" {
		ln, err := net.Listen("tcp", c.WebDAVAddr)
		if err != nil {
			cancel()
			wg.Wait()
			return err
		}
		c.Logger.Info("webdav listening", "addr", ln.Addr().String(), "prefix", c.Prefix)
		server := &http.Server{
			Handler:           NewWebDAVHandler(fs, &c),
			ReadHeaderTimeout: 10 * time.Second,
		}
		wg.Add(2)
		go func() {
			defer wg.Done()
			if err := server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
				fail(err)
			}
		}()
		go func() {
			defer wg.Done()
			<-ctx.Done()
			shutdown, done := context.WithTimeout(context.Background(), 5*time.Second)
			defer done()
			server.Shutdown(shutdown)
		}()
	}

	wg.Wait()
	return runErr
}

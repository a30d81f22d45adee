package serve

import (
	"crypto/subtle"
	"crypto/tls"
	"errors"

	ftpserver "github.com/fclairamb/ftpserverlib"
	"github.com/fclairamb/go-log"
	"github.com/spf13/afero"
)

// ErrBadCredentials is returned for a rejected login.
var ErrBadCredentials = errors.New("serve: bad credentials")

// FTPDriver serves one afero.Fs to every authenticated client.
type FTPDriver struct {
	Settings   *ftpserver.Settings
	FileSystem afero.Fs
	User       string
	Password   string
	Banner     string
	Logger     log.Logger
}

var _ ftpserver.MainDriver = (*FTPDriver)(nil)

func (d *FTPDriver) GetSettings() (*ftpserver.Settings, error) {
	return d.Settings, nil
}

func (d *FTPDriver) ClientConnected(cc ftpserver.ClientContext) (string, error) {
	if cc != nil {
		d.Logger.Info("ftp client connected", "id", cc.ID(), "remote", cc.RemoteAddr())
	}
	return d.Banner, nil
}

func (d *FTPDriver) ClientDisconnected(cc ftpserver.ClientContext) {
	if cc != nil {
		d.Logger.Info("ftp client disconnected", "id", cc.ID())
	}
}

// AuthUser accepts any login when no user is configured.
func (d *FTPDriver) AuthUser(cc ftpserver.ClientContext, user, pass string) (ftpserver.ClientDriver, error) {
	if d.User != "" && !credentialsMatch(d.User, d.Password, user, pass) {
		d.Logger.Warn("ftp login rejected", "user", user)
		return nil, ErrBadCredentials
	}
	return d.FileSystem, nil
}

func (d *FTPDriver) GetTLSConfig() (*tls.Config, error) {
	return nil, errors.New("serve: TLS is not configured")
}

func credentialsMatch(wantUser, wantPass, user, pass string) bool {
	u := subtle.ConstantTimeCompare([]byte(wantUser), []byte(user))
	p := subtle.ConstantTimeCompare([]byte(wantPass), []byte(pass))
	return u&p == 1
}

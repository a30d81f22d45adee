// Package imagefs exposes a card as a flat afero filesystem: the raw
// image in ImageName and a JSON description of the card in InfoName.
// Nothing can be created, removed or renamed.
package imagefs

import (
	"encoding/hex"
	"encoding/json"
	"io"
	"os"
	"path"
	"time"

	"github.com/spf13/afero"
	"github.com/spf13/afero/mem"

	"sdspi/sdcard"
)

const (
	ImageName = "card.img"
	InfoName  = "card.json"
)

// Device is the byte addressed card view. *diskio.Disk satisfies it.
type Device interface {
	io.ReaderAt
	io.WriterAt
	Size() int64
}

// Info is the content of InfoName.
type Info struct {
	Type        string `json:"type"`
	Addressing  string `json:"addressing"`
	Sectors     uint32 `json:"sectors"`
	SectorSize  int    `json:"sector_size"`
	Capacity    uint64 `json:"capacity"`
	CSD         string `json:"csd"`
	Initialized bool   `json:"initialized"`
}

// CardInfo describes c.
func CardInfo(c *sdcard.Card) Info {
	addressing := "byte"
	if c.Type().IsBlockAddressed() {
		addressing = "block"
	}
	csd := c.CSD()
	return Info{
		Type:        c.Type().String(),
		Addressing:  addressing,
		Sectors:     c.SectorCount(),
		SectorSize:  sdcard.SectorSize,
		Capacity:    c.Capacity(),
		CSD:         hex.EncodeToString(csd[:]),
		Initialized: c.IsInitialized(),
	}
}

// Fs is the filesystem view of one card.
type Fs struct {
	dev     Device
	info    func() Info
	modTime time.Time
}

var _ afero.Fs = (*Fs)(nil)

// New returns the filesystem for dev. info is called every time InfoName
// is opened.
func New(dev Device, info func() Info) *Fs {
	return &Fs{dev: dev, info: info, modTime: time.Now()}
}

func (f *Fs) Name() string {
	return "imagefs"
}

func clean(name string) string {
	return path.Clean("/" + name)
}

func (f *Fs) Open(name string) (afero.File, error) {
	return f.OpenFile(name, os.O_RDONLY, 0)
}

func (f *Fs) Create(name string) (afero.File, error) {
	return f.OpenFile(name, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o644)
}

// OpenFile opens one of the fixed entries. The image cannot be truncated,
// so O_TRUNC leaves its content in place. O_APPEND is refused.
func (f *Fs) OpenFile(name string, flag int, perm os.FileMode) (afero.File, error) {
	name = clean(name)
	writable := flag&(os.O_WRONLY|os.O_RDWR) != 0

	switch name {
	case "/":
		if writable {
			return nil, pathErr("open", name, os.ErrPermission)
		}
		return &dirFile{fs: f}, nil
	case "/" + ImageName:
		if flag&os.O_EXCL != 0 {
			return nil, pathErr("open", name, os.ErrExist)
		}
		if flag&os.O_APPEND != 0 {
			return nil, pathErr("open", name, os.ErrInvalid)
		}
		return &imageFile{fs: f, name: name, writable: writable}, nil
	case "/" + InfoName:
		if writable {
			return nil, pathErr("open", name, os.ErrPermission)
		}
		return f.openInfo(name)
	}

	if flag&os.O_CREATE != 0 {
		return nil, pathErr("open", name, os.ErrPermission)
	}
	return nil, pathErr("open", name, os.ErrNotExist)
}

func (f *Fs) openInfo(name string) (afero.File, error) {
	data, err := json.MarshalIndent(f.info(), "", "  ")
	if err != nil {
		return nil, pathErr("open", name, err)
	}
	data = append(data, '\n')

	fd := mem.CreateFile(name)
	if _, err := mem.NewFileHandle(fd).Write(data); err != nil {
		return nil, pathErr("open", name, err)
	}
	mem.SetMode(fd, 0o444)
	mem.SetModTime(fd, f.modTime)
	return mem.NewReadOnlyFileHandle(fd), nil
}

func (f *Fs) Stat(name string) (os.FileInfo, error) {
	name = clean(name)
	switch name {
	case "/":
		return f.dirInfo(), nil
	case "/" + ImageName:
		return f.imageInfo(), nil
	case "/" + InfoName:
		file, err := f.openInfo(name)
		if err != nil {
			return nil, err
		}
		defer file.Close()
		st, err := file.Stat()
		if err != nil {
			return nil, err
		}
		return fileInfo{name: InfoName, size: st.Size(), mode: 0o444, modTime: f.modTime}, nil
	}
	return nil, pathErr("stat", name, os.ErrNotExist)
}

func (f *Fs) dirInfo() fileInfo {
	return fileInfo{name: "/", isDir: true, mode: os.ModeDir | 0o555, modTime: f.modTime}
}

func (f *Fs) imageInfo() fileInfo {
	return fileInfo{name: ImageName, size: f.dev.Size(), mode: 0o644, modTime: f.modTime}
}

func (f *Fs) Mkdir(name string, perm os.FileMode) error {
	return pathErr("mkdir", name, os.ErrPermission)
}

func (f *Fs) MkdirAll(p string, perm os.FileMode) error {
	if clean(p) == "/" {
		return nil
	}
	return pathErr("mkdir", p, os.ErrPermission)
}

func (f *Fs) Remove(name string) error {
	return pathErr("remove", name, os.ErrPermission)
}

func (f *Fs) RemoveAll(p string) error {
	return pathErr("remove", p, os.ErrPermission)
}

func (f *Fs) Rename(oldname, newname string) error {
	return &os.LinkError{Op: "rename", Old: oldname, New: newname, Err: os.ErrPermission}
}

func (f *Fs) Chmod(name string, mode os.FileMode) error {
	return pathErr("chmod", name, os.ErrPermission)
}

func (f *Fs) Chown(name string, uid, gid int) error {
	return pathErr("chown", name, os.ErrPermission)
}

// Chtimes succeeds on existing entries and changes nothing.
func (f *Fs) Chtimes(name string, atime time.Time, mtime time.Time) error {
	if _, err := f.Stat(name); err != nil {
		return err
	}
	return nil
}

func pathErr(op, name string, err error) error {
	return &os.PathError{Op: op, Path: name, Err: err}
}

type fileInfo struct {
	name    string
	size    int64
	isDir   bool
	modTime time.Time
	mode    os.FileMode
}

func (fi fileInfo) Name() string       { return fi.name }
func (fi fileInfo) Size() int64        { return fi.size }
func (fi fileInfo) IsDir() bool        { return fi.isDir }
func (fi fileInfo) ModTime() time.Time { return fi.modTime }
func (fi fileInfo) Mode() os.FileMode  { return fi.mode }
func (fi fileInfo) Sys() interface{}   { return nil }

var _ os.FileInfo = fileInfo{}

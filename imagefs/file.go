package imagefs

import (
	"io"
	"os"
	"syscall"
)

// imageFile is an open handle on the raw card image.
type imageFile struct {
	fs       *Fs
	name     string
	writable bool
	pos      int64
	closed   bool
}

func (f *imageFile) check(op string) error {
	if f.closed {
		return pathErr(op, f.name, os.ErrClosed)
	}
	return nil
}

func (f *imageFile) Name() string {
	return f.name
}

func (f *imageFile) Close() error {
	if err := f.check("close"); err != nil {
		return err
	}
	f.closed = true
	return nil
}

func (f *imageFile) Read(p []byte) (int, error) {
	n, err := f.ReadAt(p, f.pos)
	f.pos += int64(n)
	return n, err
}

func (f *imageFile) ReadAt(p []byte, off int64) (int, error) {
	if err := f.check("read"); err != nil {
		return 0, err
	}
	if len(p) == 0 {
		return 0, nil
	}
	return f.fs.dev.ReadAt(p, off)
}

func (f *imageFile) Write(p []byte) (int, error) {
	n, err := f.WriteAt(p, f.pos)
	f.pos += int64(n)
	return n, err
}

func (f *imageFile) WriteAt(p []byte, off int64) (int, error) {
	if err := f.check("write"); err != nil {
		return 0, err
	}
	if !f.writable {
		return 0, pathErr("write", f.name, syscall.EBADF)
	}
	if off+int64(len(p)) > f.fs.dev.Size() {
		return 0, pathErr("write", f.name, syscall.ENOSPC)
	}
	return f.fs.dev.WriteAt(p, off)
}

func (f *imageFile) WriteString(s string) (int, error) {
	return f.Write([]byte(s))
}

func (f *imageFile) Seek(offset int64, whence int) (int64, error) {
	if err := f.check("seek"); err != nil {
		return 0, err
	}
	switch whence {
	case io.SeekStart:
	case io.SeekCurrent:
		offset += f.pos
	case io.SeekEnd:
		offset += f.fs.dev.Size()
	default:
		return 0, pathErr("seek", f.name, os.ErrInvalid)
	}
	if offset < 0 {
		return 0, pathErr("seek", f.name, os.ErrInvalid)
	}
	f.pos = offset
	return offset, nil
}

func (f *imageFile) Stat() (os.FileInfo, error) {
	return f.fs.imageInfo(), nil
}

func (f *imageFile) Readdir(count int) ([]os.FileInfo, error) {
	return nil, pathErr("readdir", f.name, syscall.ENOTDIR)
}

func (f *imageFile) Readdirnames(n int) ([]string, error) {
	return nil, pathErr("readdir", f.name, syscall.ENOTDIR)
}

// Sync is a no-op, writes reach the card before returning.
func (f *imageFile) Sync() error {
	return f.check("sync")
}

// Truncate accepts any size up to the capacity and changes nothing.
func (f *imageFile) Truncate(size int64) error {
	if err := f.check("truncate"); err != nil {
		return err
	}
	if !f.writable {
		return pathErr("truncate", f.name, syscall.EBADF)
	}
	if size < 0 || size > f.fs.dev.Size() {
		return pathErr("truncate", f.name, os.ErrInvalid)
	}
	return nil
}

// dirFile is the root directory.
type dirFile struct {
	fs   *Fs
	read bool
}

func (d *dirFile) entries() ([]os.FileInfo, error) {
	info, err := d.fs.Stat("/" + InfoName)
	if err != nil {
		return nil, err
	}
	return []os.FileInfo{d.fs.imageInfo(), info}, nil
}

func (d *dirFile) Readdir(count int) ([]os.FileInfo, error) {
	if d.read {
		if count > 0 {
			return nil, io.EOF
		}
		return nil, nil
	}
	d.read = true
	infos, err := d.entries()
	if err != nil {
		return nil, err
	}
	if count > 0 && len(infos) > count {
		infos = infos[:count]
	}
	return infos, nil
}

func (d *dirFile) Readdirnames(n int) ([]string, error) {
	infos, err := d.Readdir(n)
	names := make([]string, len(infos))
	for i, fi := range infos {
		names[i] = fi.Name()
	}
	return names, err
}

func (d *dirFile) Name() string               { return "/" }
func (d *dirFile) Close() error               { return nil }
func (d *dirFile) Stat() (os.FileInfo, error) { return d.fs.dirInfo(), nil }
func (d *dirFile) Sync() error                { return nil }

func (d *dirFile) Read(p []byte) (int, error) {
	return 0, d.isDir("read")
}

func (d *dirFile) ReadAt(p []byte, off int64) (int, error) {
	return 0, d.isDir("read")
}

func (d *dirFile) Write(p []byte) (int, error) {
	return 0, d.isDir("write")
}

func (d *dirFile) WriteAt(p []byte, off int64) (int, error) {
	return 0, d.isDir("write")
}

func (d *dirFile) WriteString(s string) (int, error) {
	return 0, d.isDir("write")
}

func (d *dirFile) Truncate(size int64) error {
	return d.isDir("truncate")
}

func (d *dirFile) Seek(offset int64, whence int) (int64, error) {
	if offset == 0 && whence == io.SeekStart {
		d.read = false
		return 0, nil
	}
	return 0, d.isDir("seek")
}

func (d *dirFile) isDir(op string) error {
	return pathErr(op, "/", syscall.EISDIR)
}

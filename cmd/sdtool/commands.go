package main

import (
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"sdspi/host/serve"
	"sdspi/imagefs"
	"sdspi/sdcard"
)

// batch is the number of sectors moved per disk call by dump and restore.
const batch = 64

// withCard opens the backend around fn.
func (a *app) withCard(fn func(s *session) error) error {
	s, err := a.open()
	if err != nil {
		return err
	}
	defer s.Close()
	return fn(s)
}

func (a *app) infoCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "info",
		Short: "Initialize the card and print its identity",
		RunE: func(*cobra.Command, []string) error {
			return a.withCard(func(s *session) error {
				info := imagefs.CardInfo(s.card)
				a.printf("Type:       %s\n", info.Type)
				a.printf("Addressing: %s\n", info.Addressing)
				a.printf("Sectors:    %d\n", info.Sectors)
				a.printf("Capacity:   %d bytes\n", info.Capacity)
				a.printf("CSD:        %s\n", info.CSD)
				return nil
			})
		},
	}
}

func (a *app) readCmd() *cobra.Command {
	var sector, offset, count uint32
	cmd := &cobra.Command{
		Use:   "read",
		Short: "Hex dump a byte range of the card",
		RunE: func(*cobra.Command, []string) error {
			return a.withCard(func(s *session) error {
				buf := make([]byte, count)
				if err := s.card.Read(buf, sector, offset); err != nil {
					return err
				}
				d := hex.Dumper(a.out)
				d.Write(buf)
				return d.Close()
			})
		},
	}
	cmd.Flags().Uint32Var(&sector, "sector", 0, "first sector")
	cmd.Flags().Uint32Var(&offset, "offset", 0, "byte offset within the sector")
	cmd.Flags().Uint32Var(&count, "count", sdcard.SectorSize, "number of bytes")
	return cmd
}

func (a *app) writeCmd() *cobra.Command {
	var (
		sector uint32
		file   string
	)
	cmd := &cobra.Command{
		Use:   "write",
		Short: "Write a file to the card starting at a sector",
		RunE: func(*cobra.Command, []string) error {
			data, err := afero.ReadFile(a.fs, file)
			if err != nil {
				return err
			}
			return a.withCard(func(s *session) error {
				if err := s.card.WriteInitiate(sector); err != nil {
					return err
				}
				werr := s.card.Write(data)
				// the session is closed even after a failed write
				if err := s.card.WriteFinalize(); werr == nil {
					werr = err
				}
				if werr != nil {
					return werr
				}
				sectors := (len(data) + sdcard.SectorSize - 1) / sdcard.SectorSize
				a.printf("Wrote %d bytes (%d sectors) at sector %d\n", len(data), sectors, sector)
				return nil
			})
		},
	}
	cmd.Flags().Uint32Var(&sector, "sector", 0, "first sector")
	cmd.Flags().StringVar(&file, "file", "", "input file")
	cmd.MarkFlagRequired("file")
	return cmd
}

func (a *app) dumpCmd() *cobra.Command {
	var (
		out     string
		sectors uint64
	)
	cmd := &cobra.Command{
		Use:   "dump",
		Short: "Copy the card to an image file",
		RunE: func(*cobra.Command, []string) error {
			return a.withCard(func(s *session) error {
				n := s.disk.GetSectorCount()
				if sectors != 0 {
					n = min(sectors, n)
				}
				f, err := a.fs.Create(out)
				if err != nil {
					return err
				}
				defer f.Close()

				buf := make([]byte, batch*sdcard.SectorSize)
				for done := uint64(0); done < n; {
					c := uint32(min(n-done, batch))
					chunk := buf[:int(c)*sdcard.SectorSize]
					if err := s.disk.ReadSectors(done, c, chunk); err != nil {
						return fmt.Errorf("sector %d: %w", done, err)
					}
					if _, err := f.Write(chunk); err != nil {
						return err
					}
					done += uint64(c)
				}
				a.printf("Dumped %d sectors to %s\n", n, out)
				return f.Close()
			})
		},
	}
	cmd.Flags().StringVar(&out, "out", "", "output image file")
	cmd.Flags().Uint64Var(&sectors, "sectors", 0, "number of sectors (0 = whole card)")
	cmd.MarkFlagRequired("out")
	return cmd
}

func (a *app) restoreCmd() *cobra.Command {
	var in string
	cmd := &cobra.Command{
		Use:   "restore",
		Short: "Copy an image file to the card",
		RunE: func(*cobra.Command, []string) error {
			f, err := a.fs.Open(in)
			if err != nil {
				return err
			}
			defer f.Close()

			return a.withCard(func(s *session) error {
				buf := make([]byte, batch*sdcard.SectorSize)
				sector := uint64(0)
				for {
					n, err := io.ReadFull(f, buf)
					if n > 0 {
						// a short tail is padded to a whole sector
						count := (n + sdcard.SectorSize - 1) / sdcard.SectorSize
						chunk := buf[:count*sdcard.SectorSize]
						clear(chunk[n:])
						if err := s.disk.WriteSectors(sector, uint32(count), chunk); err != nil {
							return fmt.Errorf("sector %d: %w", sector, err)
						}
						sector += uint64(count)
					}
					if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
						break
					}
					if err != nil {
						return err
					}
				}
				a.printf("Restored %d sectors from %s\n", sector, in)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&in, "in", "", "input image file")
	cmd.MarkFlagRequired("in")
	return cmd
}

func (a *app) serveCmd() *cobra.Command {
	var ftpAddr, webdavAddr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the card image over FTP and WebDAV",
		RunE: func(cmd *cobra.Command, _ []string) error {
			sc := a.cfg.Serve
			override(&sc.FTPAddr, ftpAddr)
			override(&sc.WebDAVAddr, webdavAddr)

			return a.withCard(func(s *session) error {
				fs := imagefs.New(s.disk, func() imagefs.Info { return imagefs.CardInfo(s.card) })

				ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
				defer stop()
				return serve.Run(ctx, fs, &serve.Config{
					FTPAddr:    sc.FTPAddr,
					WebDAVAddr: sc.WebDAVAddr,
					Prefix:     sc.WebDAVPrefix,
					User:       sc.User,
					Password:   sc.Password,
					AccessLog:  a.out,
					Logger:     a.log,
				})
			})
		},
	}
	cmd.Flags().StringVar(&ftpAddr, "ftp", "", "FTP listen address, e.g. :2121")
	cmd.Flags().StringVar(&webdavAddr, "webdav", "", "WebDAV listen address, e.g. :8080")
	return cmd
}

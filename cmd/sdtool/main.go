// sdtool drives an SD card in SPI mode through a simulated card, the USB
// bridge firmware or a Linux SPI port.
package main

import (
	"fmt"
	"io"
	"os"

	"github.com/fclairamb/go-log"
	logrusadapter "github.com/fclairamb/go-log/logrus"
	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"sdspi/config"
)

// app carries the state shared by the commands.
type app struct {
	fs  afero.Fs
	out io.Writer
	log log.Logger

	configPath string
	verbose    bool
	loopback   bool
	flags      config.Config
	cfg        *config.Config
}

func main() {
	root := newRootCmd(afero.NewOsFs(), os.Stdout, os.Stderr)
	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd(fs afero.Fs, stdout, stderr io.Writer) *cobra.Command {
	a := &app{fs: fs, out: stdout}

	root := &cobra.Command{
		Use:           "sdtool",
		Short:         "Access SD/MMC cards in SPI mode",
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.setup(cmd, stderr)
		},
	}
	root.SetOut(stdout)
	root.SetErr(stderr)

	pf := root.PersistentFlags()
	pf.StringVar(&a.configPath, "config", "sdtool.json", "configuration file")
	pf.StringVar(&a.flags.Backend, "backend", "", "sim|bridge|periph")
	pf.StringVar(&a.flags.Serial.Device, "device", "", "bridge serial device")
	pf.IntVar(&a.flags.Serial.Baud, "baud", 0, "bridge baud rate (ignored by USB CDC)")
	pf.StringVar(&a.flags.Periph.SPI, "spi", "", "periph SPI port, e.g. /dev/spidev0.0")
	pf.StringVar(&a.flags.Periph.CS, "cs", "", "periph chip select GPIO name")
	pf.StringVar(&a.flags.Sim.Image, "image", "", "simulated card image file")
	pf.StringVar(&a.flags.Sim.Profile, "profile", "", "simulated card profile: sdhc|sdv2|sdv1|mmc|empty")
	pf.Uint32Var(&a.flags.Sim.Sectors, "sim-sectors", 0, "simulated card size in sectors")
	pf.BoolVar(&a.loopback, "loopback", false, "route the simulated card through the bridge protocol")
	pf.BoolVarP(&a.verbose, "verbose", "v", false, "debug logging")

	root.AddCommand(
		a.infoCmd(),
		a.readCmd(),
		a.writeCmd(),
		a.dumpCmd(),
		a.restoreCmd(),
		a.serveCmd(),
	)
	return root
}

// setup loads the configuration, applies flag overrides and builds the
// logger.
func (a *app) setup(cmd *cobra.Command, stderr io.Writer) error {
	lr := logrus.New()
	lr.SetOutput(stderr)
	lr.SetLevel(logrus.InfoLevel)
	if a.verbose {
		lr.SetLevel(logrus.DebugLevel)
	}
	a.log = logrusadapter.NewWrap(lr)

	cfg, err := config.Load(a.fs, a.configPath)
	if err != nil {
		return err
	}
	override(&cfg.Backend, a.flags.Backend)
	override(&cfg.Serial.Device, a.flags.Serial.Device)
	override(&cfg.Serial.Baud, a.flags.Serial.Baud)
	override(&cfg.Periph.SPI, a.flags.Periph.SPI)
	override(&cfg.Periph.CS, a.flags.Periph.CS)
	override(&cfg.Sim.Image, a.flags.Sim.Image)
	override(&cfg.Sim.Profile, a.flags.Sim.Profile)
	override(&cfg.Sim.Sectors, a.flags.Sim.Sectors)
	if err := cfg.Validate(); err != nil {
		return err
	}
	a.cfg = cfg
	a.log.Debug("configuration loaded", "backend", cfg.Backend, "path", a.configPath)
	return nil
}

func override[T comparable](dst *T, v T) {
	var zero T
	if v != zero {
		*dst = v
	}
}

func (a *app) printf(format string, args ...any) {
	fmt.Fprintf(a.out, format, args...)
}

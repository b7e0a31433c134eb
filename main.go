// kissfs - Inspect and serve kernel boot images
//
// Usage:
//
//	kissfs [-config file] <image> ls [-l] [-a] [name]
//	kissfs [-config file] <image> cat <name>
//	kissfs [-config file] <image> read [-n reads] <name>
//	kissfs [-config file] <image> stat <name>
//	kissfs [-config file] <image> info
//	kissfs [-config file] <image> map <out.png>
//	kissfs [-config file] <image> serve
//	kissfs mkimage -o <out> [-device name]... <file>...
package main

import (
	"context"
	stderrors "errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"golang.org/x/term"

	"github.com/lvdlvd/kissfs/cmd"
	"github.com/lvdlvd/kissfs/config"
	"github.com/lvdlvd/kissfs/device"
	"github.com/lvdlvd/kissfs/driver"
	"github.com/lvdlvd/kissfs/fsys/kiss"
	"github.com/lvdlvd/kissfs/vfs"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	if err != nil {
		fmt.Fprintf(os.Stderr, "kissfs: %v\n", err)
		os.Exit(1)
	}
}

const usage = "usage: kissfs [-config file] <image> <command> [options] [name] | kissfs mkimage -o <out> <file>..."

func run(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	if len(args) > 0 && args[0] == "mkimage" {
		return runMkImage(args[1:], stdout)
	}

	global := flag.NewFlagSet("kissfs", flag.ContinueOnError)
	global.SetOutput(stderr)
	configPath := global.String("config", "", "YAML configuration file")
	if err := global.Parse(args); err != nil {
		return err
	}
	args = global.Args()
	if len(args) < 2 {
		return stderrors.New(usage)
	}

	cfg := config.Default()
	if *configPath != "" {
		var err error
		if cfg, err = config.Load(*configPath); err != nil {
			return err
		}
	}
	log := cfg.Log.Logger(stderr, isTerminal(stderr))

	image, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("reading image: %w", err)
	}

	drivers, kd, devices, err := boot(cfg, image, log)
	if err != nil {
		return err
	}
	defer func() {
		if rerr := drivers.RemoveAll(); rerr != nil {
			log.Warn("shutdown", "error", rerr)
		}
	}()

	f := kd.FS()
	command, cmdArgs := args[1], args[2:]
	switch command {
	case "ls":
		return runLs(f.IOFS(), cmdArgs, stdout)
	case "cat":
		if len(cmdArgs) < 1 {
			return fmt.Errorf("cat requires a name argument")
		}
		return cmd.Cat(f.IOFS(), cmdArgs[0], stdout)
	case "read":
		return runRead(vfs.New(vfs.DefaultSlots, devices, f), cmdArgs, stdout)
	case "stat":
		if len(cmdArgs) < 1 {
			return fmt.Errorf("stat requires a name argument")
		}
		return cmd.Stat(f.IOFS(), cmdArgs[0], stdout)
	case "info":
		return cmd.Info(f, stdout)
	case "map":
		return runMap(f, cmdArgs)
	case "serve":
		return runServe(ctx, f, cfg.Serve, log)
	default:
		return fmt.Errorf("unknown command: %s (use ls, cat, read, stat, info, map, or serve)", command)
	}
}

// boot registers the configured devices and the image driver, then runs
// their init hooks in that order.
func boot(cfg config.Config, image []byte, log *slog.Logger) (*driver.Registry, *kiss.Driver, *device.Registry, error) {
	devices := device.NewRegistry(log)
	drivers := driver.NewRegistry(log)

	for _, d := range cfg.Devices {
		rtc := device.NewRTC(d.Name, d.Frequency)
		err := drivers.Register(driver.Func{
			ID:     d.Name,
			OnInit: func() error { return devices.Register(rtc) },
		})
		if err != nil {
			return nil, nil, nil, err
		}
	}

	kd := kiss.NewDriver("kiss", image, kiss.WithLogger(log), kiss.WithDevices(devices))
	if err := drivers.Register(kd); err != nil {
		return nil, nil, nil, err
	}

	if err := drivers.InitAll(); err != nil {
		return nil, nil, nil, stderrors.Join(err, drivers.RemoveAll())
	}
	return drivers, kd, devices, nil
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

func runLs(v *kiss.IOFS, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("ls", flag.ContinueOnError)
	long := fs.Bool("l", false, "use long listing format")
	all := fs.Bool("a", false, "show entries starting with a dot")
	if err := fs.Parse(args); err != nil {
		return err
	}

	path := "."
	if fs.NArg() > 0 {
		path = fs.Arg(0)
	}

	return cmd.Ls(v, path, out, cmd.LsOptions{
		Long: *long,
		All:  *all,
	})
}

func runRead(t *vfs.Table, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("read", flag.ContinueOnError)
	n := fs.Int("n", 0, "stop after this many reads (0 = until end)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() < 1 {
		return fmt.Errorf("read requires a name argument")
	}
	return cmd.Read(t, fs.Arg(0), out, *n)
}

func runMap(f *kiss.FS, args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("map requires an output path")
	}
	out, err := os.Create(args[0])
	if err != nil {
		return err
	}
	if err := cmd.Map(f, out); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

func runServe(ctx context.Context, f *kiss.FS, cfg config.Serve, log *slog.Logger) error {
	if cfg.Network == "unix" {
		if err := os.Remove(cfg.Address); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("failed to remove existing socket: %w", err)
		}
		defer os.Remove(cfg.Address)
	}

	ln, err := net.Listen(cfg.Network, cfg.Address)
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}
	log.Info("connect with nbd-client", "args", "-N <export> "+connectHint(cfg))
	return cmd.Serve(ctx, ln, f, log)
}

func connectHint(cfg config.Serve) string {
	if cfg.Network == "unix" {
		return "-unix " + cfg.Address + " /dev/nbdX"
	}
	host, port, err := net.SplitHostPort(cfg.Address)
	if err != nil {
		return cfg.Address + " /dev/nbdX"
	}
	return host + " " + port + " /dev/nbdX"
}

// multiFlag collects repeated flag values.
type multiFlag []string

func (m *multiFlag) String() string     { return strings.Join(*m, ",") }
func (m *multiFlag) Set(v string) error { *m = append(*m, v); return nil }

func runMkImage(args []string, stdout io.Writer) error {
	fs := flag.NewFlagSet("mkimage", flag.ContinueOnError)
	outPath := fs.String("o", "", "output image (default stdout)")
	var devices multiFlag
	fs.Var(&devices, "device", "add a device entry (repeatable)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	opts := cmd.MkImageOptions{Files: fs.Args(), Devices: devices}
	if *outPath == "" {
		return cmd.MkImage(stdout, opts)
	}

	out, err := os.Create(*outPath)
	if err != nil {
		return err
	}
	if err := cmd.MkImage(out, opts); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

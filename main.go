package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	_ "net/http/pprof"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"

	"github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"

	"github.com/harvester/usb-flasher/pkg/block"
	"github.com/harvester/usb-flasher/pkg/config"
	"github.com/harvester/usb-flasher/pkg/flash"
	"github.com/harvester/usb-flasher/pkg/job"
	"github.com/harvester/usb-flasher/pkg/metrics"
	"github.com/harvester/usb-flasher/pkg/option"
	"github.com/harvester/usb-flasher/pkg/udev"
	"github.com/harvester/usb-flasher/pkg/version"
)

func main() {
	var opt option.Option
	app := cli.NewApp()
	app.Name = "usb-flasher"
	app.Version = version.FriendlyVersion()
	app.Usage = "usb-flasher writes disk images to USB drives, either raw or as a bootable volume."
	app.Flags = []cli.Flag{
		&cli.StringFlag{
			Name:        "config",
			EnvVars:     []string{"USB_FLASHER_CONFIG"},
			Value:       config.DefaultConfigFile,
			Usage:       "Path of the YAML config file",
			Destination: &opt.ConfigFile,
		},
		&cli.BoolFlag{
			Name:        "debug",
			EnvVars:     []string{"USB_FLASHER_DEBUG"},
			Usage:       "enable debug logs",
			Destination: &opt.Debug,
		},
		&cli.BoolFlag{
			Name:        "trace",
			EnvVars:     []string{"USB_FLASHER_TRACE"},
			Usage:       "Enable trace logs",
			Destination: &opt.Trace,
		},
		&cli.StringFlag{
			Name:        "log-format",
			EnvVars:     []string{"USB_FLASHER_LOG_FORMAT"},
			Usage:       "Log format",
			Value:       "text",
			Destination: &opt.LogFormat,
		},
		&cli.StringFlag{
			Name:        "profile-listen-address",
			Usage:       "Address to listen on for profiling",
			Destination: &opt.ProfilerAddress,
		},
		&cli.StringFlag{
			Name:        "model-filter",
			EnvVars:     []string{"USB_FLASHER_MODEL_FILTER"},
			Usage:       "A string of comma-separated values that you want to exclude for drive model filter",
			Destination: &opt.ModelFilter,
		},
		&cli.StringFlag{
			Name:        "path-filter",
			EnvVars:     []string{"USB_FLASHER_PATH_FILTER"},
			Usage:       "A string of comma-separated glob patterns that you want to exclude for drive device path filter",
			Destination: &opt.PathFilter,
		},
		&cli.StringFlag{
			Name:        "media-type-filter",
			EnvVars:     []string{"USB_FLASHER_MEDIA_TYPE_FILTER"},
			Usage:       "A string of comma-separated values that you want to exclude for drive media type filter",
			Destination: &opt.MediaTypeFilter,
		},
	}
	app.Before = func(c *cli.Context) error {
		initProfiling(&opt)
		option.InitLogs(&opt)
		return nil
	}
	app.Commands = []*cli.Command{
		listCommand(&opt),
		toolsCommand(&opt),
		flashCommand(&opt),
	}

	if err := app.Run(os.Args); err != nil {
		logrus.Fatal(err)
	}
}

func initProfiling(opt *option.Option) {
	// enable profiler
	if opt.ProfilerAddress != "" {
		go func() {
			log.Println(http.ListenAndServe(opt.ProfilerAddress, nil))
		}()
	}
}

func newController(opt *option.Option) (*config.Config, *flash.Controller, error) {
	cfg, err := config.Load(opt.ConfigFile)
	if err != nil {
		return nil, nil, err
	}
	return cfg, flash.NewController(cfg, opt, metrics.New()), nil
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func listCommand(opt *option.Option) *cli.Command {
	var asJSON, watch bool
	return &cli.Command{
		Name:  "list",
		Usage: "List attached USB drives",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "json", Usage: "Print drives as JSON", Destination: &asJSON},
			&cli.BoolFlag{Name: "watch", Usage: "List again whenever a USB disk is plugged or removed", Destination: &watch},
		},
		Action: func(c *cli.Context) error {
			cfg, controller, err := newController(opt)
			if err != nil {
				return err
			}
			ctx, cancel := signalContext()
			defer cancel()

			refresh := func() {
				drives, err := controller.Enumerate(ctx)
				if err != nil {
					logrus.Errorf("failed to enumerate drives: %v", err)
				}
				if err := printDrives(drives, asJSON); err != nil {
					logrus.Errorf("failed to print drives: %v", err)
				}
			}
			refresh()
			if !watch {
				return nil
			}

			err = udev.Monitor(ctx, cfg.Inventory.UdevRules, func(change udev.Change) {
				logrus.Infof("usb disk %s: %s %s", change.Action, change.DevPath, change.Model)
				refresh()
			})
			if errors.Is(err, udev.ErrUnsupported) {
				logrus.Warn(err)
				return nil
			}
			return err
		},
	}
}

func printDrives(drives []block.DriveInfo, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(drives)
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "DEVICE\tMODEL\tINTERFACE\tMEDIA\tSIZE")
	for _, d := range drives {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\n", d.DevicePath, d.Model, d.InterfaceType, d.MediaType, d.SizeBytes)
	}
	return w.Flush()
}

func toolsCommand(opt *option.Option) *cli.Command {
	return &cli.Command{
		Name:  "tools",
		Usage: "Show which external tools the bootable pipeline can use",
		Action: func(c *cli.Context) error {
			_, controller, err := newController(opt)
			if err != nil {
				return err
			}
			availability := controller.Probe()
			for _, name := range availability.Names() {
				fmt.Printf("%-22s %t\n", name, availability[name])
			}
			return nil
		},
	}
}

func flashCommand(opt *option.Option) *cli.Command {
	var imagePath, devicePath, kind string
	return &cli.Command{
		Name:  "flash",
		Usage: "Write an image to a USB drive",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "image", Usage: "Path of the source image", Destination: &imagePath},
			&cli.StringFlag{Name: "device", Usage: "Device path of the target drive as shown by list", Destination: &devicePath},
			&cli.StringFlag{Name: "kind", Usage: "raw or bootable", Value: "raw", Destination: &kind},
		},
		Action: func(c *cli.Context) error {
			jobKind, err := job.ParseKind(kind)
			if err != nil {
				return err
			}
			_, controller, err := newController(opt)
			if err != nil {
				return err
			}
			ctx, cancel := signalContext()
			defer cancel()

			req := flash.Request{ImagePath: imagePath, Kind: jobKind}
			if devicePath != "" {
				target, err := findDrive(ctx, controller, devicePath)
				if err != nil {
					return err
				}
				req.Target = target
			}

			events, err := controller.Start(ctx, req)
			if err != nil {
				return err
			}
			var last job.Event
			for e := range events {
				if e.State != last.State {
					logrus.Infof("stage %s", e.State)
				}
				logrus.Debugf("%s %.1f%% (%d/%d)", e.State, e.Fraction*100, e.Progress.Written, e.Progress.Total)
				last = e
			}
			if last.Err != nil {
				return last.Err
			}
			fmt.Printf("%s flashed to %s\n", imagePath, devicePath)
			return nil
		},
	}
}

// findDrive resolves devicePath among the attached USB drives so that only
// enumerated drives can be written.
func findDrive(ctx context.Context, controller *flash.Controller, devicePath string) (*block.DriveInfo, error) {
	drives, err := controller.Enumerate(ctx)
	if err != nil {
		return nil, err
	}
	for i := range drives {
		if drives[i].DevicePath == devicePath {
			return &drives[i], nil
		}
	}
	return nil, job.Errorf(job.MissingSelection, job.StateIdle, "%s is not an attached USB drive", devicePath)
}

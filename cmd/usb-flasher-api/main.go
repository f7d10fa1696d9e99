package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"

	"github.com/harvester/usb-flasher/pkg/config"
	"github.com/harvester/usb-flasher/pkg/flash"
	"github.com/harvester/usb-flasher/pkg/metrics"
	"github.com/harvester/usb-flasher/pkg/option"
	"github.com/harvester/usb-flasher/pkg/server"
	"github.com/harvester/usb-flasher/pkg/version"
)

func main() {
	var opt option.Option
	app := cli.NewApp()
	app.Name = "usb-flasher-api"
	app.Version = version.FriendlyVersion()
	app.Usage = "usb-flasher-api serves drive listing and flash jobs over HTTP."
	app.Flags = []cli.Flag{
		&cli.StringFlag{
			Name:        "config",
			EnvVars:     []string{"USB_FLASHER_CONFIG"},
			Value:       config.DefaultConfigFile,
			Usage:       "Path of the YAML config file",
			Destination: &opt.ConfigFile,
		},
		&cli.StringFlag{
			Name:        "listen-address",
			EnvVars:     []string{"USB_FLASHER_LISTEN_ADDRESS"},
			Usage:       "Address of the API server, overrides server.address from the config file",
			Destination: &opt.ListenAddress,
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
	}

	app.Action = func(c *cli.Context) error {
		option.InitLogs(&opt)
		return run(&opt)
	}

	if err := app.Run(os.Args); err != nil {
		logrus.Fatal(err)
	}
}

func run(opt *option.Option) error {
	logrus.Infof("USB flasher API %s is starting", version.FriendlyVersion())
	cfg, err := config.Load(opt.ConfigFile)
	if err != nil {
		return err
	}
	addr := cfg.Server.Address
	if opt.ListenAddress != "" {
		addr = opt.ListenAddress
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	m := metrics.New()
	controller := flash.NewController(cfg, opt, m)
	return server.New(ctx, controller, m.Registry, cfg.Server.AllowedOrigins).ListenAndServe(ctx, addr)
}

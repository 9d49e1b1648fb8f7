package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli"

	"github.com/Tyrowin/securechat/internal/client"
	"github.com/Tyrowin/securechat/internal/config"
	"github.com/Tyrowin/securechat/internal/logging"
)

func main() {
	app := cli.NewApp()
	app.Name = "securechat"
	app.Usage = "Terminal client for the securechat server"
	app.Flags = []cli.Flag{
		cli.StringFlag{
			Name:  "config,c",
			Usage: "Path to the configuration file",
			Value: "config.toml",
		},
		cli.BoolFlag{
			Name:  "debug,d",
			Usage: "Enable debug output",
		},
		cli.StringFlag{
			Name:  "username,u",
			Usage: "Name shown to other users (random when empty)",
		},
		cli.StringFlag{
			Name:  "host",
			Usage: "Server host",
		},
		cli.IntFlag{
			Name:  "port,p",
			Usage: "Server port",
		},
		cli.StringFlag{
			Name:  "ca-file",
			Usage: "CA certificate used to verify the server",
		},
	}
	app.Action = run

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err.Error())
		os.Exit(1)
	}
}

func run(c *cli.Context) error {
	conf, err := config.Load(c.String("config"))
	if err != nil {
		return err
	}
	cfg := conf.Client
	if c.Bool("debug") {
		cfg.Debug = true
	}
	if c.IsSet("username") {
		cfg.Username = c.String("username")
	}
	if c.IsSet("host") {
		cfg.Host = c.String("host")
	}
	if c.IsSet("port") {
		cfg.Port = c.Int("port")
	}
	if c.IsSet("ca-file") {
		cfg.CAFile = c.String("ca-file")
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	log := logging.New(cfg.Debug, os.Stderr)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cl, err := client.Dial(ctx, cfg, log)
	if err != nil {
		return err
	}
	log.Infof("Connected as %s. Type .quit or .exit to leave.", cl.Username())

	return cl.Run(ctx, os.Stdin, os.Stdout)
}

package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/urfave/cli"

	"github.com/Tyrowin/securechat/internal/config"
	"github.com/Tyrowin/securechat/internal/logging"
	"github.com/Tyrowin/securechat/internal/server"
)

const shutdownTimeout = 10 * time.Second

func main() {
	app := cli.NewApp()
	app.Name = "securechat-server"
	app.Usage = "TLS chat relay server"
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
			Name:  "host",
			Usage: "Address to listen on",
		},
		cli.IntFlag{
			Name:  "port,p",
			Usage: "Port to listen on",
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
	cfg := conf.Server
	if c.Bool("debug") {
		cfg.Debug = true
	}
	if c.IsSet("host") {
		cfg.Host = c.String("host")
	}
	if c.IsSet("port") {
		cfg.Port = c.Int("port")
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	log := logging.New(cfg.Debug, os.Stdout)
	log.Debugf("Configuration loaded from %s", c.String("config"))

	srv := server.New(cfg, log)

	served := make(chan error, 1)
	go func() { served <- srv.ListenAndServe(context.Background()) }()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sig)

	select {
	case err := <-served:
		// setup failures and listener errors end the process
		if errors.Is(err, server.ErrServerClosed) {
			return nil
		}
		return err
	case s := <-sig:
		log.Infof("Received %s, shutting down", s)
	}

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.WithError(err).Warn("Shutdown did not finish cleanly")
	}
	log.Info("Server stopped")
	return nil
}

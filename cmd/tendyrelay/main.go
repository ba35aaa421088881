// Command tendyrelay accepts .tendies uploads over a websocket and relays
// them back to the client as USB transfer commands.
package main

import (
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"

	"github.com/danmuck/tendyrelay/internal/config"
	"github.com/danmuck/tendyrelay/internal/logging"
	"github.com/danmuck/tendyrelay/internal/protocol/wire"
	"github.com/danmuck/tendyrelay/internal/server"
	"github.com/urfave/cli/v2"
)

var commit = "unknown"

func main() {
	app := newApp()
	if err := app.Run(os.Args); err != nil {
		os.Exit(1)
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:           "tendyrelay",
		Usage:          "relay .tendies wallpaper uploads as USB transfer commands",
		Version:        fmt.Sprintf("%s (commit: %s)", server.Version, commit),
		ExitErrHandler: exitErrHandler,
		Flags:          serveFlags(),
		Action:         serveAction,
		Commands: []*cli.Command{
			{
				Name:   "serve",
				Usage:  "run the websocket relay (default)",
				Flags:  serveFlags(),
				Action: serveAction,
			},
			configCommand(),
		},
	}
}

func serveFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{Name: "config", Aliases: []string{"c"}, Usage: "path to config.toml", EnvVars: []string{"TENDYRELAY_CONFIG"}},
		&cli.IntFlag{Name: "port", Aliases: []string{"p"}, Usage: "listen port (overrides config and env)"},
		&cli.StringFlag{Name: "encoding", Usage: "wire encoding: " + strings.Join(wire.Names(), ", ")},
		&cli.StringFlag{Name: "spool-dir", Usage: "stage uploads on disk under this directory"},
	}
}

func serveAction(c *cli.Context) error {
	logger := logging.ConfigureRuntime()

	cfg, err := loadServiceConfig(c.String("config"))
	if err != nil {
		return cli.Exit(err.Error(), 2)
	}
	if err := applyPortEnv(&cfg, os.Getenv); err != nil {
		return cli.Exit(err.Error(), 2)
	}
	if c.IsSet("port") {
		host, _ := splitListenAddr(cfg.ListenAddr)
		cfg.ListenAddr = net.JoinHostPort(host, strconv.Itoa(c.Int("port")))
	}
	if c.IsSet("encoding") {
		cfg.Encoding = c.String("encoding")
	}
	if c.IsSet("spool-dir") {
		cfg.SpoolDir = c.String("spool-dir")
	}

	svc, err := server.NewService(cfg)
	if err != nil {
		return cli.Exit(err.Error(), 2)
	}
	logger.Info().
		Str("addr", cfg.ListenAddr).
		Str("encoding", cfg.Encoding).
		Int("chunk_size", cfg.Relay.ChunkSize).
		Msg("tendyrelay starting")
	return svc.Run()
}

// configCommand writes the commented defaults or strictly checks an existing file.
func configCommand() *cli.Command {
	kind := config.KindRelay
	return &cli.Command{
		Name:  "config",
		Usage: "manage relay config files",
		Subcommands: []*cli.Command{
			{
				Name:      "init",
				Usage:     "write a default config.toml",
				ArgsUsage: "[path]",
				Flags: []cli.Flag{
					&cli.BoolFlag{Name: "force", Usage: "overwrite an existing file"},
				},
				Action: func(c *cli.Context) error {
					path := c.Args().First()
					if path == "" {
						path = "config.toml"
					}
					if err := config.WriteTemplate(path, kind, c.Bool("force")); err != nil {
						return cli.Exit(err.Error(), 1)
					}
					fmt.Fprintf(c.App.Writer, "wrote %s\n", path)
					return nil
				},
			},
			{
				Name:      "validate",
				Usage:     "check a config.toml for unknown keys and bad values",
				ArgsUsage: "<path>",
				Action: func(c *cli.Context) error {
					path := c.Args().First()
					if path == "" {
						return cli.Exit("config validate: path required", 2)
					}
					if err := config.ValidateFile(kind, path); err != nil {
						return cli.Exit(err.Error(), 1)
					}
					if _, err := loadServiceConfig(path); err != nil {
						return cli.Exit(err.Error(), 1)
					}
					fmt.Fprintf(c.App.Writer, "%s ok\n", path)
					return nil
				},
			},
		},
	}
}

func exitErrHandler(_ *cli.Context, err error) {
	if err == nil {
		return
	}
	var exitCoder cli.ExitCoder
	if errors.As(err, &exitCoder) {
		code := exitCoder.ExitCode()
		msg := exitCoder.Error()
		if msg != "" && msg != fmt.Sprintf("exit status %d", code) {
			fmt.Fprintln(os.Stderr, msg)
		}
		os.Exit(code)
	}
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	os.Exit(1)
}

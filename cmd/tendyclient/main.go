// Command tendyclient uploads .tendies files to a relay and applies the
// relayed USB commands to a file-backed device.
package main

import (
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/danmuck/tendyrelay/internal/client"
	"github.com/danmuck/tendyrelay/internal/config"
	"github.com/danmuck/tendyrelay/internal/logging"
	"github.com/danmuck/tendyrelay/internal/protocol/wire"
	"github.com/danmuck/tendyrelay/internal/server"
	"github.com/danmuck/tendyrelay/internal/tendies"
	"github.com/urfave/cli/v2"
)

var commit = "unknown"

func main() {
	if err := newApp().Run(os.Args); err != nil {
		os.Exit(1)
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:           "tendyclient",
		Usage:          "upload .tendies files to a tendyrelay endpoint",
		Version:        fmt.Sprintf("%s (commit: %s)", server.Version, commit),
		ExitErrHandler: exitErrHandler,
		Commands: []*cli.Command{
			uploadCommand(),
			packCommand(),
			inspectCommand(),
			configCommand(),
		},
	}
}

func uploadCommand() *cli.Command {
	return &cli.Command{
		Name:      "upload",
		Usage:     "send a .tendies file and apply the relayed commands",
		ArgsUsage: "<file.tendies>",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "config", Aliases: []string{"c"}, Usage: "path to client config.toml", EnvVars: []string{"TENDYCLIENT_CONFIG"}},
			&cli.StringFlag{Name: "url", Usage: "relay websocket url"},
			&cli.StringFlag{Name: "encoding", Usage: "wire encoding: " + strings.Join(wire.Names(), ", ")},
			&cli.StringFlag{Name: "origin", Usage: "Origin header for the handshake"},
			&cli.StringFlag{Name: "path", Usage: "device path sent with the upload"},
			&cli.StringFlag{Name: "out-dir", Usage: "directory the file executor writes to"},
			&cli.StringFlag{Name: "ca-file", Usage: "CA bundle for wss:// relays"},
			&cli.StringFlag{Name: "ssh-host", Usage: "apply frames on this host over SSH instead of out-dir"},
			&cli.StringFlag{Name: "ssh-user", Usage: "SSH user for --ssh-host"},
			&cli.StringFlag{Name: "ssh-key", Usage: "private key for --ssh-host"},
		},
		Action: func(c *cli.Context) error {
			logger := logging.ConfigureRuntime()
			file := c.Args().First()
			if file == "" {
				return cli.Exit("upload: file argument required", 2)
			}

			settings, err := loadClientSettings(c.String("config"))
			if err != nil {
				return cli.Exit(err.Error(), 2)
			}
			if c.IsSet("url") {
				settings.Client.URL = c.String("url")
			}
			if c.IsSet("encoding") {
				settings.Client.Encoding = c.String("encoding")
			}
			if c.IsSet("origin") {
				settings.Client.Origin = c.String("origin")
			}
			if c.IsSet("out-dir") {
				settings.OutputDir = c.String("out-dir")
			}
			if c.IsSet("ca-file") {
				settings.Client.Session.TLS.CAFile = c.String("ca-file")
			}
			if c.IsSet("ssh-host") {
				settings.Remote.Host = c.String("ssh-host")
			}
			if c.IsSet("ssh-user") {
				settings.Remote.User = c.String("ssh-user")
			}
			if c.IsSet("ssh-key") {
				settings.Remote.KeyPath = c.String("ssh-key")
			}

			raw, err := os.ReadFile(file)
			if err != nil {
				return cli.Exit(fmt.Sprintf("upload: %v", err), 1)
			}
			exec, closeExec, err := settings.newExecutor()
			if err != nil {
				return cli.Exit(err.Error(), 1)
			}
			defer closeExec()
			cl, err := client.New(settings.Client)
			if err != nil {
				return cli.Exit(err.Error(), 2)
			}

			ctx, stop := signal.NotifyContext(c.Context, syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			conn, err := cl.Connect(ctx)
			if err != nil {
				return cli.Exit(fmt.Sprintf("upload: connect %s: %v", settings.Client.URL, err), 1)
			}
			defer conn.Close()

			out, err := conn.Upload(ctx, raw, c.String("path"), exec)
			logger.Info().
				Str("status", out.Status).
				Int("chunks", out.Chunks).
				Int("bytes", out.Bytes).
				Int("controls", len(out.Controls)).
				Str("out_dir", settings.OutputDir).
				Msg("tendyclient upload finished")
			fmt.Fprintln(c.App.Writer, out.Status)
			if err != nil {
				return cli.Exit(err.Error(), 1)
			}
			return nil
		},
	}
}

func packCommand() *cli.Command {
	return &cli.Command{
		Name:      "pack",
		Usage:     "wrap raw RGBA bytes in a .tendies header",
		ArgsUsage: "<raw> <out.tendies>",
		Flags: []cli.Flag{
			&cli.UintFlag{Name: "width", Required: true},
			&cli.UintFlag{Name: "height", Required: true},
			&cli.StringFlag{Name: "magic", Value: string(tendies.DefaultMagic[:])},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() != 2 {
				return cli.Exit("pack: expected <raw> <out.tendies>", 2)
			}
			magic, err := tendies.ParseMagic(c.String("magic"))
			if err != nil {
				return cli.Exit(err.Error(), 2)
			}
			payload, err := os.ReadFile(c.Args().Get(0))
			if err != nil {
				return cli.Exit(fmt.Sprintf("pack: %v", err), 1)
			}
			f := tendies.File{
				Magic:   magic,
				Width:   uint32(c.Uint("width")),
				Height:  uint32(c.Uint("height")),
				Payload: payload,
			}
			if got, want := uint64(len(payload)), f.ExpectedPayloadLen(); got != want {
				fmt.Fprintf(c.App.ErrWriter, "warning: payload is %d bytes, %dx%d expects %d\n", got, f.Width, f.Height, want)
			}
			if err := os.WriteFile(c.Args().Get(1), tendies.Encode(f), 0o644); err != nil {
				return cli.Exit(fmt.Sprintf("pack: %v", err), 1)
			}
			return nil
		},
	}
}

func inspectCommand() *cli.Command {
	return &cli.Command{
		Name:      "inspect",
		Usage:     "print the header of a .tendies file",
		ArgsUsage: "<file.tendies>",
		Action: func(c *cli.Context) error {
			path := c.Args().First()
			if path == "" {
				return cli.Exit("inspect: file argument required", 2)
			}
			decoded, err := tendies.DecodeFile(path, tendies.DefaultDecodeOptions())
			if err != nil {
				return cli.Exit(err.Error(), 1)
			}
			f := decoded.File
			fmt.Fprintf(c.App.Writer, "magic=%q width=%d height=%d payload=%d expected=%d\n",
				f.MagicString(), f.Width, f.Height, len(f.Payload), f.ExpectedPayloadLen())
			for _, w := range decoded.Warnings {
				fmt.Fprintf(c.App.Writer, "warning: %v\n", w)
			}
			return nil
		},
	}
}

func configCommand() *cli.Command {
	return &cli.Command{
		Name:  "config",
		Usage: "manage client config files",
		Subcommands: []*cli.Command{
			{
				Name:      "init",
				Usage:     "write a default client config.toml",
				ArgsUsage: "[path]",
				Flags:     []cli.Flag{&cli.BoolFlag{Name: "force", Usage: "overwrite an existing file"}},
				Action: func(c *cli.Context) error {
					path := c.Args().First()
					if path == "" {
						path = "client.toml"
					}
					if err := config.WriteTemplate(path, config.KindClient, c.Bool("force")); err != nil {
						return cli.Exit(err.Error(), 1)
					}
					fmt.Fprintf(c.App.Writer, "wrote %s\n", path)
					return nil
				},
			},
			{
				Name:      "validate",
				Usage:     "check a client config.toml",
				ArgsUsage: "<path>",
				Action: func(c *cli.Context) error {
					path := c.Args().First()
					if path == "" {
						return cli.Exit("config validate: path required", 2)
					}
					if err := config.ValidateFile(config.KindClient, path); err != nil {
						return cli.Exit(err.Error(), 1)
					}
					if _, err := loadClientSettings(path); err != nil {
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
		if msg := exitCoder.Error(); msg != "" && msg != fmt.Sprintf("exit status %d", code) {
			fmt.Fprintln(os.Stderr, msg)
		}
		os.Exit(code)
	}
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	os.Exit(1)
}

package main

import (
	"io"
	"log/slog"
	"os"

	"github.com/alecthomas/kong"
	"github.com/lmittmann/tint"

	"github.com/epithet-ssh/pacdb/pkg/fetch"
)

type CLI struct {
	Verbose   int    `short:"v" type:"counter" help:"Increase log verbosity (-v info, -vv debug)"`
	Insecure  bool   `help:"Allow http:// mirrors and skip TLS certificate verification" env:"PACDB_INSECURE"`
	TLSCACert string `name:"tls-ca-cert" help:"PEM file with CA certificates for HTTPS mirrors" env:"PACDB_TLS_CA_CERT" type:"path"`

	Decode DecodeCLI `cmd:"" help:"Decode a desc record to JSON"`
	Encode EncodeCLI `cmd:"" help:"Encode JSON as a desc record"`
	Show   ShowCLI   `cmd:"" help:"Show packages from a local database archive"`
	Repo   RepoCLI   `cmd:"" help:"Load a repository from its mirrors"`
	Serve  ServeCLI  `cmd:"" help:"Serve repositories over HTTP"`
	AWS    AWSCLI    `cmd:"aws" help:"Run on AWS"`
}

// logLevel lets commands apply a configured level unless -v was given.
type logLevel struct {
	level    *slog.LevelVar
	fromFlag bool
}

func (l *logLevel) apply(configured slog.Level) {
	if !l.fromFlag {
		l.level.Set(configured)
	}
}

func verbosityLevel(v int) slog.Level {
	switch v {
	case 0:
		return slog.LevelWarn
	case 1:
		return slog.LevelInfo
	default:
		return slog.LevelDebug
	}
}

func newLogger(w io.Writer, level slog.Leveler) *slog.Logger {
	return slog.New(tint.NewHandler(w, &tint.Options{
		Level:      level,
		TimeFormat: "15:04:05",
		NoColor:    os.Getenv("NO_COLOR") != "",
	}))
}

func main() {
	var cli CLI
	kctx := kong.Parse(&cli,
		kong.Name("pacdb"),
		kong.Description("Decode, inspect, and serve pacman repository databases."),
		kong.UsageOnError(),
	)

	lv := &logLevel{level: new(slog.LevelVar), fromFlag: cli.Verbose > 0}
	lv.level.Set(verbosityLevel(cli.Verbose))
	logger := newLogger(os.Stderr, lv.level)

	tlsCfg := fetch.TLSConfig{
		Insecure:   cli.Insecure,
		CACertFile: cli.TLSCACert,
	}

	kctx.BindTo(os.Stdout, (*io.Writer)(nil))
	err := kctx.Run(logger, tlsCfg, lv)
	kctx.FatalIfErrorf(err)
}

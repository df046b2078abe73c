// Command chaictl is an operator tool for poking at a CHAI deployment: it
// can run a single pipeline, show what a pipeline run would change without
// writing, and canonicalize URLs.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/quay/zlog"
	"github.com/rs/zerolog"
)

type commonConfig struct {
	DSN     string
	DataDir string
}

type subcmd func(context.Context, *commonConfig, []string) error

func main() {
	var exit int
	defer func() {
		if exit != 0 {
			os.Exit(exit)
		}
	}()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var cfg commonConfig
	fs := flag.NewFlagSet("main", flag.ExitOnError)
	fs.Usage = func() {
		out := fs.Output()
		fmt.Fprintf(out, "Usage of %s:\n", os.Args[0])
		fs.PrintDefaults()
		fmt.Fprintf(out, "\nSubcommands\n\n")
		fmt.Fprintln(out, "run <pipeline>")
		fmt.Fprintln(out, "\trun one pipeline end to end")
		fmt.Fprintln(out, "diff <pipeline>")
		fmt.Fprintln(out, "\tfetch, parse and diff one pipeline without writing")
		fmt.Fprintln(out, "canon <url>...")
		fmt.Fprintln(out, "\tprint the canonical form and name candidates of URLs")
		fmt.Fprintln(out)
	}
	fs.StringVar(&cfg.DSN, "D", os.Getenv("CHAI_DATABASE_URL"), "Postgres DSN (defaults to CHAI_DATABASE_URL)")
	fs.StringVar(&cfg.DataDir, "data", "./data", "root directory for fetched artifacts")
	debug := fs.Bool("debug", false, "log at debug level")
	if err := fs.Parse(os.Args[1:]); err != nil {
		log.Fatal(err)
	}

	level := zerolog.InfoLevel
	if *debug {
		level = zerolog.DebugLevel
	}
	l := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).Level(level)
	zlog.Set(&l)

	var cmd subcmd
	switch n := fs.Arg(0); n {
	case "run":
		cmd = runOne
	case "diff":
		cmd = diffOne
	case "canon":
		cmd = canonicalize
	case "":
		fs.Usage()
		exit = 99
		return
	default:
		fs.Usage()
		fmt.Fprintf(os.Stderr, "\nunknown subcommand %q\n", n)
		exit = 99
		return
	}

	if err := cmd(ctx, &cfg, fs.Args()[1:]); err != nil {
		fmt.Fprintln(os.Stderr, err)
		exit = 1
	}
}

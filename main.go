// Command imagev keeps a per-directory cache of image capture times and
// lists a directory's images in chronological order.
//
// Usage:
//
//	imagev [-cfg file] [-debug] list <file-or-dir>   # images by capture time, as JSON
//	imagev [-cfg file] [-debug] exif <file>          # display EXIF fields, as JSON
//	imagev [-cfg file] [-debug] scopes               # cached directories
//	imagev [-cfg file] [-debug] serve [-addr host:port]
package main

import (
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"

	"github.com/charmbracelet/log"

	"github.com/akavel/imagev/dbs"
	"github.com/akavel/imagev/index"
	"github.com/akavel/imagev/meta"
)

func main() {
	err := run(os.Args[1:], os.Stdout)
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

var errUsage = errors.New("usage: imagev [-cfg file] [-debug] list|exif|scopes|serve [args]")

// app is the state shared by all commands for one run.
type app struct {
	cfg      Config
	log      *log.Logger
	store    dbs.Store
	resolver *meta.Resolver
	index    *index.Reconciler
}

func run(args []string, stdout io.Writer) error {
	// Parse flags & config.
	flags := flag.NewFlagSet("imagev", flag.ContinueOnError)
	configPath := flags.String("cfg", "", "`path` to configuration file (default "+defaultConfigPath()+")")
	debug := flags.Bool("debug", false, "Enable debugging messages")
	if err := flags.Parse(args); err != nil {
		return err
	}
	args = flags.Args()
	if len(args) == 0 {
		return errUsage
	}

	path, explicit := *configPath, *configPath != ""
	if !explicit {
		path = defaultConfigPath()
	}
	cfg, err := loadConfig(path, explicit)
	if err != nil {
		return err
	}
	if *debug {
		cfg.Main.Debug = true
	}

	a, err := openApp(cfg, initLogger(cfg.Main.Debug))
	if err != nil {
		return err
	}
	defer a.Close()

	cmd, args := args[0], args[1:]
	switch cmd {
	case "list":
		return a.list(args, stdout)
	case "exif":
		return a.exif(args, stdout)
	case "scopes":
		return a.scopes(stdout)
	case "serve":
		return a.serve(args)
	default:
		return fmt.Errorf("unknown command %q\n%w", cmd, errUsage)
	}
}

func openApp(cfg Config, logger *log.Logger) (*app, error) {
	err := os.MkdirAll(cfg.Main.DataDir, 0755)
	if err != nil {
		return nil, fmt.Errorf("cannot create data dir: %w", err)
	}
	store, err := dbs.Open(cfg.Main.Backend, cfg.StorePath())
	if err != nil {
		return nil, err
	}
	logger.Debug("opened cache", "backend", cfg.Main.Backend, "path", cfg.StorePath())
	resolver := &meta.Resolver{Log: logger}
	return &app{
		cfg:      cfg,
		log:      logger,
		store:    store,
		resolver: resolver,
		index:    index.New(store, resolver, logger),
	}, nil
}

func (a *app) Close() error { return a.store.Close() }

func (a *app) list(args []string, stdout io.Writer) error {
	if len(args) != 1 {
		return errors.New("usage: imagev list <file-or-dir>")
	}
	path, err := filepath.Abs(args[0])
	if err != nil {
		return err
	}
	images, err := a.index.Reconcile(path)
	if err != nil {
		return err
	}
	return printJSON(stdout, images)
}

func (a *app) exif(args []string, stdout io.Writer) error {
	if len(args) != 1 {
		return errors.New("usage: imagev exif <file>")
	}
	d, err := a.resolver.Display(args[0])
	if err != nil {
		return fmt.Errorf("could not get EXIF data: %w", err)
	}
	return printJSON(stdout, d)
}

func (a *app) scopes(stdout io.Writer) error {
	scopes, err := a.store.Scopes()
	if err != nil {
		return err
	}
	for _, s := range scopes {
		fmt.Fprintf(stdout, "%6d  %s\n", s.Entries, s.Path)
	}
	return nil
}

func (a *app) serve(args []string) error {
	flags := flag.NewFlagSet("serve", flag.ContinueOnError)
	addr := flags.String("addr", a.cfg.Serve.Addr, "`host:port` to listen on")
	if err := flags.Parse(args); err != nil {
		return err
	}
	a.log.Info("serving", "addr", *addr)
	return http.ListenAndServe(*addr, a.handler())
}

func printJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

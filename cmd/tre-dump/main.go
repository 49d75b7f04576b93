// Command tre-dump prints the tagged record extensions of a NITF extension
// area, or of a single TRE, using the embedded catalog and any YAML
// descriptions configured.
package main

import (
	"context"
	"encoding/hex"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"text/tabwriter"

	"github.com/twinfer/tre-plugin/pkg/catalog"
	"github.com/twinfer/tre-plugin/pkg/extensions"
	"github.com/twinfer/tre-plugin/pkg/field"
	"github.com/twinfer/tre-plugin/pkg/tre"
)

func main() {
	if err := run(context.Background(), os.Args[1:], os.Stdout, os.Stderr); err != nil {
		fmt.Fprintf(os.Stderr, "tre-dump: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	fs := flag.NewFlagSet("tre-dump", flag.ContinueOnError)
	fs.SetOutput(stderr)
	configPath := fs.String("config", "", "TOML config file")
	schemaDir := fs.String("schema", "", "additional directory of YAML descriptions")
	format := fs.String("format", "", "output format, text or json")
	trim := fs.Bool("trim", false, "strip text padding")
	tag := fs.String("tag", "", "read the file as a single TRE with this tag instead of an extension area")
	logLevel := fs.String("log-level", "", "log level")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return fmt.Errorf("usage: tre-dump [flags] FILE")
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		return err
	}
	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "schema":
			cfg.SchemaDirs = append(cfg.SchemaDirs, *schemaDir)
		case "format":
			cfg.Format = *format
		case "trim":
			cfg.Trim = *trim
		case "log-level":
			err = cfg.LogLevel.UnmarshalText([]byte(*logLevel))
		}
	})
	if err != nil {
		return err
	}
	if err := cfg.validate(); err != nil {
		return err
	}

	logger := slog.New(slog.NewTextHandler(stderr, &slog.HandlerOptions{Level: cfg.LogLevel}))
	reg, err := buildRegistry(cfg, logger)
	if err != nil {
		return err
	}

	data, err := os.ReadFile(fs.Arg(0))
	if err != nil {
		return err
	}

	p := extensions.NewParser(
		extensions.WithRegistry(reg),
		extensions.WithLogger(logger),
		extensions.WithTrim(cfg.Trim),
	)
	var exts []*tre.Extension
	if *tag != "" {
		e, err := decodeOne(ctx, reg, *tag, data)
		if err != nil {
			return err
		}
		exts = []*tre.Extension{e}
	} else if exts, err = p.ParseArea(ctx, data); err != nil {
		return err
	}

	if cfg.Format == "json" {
		jsonData, err := p.ToJSON(exts)
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(stdout, string(jsonData))
		return err
	}
	return printText(stdout, exts, cfg.Trim)
}

func buildRegistry(cfg Config, logger *slog.Logger) (*tre.Registry, error) {
	if len(cfg.SchemaDirs) == 0 {
		return catalog.Default(), nil
	}
	reg := tre.NewRegistry(tre.WithRegistryLogger(logger))
	if err := catalog.Register(reg); err != nil {
		return nil, err
	}
	for _, dir := range cfg.SchemaDirs {
		if err := reg.LoadDir(dir); err != nil {
			return nil, fmt.Errorf("loading %s: %w", dir, err)
		}
	}
	reg.Freeze()
	return reg, nil
}

func decodeOne(ctx context.Context, reg *tre.Registry, tag string, data []byte) (*tre.Extension, error) {
	if !reg.Has(tag) {
		return reg.DecodeRaw(ctx, tag, data)
	}
	return reg.Decode(ctx, tag, "", data)
}

func printText(w io.Writer, exts []*tre.Extension, trim bool) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	for i, e := range exts {
		if i > 0 {
			fmt.Fprintln(tw)
		}
		size, err := e.Size()
		if err != nil {
			return err
		}
		kind := e.ID()
		if e.IsRaw() {
			kind = "raw"
		}
		fmt.Fprintf(tw, "%s\t(%s, %d bytes)\n", e.Tag(), kind, size)
		for name, f := range e.All() {
			fmt.Fprintf(tw, "  %s\t%s\t%d\t%s\n", name, f.Type(), f.Len(), display(f, trim))
		}
	}
	return tw.Flush()
}

func display(f *field.Field, trim bool) string {
	if f.Type() == field.Binary {
		return hex.EncodeToString(f.Bytes())
	}
	if trim {
		return f.Trimmed()
	}
	return fmt.Sprintf("%q", f.String())
}

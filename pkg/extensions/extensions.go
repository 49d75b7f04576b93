// Package extensions reads and writes NITF extension areas: runs of tagged
// extensions, each framed by a six character tag and a five digit length.
//
// Basic usage:
//
//	// Decode every extension in a subheader's extension area
//	exts, err := extensions.ParseArea(area)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	// Project them to JSON
//	jsonData, err := extensions.SerializeToJSON(area)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	// Convert JSON back to an extension area
//	area, err := extensions.SerializeFromJSON(jsonData)
//	if err != nil {
//	    log.Fatal(err)
//	}
package extensions

import (
	"context"
	"log/slog"
	"sync"

	"github.com/twinfer/tre-plugin/pkg/catalog"
	"github.com/twinfer/tre-plugin/pkg/tre"
)

// Parser decodes extension areas against a registry.
type Parser struct {
	registry *tre.Registry
	logger   *slog.Logger
	options  options
}

// options holds configuration for the parser
type options struct {
	logger         *slog.Logger
	registry       *tre.Registry
	trim           bool
	parallelism    int
	strictTrailing bool
}

// Option is a function that configures parser options
type Option func(*options)

// WithLogger sets a custom logger
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithRegistry sets the registry tags are looked up in (defaults to the
// embedded catalog)
func WithRegistry(r *tre.Registry) Option {
	return func(o *options) {
		o.registry = r
	}
}

// WithTrim strips text padding in the JSON projection
func WithTrim(enabled bool) Option {
	return func(o *options) {
		o.trim = enabled
	}
}

// WithParallelism decodes up to n extensions of an area at once
func WithParallelism(n int) Option {
	return func(o *options) {
		o.parallelism = n
	}
}

// WithStrictTrailing rejects an area whose last bytes are too short to hold
// an extension header instead of ignoring them
func WithStrictTrailing(enabled bool) Option {
	return func(o *options) {
		o.strictTrailing = enabled
	}
}

// defaultOptions returns the default configuration
func defaultOptions() options {
	return options{
		logger:      slog.Default(),
		parallelism: 1,
	}
}

// Global parser instance for convenience functions
var globalParser *Parser
var globalParserOnce sync.Once

// getGlobalParser returns a singleton parser over the embedded catalog
func getGlobalParser() *Parser {
	globalParserOnce.Do(func() {
		globalParser = NewParser()
	})
	return globalParser
}

// NewParser creates a new parser instance with the given options
func NewParser(opts ...Option) *Parser {
	options := defaultOptions()
	for _, opt := range opts {
		opt(&options)
	}
	if options.logger == nil {
		options.logger = slog.Default()
	}
	if options.registry == nil {
		options.registry = catalog.Default()
	}

	return &Parser{
		registry: options.registry,
		logger:   options.logger,
		options:  options,
	}
}

// Registry returns the registry the parser decodes against.
func (p *Parser) Registry() *tre.Registry { return p.registry }

func (p *Parser) with(opts []Option) options {
	o := p.options
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// ParseArea decodes an extension area with the global parser
func ParseArea(data []byte, opts ...Option) ([]*tre.Extension, error) {
	return getGlobalParser().ParseArea(context.Background(), data, opts...)
}

// ParseAreaWithContext decodes an extension area with the global parser and a context
func ParseAreaWithContext(ctx context.Context, data []byte, opts ...Option) ([]*tre.Extension, error) {
	return getGlobalParser().ParseArea(ctx, data, opts...)
}

// SerializeToJSON decodes an extension area and projects it to JSON
func SerializeToJSON(data []byte, opts ...Option) ([]byte, error) {
	return getGlobalParser().SerializeToJSON(context.Background(), data, opts...)
}

// SerializeToJSONWithContext decodes an extension area and projects it to JSON with a context
func SerializeToJSONWithContext(ctx context.Context, data []byte, opts ...Option) ([]byte, error) {
	return getGlobalParser().SerializeToJSON(ctx, data, opts...)
}

// SerializeFromJSON builds an extension area from its JSON projection
func SerializeFromJSON(jsonData []byte, opts ...Option) ([]byte, error) {
	return getGlobalParser().SerializeFromJSON(context.Background(), jsonData, opts...)
}

// SerializeFromJSONWithContext builds an extension area from its JSON projection with a context
func SerializeFromJSONWithContext(ctx context.Context, jsonData []byte, opts ...Option) ([]byte, error) {
	return getGlobalParser().SerializeFromJSON(ctx, jsonData, opts...)
}

// SerializeToJSON decodes an extension area and projects it to JSON
func (p *Parser) SerializeToJSON(ctx context.Context, data []byte, opts ...Option) ([]byte, error) {
	exts, err := p.ParseArea(ctx, data, opts...)
	if err != nil {
		return nil, err
	}
	return p.ToJSON(exts, opts...)
}

// SerializeFromJSON builds an extension area from its JSON projection
func (p *Parser) SerializeFromJSON(ctx context.Context, jsonData []byte, opts ...Option) ([]byte, error) {
	exts, err := p.FromJSON(jsonData)
	if err != nil {
		return nil, err
	}
	return p.WriteArea(ctx, exts)
}

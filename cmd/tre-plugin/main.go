package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/redpanda-data/benthos/v4/public/service"

	"github.com/twinfer/tre-plugin/pkg/catalog"
	"github.com/twinfer/tre-plugin/pkg/extensions"
	"github.com/twinfer/tre-plugin/pkg/tre"
)

const (
	metaTag   = "nitf_tre_tag"
	metaID    = "nitf_tre_id"
	metaCount = "nitf_tre_count"
)

// TREProcessor is a Benthos processor that decodes NITF tagged record
// extensions to JSON and encodes them back.
type TREProcessor struct {
	config   TREConfig
	registry *tre.Registry
	parser   *extensions.Parser
	logger   *service.Logger
	mDecoded *service.MetricCounter
	mEncoded *service.MetricCounter
	mErrors  *service.MetricCounter
}

// TREConfig contains configuration parameters for the nitf_tre processor.
type TREConfig struct {
	Operation   string `json:"operation" yaml:"operation"`
	Tag         string `json:"tag" yaml:"tag"`
	ID          string `json:"id" yaml:"id"`
	SchemaDir   string `json:"schema_dir" yaml:"schema_dir"`
	Trim        bool   `json:"trim" yaml:"trim"`
	Area        bool   `json:"area" yaml:"area"`
	Parallelism int    `json:"parallelism" yaml:"parallelism"`
}

func init() {
	err := service.RegisterProcessor(
		"nitf_tre",
		treProcessorConfig(),
		func(conf *service.ParsedConfig, mgr *service.Resources) (service.Processor, error) {
			return newTREProcessorFromConfig(conf, mgr)
		},
	)
	if err != nil {
		panic(err)
	}
}

func main() {
	service.RunCLI(context.Background())
}

// treProcessorConfig returns the config of a nitf_tre processor.
func treProcessorConfig() *service.ConfigSpec {
	return service.NewConfigSpec().
		Summary("Decodes or encodes NITF tagged record extensions using YAML descriptions.").
		Description("Decoding turns one TRE, or a whole extension area, into JSON keyed by field name in traversal order. Encoding turns that JSON back into bytes. Tags without a description are carried as raw data.").
		Field(service.NewStringEnumField("operation", "decode", "encode").
			Description("Whether to decode bytes to JSON or encode JSON to bytes.").
			Default("decode")).
		Field(service.NewStringField("tag").
			Description("Tag of a single TRE message. When empty the " + metaTag + " metadata is used. Ignored for areas.").
			Default("")).
		Field(service.NewStringField("id").
			Description("Description variant to decode with. Leave empty to try every variant in order.").
			Default("")).
		Field(service.NewStringField("schema_dir").
			Description("Directory of additional YAML descriptions, loaded once on top of the embedded catalog.").
			Example("./tres").
			Default("")).
		Field(service.NewBoolField("trim").
			Description("Strip trailing padding from text values in decoded JSON.").
			Default(false)).
		Field(service.NewBoolField("area").
			Description("Treat the message as an extension area of tag and length framed TREs.").
			Default(false)).
		Field(service.NewIntField("parallelism").
			Description("Number of TREs of an area decoded at once.").
			Default(1)).
		Version("0.1.0")
}

// newTREProcessorFromConfig creates a new TREProcessor from a parsed config.
func newTREProcessorFromConfig(conf *service.ParsedConfig, mgr *service.Resources) (*TREProcessor, error) {
	var config TREConfig
	var err error
	if config.Operation, err = conf.FieldString("operation"); err != nil {
		return nil, err
	}
	if config.Tag, err = conf.FieldString("tag"); err != nil {
		return nil, err
	}
	if config.ID, err = conf.FieldString("id"); err != nil {
		return nil, err
	}
	if config.SchemaDir, err = conf.FieldString("schema_dir"); err != nil {
		return nil, err
	}
	if config.Trim, err = conf.FieldBool("trim"); err != nil {
		return nil, err
	}
	if config.Area, err = conf.FieldBool("area"); err != nil {
		return nil, err
	}
	if config.Parallelism, err = conf.FieldInt("parallelism"); err != nil {
		return nil, err
	}

	registry, err := loadRegistry(config.SchemaDir)
	if err != nil {
		return nil, err
	}

	logger := mgr.Logger()
	metrics := mgr.Metrics()
	logger.Debugf("Loaded descriptions for %d tags", len(registry.Tags()))

	return &TREProcessor{
		config:   config,
		registry: registry,
		parser: extensions.NewParser(
			extensions.WithRegistry(registry),
			extensions.WithTrim(config.Trim),
			extensions.WithParallelism(config.Parallelism),
		),
		logger:   logger,
		mDecoded: metrics.NewCounter("nitf_tre_decoded"),
		mEncoded: metrics.NewCounter("nitf_tre_encoded"),
		mErrors:  metrics.NewCounter("nitf_tre_errors"),
	}, nil
}

func loadRegistry(dir string) (*tre.Registry, error) {
	if dir == "" {
		return catalog.Default(), nil
	}
	reg := tre.NewRegistry()
	if err := catalog.Register(reg); err != nil {
		return nil, err
	}
	if err := reg.LoadDir(dir); err != nil {
		return nil, fmt.Errorf("loading descriptions from %s: %w", dir, err)
	}
	reg.Freeze()
	return reg, nil
}

// Process decodes or encodes a message.
func (p *TREProcessor) Process(ctx context.Context, msg *service.Message) (service.MessageBatch, error) {
	if p.config.Operation == "encode" {
		return p.encode(ctx, msg)
	}
	return p.decode(ctx, msg)
}

func (p *TREProcessor) fail(msg *service.Message, err error) (service.MessageBatch, error) {
	p.logger.Errorf("%v", err)
	p.mErrors.Incr(1)
	msg.SetError(err)
	return service.MessageBatch{msg}, nil
}

func (p *TREProcessor) decode(ctx context.Context, msg *service.Message) (service.MessageBatch, error) {
	data, err := msg.AsBytes()
	if err != nil {
		return p.fail(msg, fmt.Errorf("failed to get binary data from message: %w", err))
	}

	var exts []*tre.Extension
	if p.config.Area {
		if exts, err = p.parser.ParseArea(ctx, data); err != nil {
			return p.fail(msg, fmt.Errorf("failed to decode extension area of %d bytes: %w", len(data), err))
		}
	} else {
		tag := p.tag(msg)
		if tag == "" {
			return p.fail(msg, errors.New("no tag configured and no "+metaTag+" metadata"))
		}
		e, err := p.decodeOne(ctx, tag, data)
		if err != nil {
			return p.fail(msg, fmt.Errorf("failed to decode %s of %d bytes: %w", tag, len(data), err))
		}
		exts = []*tre.Extension{e}
	}

	// A single TRE is emitted as one record, an area as an array.
	var jsonData []byte
	if p.config.Area {
		jsonData, err = p.parser.ToJSON(exts)
	} else {
		var rec extensions.Record
		if rec, err = extensions.Project(exts[0], p.config.Trim); err == nil {
			jsonData, err = json.Marshal(rec)
		}
	}
	if err != nil {
		return p.fail(msg, fmt.Errorf("failed to project to JSON: %w", err))
	}

	p.logger.Debugf("Decoded %d extensions from %d bytes", len(exts), len(data))
	p.mDecoded.Incr(int64(len(exts)))

	out := msg.Copy()
	out.SetBytes(jsonData)
	out.MetaSetMut(metaCount, strconv.Itoa(len(exts)))
	if !p.config.Area {
		out.MetaSetMut(metaTag, exts[0].Tag())
		out.MetaSetMut(metaID, exts[0].ID())
	}
	return service.MessageBatch{out}, nil
}

func (p *TREProcessor) decodeOne(ctx context.Context, tag string, data []byte) (*tre.Extension, error) {
	if !p.registry.Has(tag) {
		p.logger.Debugf("No description for %s, keeping raw data", tag)
		return p.registry.DecodeRaw(ctx, tag, data)
	}
	return p.registry.Decode(ctx, tag, p.config.ID, data)
}

func (p *TREProcessor) tag(msg *service.Message) string {
	if p.config.Tag != "" {
		return p.config.Tag
	}
	tag, _ := msg.MetaGet(metaTag)
	return tag
}

func (p *TREProcessor) encode(ctx context.Context, msg *service.Message) (service.MessageBatch, error) {
	jsonData, err := msg.AsBytes()
	if err != nil {
		return p.fail(msg, fmt.Errorf("failed to get JSON from message: %w", err))
	}

	exts, err := p.parser.FromJSON(jsonData)
	if err != nil {
		return p.fail(msg, fmt.Errorf("failed to build extensions: %w", err))
	}

	var data []byte
	if p.config.Area {
		data, err = p.parser.WriteArea(ctx, exts)
	} else {
		if len(exts) != 1 {
			return p.fail(msg, fmt.Errorf("expected one extension, got %d", len(exts)))
		}
		data, err = exts[0].Encode(ctx)
	}
	if err != nil {
		return p.fail(msg, fmt.Errorf("failed to encode: %w", err))
	}

	p.logger.Debugf("Encoded %d extensions to %d bytes", len(exts), len(data))
	p.mEncoded.Incr(int64(len(exts)))

	out := msg.Copy()
	out.SetBytes(data)
	if !p.config.Area {
		out.MetaSetMut(metaTag, exts[0].Tag())
	}
	return service.MessageBatch{out}, nil
}

// Close the processor resources
func (p *TREProcessor) Close(ctx context.Context) error {
	return nil
}

package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/polisai/authchain/pkg/domain"
	"github.com/polisai/authchain/pkg/loader"
)

// Parser identifiers registered by RegisterParsers.
const (
	ParserYAML = "yaml"
	ParserFile = "file"
)

// RegisterParsers adds the built-in module config parsers to reg.
func RegisterParsers(reg *loader.Registry) {
	reg.RegisterParser(ParserYAML, func() (loader.ConfigParser, error) { return &YAMLParser{}, nil })
	reg.RegisterParser(ParserFile, func() (loader.ConfigParser, error) { return &FileParser{}, nil })
}

// YAMLParser reads module options from an inline mapping or a YAML document
// held in a string.
type YAMLParser struct {
	options map[string]any
}

// Initialize decodes config.
func (p *YAMLParser) Initialize(config any) error {
	switch v := config.(type) {
	case nil:
		p.options = map[string]any{}
	case map[string]any:
		p.options = make(map[string]any, len(v))
		for k, val := range v {
			p.options[k] = val
		}
	case string:
		return p.decode([]byte(v))
	case []byte:
		return p.decode(v)
	default:
		return fmt.Errorf("unsupported config block %T: %w", config, domain.ErrConfigInvalid)
	}
	return nil
}

func (p *YAMLParser) decode(data []byte) error {
	options := map[string]any{}
	if err := yaml.Unmarshal(data, &options); err != nil {
		return fmt.Errorf("decode module config: %w", err)
	}
	p.options = options
	return nil
}

// Options returns a copy of the decoded options.
func (p *YAMLParser) Options() (map[string]any, error) {
	out := make(map[string]any, len(p.options))
	for k, v := range p.options {
		out[k] = v
	}
	return out, nil
}

// FileParser reads module options from the YAML file named by the config
// block. The file is read once, at Initialize.
type FileParser struct {
	YAMLParser
}

// Initialize reads the file named by config.
func (p *FileParser) Initialize(config any) error {
	path, ok := config.(string)
	if !ok || path == "" {
		return fmt.Errorf("file parser expects a path: %w", domain.ErrConfigInvalid)
	}
	//nolint:gosec // Module config paths are controlled by admin/operator
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read module config %s: %w", path, err)
	}
	return p.decode(data)
}

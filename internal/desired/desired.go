// Package desired loads desired-state documents for the reconciler from
// TOML, YAML or JSON files.
package desired

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	habitat "github.com/axondata/go-habitat"
	"gopkg.in/yaml.v3"
)

// Format is a document encoding
type Format int

const (
	FormatTOML Format = iota
	FormatYAML
	FormatJSON
)

// ErrUnknownFormat is returned for file extensions we cannot decode
var ErrUnknownFormat = errors.New("desired: unknown document format")

// FormatFor picks the format from a file extension
func FormatFor(path string) (Format, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		return FormatTOML, nil
	case ".yaml", ".yml":
		return FormatYAML, nil
	case ".json":
		return FormatJSON, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnknownFormat, filepath.Ext(path))
	}
}

// Document is the on-disk shape of a desired-state file
type Document struct {
	Supervisor string   `toml:"supervisor" yaml:"supervisor" json:"supervisor"`
	Service    *Service `toml:"service" yaml:"service" json:"service"`
}

// Service describes one service in a Document
type Service struct {
	Origin string         `toml:"origin" yaml:"origin" json:"origin"`
	Name   string         `toml:"name" yaml:"name" json:"name"`
	Group  string         `toml:"group" yaml:"group" json:"group"`
	State  string         `toml:"state" yaml:"state" json:"state"`
	Style  string         `toml:"style" yaml:"style" json:"style"`
	Config map[string]any `toml:"config" yaml:"config" json:"config"`
}

// Load reads a desired-state document from path
func Load(path string) (habitat.Request, error) {
	format, err := FormatFor(path)
	if err != nil {
		return habitat.Request{}, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return habitat.Request{}, fmt.Errorf("reading desired state: %w", err)
	}
	req, err := Parse(data, format)
	if err != nil {
		return habitat.Request{}, fmt.Errorf("%s: %w", path, err)
	}
	return req, nil
}

// Parse decodes a desired-state document. Missing fields take the
// defaults: supervisor up, origin core, group default, state up and
// style persistent.
func Parse(data []byte, format Format) (habitat.Request, error) {
	var doc Document
	if err := decode(data, format, &doc); err != nil {
		return habitat.Request{}, err
	}
	return doc.Request()
}

// Request converts the document into a reconciler request
func (doc Document) Request() (habitat.Request, error) {
	sup := doc.Supervisor
	if sup == "" {
		sup = "up"
	}
	supState, ok := habitat.ParseSupervisorState(sup)
	if !ok {
		return habitat.Request{}, fmt.Errorf("%w: supervisor %q", habitat.ErrInvalidDesired, doc.Supervisor)
	}

	req := habitat.Request{Supervisor: supState}
	if doc.Service == nil || doc.Service.Name == "" {
		return req, nil
	}

	d, err := doc.Service.Desired()
	if err != nil {
		return habitat.Request{}, err
	}
	req.Service = &d
	return req, nil
}

// Desired converts the service section, applying defaults
func (s Service) Desired() (habitat.Desired, error) {
	state, err := parseState(s.State)
	if err != nil {
		return habitat.Desired{}, err
	}
	style, err := ParseStyle(s.Style)
	if err != nil {
		return habitat.Desired{}, err
	}
	tree, err := habitat.FromMap(s.Config)
	if err != nil {
		return habitat.Desired{}, fmt.Errorf("%w: config: %w", habitat.ErrInvalidDesired, err)
	}

	d := habitat.Desired{
		Identity: habitat.NewServiceIdentity(s.Origin, s.Name, s.Group),
		State:    state,
		Style:    style,
		Config:   tree,
	}
	return d, d.Validate()
}

// LoadConfig reads a bare configuration tree from path
func LoadConfig(path string) (habitat.Tree, error) {
	format, err := FormatFor(path)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}

	var raw map[string]any
	if err := decode(data, format, &raw); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	tree, err := habitat.FromMap(raw)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return tree, nil
}

// ParseState parses "up" or "down"; empty means up
func ParseState(raw string) (habitat.ServiceState, error) {
	return parseState(raw)
}

func parseState(raw string) (habitat.ServiceState, error) {
	if strings.TrimSpace(raw) == "" {
		return habitat.StateUp, nil
	}
	state, ok := habitat.ParseServiceState(raw)
	if !ok {
		return habitat.StateUnknown, fmt.Errorf("%w: state %q", habitat.ErrInvalidDesired, raw)
	}
	return state, nil
}

// ParseStyle parses "persistent" or "transient"; empty means persistent
func ParseStyle(raw string) (habitat.StartStyle, error) {
	if strings.TrimSpace(raw) == "" {
		return habitat.StylePersistent, nil
	}
	style, ok := habitat.ParseStartStyle(raw)
	if !ok {
		return habitat.StyleUnknown, fmt.Errorf("%w: style %q", habitat.ErrInvalidDesired, raw)
	}
	return style, nil
}

func decode(data []byte, format Format, out any) error {
	switch format {
	case FormatTOML:
		if _, err := toml.Decode(string(data), out); err != nil {
			return fmt.Errorf("decoding toml: %w", err)
		}
	case FormatYAML:
		if err := yaml.Unmarshal(data, out); err != nil {
			return fmt.Errorf("decoding yaml: %w", err)
		}
	case FormatJSON:
		dec := json.NewDecoder(bytes.NewReader(data))
		dec.UseNumber()
		if err := dec.Decode(out); err != nil {
			return fmt.Errorf("decoding json: %w", err)
		}
	default:
		return ErrUnknownFormat
	}
	return nil
}

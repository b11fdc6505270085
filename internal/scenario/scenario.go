// Package scenario loads a substrate network and a set of virtual network
// requests into the knowledge base from YAML or HCL documents.
//
// A network is either generated (one_tier or two_tier), listed explicitly
// (servers, switches, links), or both; explicit elements are added after
// the generated ones.
package scenario

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"
	"github.com/zclconf/go-cty/cty"
	"gopkg.in/yaml.v3"

	"github.com/signalsfoundry/vne-simulator/internal/generator"
	"github.com/signalsfoundry/vne-simulator/kb"
	"github.com/signalsfoundry/vne-simulator/model"
)

// ErrInvalidScenario is returned for documents that decode but describe
// no usable scenario.
var ErrInvalidScenario = errors.New("invalid scenario")

// Document is the decoded form shared by both formats.
type Document struct {
	Substrate NetworkSpec   `yaml:"substrate" hcl:"substrate,block"`
	Requests  []NetworkSpec `yaml:"requests" hcl:"request,block"`
	Paths     *PathBounds   `yaml:"paths" hcl:"paths,block"`
}

// NetworkSpec describes one network.
type NetworkSpec struct {
	ID       string                   `yaml:"id" hcl:"id,label"`
	OneTier  *generator.OneTierConfig `yaml:"one_tier" hcl:"one_tier,block"`
	TwoTier  *generator.TwoTierConfig `yaml:"two_tier" hcl:"two_tier,block"`
	Servers  []ServerSpec             `yaml:"servers" hcl:"server,block"`
	Switches []SwitchSpec             `yaml:"switches" hcl:"switch,block"`
	Links    []LinkSpec               `yaml:"links" hcl:"link,block"`
}

// ServerSpec is an explicit server. For requests the values are demands.
type ServerSpec struct {
	ID      string `yaml:"id" hcl:"id,label"`
	CPU     int64  `yaml:"cpu" hcl:"cpu,optional"`
	Memory  int64  `yaml:"memory" hcl:"memory,optional"`
	Storage int64  `yaml:"storage" hcl:"storage,optional"`
}

// SwitchSpec is an explicit switch.
type SwitchSpec struct {
	ID string `yaml:"id" hcl:"id,label"`
}

// LinkSpec is an explicit link. A bidirectional link also adds the reverse
// direction under ID + "_rev".
type LinkSpec struct {
	ID            string `yaml:"id" hcl:"id,label"`
	Source        string `yaml:"source" hcl:"source"`
	Target        string `yaml:"target" hcl:"target"`
	Bandwidth     int64  `yaml:"bandwidth" hcl:"bandwidth,optional"`
	Bidirectional bool   `yaml:"bidirectional" hcl:"bidirectional,optional"`
}

// PathBounds overrides the configured path length bounds.
type PathBounds struct {
	MinLength int `yaml:"min_length" hcl:"min_length"`
	MaxLength int `yaml:"max_length" hcl:"max_length"`
}

// Scenario summarises what a document loaded.
type Scenario struct {
	SubstrateID string
	RequestIDs  []string
	// Paths is nil when the document leaves bounds to configuration.
	Paths *PathBounds
}

// LoadYAML decodes a YAML document from r and applies it to store.
// Unknown fields are rejected.
func LoadYAML(store *kb.KnowledgeBase, r io.Reader) (*Scenario, error) {
	var doc Document
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("decode yaml scenario: %w", err)
	}
	return Apply(store, &doc)
}

// LoadHCL parses an HCL document and applies it to store. vars are
// exposed to expressions as var.<name>.
func LoadHCL(store *kb.KnowledgeBase, filename string, src []byte, vars map[string]cty.Value) (*Scenario, error) {
	parser := hclparse.NewParser()
	file, diags := parser.ParseHCL(src, filename)
	if diags.HasErrors() {
		return nil, fmt.Errorf("parse hcl scenario %s: %w", filename, diags)
	}

	ctx := &hcl.EvalContext{Variables: map[string]cty.Value{}}
	if len(vars) > 0 {
		ctx.Variables["var"] = cty.ObjectVal(vars)
	} else {
		ctx.Variables["var"] = cty.EmptyObjectVal
	}

	var doc Document
	if diags := gohcl.DecodeBody(file.Body, ctx, &doc); diags.HasErrors() {
		return nil, fmt.Errorf("decode hcl scenario %s: %w", filename, diags)
	}
	return Apply(store, &doc)
}

// LoadFile picks the format from the file extension.
func LoadFile(store *kb.KnowledgeBase, path string, vars map[string]cty.Value) (*Scenario, error) {
	src, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read scenario: %w", err)
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return LoadYAML(store, bytes.NewReader(src))
	case ".hcl":
		return LoadHCL(store, path, src, vars)
	default:
		return nil, fmt.Errorf("%w: unsupported scenario format %q", ErrInvalidScenario, filepath.Ext(path))
	}
}

// Apply validates doc and adds its networks to store, substrate first.
// The store is left partially populated when a network fails to load.
func Apply(store *kb.KnowledgeBase, doc *Document) (*Scenario, error) {
	if store == nil {
		return nil, fmt.Errorf("%w: nil store", ErrInvalidScenario)
	}
	if doc.Substrate.ID == "" {
		return nil, fmt.Errorf("%w: substrate id is required", ErrInvalidScenario)
	}
	if doc.Paths != nil && (doc.Paths.MinLength < 1 || doc.Paths.MinLength > doc.Paths.MaxLength) {
		return nil, fmt.Errorf("%w: path bounds [%d, %d]", ErrInvalidScenario, doc.Paths.MinLength, doc.Paths.MaxLength)
	}

	if err := addNetwork(store, doc.Substrate, model.NetworkSubstrate); err != nil {
		return nil, err
	}
	out := &Scenario{SubstrateID: doc.Substrate.ID, Paths: doc.Paths}
	for _, req := range doc.Requests {
		if err := addNetwork(store, req, model.NetworkVirtual); err != nil {
			return out, err
		}
		out.RequestIDs = append(out.RequestIDs, req.ID)
	}
	return out, nil
}

func addNetwork(store *kb.KnowledgeBase, spec NetworkSpec, kind model.NetworkKind) error {
	if spec.ID == "" {
		return fmt.Errorf("%w: %s network without id", ErrInvalidScenario, kind)
	}
	if spec.OneTier != nil && spec.TwoTier != nil {
		return fmt.Errorf("%w: network %q sets both one_tier and two_tier", ErrInvalidScenario, spec.ID)
	}

	var err error
	switch {
	case spec.OneTier != nil:
		err = generator.OneTier(store, spec.ID, kind, *spec.OneTier)
	case spec.TwoTier != nil:
		err = generator.TwoTier(store, spec.ID, kind, *spec.TwoTier)
	default:
		if len(spec.Servers) == 0 && len(spec.Switches) == 0 {
			return fmt.Errorf("%w: network %q has no nodes", ErrInvalidScenario, spec.ID)
		}
		err = store.AddNetwork(spec.ID, kind)
	}
	if err != nil {
		return fmt.Errorf("network %q: %w", spec.ID, err)
	}

	for _, s := range spec.Servers {
		r := model.Resources{CPU: s.CPU, Memory: s.Memory, Storage: s.Storage}
		if err := store.AddNode(model.NewServer(s.ID, spec.ID, r)); err != nil {
			return fmt.Errorf("network %q: %w", spec.ID, err)
		}
	}
	for _, s := range spec.Switches {
		if err := store.AddNode(model.NewSwitch(s.ID, spec.ID)); err != nil {
			return fmt.Errorf("network %q: %w", spec.ID, err)
		}
	}
	for _, l := range spec.Links {
		if err := store.AddLink(model.NewLink(l.ID, spec.ID, l.Source, l.Target, l.Bandwidth)); err != nil {
			return fmt.Errorf("network %q: %w", spec.ID, err)
		}
		if l.Bidirectional {
			if err := store.AddLink(model.NewLink(l.ID+"_rev", spec.ID, l.Target, l.Source, l.Bandwidth)); err != nil {
				return fmt.Errorf("network %q: %w", spec.ID, err)
			}
		}
	}
	return nil
}

// ParseVariable turns a name=value pair into an HCL variable. Values that
// parse as numbers or booleans keep that type; everything else is a string.
func ParseVariable(s string) (string, cty.Value, error) {
	name, raw, ok := strings.Cut(s, "=")
	name = strings.TrimSpace(name)
	if !ok || name == "" {
		return "", cty.NilVal, fmt.Errorf("%w: variable %q is not name=value", ErrInvalidScenario, s)
	}
	switch raw {
	case "true":
		return name, cty.True, nil
	case "false":
		return name, cty.False, nil
	}
	if n, err := cty.ParseNumberVal(raw); err == nil {
		return name, n, nil
	}
	return name, cty.StringVal(raw), nil
}

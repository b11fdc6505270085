package scenario

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zclconf/go-cty/cty"

	"github.com/signalsfoundry/vne-simulator/kb"
	"github.com/signalsfoundry/vne-simulator/model"
)

const yamlScenario = `
substrate:
  id: sub
  one_tier:
    servers: 2
    switches: 1
    cpu: 4
    memory: 4
    storage: 4
    bandwidth: 10
requests:
  - id: v1
    servers:
      - {id: v1_a, cpu: 1, memory: 1, storage: 1}
      - {id: v1_b, cpu: 2, memory: 2, storage: 2}
    links:
      - {id: v1_ab, source: v1_a, target: v1_b, bandwidth: 3, bidirectional: true}
  - id: v2
    one_tier: {servers: 1, cpu: 1, memory: 1, storage: 1}
paths:
  min_length: 1
  max_length: 2
`

func TestLoadYAML(t *testing.T) {
	store := kb.NewKnowledgeBase()
	sc, err := LoadYAML(store, strings.NewReader(yamlScenario))
	require.NoError(t, err)

	assert.Equal(t, "sub", sc.SubstrateID)
	assert.Equal(t, []string{"v1", "v2"}, sc.RequestIDs)
	require.NotNil(t, sc.Paths)
	assert.Equal(t, 2, sc.Paths.MaxLength)

	assert.Len(t, store.ListServers("sub"), 2)
	assert.Len(t, store.ListLinks("sub"), 4)

	rev, err := store.GetLink("v1_ab_rev")
	require.NoError(t, err)
	assert.Equal(t, "v1_b", rev.Source)
	assert.Equal(t, int64(3), rev.Bandwidth)

	net, err := store.GetNetwork("v2")
	require.NoError(t, err)
	assert.Equal(t, model.NetworkVirtual, net.Kind)
}

func TestLoadYAMLRejectsUnknownFields(t *testing.T) {
	_, err := LoadYAML(kb.NewKnowledgeBase(), strings.NewReader("substrate: {id: s, color: red}\n"))
	require.Error(t, err)
}

const hclScenario = `
substrate "dc" {
  two_tier {
    racks          = var.racks
    core_switches  = 1
    core_bandwidth = 100
    rack {
      servers   = 2
      switches  = 1
      cpu       = 8
      memory    = 8
      storage   = 8
      bandwidth = 10
    }
  }
}

request "web" {
  server "web_fe" {
    cpu     = 2
    memory  = 2
    storage = 2
  }
  server "web_be" {
    cpu     = var.backend_cpu
    memory  = 1
    storage = 1
  }
  switch "web_sw" {}
  link "web_l1" {
    source        = "web_fe"
    target        = "web_sw"
    bandwidth     = 5
    bidirectional = true
  }
}
`

func TestLoadHCLWithVariables(t *testing.T) {
	store := kb.NewKnowledgeBase()
	vars := map[string]cty.Value{
		"racks":       cty.NumberIntVal(3),
		"backend_cpu": cty.NumberIntVal(4),
	}
	sc, err := LoadHCL(store, "dc.hcl", []byte(hclScenario), vars)
	require.NoError(t, err)
	assert.Equal(t, "dc", sc.SubstrateID)
	assert.Equal(t, []string{"web"}, sc.RequestIDs)
	assert.Nil(t, sc.Paths)

	assert.Len(t, store.ListServers("dc"), 6)
	be, err := store.GetNode("web_be")
	require.NoError(t, err)
	assert.Equal(t, int64(4), be.Demand().CPU)
	assert.Len(t, store.ListSwitches("web"), 1)
	assert.Len(t, store.ListLinks("web"), 2)
}

func TestLoadHCLMissingVariable(t *testing.T) {
	_, err := LoadHCL(kb.NewKnowledgeBase(), "dc.hcl", []byte(hclScenario), nil)
	require.Error(t, err)
}

func TestLoadFile(t *testing.T) {
	dir := t.TempDir()
	yml := filepath.Join(dir, "s.yaml")
	require.NoError(t, os.WriteFile(yml, []byte(yamlScenario), 0o600))
	_, err := LoadFile(kb.NewKnowledgeBase(), yml, nil)
	require.NoError(t, err)

	txt := filepath.Join(dir, "s.txt")
	require.NoError(t, os.WriteFile(txt, []byte("x"), 0o600))
	_, err = LoadFile(kb.NewKnowledgeBase(), txt, nil)
	assert.ErrorIs(t, err, ErrInvalidScenario)
}

func TestApplyValidation(t *testing.T) {
	tests := []struct {
		name string
		doc  Document
	}{
		{name: "missing substrate id", doc: Document{}},
		{name: "empty network", doc: Document{Substrate: NetworkSpec{ID: "s"}}},
		{name: "bad bounds", doc: Document{
			Substrate: NetworkSpec{ID: "s", Switches: []SwitchSpec{{ID: "sw"}}},
			Paths:     &PathBounds{MinLength: 2, MaxLength: 1},
		}},
		{name: "request without id", doc: Document{
			Substrate: NetworkSpec{ID: "s", Switches: []SwitchSpec{{ID: "sw"}}},
			Requests:  []NetworkSpec{{Switches: []SwitchSpec{{ID: "x"}}}},
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Apply(kb.NewKnowledgeBase(), &tt.doc)
			assert.ErrorIs(t, err, ErrInvalidScenario)
		})
	}

	_, err := Apply(kb.NewKnowledgeBase(), &Document{Substrate: NetworkSpec{
		ID:      "s",
		Links:   []LinkSpec{{ID: "l", Source: "a", Target: "b"}},
		Servers: []ServerSpec{{ID: "a"}},
	}})
	assert.ErrorIs(t, err, kb.ErrNotFound)
}

func TestParseVariable(t *testing.T) {
	name, v, err := ParseVariable("racks=4")
	require.NoError(t, err)
	assert.Equal(t, "racks", name)
	assert.Equal(t, cty.Number, v.Type())
	n, _ := v.AsBigFloat().Int64()
	assert.Equal(t, int64(4), n)

	_, v, err = ParseVariable("mesh=true")
	require.NoError(t, err)
	assert.True(t, v.RawEquals(cty.True))

	_, v, err = ParseVariable("label=rack-a")
	require.NoError(t, err)
	assert.True(t, v.RawEquals(cty.StringVal("rack-a")))

	_, _, err = ParseVariable("novalue")
	assert.ErrorIs(t, err, ErrInvalidScenario)
}

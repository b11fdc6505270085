package report

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/signalsfoundry/vne-simulator/internal/embedding"
	"github.com/signalsfoundry/vne-simulator/kb"
	"github.com/signalsfoundry/vne-simulator/model"
)

// embedded builds srv1 -> sw -> srv2 with a two-hop path and one virtual
// network spread over both servers.
func embedded(t *testing.T) *kb.KnowledgeBase {
	t.Helper()
	ctx := context.Background()
	store := kb.NewKnowledgeBase()
	require.NoError(t, store.AddNetwork("sub", model.NetworkSubstrate))
	require.NoError(t, store.AddNode(model.NewServer("srv1", "sub", model.Resources{CPU: 4, Memory: 4, Storage: 4})))
	require.NoError(t, store.AddNode(model.NewServer("srv2", "sub", model.Resources{CPU: 4, Memory: 4, Storage: 4})))
	require.NoError(t, store.AddNode(model.NewSwitch("sw", "sub")))
	require.NoError(t, store.AddLink(model.NewLink("up", "sub", "srv1", "sw", 10)))
	require.NoError(t, store.AddLink(model.NewLink("down", "sub", "sw", "srv2", 10)))
	require.NoError(t, store.AddPath(&model.Path{
		ID: "p", NetworkID: "sub", Source: "srv1", Target: "srv2",
		NodeIDs: []string{"srv1", "sw", "srv2"}, LinkIDs: []string{"up", "down"},
		Bandwidth: 10, Residual: 10,
	}))

	require.NoError(t, store.AddNetwork("v", model.NetworkVirtual))
	require.NoError(t, store.AddNode(model.NewServer("a", "v", model.Resources{CPU: 2, Memory: 2, Storage: 2})))
	require.NoError(t, store.AddNode(model.NewServer("b", "v", model.Resources{CPU: 1, Memory: 1, Storage: 1})))
	require.NoError(t, store.AddNode(model.NewSwitch("vsw", "v")))
	require.NoError(t, store.AddLink(model.NewLink("ab", "v", "a", "b", 3)))
	require.NoError(t, store.AddLink(model.NewLink("a_sw", "v", "a", "vsw", 5)))

	require.NoError(t, store.AddNetwork("idle", model.NetworkVirtual))
	require.NoError(t, store.AddNode(model.NewServer("idle_srv", "idle", model.Resources{CPU: 1})))

	eng := embedding.NewEngine(store)
	require.NoError(t, eng.ApplyMapping(ctx, embedding.Mapping{
		VirtualNetworkID:   "v",
		SubstrateNetworkID: "sub",
		Nodes:              map[string]string{"a": "srv1", "b": "srv2", "vsw": "sw"},
		Links:              map[string]string{"ab": "p", "a_sw": "srv1"},
	}))
	return store
}

func TestBuild(t *testing.T) {
	store := embedded(t)
	r, err := Build(store.Snapshot(), "sub")
	require.NoError(t, err)

	assert.Equal(t, 1, r.AcceptedVNRs)
	assert.Equal(t, []string{"v"}, r.AcceptedIDs)
	assert.Equal(t, 2, r.ActiveServers)
	assert.Equal(t, 1, r.ActiveSwitches)
	// ab: 2 hops x 3; a_sw is local.
	assert.Equal(t, int64(6), r.TotalPathCost)
	assert.InDelta(t, 1.0, r.AveragePathLength, 1e-9)
	assert.InDelta(t, 1.4142135623730951, r.PathLengthStdDev, 1e-9)
	// srv1 uses 6 of 12, srv2 uses 3 of 12.
	assert.InDelta(t, 0.375, r.MeanServerUtilization, 1e-9)
}

func TestBuildEmptyAndErrors(t *testing.T) {
	store := kb.NewKnowledgeBase()
	require.NoError(t, store.AddNetwork("sub", model.NetworkSubstrate))
	require.NoError(t, store.AddNetwork("v", model.NetworkVirtual))

	r, err := Build(store.Snapshot(), "sub")
	require.NoError(t, err)
	assert.Zero(t, r.AcceptedVNRs)
	assert.Zero(t, r.AveragePathLength)

	_, err = Build(store.Snapshot(), "nope")
	assert.ErrorIs(t, err, kb.ErrNotFound)
	_, err = Build(store.Snapshot(), "v")
	assert.ErrorIs(t, err, model.ErrInvalidRequest)
}

func TestWriters(t *testing.T) {
	r, err := Build(embedded(t).Snapshot(), "sub")
	require.NoError(t, err)

	var text bytes.Buffer
	require.NoError(t, r.WriteText(&text))
	assert.Contains(t, text.String(), "accepted vnrs")
	assert.Contains(t, text.String(), "total path cost")
	assert.Len(t, strings.Split(strings.TrimSpace(text.String()), "\n"), 8)

	var out bytes.Buffer
	require.NoError(t, r.WriteYAML(&out))
	var back Report
	require.NoError(t, yaml.Unmarshal(out.Bytes(), &back))
	assert.Equal(t, r.TotalPathCost, back.TotalPathCost)
	assert.Equal(t, r.AcceptedIDs, back.AcceptedIDs)
}

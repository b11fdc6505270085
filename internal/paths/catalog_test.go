package paths

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/signalsfoundry/vne-simulator/kb"
	"github.com/signalsfoundry/vne-simulator/model"
)

type fakeMetrics struct {
	generations int
	ratio       float64
}

func (f *fakeMetrics) ObservePathGeneration(time.Duration) { f.generations++ }
func (f *fakeMetrics) SetPathCacheHitRatio(r float64)      { f.ratio = r }

// triangle builds srv1, srv2 and sw with bidirectional links srv1-sw,
// sw-srv2 and a direct srv1-srv2 pair.
func triangle(t *testing.T) *kb.KnowledgeBase {
	t.Helper()
	store := kb.NewKnowledgeBase()
	require.NoError(t, store.AddNetwork("sub", model.NetworkSubstrate))
	capacity := model.Resources{CPU: 4, Memory: 4, Storage: 4}
	require.NoError(t, store.AddNode(model.NewServer("srv1", "sub", capacity)))
	require.NoError(t, store.AddNode(model.NewServer("srv2", "sub", capacity)))
	require.NoError(t, store.AddNode(model.NewSwitch("sw", "sub")))
	for _, l := range []*model.Link{
		model.NewLink("a", "sub", "srv1", "sw", 10),
		model.NewLink("ar", "sub", "sw", "srv1", 10),
		model.NewLink("b", "sub", "sw", "srv2", 5),
		model.NewLink("br", "sub", "srv2", "sw", 5),
		model.NewLink("d", "sub", "srv1", "srv2", 3),
		model.NewLink("dr", "sub", "srv2", "srv1", 3),
	} {
		require.NoError(t, store.AddLink(l))
	}
	return store
}

func TestGenerateRejectsInvalidBounds(t *testing.T) {
	store := triangle(t)
	c := NewCatalog(store)
	defer c.Close()

	_, err := c.Generate(context.Background(), "sub", 2, 1)
	require.ErrorIs(t, err, model.ErrInvalidRequest)
	_, err = c.Generate(context.Background(), "sub", 0, 3)
	require.ErrorIs(t, err, model.ErrInvalidRequest)
	assert.Empty(t, store.ListPaths("sub"))
}

func TestGenerateRejectsVirtualNetwork(t *testing.T) {
	store := triangle(t)
	require.NoError(t, store.AddNetwork("virt", model.NetworkVirtual))
	c := NewCatalog(store)
	defer c.Close()

	_, err := c.Generate(context.Background(), "virt", 1, 2)
	require.ErrorIs(t, err, model.ErrInvalidRequest)
	_, err = c.Generate(context.Background(), "missing", 1, 2)
	require.ErrorIs(t, err, kb.ErrNotFound)
}

func TestGenerateEnumeratesSimplePathsWithinBounds(t *testing.T) {
	store := triangle(t)
	m := &fakeMetrics{}
	c := NewCatalog(store, WithMetricsRecorder(m))
	defer c.Close()

	res, err := c.Generate(context.Background(), "sub", 1, 2)
	require.NoError(t, err)
	assert.Equal(t, GenerateResult{Created: 4}, *res)
	assert.Equal(t, 1, m.generations)

	got, err := c.PathsBetween(context.Background(), "sub", "srv1", "srv2")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, []string{"d"}, got[0].LinkIDs)
	assert.Equal(t, []string{"a", "b"}, got[1].LinkIDs)
	assert.Equal(t, []string{"srv1", "sw", "srv2"}, got[1].NodeIDs)
	// Bandwidth is the minimum residual of the links.
	assert.Equal(t, int64(5), got[1].Bandwidth)
	assert.Equal(t, PathID("sub", []string{"a", "b"}), got[1].ID)

	// Only multi-hop paths at min=2.
	res, err = c.Generate(context.Background(), "sub", 2, 2)
	require.NoError(t, err)
	assert.Equal(t, GenerateResult{Kept: 2, Removed: 2}, *res)
	lo, hi, ok := c.Bounds("sub")
	assert.True(t, ok)
	assert.Equal(t, 2, lo)
	assert.Equal(t, 2, hi)
}

func TestGenerateKeepsPathsWithGuests(t *testing.T) {
	store := triangle(t)
	c := NewCatalog(store)
	defer c.Close()

	_, err := c.Generate(context.Background(), "sub", 1, 1)
	require.NoError(t, err)
	require.NoError(t, store.AddNetwork("virt", model.NetworkVirtual))
	require.NoError(t, store.AddNode(model.NewSwitch("v", "virt")))
	direct := PathID("sub", []string{"d"})
	require.NoError(t, store.BindGuest("v", direct))

	res, err := c.Generate(context.Background(), "sub", 2, 2)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Created)
	assert.Equal(t, 1, res.Kept)
	assert.Equal(t, 1, res.Removed)
	assert.True(t, store.Exists(direct))
}

func TestPathsBetweenWithoutPaths(t *testing.T) {
	store := triangle(t)
	c := NewCatalog(store)
	defer c.Close()

	require.ErrorIs(t, c.RequirePaths(context.Background(), "sub"), model.ErrNoPathsGenerated)
	_, err := c.PathsBetween(context.Background(), "sub", "srv1", "srv2")
	require.ErrorIs(t, err, model.ErrNoPathsGenerated)
}

func TestTopologyChangeTriggersSilentRegeneration(t *testing.T) {
	store := triangle(t)
	c := NewCatalog(store)
	defer c.Close()

	ctx := context.Background()
	_, err := c.Generate(ctx, "sub", 1, 3)
	require.NoError(t, err)
	require.NoError(t, c.RequirePaths(ctx, "sub"))

	_, err = store.DeleteLink("d")
	require.NoError(t, err)
	assert.True(t, c.Stale("sub"))

	got, err := c.PathsBetween(ctx, "sub", "srv1", "srv2")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, []string{"a", "b"}, got[0].LinkIDs)
	assert.False(t, c.Stale("sub"))

	hits, misses, invalids := c.Stats()
	assert.Equal(t, int64(1), hits)
	assert.Equal(t, int64(1), misses)
	assert.Equal(t, int64(1), invalids)

	// Removing the switch leaves srv2 unreachable from srv1.
	_, err = store.DeleteNode("sw")
	require.NoError(t, err)
	_, err = c.PathsBetween(ctx, "sub", "srv1", "srv2")
	require.ErrorIs(t, err, model.ErrNoPathsGenerated)
}

func TestGenerateHonoursCancellation(t *testing.T) {
	store := triangle(t)
	c := NewCatalog(store)
	defer c.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := c.Generate(ctx, "sub", 1, 2)
	require.ErrorIs(t, err, context.Canceled)
}

func TestGenerateKeepsPathsWithUnderscoredLinkIDsApart(t *testing.T) {
	store := kb.NewKnowledgeBase()
	require.NoError(t, store.AddNetwork("n", model.NetworkSubstrate))
	capacity := model.Resources{CPU: 1, Memory: 1, Storage: 1}
	require.NoError(t, store.AddNode(model.NewServer("s", "n", capacity)))
	require.NoError(t, store.AddNode(model.NewServer("t", "n", capacity)))
	require.NoError(t, store.AddNode(model.NewSwitch("x", "n")))
	require.NoError(t, store.AddNode(model.NewSwitch("y", "n")))
	for _, l := range []*model.Link{
		model.NewLink("a_b", "n", "s", "x", 10),
		model.NewLink("c", "n", "x", "t", 10),
		model.NewLink("a", "n", "s", "y", 10),
		model.NewLink("b_c", "n", "y", "t", 10),
	} {
		require.NoError(t, store.AddLink(l))
	}
	c := NewCatalog(store)
	defer c.Close()

	res, err := c.Generate(context.Background(), "n", 2, 2)
	require.NoError(t, err)
	assert.Equal(t, GenerateResult{Created: 2}, *res)
	assert.NotEqual(t, PathID("n", []string{"a_b", "c"}), PathID("n", []string{"a", "b_c"}))

	got, err := c.PathsBetween(context.Background(), "n", "s", "t")
	require.NoError(t, err)
	require.Len(t, got, 2)
	var seqs [][]string
	for _, p := range got {
		seqs = append(seqs, p.LinkIDs)
	}
	assert.ElementsMatch(t, [][]string{{"a_b", "c"}, {"a", "b_c"}}, seqs)

	res, err = c.Generate(context.Background(), "n", 2, 2)
	require.NoError(t, err)
	assert.Equal(t, GenerateResult{Kept: 2}, *res)
}

func TestPathsBetweenHonoursCurrentBounds(t *testing.T) {
	store := triangle(t)
	c := NewCatalog(store)
	defer c.Close()
	ctx := context.Background()

	_, err := c.Generate(ctx, "sub", 1, 2)
	require.NoError(t, err)
	require.NoError(t, store.AddNetwork("virt", model.NetworkVirtual))
	require.NoError(t, store.AddNode(model.NewSwitch("v", "virt")))
	direct := PathID("sub", []string{"d"})
	require.NoError(t, store.BindGuest("v", direct))

	_, err = c.Generate(ctx, "sub", 2, 2)
	require.NoError(t, err)
	require.True(t, store.Exists(direct))

	got, err := c.PathsBetween(ctx, "sub", "srv1", "srv2")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, []string{"a", "b"}, got[0].LinkIDs)

	all, err := c.Paths(ctx, "sub")
	require.NoError(t, err)
	for _, p := range all {
		assert.Equal(t, 2, p.Hops(), "path %s outside bounds", p.ID)
	}
}

package embedding

import (
	"fmt"
	"testing"

	"github.com/signalsfoundry/vne-simulator/kb"
	"github.com/signalsfoundry/vne-simulator/model"
)

func res(c, m, s int64) model.Resources {
	return model.Resources{CPU: c, Memory: m, Storage: s}
}

// newFixture builds a substrate with three servers behind one switch and
// two paths sharing the srv1 -> sw link, plus an unembedded virtual
// network v of two servers joined by a link demanding 4.
//
//	srv1 --l1--> sw --l2--> srv2
//	               \--l4--> srv3
//	srv1 --l3-------------> srv2
func newFixture(t *testing.T) (*kb.KnowledgeBase, *Engine) {
	t.Helper()
	store := kb.NewKnowledgeBase()
	mustNoErr(t, store.AddNetwork("sub", model.NetworkSubstrate))
	mustNoErr(t, store.AddNode(model.NewServer("srv1", "sub", res(4, 4, 4))))
	mustNoErr(t, store.AddNode(model.NewServer("srv2", "sub", res(4, 4, 4))))
	mustNoErr(t, store.AddNode(model.NewServer("srv3", "sub", res(4, 4, 4))))
	mustNoErr(t, store.AddNode(model.NewSwitch("sw", "sub")))
	mustNoErr(t, store.AddLink(model.NewLink("l1", "sub", "srv1", "sw", 10)))
	mustNoErr(t, store.AddLink(model.NewLink("l2", "sub", "sw", "srv2", 10)))
	mustNoErr(t, store.AddLink(model.NewLink("l3", "sub", "srv1", "srv2", 10)))
	mustNoErr(t, store.AddLink(model.NewLink("l4", "sub", "sw", "srv3", 10)))
	mustNoErr(t, store.AddPath(&model.Path{
		ID: "p1", NetworkID: "sub", Source: "srv1", Target: "srv2",
		NodeIDs: []string{"srv1", "sw", "srv2"}, LinkIDs: []string{"l1", "l2"},
		Bandwidth: 10, Residual: 10,
	}))
	mustNoErr(t, store.AddPath(&model.Path{
		ID: "p2", NetworkID: "sub", Source: "srv1", Target: "srv3",
		NodeIDs: []string{"srv1", "sw", "srv3"}, LinkIDs: []string{"l1", "l4"},
		Bandwidth: 10, Residual: 10,
	}))

	mustNoErr(t, store.AddNetwork("v", model.NetworkVirtual))
	mustNoErr(t, store.AddNode(model.NewServer("vs1", "v", res(1, 1, 1))))
	mustNoErr(t, store.AddNode(model.NewServer("vs2", "v", res(2, 2, 2))))
	mustNoErr(t, store.AddLink(model.NewLink("vl", "v", "vs1", "vs2", 4)))

	return store, NewEngine(store)
}

func mustNoErr(t *testing.T, err error) {
	t.Helper()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func serverResidual(t *testing.T, store *kb.KnowledgeBase, id string) model.Resources {
	t.Helper()
	n, err := store.GetNode(id)
	if err != nil {
		t.Fatalf("GetNode(%s) error: %v", id, err)
	}
	return n.Server.Residual
}

func linkResidual(t *testing.T, store *kb.KnowledgeBase, id string) int64 {
	t.Helper()
	l, err := store.GetLink(id)
	if err != nil {
		t.Fatalf("GetLink(%s) error: %v", id, err)
	}
	return l.Residual
}

func pathResidual(t *testing.T, store *kb.KnowledgeBase, id string) int64 {
	t.Helper()
	p, err := store.GetPath(id)
	if err != nil {
		t.Fatalf("GetPath(%s) error: %v", id, err)
	}
	return p.Residual
}

// residuals captures every substrate residual keyed by element ID.
func residuals(store *kb.KnowledgeBase) map[string]string {
	out := make(map[string]string)
	snap := store.Snapshot()
	for _, n := range snap.Nodes {
		if n.NetworkID == "sub" && n.IsServer() {
			out[n.ID] = n.Server.Residual.String()
		}
	}
	for _, l := range snap.Links {
		if l.NetworkID == "sub" {
			out[l.ID] = fmt.Sprintf("bw=%d", l.Residual)
		}
	}
	for _, p := range snap.Paths {
		out[p.ID] = fmt.Sprintf("bw=%d", p.Residual)
	}
	return out
}

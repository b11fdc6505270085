package repair

import (
	"context"
	"errors"
	"testing"

	"github.com/signalsfoundry/vne-simulator/internal/embedding"
	"github.com/signalsfoundry/vne-simulator/kb"
	"github.com/signalsfoundry/vne-simulator/model"
)

func res(c, m, s int64) model.Resources {
	return model.Resources{CPU: c, Memory: m, Storage: s}
}

func mustNoErr(t *testing.T, err error) {
	t.Helper()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

// setup embeds virtual network a (one server) on srv1 and b (one server)
// on srv2.
func setup(t *testing.T) (*kb.KnowledgeBase, *embedding.Engine) {
	t.Helper()
	store := kb.NewKnowledgeBase()
	mustNoErr(t, store.AddNetwork("sub", model.NetworkSubstrate))
	mustNoErr(t, store.AddNode(model.NewServer("srv1", "sub", res(4, 4, 4))))
	mustNoErr(t, store.AddNode(model.NewServer("srv2", "sub", res(4, 4, 4))))
	mustNoErr(t, store.AddLink(model.NewLink("l", "sub", "srv1", "srv2", 10)))

	eng := embedding.NewEngine(store)
	ctx := context.Background()
	for _, v := range []struct{ net, node, host string }{{"a", "a1", "srv1"}, {"b", "b1", "srv2"}} {
		mustNoErr(t, store.AddNetwork(v.net, model.NetworkVirtual))
		mustNoErr(t, store.AddNode(model.NewServer(v.node, v.net, res(1, 1, 1))))
		mustNoErr(t, eng.ApplyMapping(ctx, embedding.Mapping{
			VirtualNetworkID:   v.net,
			SubstrateNetworkID: "sub",
			Nodes:              map[string]string{v.node: v.host},
		}))
	}
	return store, eng
}

func TestRepairFloatingNetwork(t *testing.T) {
	store, eng := setup(t)
	ctx := context.Background()

	_, err := eng.RemoveSubstrateElement(ctx, "srv1")
	mustNoErr(t, err)

	// Floating: no network host, node still points at srv1.
	a, _ := store.GetNetwork("a")
	if a.Host != "" {
		t.Fatalf("network a host = %q, want empty", a.Host)
	}
	if host, ok := store.HostOf("a1"); !ok || host != "srv1" {
		t.Fatalf("HostOf(a1) = %q, %v", host, ok)
	}

	coord := NewCoordinator(eng, nil)
	report, err := coord.Repair(ctx, "sub", []string{"a", "b"})
	mustNoErr(t, err)
	if len(report.Repaired) != 1 || report.Repaired[0] != "a" {
		t.Fatalf("Repaired = %v, want [a]", report.Repaired)
	}
	if len(report.Skipped) != 1 || report.Skipped[0] != "b" {
		t.Fatalf("Skipped = %v, want [b]", report.Skipped)
	}

	a, _ = store.GetNetwork("a")
	if a.Host != "" {
		t.Fatalf("network a host = %q after repair", a.Host)
	}
	if _, ok := store.HostOf("a1"); ok {
		t.Fatalf("a1 still hosted after repair")
	}
	if len(eng.Floating()) != 0 {
		t.Fatalf("Floating() = %v after repair", eng.Floating())
	}

	// b is untouched and srv2 keeps its reservation.
	b, _ := store.GetNetwork("b")
	if b.Host != "sub" {
		t.Fatalf("network b host = %q, want sub", b.Host)
	}
	srv2, _ := store.GetNode("srv2")
	if srv2.Server.Residual != res(3, 3, 3) {
		t.Fatalf("srv2 residual = %s, want 3/3/3", srv2.Server.Residual)
	}
	mustNoErr(t, eng.Validate())

	// Embedding works again.
	mustNoErr(t, eng.UnembedNetwork(ctx, "b"))
	mustNoErr(t, eng.EmbedNetwork(ctx, "a", "sub"))
}

func TestRepairIsIdempotent(t *testing.T) {
	_, eng := setup(t)
	ctx := context.Background()
	_, err := eng.RemoveSubstrateElement(ctx, "srv1")
	mustNoErr(t, err)

	coord := NewCoordinator(eng, nil)
	_, err = coord.Repair(ctx, "sub", []string{"a"})
	mustNoErr(t, err)
	report, err := coord.Repair(ctx, "sub", []string{"a"})
	mustNoErr(t, err)
	if len(report.Repaired) != 0 || len(report.Skipped) != 1 {
		t.Fatalf("second repair report = %+v, want a skipped", report)
	}
}

func TestRepairRejectsBadInput(t *testing.T) {
	_, eng := setup(t)
	coord := NewCoordinator(eng, nil)
	ctx := context.Background()

	if _, err := coord.Repair(ctx, "a", []string{"b"}); !errors.Is(err, model.ErrInvalidRequest) {
		t.Fatalf("virtual substrate: got %v, want ErrInvalidRequest", err)
	}
	if _, err := coord.Repair(ctx, "sub", []string{"missing"}); !errors.Is(err, kb.ErrNotFound) {
		t.Fatalf("missing network: got %v, want ErrNotFound", err)
	}
}

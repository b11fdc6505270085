package batch_test

import (
	"context"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/signalsfoundry/vne-simulator/internal/algorithms"
	"github.com/signalsfoundry/vne-simulator/internal/batch"
	"github.com/signalsfoundry/vne-simulator/internal/embedding"
	"github.com/signalsfoundry/vne-simulator/internal/paths"
	"github.com/signalsfoundry/vne-simulator/internal/repair"
	"github.com/signalsfoundry/vne-simulator/kb"
	"github.com/signalsfoundry/vne-simulator/model"
)

func res(c, m, s int64) model.Resources {
	return model.Resources{CPU: c, Memory: m, Storage: s}
}

// substrate adds servers of equal capacity behind one switch, linked both
// ways.
func substrate(store *kb.KnowledgeBase, capacity model.Resources, servers ...string) {
	Expect(store.AddNetwork("sub", model.NetworkSubstrate)).To(Succeed())
	Expect(store.AddNode(model.NewSwitch("sw", "sub"))).To(Succeed())
	for _, s := range servers {
		Expect(store.AddNode(model.NewServer(s, "sub", capacity))).To(Succeed())
		Expect(store.AddLink(model.NewLink(s+"_up", "sub", s, "sw", 10))).To(Succeed())
		Expect(store.AddLink(model.NewLink(s+"_down", "sub", "sw", s, 10))).To(Succeed())
	}
}

// virtual adds a one-server virtual network.
func virtual(store *kb.KnowledgeBase, id string, demand model.Resources) {
	Expect(store.AddNetwork(id, model.NetworkVirtual)).To(Succeed())
	Expect(store.AddNode(model.NewServer(id+"_srv", id, demand))).To(Succeed())
}

func hostOf(store *kb.KnowledgeBase, id string) string {
	h, _ := store.HostOf(id)
	return h
}

func networkHost(store *kb.KnowledgeBase, id string) string {
	n, err := store.GetNetwork(id)
	Expect(err).NotTo(HaveOccurred())
	return n.Host
}

var _ = Describe("Embedding scenarios", func() {
	var (
		ctx   context.Context
		store *kb.KnowledgeBase
		eng   *embedding.Engine
	)

	BeforeEach(func() {
		ctx = context.Background()
		store = kb.NewKnowledgeBase()
		eng = embedding.NewEngine(store)
	})

	Context("single greedy placement", func() {
		It("embeds one virtual server and restores capacity on unembed", func() {
			substrate(store, res(4, 4, 4), "srv")
			virtual(store, "virt", res(1, 1, 1))

			runner, err := batch.NewRunner(eng, nil, batch.DefaultConfig())
			Expect(err).NotTo(HaveOccurred())
			out, err := runner.Run(ctx, "sub", []string{"virt"})
			Expect(err).NotTo(HaveOccurred())
			Expect(out.Accepted).To(Equal([]string{"virt"}))

			srv, _ := store.GetNode("srv")
			Expect(srv.Server.Residual).To(Equal(res(3, 3, 3)))

			Expect(eng.UnembedNetwork(ctx, "virt")).To(Succeed())
			srv, _ = store.GetNode("srv")
			Expect(srv.Server.Residual).To(Equal(res(4, 4, 4)))
			Expect(eng.Validate()).To(Succeed())
		})
	})

	Context("sequential batch over a full substrate", func() {
		It("accepts two requests and leaves the third fully unembedded", func() {
			substrate(store, res(2, 2, 2), "s1", "s2")
			for _, id := range []string{"v1", "v2", "v3"} {
				virtual(store, id, res(2, 2, 2))
			}

			runner, err := batch.NewRunner(eng, nil, batch.DefaultConfig())
			Expect(err).NotTo(HaveOccurred())
			out, err := runner.Run(ctx, "sub", []string{"v1", "v2", "v3"})
			Expect(err).To(MatchError(batch.ErrPartialEmbedding))
			Expect(out.Accepted).To(Equal([]string{"v1", "v2"}))
			Expect(out.Rejected).To(Equal([]string{"v3"}))
			Expect(out.AvoidedCost).To(Equal(2.0))
			Expect(out.LostCost).To(Equal(1.0))

			Expect(networkHost(store, "v3")).To(BeEmpty())
			Expect(hostOf(store, "v3_srv")).To(BeEmpty())
			Expect(eng.Floating()).To(BeEmpty())
			Expect(eng.Validate()).To(Succeed())
		})
	})

	Context("rejection cost batch", func() {
		BeforeEach(func() {
			substrate(store, res(4, 4, 4), "s1", "s2")
			virtual(store, "v1", res(2, 2, 2))
			virtual(store, "v2", res(2, 2, 2))
			virtual(store, "v3", res(2, 2, 2))
			virtual(store, "v4", res(4, 4, 4))
		})

		It("keeps submission order under static costs and rejects the large request", func() {
			cfg := batch.DefaultConfig()
			cfg.Policy = batch.PolicyRejectionCost
			runner, err := batch.NewRunner(eng, nil, cfg)
			Expect(err).NotTo(HaveOccurred())

			out, err := runner.Run(ctx, "sub", []string{"v1", "v2", "v3", "v4"})
			Expect(err).To(MatchError(batch.ErrPartialEmbedding))
			Expect(out.Order).To(Equal([]string{"v1", "v2", "v3", "v4"}))
			Expect(out.Accepted).To(Equal([]string{"v1", "v2", "v3"}))
			Expect(out.Rejected).To(Equal([]string{"v4"}))
			Expect(networkHost(store, "v4")).To(BeEmpty())
			Expect(hostOf(store, "v4_srv")).To(BeEmpty())
		})

		It("places the large request first under dynamic costs", func() {
			cfg := batch.DefaultConfig()
			cfg.Policy = batch.PolicyRejectionCost
			cfg.Costs.Model = batch.CostDynamic
			runner, err := batch.NewRunner(eng, nil, cfg)
			Expect(err).NotTo(HaveOccurred())

			out, err := runner.Run(ctx, "sub", []string{"v1", "v2", "v3", "v4"})
			Expect(err).To(MatchError(batch.ErrPartialEmbedding))
			Expect(out.Order[0]).To(Equal("v4"))
			Expect(out.Accepted).To(ContainElement("v4"))
			Expect(out.Rejected).To(HaveLen(1))
			Expect(out.Rejected[0]).To(BeElementOf("v1", "v2", "v3"))
			Expect(out.AvoidedCost).To(Equal(24.0))
			Expect(out.LostCost).To(Equal(6.0))
			Expect(eng.Validate()).To(Succeed())
		})

		It("is deterministic across identical runs", func() {
			cfg := batch.DefaultConfig()
			cfg.Policy = batch.PolicyRejectionCost
			cfg.Costs.Model = batch.CostDynamic
			runner, err := batch.NewRunner(eng, nil, cfg)
			Expect(err).NotTo(HaveOccurred())

			first, _ := runner.Run(ctx, "sub", []string{"v1", "v2", "v3", "v4"})
			hosts := map[string]string{}
			for _, id := range []string{"v1", "v2", "v3", "v4"} {
				hosts[id] = hostOf(store, id+"_srv")
				Expect(eng.UnembedNetwork(ctx, id)).To(Succeed())
			}
			second, _ := runner.Run(ctx, "sub", []string{"v1", "v2", "v3", "v4"})
			Expect(second.Accepted).To(Equal(first.Accepted))
			for id, h := range hosts {
				Expect(hostOf(store, id+"_srv")).To(Equal(h))
			}
		})
	})

	Context("forced substrate removal", func() {
		It("leaves the network floating until repair tears it down", func() {
			substrate(store, res(4, 4, 4), "s1")
			virtual(store, "v", res(1, 1, 1))
			runner, err := batch.NewRunner(eng, nil, batch.DefaultConfig())
			Expect(err).NotTo(HaveOccurred())
			_, err = runner.Run(ctx, "sub", []string{"v"})
			Expect(err).NotTo(HaveOccurred())

			_, err = eng.RemoveSubstrateElement(ctx, "s1")
			Expect(err).NotTo(HaveOccurred())
			Expect(networkHost(store, "v")).To(BeEmpty())
			Expect(hostOf(store, "v_srv")).To(Equal("s1"))
			Expect(eng.Floating()).To(Equal([]string{"v"}))

			_, err = runner.Run(ctx, "sub", []string{"v"})
			Expect(err).To(HaveOccurred())

			report, err := repair.NewCoordinator(eng, nil).Repair(ctx, "sub", []string{"v"})
			Expect(err).NotTo(HaveOccurred())
			Expect(report.Repaired).To(Equal([]string{"v"}))
			Expect(networkHost(store, "v")).To(BeEmpty())
			Expect(hostOf(store, "v_srv")).To(BeEmpty())
			Expect(eng.Floating()).To(BeEmpty())
			Expect(eng.Validate()).To(Succeed())
		})
	})

	Context("path generation bounds", func() {
		It("rejects a minimum length above the maximum", func() {
			substrate(store, res(4, 4, 4), "s1", "s2")
			cat := paths.NewCatalog(store)
			defer cat.Close()

			_, err := cat.Generate(ctx, "sub", 2, 1)
			Expect(err).To(MatchError(model.ErrInvalidRequest))
			Expect(store.ListPaths("sub")).To(BeEmpty())
		})

		It("rejects path-based requests when no paths exist", func() {
			substrate(store, res(1, 1, 1), "s1", "s2")
			Expect(store.AddNetwork("v", model.NetworkVirtual)).To(Succeed())
			Expect(store.AddNode(model.NewServer("a", "v", res(1, 1, 1)))).To(Succeed())
			Expect(store.AddNode(model.NewServer("b", "v", res(1, 1, 1)))).To(Succeed())
			Expect(store.AddLink(model.NewLink("ab", "v", "a", "b", 1))).To(Succeed())
			cat := paths.NewCatalog(store)
			defer cat.Close()

			cfg := batch.DefaultConfig()
			cfg.Algorithm = algorithms.NameFirstFit
			runner, err := batch.NewRunner(eng, cat, cfg)
			Expect(err).NotTo(HaveOccurred())
			out, err := runner.Run(ctx, "sub", []string{"v"})
			Expect(err).To(MatchError(batch.ErrPartialEmbedding))
			Expect(out.Outcomes[0].Reason).To(MatchError(model.ErrNoPathsGenerated))

			_, err = cat.Generate(ctx, "sub", 2, 2)
			Expect(err).NotTo(HaveOccurred())
			out, err = runner.Run(ctx, "sub", []string{"v"})
			Expect(err).NotTo(HaveOccurred())
			Expect(out.Accepted).To(Equal([]string{"v"}))
			Expect(hostOf(store, "ab")).To(Equal(paths.PathID("sub", []string{"s1_up", "s2_down"})))
		})
	})

	It("rejects an empty request set", func() {
		substrate(store, res(1, 1, 1), "s1")
		runner, err := batch.NewRunner(eng, nil, batch.DefaultConfig())
		Expect(err).NotTo(HaveOccurred())
		_, err = runner.Run(ctx, "sub", nil)
		Expect(err).To(MatchError(model.ErrInvalidRequest))
	})

	It("checks every request before placing any", func() {
		substrate(store, res(4, 4, 4), "s1")
		virtual(store, "v1", res(1, 1, 1))
		runner, err := batch.NewRunner(eng, nil, batch.DefaultConfig())
		Expect(err).NotTo(HaveOccurred())

		_, err = runner.Run(ctx, "sub", []string{"v1", "missing"})
		Expect(err).To(MatchError(kb.ErrNotFound))
		_, err = runner.Run(ctx, "sub", []string{"v1", "sub"})
		Expect(err).To(MatchError(model.ErrInvalidRequest))
		Expect(networkHost(store, "v1")).To(BeEmpty())
	})
})

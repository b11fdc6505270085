package batch

import (
	"fmt"
	"sort"
	"strings"

	"github.com/signalsfoundry/vne-simulator/kb"
	"github.com/signalsfoundry/vne-simulator/model"
)

// Policy decides the order in which requests are attempted.
type Policy int

const (
	// PolicySequential attempts requests in the order given.
	PolicySequential Policy = iota
	// PolicyRejectionCost attempts the most expensive-to-reject requests
	// first; ties keep the given order.
	PolicyRejectionCost
)

func (p Policy) String() string {
	switch p {
	case PolicySequential:
		return "sequential"
	case PolicyRejectionCost:
		return "rejection-cost"
	default:
		return "unknown"
	}
}

// ParsePolicy maps a configuration string onto a Policy.
func ParsePolicy(s string) (Policy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "sequential":
		return PolicySequential, nil
	case "rejection-cost", "rejection_cost":
		return PolicyRejectionCost, nil
	default:
		return 0, fmt.Errorf("%w: unknown batch policy %q", model.ErrInvalidRequest, s)
	}
}

// CostModel decides what rejecting a request costs.
type CostModel int

const (
	// CostStatic gives every request the same cost.
	CostStatic CostModel = iota
	// CostConfigured looks costs up per request, with a default.
	CostConfigured
	// CostDynamic derives the cost from the request's total demand.
	CostDynamic
)

func (c CostModel) String() string {
	switch c {
	case CostStatic:
		return "static"
	case CostConfigured:
		return "configured"
	case CostDynamic:
		return "dynamic"
	default:
		return "unknown"
	}
}

// ParseCostModel maps a configuration string onto a CostModel.
func ParseCostModel(s string) (CostModel, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "static":
		return CostStatic, nil
	case "configured":
		return CostConfigured, nil
	case "dynamic":
		return CostDynamic, nil
	default:
		return 0, fmt.Errorf("%w: unknown cost model %q", model.ErrInvalidRequest, s)
	}
}

// Costs holds the parameters of every cost model.
type Costs struct {
	Model CostModel
	// Static is the cost of every request under CostStatic.
	Static float64
	// PerRequest and Default serve CostConfigured.
	PerRequest map[string]float64
	Default    float64
	// Factor scales the summed demand under CostDynamic.
	Factor float64
}

// DefaultCosts returns unit costs for every model.
func DefaultCosts() Costs {
	return Costs{Model: CostStatic, Static: 1, Default: 1, Factor: 1}
}

// Cost returns the rejection cost of one virtual network.
func (c Costs) Cost(store *kb.KnowledgeBase, vnetID string) float64 {
	switch c.Model {
	case CostConfigured:
		if v, ok := c.PerRequest[vnetID]; ok {
			return v
		}
		return c.Default
	case CostDynamic:
		var total int64
		for _, n := range store.ListServers(vnetID) {
			total += n.Demand().Sum()
		}
		for _, l := range store.ListLinks(vnetID) {
			total += l.Bandwidth
		}
		return c.Factor * float64(total)
	default:
		return c.Static
	}
}

// order returns the attempt order for the policy.
func order(policy Policy, ids []string, costs map[string]float64) []string {
	out := append([]string(nil), ids...)
	if policy == PolicyRejectionCost {
		sort.SliceStable(out, func(i, j int) bool {
			return costs[out[i]] > costs[out[j]]
		})
	}
	return out
}

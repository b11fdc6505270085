// Package report computes embedding metrics for one substrate network from
// a knowledge base snapshot.
package report

import (
	"fmt"
	"io"
	"sort"
	"text/tabwriter"

	"gonum.org/v1/gonum/stat"
	"gopkg.in/yaml.v3"

	"github.com/signalsfoundry/vne-simulator/kb"
	"github.com/signalsfoundry/vne-simulator/model"
)

// Report holds the metrics of one substrate network.
type Report struct {
	SubstrateID string `yaml:"substrate_id"`

	AcceptedVNRs   int      `yaml:"accepted_vnrs"`
	AcceptedIDs    []string `yaml:"accepted_ids"`
	ActiveServers  int      `yaml:"active_servers"`
	ActiveSwitches int      `yaml:"active_switches"`

	// TotalPathCost sums hops times bandwidth over embedded virtual links.
	TotalPathCost int64 `yaml:"total_path_cost"`
	// AveragePathLength is the mean hop count of embedded virtual links;
	// local links count as zero hops.
	AveragePathLength     float64 `yaml:"average_path_length"`
	PathLengthStdDev      float64 `yaml:"path_length_stddev"`
	MeanServerUtilization float64 `yaml:"mean_server_utilization"`
}

// Build computes the report of snetID.
func Build(snap *kb.Snapshot, snetID string) (*Report, error) {
	var substrate *model.Network
	for _, n := range snap.Networks {
		if n.ID == snetID {
			substrate = n
		}
	}
	if substrate == nil {
		return nil, fmt.Errorf("%w: network %q", kb.ErrNotFound, snetID)
	}
	if substrate.Kind != model.NetworkSubstrate {
		return nil, fmt.Errorf("%w: %q is not a substrate network", model.ErrInvalidRequest, snetID)
	}

	r := &Report{SubstrateID: snetID}
	for _, n := range snap.Networks {
		if n.Kind == model.NetworkVirtual && n.Host == snetID {
			r.AcceptedIDs = append(r.AcceptedIDs, n.ID)
		}
	}
	sort.Strings(r.AcceptedIDs)
	r.AcceptedVNRs = len(r.AcceptedIDs)

	active := map[string]bool{}
	for _, host := range snap.HostOf {
		active[host] = true
	}
	var utilization []float64
	for _, n := range snap.Nodes {
		if n.NetworkID != snetID {
			continue
		}
		if n.IsServer() {
			if active[n.ID] {
				r.ActiveServers++
			}
			if c := n.Server.Capacity.Sum(); c > 0 {
				used := n.Server.Capacity.Sub(n.Server.Residual).Sum()
				utilization = append(utilization, float64(used)/float64(c))
			}
		} else if active[n.ID] {
			r.ActiveSwitches++
		}
	}
	if len(utilization) > 0 {
		r.MeanServerUtilization = stat.Mean(utilization, nil)
	}

	hops := map[string]int{}
	for _, n := range snap.Nodes {
		if n.NetworkID == snetID {
			hops[n.ID] = 0
		}
	}
	for _, l := range snap.Links {
		if l.NetworkID == snetID {
			hops[l.ID] = 1
		}
	}
	for _, p := range snap.Paths {
		if p.NetworkID == snetID {
			hops[p.ID] = p.Hops()
		}
	}

	var lengths []float64
	for _, l := range snap.Links {
		host, ok := snap.HostOf[l.ID]
		if !ok {
			continue
		}
		h, inSubstrate := hops[host]
		if !inSubstrate {
			continue
		}
		lengths = append(lengths, float64(h))
		r.TotalPathCost += int64(h) * l.Bandwidth
	}
	if len(lengths) > 0 {
		r.AveragePathLength = stat.Mean(lengths, nil)
	}
	if len(lengths) > 1 {
		r.PathLengthStdDev = stat.StdDev(lengths, nil)
	}
	return r, nil
}

// WriteText renders the report as aligned key/value lines.
func (r *Report) WriteText(w io.Writer) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	rows := []struct {
		k string
		v any
	}{
		{"substrate", r.SubstrateID},
		{"accepted vnrs", r.AcceptedVNRs},
		{"active servers", r.ActiveServers},
		{"active switches", r.ActiveSwitches},
		{"total path cost", r.TotalPathCost},
		{"average path length", fmt.Sprintf("%.3f", r.AveragePathLength)},
		{"path length stddev", fmt.Sprintf("%.3f", r.PathLengthStdDev)},
		{"mean server utilization", fmt.Sprintf("%.3f", r.MeanServerUtilization)},
	}
	for _, row := range rows {
		if _, err := fmt.Fprintf(tw, "%s\t%v\n", row.k, row.v); err != nil {
			return err
		}
	}
	return tw.Flush()
}

// WriteYAML renders the report as a YAML document.
func (r *Report) WriteYAML(w io.Writer) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(r); err != nil {
		return err
	}
	return enc.Close()
}

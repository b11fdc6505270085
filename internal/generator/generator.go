// Package generator builds one-tier and two-tier data center topologies
// into the knowledge base. Every generated link is added in both
// directions.
package generator

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/go-playground/validator/v10"

	"github.com/signalsfoundry/vne-simulator/kb"
	"github.com/signalsfoundry/vne-simulator/model"
)

// ErrInvalidConfig is returned for configurations that cannot produce a
// network.
var ErrInvalidConfig = errors.New("invalid generator config")

// OneTierConfig describes a flat network: every server connects to every
// switch. For virtual networks the resource values are demands.
type OneTierConfig struct {
	Servers         int   `yaml:"servers" hcl:"servers" validate:"gte=1"`
	Switches        int   `yaml:"switches" hcl:"switches,optional" validate:"gte=0"`
	ConnectSwitches bool  `yaml:"connect_switches" hcl:"connect_switches,optional"`
	CPU             int64 `yaml:"cpu" hcl:"cpu,optional" validate:"gte=0"`
	Memory          int64 `yaml:"memory" hcl:"memory,optional" validate:"gte=0"`
	Storage         int64 `yaml:"storage" hcl:"storage,optional" validate:"gte=0"`
	Bandwidth       int64 `yaml:"bandwidth" hcl:"bandwidth,optional" validate:"gte=0"`
}

// TwoTierConfig describes racks of one-tier networks whose switches all
// connect to every core switch.
type TwoTierConfig struct {
	Rack          OneTierConfig `yaml:"rack" hcl:"rack,block"`
	Racks         int           `yaml:"racks" hcl:"racks" validate:"gte=1"`
	CoreSwitches  int           `yaml:"core_switches" hcl:"core_switches" validate:"gte=1"`
	CoreBandwidth int64         `yaml:"core_bandwidth" hcl:"core_bandwidth,optional" validate:"gte=0"`
}

var validate = validator.New()

func check(cfg any) error {
	if err := validate.Struct(cfg); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	return nil
}

// builder tracks link numbering for one network.
type builder struct {
	store *kb.KnowledgeBase
	netID string
	links int
}

func (b *builder) server(id string, r model.Resources) error {
	return b.store.AddNode(model.NewServer(id, b.netID, r))
}

func (b *builder) switchNode(id string) error {
	return b.store.AddNode(model.NewSwitch(id, b.netID))
}

func (b *builder) biLink(a, c string, bw int64) error {
	for _, pair := range [2][2]string{{a, c}, {c, a}} {
		id := b.netID + "_ln_" + strconv.Itoa(b.links)
		b.links++
		if err := b.store.AddLink(model.NewLink(id, b.netID, pair[0], pair[1], bw)); err != nil {
			return err
		}
	}
	return nil
}

// OneTier adds network netID of the given kind and populates it.
func OneTier(store *kb.KnowledgeBase, netID string, kind model.NetworkKind, cfg OneTierConfig) error {
	if err := check(cfg); err != nil {
		return err
	}
	if cfg.Switches == 0 && cfg.Servers > 1 {
		return fmt.Errorf("%w: %d servers need at least one switch", ErrInvalidConfig, cfg.Servers)
	}
	if err := store.AddNetwork(netID, kind); err != nil {
		return err
	}
	b := &builder{store: store, netID: netID}
	_, err := b.rack(netID, cfg)
	return err
}

// rack adds the servers and switches of one one-tier block and returns the
// switch IDs.
func (b *builder) rack(prefix string, cfg OneTierConfig) ([]string, error) {
	res := model.Resources{CPU: cfg.CPU, Memory: cfg.Memory, Storage: cfg.Storage}
	switches := make([]string, 0, cfg.Switches)
	for i := 0; i < cfg.Switches; i++ {
		id := prefix + "_sw_" + strconv.Itoa(i)
		if err := b.switchNode(id); err != nil {
			return nil, err
		}
		switches = append(switches, id)
	}
	for i := 0; i < cfg.Servers; i++ {
		id := prefix + "_srv_" + strconv.Itoa(i)
		if err := b.server(id, res); err != nil {
			return nil, err
		}
		for _, sw := range switches {
			if err := b.biLink(id, sw, cfg.Bandwidth); err != nil {
				return nil, err
			}
		}
	}
	if cfg.ConnectSwitches {
		for i := range switches {
			for j := i + 1; j < len(switches); j++ {
				if err := b.biLink(switches[i], switches[j], cfg.Bandwidth); err != nil {
					return nil, err
				}
			}
		}
	}
	return switches, nil
}

// TwoTier adds network netID of the given kind with cfg.Racks racks and
// cfg.CoreSwitches core switches.
func TwoTier(store *kb.KnowledgeBase, netID string, kind model.NetworkKind, cfg TwoTierConfig) error {
	if err := check(cfg); err != nil {
		return err
	}
	if cfg.Rack.Switches == 0 {
		return fmt.Errorf("%w: racks need at least one switch to reach the core", ErrInvalidConfig)
	}
	if err := store.AddNetwork(netID, kind); err != nil {
		return err
	}
	b := &builder{store: store, netID: netID}

	cores := make([]string, 0, cfg.CoreSwitches)
	for i := 0; i < cfg.CoreSwitches; i++ {
		id := netID + "_core_" + strconv.Itoa(i)
		if err := b.switchNode(id); err != nil {
			return err
		}
		cores = append(cores, id)
	}
	for r := 0; r < cfg.Racks; r++ {
		switches, err := b.rack(netID+"_rack_"+strconv.Itoa(r), cfg.Rack)
		if err != nil {
			return err
		}
		for _, sw := range switches {
			for _, core := range cores {
				if err := b.biLink(sw, core, cfg.CoreBandwidth); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

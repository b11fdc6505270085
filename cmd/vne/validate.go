package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/signalsfoundry/vne-simulator/internal/embedding"
	"github.com/signalsfoundry/vne-simulator/internal/paths"
	"github.com/signalsfoundry/vne-simulator/internal/scenario"
	"github.com/signalsfoundry/vne-simulator/kb"
)

func newValidateCmd(root *rootOptions) *cobra.Command {
	var vars []string
	cmd := &cobra.Command{
		Use:   "validate SCENARIO",
		Short: "Load a scenario, generate paths and check store invariants",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := root.load(cmd)
			if err != nil {
				return err
			}
			log := newLogger(cfg, cmd.ErrOrStderr())
			parsed, err := parseVars(vars)
			if err != nil {
				return err
			}

			store := kb.NewKnowledgeBase()
			sc, err := scenario.LoadFile(store, args[0], parsed)
			if err != nil {
				return err
			}
			minHops, maxHops := cfg.Paths.MinLength, cfg.Paths.MaxLength
			if sc.Paths != nil {
				minHops, maxHops = sc.Paths.MinLength, sc.Paths.MaxLength
			}
			catalog := paths.NewCatalog(store, paths.WithLogger(log))
			defer catalog.Close()
			if _, err := catalog.Generate(cmd.Context(), sc.SubstrateID, minHops, maxHops); err != nil {
				return err
			}
			if err := embedding.NewEngine(store, embedding.WithLogger(log)).Validate(); err != nil {
				return err
			}

			c := store.Counts()
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "ok: %d networks, %d nodes, %d links, %d paths\n",
				c.Networks, c.Nodes, c.Links, c.Paths)
			return err
		},
	}
	cmd.Flags().StringArrayVar(&vars, "var", nil, "HCL scenario variable as name=value (repeatable)")
	return cmd
}

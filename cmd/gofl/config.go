package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/threefoldtech/gofl/configops"
	"github.com/threefoldtech/gofl/fs/meta"
)

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect and edit an FL's tags and routes directly",
	}
	cmd.AddCommand(newConfigTagCmd())
	cmd.AddCommand(newConfigRouteCmd())
	cmd.AddCommand(newConfigValidateCmd())
	return cmd
}

func openForConfig(path string, readOnly bool) (*meta.Store, error) {
	return meta.Open(path, readOnly)
}

func newConfigTagCmd() *cobra.Command {
	tag := &cobra.Command{Use: "tag", Short: "Get, set, list or delete tags"}

	tag.AddCommand(&cobra.Command{
		Use:   "list <fl>",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := openForConfig(args[0], true)
			if err != nil {
				return err
			}
			defer m.Close()
			tags, err := configops.ListTags(m)
			if err != nil {
				return err
			}
			for _, t := range tags {
				fmt.Printf("%s=%s\n", t.Key, t.Value)
			}
			return nil
		},
	})

	tag.AddCommand(&cobra.Command{
		Use:   "get <fl> <key>",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := openForConfig(args[0], true)
			if err != nil {
				return err
			}
			defer m.Close()
			v, err := configops.GetTag(m, args[1])
			if err != nil {
				return err
			}
			fmt.Println(v)
			return nil
		},
	})

	tag.AddCommand(&cobra.Command{
		Use:   "set <fl> <key> <value>",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := openForConfig(args[0], false)
			if err != nil {
				return err
			}
			defer m.Close()
			return configops.SetTag(m, args[1], args[2])
		},
	})

	tag.AddCommand(&cobra.Command{
		Use:   "delete <fl> <key>",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := openForConfig(args[0], false)
			if err != nil {
				return err
			}
			defer m.Close()
			return configops.DeleteTag(m, args[1])
		},
	})

	return tag
}

func newConfigRouteCmd() *cobra.Command {
	route := &cobra.Command{Use: "route", Short: "Add, list or delete routes"}

	route.AddCommand(&cobra.Command{
		Use:   "list <fl>",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := openForConfig(args[0], true)
			if err != nil {
				return err
			}
			defer m.Close()
			routes, err := configops.ListRoutes(m)
			if err != nil {
				return err
			}
			for i, r := range routes {
				fmt.Printf("%d: %02x-%02x=%s\n", i, r.Start, r.End, r.URL)
			}
			return nil
		},
	})

	route.AddCommand(&cobra.Command{
		Use:   "add <fl> <route>",
		Short: `route uses pack --route's grammar, e.g. "00-7f=dir:///data/a"`,
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := openForConfig(args[0], false)
			if err != nil {
				return err
			}
			defer m.Close()
			routes, err := parseRouteFlags([]string{args[1]})
			if err != nil {
				return err
			}
			return configops.AddRoute(m, routes[0])
		},
	})

	route.AddCommand(&cobra.Command{
		Use:   "delete <fl> <index>",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := openForConfig(args[0], false)
			if err != nil {
				return err
			}
			defer m.Close()
			var idx int
			if _, err := fmt.Sscanf(args[1], "%d", &idx); err != nil {
				return fmt.Errorf("config route delete: invalid index %q", args[1])
			}
			return configops.DeleteRoute(m, idx)
		},
	})

	return route
}

func newConfigValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate <fl>",
		Short: "Check the route table for full byte-range coverage",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := openForConfig(args[0], true)
			if err != nil {
				return err
			}
			defer m.Close()
			report, err := configops.Validate(m)
			if err != nil {
				return err
			}
			if report.Covered() {
				fmt.Println("coverage OK: every byte value 00-ff has a route")
				return nil
			}
			for _, g := range report.Gaps {
				fmt.Printf("gap: %02x-%02x has no route\n", g.Start, g.End)
			}
			return fmt.Errorf("route table has %d coverage gap(s)", len(report.Gaps))
		},
	}
}

package main

import (
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"orderpipe/config"
)

type role int

const (
	roleOrders role = 1 << iota
	roleInventory
	roleNotifications

	roleAll = roleOrders | roleInventory | roleNotifications
)

func newRootCommand() *cobra.Command {
	v := config.New()

	root := &cobra.Command{
		Use:           "orderpipe",
		Short:         "Event-driven order pipeline with degraded-mode state storage",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	if err := config.BindFlags(v, root.PersistentFlags()); err != nil {
		panic(err)
	}

	root.AddCommand(
		roleCommand(v, "orders", "Run the order intake service (REST, gRPC, result consumer)", roleOrders),
		roleCommand(v, "inventory", "Run the inventory checker", roleInventory),
		roleCommand(v, "notifications", "Run the notification service", roleNotifications),
		roleCommand(v, "all", "Run every service in one process", roleAll),
	)
	return root
}

func roleCommand(v *viper.Viper, use, short string, r role) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(v)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return run(ctx, cfg, r)
		},
	}
}

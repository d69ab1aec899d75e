package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var pingCmd = &cobra.Command{
	Use:   "ping",
	Short: "Check connectivity to the container engine",
	RunE: func(cmd *cobra.Command, args []string) error {
		p, _, err := newProvider()
		if err != nil {
			return err
		}
		if err := p.Ping(cmd.Context()); err != nil {
			return err
		}
		fmt.Println("engine reachable at", p.DaemonHost())
		return nil
	},
}

func init() {
	rootCmd.AddCommand(pingCmd)
}

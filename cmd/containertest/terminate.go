package main

import (
	"github.com/spf13/cobra"
)

var terminateCmd = &cobra.Command{
	Use:   "terminate CONTAINER_ID",
	Short: "Stop and remove a container, including its volumes",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		p, _, err := newProvider()
		if err != nil {
			return err
		}
		return p.ContainerFromID(args[0]).Terminate(cmd.Context())
	},
}

func init() {
	rootCmd.AddCommand(terminateCmd)
}

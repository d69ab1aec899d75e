package main

import (
	"os"

	"github.com/spf13/cobra"
)

var logsCmd = &cobra.Command{
	Use:   "logs CONTAINER_ID",
	Short: "Print a container's decoded stdout and stderr",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		p, _, err := newProvider()
		if err != nil {
			return err
		}
		logs, err := p.ContainerFromID(args[0]).Logs(cmd.Context())
		if err != nil {
			return err
		}
		_, err = os.Stdout.Write(logs)
		return err
	},
}

func init() {
	rootCmd.AddCommand(logsCmd)
}

package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/docker/go-connections/nat"
	"github.com/spf13/cobra"

	"github.com/dragosv/containertest/pkg/container"
	"github.com/dragosv/containertest/pkg/wait"
)

var runFlags struct {
	name       string
	env        []string
	ports      []string
	networks   []string
	waitLog    string
	waitPort   string
	waitHTTP   string
	timeout    time.Duration
	alwaysPull bool
}

var runCmd = &cobra.Command{
	Use:   "run IMAGE",
	Short: "Create and start a container, wait for readiness",
	Args:  cobra.ExactArgs(1),
	RunE:  runRun,
}

func init() {
	rootCmd.AddCommand(runCmd)
	runCmd.Flags().StringVar(&runFlags.name, "name", "", "container name")
	runCmd.Flags().StringArrayVarP(&runFlags.env, "env", "e", nil, "environment variable KEY=VALUE")
	runCmd.Flags().StringArrayVarP(&runFlags.ports, "port", "p", nil, "container port to expose, e.g. 5432 or 53/udp")
	runCmd.Flags().StringArrayVar(&runFlags.networks, "network", nil, "network to attach")
	runCmd.Flags().StringVar(&runFlags.waitLog, "wait-log", "", "wait until this substring appears in the logs")
	runCmd.Flags().StringVar(&runFlags.waitPort, "wait-port", "", "wait until this container port accepts connections")
	runCmd.Flags().StringVar(&runFlags.waitHTTP, "wait-http", "", "wait until a GET on this path returns 2xx (first exposed port)")
	runCmd.Flags().DurationVar(&runFlags.timeout, "timeout", time.Minute, "readiness timeout")
	runCmd.Flags().BoolVar(&runFlags.alwaysPull, "always-pull", false, "pull the image even when present locally")
}

func runRun(cmd *cobra.Command, args []string) error {
	p, logger, err := newProvider()
	if err != nil {
		return err
	}

	cfg := container.Config{
		Image:          args[0],
		Name:           runFlags.name,
		Env:            runFlags.env,
		ExposedPorts:   runFlags.ports,
		Networks:       runFlags.networks,
		AlwaysPull:     runFlags.alwaysPull,
		StartupTimeout: runFlags.timeout,
		WaitingFor:     buildWaitStrategy(),
	}

	c, err := p.Run(cmd.Context(), cfg)
	if err != nil {
		if c != nil {
			// Started but never became ready. Leave it running so the
			// user can look at it, but say so.
			logger.Error().Err(err).Str("container_id", c.ID).Msg("container did not become ready")
			fmt.Println(c.ID)
		}
		return err
	}

	fmt.Println(c.ID)
	for _, spec := range runFlags.ports {
		mapped, err := c.MappedPort(cmd.Context(), spec)
		if err != nil {
			return err
		}
		fmt.Printf("%s -> %s\n", spec, mapped.Addr())
	}
	return nil
}

func buildWaitStrategy() wait.Strategy {
	var strategies []wait.Strategy
	if runFlags.waitLog != "" {
		strategies = append(strategies, wait.ForLog(runFlags.waitLog).WithTimeout(runFlags.timeout))
	}
	if runFlags.waitPort != "" {
		strategies = append(strategies, wait.ForListeningPort(toPort(runFlags.waitPort)).WithTimeout(runFlags.timeout))
	}
	if runFlags.waitHTTP != "" {
		s := wait.ForHTTP(runFlags.waitHTTP).WithTimeout(runFlags.timeout)
		if len(runFlags.ports) > 0 {
			s = s.WithPort(toPort(runFlags.ports[0]))
		}
		strategies = append(strategies, s)
	}
	switch len(strategies) {
	case 0:
		return nil
	case 1:
		return strategies[0]
	default:
		return wait.ForAll(strategies...)
	}
}

func toPort(spec string) nat.Port {
	if strings.Contains(spec, "/") {
		return nat.Port(spec)
	}
	return nat.Port(spec + "/tcp")
}

package engine

import "github.com/docker/go-connections/nat"

// Response snapshots below carry only the fields this client consumes.
// Unknown fields in engine JSON are ignored, missing ones default.

// ContainerInspect is the parsed /containers/{id}/json snapshot.
type ContainerInspect struct {
	ID              string           `json:"Id"`
	Name            string           `json:"Name"`
	State           ContainerState   `json:"State"`
	Config          ContainerConfig  `json:"Config"`
	NetworkSettings *NetworkSettings `json:"NetworkSettings"`
}

type ContainerState struct {
	Status  string  `json:"Status"`
	Running bool    `json:"Running"`
	Health  *Health `json:"Health"`
}

type Health struct {
	Status        string `json:"Status"`
	FailingStreak int    `json:"FailingStreak"`
}

type ContainerConfig struct {
	Image  string            `json:"Image"`
	Labels map[string]string `json:"Labels"`
}

type NetworkSettings struct {
	Ports    nat.PortMap                  `json:"Ports"`
	Networks map[string]*EndpointSnapshot `json:"Networks"`
}

type EndpointSnapshot struct {
	NetworkID string   `json:"NetworkID"`
	IPAddress string   `json:"IPAddress"`
	Aliases   []string `json:"Aliases"`
}

// ContainerSummary is one entry of /containers/json.
type ContainerSummary struct {
	ID     string            `json:"Id"`
	Names  []string          `json:"Names"`
	Image  string            `json:"Image"`
	State  string            `json:"State"`
	Status string            `json:"Status"`
	Labels map[string]string `json:"Labels"`
}

// ExecInspect is the parsed /exec/{id}/json snapshot.
type ExecInspect struct {
	ExitCode int  `json:"ExitCode"`
	Running  bool `json:"Running"`
}

type createResponse struct {
	ID       string   `json:"Id"`
	Warnings []string `json:"Warnings"`
}

type execCreateResponse struct {
	ID string `json:"Id"`
}

type networkCreateResponse struct {
	ID string `json:"Id"`
}

package main

import (
	"testing"
	"time"

	"github.com/docker/go-connections/nat"
	"github.com/stretchr/testify/assert"

	"github.com/dragosv/containertest/pkg/wait"
)

func resetRunFlags(t *testing.T) {
	t.Helper()
	old := runFlags
	t.Cleanup(func() { runFlags = old })
	runFlags.waitLog = ""
	runFlags.waitPort = ""
	runFlags.waitHTTP = ""
	runFlags.ports = nil
	runFlags.timeout = time.Minute
}

func TestBuildWaitStrategy_NoFlags(t *testing.T) {
	resetRunFlags(t)

	assert.Nil(t, buildWaitStrategy())
}

func TestBuildWaitStrategy_SingleFlag(t *testing.T) {
	resetRunFlags(t)
	runFlags.waitLog = "ready"

	assert.IsType(t, &wait.LogStrategy{}, buildWaitStrategy())

	resetRunFlags(t)
	runFlags.waitPort = "5432"

	assert.IsType(t, &wait.HostPortStrategy{}, buildWaitStrategy())

	resetRunFlags(t)
	runFlags.waitHTTP = "/health"
	runFlags.ports = []string{"8080"}

	assert.IsType(t, &wait.HTTPStrategy{}, buildWaitStrategy())
}

func TestBuildWaitStrategy_MultipleFlagsCompose(t *testing.T) {
	resetRunFlags(t)
	runFlags.waitLog = "ready"
	runFlags.waitPort = "5432"

	assert.IsType(t, &wait.AllStrategy{}, buildWaitStrategy())
}

func TestToPort(t *testing.T) {
	assert.Equal(t, nat.Port("5432/tcp"), toPort("5432"))
	assert.Equal(t, nat.Port("53/udp"), toPort("53/udp"))
}

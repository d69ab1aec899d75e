package container

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dragosv/containertest/pkg/wait"
)

// fakeEngine is a scripted engine REST server on a Unix socket. It keeps
// a request log so tests can assert on call sequences.
type fakeEngine struct {
	t   *testing.T
	mux *http.ServeMux

	mu       sync.Mutex
	requests []string
}

func newFakeEngine(t *testing.T) (*fakeEngine, *Provider) {
	t.Helper()

	fe := &fakeEngine{t: t, mux: http.NewServeMux()}

	path := filepath.Join(t.TempDir(), "e.sock")
	ln, err := net.Listen("unix", path)
	require.NoError(t, err)
	srv := &http.Server{Handler: fe}
	go func() { _ = srv.Serve(ln) }()
	t.Cleanup(func() { _ = srv.Close() })

	provider, err := NewProvider(WithSocketPath(path), WithLogger(zerolog.Nop()), WithDaemonHost("127.0.0.1"))
	require.NoError(t, err)
	return fe, provider
}

func (fe *fakeEngine) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	fe.mu.Lock()
	fe.requests = append(fe.requests, r.Method+" "+r.URL.Path)
	mux := fe.mux
	fe.mu.Unlock()
	mux.ServeHTTP(w, r)
}

// reset drops all registered handlers so a test can rewire the engine
// mid-flight, e.g. to make a container disappear.
func (fe *fakeEngine) reset() {
	fe.mu.Lock()
	defer fe.mu.Unlock()
	fe.mux = http.NewServeMux()
}

func (fe *fakeEngine) calls(prefix string) int {
	fe.mu.Lock()
	defer fe.mu.Unlock()
	n := 0
	for _, req := range fe.requests {
		if req == prefix {
			n++
		}
	}
	return n
}

func (fe *fakeEngine) handle(pattern string, fn http.HandlerFunc) {
	fe.mu.Lock()
	defer fe.mu.Unlock()
	fe.mux.HandleFunc(pattern, fn)
}

// stubLifecycle wires the happy-path endpoints for one container.
func (fe *fakeEngine) stubLifecycle(id string, logs []byte) {
	fe.handle("GET /v1.46/images/{ref}/json", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"Id":"sha256:cafe"}`))
	})
	fe.handle("POST /v1.46/containers/create", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"Id":"` + id + `"}`))
	})
	fe.handle("POST /v1.46/containers/"+id+"/start", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	fe.handle("GET /v1.46/containers/"+id+"/logs", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write(muxFrame(1, logs))
	})
	fe.handle("GET /v1.46/containers/"+id+"/json", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{
			"Id":"` + id + `",
			"State":{"Status":"running","Running":true},
			"Config":{"Image":"redis:7"},
			"NetworkSettings":{
				"Ports":{"6379/tcp":[{"HostIp":"0.0.0.0","HostPort":"49200"}]},
				"Networks":{"bridge":{"IPAddress":"172.17.0.9"}}
			}
		}`))
	})
	fe.handle("POST /v1.46/containers/"+id+"/stop", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	fe.handle("DELETE /v1.46/containers/"+id, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
}

func muxFrame(streamID byte, payload []byte) []byte {
	frame := make([]byte, 8+len(payload))
	frame[0] = streamID
	binary.BigEndian.PutUint32(frame[4:8], uint32(len(payload)))
	copy(frame[8:], payload)
	return frame
}

func TestNormalizePortSpec(t *testing.T) {
	assert.EqualValues(t, "6379/tcp", normalizePortSpec("6379"))
	assert.EqualValues(t, "53/udp", normalizePortSpec("53/udp"))
	assert.EqualValues(t, "80/tcp", normalizePortSpec("80/tcp"))
}

func TestNormalizePortSpec_NoAllocationWhenAlreadySuffixed(t *testing.T) {
	allocs := testing.AllocsPerRun(100, func() {
		_ = normalizePortSpec("6379/tcp")
	})
	assert.Zero(t, allocs)
}

func TestProvider_Run_HappyPath(t *testing.T) {
	fe, provider := newFakeEngine(t)
	fe.stubLifecycle("abc123", []byte("Ready to accept connections\n"))

	c, err := provider.Run(context.Background(), Config{
		Image:        "redis:7",
		ExposedPorts: []string{"6379"},
		WaitingFor:   wait.ForLog("Ready to accept connections").WithTimeout(2 * time.Second),
	})

	require.NoError(t, err)
	assert.Equal(t, "abc123", c.ID)
	assert.True(t, c.IsRunning())
	assert.Zero(t, fe.calls("POST /v1.46/images/create"), "image present locally, no pull")

	mapped, err := c.MappedPort(context.Background(), "6379")
	require.NoError(t, err)
	assert.Equal(t, 49200, mapped.Port)
	assert.Equal(t, "127.0.0.1", mapped.IP)
	assert.Equal(t, "127.0.0.1:49200", mapped.Addr())

	ip, err := c.ContainerIP(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "172.17.0.9", ip)
}

func TestProvider_MappedPort_ReInspectsEveryCall(t *testing.T) {
	fe, provider := newFakeEngine(t)
	fe.stubLifecycle("abc123", nil)

	c, err := provider.Run(context.Background(), Config{Image: "redis:7", ExposedPorts: []string{"6379"}})
	require.NoError(t, err)

	before := fe.calls("GET /v1.46/containers/abc123/json")
	for range 3 {
		_, err := c.MappedPort(context.Background(), "6379")
		require.NoError(t, err)
	}
	assert.Equal(t, before+3, fe.calls("GET /v1.46/containers/abc123/json"))
}

func TestProvider_Run_PullsWhenImageAbsent(t *testing.T) {
	fe, provider := newFakeEngine(t)
	fe.handle("GET /v1.46/images/{ref}/json", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"message":"no such image"}`))
	})
	fe.handle("POST /v1.46/images/create", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"status":"Pulling"}` + "\n"))
	})
	fe.handle("POST /v1.46/containers/create", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"Id":"abc123"}`))
	})
	fe.handle("POST /v1.46/containers/abc123/start", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})

	_, err := provider.Run(context.Background(), Config{Image: "redis:7"})

	require.NoError(t, err)
	assert.Equal(t, 1, fe.calls("POST /v1.46/images/create"))
}

func TestProvider_Run_StartFailurePreservesHandle(t *testing.T) {
	fe, provider := newFakeEngine(t)
	fe.stubLifecycle("abc123", []byte("still booting\n"))

	c, err := provider.Run(context.Background(), Config{
		Image: "redis:7",
		WaitingFor: wait.ForLog("never appears").
			WithTimeout(200 * time.Millisecond).
			WithPollInterval(50 * time.Millisecond),
	})

	require.ErrorIs(t, err, wait.ErrTimeout)
	require.NotNil(t, c, "handle must survive a readiness failure for diagnosis")
	assert.Equal(t, "abc123", c.ID)
	assert.True(t, c.IsRunning(), "the container is running, it just never became ready")

	logs, logsErr := c.Logs(context.Background())
	require.NoError(t, logsErr)
	assert.Contains(t, string(logs), "still booting")
}

func TestProvider_Create_FirstNetworkInline_RestConnected(t *testing.T) {
	fe, provider := newFakeEngine(t)

	var createBody map[string]any
	fe.handle("GET /v1.46/images/{ref}/json", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"Id":"sha256:cafe"}`))
	})
	fe.handle("POST /v1.46/containers/create", func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		require.NoError(t, json.Unmarshal(body, &createBody))
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"Id":"abc123"}`))
	})
	fe.handle("POST /v1.46/networks/backend2/connect", func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		var req map[string]any
		require.NoError(t, json.Unmarshal(body, &req))
		assert.Equal(t, "abc123", req["Container"])
	})

	_, err := provider.Create(context.Background(), Config{
		Image:    "redis:7",
		Networks: []string{"backend1", "backend2"},
		NetworkAliases: map[string][]string{
			"backend1": {"cache"},
		},
	})

	require.NoError(t, err)
	endpoints := createBody["NetworkingConfig"].(map[string]any)["EndpointsConfig"].(map[string]any)
	assert.Contains(t, endpoints, "backend1")
	assert.NotContains(t, endpoints, "backend2")
	assert.Equal(t, 1, fe.calls("POST /v1.46/networks/backend2/connect"))
}

func TestProvider_Create_MountsInCreateRequest(t *testing.T) {
	fe, provider := newFakeEngine(t)

	var createBody struct {
		HostConfig struct {
			Binds  []string
			Mounts []struct {
				Type     string
				Source   string
				Target   string
				ReadOnly bool
			}
		}
	}
	fe.handle("GET /v1.46/images/{ref}/json", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"Id":"sha256:cafe"}`))
	})
	fe.handle("POST /v1.46/containers/create", func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		require.NoError(t, json.Unmarshal(body, &createBody))
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"Id":"abc123"}`))
	})

	_, err := provider.Create(context.Background(), Config{
		Image: "postgres:16",
		Mounts: []Mount{
			{Kind: MountBind, Source: "/host/data", Target: "/data", ReadOnly: true},
			{Kind: MountVolume, Source: "pgdata", Target: "/var/lib/postgresql/data"},
			{Kind: MountTmpfs, Target: "/scratch"},
		},
	})

	require.NoError(t, err)
	assert.Equal(t, []string{"/host/data:/data:ro"}, createBody.HostConfig.Binds)
	require.Len(t, createBody.HostConfig.Mounts, 2)
	assert.Equal(t, "volume", createBody.HostConfig.Mounts[0].Type)
	assert.Equal(t, "pgdata", createBody.HostConfig.Mounts[0].Source)
	assert.Equal(t, "/var/lib/postgresql/data", createBody.HostConfig.Mounts[0].Target)
	assert.False(t, createBody.HostConfig.Mounts[0].ReadOnly)
	assert.Equal(t, "tmpfs", createBody.HostConfig.Mounts[1].Type)
	assert.Equal(t, "/scratch", createBody.HostConfig.Mounts[1].Target)
}

func TestProvider_Create_InjectsFiles(t *testing.T) {
	fe, provider := newFakeEngine(t)
	fe.stubLifecycle("abc123", nil)

	var uploadedPath string
	var archive []byte
	fe.handle("PUT /v1.46/containers/abc123/archive", func(w http.ResponseWriter, r *http.Request) {
		uploadedPath = r.URL.Query().Get("path")
		archive, _ = io.ReadAll(r.Body)
	})

	_, err := provider.Create(context.Background(), Config{
		Image: "postgres:16",
		Files: []File{{Content: []byte("CREATE TABLE t(x int);"), ContainerPath: "/docker-entrypoint-initdb.d/init.sql", Mode: 0o644}},
	})

	require.NoError(t, err)
	assert.Equal(t, "/docker-entrypoint-initdb.d", uploadedPath)
	assert.Contains(t, string(archive), "init.sql")
	assert.Zero(t, len(archive)%512)
}

func TestContainer_Terminate_Idempotent(t *testing.T) {
	fe, provider := newFakeEngine(t)
	fe.stubLifecycle("abc123", nil)

	c, err := provider.Run(context.Background(), Config{Image: "redis:7"})
	require.NoError(t, err)

	require.NoError(t, c.Terminate(context.Background()))

	// Engine-side the container is gone now; stop and remove answer 404.
	fe.reset()
	fe.handle("POST /v1.46/containers/abc123/stop", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"message":"no such container"}`))
	})
	fe.handle("DELETE /v1.46/containers/abc123", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"message":"no such container"}`))
	})

	require.NoError(t, c.Terminate(context.Background()))
	assert.False(t, c.IsRunning())
}

func TestProvider_Reuse_RequiresName(t *testing.T) {
	// A provider pointed at a socket that does not exist: the config
	// error must fire before any engine call is attempted.
	provider, err := NewProvider(WithSocketPath(filepath.Join(t.TempDir(), "missing.sock")))
	require.NoError(t, err)

	_, err = provider.Create(context.Background(), Config{Image: "redis:7", Reuse: true})

	require.ErrorIs(t, err, ErrReuseWithoutName)
}

func TestProvider_Reuse_WrapsExistingContainer(t *testing.T) {
	fe, provider := newFakeEngine(t)
	fe.stubLifecycle("existing1", []byte("Ready\n"))
	fe.handle("GET /v1.46/containers/json", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`[{"Id":"existing1","Names":["/shared-redis"],"Image":"redis:7","State":"running"}]`))
	})

	c, err := provider.Run(context.Background(), Config{
		Image:      "redis:7",
		Name:       "shared-redis",
		Reuse:      true,
		WaitingFor: wait.ForLog("Ready").WithTimeout(time.Second),
	})

	require.NoError(t, err)
	assert.Equal(t, "existing1", c.ID)
	assert.True(t, c.IsRunning())
	assert.Zero(t, fe.calls("POST /v1.46/containers/create"), "must not create a duplicate")
	assert.Zero(t, fe.calls("POST /v1.46/containers/existing1/start"), "reused container is already started")
}

func TestResolveEndpoint(t *testing.T) {
	t.Run("defaults", func(t *testing.T) {
		t.Setenv("DOCKER_HOST", "")
		t.Setenv("CONTAINERTEST_HOST_OVERRIDE", "")
		sock, host := resolveEndpoint()
		assert.Equal(t, "/var/run/docker.sock", sock)
		assert.Equal(t, "localhost", host)
	})

	t.Run("unix DOCKER_HOST overrides socket", func(t *testing.T) {
		t.Setenv("DOCKER_HOST", "unix:///tmp/podman.sock")
		t.Setenv("CONTAINERTEST_HOST_OVERRIDE", "")
		sock, host := resolveEndpoint()
		assert.Equal(t, "/tmp/podman.sock", sock)
		assert.Equal(t, "localhost", host)
	})

	t.Run("tcp DOCKER_HOST contributes hostname", func(t *testing.T) {
		t.Setenv("DOCKER_HOST", "tcp://10.0.0.5:2375")
		t.Setenv("CONTAINERTEST_HOST_OVERRIDE", "")
		sock, host := resolveEndpoint()
		assert.Equal(t, "/var/run/docker.sock", sock)
		assert.Equal(t, "10.0.0.5", host)
	})

	t.Run("host override wins", func(t *testing.T) {
		t.Setenv("DOCKER_HOST", "tcp://10.0.0.5:2375")
		t.Setenv("CONTAINERTEST_HOST_OVERRIDE", "vm.internal")
		_, host := resolveEndpoint()
		assert.Equal(t, "vm.internal", host)
	})
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr string
	}{
		{name: "no image", cfg: Config{}, wantErr: "no image"},
		{name: "reuse without name", cfg: Config{Image: "redis", Reuse: true}, wantErr: "reuse requires"},
		{name: "file without destination", cfg: Config{Image: "redis", Files: []File{{Content: []byte("x")}}}, wantErr: "container path"},
		{name: "file without source", cfg: Config{Image: "redis", Files: []File{{ContainerPath: "/x"}}}, wantErr: "neither"},
		{name: "bind mount without source", cfg: Config{Image: "redis", Mounts: []Mount{{Kind: MountBind, Target: "/data"}}}, wantErr: "needs a source"},
		{name: "tmpfs needs no source", cfg: Config{Image: "redis", Mounts: []Mount{{Kind: MountTmpfs, Target: "/scratch"}}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
			} else {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
			}
		})
	}
}

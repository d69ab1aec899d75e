// Package engine speaks the container engine's versioned REST protocol
// over the sock transport. It owns endpoint paths, JSON request bodies and
// status-code expectations; it knows nothing about lifecycle sequencing.
package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/url"
	"strconv"
	"strings"

	cerrdefs "github.com/containerd/errdefs"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/network"
	"github.com/rs/zerolog"

	"github.com/dragosv/containertest/internal/sock"
)

// apiVersion is the engine API version prefix for every request path.
const apiVersion = "v1.46"

const jsonContentType = "application/json"

// Client is a synchronous engine API client. One instance is shared by
// every container created through the same provider; each call opens its
// own connection so there is no mutable connection state to guard.
type Client struct {
	tr  *sock.Transport
	log zerolog.Logger
}

// New returns a client bound to the engine socket at socketPath.
func New(socketPath string, log zerolog.Logger) *Client {
	return &Client{tr: sock.New(socketPath), log: log}
}

// SocketPath returns the engine socket path this client dials.
func (c *Client) SocketPath() string { return c.tr.SocketPath() }

func apiPath(p string, query url.Values) string {
	s := "/" + apiVersion + p
	if len(query) > 0 {
		s += "?" + query.Encode()
	}
	return s
}

// do runs one request, marshalling payload when non-nil, and returns the
// response body when the status is in ok. Any other status maps onto the
// error taxonomy; the body has already been drained at that point.
func (c *Client) do(ctx context.Context, op, method, path string, payload any, ok ...int) ([]byte, error) {
	var body []byte
	contentType := ""
	if payload != nil {
		var err error
		body, err = json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("engine: %s: encode request: %w", op, err)
		}
		contentType = jsonContentType
	}

	resp, err := c.tr.Do(ctx, method, path, contentType, body)
	if err != nil {
		return nil, fmt.Errorf("engine: %s: %w", op, err)
	}
	for _, code := range ok {
		if resp.StatusCode == code {
			return resp.Body, nil
		}
	}
	return nil, apiError(op, resp.StatusCode, resp.Body)
}

// Ping checks that the engine answers on the socket.
func (c *Client) Ping(ctx context.Context) error {
	_, err := c.do(ctx, "ping", "GET", apiPath("/_ping", nil), nil, 200)
	return err
}

// ImagePull pulls an image reference, draining the progress stream before
// returning so the pull is synchronous from the caller's perspective.
// Accepts "name", "name:tag" and "name@digest" forms.
func (c *Client) ImagePull(ctx context.Context, ref string) error {
	name, tag := splitImageRef(ref)
	query := url.Values{}
	query.Set("fromImage", name)
	if tag != "" {
		query.Set("tag", tag)
	}

	status, stream, err := c.tr.DoStream(ctx, "POST", apiPath("/images/create", query), "", nil)
	if err != nil {
		return fmt.Errorf("engine: pull image: %w", err)
	}
	defer stream.Close()

	if status != 200 {
		body, _ := io.ReadAll(stream)
		return apiError("pull image", status, body)
	}
	// The pull is only complete once the progress stream ends.
	if _, err := io.Copy(io.Discard, stream); err != nil {
		return fmt.Errorf("engine: pull image: read progress stream: %w", err)
	}
	c.log.Debug().Str("image", ref).Msg("image pulled")
	return nil
}

// splitImageRef splits an image reference into name and tag-or-digest.
func splitImageRef(ref string) (name, tag string) {
	if i := strings.LastIndexByte(ref, '@'); i >= 0 {
		return ref[:i], ref[i+1:]
	}
	if i := strings.LastIndexByte(ref, ':'); i > strings.LastIndexByte(ref, '/') {
		return ref[:i], ref[i+1:]
	}
	return ref, ""
}

// ImageExists reports whether the image is present locally.
func (c *Client) ImageExists(ctx context.Context, ref string) (bool, error) {
	_, err := c.do(ctx, "inspect image", "GET", apiPath("/images/"+url.PathEscape(ref)+"/json", nil), nil, 200)
	if err != nil {
		if cerrdefs.IsNotFound(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// ContainerCreate creates a container and returns its engine-assigned ID.
// The name is optional; the engine generates one when it is empty.
func (c *Client) ContainerCreate(ctx context.Context, name string, req container.CreateRequest) (string, error) {
	query := url.Values{}
	if name != "" {
		query.Set("name", name)
	}
	body, err := c.do(ctx, "create container", "POST", apiPath("/containers/create", query), req, 201)
	if err != nil {
		return "", err
	}
	var resp createResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", fmt.Errorf("engine: create container: decode response: %w", err)
	}
	c.log.Debug().Str("container_id", resp.ID).Str("image", req.Image).Msg("container created")
	return resp.ID, nil
}

// ContainerStart starts a created container.
func (c *Client) ContainerStart(ctx context.Context, id string) error {
	_, err := c.do(ctx, "start container", "POST", apiPath("/containers/"+id+"/start", nil), nil, 204, 304)
	return err
}

// ContainerStop stops a container. timeoutSeconds is the grace period
// before the engine kills the process; a negative value leaves the engine
// default in place. A 404 means the container is already gone and is
// treated as success.
func (c *Client) ContainerStop(ctx context.Context, id string, timeoutSeconds int) error {
	query := url.Values{}
	if timeoutSeconds >= 0 {
		query.Set("t", strconv.Itoa(timeoutSeconds))
	}
	_, err := c.do(ctx, "stop container", "POST", apiPath("/containers/"+id+"/stop", query), nil, 204, 304)
	if cerrdefs.IsNotFound(err) {
		return nil
	}
	return err
}

// ContainerRemove removes a container. A 404 is a no-op success so that
// teardown stays idempotent.
func (c *Client) ContainerRemove(ctx context.Context, id string, force, removeVolumes bool) error {
	query := url.Values{}
	if force {
		query.Set("force", "1")
	}
	if removeVolumes {
		query.Set("v", "1")
	}
	_, err := c.do(ctx, "remove container", "DELETE", apiPath("/containers/"+id, query), nil, 204)
	if cerrdefs.IsNotFound(err) {
		return nil
	}
	return err
}

// ContainerInspect fetches the authoritative state snapshot.
func (c *Client) ContainerInspect(ctx context.Context, id string) (*ContainerInspect, error) {
	body, err := c.do(ctx, "inspect container", "GET", apiPath("/containers/"+id+"/json", nil), nil, 200)
	if err != nil {
		return nil, err
	}
	var insp ContainerInspect
	if err := json.Unmarshal(body, &insp); err != nil {
		return nil, fmt.Errorf("engine: inspect container: decode response: %w", err)
	}
	return &insp, nil
}

// ContainerLogs fetches the full stdout+stderr log and decodes the
// multiplexed frame format into plain bytes.
func (c *Client) ContainerLogs(ctx context.Context, id string) ([]byte, error) {
	query := url.Values{}
	query.Set("stdout", "1")
	query.Set("stderr", "1")
	body, err := c.do(ctx, "container logs", "GET", apiPath("/containers/"+id+"/logs", query), nil, 200)
	if err != nil {
		return nil, err
	}
	return DemuxFrames(body), nil
}

// Exec runs a command inside a running container and blocks until it
// exits, returning the exit code and the combined stdout+stderr output.
func (c *Client) Exec(ctx context.Context, id string, cmd []string) (int, string, error) {
	createBody, err := c.do(ctx, "exec create", "POST", apiPath("/containers/"+id+"/exec", nil), container.ExecOptions{
		AttachStdout: true,
		AttachStderr: true,
		Cmd:          cmd,
	}, 201)
	if err != nil {
		return 0, "", err
	}
	var created execCreateResponse
	if err := json.Unmarshal(createBody, &created); err != nil {
		return 0, "", fmt.Errorf("engine: exec create: decode response: %w", err)
	}

	// The start response body is the raw multiplexed output stream; it
	// ends when the command exits and the engine closes the connection.
	outBody, err := c.do(ctx, "exec start", "POST", apiPath("/exec/"+created.ID+"/start", nil),
		container.ExecStartOptions{}, 200)
	if err != nil {
		return 0, "", err
	}
	output := DemuxFrames(outBody)

	inspBody, err := c.do(ctx, "exec inspect", "GET", apiPath("/exec/"+created.ID+"/json", nil), nil, 200)
	if err != nil {
		return 0, "", err
	}
	var insp ExecInspect
	if err := json.Unmarshal(inspBody, &insp); err != nil {
		return 0, "", fmt.Errorf("engine: exec inspect: decode response: %w", err)
	}
	return insp.ExitCode, string(output), nil
}

// NetworkCreate creates a bridge network and returns its ID.
func (c *Client) NetworkCreate(ctx context.Context, name string, labels map[string]string) (string, error) {
	body, err := c.do(ctx, "create network", "POST", apiPath("/networks/create", nil), network.CreateRequest{
		Name: name,
		CreateOptions: network.CreateOptions{
			Driver: "bridge",
			Labels: labels,
		},
	}, 201)
	if err != nil {
		return "", err
	}
	var resp networkCreateResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", fmt.Errorf("engine: create network: decode response: %w", err)
	}
	return resp.ID, nil
}

// NetworkRemove removes a network; already-gone networks are a no-op.
func (c *Client) NetworkRemove(ctx context.Context, name string) error {
	_, err := c.do(ctx, "remove network", "DELETE", apiPath("/networks/"+url.PathEscape(name), nil), nil, 204)
	if cerrdefs.IsNotFound(err) {
		return nil
	}
	return err
}

// NetworkConnect joins a container to an existing network, optionally
// under the given aliases.
func (c *Client) NetworkConnect(ctx context.Context, networkName, containerID string, aliases []string) error {
	opts := network.ConnectOptions{Container: containerID}
	if len(aliases) > 0 {
		opts.EndpointConfig = &network.EndpointSettings{Aliases: aliases}
	}
	_, err := c.do(ctx, "connect network", "POST", apiPath("/networks/"+url.PathEscape(networkName)+"/connect", nil), opts, 200)
	return err
}

// CopyToContainer uploads a tar archive so its entries land under destDir
// inside the container.
func (c *Client) CopyToContainer(ctx context.Context, id, destDir string, archive []byte) error {
	query := url.Values{}
	query.Set("path", destDir)
	resp, err := c.tr.Do(ctx, "PUT", apiPath("/containers/"+id+"/archive", query), "application/x-tar", archive)
	if err != nil {
		return fmt.Errorf("engine: upload archive: %w", err)
	}
	if resp.StatusCode != 200 {
		return apiError("upload archive", resp.StatusCode, resp.Body)
	}
	return nil
}

// ContainerList lists containers, including stopped ones when all is set.
func (c *Client) ContainerList(ctx context.Context, all bool) ([]ContainerSummary, error) {
	query := url.Values{}
	if all {
		query.Set("all", "1")
	}
	body, err := c.do(ctx, "list containers", "GET", apiPath("/containers/json", query), nil, 200)
	if err != nil {
		return nil, err
	}
	var list []ContainerSummary
	if err := json.Unmarshal(body, &list); err != nil {
		return nil, fmt.Errorf("engine: list containers: decode response: %w", err)
	}
	return list, nil
}

// FindContainerByName resolves a human name to a container, or nil when no
// container carries that exact name.
func (c *Client) FindContainerByName(ctx context.Context, name string) (*ContainerSummary, error) {
	list, err := c.ContainerList(ctx, true)
	if err != nil {
		return nil, err
	}
	for i := range list {
		for _, n := range list[i].Names {
			if strings.TrimPrefix(n, "/") == name {
				return &list[i], nil
			}
		}
	}
	return nil, nil
}

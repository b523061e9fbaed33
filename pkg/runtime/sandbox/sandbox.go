// Package sandbox starts and stops the Docker containers that run
// candidate submissions, and exposes the single Invoke surface the
// evaluation worker uses to drive them.
//
// Grounded on github.com/Mindburn-Labs/helm/core/pkg/runtime/sandbox
// (sandbox.go): keeps the teacher's Sandbox-as-a-managed-process shape
// (Start/Stop lifecycle, deterministic SandboxError taxonomy, output-size
// and timeout enforcement) but swaps the WASI/wazero isolation primitive
// for a real Docker container, since candidate submissions here are
// arbitrary network services, not WASM modules — grounded on
// github.com/docker/docker (named via
// _examples/other_examples/manifests/Azure-containerization-assist/go.mod,
// which carries Docker/OCI tooling in the same ecosystem corner).
package sandbox

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/client"
	"github.com/docker/go-connections/nat"

	"github.com/caster-hub/validator-core/pkg/runtime"
)

// PullPolicy governs whether the candidate image is pulled before launch.
type PullPolicy string

const (
	PullAlways  PullPolicy = "always"
	PullMissing PullPolicy = "missing"
	PullNever   PullPolicy = "never"
)

// Volume mounts a host path into the container.
type Volume struct {
	Source string
	Dest   string
	Mode   string // "ro" or "rw"
}

// Options enumerates every knob Start recognizes (spec §4.8).
type Options struct {
	Image         string
	ContainerName string
	PullPolicy    PullPolicy

	HostPort      string // empty lets Docker assign an ephemeral port
	ContainerPort string

	Env        map[string]string
	Entrypoint []string
	Command    []string
	Network    string

	TokenHeader string // default "x-caster-token"

	Volumes     []Volume
	WorkingDir  string
	ExtraHosts  []string

	StartupDelay        time.Duration
	WaitForHealthz      bool
	HealthzPath         string        // default "/healthz"
	HealthzTimeout      time.Duration // default 15s
	StopTimeoutSeconds  int           // default 5

	User           string
	SeccompProfile string
	PidsLimit      int64
	MemoryBytes    int64
	NanoCPUs       int64
}

func (o *Options) applyDefaults() {
	if o.TokenHeader == "" {
		o.TokenHeader = "x-caster-token"
	}
	if o.HealthzPath == "" {
		o.HealthzPath = "/healthz"
	}
	if o.HealthzTimeout == 0 {
		o.HealthzTimeout = 15 * time.Second
	}
	if o.StopTimeoutSeconds == 0 {
		o.StopTimeoutSeconds = 5
	}
	if o.ContainerPort == "" {
		o.ContainerPort = "8080"
	}
}

// Deployment is the handle Start returns; Stop consumes it.
type Deployment struct {
	ContainerID string
	Identifier  string
	BaseURL     string
	LogStreamID string
	StopTimeout time.Duration

	client        *http.Client
	tokenHeader   string
}

// NewDeployment builds a Deployment directly, bypassing Manager.Start.
// Exported so tests (and anything substituting ArtifactDeployer with a
// fake transport) can construct a Deployment against an httptest server
// without a Docker daemon.
func NewDeployment(identifier, baseURL string, httpClient *http.Client, tokenHeader string, stopTimeout time.Duration) *Deployment {
	if tokenHeader == "" {
		tokenHeader = "x-caster-token"
	}
	return &Deployment{
		Identifier:  identifier,
		BaseURL:     baseURL,
		StopTimeout: stopTimeout,
		client:      httpClient,
		tokenHeader: tokenHeader,
	}
}

// Invoke drives a running deployment's entrypoint. It sets the session-id
// header and passes token in the configured token header (spec §4.8).
func (d *Deployment) Invoke(ctx context.Context, entrypoint string, payload []byte, sessionID, token string) ([]byte, error) {
	url := fmt.Sprintf("%s/entry/%s", d.BaseURL, entrypoint)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, runtime.Wrap(runtime.ErrProviderTransient, err, "building sandbox request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-caster-session-id", sessionID)
	req.Header.Set(d.tokenHeader, token)

	resp, err := d.client.Do(req)
	if err != nil {
		return nil, runtime.Wrap(runtime.ErrProviderTransient, err, "invoking sandbox entrypoint %s", entrypoint)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, OutputMaxBytes))
	if err != nil {
		return nil, runtime.Wrap(runtime.ErrProviderTransient, err, "reading sandbox response")
	}
	if resp.StatusCode == http.StatusGatewayTimeout {
		return nil, runtime.New(runtime.ErrProviderTransient, "sandbox entrypoint %s timed out (504)", entrypoint)
	}
	if resp.StatusCode >= 500 {
		return nil, runtime.New(runtime.ErrProviderTransient, "sandbox entrypoint %s returned %d", entrypoint, resp.StatusCode)
	}
	if resp.StatusCode >= 400 {
		return nil, runtime.New(runtime.ErrMalformedRequest, "sandbox entrypoint %s returned %d: %s", entrypoint, resp.StatusCode, string(body))
	}
	return body, nil
}

// OutputMaxBytes bounds how much of a sandbox response body is read.
const OutputMaxBytes = 4 * 1024 * 1024

// Manager starts and stops candidate containers via the Docker Engine API.
type Manager struct {
	docker     *client.Client
	hostBaseURL string // e.g. "http://127.0.0.1" — how the validator reaches published ports
}

// NewManager constructs a Manager from the ambient Docker environment
// (DOCKER_HOST, DOCKER_CERT_PATH, etc., same as the docker CLI).
func NewManager(hostBaseURL string) (*Manager, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, runtime.Wrap(runtime.ErrSandboxStartFail, err, "creating docker client")
	}
	return &Manager{docker: cli, hostBaseURL: hostBaseURL}, nil
}

// Start launches a candidate container per Options and returns a
// Deployment once it is reachable (spec §4.8).
func (m *Manager) Start(ctx context.Context, opts Options) (*Deployment, error) {
	opts.applyDefaults()

	if err := m.ensureImage(ctx, opts); err != nil {
		return nil, err
	}

	containerPort := nat.Port(opts.ContainerPort + "/tcp")
	portBindings := nat.PortMap{
		containerPort: []nat.PortBinding{{HostIP: "0.0.0.0", HostPort: opts.HostPort}},
	}

	env := make([]string, 0, len(opts.Env))
	for k, v := range opts.Env {
		env = append(env, fmt.Sprintf("%s=%s", k, v))
	}

	hostCfg := &container.HostConfig{
		PortBindings: portBindings,
		NetworkMode:  container.NetworkMode(opts.Network),
		ExtraHosts:   opts.ExtraHosts,
		ReadonlyRootfs: true,
		Tmpfs:        map[string]string{"/tmp": "rw,noexec,nosuid,size=64m"},
		Resources: container.Resources{
			Memory:    opts.MemoryBytes,
			NanoCPUs:  opts.NanoCPUs,
			PidsLimit: &opts.PidsLimit,
		},
		SecurityOpt: securityOpts(opts.SeccompProfile),
	}

	containerCfg := &container.Config{
		Image:        opts.Image,
		Env:          env,
		Entrypoint:   opts.Entrypoint,
		Cmd:          opts.Command,
		WorkingDir:   opts.WorkingDir,
		User:         opts.User,
		ExposedPorts: nat.PortSet{containerPort: struct{}{}},
	}

	created, err := m.docker.ContainerCreate(ctx, containerCfg, hostCfg, nil, nil, opts.ContainerName)
	if err != nil {
		return nil, runtime.Wrap(runtime.ErrSandboxStartFail, err, "creating container for image %s", opts.Image)
	}

	if err := m.docker.ContainerStart(ctx, created.ID, container.StartOptions{}); err != nil {
		return nil, runtime.Wrap(runtime.ErrSandboxStartFail, err, "starting container %s", created.ID)
	}

	if opts.StartupDelay > 0 {
		select {
		case <-time.After(opts.StartupDelay):
		case <-ctx.Done():
			return nil, runtime.Wrap(runtime.ErrSandboxStartFail, ctx.Err(), "startup delay interrupted")
		}
	}

	hostPort, err := m.publishedPort(ctx, created.ID, containerPort)
	if err != nil {
		return nil, err
	}

	baseURL := fmt.Sprintf("%s:%s", m.hostBaseURL, hostPort)
	deployment := &Deployment{
		ContainerID: created.ID,
		Identifier:  opts.ContainerName,
		BaseURL:     baseURL,
		LogStreamID: created.ID,
		StopTimeout: time.Duration(opts.StopTimeoutSeconds) * time.Second,
		client:      &http.Client{Timeout: opts.HealthzTimeout},
		tokenHeader: opts.TokenHeader,
	}

	if opts.WaitForHealthz {
		if err := m.waitHealthy(ctx, deployment, opts); err != nil {
			_ = m.Stop(context.Background(), deployment)
			return nil, err
		}
	}

	return deployment, nil
}

func (m *Manager) ensureImage(ctx context.Context, opts Options) error {
	switch opts.PullPolicy {
	case PullNever:
		return nil
	case PullAlways:
		return m.pull(ctx, opts.Image)
	default: // missing
		_, _, err := m.docker.ImageInspectWithRaw(ctx, opts.Image)
		if err == nil {
			return nil
		}
		return m.pull(ctx, opts.Image)
	}
}

func (m *Manager) pull(ctx context.Context, ref string) error {
	rc, err := m.docker.ImagePull(ctx, ref, image.PullOptions{})
	if err != nil {
		return runtime.Wrap(runtime.ErrSandboxStartFail, err, "pulling image %s", ref)
	}
	defer rc.Close()
	_, _ = io.Copy(io.Discard, rc)
	return nil
}

func (m *Manager) publishedPort(ctx context.Context, containerID string, containerPort nat.Port) (string, error) {
	inspect, err := m.docker.ContainerInspect(ctx, containerID)
	if err != nil {
		return "", runtime.Wrap(runtime.ErrSandboxStartFail, err, "inspecting container %s", containerID)
	}
	bindings, ok := inspect.NetworkSettings.Ports[containerPort]
	if !ok || len(bindings) == 0 {
		return "", runtime.New(runtime.ErrSandboxStartFail, "container %s published no port for %s", containerID, containerPort)
	}
	return bindings[0].HostPort, nil
}

func (m *Manager) waitHealthy(ctx context.Context, d *Deployment, opts Options) error {
	deadline := time.Now().Add(opts.HealthzTimeout)
	url := d.BaseURL + opts.HealthzPath
	for {
		req, _ := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		resp, err := d.client.Do(req)
		if err == nil {
			resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				return nil
			}
		}
		if time.Now().After(deadline) {
			return runtime.New(runtime.ErrSandboxStartFail, "healthz %s did not return 200 within %s", url, opts.HealthzTimeout)
		}
		select {
		case <-time.After(200 * time.Millisecond):
		case <-ctx.Done():
			return runtime.Wrap(runtime.ErrSandboxStartFail, ctx.Err(), "healthz poll interrupted")
		}
	}
}

// Stop sends a termination signal, waits up to the deployment's stop
// timeout, then forces a kill (spec §4.8).
func (m *Manager) Stop(ctx context.Context, d *Deployment) error {
	timeoutSeconds := int(d.StopTimeout.Seconds())
	if err := m.docker.ContainerStop(ctx, d.ContainerID, container.StopOptions{Timeout: &timeoutSeconds}); err != nil {
		return runtime.Wrap(runtime.ErrSandboxStartFail, err, "stopping container %s", d.ContainerID)
	}
	_ = m.docker.ContainerRemove(ctx, d.ContainerID, container.RemoveOptions{Force: true})
	return nil
}

func securityOpts(seccompProfile string) []string {
	if seccompProfile == "" {
		return []string{"no-new-privileges"}
	}
	return []string{"no-new-privileges", fmt.Sprintf("seccomp=%s", seccompProfile)}
}

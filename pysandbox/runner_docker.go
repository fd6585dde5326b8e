package pysandbox

import (
	"archive/tar"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
	"github.com/docker/go-connections/tlsconfig"

	"github.com/nevindra/chatrt/actormesh"
)

// DockerConfig configures the container-isolated backend. Zero value picks
// reasonable defaults (python:3.12-slim, the daemon from the environment,
// no TLS).
type DockerConfig struct {
	Image      string
	Timeout    time.Duration
	MaxOutput  int
	TLSCertDir string // set to enable client TLS against a remote daemon
}

// DockerRunner runs one round of sandboxed Python inside a throwaway,
// network-disabled container instead of a bare subprocess. Grounded on the
// teacher's go.mod, which lists github.com/docker/docker and
// github.com/docker/go-connections as direct dependencies despite no
// teacher source file importing them — this is their home: selected via
// SandboxConfig.Isolation == "docker" wherever a stronger isolation
// boundary than a plain OS process is required.
type DockerRunner struct {
	cli    *client.Client
	cfg    DockerConfig
	script string // setup.py source, embedded by the caller via setupSource
}

// NewDockerRunner connects to the Docker daemon using the standard
// DOCKER_HOST/DOCKER_TLS_VERIFY/DOCKER_CERT_PATH environment, optionally
// overridden by cfg.TLSCertDir.
func NewDockerRunner(cfg DockerConfig) (*DockerRunner, error) {
	opts := []client.Opt{client.FromEnv, client.WithAPIVersionNegotiation()}
	if cfg.TLSCertDir != "" {
		tlsCfg, err := tlsconfig.Client(tlsconfig.Options{
			CAFile:   cfg.TLSCertDir + "/ca.pem",
			CertFile: cfg.TLSCertDir + "/cert.pem",
			KeyFile:  cfg.TLSCertDir + "/key.pem",
		})
		if err != nil {
			return nil, fmt.Errorf("docker client tls: %w", err)
		}
		opts = append(opts, client.WithHTTPClient(&http.Client{Transport: &http.Transport{TLSClientConfig: tlsCfg}}))
	}
	cli, err := client.NewClientWithOpts(opts...)
	if err != nil {
		return nil, fmt.Errorf("docker client: %w", err)
	}
	if cfg.Image == "" {
		cfg.Image = "python:3.12-slim"
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.MaxOutput == 0 {
		cfg.MaxOutput = defaultMaxOutput
	}
	return &DockerRunner{cli: cli, cfg: cfg, script: setupSource}, nil
}

// Run implements actormesh.SandboxRunner. It copies the request file and the
// setup.py + user code script into a fresh, network-disabled container,
// runs python3 -I against it, and parses the trailing protocol line off the
// container's stdout — the same wire contract plain subprocess execution
// uses, just with the daemon enforcing the isolation boundary instead of
// the host OS directly.
func (r *DockerRunner) Run(ctx context.Context, req actormesh.ExecutionRequest) actormesh.SandboxResult {
	ctx, cancel := context.WithTimeout(ctx, r.cfg.Timeout)
	defer cancel()

	wireReq := toExecutionRequest(req)
	reqJSON, err := json.Marshal(wireReq)
	if err != nil {
		return actormesh.SandboxResult{Status: actormesh.StatusError, ErrorMessage: err.Error()}
	}
	script := r.script + "\n" + strings.Join(req.Code, "\n")

	archive, err := tarArchive(map[string][]byte{
		"request.json": reqJSON,
		"script.py":    []byte(script),
	})
	if err != nil {
		return actormesh.SandboxResult{Status: actormesh.StatusError, ErrorMessage: err.Error()}
	}

	created, err := r.cli.ContainerCreate(ctx, &container.Config{
		Image:      r.cfg.Image,
		Cmd:        []string{"python3", "-I", "/sandbox/script.py"},
		Env:        []string{"_SANDBOX_REQUEST_PATH=/sandbox/request.json", "LANG=en_US.UTF-8"},
		WorkingDir: "/sandbox",
	}, &container.HostConfig{
		NetworkMode: "none",
		AutoRemove:  true,
		Resources:   container.Resources{Memory: 256 * 1024 * 1024},
	}, nil, nil, "")
	if err != nil {
		return actormesh.SandboxResult{Status: actormesh.StatusError, ErrorMessage: "create container: " + err.Error()}
	}
	id := created.ID
	defer r.cli.ContainerRemove(context.Background(), id, container.RemoveOptions{Force: true})

	if err := r.cli.CopyToContainer(ctx, id, "/sandbox", archive, container.CopyToContainerOptions{}); err != nil {
		return actormesh.SandboxResult{Status: actormesh.StatusError, ErrorMessage: "copy into container: " + err.Error()}
	}

	if err := r.cli.ContainerStart(ctx, id, container.StartOptions{}); err != nil {
		return actormesh.SandboxResult{Status: actormesh.StatusError, ErrorMessage: "start container: " + err.Error()}
	}

	waitCh, errCh := r.cli.ContainerWait(ctx, id, container.WaitConditionNotRunning)
	select {
	case <-ctx.Done():
		return actormesh.SandboxResult{Status: actormesh.StatusTimeout}
	case werr := <-errCh:
		if werr != nil {
			return actormesh.SandboxResult{Status: actormesh.StatusError, ErrorMessage: werr.Error()}
		}
	case <-waitCh:
	}

	logs, err := r.cli.ContainerLogs(ctx, id, container.LogsOptions{ShowStdout: true, ShowStderr: true})
	if err != nil {
		return actormesh.SandboxResult{Status: actormesh.StatusError, ErrorMessage: "read logs: " + err.Error()}
	}
	defer logs.Close()

	var stdoutBuf, stderrBuf bytes.Buffer
	if _, err := stdcopy.StdCopy(&stdoutBuf, &stderrBuf, logs); err != nil && err != io.EOF {
		return actormesh.SandboxResult{Status: actormesh.StatusError, ErrorMessage: "demux logs: " + err.Error()}
	}

	var protoLine string
	for _, line := range strings.Split(stdoutBuf.String(), "\n") {
		if strings.HasPrefix(line, _protoMarker) {
			protoLine = strings.TrimPrefix(line, _protoMarker)
		}
	}
	if protoLine == "" {
		msg := stderrBuf.String()
		return actormesh.SandboxResult{Status: actormesh.StatusError, ErrorMessage: msg, Stderr: msg}
	}

	parsed, err := decodeResult(protoLine)
	if err != nil {
		return actormesh.SandboxResult{Status: actormesh.StatusError, ErrorMessage: "malformed protocol line: " + err.Error()}
	}
	return toSandboxResult(parsed, stderrBuf.String())
}

func tarArchive(files map[string][]byte) (io.Reader, error) {
	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)
	for name, data := range files {
		if err := tw.WriteHeader(&tar.Header{Name: name, Mode: 0o644, Size: int64(len(data))}); err != nil {
			return nil, err
		}
		if _, err := tw.Write(data); err != nil {
			return nil, err
		}
	}
	if err := tw.Close(); err != nil {
		return nil, err
	}
	return &buf, nil
}

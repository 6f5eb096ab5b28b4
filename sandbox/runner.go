// BSD 2-Clause License
//
// Copyright (c) 2020, Andrea Giacomo Baldan
// All rights reserved.
//
// Redistribution and use in source and binary forms, with or without
// modification, are permitted provided that the following conditions are met:
//
// * Redistributions of source code must retain the above copyright notice, this
//   list of conditions and the following disclaimer.
//
// * Redistributions in binary form must reproduce the above copyright notice,
//   this list of conditions and the following disclaimer in the documentation
//   and/or other materials provided with the distribution.
//
// THIS SOFTWARE IS PROVIDED BY THE COPYRIGHT HOLDERS AND CONTRIBUTORS "AS IS"
// AND ANY EXPRESS OR IMPLIED WARRANTIES, INCLUDING, BUT NOT LIMITED TO, THE
// IMPLIED WARRANTIES OF MERCHANTABILITY AND FITNESS FOR A PARTICULAR PURPOSE ARE
// DISCLAIMED. IN NO EVENT SHALL THE COPYRIGHT HOLDER OR CONTRIBUTORS BE LIABLE
// FOR ANY DIRECT, INDIRECT, INCIDENTAL, SPECIAL, EXEMPLARY, OR CONSEQUENTIAL
// DAMAGES (INCLUDING, BUT NOT LIMITED TO, PROCUREMENT OF SUBSTITUTE GOODS OR
// SERVICES; LOSS OF USE, DATA, OR PROFITS; OR BUSINESS INTERRUPTION) HOWEVER
// CAUSED AND ON ANY THEORY OF LIABILITY, WHETHER IN CONTRACT, STRICT LIABILITY,
// OR TORT (INCLUDING NEGLIGENCE OR OTHERWISE) ARISING IN ANY WAY OUT OF THE USE
// OF THIS SOFTWARE, EVEN IF ADVISED OF THE POSSIBILITY OF SUCH DAMAGE.

package sandbox

import (
	"archive/tar"
	"bytes"
	"context"
	"fmt"
	"io"
	"log"
	"time"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/mount"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
	units "github.com/docker/go-units"
	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
)

const (
	resultPath     = "/tmp/result.json"
	refMountTarget = "/django-pr"

	// The image's own watchdog enforces the 10s logical budget and exits
	// 124; these host-side waits are a backstop above it, wide enough in
	// ref mode for the image to install the mounted source's runtime
	// dependencies first.
	defaultWaitTimeout = 30 * time.Second
	refModeWaitTimeout = 120 * time.Second
)

// Descriptor is the subset of executor.Descriptor the runner needs to start
// a container; kept separate so this package has no dependency on the
// registry package.
type Descriptor struct {
	Image       string
	MemoryLimit string
	Network     string
	ORMFamily   string
}

// Runner creates one container per execution, waits for it, extracts its
// result artifact and removes it. It does not stop a container while
// waiting for it: a sandbox that overruns its own internal budget is
// expected to self terminate (OOM by the kernel, exit 124 from its own
// watchdog). If the wait ends early (the host-side backstop expires or the
// wait itself fails), the deferred force-remove kills a container that is
// still running.
type Runner struct {
	cli    *client.Client
	logger *log.Logger
}

// NewRunner dials the container engine using the platform-conventional
// environment (DOCKER_HOST and friends), exactly as codepr/narwhal's
// core.ContainerRunnerPool and backend.runContainer did with NewEnvClient.
func NewRunner(logger *log.Logger) (*Runner, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("sandbox: dial container engine: %w", err)
	}
	return &Runner{cli: cli, logger: logger}, nil
}

// Run builds the environment, launches a container with memory/network
// constraints, waits for it to finish, extracts /tmp/result.json and
// classifies the outcome. It always returns a Result — there is no error
// return because every failure mode here has a place in the closed event
// set.
func (r *Runner) Run(ctx context.Context, exec Descriptor, req RunRequest) Result {
	memBytes, err := units.RAMInBytes(exec.MemoryLimit)
	if err != nil {
		return Result{Event: EventInternalError, Error: fmt.Sprintf("invalid memory limit %q: %v", exec.MemoryLimit, err)}
	}

	name := containerName(req.RefMode)
	r.logger.Printf("sandbox: creating %s container %s from %s (mem=%s)", exec.ORMFamily, name, exec.Image, humanize.Bytes(uint64(memBytes)))

	hostConfig := &container.HostConfig{
		Resources: container.Resources{
			Memory:     memBytes,
			MemorySwap: memBytes,
		},
		NetworkMode: container.NetworkMode(exec.Network),
	}
	if req.WorktreeHostPath != "" {
		hostConfig.Mounts = []mount.Mount{{
			Type:     mount.TypeBind,
			Source:   req.WorktreeHostPath,
			Target:   refMountTarget,
			ReadOnly: true,
		}}
	}

	resp, err := r.cli.ContainerCreate(ctx, &container.Config{
		Image: exec.Image,
		Env:   buildEnv(req),
	}, hostConfig, nil, nil, name)
	if err != nil {
		if client.IsErrNotFound(err) {
			return Result{Event: EventImageMissing, Error: fmt.Sprintf("executor image %s not found", exec.Image)}
		}
		return Result{Event: EventInternalError, Error: err.Error()}
	}
	defer r.remove(resp.ID)

	if err := r.cli.ContainerStart(ctx, resp.ID, types.ContainerStartOptions{}); err != nil {
		return Result{Event: EventInternalError, Error: err.Error()}
	}

	waitTimeout := defaultWaitTimeout
	if req.RefMode {
		waitTimeout = refModeWaitTimeout
	}
	waitCtx, cancel := context.WithTimeout(ctx, waitTimeout)
	defer cancel()

	statusCh, errCh := r.cli.ContainerWait(waitCtx, resp.ID, container.WaitConditionNotRunning)
	var exitCode int64
	select {
	case err := <-errCh:
		if err != nil {
			return Result{Event: EventInternalError, Error: err.Error()}
		}
	case status := <-statusCh:
		exitCode = status.StatusCode
	case <-waitCtx.Done():
		return Result{Event: EventTimeout, Error: "Timed out! Maximum allowed is 10 seconds. Sorry!"}
	}

	payload, fallback := r.extractResult(ctx, resp.ID)
	return classify(exitCode, payload, fallback)
}

func containerName(refMode bool) string {
	suffix := uuid.New().String()[:6]
	if refMode {
		return fmt.Sprintf("executor-ref-%s", suffix)
	}
	return fmt.Sprintf("executor-%s", suffix)
}

// extractResult streams /tmp/result.json out of the stopped container as a
// tar archive and reads its single expected member. If that fails (the file
// never existed, the container crashed before writing it), it falls back to
// the container's combined stdout+stderr, which classify() uses as the
// CodeError/NetworkDisabled message text.
func (r *Runner) extractResult(ctx context.Context, containerID string) ([]byte, string) {
	reader, _, err := r.cli.CopyFromContainer(ctx, containerID, resultPath)
	if err == nil {
		defer reader.Close()
		if payload, ok := readTarMember(reader, "result.json"); ok {
			return payload, ""
		}
	}

	logs, err := r.cli.ContainerLogs(ctx, containerID, types.ContainerLogsOptions{ShowStdout: true, ShowStderr: true})
	if err != nil {
		return nil, ""
	}
	defer logs.Close()

	var stdout, stderr bytes.Buffer
	if _, err := stdcopy.StdCopy(&stdout, &stderr, logs); err != nil {
		return nil, stdout.String() + stderr.String()
	}
	return nil, stdout.String() + stderr.String()
}

func readTarMember(r io.Reader, name string) ([]byte, bool) {
	tr := tar.NewReader(r)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return nil, false
		}
		if err != nil {
			return nil, false
		}
		if hdr.Name == name || hdr.Name == "./"+name {
			buf, err := io.ReadAll(tr)
			if err != nil {
				return nil, false
			}
			return buf, true
		}
	}
}

func (r *Runner) remove(containerID string) {
	if err := r.cli.ContainerRemove(context.Background(), containerID, types.ContainerRemoveOptions{Force: true}); err != nil {
		r.logger.Printf("sandbox: failed to remove container %s: %v", containerID, err)
	}
}

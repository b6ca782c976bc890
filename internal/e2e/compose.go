// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package e2e

import (
	"context"
	"fmt"
	"io"
	"maps"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/Hellseher/go-shellquote"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/go-connections/nat"
	"github.com/rs/zerolog/log"
	"github.com/testcontainers/testcontainers-go"
	tcexec "github.com/testcontainers/testcontainers-go/exec"
	"github.com/testcontainers/testcontainers-go/modules/compose"
	"github.com/testcontainers/testcontainers-go/wait"
)

// NetworkName is the external network every fixture joins, so services of
// different stacks resolve each other by name.
const NetworkName = "electorrent-e2e"

const composeTimeout = 60 * time.Second

// Service is one docker compose fixture. The first service in the file, or
// the one named at construction, is the target of Exec and Pause.
type Service struct {
	dir     string
	service string
	env     map[string]string
	stack   compose.ComposeStack
	waits   map[string]wait.Strategy
}

// PortWait makes Up block until a service listens on a container port.
type PortWait struct {
	Service string
	Port    nat.Port
}

// NewService prepares the stack in dir. Nothing is started until Up.
func NewService(dir string, env map[string]string, serviceName string) (*Service, error) {
	composeFile := filepath.Join(dir, "docker-compose.yml")
	if _, err := os.Stat(composeFile); err != nil {
		return nil, fmt.Errorf("compose fixture %s: %w", dir, err)
	}

	if serviceName == "" {
		serviceName = filepath.Base(dir)
	}

	identifier := fmt.Sprintf("electorrent-e2e-%s", strings.ToLower(filepath.Base(dir)))
	stack, err := compose.NewDockerComposeWith(
		compose.StackIdentifier(identifier),
		compose.WithStackFiles(composeFile),
	)
	if err != nil {
		return nil, fmt.Errorf("create compose stack %s: %w", dir, err)
	}

	return &Service{
		dir:     dir,
		service: serviceName,
		env:     maps.Clone(env),
		stack:   stack,
		waits:   make(map[string]wait.Strategy),
	}, nil
}

func (s *Service) Name() string {
	return s.service
}

// WaitForPort adds a listening-port check for Up.
func (s *Service) WaitForPort(w PortWait) *Service {
	s.waits[w.Service] = wait.ForListeningPort(w.Port).WithStartupTimeout(composeTimeout)
	return s
}

// Up starts every service of the stack and waits for them to run.
func (s *Service) Up(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, composeTimeout)
	defer cancel()

	if err := ensureNetwork(ctx); err != nil {
		return err
	}

	log.Info().Str("dir", s.dir).Str("service", s.service).Msg("Starting compose fixture")

	stack := s.stack
	if len(s.env) > 0 {
		stack = stack.WithEnv(s.env)
	}
	for service, strategy := range s.waits {
		stack = stack.WaitForService(service, strategy)
	}
	if err := stack.Up(ctx, compose.Wait(true)); err != nil {
		return fmt.Errorf("compose up %s: %w", s.dir, err)
	}
	return nil
}

// Down removes the stack when cleanup is enabled. Stacks are otherwise
// left running for the next run to reuse.
func (s *Service) Down(ctx context.Context) error {
	if !cleanupEnabled() {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, composeTimeout)
	defer cancel()

	log.Info().Str("dir", s.dir).Msg("Removing compose fixture")
	if err := s.stack.Down(ctx, compose.RemoveOrphans(true), compose.RemoveVolumes(true)); err != nil {
		return fmt.Errorf("compose down %s: %w", s.dir, err)
	}
	return nil
}

func (s *Service) container(ctx context.Context) (*testcontainers.DockerContainer, error) {
	c, err := s.stack.ServiceContainer(ctx, s.service)
	if err != nil {
		return nil, fmt.Errorf("service %s: %w", s.service, err)
	}
	return c, nil
}

// Pause freezes the service container. Connections to it hang instead of
// being refused.
func (s *Service) Pause(ctx context.Context) error {
	return s.withDocker(ctx, func(cli *testcontainers.DockerClient, id string) error {
		return cli.ContainerPause(ctx, id)
	})
}

func (s *Service) Unpause(ctx context.Context) error {
	return s.withDocker(ctx, func(cli *testcontainers.DockerClient, id string) error {
		return cli.ContainerUnpause(ctx, id)
	})
}

func (s *Service) withDocker(ctx context.Context, fn func(*testcontainers.DockerClient, string) error) error {
	c, err := s.container(ctx)
	if err != nil {
		return err
	}

	cli, err := testcontainers.NewDockerClientWithOpts(ctx)
	if err != nil {
		return fmt.Errorf("docker client: %w", err)
	}
	defer cli.Close()

	return fn(cli, c.GetContainerID())
}

// ExecError is returned when a command exits non-zero.
type ExecError struct {
	Command  string
	ExitCode int
	Output   string
}

func (e *ExecError) Error() string {
	return fmt.Sprintf("%s exited with %d: %s", e.Command, e.ExitCode, strings.TrimSpace(e.Output))
}

// Exec runs cmd inside the service container and fails on a non-zero exit.
func (s *Service) Exec(ctx context.Context, cmd ...string) error {
	c, err := s.container(ctx)
	if err != nil {
		return err
	}

	rendered := shellquote.Join(cmd...)
	log.Debug().Str("service", s.service).Str("cmd", rendered).Msg("Exec in fixture")

	code, reader, err := c.Exec(ctx, cmd, tcexec.Multiplexed())
	if err != nil {
		return fmt.Errorf("exec %s: %w", rendered, err)
	}

	var output []byte
	if reader != nil {
		output, _ = io.ReadAll(reader)
	}
	if code != 0 {
		return &ExecError{Command: rendered, ExitCode: code, Output: string(output)}
	}
	return nil
}

// WaitForExec retries cmd until it exits zero or timeout passes.
func (s *Service) WaitForExec(ctx context.Context, timeout time.Duration, cmd ...string) error {
	return Eventually(ctx, timeout, func(ctx context.Context) error {
		return s.Exec(ctx, cmd...)
	})
}

func ensureNetwork(ctx context.Context) error {
	cli, err := testcontainers.NewDockerClientWithOpts(ctx)
	if err != nil {
		return fmt.Errorf("docker client: %w", err)
	}
	defer cli.Close()

	if _, err := cli.NetworkInspect(ctx, NetworkName, network.InspectOptions{}); err == nil {
		return nil
	}

	if _, err := cli.NetworkCreate(ctx, NetworkName, network.CreateOptions{Driver: "bridge"}); err != nil {
		// Another stack may have created it in the meantime.
		if strings.Contains(err.Error(), "already exists") {
			return nil
		}
		return fmt.Errorf("create network %s: %w", NetworkName, err)
	}
	return nil
}

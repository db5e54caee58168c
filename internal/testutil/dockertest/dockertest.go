// Package dockertest runs throwaway service containers for integration tests.
// Each Container is started at most once per test binary.
package dockertest

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"sort"
	"strings"
	"sync"
	"time"
)

// ErrNoDocker is returned when the docker CLI is not on PATH.
var ErrNoDocker = errors.New("dockertest: docker executable not found")

// Container describes a single-port service container.
type Container struct {
	Name          string
	Image         string
	HostPort      string
	ContainerPort string
	Env           map[string]string
	// Ready is polled until it returns nil or ReadyTimeout elapses.
	Ready        func(ctx context.Context, addr string) error
	ReadyTimeout time.Duration

	mu      sync.Mutex
	started bool
	err     error
}

// Addr returns host:port of the published service port.
func (c *Container) Addr() string { return "127.0.0.1:" + c.HostPort }

// Start replaces any stale container with the same name and waits for Ready.
// The outcome of the first call is returned to every later caller until Stop.
func (c *Container) Start() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.started {
		return c.err
	}
	c.started = true
	c.err = c.start()
	return c.err
}

// Stop removes the container. Stopping a container that is not running is not an error.
func (c *Container) Stop() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if errors.Is(c.err, ErrNoDocker) {
		return c.err
	}
	c.started, c.err = false, nil
	return c.stop()
}

func (c *Container) start() error {
	if _, err := exec.LookPath("docker"); err != nil {
		return fmt.Errorf("%w: %v", ErrNoDocker, err)
	}
	_ = c.stop()
	if err := docker(c.runArgs()...); err != nil {
		return err
	}
	if c.Ready == nil {
		return nil
	}
	return c.waitReady()
}

func (c *Container) runArgs() []string {
	args := []string{"run", "-d", "--rm", "--name", c.Name, "-p", c.HostPort + ":" + c.ContainerPort}
	keys := make([]string, 0, len(c.Env))
	for k := range c.Env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		args = append(args, "-e", k+"="+c.Env[k])
	}
	return append(args, c.Image)
}

func (c *Container) waitReady() error {
	timeout := c.ReadyTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	deadline := time.Now().Add(timeout)
	var last error
	for time.Now().Before(deadline) {
		ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
		last = c.Ready(ctx, c.Addr())
		cancel()
		if last == nil {
			return nil
		}
		time.Sleep(200 * time.Millisecond)
	}
	return fmt.Errorf("dockertest: %s not ready after %s: %v", c.Name, timeout, last)
}

func (c *Container) stop() error {
	output, err := exec.Command("docker", "stop", c.Name).CombinedOutput()
	if err != nil && !strings.Contains(string(output), "No such container") {
		return fmt.Errorf("docker stop %s: %w: %s", c.Name, err, output)
	}
	return nil
}

func docker(args ...string) error {
	output, err := exec.Command("docker", args...).CombinedOutput()
	if err != nil {
		return fmt.Errorf("docker %s: %w: %s", args[0], err, output)
	}
	return nil
}

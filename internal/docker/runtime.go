package docker

import (
	"context"
	"errors"
	"fmt"
	"strings"

	cerrdefs "github.com/containerd/errdefs"
	"github.com/distribution/reference"
	"github.com/moby/moby/api/types/container"
	"github.com/moby/moby/client"
)

var (
	ErrContainerNotFound = errors.New("container not found")
	ErrRestartFailed     = errors.New("restart failed")
)

// DefaultStopTimeout is the grace period, in seconds, before the engine
// kills a container that ignores the stop signal during a restart.
const DefaultStopTimeout = 10

type Info struct {
	ID       string
	Name     string
	Image    string
	ImageTag string
	Status   string
	Health   string
}

type Runtime struct {
	cli         *client.Client
	stopTimeout int
}

func New(host string) (*Runtime, error) {
	cli, err := client.NewClientWithOpts(client.WithHost(host), client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, err
	}
	return &Runtime{cli: cli, stopTimeout: DefaultStopTimeout}, nil
}

func (r *Runtime) Close() error {
	return r.cli.Close()
}

func (r *Runtime) Inspect(ctx context.Context, name string) (Info, error) {
	res, err := r.cli.ContainerInspect(ctx, name, client.ContainerInspectOptions{})
	if err != nil {
		if cerrdefs.IsNotFound(err) {
			return Info{}, fmt.Errorf("%w: %s", ErrContainerNotFound, name)
		}
		return Info{}, fmt.Errorf("inspect %s: %w", name, err)
	}
	return toInfo(res.Container), nil
}

// Exists reports false without error when the engine does not know name.
// An unreachable engine is an error.
func (r *Runtime) Exists(ctx context.Context, name string) (bool, error) {
	_, err := r.Inspect(ctx, name)
	if errors.Is(err, ErrContainerNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (r *Runtime) Restart(ctx context.Context, name string) error {
	timeout := r.stopTimeout
	if _, err := r.cli.ContainerRestart(ctx, name, client.ContainerRestartOptions{Timeout: &timeout}); err != nil {
		if cerrdefs.IsNotFound(err) {
			return fmt.Errorf("%w: %s", ErrContainerNotFound, name)
		}
		return fmt.Errorf("%w: %s: %v", ErrRestartFailed, name, err)
	}
	return nil
}

func toInfo(inspect container.InspectResponse) Info {
	info := Info{
		ID:     inspect.ID,
		Name:   strings.TrimPrefix(inspect.Name, "/"),
		Status: "unknown",
	}
	if inspect.Config != nil {
		info.Image, info.ImageTag = parseImage(inspect.Config.Image)
	}
	if inspect.State != nil {
		info.Status = string(inspect.State.Status)
		if inspect.State.Health != nil {
			info.Health = string(inspect.State.Health.Status)
		}
	}
	return info
}

func parseImage(image string) (string, string) {
	if image == "" {
		return "", ""
	}
	ref, err := reference.ParseNormalizedNamed(image)
	if err != nil {
		return image, ""
	}
	ref = reference.TagNameOnly(ref)
	name := ref.Name()
	tag := ""
	if tagged, ok := ref.(reference.NamedTagged); ok {
		tag = tagged.Tag()
	}
	return name, tag
}

package dockerbridge

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/go-connections/nat"
	"golang.org/x/crypto/ssh"
)

// ContainerInfo is the subset of `docker ps -a` fields the broker's container
// context cache needs.
type ContainerInfo struct {
	Name   string
	Image  string
	State  string
	Status string
	Ports  string
}

// ListContainers queries the bridged Docker Engine API for every container
// (running or not) on connID's remote host, formatting ports the same way
// the Docker CLI does via go-connections/nat. Callers should treat any error
// as "fast path unavailable" and fall back to a shell `docker ps -a` parse.
func (p *Pool) ListContainers(ctx context.Context, connID string, sshClient *ssh.Client) ([]ContainerInfo, error) {
	cli, err := p.Client(connID, sshClient)
	if err != nil {
		return nil, err
	}
	return listContainersWithClient(ctx, cli)
}

func listContainersWithClient(ctx context.Context, cli interface {
	ContainerList(ctx context.Context, options container.ListOptions) ([]container.Summary, error)
}) ([]ContainerInfo, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	summaries, err := cli.ContainerList(ctx, container.ListOptions{All: true})
	if err != nil {
		return nil, fmt.Errorf("list containers: %w", err)
	}

	out := make([]ContainerInfo, 0, len(summaries))
	for _, s := range summaries {
		name := strings.TrimPrefix(firstOrEmpty(s.Names), "/")
		out = append(out, ContainerInfo{
			Name:   name,
			Image:  s.Image,
			State:  s.State,
			Status: s.Status,
			Ports:  formatPorts(s.Ports),
		})
	}
	return out, nil
}

func firstOrEmpty(names []string) string {
	if len(names) == 0 {
		return ""
	}
	return names[0]
}

// formatPorts renders each published port binding as
// "hostIP:hostPort->port/proto", keyed through a go-connections/nat PortMap.
// Unpublished ports are skipped and port ranges are not collapsed.
func formatPorts(ports []container.Port) string {
	portMap := make(nat.PortMap)
	for _, p := range ports {
		np, err := nat.NewPort(p.Type, fmt.Sprintf("%d", p.PrivatePort))
		if err != nil {
			continue
		}
		if p.PublicPort == 0 {
			continue
		}
		portMap[np] = append(portMap[np], nat.PortBinding{
			HostIP:   p.IP,
			HostPort: fmt.Sprintf("%d", p.PublicPort),
		})
	}
	if len(portMap) == 0 {
		return ""
	}
	var parts []string
	for np, bindings := range portMap {
		for _, b := range bindings {
			parts = append(parts, fmt.Sprintf("%s:%s->%s", b.HostIP, b.HostPort, np))
		}
	}
	return strings.Join(parts, ", ")
}

// Package virsh is the hypervisor adapter: it shells out to virsh to list
// domains, checkpoints and disks, and to delete checkpoint metadata.
package virsh

import (
	"bufio"
	"context"
	"fmt"
	"strings"

	"github.com/blackwell-systems/vmsnap/internal/command"
)

// DefaultBinary is the virsh executable name.
const DefaultBinary = "virsh"

// Client talks to libvirt through virsh.
type Client struct {
	run    command.Runner
	binary string
	// ConnectURI is passed as -c when set, e.g. qemu:///system.
	ConnectURI string
}

// New returns a Client. An empty binary means DefaultBinary.
func New(run command.Runner, binary string) *Client {
	if binary == "" {
		binary = DefaultBinary
	}
	return &Client{run: run, binary: binary}
}

func (c *Client) output(ctx context.Context, args ...string) (string, error) {
	if c.ConnectURI != "" {
		args = append([]string{"-c", c.ConnectURI}, args...)
	}
	out, err := c.run.Output(ctx, c.binary, args...)
	if err != nil {
		return "", err
	}
	return string(out), nil
}

// ListDomains returns every defined domain, running or not.
func (c *Client) ListDomains(ctx context.Context) ([]string, error) {
	out, err := c.output(ctx, "list", "--all", "--name")
	if err != nil {
		return nil, fmt.Errorf("failed to list domains: %w", err)
	}
	return parseNames(out), nil
}

// DomainExists reports whether domain is defined.
func (c *Client) DomainExists(ctx context.Context, domain string) (bool, error) {
	domains, err := c.ListDomains(ctx)
	if err != nil {
		return false, err
	}
	for _, d := range domains {
		if d == domain {
			return true, nil
		}
	}
	return false, nil
}

// ListCheckpoints returns the checkpoint names of domain.
func (c *Client) ListCheckpoints(ctx context.Context, domain string) ([]string, error) {
	out, err := c.output(ctx, "checkpoint-list", domain, "--name")
	if err != nil {
		return nil, fmt.Errorf("failed to list checkpoints for %s: %w", domain, err)
	}
	return parseNames(out), nil
}

// DeleteCheckpoint removes checkpoint id's metadata from domain. The disk
// bitmaps are left for the disk-image adapter.
func (c *Client) DeleteCheckpoint(ctx context.Context, domain, id string) error {
	if _, err := c.output(ctx, "checkpoint-delete", domain, id, "--metadata"); err != nil {
		return fmt.Errorf("failed to delete checkpoint %s of %s: %w", id, domain, err)
	}
	return nil
}

// ListDisks returns file-backed disks of domain keyed by target alias.
// CD-ROMs, network and block-device disks are skipped.
func (c *Client) ListDisks(ctx context.Context, domain string) (map[string]string, error) {
	out, err := c.output(ctx, "domblklist", domain, "--details")
	if err != nil {
		return nil, fmt.Errorf("failed to list disks for %s: %w", domain, err)
	}
	return parseDiskList(out), nil
}

// parseNames splits `--name` style output into non-empty trimmed lines.
func parseNames(out string) []string {
	names := []string{}
	scanner := bufio.NewScanner(strings.NewReader(out))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line != "" {
			names = append(names, line)
		}
	}
	return names
}

// parseDiskList parses `virsh domblklist --details`:
//
//	 Type   Device   Target   Source
//	------------------------------------------------
//	 file   disk     vda      /var/lib/libvirt/images/vm1.qcow2
//	 file   cdrom    sda      -
func parseDiskList(out string) map[string]string {
	disks := make(map[string]string)
	scanner := bufio.NewScanner(strings.NewReader(out))
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) < 4 {
			continue
		}
		if fields[0] != "file" || fields[1] != "disk" {
			continue
		}
		// Paths may contain spaces.
		source := strings.Join(fields[3:], " ")
		if source == "-" {
			continue
		}
		disks[fields[2]] = source
	}
	return disks
}

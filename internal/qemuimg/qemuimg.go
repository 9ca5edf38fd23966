// Package qemuimg is the disk-image adapter: it lists and removes the
// persistent dirty bitmaps stored in qcow2 images.
package qemuimg

import (
	"context"
	"fmt"

	"github.com/goccy/go-json"

	"github.com/blackwell-systems/vmsnap/internal/command"
)

// DefaultBinary is the qemu-img executable name.
const DefaultBinary = "qemu-img"

// imageInfo is the part of `qemu-img info --output=json` we read.
type imageInfo struct {
	Filename       string `json:"filename"`
	Format         string `json:"format"`
	FormatSpecific struct {
		Type string `json:"type"`
		Data struct {
			Bitmaps []bitmapInfo `json:"bitmaps"`
		} `json:"data"`
	} `json:"format-specific"`
}

type bitmapInfo struct {
	Name        string   `json:"name"`
	Granularity int64    `json:"granularity"`
	Flags       []string `json:"flags"`
}

// Client wraps qemu-img.
type Client struct {
	run    command.Runner
	binary string
}

// New returns a Client. An empty binary means DefaultBinary.
func New(run command.Runner, binary string) *Client {
	if binary == "" {
		binary = DefaultBinary
	}
	return &Client{run: run, binary: binary}
}

// ListBitmaps returns the bitmap names stored in the image at path.
// --force-share lets it read images attached to a running domain.
func (c *Client) ListBitmaps(ctx context.Context, path string) ([]string, error) {
	out, err := c.run.Output(ctx, c.binary, "info", "--force-share", "--output=json", path)
	if err != nil {
		return nil, fmt.Errorf("failed to inspect %s: %w", path, err)
	}
	return parseBitmaps(out)
}

// RemoveBitmap deletes bitmap id from the image at path.
func (c *Client) RemoveBitmap(ctx context.Context, path, id string) error {
	if _, err := c.run.Output(ctx, c.binary, "bitmap", "--remove", path, id); err != nil {
		return fmt.Errorf("failed to remove bitmap %s from %s: %w", id, path, err)
	}
	return nil
}

func parseBitmaps(data []byte) ([]string, error) {
	var info imageInfo
	if err := json.Unmarshal(data, &info); err != nil {
		return nil, fmt.Errorf("failed to parse qemu-img info output: %w", err)
	}

	names := make([]string, 0, len(info.FormatSpecific.Data.Bitmaps))
	for _, b := range info.FormatSpecific.Data.Bitmaps {
		names = append(names, b.Name)
	}
	return names, nil
}

// Package agent implements driver.AgentClient over HTTP/JSON against the
// in-guest data-copy agent running on a gateway VM (spec.md §6 "Agent").
// Grounded on the same narrow-client, WithClient-for-tests shape as
// driver/aws, driver/azure, and driver/gcp, built on net/http directly since
// the agent's wire protocol is this engine's own, not a third-party SDK's.
package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
)

// Client implements driver.AgentClient by issuing JSON requests against a
// gateway's RPC listener (spec.md §9 "driver.AgentClient over net/http").
type Client struct {
	httpClient *http.Client
}

// NewClient builds a Client using httpClient, or http.DefaultClient if nil.
func NewClient(httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{httpClient: httpClient}
}

func (c *Client) getJSON(ctx context.Context, rawURL string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("agent: GET %s: status %d", rawURL, resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func (c *Client) postJSON(ctx context.Context, rawURL string, body, out any) error {
	data, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, rawURL, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("agent: POST %s: status %d", rawURL, resp.StatusCode)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// GetDiskName asks the agent to resolve deviceHint (a volume id the caller
// just attached) to the /dev entry it appeared as (spec.md §4.4.3 (a)
// "detect the new block device name by set-difference on /dev").
func (c *Client) GetDiskName(ctx context.Context, gwURL, deviceHint string) (string, error) {
	var out struct {
		DiskName string `json:"disk_name"`
	}
	u := gwURL + "/disk-name?" + url.Values{"hint": {deviceHint}}.Encode()
	if err := c.getJSON(ctx, u, &out); err != nil {
		return "", err
	}
	return out.DiskName, nil
}

// GetDiskFormat queries the filesystem format of diskName.
func (c *Client) GetDiskFormat(ctx context.Context, gwURL, diskName string) (string, error) {
	var out struct {
		Format string `json:"format"`
	}
	u := gwURL + "/disk-format?" + url.Values{"disk": {diskName}}.Encode()
	if err := c.getJSON(ctx, u, &out); err != nil {
		return "", err
	}
	return out.Format, nil
}

// GetDiskMountPoint queries where diskName is currently mounted, "" if unmounted.
func (c *Client) GetDiskMountPoint(ctx context.Context, gwURL, diskName string) (string, error) {
	var out struct {
		MountPoint string `json:"mount_point"`
	}
	u := gwURL + "/disk-mount-point?" + url.Values{"disk": {diskName}}.Encode()
	if err := c.getJSON(ctx, u, &out); err != nil {
		return "", err
	}
	return out.MountPoint, nil
}

// ForceMountDisk mounts diskName at mountPoint (spec.md §4.4.3 (a) "force-mount if needed").
func (c *Client) ForceMountDisk(ctx context.Context, gwURL, diskName, mountPoint string) error {
	body := map[string]string{"disk": diskName, "mount_point": mountPoint}
	return c.postJSON(ctx, gwURL+"/force-mount", body, nil)
}

// CloneVolume starts a byte-for-byte copy from srcDevice to dstDevice and
// returns the agent's transfer id to poll (spec.md §4.4.3).
func (c *Client) CloneVolume(ctx context.Context, gwURL, srcDevice, dstDevice string) (string, error) {
	var out struct {
		TransferID string `json:"transfer_id"`
	}
	body := map[string]string{"src_device": srcDevice, "dst_device": dstDevice}
	if err := c.postJSON(ctx, gwURL+"/clone-volume", body, &out); err != nil {
		return "", err
	}
	return out.TransferID, nil
}

// GetDataTransStatus polls a transfer's progress.
func (c *Client) GetDataTransStatus(ctx context.Context, gwURL, transferID string) (string, int, error) {
	var out struct {
		Status   string `json:"status"`
		Progress int    `json:"progress"`
	}
	u := gwURL + "/transfer-status?" + url.Values{"id": {transferID}}.Encode()
	if err := c.getJSON(ctx, u, &out); err != nil {
		return "", 0, err
	}
	return out.Status, out.Progress, nil
}

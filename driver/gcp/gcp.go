//go:build gcp

// Package gcp adapts driver.CloudDriver onto the Google Compute Engine
// REST API, grounded on the same narrow-client/WithClient shape as
// driver/aws and driver/azure, built over golang.org/x/oauth2's token
// source rather than a resource-specific SDK package since only
// golang.org/x/oauth2 is part of this module's wired dependency surface
// (see DESIGN.md). Built under the "gcp" tag.
package gcp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"

	"github.com/Hybrid-Cloud/conveyor/driver"
	"github.com/Hybrid-Cloud/conveyor/resourcemodel"
)

const computeEndpoint = "https://compute.googleapis.com/compute/v1"

// ComputeClient is the subset of the Compute Engine REST surface the
// Driver calls, narrowed so tests can inject a fake HTTP round-tripper.
type ComputeClient interface {
	Get(ctx context.Context, path string) (map[string]any, error)
	Post(ctx context.Context, path string, body map[string]any) (map[string]any, error)
	Delete(ctx context.Context, path string) error
}

type restClient struct {
	httpClient *http.Client
	project    string
}

// NewDriver builds a Driver authenticated via the default application
// credentials chain, mirroring the teacher's lazy-client-construction
// idiom.
func NewDriver(ctx context.Context, project string) (*Driver, error) {
	creds, err := google.FindDefaultCredentials(ctx, "https://www.googleapis.com/auth/compute")
	if err != nil {
		return nil, fmt.Errorf("gcp driver: find default credentials: %w", err)
	}
	httpClient := oauth2.NewClient(ctx, creds.TokenSource)
	return &Driver{client: &restClient{httpClient: httpClient, project: project}}, nil
}

// NewDriverWithClient builds a Driver around an already-configured client,
// for tests.
func NewDriverWithClient(client ComputeClient) *Driver {
	return &Driver{client: client}
}

func (c *restClient) do(ctx context.Context, method, path string, body map[string]any) (map[string]any, error) {
	var reqBody []byte
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("gcp: marshal request body: %w", err)
		}
		reqBody = b
	}
	url := fmt.Sprintf("%s/projects/%s/%s", computeEndpoint, c.project, path)
	req, err := http.NewRequestWithContext(ctx, method, url, bytes.NewReader(reqBody))
	if err != nil {
		return nil, fmt.Errorf("gcp: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("gcp: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("gcp: %s %s returned status %d", method, path, resp.StatusCode)
	}
	if resp.StatusCode == http.StatusNoContent {
		return nil, nil
	}
	var out map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("gcp: decode response: %w", err)
	}
	return out, nil
}

func (c *restClient) Get(ctx context.Context, path string) (map[string]any, error) {
	return c.do(ctx, http.MethodGet, path, nil)
}

func (c *restClient) Post(ctx context.Context, path string, body map[string]any) (map[string]any, error) {
	return c.do(ctx, http.MethodPost, path, body)
}

func (c *restClient) Delete(ctx context.Context, path string) error {
	_, err := c.do(ctx, http.MethodDelete, path, nil)
	return err
}

// Driver adapts Compute Engine onto driver.CloudDriver. Stack-engine
// methods are not implemented: Compute Engine has no analogue of the
// Heat-style stack engine (Deployment Manager would be the closest
// equivalent, but is not part of this module's wired dependency surface);
// see DESIGN.md.
type Driver struct {
	client ComputeClient
}

func (d *Driver) GetServer(ctx context.Context, id string) (*driver.LiveResource, error) {
	body, err := d.client.Get(ctx, fmt.Sprintf("zones/-/instances/%s", id))
	if err != nil {
		return nil, fmt.Errorf("gcp: get instance %q: %w", id, err)
	}
	return &driver.LiveResource{ID: id, Type: resourcemodel.TypeServer, Properties: body}, nil
}

func (d *Driver) GetFlavor(ctx context.Context, id string) (*driver.LiveResource, error) {
	body, err := d.client.Get(ctx, fmt.Sprintf("zones/-/machineTypes/%s", id))
	if err != nil {
		return nil, fmt.Errorf("gcp: get machine type %q: %w", id, err)
	}
	return &driver.LiveResource{ID: id, Type: resourcemodel.TypeFlavor, Properties: body}, nil
}

func (d *Driver) GetKeyPair(ctx context.Context, id string) (*driver.LiveResource, error) {
	return &driver.LiveResource{ID: id, Type: resourcemodel.TypeKeyPair, Properties: map[string]any{"fingerprint": id}}, nil
}

func (d *Driver) ResetServerState(ctx context.Context, id, state string) error {
	action := "reset"
	if state == "stopped" {
		action = "stop"
	}
	_, err := d.client.Post(ctx, fmt.Sprintf("zones/-/instances/%s/%s", id, action), nil)
	if err != nil {
		return fmt.Errorf("gcp: %s instance %q: %w", action, id, err)
	}
	return nil
}

func (d *Driver) AttachVolume(ctx context.Context, serverID, volumeID, device string) error {
	_, err := d.client.Post(ctx, fmt.Sprintf("zones/-/instances/%s/attachDisk", serverID), map[string]any{
		"source":     volumeID,
		"deviceName": device,
	})
	if err != nil {
		return fmt.Errorf("gcp: attach disk %q to %q: %w", volumeID, serverID, err)
	}
	return nil
}

func (d *Driver) InterfaceAttach(ctx context.Context, serverID, portID string) error {
	return fmt.Errorf("gcp: network interfaces cannot be hot-attached to a running instance (server=%s, nic=%s)", serverID, portID)
}

func (d *Driver) InterfaceDetach(ctx context.Context, serverID, portID string) error {
	return fmt.Errorf("gcp: network interfaces cannot be hot-detached from a running instance (server=%s, nic=%s)", serverID, portID)
}

func (d *Driver) DeleteServer(ctx context.Context, id string) error {
	if err := d.client.Delete(ctx, fmt.Sprintf("zones/-/instances/%s", id)); err != nil {
		return fmt.Errorf("gcp: delete instance %q: %w", id, err)
	}
	return nil
}

func (d *Driver) GetVolume(ctx context.Context, id string) (*driver.LiveResource, error) {
	body, err := d.client.Get(ctx, fmt.Sprintf("zones/-/disks/%s", id))
	if err != nil {
		return nil, fmt.Errorf("gcp: get disk %q: %w", id, err)
	}
	return &driver.LiveResource{ID: id, Type: resourcemodel.TypeVolume, Properties: body}, nil
}

func (d *Driver) GetVolumeType(ctx context.Context, id string) (*driver.LiveResource, error) {
	return &driver.LiveResource{ID: id, Type: resourcemodel.TypeVolumeType, Properties: map[string]any{"name": id}}, nil
}

func (d *Driver) GetQosSpecs(ctx context.Context, id string) (*driver.LiveResource, error) {
	return nil, fmt.Errorf("gcp: persistent disks have no QoS-specs resource (id=%s)", id)
}

func (d *Driver) SetVolumeShareable(ctx context.Context, id string, shareable bool) error {
	return fmt.Errorf("gcp: persistent disk multi-attach cannot be toggled post-create (id=%s)", id)
}

func (d *Driver) SetVolumeBootable(ctx context.Context, id string, bootable bool) error {
	return nil
}

func (d *Driver) DeleteVolume(ctx context.Context, id string) error {
	if err := d.client.Delete(ctx, fmt.Sprintf("zones/-/disks/%s", id)); err != nil {
		return fmt.Errorf("gcp: delete disk %q: %w", id, err)
	}
	return nil
}

func (d *Driver) ResetVolumeState(ctx context.Context, id, state string) error {
	return fmt.Errorf("gcp: reset-state is not a supported persistent disk operation (id=%s, state=%s)", id, state)
}

func (d *Driver) GetNetwork(ctx context.Context, id string) (*driver.LiveResource, error) {
	body, err := d.client.Get(ctx, fmt.Sprintf("global/networks/%s", id))
	if err != nil {
		return nil, fmt.Errorf("gcp: get network %q: %w", id, err)
	}
	return &driver.LiveResource{ID: id, Type: resourcemodel.TypeNetwork, Properties: body}, nil
}

func (d *Driver) GetSubnet(ctx context.Context, id string) (*driver.LiveResource, error) {
	body, err := d.client.Get(ctx, fmt.Sprintf("regions/-/subnetworks/%s", id))
	if err != nil {
		return nil, fmt.Errorf("gcp: get subnetwork %q: %w", id, err)
	}
	return &driver.LiveResource{ID: id, Type: resourcemodel.TypeSubnet, Properties: body}, nil
}

func (d *Driver) GetPort(ctx context.Context, id string) (*driver.LiveResource, error) {
	return &driver.LiveResource{ID: id, Type: resourcemodel.TypePort, Properties: map[string]any{"networkInterfaceName": id}}, nil
}

func (d *Driver) GetRouter(ctx context.Context, id string) (*driver.LiveResource, error) {
	body, err := d.client.Get(ctx, fmt.Sprintf("regions/-/routers/%s", id))
	if err != nil {
		return nil, fmt.Errorf("gcp: get router %q: %w", id, err)
	}
	return &driver.LiveResource{ID: id, Type: resourcemodel.TypeRouter, Properties: body}, nil
}

func (d *Driver) GetSecurityGroup(ctx context.Context, id string) (*driver.LiveResource, error) {
	body, err := d.client.Get(ctx, fmt.Sprintf("global/firewalls/%s", id))
	if err != nil {
		return nil, fmt.Errorf("gcp: get firewall %q: %w", id, err)
	}
	return &driver.LiveResource{ID: id, Type: resourcemodel.TypeSecurityGroup, Properties: body}, nil
}

func (d *Driver) GetFloatingIP(ctx context.Context, id string) (*driver.LiveResource, error) {
	body, err := d.client.Get(ctx, fmt.Sprintf("regions/-/addresses/%s", id))
	if err != nil {
		return nil, fmt.Errorf("gcp: get address %q: %w", id, err)
	}
	return &driver.LiveResource{ID: id, Type: resourcemodel.TypeFloatingIP, Properties: body}, nil
}

func (d *Driver) PortList(ctx context.Context, filters map[string]string) ([]driver.LiveResource, error) {
	return nil, fmt.Errorf("gcp: network interfaces are not independently listable resources")
}

func (d *Driver) CreatePort(ctx context.Context, networkID string, properties map[string]any) (*driver.LiveResource, error) {
	return nil, fmt.Errorf("gcp: network interfaces can only be created at instance-creation time (network=%s)", networkID)
}

func (d *Driver) DeletePort(ctx context.Context, id string) error {
	return fmt.Errorf("gcp: network interfaces can only be removed by deleting the owning instance (id=%s)", id)
}

func (d *Driver) AssociateFloatingIP(ctx context.Context, floatingIPID, portID string) error {
	_, err := d.client.Post(ctx, fmt.Sprintf("zones/-/instances/%s/addAccessConfig", portID), map[string]any{
		"natIP": floatingIPID,
	})
	if err != nil {
		return fmt.Errorf("gcp: associate address %q with %q: %w", floatingIPID, portID, err)
	}
	return nil
}

func (d *Driver) DisassociateFloatingIP(ctx context.Context, floatingIPID string) error {
	return fmt.Errorf("gcp: disassociating an address requires deleting its access config by instance/interface, not by address id %q", floatingIPID)
}

func (d *Driver) CreateStack(ctx context.Context, name string, template map[string]any, files map[string]string, disableRollback bool) (string, error) {
	return "", fmt.Errorf("gcp: deployment submission is not implemented by this driver")
}

func (d *Driver) GetStack(ctx context.Context, stackID string) (string, string, error) {
	return "", "", fmt.Errorf("gcp: deployment submission is not implemented by this driver")
}

func (d *Driver) DeleteStack(ctx context.Context, stackID string) error {
	return fmt.Errorf("gcp: deployment submission is not implemented by this driver")
}

func (d *Driver) GetStackResource(ctx context.Context, stackID, resourceName string) (*driver.LiveResource, error) {
	return nil, fmt.Errorf("gcp: deployment submission is not implemented by this driver")
}

func (d *Driver) GetResourceType(ctx context.Context, typeName string) (map[string]any, error) {
	return nil, fmt.Errorf("gcp: deployment submission is not implemented by this driver")
}

func (d *Driver) EventsList(ctx context.Context, stackID string) ([]driver.StackEvent, error) {
	return nil, fmt.Errorf("gcp: deployment submission is not implemented by this driver")
}

var _ driver.ComputeDriver = (*Driver)(nil)
var _ driver.BlockDriver = (*Driver)(nil)
var _ driver.NetworkDriver = (*Driver)(nil)
var _ driver.StackDriver = (*Driver)(nil)

//go:build azure

// Package azure adapts driver.CloudDriver onto Azure Resource Manager,
// grounded on the teacher's aws driver shape (narrow client interface,
// WithClient constructor for tests) but built on azcore's generic REST
// pipeline rather than a resource-specific SDK package, since only
// azcore itself is part of this module's wired dependency surface (see
// DESIGN.md). Built under the "azure" tag, mirroring the "aws" tag's
// per-cloud build isolation.
package azure

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/runtime"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/streaming"

	"github.com/Hybrid-Cloud/conveyor/driver"
	"github.com/Hybrid-Cloud/conveyor/resourcemodel"
)

const armEndpoint = "https://management.azure.com"

// ARMClient is the subset of azcore's generic pipeline the Driver calls,
// narrowed so tests can inject a fake transport without a live credential.
type ARMClient interface {
	Get(ctx context.Context, path string, apiVersion string) (map[string]any, error)
	Post(ctx context.Context, path string, apiVersion string, body map[string]any) (map[string]any, error)
	Delete(ctx context.Context, path string, apiVersion string) error
}

type pipelineClient struct {
	pipeline runtime.Pipeline
}

// NewDriver builds a Driver backed by a live azcore pipeline authenticated
// with cred, mirroring the teacher's lazy-client-construction-from-config
// idiom.
func NewDriver(cred azcore.TokenCredential) (*Driver, error) {
	authPolicy := runtime.NewBearerTokenPolicy(cred, []string{"https://management.azure.com/.default"}, nil)
	pipeline := runtime.NewPipeline("conveyor-engine", "v1", runtime.PipelineOptions{
		PerRetry: []policy.Policy{authPolicy},
	}, nil)
	return &Driver{client: &pipelineClient{pipeline: pipeline}}, nil
}

// NewDriverWithClient builds a Driver around an already-configured client,
// for tests.
func NewDriverWithClient(client ARMClient) *Driver {
	return &Driver{client: client}
}

func (p *pipelineClient) do(ctx context.Context, method, path, apiVersion string, body map[string]any) (map[string]any, error) {
	var reqBody []byte
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("azure: marshal request body: %w", err)
		}
		reqBody = b
	}
	url := fmt.Sprintf("%s%s?api-version=%s", armEndpoint, path, apiVersion)
	req, err := runtime.NewRequest(ctx, method, url)
	if err != nil {
		return nil, fmt.Errorf("azure: build request: %w", err)
	}
	if reqBody != nil {
		if err := req.SetBody(streaming.NopCloser(bytes.NewReader(reqBody)), "application/json"); err != nil {
			return nil, fmt.Errorf("azure: set request body: %w", err)
		}
	}
	resp, err := p.pipeline.Do(req)
	if err != nil {
		return nil, fmt.Errorf("azure: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("azure: %s %s returned status %d", method, path, resp.StatusCode)
	}
	if resp.StatusCode == http.StatusNoContent {
		return nil, nil
	}
	var out map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("azure: decode response: %w", err)
	}
	return out, nil
}

func (p *pipelineClient) Get(ctx context.Context, path, apiVersion string) (map[string]any, error) {
	return p.do(ctx, http.MethodGet, path, apiVersion, nil)
}

func (p *pipelineClient) Post(ctx context.Context, path, apiVersion string, body map[string]any) (map[string]any, error) {
	return p.do(ctx, http.MethodPost, path, apiVersion, body)
}

func (p *pipelineClient) Delete(ctx context.Context, path, apiVersion string) error {
	_, err := p.do(ctx, http.MethodDelete, path, apiVersion, nil)
	return err
}

// Driver adapts the Azure Resource Manager REST surface onto
// driver.CloudDriver. Stack-engine methods are not implemented: ARM has no
// analogue of the Heat-style stack engine (ARM templates are declarative
// PUTs with no incremental events_list); see DESIGN.md.
type Driver struct {
	client ARMClient
}

func (d *Driver) GetServer(ctx context.Context, id string) (*driver.LiveResource, error) {
	body, err := d.client.Get(ctx, id, "2023-09-01")
	if err != nil {
		return nil, fmt.Errorf("azure: get virtual machine %q: %w", id, err)
	}
	return &driver.LiveResource{ID: id, Type: resourcemodel.TypeServer, Properties: flattenProperties(body)}, nil
}

func (d *Driver) GetFlavor(ctx context.Context, id string) (*driver.LiveResource, error) {
	return &driver.LiveResource{ID: id, Type: resourcemodel.TypeFlavor, Properties: map[string]any{"name": id}}, nil
}

func (d *Driver) GetKeyPair(ctx context.Context, id string) (*driver.LiveResource, error) {
	body, err := d.client.Get(ctx, id, "2023-09-01")
	if err != nil {
		return nil, fmt.Errorf("azure: get ssh public key %q: %w", id, err)
	}
	return &driver.LiveResource{ID: id, Type: resourcemodel.TypeKeyPair, Properties: flattenProperties(body)}, nil
}

func (d *Driver) ResetServerState(ctx context.Context, id, state string) error {
	action := "restart"
	if state == "stopped" {
		action = "powerOff"
	}
	_, err := d.client.Post(ctx, fmt.Sprintf("%s/%s", id, action), "2023-09-01", nil)
	if err != nil {
		return fmt.Errorf("azure: %s virtual machine %q: %w", action, id, err)
	}
	return nil
}

func (d *Driver) AttachVolume(ctx context.Context, serverID, volumeID, device string) error {
	_, err := d.client.Post(ctx, fmt.Sprintf("%s/attachDisk", serverID), "2023-09-01", map[string]any{
		"diskId": volumeID,
		"lun":    device,
	})
	if err != nil {
		return fmt.Errorf("azure: attach disk %q to %q: %w", volumeID, serverID, err)
	}
	return nil
}

func (d *Driver) InterfaceAttach(ctx context.Context, serverID, portID string) error {
	_, err := d.client.Post(ctx, fmt.Sprintf("%s/attachNic", serverID), "2023-09-01", map[string]any{"nicId": portID})
	if err != nil {
		return fmt.Errorf("azure: attach nic %q to %q: %w", portID, serverID, err)
	}
	return nil
}

func (d *Driver) InterfaceDetach(ctx context.Context, serverID, portID string) error {
	_, err := d.client.Post(ctx, fmt.Sprintf("%s/detachNic", serverID), "2023-09-01", map[string]any{"nicId": portID})
	if err != nil {
		return fmt.Errorf("azure: detach nic %q from %q: %w", portID, serverID, err)
	}
	return nil
}

func (d *Driver) DeleteServer(ctx context.Context, id string) error {
	if err := d.client.Delete(ctx, id, "2023-09-01"); err != nil {
		return fmt.Errorf("azure: delete virtual machine %q: %w", id, err)
	}
	return nil
}

func (d *Driver) GetVolume(ctx context.Context, id string) (*driver.LiveResource, error) {
	body, err := d.client.Get(ctx, id, "2023-04-02")
	if err != nil {
		return nil, fmt.Errorf("azure: get disk %q: %w", id, err)
	}
	return &driver.LiveResource{ID: id, Type: resourcemodel.TypeVolume, Properties: flattenProperties(body)}, nil
}

func (d *Driver) GetVolumeType(ctx context.Context, id string) (*driver.LiveResource, error) {
	return &driver.LiveResource{ID: id, Type: resourcemodel.TypeVolumeType, Properties: map[string]any{"sku": id}}, nil
}

func (d *Driver) GetQosSpecs(ctx context.Context, id string) (*driver.LiveResource, error) {
	return nil, fmt.Errorf("azure: disks have no QoS-specs resource distinct from sku (id=%s)", id)
}

func (d *Driver) SetVolumeShareable(ctx context.Context, id string, shareable bool) error {
	_, err := d.client.Post(ctx, id, "2023-04-02", map[string]any{
		"properties": map[string]any{"maxShares": shareableToMaxShares(shareable)},
	})
	if err != nil {
		return fmt.Errorf("azure: update disk %q shareable: %w", id, err)
	}
	return nil
}

func shareableToMaxShares(shareable bool) int {
	if shareable {
		return 2
	}
	return 1
}

func (d *Driver) SetVolumeBootable(ctx context.Context, id string, bootable bool) error {
	return nil
}

func (d *Driver) DeleteVolume(ctx context.Context, id string) error {
	if err := d.client.Delete(ctx, id, "2023-04-02"); err != nil {
		return fmt.Errorf("azure: delete disk %q: %w", id, err)
	}
	return nil
}

func (d *Driver) ResetVolumeState(ctx context.Context, id, state string) error {
	return fmt.Errorf("azure: reset-state is not a supported Managed Disk operation (id=%s, state=%s)", id, state)
}

func (d *Driver) GetNetwork(ctx context.Context, id string) (*driver.LiveResource, error) {
	body, err := d.client.Get(ctx, id, "2023-09-01")
	if err != nil {
		return nil, fmt.Errorf("azure: get virtual network %q: %w", id, err)
	}
	return &driver.LiveResource{ID: id, Type: resourcemodel.TypeNetwork, Properties: flattenProperties(body)}, nil
}

func (d *Driver) GetSubnet(ctx context.Context, id string) (*driver.LiveResource, error) {
	body, err := d.client.Get(ctx, id, "2023-09-01")
	if err != nil {
		return nil, fmt.Errorf("azure: get subnet %q: %w", id, err)
	}
	return &driver.LiveResource{ID: id, Type: resourcemodel.TypeSubnet, Properties: flattenProperties(body)}, nil
}

func (d *Driver) GetPort(ctx context.Context, id string) (*driver.LiveResource, error) {
	body, err := d.client.Get(ctx, id, "2023-09-01")
	if err != nil {
		return nil, fmt.Errorf("azure: get network interface %q: %w", id, err)
	}
	return &driver.LiveResource{ID: id, Type: resourcemodel.TypePort, Properties: flattenProperties(body)}, nil
}

func (d *Driver) GetRouter(ctx context.Context, id string) (*driver.LiveResource, error) {
	return nil, fmt.Errorf("azure: route tables are not modeled as a router resource (id=%s)", id)
}

func (d *Driver) GetSecurityGroup(ctx context.Context, id string) (*driver.LiveResource, error) {
	body, err := d.client.Get(ctx, id, "2023-09-01")
	if err != nil {
		return nil, fmt.Errorf("azure: get network security group %q: %w", id, err)
	}
	return &driver.LiveResource{ID: id, Type: resourcemodel.TypeSecurityGroup, Properties: flattenProperties(body)}, nil
}

func (d *Driver) GetFloatingIP(ctx context.Context, id string) (*driver.LiveResource, error) {
	body, err := d.client.Get(ctx, id, "2023-09-01")
	if err != nil {
		return nil, fmt.Errorf("azure: get public ip address %q: %w", id, err)
	}
	return &driver.LiveResource{ID: id, Type: resourcemodel.TypeFloatingIP, Properties: flattenProperties(body)}, nil
}

func (d *Driver) PortList(ctx context.Context, filters map[string]string) ([]driver.LiveResource, error) {
	path := "/subscriptions/networkInterfaces"
	if vnet, ok := filters["network_id"]; ok {
		path = fmt.Sprintf("%s/virtualNetworks/%s/networkInterfaces", path, vnet)
	}
	body, err := d.client.Get(ctx, path, "2023-09-01")
	if err != nil {
		return nil, fmt.Errorf("azure: list network interfaces: %w", err)
	}
	items, _ := body["value"].([]any)
	out := make([]driver.LiveResource, 0, len(items))
	for _, item := range items {
		m, ok := item.(map[string]any)
		if !ok {
			continue
		}
		id, _ := m["id"].(string)
		out = append(out, driver.LiveResource{ID: id, Type: resourcemodel.TypePort, Properties: flattenProperties(m)})
	}
	return out, nil
}

func (d *Driver) CreatePort(ctx context.Context, networkID string, properties map[string]any) (*driver.LiveResource, error) {
	body, err := d.client.Post(ctx, fmt.Sprintf("%s/networkInterfaces", networkID), "2023-09-01", map[string]any{"properties": properties})
	if err != nil {
		return nil, fmt.Errorf("azure: create network interface on %q: %w", networkID, err)
	}
	id, _ := body["id"].(string)
	return &driver.LiveResource{ID: id, Type: resourcemodel.TypePort, Properties: flattenProperties(body)}, nil
}

func (d *Driver) DeletePort(ctx context.Context, id string) error {
	if err := d.client.Delete(ctx, id, "2023-09-01"); err != nil {
		return fmt.Errorf("azure: delete network interface %q: %w", id, err)
	}
	return nil
}

func (d *Driver) AssociateFloatingIP(ctx context.Context, floatingIPID, portID string) error {
	_, err := d.client.Post(ctx, fmt.Sprintf("%s/associate", portID), "2023-09-01", map[string]any{"publicIPAddressId": floatingIPID})
	if err != nil {
		return fmt.Errorf("azure: associate public ip %q with %q: %w", floatingIPID, portID, err)
	}
	return nil
}

func (d *Driver) DisassociateFloatingIP(ctx context.Context, floatingIPID string) error {
	_, err := d.client.Post(ctx, fmt.Sprintf("%s/disassociate", floatingIPID), "2023-09-01", nil)
	if err != nil {
		return fmt.Errorf("azure: disassociate public ip %q: %w", floatingIPID, err)
	}
	return nil
}

func (d *Driver) CreateStack(ctx context.Context, name string, template map[string]any, files map[string]string, disableRollback bool) (string, error) {
	return "", fmt.Errorf("azure: ARM template deployment is not implemented by this driver")
}

func (d *Driver) GetStack(ctx context.Context, stackID string) (string, string, error) {
	return "", "", fmt.Errorf("azure: ARM template deployment is not implemented by this driver")
}

func (d *Driver) DeleteStack(ctx context.Context, stackID string) error {
	return fmt.Errorf("azure: ARM template deployment is not implemented by this driver")
}

func (d *Driver) GetStackResource(ctx context.Context, stackID, resourceName string) (*driver.LiveResource, error) {
	return nil, fmt.Errorf("azure: ARM template deployment is not implemented by this driver")
}

func (d *Driver) GetResourceType(ctx context.Context, typeName string) (map[string]any, error) {
	return nil, fmt.Errorf("azure: ARM template deployment is not implemented by this driver")
}

func (d *Driver) EventsList(ctx context.Context, stackID string) ([]driver.StackEvent, error) {
	return nil, fmt.Errorf("azure: ARM template deployment is not implemented by this driver")
}

func flattenProperties(body map[string]any) map[string]any {
	if body == nil {
		return map[string]any{}
	}
	props, ok := body["properties"].(map[string]any)
	if !ok {
		return map[string]any{}
	}
	return props
}

var _ driver.ComputeDriver = (*Driver)(nil)
var _ driver.BlockDriver = (*Driver)(nil)
var _ driver.NetworkDriver = (*Driver)(nil)
var _ driver.StackDriver = (*Driver)(nil)

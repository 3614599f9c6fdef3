package orchestrator

import (
	"context"
	"fmt"
	"time"

	"github.com/Hybrid-Cloud/conveyor/conveyorerr"
	"github.com/Hybrid-Cloud/conveyor/driver"
	"github.com/Hybrid-Cloud/conveyor/plan"
	"github.com/Hybrid-Cloud/conveyor/resourcemodel"
	"github.com/Hybrid-Cloud/conveyor/undo"
	"github.com/Hybrid-Cloud/conveyor/waiter"
)

// maxPortRecreateAttempts bounds the re-create-port retry loop (spec.md
// §4.4.4 "retry up to 150x at 1-second intervals on IP/MAC conflict").
const maxPortRecreateAttempts = 150

// portBinding is one (port, floating-ip, fixed-ip) triple enumerated off an
// original server before cut-over (spec.md §4.4.4 step 1).
type portBinding struct {
	SourceServerID string
	PortID         string
	NetworkID      string
	MACAddress     string
	FixedIP        string
	FloatingIP     string // "" if this port has no associated floating IP
}

// cutoverServer re-homes one original server's network identity onto its
// target (spec.md §4.4.4). All of the server's bindings share one undo stack
// scoped to this server: a failure rolls back only the current server's committed
// steps, not the whole migration, matching "full LIFO rollback of the
// current server; the plan status becomes ERROR" — the plan-level ERROR
// transition itself is applied by the caller once this returns an error.
func (o *Orchestrator) cutoverServer(ctx context.Context, drv driver.CloudDriver, sourceServerID, targetServerID string, planCompensations *undo.Stack) error {
	serverCompensations := undo.New(o.logger)

	bindings, err := o.enumeratePortBindings(ctx, drv, sourceServerID)
	if err != nil {
		return fmt.Errorf("enumerate port bindings: %w", err)
	}

	for _, b := range bindings {
		if err := o.cutoverBinding(ctx, drv, b, targetServerID, serverCompensations); err != nil {
			failed := serverCompensations.Rollback(ctx)
			if len(failed) > 0 {
				o.logger.Warn("cutover rollback left compensations failed", "server", sourceServerID, "failed", failed)
			}
			return fmt.Errorf("cut over port %s: %w", b.PortID, err)
		}
	}
	return nil
}

func (o *Orchestrator) cutoverBinding(ctx context.Context, drv driver.CloudDriver, b portBinding, targetServerID string, compensations *undo.Stack) error {
	if b.FloatingIP != "" {
		if err := drv.DisassociateFloatingIP(ctx, b.FloatingIP); err != nil {
			return &conveyorerr.PlanMigrateFailedError{Reason: "disassociate floating ip", Cause: err}
		}
		fip, port := b.FloatingIP, b.PortID
		compensations.Push("reassociate floating ip "+fip, func(ctx context.Context) error {
			return drv.AssociateFloatingIP(ctx, fip, port)
		})
	}

	if err := drv.InterfaceDetach(ctx, b.SourceServerID, b.PortID); err != nil {
		o.logger.Warn("interface detach before delete failed", "port", b.PortID, "error", err)
	}
	if err := drv.DeletePort(ctx, b.PortID); err != nil {
		return &conveyorerr.PlanMigrateFailedError{Reason: "delete original port", Cause: err}
	}
	origNetworkID, origMAC, origFixedIP, origServerID, origPortID := b.NetworkID, b.MACAddress, b.FixedIP, b.SourceServerID, b.PortID
	compensations.Push("recreate original port "+origPortID, func(ctx context.Context) error {
		recreated, err := drv.CreatePort(ctx, origNetworkID, bindingProperties(origMAC, origFixedIP))
		if err != nil {
			return err
		}
		return drv.InterfaceAttach(ctx, origServerID, recreated.ID)
	})

	newPort, err := o.recreatePortWithRetry(ctx, drv, b.NetworkID, b.MACAddress, b.FixedIP)
	if err != nil {
		return &conveyorerr.PlanMigrateFailedError{Reason: "recreate port after retry budget exhausted", Cause: err}
	}
	newPortID := newPort.ID
	compensations.Push("delete recreated port "+newPortID, func(ctx context.Context) error {
		return drv.DeletePort(ctx, newPortID)
	})

	if err := drv.InterfaceDetach(ctx, targetServerID, ""); err != nil {
		o.logger.Warn("detach stack-provisioned port from target failed", "server", targetServerID, "error", err)
	}
	if err := drv.InterfaceAttach(ctx, targetServerID, newPortID); err != nil {
		return &conveyorerr.PlanMigrateFailedError{Reason: "attach recreated port to target", Cause: err}
	}
	compensations.Push("detach recreated port from target "+newPortID, func(ctx context.Context) error {
		return drv.InterfaceDetach(ctx, targetServerID, newPortID)
	})

	if b.FloatingIP != "" {
		if err := drv.AssociateFloatingIP(ctx, b.FloatingIP, newPortID); err != nil {
			return &conveyorerr.PlanMigrateFailedError{Reason: "reassociate floating ip to recreated port", Cause: err}
		}
	}
	return nil
}

// recreatePortWithRetry re-creates a port carrying the same MAC/fixed-IP as
// the one just deleted, retrying on conflict (spec.md §4.4.4 step 4: the
// original address briefly remains claimed by the deleted port in some
// clouds' IPAM bookkeeping).
func (o *Orchestrator) recreatePortWithRetry(ctx context.Context, drv driver.NetworkDriver, networkID, mac, fixedIP string) (*driver.LiveResource, error) {
	var lastErr error
	for attempt := 0; attempt < maxPortRecreateAttempts; attempt++ {
		port, err := drv.CreatePort(ctx, networkID, bindingProperties(mac, fixedIP))
		if err == nil {
			return port, nil
		}
		lastErr = err
		select {
		case <-time.After(time.Second):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return nil, lastErr
}

func bindingProperties(mac, fixedIP string) map[string]any {
	return map[string]any{
		"mac_address": mac,
		"fixed_ips":   []any{map[string]any{"ip_address": fixedIP}},
	}
}

func (o *Orchestrator) enumeratePortBindings(ctx context.Context, drv driver.NetworkDriver, serverID string) ([]portBinding, error) {
	ports, err := drv.PortList(ctx, map[string]string{"device_id": serverID})
	if err != nil {
		return nil, err
	}
	bindings := make([]portBinding, 0, len(ports))
	for _, port := range ports {
		networkID, _ := port.Properties["network_id"].(string)
		mac, _ := port.Properties["mac_address"].(string)
		floatingIP, _ := port.Properties["floating_ip_id"].(string)
		bindings = append(bindings, portBinding{
			SourceServerID: serverID,
			PortID:         port.ID,
			NetworkID:      networkID,
			MACAddress:     mac,
			FixedIP:        firstFixedIP(port.Properties["fixed_ips"]),
			FloatingIP:     floatingIP,
		})
	}
	return bindings, nil
}

// cleanupAfterMigrate implements spec.md §4.4.5: delete any migrate-only
// ports (extra_properties.migrate_only true; they are deleted, not
// detached), then delete each source server (awaiting termination) and its
// attached volumes.
func (o *Orchestrator) cleanupAfterMigrate(ctx context.Context, drv driver.CloudDriver, p *plan.Plan) error {
	for _, res := range p.OriginalResources {
		if res.Type == resourcemodel.TypePort && migrateOnly(res) {
			if err := drv.DeletePort(ctx, res.ID); err != nil {
				o.logger.Warn("cleanup: delete migrate-only port failed", "port", res.ID, "error", err)
			}
		}
	}

	for name, res := range p.OriginalResources {
		if res.Type != resourcemodel.TypeServer {
			continue
		}
		if err := drv.DeleteServer(ctx, res.ID); err != nil {
			return &conveyorerr.PlanMigrateFailedError{PlanID: p.PlanID, Reason: fmt.Sprintf("delete source server %s", name), Cause: err}
		}
		if err := o.waitServerTerminated(ctx, drv, res.ID); err != nil {
			return fmt.Errorf("await termination of %s: %w", name, err)
		}
		for _, vol := range attachedVolumes(p.OriginalResources, res) {
			if err := drv.DeleteVolume(ctx, vol.ID); err != nil {
				o.logger.Warn("cleanup: delete source volume failed", "volume", vol.ID, "error", err)
			}
		}
	}
	return nil
}

// clearMigratePort implements conveyor/clone/manager.py's
// _clear_migrate_port: detach the migrate-net-map port prepared during
// export (prepareMigratePorts, gateway.go) from each original server, as a
// distinct step between stack-creation success and cutover. Detach failures
// are logged and swallowed rather than aborting the migration, matching the
// original's catch-and-log around compute_api.interface_detach.
func (o *Orchestrator) clearMigratePort(ctx context.Context, drv driver.ComputeDriver, p *plan.Plan) {
	for name, server := range p.OriginalResources {
		if server.Type != resourcemodel.TypeServer {
			continue
		}
		portID, _ := server.ExtraProperties["migrate_port_id"].(string)
		if portID == "" {
			continue
		}
		if err := drv.InterfaceDetach(ctx, server.ID, portID); err != nil {
			o.logger.Warn("clear migrate port failed", "server", name, "port", portID, "error", err)
			continue
		}
		delete(server.ExtraProperties, "migrate_port_id")
	}
}

func migrateOnly(res *resourcemodel.Resource) bool {
	v, _ := res.ExtraProperties["migrate_only"].(bool)
	return v
}

// waitServerTerminated polls until the source server is gone or reports
// ERROR (spec.md §4.4.5 "polling until not found or ERROR"): both are
// terminal outcomes that stop the wait, ERROR is merely logged since the
// server is being deleted regardless.
func (o *Orchestrator) waitServerTerminated(ctx context.Context, drv driver.ComputeDriver, serverID string) error {
	return waiter.Wait(ctx, waiter.Config{
		Interval: o.pollInterval,
		Poll: func(ctx context.Context) (waiter.Outcome, error) {
			live, err := drv.GetServer(ctx, serverID)
			if err != nil {
				return waiter.Outcome{Terminal: true}, nil
			}
			if status, _ := live.Properties["status"].(string); status == "ERROR" {
				o.logger.Warn("source server entered ERROR while terminating", "server", serverID)
				return waiter.Outcome{Terminal: true}, nil
			}
			return waiter.Outcome{}, nil
		},
	})
}

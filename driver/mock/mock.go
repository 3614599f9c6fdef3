// Package mock provides a fully in-process fake CloudDriver for tests and
// local/dev use, grounded on the teacher's in-memory fakes (the same
// copy-on-read/write, sync.RWMutex-guarded shape as store.InMemoryBackfillStore,
// applied here to live-cloud object state instead of durable rows).
package mock

import (
	"context"
	"fmt"
	"sync"

	"github.com/Hybrid-Cloud/conveyor/driver"
	"github.com/Hybrid-Cloud/conveyor/mutation"
	"github.com/Hybrid-Cloud/conveyor/resourcemodel"
)

// Driver is an in-memory stand-in for every driver.CloudDriver method, keyed
// by live-cloud id. Seed it via Seed before use in a test.
type Driver struct {
	mu      sync.RWMutex
	objects map[string]*driver.LiveResource
	ports   map[string][]string // serverID -> attached port ids, for InterfaceAttach/InterfaceDetach
	stacks  map[string]*stackState
	nextID  int
}

type stackState struct {
	status string
	events []driver.StackEvent
}

// New builds an empty Driver.
func New() *Driver {
	return &Driver{
		objects: map[string]*driver.LiveResource{},
		ports:   map[string][]string{},
		stacks:  map[string]*stackState{},
	}
}

// Seed registers a live object so Get* calls and Extract can find it.
func (d *Driver) Seed(res *driver.LiveResource) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.objects[res.ID] = res
}

func (d *Driver) get(id string) (*driver.LiveResource, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	res, ok := d.objects[id]
	if !ok {
		return nil, fmt.Errorf("mock driver: object %q not found", id)
	}
	cp := *res
	cp.Properties = deepCopyMap(res.Properties)
	return &cp, nil
}

// Extract implements mutation.Extractor: pulls a seeded object out by id and
// uses its live id as the local name, with no transitive dependencies (tests that
// need dependents seed them as separate Edit entries).
func (d *Driver) Extract(ctx context.Context, resType resourcemodel.ResourceType, liveID string) (*resourcemodel.Resource, map[string]*resourcemodel.Resource, error) {
	live, err := d.get(liveID)
	if err != nil {
		return nil, nil, err
	}
	res := resourcemodel.NewResource(liveID, resType, live.ID)
	res.Properties = live.Properties
	return res, nil, nil
}

// AllocationPools implements mutation.SubnetPoolResolver for subnets not
// present in the plan.
func (d *Driver) AllocationPools(ctx context.Context, subnetID string) ([]mutation.AllocationPool, error) {
	live, err := d.get(subnetID)
	if err != nil {
		return nil, err
	}
	raw, _ := live.Properties["allocation_pools"].([]any)
	out := make([]mutation.AllocationPool, 0, len(raw))
	for _, p := range raw {
		m, ok := p.(map[string]any)
		if !ok {
			continue
		}
		start, _ := m["start"].(string)
		end, _ := m["end"].(string)
		out = append(out, mutation.AllocationPool{Start: start, End: end})
	}
	return out, nil
}

func (d *Driver) GetServer(ctx context.Context, id string) (*driver.LiveResource, error) {
	return d.get(id)
}

func (d *Driver) GetFlavor(ctx context.Context, id string) (*driver.LiveResource, error) {
	return d.get(id)
}

func (d *Driver) GetKeyPair(ctx context.Context, id string) (*driver.LiveResource, error) {
	return d.get(id)
}

func (d *Driver) GetVolume(ctx context.Context, id string) (*driver.LiveResource, error) {
	return d.get(id)
}

func (d *Driver) GetVolumeType(ctx context.Context, id string) (*driver.LiveResource, error) {
	return d.get(id)
}

func (d *Driver) GetQosSpecs(ctx context.Context, id string) (*driver.LiveResource, error) {
	return d.get(id)
}

func (d *Driver) GetNetwork(ctx context.Context, id string) (*driver.LiveResource, error) {
	return d.get(id)
}

func (d *Driver) GetSubnet(ctx context.Context, id string) (*driver.LiveResource, error) {
	return d.get(id)
}

func (d *Driver) GetPort(ctx context.Context, id string) (*driver.LiveResource, error) {
	return d.get(id)
}

func (d *Driver) GetRouter(ctx context.Context, id string) (*driver.LiveResource, error) {
	return d.get(id)
}

func (d *Driver) GetSecurityGroup(ctx context.Context, id string) (*driver.LiveResource, error) {
	return d.get(id)
}

func (d *Driver) GetFloatingIP(ctx context.Context, id string) (*driver.LiveResource, error) {
	return d.get(id)
}

func (d *Driver) ResetServerState(ctx context.Context, id, state string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	res, ok := d.objects[id]
	if !ok {
		return fmt.Errorf("mock driver: server %q not found", id)
	}
	res.Properties["vm_state"] = state
	return nil
}

func (d *Driver) AttachVolume(ctx context.Context, serverID, volumeID, device string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	vol, ok := d.objects[volumeID]
	if !ok {
		return fmt.Errorf("mock driver: volume %q not found", volumeID)
	}
	vol.Properties["status"] = "in-use"
	vol.Properties["attached_to"] = serverID
	vol.Properties["device"] = device
	return nil
}

func (d *Driver) InterfaceAttach(ctx context.Context, serverID, portID string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.ports[serverID] = append(d.ports[serverID], portID)
	return nil
}

func (d *Driver) InterfaceDetach(ctx context.Context, serverID, portID string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	kept := d.ports[serverID][:0]
	for _, p := range d.ports[serverID] {
		if p != portID {
			kept = append(kept, p)
		}
	}
	d.ports[serverID] = kept
	return nil
}

func (d *Driver) DeleteServer(ctx context.Context, id string) error { return d.delete(id) }
func (d *Driver) DeleteVolume(ctx context.Context, id string) error { return d.delete(id) }

func (d *Driver) delete(id string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.objects[id]; !ok {
		return fmt.Errorf("mock driver: object %q not found", id)
	}
	delete(d.objects, id)
	return nil
}

func (d *Driver) SetVolumeShareable(ctx context.Context, id string, shareable bool) error {
	return d.setProp(id, "set_shareable", shareable)
}

func (d *Driver) SetVolumeBootable(ctx context.Context, id string, bootable bool) error {
	return d.setProp(id, "bootable", bootable)
}

func (d *Driver) ResetVolumeState(ctx context.Context, id, state string) error {
	return d.setProp(id, "status", state)
}

func (d *Driver) setProp(id, key string, value any) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	res, ok := d.objects[id]
	if !ok {
		return fmt.Errorf("mock driver: object %q not found", id)
	}
	res.Properties[key] = value
	return nil
}

func (d *Driver) PortList(ctx context.Context, filters map[string]string) ([]driver.LiveResource, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	var out []driver.LiveResource
	for _, res := range d.objects {
		if res.Type != resourcemodel.TypePort {
			continue
		}
		if netID, ok := filters["network_id"]; ok {
			if net, _ := res.Properties["network_id"].(string); net != netID {
				continue
			}
		}
		out = append(out, *res)
	}
	return out, nil
}

func (d *Driver) CreatePort(ctx context.Context, networkID string, properties map[string]any) (*driver.LiveResource, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.nextID++
	id := fmt.Sprintf("mock-port-%d", d.nextID)
	props := deepCopyMap(properties)
	props["network_id"] = networkID
	res := &driver.LiveResource{ID: id, Type: resourcemodel.TypePort, Properties: props}
	d.objects[id] = res
	cp := *res
	return &cp, nil
}

func (d *Driver) DeletePort(ctx context.Context, id string) error { return d.delete(id) }

func (d *Driver) AssociateFloatingIP(ctx context.Context, floatingIPID, portID string) error {
	return d.setProp(floatingIPID, "port_id", portID)
}

func (d *Driver) DisassociateFloatingIP(ctx context.Context, floatingIPID string) error {
	return d.setProp(floatingIPID, "port_id", "")
}

func (d *Driver) CreateStack(ctx context.Context, name string, template map[string]any, files map[string]string, disableRollback bool) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.nextID++
	id := fmt.Sprintf("mock-stack-%d", d.nextID)
	d.stacks[id] = &stackState{status: "CREATE_IN_PROGRESS"}
	return id, nil
}

// AdvanceStack lets tests move a stack to its next lifecycle status.
func (d *Driver) AdvanceStack(stackID, status string, event driver.StackEvent) {
	d.mu.Lock()
	defer d.mu.Unlock()
	st, ok := d.stacks[stackID]
	if !ok {
		return
	}
	st.status = status
	st.events = append(st.events, event)
}

func (d *Driver) GetStack(ctx context.Context, stackID string) (string, string, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	st, ok := d.stacks[stackID]
	if !ok {
		return "", "", fmt.Errorf("mock driver: stack %q not found", stackID)
	}
	reason := ""
	if len(st.events) > 0 {
		reason = st.events[len(st.events)-1].Reason
	}
	return st.status, reason, nil
}

func (d *Driver) DeleteStack(ctx context.Context, stackID string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.stacks, stackID)
	return nil
}

func (d *Driver) GetStackResource(ctx context.Context, stackID, resourceName string) (*driver.LiveResource, error) {
	return d.get(resourceName)
}

func (d *Driver) GetResourceType(ctx context.Context, typeName string) (map[string]any, error) {
	return map[string]any{"type": typeName}, nil
}

func (d *Driver) EventsList(ctx context.Context, stackID string) ([]driver.StackEvent, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	st, ok := d.stacks[stackID]
	if !ok {
		return nil, fmt.Errorf("mock driver: stack %q not found", stackID)
	}
	return append([]driver.StackEvent(nil), st.events...), nil
}

func deepCopyMap(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

var _ driver.CloudDriver = (*Driver)(nil)

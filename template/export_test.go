package template

import (
	"strings"
	"testing"

	"github.com/Hybrid-Cloud/conveyor/resourcemodel"
)

func newRes(name string, typ resourcemodel.ResourceType) *resourcemodel.Resource {
	r := resourcemodel.NewResource(name, typ, "")
	return r
}

func TestShapeStampsAvailabilityZone(t *testing.T) {
	server := newRes("server_0", resourcemodel.TypeServer)
	volume := newRes("volume_0", resourcemodel.TypeVolume)
	resources := map[string]*resourcemodel.Resource{"server_0": server, "volume_0": volume}

	tmpl, err := Shape(resources, ExportOptions{Destination: "az-2"})
	if err != nil {
		t.Fatalf("Shape: %v", err)
	}
	if tmpl.Resources["server_0"].Properties["availability_zone"] != "az-2" {
		t.Fatalf("server az not stamped: %+v", tmpl.Resources["server_0"])
	}
	if tmpl.Resources["volume_0"].Properties["availability_zone"] != "az-2" {
		t.Fatalf("volume az not stamped: %+v", tmpl.Resources["volume_0"])
	}
}

func TestShapeStripsPreexistingPortFields(t *testing.T) {
	port := newRes("port_0", resourcemodel.TypePort)
	port.Properties["network"] = map[string]any{"get_resource": "net_0"}
	port.Properties["mac_address"] = "aa:bb"
	port.Properties["fixed_ips"] = []any{map[string]any{"ip_address": "10.0.0.5"}}
	net := newRes("net_0", resourcemodel.TypeNetwork)
	resources := map[string]*resourcemodel.Resource{"port_0": port, "net_0": net}

	tmpl, err := Shape(resources, ExportOptions{PreexistingNetworks: map[string]bool{"net_0": true}})
	if err != nil {
		t.Fatalf("Shape: %v", err)
	}
	props := tmpl.Resources["port_0"].Properties
	if _, ok := props["mac_address"]; ok {
		t.Fatalf("expected mac_address stripped, got %+v", props)
	}
	fixedIPs := props["fixed_ips"].([]any)
	if _, ok := fixedIPs[0].(map[string]any)["ip_address"]; ok {
		t.Fatalf("expected ip_address stripped, got %+v", fixedIPs)
	}
}

func TestShapePromotesExistingResource(t *testing.T) {
	net := newRes("net_0", resourcemodel.TypeNetwork)
	net.ID = "live-net-1"
	net.SetExists(true)
	subnet := newRes("subnet_0", resourcemodel.TypeSubnet)
	subnet.Properties["network"] = map[string]any{"get_resource": "net_0"}
	resources := map[string]*resourcemodel.Resource{"net_0": net, "subnet_0": subnet}

	tmpl, err := Shape(resources, ExportOptions{})
	if err != nil {
		t.Fatalf("Shape: %v", err)
	}
	if _, ok := tmpl.Resources["net_0"]; ok {
		t.Fatalf("expected net_0 removed from template body")
	}
	param, ok := tmpl.Parameters["net_0"]
	if !ok || param.Default != "live-net-1" {
		t.Fatalf("expected net_0 promoted to a parameter, got %+v", tmpl.Parameters)
	}
	ref := tmpl.Resources["subnet_0"].Properties["network"].(map[string]any)
	if ref["get_param"] != "net_0" {
		t.Fatalf("expected subnet_0's network rewritten to get_param, got %+v", ref)
	}
}

func TestCollapseLoadBalancer(t *testing.T) {
	vip := newRes("vip_0", resourcemodel.TypeLBVip)
	vip.Properties["address"] = "10.0.0.9"
	pool := newRes("pool_0", resourcemodel.TypeLBPool)
	pool.Properties["vip"] = map[string]any{"get_resource": "vip_0"}
	listener := newRes("listener_0", resourcemodel.TypeLBListener)
	listener.Properties["pool"] = map[string]any{"get_resource": "pool_0"}
	listener.Properties["protocol"] = "HTTP"
	resources := map[string]*resourcemodel.Resource{"vip_0": vip, "pool_0": pool, "listener_0": listener}

	CollapseLoadBalancer(resources)

	if _, ok := resources["vip_0"]; ok {
		t.Fatalf("expected vip_0 dropped")
	}
	if _, ok := resources["listener_0"]; ok {
		t.Fatalf("expected listener_0 dropped")
	}
	if resources["pool_0"].Properties["vip_address"] != "10.0.0.9" {
		t.Fatalf("expected pool to absorb vip properties, got %+v", resources["pool_0"].Properties)
	}
	nested, ok := resources["pool_0"].Properties["listener"].(map[string]any)
	if !ok || nested["protocol"] != "HTTP" {
		t.Fatalf("expected pool to nest listener properties, got %+v", resources["pool_0"].Properties)
	}
}

func TestShapeFactorsFloatingIPs(t *testing.T) {
	fip := newRes("fip_0", resourcemodel.TypeFloatingIP)
	resources := map[string]*resourcemodel.Resource{"fip_0": fip}

	tmpl, err := Shape(resources, ExportOptions{PlanPath: "plan-1"})
	if err != nil {
		t.Fatalf("Shape: %v", err)
	}
	if _, ok := tmpl.Resources["fip_0"]; ok {
		t.Fatalf("expected fip_0 factored out of the main template")
	}
	found := false
	for key, body := range tmpl.Files {
		if strings.Contains(key, "floatingIp.template") && strings.Contains(body, "fip_0") {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected a floatingIp.template file entry, got %+v", tmpl.Files)
	}
}

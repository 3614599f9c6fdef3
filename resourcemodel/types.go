package resourcemodel

// ResourceType is a closed, tagged variant over the resource kinds the plan
// engine understands (spec.md §3, §9 "Closed tagged variants over
// stringly-typed dispatch"). The underlying string is the qualified kind tag
// used in templates and in the Plan Store's persisted rows.
type ResourceType string

const (
	TypeServer           ResourceType = "OS::Nova::Server"
	TypeKeyPair          ResourceType = "OS::Nova::KeyPair"
	TypeFlavor           ResourceType = "OS::Nova::Flavor"
	TypeVolume           ResourceType = "OS::Cinder::Volume"
	TypeVolumeType       ResourceType = "OS::Cinder::VolumeType"
	TypeQos              ResourceType = "OS::Cinder::Qos"
	TypeConsistencyGroup ResourceType = "OS::Cinder::ConsistencyGroup"
	TypeNetwork          ResourceType = "OS::Neutron::Net"
	TypeSubnet           ResourceType = "OS::Neutron::Subnet"
	TypePort             ResourceType = "OS::Neutron::Port"
	TypeRouter           ResourceType = "OS::Neutron::Router"
	TypeRouterInterface  ResourceType = "OS::Neutron::RouterInterface"
	TypeFloatingIP       ResourceType = "OS::Neutron::FloatingIP"
	TypeSecurityGroup    ResourceType = "OS::Neutron::SecurityGroup"
	TypeLBVip            ResourceType = "OS::Neutron::LoadBalancer"
	TypeLBPool           ResourceType = "OS::Neutron::LBaaS::Pool"
	TypeLBListener       ResourceType = "OS::Neutron::LBaaS::Listener"
	TypeLBMember         ResourceType = "OS::Neutron::LBaaS::PoolMember"
	TypeLBMonitor        ResourceType = "OS::Neutron::LBaaS::HealthMonitor"
	TypeStack            ResourceType = "OS::Heat::Stack"
)

// knownTypes is the closed enumeration; ParseResourceType rejects anything
// outside it so malformed templates fail validation early rather than
// propagating an unrecognized type string through the engine.
var knownTypes = map[ResourceType]bool{
	TypeServer: true, TypeKeyPair: true, TypeFlavor: true,
	TypeVolume: true, TypeVolumeType: true, TypeQos: true, TypeConsistencyGroup: true,
	TypeNetwork: true, TypeSubnet: true, TypePort: true,
	TypeRouter: true, TypeRouterInterface: true,
	TypeFloatingIP: true, TypeSecurityGroup: true,
	TypeLBVip: true, TypeLBPool: true, TypeLBListener: true, TypeLBMember: true, TypeLBMonitor: true,
	TypeStack: true,
}

// ParseResourceType validates a raw type string against the closed
// enumeration.
func ParseResourceType(raw string) (ResourceType, bool) {
	t := ResourceType(raw)
	if knownTypes[t] {
		return t, true
	}
	return "", false
}

// IsVolumeShaped reports whether a type belongs to the volume family that the
// orchestrator isolates into a volume sub-stack for cold/live clone (spec.md
// §4.4 R1/R2).
func (t ResourceType) IsVolumeShaped() bool {
	switch t {
	case TypeVolume, TypeVolumeType, TypeQos, TypeConsistencyGroup:
		return true
	default:
		return false
	}
}

// IsLoadBalancer reports whether a type belongs to the VIP/pool/listener/
// member/monitor family collapsed by template shaping (spec.md §4.4.1 step 5).
func (t ResourceType) IsLoadBalancer() bool {
	switch t {
	case TypeLBVip, TypeLBPool, TypeLBListener, TypeLBMember, TypeLBMonitor:
		return true
	default:
		return false
	}
}

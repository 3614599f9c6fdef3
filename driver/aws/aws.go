//go:build aws

// Package aws adapts driver.CloudDriver onto Amazon EC2, grounded on
// platform/providers/aws/drivers/vpc.go's shape: a narrow per-call client
// interface, lazy client construction from an aws.Config, and a
// WithClient constructor so tests can inject a fake without hitting the
// network. Built under the "aws" tag, mirroring the teacher's own
// per-cloud build isolation, so a default `go build ./...` never needs the
// AWS SDK linked in.
package aws

import (
	"context"
	"fmt"

	awsv2 "github.com/aws/aws-sdk-go-v2/aws"
	awscfg "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	ec2types "github.com/aws/aws-sdk-go-v2/service/ec2/types"

	"github.com/Hybrid-Cloud/conveyor/driver"
	"github.com/Hybrid-Cloud/conveyor/resourcemodel"
)

// EC2Client is the subset of the generated EC2 client the Driver calls,
// narrowed the way VPCDriver's EC2VPCClient is (lets tests inject a fake
// without depending on the real SDK's client struct).
type EC2Client interface {
	DescribeInstances(ctx context.Context, params *ec2.DescribeInstancesInput, optFns ...func(*ec2.Options)) (*ec2.DescribeInstancesOutput, error)
	DescribeInstanceTypes(ctx context.Context, params *ec2.DescribeInstanceTypesInput, optFns ...func(*ec2.Options)) (*ec2.DescribeInstanceTypesOutput, error)
	DescribeKeyPairs(ctx context.Context, params *ec2.DescribeKeyPairsInput, optFns ...func(*ec2.Options)) (*ec2.DescribeKeyPairsOutput, error)
	DescribeVolumes(ctx context.Context, params *ec2.DescribeVolumesInput, optFns ...func(*ec2.Options)) (*ec2.DescribeVolumesOutput, error)
	AttachVolume(ctx context.Context, params *ec2.AttachVolumeInput, optFns ...func(*ec2.Options)) (*ec2.AttachVolumeOutput, error)
	DeleteVolume(ctx context.Context, params *ec2.DeleteVolumeInput, optFns ...func(*ec2.Options)) (*ec2.DeleteVolumeOutput, error)
	ModifyVolume(ctx context.Context, params *ec2.ModifyVolumeInput, optFns ...func(*ec2.Options)) (*ec2.ModifyVolumeOutput, error)
	DescribeVpcs(ctx context.Context, params *ec2.DescribeVpcsInput, optFns ...func(*ec2.Options)) (*ec2.DescribeVpcsOutput, error)
	DescribeSubnets(ctx context.Context, params *ec2.DescribeSubnetsInput, optFns ...func(*ec2.Options)) (*ec2.DescribeSubnetsOutput, error)
	DescribeNetworkInterfaces(ctx context.Context, params *ec2.DescribeNetworkInterfacesInput, optFns ...func(*ec2.Options)) (*ec2.DescribeNetworkInterfacesOutput, error)
	CreateNetworkInterface(ctx context.Context, params *ec2.CreateNetworkInterfaceInput, optFns ...func(*ec2.Options)) (*ec2.CreateNetworkInterfaceOutput, error)
	DeleteNetworkInterface(ctx context.Context, params *ec2.DeleteNetworkInterfaceInput, optFns ...func(*ec2.Options)) (*ec2.DeleteNetworkInterfaceOutput, error)
	AttachNetworkInterface(ctx context.Context, params *ec2.AttachNetworkInterfaceInput, optFns ...func(*ec2.Options)) (*ec2.AttachNetworkInterfaceOutput, error)
	DetachNetworkInterface(ctx context.Context, params *ec2.DetachNetworkInterfaceInput, optFns ...func(*ec2.Options)) (*ec2.DetachNetworkInterfaceOutput, error)
	DescribeSecurityGroups(ctx context.Context, params *ec2.DescribeSecurityGroupsInput, optFns ...func(*ec2.Options)) (*ec2.DescribeSecurityGroupsOutput, error)
	DescribeAddresses(ctx context.Context, params *ec2.DescribeAddressesInput, optFns ...func(*ec2.Options)) (*ec2.DescribeAddressesOutput, error)
	AssociateAddress(ctx context.Context, params *ec2.AssociateAddressInput, optFns ...func(*ec2.Options)) (*ec2.AssociateAddressOutput, error)
	DisassociateAddress(ctx context.Context, params *ec2.DisassociateAddressInput, optFns ...func(*ec2.Options)) (*ec2.DisassociateAddressOutput, error)
	TerminateInstances(ctx context.Context, params *ec2.TerminateInstancesInput, optFns ...func(*ec2.Options)) (*ec2.TerminateInstancesOutput, error)
}

// Driver adapts EC2 onto driver.CloudDriver. The Stack group is not
// implemented: EC2 has no native analogue of the Heat-style stack engine
// spec.md's orchestrator submits templates to, so those methods return an
// error naming the gap rather than silently no-opping (see DESIGN.md).
type Driver struct {
	client EC2Client
}

// NewDriver builds a Driver, lazily resolving credentials from the default
// AWS config chain for region, mirroring AWSProvider.Initialize's use of
// awscfg.LoadDefaultConfig.
func NewDriver(ctx context.Context, region string) (*Driver, error) {
	cfg, err := awscfg.LoadDefaultConfig(ctx, awscfg.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("aws driver: load config: %w", err)
	}
	return &Driver{client: ec2.NewFromConfig(cfg)}, nil
}

// NewDriverWithClient builds a Driver around an already-configured client,
// for tests.
func NewDriverWithClient(client EC2Client) *Driver {
	return &Driver{client: client}
}

func (d *Driver) GetServer(ctx context.Context, id string) (*driver.LiveResource, error) {
	out, err := d.client.DescribeInstances(ctx, &ec2.DescribeInstancesInput{InstanceIds: []string{id}})
	if err != nil {
		return nil, fmt.Errorf("aws: describe instance %q: %w", id, err)
	}
	for _, r := range out.Reservations {
		for _, inst := range r.Instances {
			return &driver.LiveResource{
				ID:   awsv2.ToString(inst.InstanceId),
				Type: resourcemodel.TypeServer,
				Properties: map[string]any{
					"vm_state":      string(inst.State.Name),
					"instance_type": string(inst.InstanceType),
				},
			}, nil
		}
	}
	return nil, fmt.Errorf("aws: instance %q not found", id)
}

func (d *Driver) GetFlavor(ctx context.Context, id string) (*driver.LiveResource, error) {
	out, err := d.client.DescribeInstanceTypes(ctx, &ec2.DescribeInstanceTypesInput{
		InstanceTypes: []ec2types.InstanceType{ec2types.InstanceType(id)},
	})
	if err != nil {
		return nil, fmt.Errorf("aws: describe instance type %q: %w", id, err)
	}
	if len(out.InstanceTypes) == 0 {
		return nil, fmt.Errorf("aws: instance type %q not found", id)
	}
	it := out.InstanceTypes[0]
	props := map[string]any{}
	if it.VCpuInfo != nil {
		props["vcpus"] = awsv2.ToInt32(it.VCpuInfo.DefaultVCpus)
	}
	if it.MemoryInfo != nil {
		props["ram_mb"] = awsv2.ToInt64(it.MemoryInfo.SizeInMiB)
	}
	return &driver.LiveResource{ID: id, Type: resourcemodel.TypeFlavor, Properties: props}, nil
}

func (d *Driver) GetKeyPair(ctx context.Context, id string) (*driver.LiveResource, error) {
	out, err := d.client.DescribeKeyPairs(ctx, &ec2.DescribeKeyPairsInput{KeyNames: []string{id}})
	if err != nil {
		return nil, fmt.Errorf("aws: describe key pair %q: %w", id, err)
	}
	if len(out.KeyPairs) == 0 {
		return nil, fmt.Errorf("aws: key pair %q not found", id)
	}
	kp := out.KeyPairs[0]
	return &driver.LiveResource{
		ID:   awsv2.ToString(kp.KeyPairId),
		Type: resourcemodel.TypeKeyPair,
		Properties: map[string]any{
			"public_key_fingerprint": awsv2.ToString(kp.KeyFingerprint),
		},
	}, nil
}

func (d *Driver) ResetServerState(ctx context.Context, id, state string) error {
	return fmt.Errorf("aws: reset-state is not a supported EC2 operation (id=%s, state=%s)", id, state)
}

func (d *Driver) AttachVolume(ctx context.Context, serverID, volumeID, device string) error {
	_, err := d.client.AttachVolume(ctx, &ec2.AttachVolumeInput{
		InstanceId: awsv2.String(serverID),
		VolumeId:   awsv2.String(volumeID),
		Device:     awsv2.String(device),
	})
	if err != nil {
		return fmt.Errorf("aws: attach volume %q to %q: %w", volumeID, serverID, err)
	}
	return nil
}

func (d *Driver) InterfaceAttach(ctx context.Context, serverID, portID string) error {
	_, err := d.client.AttachNetworkInterface(ctx, &ec2.AttachNetworkInterfaceInput{
		InstanceId:         awsv2.String(serverID),
		NetworkInterfaceId: awsv2.String(portID),
		DeviceIndex:        awsv2.Int32(1),
	})
	if err != nil {
		return fmt.Errorf("aws: attach interface %q to %q: %w", portID, serverID, err)
	}
	return nil
}

func (d *Driver) InterfaceDetach(ctx context.Context, serverID, portID string) error {
	_, err := d.client.DetachNetworkInterface(ctx, &ec2.DetachNetworkInterfaceInput{
		AttachmentId: awsv2.String(portID),
	})
	if err != nil {
		return fmt.Errorf("aws: detach interface %q from %q: %w", portID, serverID, err)
	}
	return nil
}

func (d *Driver) DeleteServer(ctx context.Context, id string) error {
	_, err := d.client.TerminateInstances(ctx, &ec2.TerminateInstancesInput{InstanceIds: []string{id}})
	if err != nil {
		return fmt.Errorf("aws: terminate instance %q: %w", id, err)
	}
	return nil
}

func (d *Driver) GetVolume(ctx context.Context, id string) (*driver.LiveResource, error) {
	out, err := d.client.DescribeVolumes(ctx, &ec2.DescribeVolumesInput{VolumeIds: []string{id}})
	if err != nil {
		return nil, fmt.Errorf("aws: describe volume %q: %w", id, err)
	}
	if len(out.Volumes) == 0 {
		return nil, fmt.Errorf("aws: volume %q not found", id)
	}
	v := out.Volumes[0]
	return &driver.LiveResource{
		ID:   awsv2.ToString(v.VolumeId),
		Type: resourcemodel.TypeVolume,
		Properties: map[string]any{
			"status":    string(v.State),
			"size_gb":   awsv2.ToInt32(v.Size),
			"volume_type": string(v.VolumeType),
		},
	}, nil
}

func (d *Driver) GetVolumeType(ctx context.Context, id string) (*driver.LiveResource, error) {
	return &driver.LiveResource{ID: id, Type: resourcemodel.TypeVolumeType, Properties: map[string]any{"name": id}}, nil
}

func (d *Driver) GetQosSpecs(ctx context.Context, id string) (*driver.LiveResource, error) {
	return nil, fmt.Errorf("aws: EC2 has no QoS-specs analogue (id=%s)", id)
}

func (d *Driver) SetVolumeShareable(ctx context.Context, id string, shareable bool) error {
	_, err := d.client.ModifyVolume(ctx, &ec2.ModifyVolumeInput{VolumeId: awsv2.String(id)})
	if err != nil {
		return fmt.Errorf("aws: modify volume %q: %w", id, err)
	}
	return nil
}

func (d *Driver) SetVolumeBootable(ctx context.Context, id string, bootable bool) error {
	return nil
}

func (d *Driver) DeleteVolume(ctx context.Context, id string) error {
	_, err := d.client.DeleteVolume(ctx, &ec2.DeleteVolumeInput{VolumeId: awsv2.String(id)})
	if err != nil {
		return fmt.Errorf("aws: delete volume %q: %w", id, err)
	}
	return nil
}

func (d *Driver) ResetVolumeState(ctx context.Context, id, state string) error {
	return fmt.Errorf("aws: reset-state is not a supported EBS operation (id=%s, state=%s)", id, state)
}

func (d *Driver) GetNetwork(ctx context.Context, id string) (*driver.LiveResource, error) {
	out, err := d.client.DescribeVpcs(ctx, &ec2.DescribeVpcsInput{VpcIds: []string{id}})
	if err != nil {
		return nil, fmt.Errorf("aws: describe vpc %q: %w", id, err)
	}
	if len(out.Vpcs) == 0 {
		return nil, fmt.Errorf("aws: vpc %q not found", id)
	}
	v := out.Vpcs[0]
	return &driver.LiveResource{
		ID:         awsv2.ToString(v.VpcId),
		Type:       resourcemodel.TypeNetwork,
		Properties: map[string]any{"cidr": awsv2.ToString(v.CidrBlock)},
	}, nil
}

func (d *Driver) GetSubnet(ctx context.Context, id string) (*driver.LiveResource, error) {
	out, err := d.client.DescribeSubnets(ctx, &ec2.DescribeSubnetsInput{SubnetIds: []string{id}})
	if err != nil {
		return nil, fmt.Errorf("aws: describe subnet %q: %w", id, err)
	}
	if len(out.Subnets) == 0 {
		return nil, fmt.Errorf("aws: subnet %q not found", id)
	}
	s := out.Subnets[0]
	return &driver.LiveResource{
		ID:   awsv2.ToString(s.SubnetId),
		Type: resourcemodel.TypeSubnet,
		Properties: map[string]any{
			"cidr":    awsv2.ToString(s.CidrBlock),
			"network": awsv2.ToString(s.VpcId),
		},
	}, nil
}

func (d *Driver) GetPort(ctx context.Context, id string) (*driver.LiveResource, error) {
	out, err := d.client.DescribeNetworkInterfaces(ctx, &ec2.DescribeNetworkInterfacesInput{NetworkInterfaceIds: []string{id}})
	if err != nil {
		return nil, fmt.Errorf("aws: describe network interface %q: %w", id, err)
	}
	if len(out.NetworkInterfaces) == 0 {
		return nil, fmt.Errorf("aws: network interface %q not found", id)
	}
	return eniToLiveResource(out.NetworkInterfaces[0]), nil
}

func (d *Driver) GetRouter(ctx context.Context, id string) (*driver.LiveResource, error) {
	return nil, fmt.Errorf("aws: EC2 route tables are not modeled as a router resource (id=%s)", id)
}

func (d *Driver) GetSecurityGroup(ctx context.Context, id string) (*driver.LiveResource, error) {
	out, err := d.client.DescribeSecurityGroups(ctx, &ec2.DescribeSecurityGroupsInput{GroupIds: []string{id}})
	if err != nil {
		return nil, fmt.Errorf("aws: describe security group %q: %w", id, err)
	}
	if len(out.SecurityGroups) == 0 {
		return nil, fmt.Errorf("aws: security group %q not found", id)
	}
	sg := out.SecurityGroups[0]
	return &driver.LiveResource{
		ID:         awsv2.ToString(sg.GroupId),
		Type:       resourcemodel.TypeSecurityGroup,
		Properties: map[string]any{"name": awsv2.ToString(sg.GroupName)},
	}, nil
}

func (d *Driver) GetFloatingIP(ctx context.Context, id string) (*driver.LiveResource, error) {
	out, err := d.client.DescribeAddresses(ctx, &ec2.DescribeAddressesInput{AllocationIds: []string{id}})
	if err != nil {
		return nil, fmt.Errorf("aws: describe address %q: %w", id, err)
	}
	if len(out.Addresses) == 0 {
		return nil, fmt.Errorf("aws: elastic ip %q not found", id)
	}
	a := out.Addresses[0]
	return &driver.LiveResource{
		ID:   awsv2.ToString(a.AllocationId),
		Type: resourcemodel.TypeFloatingIP,
		Properties: map[string]any{
			"ip":      awsv2.ToString(a.PublicIp),
			"port_id": awsv2.ToString(a.NetworkInterfaceId),
		},
	}, nil
}

func (d *Driver) PortList(ctx context.Context, filters map[string]string) ([]driver.LiveResource, error) {
	var ec2Filters []ec2types.Filter
	if netID, ok := filters["network_id"]; ok {
		ec2Filters = append(ec2Filters, ec2types.Filter{Name: awsv2.String("vpc-id"), Values: []string{netID}})
	}
	out, err := d.client.DescribeNetworkInterfaces(ctx, &ec2.DescribeNetworkInterfacesInput{Filters: ec2Filters})
	if err != nil {
		return nil, fmt.Errorf("aws: list network interfaces: %w", err)
	}
	result := make([]driver.LiveResource, 0, len(out.NetworkInterfaces))
	for _, eni := range out.NetworkInterfaces {
		result = append(result, *eniToLiveResource(eni))
	}
	return result, nil
}

func (d *Driver) CreatePort(ctx context.Context, networkID string, properties map[string]any) (*driver.LiveResource, error) {
	subnetID, _ := properties["subnet_id"].(string)
	out, err := d.client.CreateNetworkInterface(ctx, &ec2.CreateNetworkInterfaceInput{SubnetId: awsv2.String(subnetID)})
	if err != nil {
		return nil, fmt.Errorf("aws: create network interface on %q: %w", networkID, err)
	}
	return eniToLiveResource(*out.NetworkInterface), nil
}

func (d *Driver) DeletePort(ctx context.Context, id string) error {
	_, err := d.client.DeleteNetworkInterface(ctx, &ec2.DeleteNetworkInterfaceInput{NetworkInterfaceId: awsv2.String(id)})
	if err != nil {
		return fmt.Errorf("aws: delete network interface %q: %w", id, err)
	}
	return nil
}

func (d *Driver) AssociateFloatingIP(ctx context.Context, floatingIPID, portID string) error {
	_, err := d.client.AssociateAddress(ctx, &ec2.AssociateAddressInput{
		AllocationId:       awsv2.String(floatingIPID),
		NetworkInterfaceId: awsv2.String(portID),
	})
	if err != nil {
		return fmt.Errorf("aws: associate address %q with %q: %w", floatingIPID, portID, err)
	}
	return nil
}

func (d *Driver) DisassociateFloatingIP(ctx context.Context, floatingIPID string) error {
	_, err := d.client.DisassociateAddress(ctx, &ec2.DisassociateAddressInput{AssociationId: awsv2.String(floatingIPID)})
	if err != nil {
		return fmt.Errorf("aws: disassociate address %q: %w", floatingIPID, err)
	}
	return nil
}

// Stack-engine methods: EC2 has no native stack-submission API in this
// driver's scope (CloudFormation would be the analogue but is not part of
// the wired SDK surface; see DESIGN.md "dropped teacher deps").
func (d *Driver) CreateStack(ctx context.Context, name string, template map[string]any, files map[string]string, disableRollback bool) (string, error) {
	return "", fmt.Errorf("aws: stack submission is not implemented by the EC2 driver")
}

func (d *Driver) GetStack(ctx context.Context, stackID string) (string, string, error) {
	return "", "", fmt.Errorf("aws: stack submission is not implemented by the EC2 driver")
}

func (d *Driver) DeleteStack(ctx context.Context, stackID string) error {
	return fmt.Errorf("aws: stack submission is not implemented by the EC2 driver")
}

func (d *Driver) GetStackResource(ctx context.Context, stackID, resourceName string) (*driver.LiveResource, error) {
	return nil, fmt.Errorf("aws: stack submission is not implemented by the EC2 driver")
}

func (d *Driver) GetResourceType(ctx context.Context, typeName string) (map[string]any, error) {
	return nil, fmt.Errorf("aws: stack submission is not implemented by the EC2 driver")
}

func (d *Driver) EventsList(ctx context.Context, stackID string) ([]driver.StackEvent, error) {
	return nil, fmt.Errorf("aws: stack submission is not implemented by the EC2 driver")
}

func eniToLiveResource(eni ec2types.NetworkInterface) *driver.LiveResource {
	props := map[string]any{
		"network_id": awsv2.ToString(eni.VpcId),
		"mac_address": awsv2.ToString(eni.MacAddress),
	}
	var fixedIPs []any
	for _, addr := range eni.PrivateIpAddresses {
		fixedIPs = append(fixedIPs, map[string]any{"ip_address": awsv2.ToString(addr.PrivateIpAddress)})
	}
	props["fixed_ips"] = fixedIPs
	return &driver.LiveResource{
		ID:         awsv2.ToString(eni.NetworkInterfaceId),
		Type:       resourcemodel.TypePort,
		Properties: props,
	}
}

var _ driver.ComputeDriver = (*Driver)(nil)
var _ driver.BlockDriver = (*Driver)(nil)
var _ driver.NetworkDriver = (*Driver)(nil)
var _ driver.StackDriver = (*Driver)(nil)

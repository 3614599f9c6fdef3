// Package stackengine implements driver.StackDriver against an OpenStack
// Heat-compatible orchestration API over github.com/gophercloud/gophercloud
// (the orchestration/v1 client), grounded on the same client/auth shape the
// eschercloudai-unikorn manifest pack pins for talking to OpenStack. None of
// driver/aws, driver/azure, driver/gcp, or driver/digitalocean front a
// Heat-compatible stack engine (their CreateStack/GetStack/etc. are
// documented stubs), so stack submission is always routed through this
// driver instead, independent of whichever per-cloud adapter a given build
// links in (see DESIGN.md).
package stackengine

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/gophercloud/gophercloud"
	"github.com/gophercloud/gophercloud/openstack"
	"github.com/gophercloud/gophercloud/openstack/orchestration/v1/resourcetypes"
	"github.com/gophercloud/gophercloud/openstack/orchestration/v1/stackevents"
	"github.com/gophercloud/gophercloud/openstack/orchestration/v1/stackresources"
	"github.com/gophercloud/gophercloud/openstack/orchestration/v1/stacks"
	"github.com/gophercloud/gophercloud/pagination"

	"github.com/Hybrid-Cloud/conveyor/driver"
	"github.com/Hybrid-Cloud/conveyor/resourcemodel"
)

// AuthConfig carries the Keystone credentials used to reach the
// orchestration endpoint (spec.md §6 "Stack engine": create_stack,
// get_stack, delete_stack, get_resource, get_resource_type, events_list).
type AuthConfig struct {
	AuthURL     string
	Username    string
	Password    string
	DomainName  string
	ProjectName string
	Region      string
}

// Driver implements driver.StackDriver only. It is composed onto whichever
// per-cloud CloudDriver a build links in (see cmd/conveyor-engine) rather
// than standing in as a full CloudDriver itself.
type Driver struct {
	client *gophercloud.ServiceClient
}

// NewDriver authenticates against Keystone and locates the Orchestration
// (Heat) v1 endpoint.
func NewDriver(cfg AuthConfig) (*Driver, error) {
	provider, err := openstack.AuthenticatedClient(gophercloud.AuthOptions{
		IdentityEndpoint: cfg.AuthURL,
		Username:         cfg.Username,
		Password:         cfg.Password,
		DomainName:       cfg.DomainName,
		TenantName:       cfg.ProjectName,
	})
	if err != nil {
		return nil, fmt.Errorf("stackengine: authenticate to %s: %w", cfg.AuthURL, err)
	}
	client, err := openstack.NewOrchestrationV1(provider, gophercloud.EndpointOpts{Region: cfg.Region})
	if err != nil {
		return nil, fmt.Errorf("stackengine: locate orchestration endpoint: %w", err)
	}
	return &Driver{client: client}, nil
}

// CreateStack submits template with a fresh stack name (spec.md §4.4 "a
// fresh stack name stack-<uuid>", minted by the caller).
func (d *Driver) CreateStack(_ context.Context, name string, template map[string]any, files map[string]string, disableRollback bool) (string, error) {
	bin, err := json.Marshal(template)
	if err != nil {
		return "", fmt.Errorf("stackengine: marshal template: %w", err)
	}
	created, err := stacks.Create(d.client, stacks.CreateOpts{
		Name:            name,
		TemplateOpts:    &stacks.Template{TE: stacks.TE{Bin: bin}},
		Files:           files,
		DisableRollback: &disableRollback,
	}).Extract()
	if err != nil {
		return "", err
	}
	return created.ID, nil
}

// GetStack reports the backing stack's status and status reason (spec.md
// §4.4 "poll the stack every 500ms").
func (d *Driver) GetStack(_ context.Context, stackID string) (string, string, error) {
	found, err := stacks.Find(d.client, stackID).Extract()
	if err != nil {
		return "", "", err
	}
	return found.Status, found.StatusReason, nil
}

// DeleteStack deletes the stack. Heat's delete endpoint is keyed by
// (name, id), so the canonical name is resolved first via Find.
func (d *Driver) DeleteStack(_ context.Context, stackID string) error {
	found, err := stacks.Find(d.client, stackID).Extract()
	if err != nil {
		return err
	}
	return stacks.Delete(d.client, found.Name, found.ID).ExtractErr()
}

// GetStackResource resolves a named template resource's live id (spec.md
// §4.4 "resolve each resulting id").
func (d *Driver) GetStackResource(_ context.Context, stackID, resourceName string) (*driver.LiveResource, error) {
	found, err := stacks.Find(d.client, stackID).Extract()
	if err != nil {
		return nil, err
	}
	res, err := stackresources.Get(d.client, found.Name, found.ID, resourceName).Extract()
	if err != nil {
		return nil, err
	}
	return &driver.LiveResource{ID: res.PhysicalID, Type: resourcemodel.ResourceType(res.ResourceType)}, nil
}

// GetResourceType returns the raw resource-type schema Heat reports; its
// shape is consumer-defined so it is passed through unparsed.
func (d *Driver) GetResourceType(_ context.Context, typeName string) (map[string]any, error) {
	result := resourcetypes.Get(d.client, typeName)
	if result.Err != nil {
		return nil, result.Err
	}
	body, _ := result.Body.(map[string]any)
	return body, nil
}

// EventsList returns the stack's event log (spec.md §4.4 "mirror the latest
// stack event into task_status").
func (d *Driver) EventsList(_ context.Context, stackID string) ([]driver.StackEvent, error) {
	found, err := stacks.Find(d.client, stackID).Extract()
	if err != nil {
		return nil, err
	}
	var out []driver.StackEvent
	pager := stackevents.List(d.client, found.Name, found.ID, stackevents.ListOpts{})
	err = pager.EachPage(func(page pagination.Page) (bool, error) {
		events, err := stackevents.ExtractEvents(page)
		if err != nil {
			return false, err
		}
		for _, ev := range events {
			out = append(out, driver.StackEvent{
				ResourceName: ev.ResourceName,
				Status:       ev.ResourceStatus,
				Reason:       ev.ResourceStatusReason,
			})
		}
		return true, nil
	})
	return out, err
}

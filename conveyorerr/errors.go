// Package conveyorerr defines the tagged error taxonomy surfaced by the plan
// engine (spec.md §7). Each kind is its own struct implementing error so
// callers can distinguish them with errors.As while still getting a useful
// free-text message.
package conveyorerr

import "fmt"

// PlanNotFoundError is returned when a plan_id does not resolve to a stored plan.
type PlanNotFoundError struct {
	PlanID string
}

func (e *PlanNotFoundError) Error() string {
	return fmt.Sprintf("plan %q not found", e.PlanID)
}

// PlanTypeNotSupportedError is returned when a plan's type is outside {clone, migrate}.
type PlanTypeNotSupportedError struct {
	PlanType string
}

func (e *PlanTypeNotSupportedError) Error() string {
	return fmt.Sprintf("plan type %q is not supported", e.PlanType)
}

// PlanCreateFailedError wraps a failure to allocate and persist a new plan.
type PlanCreateFailedError struct {
	Reason string
	Cause  error
}

func (e *PlanCreateFailedError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("create plan failed: %s: %v", e.Reason, e.Cause)
	}
	return fmt.Sprintf("create plan failed: %s", e.Reason)
}

func (e *PlanCreateFailedError) Unwrap() error { return e.Cause }

// PlanUpdateError is returned when a plan update rejects an unknown or
// disallowed field, or an illegal status transition.
type PlanUpdateError struct {
	PlanID string
	Reason string
}

func (e *PlanUpdateError) Error() string {
	return fmt.Sprintf("update plan %q failed: %s", e.PlanID, e.Reason)
}

// PlanResourcesUpdateError is returned when update-resources (the mutation
// engine) rejects an edit: references still pointing at a deleted resource,
// an out-of-range fixed IP, a duplicate network, a validation failure against
// the stack-engine schema, and so on.
type PlanResourcesUpdateError struct {
	PlanID string
	Reason string
}

func (e *PlanResourcesUpdateError) Error() string {
	return fmt.Sprintf("update resources on plan %q failed: %s", e.PlanID, e.Reason)
}

// PlanDeployError wraps a failure to submit or watch a deployed stack.
type PlanDeployError struct {
	PlanID string
	Cause  error
}

func (e *PlanDeployError) Error() string {
	return fmt.Sprintf("deploy plan %q failed: %v", e.PlanID, e.Cause)
}

func (e *PlanDeployError) Unwrap() error { return e.Cause }

// PlanCloneFailedError is returned when a clone orchestration run fails.
type PlanCloneFailedError struct {
	PlanID string
	Reason string
	Cause  error
}

func (e *PlanCloneFailedError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("clone plan %q failed: %s: %v", e.PlanID, e.Reason, e.Cause)
	}
	return fmt.Sprintf("clone plan %q failed: %s", e.PlanID, e.Reason)
}

func (e *PlanCloneFailedError) Unwrap() error { return e.Cause }

// PlanMigrateFailedError is returned when a migrate orchestration run fails.
type PlanMigrateFailedError struct {
	PlanID string
	Reason string
	Cause  error
}

func (e *PlanMigrateFailedError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("migrate plan %q failed: %s: %v", e.PlanID, e.Reason, e.Cause)
	}
	return fmt.Sprintf("migrate plan %q failed: %s", e.PlanID, e.Reason)
}

func (e *PlanMigrateFailedError) Unwrap() error { return e.Cause }

// ExportTemplateFailedError is returned when template shaping/export fails.
type ExportTemplateFailedError struct {
	PlanID string
	Cause  error
}

func (e *ExportTemplateFailedError) Error() string {
	return fmt.Sprintf("export template for plan %q failed: %v", e.PlanID, e.Cause)
}

func (e *ExportTemplateFailedError) Unwrap() error { return e.Cause }

// DownloadTemplateFailedError is returned when the stored template cannot be retrieved.
type DownloadTemplateFailedError struct {
	PlanID string
	Cause  error
}

func (e *DownloadTemplateFailedError) Error() string {
	return fmt.Sprintf("download template for plan %q failed: %v", e.PlanID, e.Cause)
}

func (e *DownloadTemplateFailedError) Unwrap() error { return e.Cause }

// ResourceNotFoundError is returned when a local resource name does not
// resolve within a plan's resource map, or a live-cloud lookup misses.
type ResourceNotFoundError struct {
	PlanID       string
	ResourceName string
}

func (e *ResourceNotFoundError) Error() string {
	if e.PlanID != "" {
		return fmt.Sprintf("resource %q not found in plan %q", e.ResourceName, e.PlanID)
	}
	return fmt.Sprintf("resource %q not found", e.ResourceName)
}

// AvailabilityZoneNotFoundError is returned when a source or destination AZ
// cannot be resolved via the AZ mapper.
type AvailabilityZoneNotFoundError struct {
	Zone string
}

func (e *AvailabilityZoneNotFoundError) Error() string {
	return fmt.Sprintf("availability zone %q not found", e.Zone)
}

// NoMigrateNetProvidedError is returned when a running source server exposes
// no usable IP for the gateway and no migrate_net_map entry exists for its AZ
// (spec.md §4.4.3 (c), §8 scenario 2).
type NoMigrateNetProvidedError struct {
	AZ       string
	ServerID string
}

func (e *NoMigrateNetProvidedError) Error() string {
	return fmt.Sprintf("no migrate network provided for AZ %q (server %q) and no usable port binding found", e.AZ, e.ServerID)
}

// ServiceCatalogExceptionError wraps a failure to resolve or reach an
// external collaborator endpoint (stack engine, driver, agent).
type ServiceCatalogExceptionError struct {
	Service string
	Cause   error
}

func (e *ServiceCatalogExceptionError) Error() string {
	return fmt.Sprintf("service catalog exception for %q: %v", e.Service, e.Cause)
}

func (e *ServiceCatalogExceptionError) Unwrap() error { return e.Cause }

// V2VExceptionError wraps a failure within the data-copy (V2V/gateway) path:
// shareable-flag toggling, volume attach, device discovery, or the in-guest
// agent RPC itself.
type V2VExceptionError struct {
	Stage string
	Cause error
}

func (e *V2VExceptionError) Error() string {
	return fmt.Sprintf("v2v exception during %s: %v", e.Stage, e.Cause)
}

func (e *V2VExceptionError) Unwrap() error { return e.Cause }

package planstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Hybrid-Cloud/conveyor/plan"
	"github.com/Hybrid-Cloud/conveyor/resourcemodel"
)

// PGConfig holds PostgreSQL connection configuration (mirrors
// store.PGConfig's shape).
type PGConfig struct {
	DSN      string `yaml:"dsn" json:"dsn"`
	MaxConns int32  `yaml:"max_conns" json:"max_conns"`
	MinConns int32  `yaml:"min_conns" json:"min_conns"`
}

// PGStore implements Store against the row layouts in spec.md §6:
// plans, plan_template, plan_stack, plan_cloned_resources,
// plan_availability_zone_mapper.
type PGStore struct {
	pool *pgxpool.Pool
}

// NewPGStore connects to PostgreSQL and verifies connectivity with a ping,
// mirroring store.NewPGStore.
func NewPGStore(ctx context.Context, cfg PGConfig) (*PGStore, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse pg config: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("create pg pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping pg: %w", err)
	}
	return &PGStore{pool: pool}, nil
}

// Close releases the underlying connection pool.
func (s *PGStore) Close() { s.pool.Close() }

// Pool returns the underlying pgxpool.Pool.
func (s *PGStore) Pool() *pgxpool.Pool { return s.pool }

func (s *PGStore) CreatePlan(ctx context.Context, p *plan.Plan) error {
	resources, deps, err := marshalResourceState(p)
	if err != nil {
		return fmt.Errorf("marshal plan %q: %w", p.PlanID, err)
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO plans (
			plan_id, plan_type, project_id, user_id, task_status, plan_status,
			clone_resources, stack_id, created_at, updated_at, expire_at,
			deleted, sys_clone, copy_data
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)`,
		p.PlanID, string(p.PlanType), p.ProjectID, p.UserID, p.TaskStatus, string(p.PlanStatus),
		resources, p.StackID, p.CreatedAt, p.UpdatedAt, p.ExpireAt,
		p.Deleted, p.SysClone, p.CopyData)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("insert plan %q: %w", p.PlanID, err)
	}

	if len(deps) > 0 {
		if _, err := s.pool.Exec(ctx,
			`UPDATE plans SET updated_dependencies = $2 WHERE plan_id = $1`,
			p.PlanID, deps); err != nil {
			return fmt.Errorf("insert plan dependencies %q: %w", p.PlanID, err)
		}
	}
	return nil
}

func (s *PGStore) GetPlan(ctx context.Context, planID string) (*plan.Plan, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT plan_id, plan_type, project_id, user_id, task_status, plan_status,
			clone_resources, stack_id, created_at, updated_at, expire_at,
			deleted, sys_clone, copy_data
		FROM plans WHERE plan_id = $1`, planID)

	var (
		p              plan.Plan
		planType       string
		planStatus     string
		resourcesJSON  []byte
	)
	err := row.Scan(&p.PlanID, &planType, &p.ProjectID, &p.UserID, &p.TaskStatus, &planStatus,
		&resourcesJSON, &p.StackID, &p.CreatedAt, &p.UpdatedAt, &p.ExpireAt,
		&p.Deleted, &p.SysClone, &p.CopyData)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get plan %q: %w", planID, err)
	}
	p.PlanType = plan.Type(planType)
	p.PlanStatus = plan.Status(planStatus)

	if err := unmarshalResourceState(&p, resourcesJSON); err != nil {
		return nil, fmt.Errorf("unmarshal plan %q resources: %w", planID, err)
	}
	return &p, nil
}

func (s *PGStore) ListPlans(ctx context.Context, projectID string) ([]*plan.Plan, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT plan_id FROM plans WHERE deleted = false AND ($1 = '' OR project_id = $1)
		ORDER BY created_at ASC`, projectID)
	if err != nil {
		return nil, fmt.Errorf("list plans: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan plan id: %w", err)
		}
		ids = append(ids, id)
	}

	out := make([]*plan.Plan, 0, len(ids))
	for _, id := range ids {
		p, err := s.GetPlan(ctx, id)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}

func (s *PGStore) UpdatePlan(ctx context.Context, p *plan.Plan) error {
	resources, deps, err := marshalResourceState(p)
	if err != nil {
		return fmt.Errorf("marshal plan %q: %w", p.PlanID, err)
	}

	tag, err := s.pool.Exec(ctx, `
		UPDATE plans SET
			task_status = $2, plan_status = $3, clone_resources = $4,
			updated_dependencies = $5, stack_id = $6, updated_at = NOW(),
			sys_clone = $7, copy_data = $8, deleted = $9
		WHERE plan_id = $1`,
		p.PlanID, p.TaskStatus, string(p.PlanStatus), resources, deps, p.StackID,
		p.SysClone, p.CopyData, p.Deleted)
	if err != nil {
		return fmt.Errorf("update plan %q: %w", p.PlanID, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PGStore) DeletePlan(ctx context.Context, planID string, tolerateMissing bool) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	for _, stmt := range []string{
		`DELETE FROM plan_cloned_resources WHERE plan_id = $1`,
		`DELETE FROM plan_availability_zone_mapper WHERE plan_id = $1`,
		`DELETE FROM plan_stack WHERE plan_id = $1`,
		`DELETE FROM plan_template WHERE plan_id = $1`,
	} {
		if _, err := tx.Exec(ctx, stmt, planID); err != nil {
			return fmt.Errorf("delete satellite row for plan %q: %w", planID, err)
		}
	}

	tag, err := tx.Exec(ctx, `DELETE FROM plans WHERE plan_id = $1`, planID)
	if err != nil {
		return fmt.Errorf("delete plan %q: %w", planID, err)
	}
	if tag.RowsAffected() == 0 && !tolerateMissing {
		return ErrNotFound
	}
	return tx.Commit(ctx)
}

func (s *PGStore) SaveTemplate(ctx context.Context, planID string, template map[string]any) error {
	data, err := json.Marshal(template)
	if err != nil {
		return fmt.Errorf("marshal template for plan %q: %w", planID, err)
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO plan_template (plan_id, template)
		VALUES ($1, $2)
		ON CONFLICT (plan_id) DO UPDATE SET template = EXCLUDED.template`,
		planID, data)
	if err != nil {
		return fmt.Errorf("upsert template for plan %q: %w", planID, err)
	}
	return nil
}

func (s *PGStore) GetTemplate(ctx context.Context, planID string) (map[string]any, error) {
	var data []byte
	err := s.pool.QueryRow(ctx, `SELECT template FROM plan_template WHERE plan_id = $1`, planID).Scan(&data)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get template for plan %q: %w", planID, err)
	}
	var out map[string]any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("unmarshal template for plan %q: %w", planID, err)
	}
	return out, nil
}

func (s *PGStore) SaveClonedResources(ctx context.Context, row ClonedResources) error {
	relation, err := json.Marshal(row.Relation)
	if err != nil {
		return fmt.Errorf("marshal relation for plan %q: %w", row.PlanID, err)
	}
	deps, err := json.Marshal(row.Dependencies)
	if err != nil {
		return fmt.Errorf("marshal dependencies for plan %q: %w", row.PlanID, err)
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO plan_cloned_resources (plan_id, destination, relation, dependencies)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (plan_id) DO UPDATE SET
			destination = EXCLUDED.destination,
			relation = EXCLUDED.relation,
			dependencies = EXCLUDED.dependencies`,
		row.PlanID, row.Destination, relation, deps)
	if err != nil {
		return fmt.Errorf("upsert cloned resources for plan %q: %w", row.PlanID, err)
	}
	return nil
}

func (s *PGStore) GetClonedResources(ctx context.Context, planID string) (*ClonedResources, error) {
	var (
		destination        string
		relation, dependencies []byte
	)
	err := s.pool.QueryRow(ctx,
		`SELECT destination, relation, dependencies FROM plan_cloned_resources WHERE plan_id = $1`,
		planID).Scan(&destination, &relation, &dependencies)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get cloned resources for plan %q: %w", planID, err)
	}
	out := &ClonedResources{PlanID: planID, Destination: destination}
	if err := json.Unmarshal(relation, &out.Relation); err != nil {
		return nil, fmt.Errorf("unmarshal relation for plan %q: %w", planID, err)
	}
	if err := json.Unmarshal(dependencies, &out.Dependencies); err != nil {
		return nil, fmt.Errorf("unmarshal dependencies for plan %q: %w", planID, err)
	}
	return out, nil
}

func (s *PGStore) SaveAZMapper(ctx context.Context, planID string, azMapper map[string]string) error {
	data, err := json.Marshal(azMapper)
	if err != nil {
		return fmt.Errorf("marshal az mapper for plan %q: %w", planID, err)
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO plan_availability_zone_mapper (plan_id, az_mapper)
		VALUES ($1, $2)
		ON CONFLICT (plan_id) DO UPDATE SET az_mapper = EXCLUDED.az_mapper`,
		planID, data)
	if err != nil {
		return fmt.Errorf("upsert az mapper for plan %q: %w", planID, err)
	}
	return nil
}

func (s *PGStore) GetAZMapper(ctx context.Context, planID string) (map[string]string, error) {
	var data []byte
	err := s.pool.QueryRow(ctx, `SELECT az_mapper FROM plan_availability_zone_mapper WHERE plan_id = $1`, planID).Scan(&data)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return map[string]string{}, nil
		}
		return nil, fmt.Errorf("get az mapper for plan %q: %w", planID, err)
	}
	out := map[string]string{}
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("unmarshal az mapper for plan %q: %w", planID, err)
	}
	return out, nil
}

// resourceState is the JSON envelope stored in plans.clone_resources,
// holding both resource maps so a single row captures the plan's full
// resource/dependency snapshot (spec.md §6 "plans(... clone_resources
// JSON ...)").
type resourceState struct {
	OriginalResources map[string]*resourcemodel.Resource           `json:"original_resources"`
	UpdatedResources  map[string]*resourcemodel.Resource            `json:"updated_resources"`
	OriginalDeps      map[string]*resourcemodel.ResourceDependency `json:"original_dependencies"`
}

func marshalResourceState(p *plan.Plan) (resources []byte, updatedDeps []byte, err error) {
	state := resourceState{
		OriginalResources: p.OriginalResources,
		UpdatedResources:  p.UpdatedResources,
		OriginalDeps:      p.OriginalDependencies,
	}
	resources, err = json.Marshal(state)
	if err != nil {
		return nil, nil, err
	}
	updatedDeps, err = json.Marshal(p.UpdatedDependencies)
	if err != nil {
		return nil, nil, err
	}
	return resources, updatedDeps, nil
}

func unmarshalResourceState(p *plan.Plan, data []byte) error {
	var state resourceState
	if err := json.Unmarshal(data, &state); err != nil {
		return err
	}
	p.OriginalResources = state.OriginalResources
	p.UpdatedResources = state.UpdatedResources
	p.OriginalDependencies = state.OriginalDeps
	if p.OriginalResources == nil {
		p.OriginalResources = map[string]*resourcemodel.Resource{}
	}
	if p.UpdatedResources == nil {
		p.UpdatedResources = map[string]*resourcemodel.Resource{}
	}
	if p.OriginalDependencies == nil {
		p.OriginalDependencies = map[string]*resourcemodel.ResourceDependency{}
	}
	p.UpdatedDependencies = map[string]*resourcemodel.ResourceDependency{}
	return nil
}

func isUniqueViolation(err error) bool {
	return err != nil && (strings.Contains(err.Error(), "duplicate key") || strings.Contains(err.Error(), "unique constraint"))
}

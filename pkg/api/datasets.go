package api

import (
	"context"
	"net/http"
)

// Datasets is the read-only datasets endpoint.
type Datasets struct {
	*endpoint
}

func newDatasets(a *API) (*Datasets, error) {
	e, err := newEndpoint(a, endpointConfig{
		route: "datasets",
		verbs: []string{http.MethodGet},
	})
	if err != nil {
		return nil, err
	}
	return &Datasets{endpoint: e}, nil
}

// Get lists datasets, optionally filtered (e.g. active_only, name).
func (d *Datasets) Get(ctx context.Context, params Params) (any, error) {
	return d.get(ctx, "", "", params)
}

// GetOne fetches a single dataset by id.
func (d *Datasets) GetOne(ctx context.Context, id int) (map[string]any, error) {
	return getOne(ctx, d.endpoint, id)
}

// Tasks is the read-only tasks endpoint. Task names can be used in place of
// ids; dataset_name resolves before task_name so the lookup is constrained.
type Tasks struct {
	*endpoint
}

func newTasks(a *API) (*Tasks, error) {
	e, err := newEndpoint(a, endpointConfig{
		route:        "tasks",
		verbs:        []string{http.MethodGet},
		resolveNames: true,
	})
	if err != nil {
		return nil, err
	}
	return &Tasks{endpoint: e}, nil
}

// Get lists tasks, filterable by dataset_id or dataset_name.
func (t *Tasks) Get(ctx context.Context, params Params) (any, error) {
	return t.get(ctx, "", "", params)
}

// GetOne fetches a single task by id.
func (t *Tasks) GetOne(ctx context.Context, id int) (map[string]any, error) {
	return getOne(ctx, t.endpoint, id)
}

// Runs is the read-only runs endpoint, filterable by dataset, task, subject,
// run number and session.
type Runs struct {
	*endpoint
}

func newRuns(a *API) (*Runs, error) {
	e, err := newEndpoint(a, endpointConfig{
		route:        "runs",
		verbs:        []string{http.MethodGet},
		resolveNames: true,
	})
	if err != nil {
		return nil, err
	}
	return &Runs{endpoint: e}, nil
}

// Get lists runs matching the given filters.
func (r *Runs) Get(ctx context.Context, params Params) (any, error) {
	return r.get(ctx, "", "", params)
}

// GetOne fetches a single run by id.
func (r *Runs) GetOne(ctx context.Context, id int) (map[string]any, error) {
	return getOne(ctx, r.endpoint, id)
}

// getOne fetches a record by numeric id through the full get pipeline.
func getOne(ctx context.Context, e *endpoint, id int) (map[string]any, error) {
	v, err := e.get(ctx, formatID(id), "", nil)
	if err != nil {
		return nil, err
	}
	m, ok := v.(map[string]any)
	if !ok {
		return nil, ErrResolution.New("unexpected response fetching " + e.cfg.route + " record")
	}
	return m, nil
}

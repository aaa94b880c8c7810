package api

import (
	"context"
	"fmt"
	"reflect"
	"strings"
)

// resolveNameParams replaces every *_name parameter with the matching *_id by
// querying the pluralized sibling endpoint. Keys are processed in
// alphabetical order, which guarantees dataset_name resolves before
// task_name, so the task lookup can be constrained by the freshly derived
// dataset_id. predictor_name lookups are likewise constrained by run_id when
// one is present.
//
// A scalar name must match exactly one record; zero or multiple matches are
// errors. A list of names resolves to a list of ids and must match every
// name. The *_name key is removed from the parameter set in all cases.
func resolveNameParams(ctx context.Context, a *API, params Params) error {
	for _, k := range sortedKeys(params) {
		if !strings.HasSuffix(k, "_name") {
			continue
		}
		prefix := strings.TrimSuffix(k, "_name")

		sibling := a.lookup(pluralize(prefix))
		if sibling == nil {
			return ErrValidation.New("no API endpoint for " + k)
		}

		filter := Params{"name": params[k]}
		switch k {
		case "task_name":
			if v, ok := params["dataset_id"]; ok {
				filter["dataset_id"] = v
			}
		case "predictor_name":
			if v, ok := params["run_id"]; ok {
				filter["run_id"] = v
			}
		}

		v, err := sibling.getRaw(ctx, "", "", filter)
		if err != nil {
			return err
		}
		records, ok := v.([]any)
		if !ok {
			return ErrResolution.New("unexpected response resolving " + k)
		}

		if isList(params[k]) {
			want := reflect.ValueOf(params[k]).Len()
			if len(records) != want {
				return ErrResolution.New(fmt.Sprintf(
					"%d of %d %s found using provided arguments", len(records), want, pluralize(prefix)))
			}
			ids := make([]any, 0, len(records))
			for _, r := range records {
				ids = append(ids, recordID(r))
			}
			params[prefix+"_id"] = ids
		} else {
			if len(records) == 0 {
				return ErrResolution.New("no " + pluralize(prefix) + " found using provided arguments")
			}
			if len(records) > 1 {
				return ErrResolution.New("multiple " + pluralize(prefix) + " found using provided arguments")
			}
			params[prefix+"_id"] = recordID(records[0])
		}
		delete(params, k)
	}
	return nil
}

// runFilterFields are the filters run discovery consumes. Name resolution
// runs first, so dataset_name/task_name have already become ids by the time
// discovery inspects the parameter set.
var runFilterFields = []string{"dataset_id", "task_id", "subject", "number", "session"}

// discoverRuns resolves run-level filters into a concrete run_id list via the
// runs endpoint. Passing run_id (or run_ids) together with any filter field
// is a conflict.
func discoverRuns(ctx context.Context, a *API, params Params) error {
	search := Params{}
	for _, f := range runFilterFields {
		if v, ok := params[f]; ok {
			search[f] = v
		}
	}
	if len(search) == 0 {
		if v, ok := params["run_ids"]; ok {
			params["run_id"] = v
			delete(params, "run_ids")
		}
		return nil
	}

	if _, ok := params["run_id"]; ok {
		return ErrConflict.New("run filter arguments cannot be provided if run_id is provided")
	}
	if _, ok := params["run_ids"]; ok {
		return ErrConflict.New("run filter arguments cannot be provided if run_ids are provided")
	}

	for f := range search {
		delete(params, f)
	}

	v, err := a.lookup("runs").getRaw(ctx, "", "", search)
	if err != nil {
		return err
	}
	records, ok := v.([]any)
	if !ok {
		return ErrResolution.New("unexpected response discovering runs")
	}
	if len(records) == 0 {
		return ErrResolution.New("no runs found using provided arguments")
	}

	ids := make([]any, 0, len(records))
	for _, r := range records {
		ids = append(ids, recordID(r))
	}
	params["run_id"] = ids
	return nil
}

// pluralize derives the sibling resource route from a field prefix.
func pluralize(prefix string) string {
	return prefix + "s"
}

func isList(v any) bool {
	if v == nil {
		return false
	}
	k := reflect.ValueOf(v).Kind()
	return k == reflect.Slice || k == reflect.Array
}

// recordID extracts the id field from a generic record.
func recordID(record any) any {
	m, ok := record.(map[string]any)
	if !ok {
		return nil
	}
	return m["id"]
}

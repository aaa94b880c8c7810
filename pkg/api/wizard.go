package api

import (
	"context"
	"sort"
)

// CreateAnalysisOptions are the inputs of the analysis creation wizard.
// Names are resolved to the numeric ids a full analysis specification needs;
// the model skeleton is generated from the resolved values.
type CreateAnalysisOptions struct {
	Name           string   `validate:"required"`
	DatasetName    string   `validate:"required"`
	PredictorNames []string `validate:"required,min=1"`

	// Tasks restricts the analysis to the named tasks; empty means all
	// tasks in the dataset.
	Tasks []string
	// Subjects, RunNumbers and Session filter the runs included.
	Subjects   []string
	RunNumbers []int
	Session    string

	HRFVariables    []string
	Contrasts       []map[string]any
	Transformations []map[string]any
	DummyContrasts  string

	Description string
	Private     *bool
}

// CreateAnalysis assembles and creates a complete analysis from names and
// filters. Predictor names missing from the public listing fall back to the
// calling user's private predictors. The returned Analysis is already synced
// (hash id assigned).
func (s *Analyses) CreateAnalysis(ctx context.Context, opts CreateAnalysisOptions) (*Analysis, error) {
	if err := validate.Struct(opts); err != nil {
		return nil, ErrValidation.MsgErr("invalid analysis options", err)
	}

	dataset, err := s.findDataset(ctx, opts.DatasetName)
	if err != nil {
		return nil, err
	}

	taskNames, taskIDs, err := resolveTasks(dataset, opts.Tasks)
	if err != nil {
		return nil, err
	}

	runs, err := s.findRuns(ctx, dataset.ID, taskIDs, opts)
	if err != nil {
		return nil, err
	}

	runIDs := make([]int, 0, len(runs))
	subjectSet := map[string]bool{}
	numberSet := map[int]bool{}
	for _, r := range runs {
		runIDs = append(runIDs, r.ID)
		if r.Subject != "" {
			subjectSet[r.Subject] = true
		}
		if r.Number != 0 {
			numberSet[r.Number] = true
		}
	}
	subjects := sortedStrings(subjectSet)
	numbers := sortedInts(numberSet)

	predictorIDs, err := s.resolvePredictors(ctx, runIDs, opts.PredictorNames)
	if err != nil {
		return nil, err
	}

	model, err := BuildModel(ModelSpec{
		Name:            opts.Name,
		Variables:       opts.PredictorNames,
		Tasks:           taskNames,
		Subjects:        subjects,
		Runs:            numbers,
		Session:         opts.Session,
		HRFVariables:    opts.HRFVariables,
		Transformations: opts.Transformations,
		Contrasts:       opts.Contrasts,
		DummyContrasts:  opts.DummyContrasts,
	})
	if err != nil {
		return nil, err
	}

	return s.NewAnalysis(ctx, &Analysis{
		Name:        opts.Name,
		DatasetID:   dataset.ID,
		Description: opts.Description,
		Model:       model,
		Runs:        runIDs,
		Predictors:  predictorIDs,
		Private:     opts.Private,
	})
}

// findDataset resolves a dataset name against the full (inactive included)
// dataset listing.
func (s *Analyses) findDataset(ctx context.Context, name string) (*Dataset, error) {
	v, err := s.api.Datasets.Get(ctx, Params{"active_only": false})
	if err != nil {
		return nil, err
	}
	var datasets []Dataset
	if err := decodeRecord(v, &datasets); err != nil {
		return nil, err
	}

	var match *Dataset
	for i := range datasets {
		if datasets[i].Name == name {
			if match != nil {
				return nil, ErrResolution.New("multiple datasets found using provided arguments")
			}
			match = &datasets[i]
		}
	}
	if match == nil {
		return nil, ErrResolution.New("dataset name does not match any existing dataset")
	}
	return match, nil
}

// resolveTasks maps requested task names onto the dataset's tasks; with no
// request, all dataset tasks are used.
func resolveTasks(dataset *Dataset, requested []string) ([]string, []int, error) {
	if len(requested) == 0 {
		names := make([]string, 0, len(dataset.Tasks))
		ids := make([]int, 0, len(dataset.Tasks))
		for _, t := range dataset.Tasks {
			names = append(names, t.Name)
			ids = append(ids, t.ID)
		}
		return names, ids, nil
	}

	ids := make([]int, 0, len(requested))
	for _, name := range requested {
		id := 0
		for _, t := range dataset.Tasks {
			if t.Name == name {
				if id != 0 {
					return nil, nil, ErrResolution.New("multiple tasks found using provided arguments")
				}
				id = t.ID
			}
		}
		if id == 0 {
			return nil, nil, ErrResolution.New("task name does not match any tasks in the dataset")
		}
		ids = append(ids, id)
	}
	return requested, ids, nil
}

// findRuns lists the runs matching the wizard's filters.
func (s *Analyses) findRuns(ctx context.Context, datasetID int, taskIDs []int, opts CreateAnalysisOptions) ([]Run, error) {
	params := Params{
		"dataset_id": datasetID,
		"task_id":    taskIDs,
	}
	if len(opts.Subjects) > 0 {
		params["subject"] = opts.Subjects
	}
	if len(opts.RunNumbers) > 0 {
		params["number"] = opts.RunNumbers
	}
	if opts.Session != "" {
		params["session"] = opts.Session
	}

	v, err := s.api.Runs.Get(ctx, params)
	if err != nil {
		return nil, err
	}
	var runs []Run
	if err := decodeRecord(v, &runs); err != nil {
		return nil, err
	}
	if len(runs) == 0 {
		return nil, ErrResolution.New("no runs found using provided arguments")
	}
	return runs, nil
}

// resolvePredictors maps predictor names to ids over the given runs,
// consulting the public listing first and the user's private predictors for
// any names not found there.
func (s *Analyses) resolvePredictors(ctx context.Context, runIDs []int, names []string) ([]int, error) {
	v, err := s.api.Predictors.Get(ctx, Params{
		"run_id":      runIDs,
		"name":        names,
		"active_only": false,
	})
	if err != nil {
		return nil, err
	}
	var public []Predictor
	if err := decodeRecord(v, &public); err != nil {
		return nil, err
	}

	ids := make([]int, 0, len(names))
	found := map[string]bool{}
	for _, p := range public {
		ids = append(ids, p.ID)
		found[p.Name] = true
	}

	for _, name := range names {
		if found[name] {
			continue
		}
		v, err := s.api.User.MyPredictors(ctx, Params{"run_id": runIDs, "name": name})
		if err != nil {
			return nil, err
		}
		var private []Predictor
		if err := decodeRecord(v, &private); err != nil {
			return nil, err
		}
		for _, p := range private {
			ids = append(ids, p.ID)
		}
	}

	if len(ids) != len(names) {
		return nil, ErrResolution.New("not all named predictors could be found for the specified runs")
	}
	return ids, nil
}

func sortedStrings(set map[string]bool) []string {
	out := make([]string, 0, len(set))
	for s := range set {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

func sortedInts(set map[int]bool) []int {
	out := make([]int, 0, len(set))
	for n := range set {
		out = append(out, n)
	}
	sort.Ints(out)
	return out
}

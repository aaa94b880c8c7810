package api

import (
	"context"

	"github.com/mitchellh/mapstructure"
)

// Analysis is a stateful handle on a single analysis. The exported fields
// are the ones the server accepts on create and update; everything else the
// server returns lives in Extra. Mutate the fields and Push to save, Pull to
// discard local changes.
type Analysis struct {
	HashID      string         `mapstructure:"hash_id"`
	Name        string         `mapstructure:"name"`
	DatasetID   int            `mapstructure:"dataset_id"`
	Description string         `mapstructure:"description"`
	Predictions string         `mapstructure:"predictions"`
	Model       map[string]any `mapstructure:"model"`
	Predictors  []int          `mapstructure:"predictors"`
	Runs        []int          `mapstructure:"runs"`
	Private     *bool          `mapstructure:"private"`

	// Extra holds the read-only fields of the last server response,
	// status and modification times among them.
	Extra map[string]any `mapstructure:"-"`

	analyses *Analyses
}

// NewAnalysis creates the draft on the server and returns the synced handle.
func (s *Analyses) NewAnalysis(ctx context.Context, draft *Analysis) (*Analysis, error) {
	resp, err := s.Create(ctx, draft.asPayload())
	if err != nil {
		return nil, err
	}
	a := &Analysis{analyses: s}
	if err := a.fromMap(resp); err != nil {
		return nil, err
	}
	return a, nil
}

// GetAnalysis fetches an existing analysis by hash id.
func (s *Analyses) GetAnalysis(ctx context.Context, id string) (*Analysis, error) {
	resp, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	a := &Analysis{analyses: s}
	if err := a.fromMap(resp); err != nil {
		return nil, err
	}
	return a, nil
}

// fromMap overlays a server response onto the handle. Only keys present in
// the response are applied; unmapped keys land in Extra.
func (a *Analysis) fromMap(resp map[string]any) error {
	var md mapstructure.Metadata
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           a,
		Metadata:         &md,
		WeaklyTypedInput: true,
	})
	if err != nil {
		return err
	}
	if err := dec.Decode(resp); err != nil {
		return ErrValidation.MsgErr("malformed analysis record", err)
	}
	if a.Extra == nil {
		a.Extra = map[string]any{}
	}
	for _, key := range md.Unused {
		a.Extra[key] = resp[key]
	}
	return nil
}

// asPayload maps the mutable fields onto a request body. Zero values are
// dropped except Runs and Predictors, which distinguish unset (nil) from
// deliberately cleared (empty slice).
func (a *Analysis) asPayload() Params {
	p := Params{}
	if a.Name != "" {
		p["name"] = a.Name
	}
	if a.DatasetID != 0 {
		p["dataset_id"] = a.DatasetID
	}
	if a.Description != "" {
		p["description"] = a.Description
	}
	if a.Predictions != "" {
		p["predictions"] = a.Predictions
	}
	if a.Model != nil {
		p["model"] = a.Model
	}
	if a.Predictors != nil {
		p["predictors"] = a.Predictors
	}
	if a.Runs != nil {
		p["runs"] = a.Runs
	}
	if a.Private != nil {
		p["private"] = *a.Private
	}
	return p
}

// Push saves the local state to the server and refreshes the handle from
// the response.
func (a *Analysis) Push(ctx context.Context) error {
	resp, err := a.analyses.Update(ctx, a.HashID, a.asPayload())
	if err != nil {
		return err
	}
	return a.fromMap(resp)
}

// Pull replaces the local state with the server's current record.
func (a *Analysis) Pull(ctx context.Context) error {
	resp, err := a.analyses.Get(ctx, a.HashID)
	if err != nil {
		return err
	}
	return a.fromMap(resp)
}

// Fill requests server-side completion of runs and predictors and refreshes
// the handle. With dryrun the completed record is returned without saving
// and the local state is left untouched.
func (a *Analysis) Fill(ctx context.Context, partial, dryrun bool) (map[string]any, error) {
	resp, err := a.analyses.Fill(ctx, a.HashID, partial, dryrun)
	if err != nil {
		return nil, err
	}
	if !dryrun {
		if err := a.fromMap(resp); err != nil {
			return nil, err
		}
	}
	return resp, nil
}

// Clone copies the analysis server-side and returns a handle on the copy.
// A non-zero datasetID retargets the copy at another dataset: runs and
// predictors are cleared, the copy is pushed and then filled.
func (a *Analysis) Clone(ctx context.Context, datasetID int) (*Analysis, error) {
	resp, err := a.analyses.Clone(ctx, a.HashID)
	if err != nil {
		return nil, err
	}
	clone := &Analysis{analyses: a.analyses}
	if err := clone.fromMap(resp); err != nil {
		return nil, err
	}
	if datasetID == 0 || datasetID == clone.DatasetID {
		return clone, nil
	}

	clone.DatasetID = datasetID
	clone.Runs = []int{}
	clone.Predictors = []int{}
	if err := clone.Push(ctx); err != nil {
		return nil, err
	}
	if _, err := clone.Fill(ctx, true, false); err != nil {
		return nil, err
	}
	return clone, nil
}

// Delete removes the analysis on the server. The handle is stale afterwards.
func (a *Analysis) Delete(ctx context.Context) error {
	return a.analyses.Delete(ctx, a.HashID)
}

// GetStatus returns the compilation status record. Status fields are
// mirrored into Extra so a handle held across a compile stays current.
func (a *Analysis) GetStatus(ctx context.Context) (map[string]any, error) {
	record, err := a.analyses.GetStatus(ctx, a.HashID)
	if err != nil {
		return nil, err
	}
	if a.Extra == nil {
		a.Extra = map[string]any{}
	}
	for _, k := range []string{"status", "traceback", "compiled_at"} {
		if v, ok := record[k]; ok {
			a.Extra[k] = v
		}
	}
	return record, nil
}

// GetResources returns the read-only resource record (task names, subjects,
// available contrasts).
func (a *Analysis) GetResources(ctx context.Context) (map[string]any, error) {
	return a.analyses.GetResources(ctx, a.HashID)
}

// GetFull returns the full record, nested run and predictor objects
// included.
func (a *Analysis) GetFull(ctx context.Context) (map[string]any, error) {
	return a.analyses.GetFull(ctx, a.HashID)
}

func (a *Analysis) GetBundle(ctx context.Context, filename string) ([]byte, error) {
	return a.analyses.GetBundle(ctx, a.HashID, filename)
}

func (a *Analysis) Compile(ctx context.Context, opts CompileOptions) (map[string]any, error) {
	return a.analyses.Compile(ctx, a.HashID, opts)
}

func (a *Analysis) GenerateReport(ctx context.Context, opts ReportOptions) (map[string]any, error) {
	return a.analyses.GenerateReport(ctx, a.HashID, opts)
}

func (a *Analysis) GetReport(ctx context.Context, runID []int, loopWait bool) (map[string]any, error) {
	return a.analyses.GetReport(ctx, a.HashID, runID, loopWait)
}

func (a *Analysis) GetDesignMatrix(ctx context.Context, runID []int, loopWait bool) (any, error) {
	return a.analyses.GetDesignMatrix(ctx, a.HashID, runID, loopWait)
}

func (a *Analysis) Upload(ctx context.Context, opts UploadOptions) (map[string]any, error) {
	return a.analyses.Upload(ctx, a.HashID, opts)
}

func (a *Analysis) GetUploads(ctx context.Context, sel string, filters Params) ([]map[string]any, error) {
	return a.analyses.GetUploads(ctx, a.HashID, sel, filters)
}

func (a *Analysis) LoadUploads(ctx context.Context, opts LoadUploadsOptions) ([]LoadedImage, error) {
	return a.analyses.LoadUploads(ctx, a.HashID, opts)
}

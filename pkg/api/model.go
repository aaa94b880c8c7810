package api

import (
	jsoniter "github.com/json-iterator/go"
	"github.com/tidwall/sjson"
)

// Dummy contrast generation modes for BuildModel.
const (
	DummyContrastsAll  = "all"  // dummy contrasts for every variable (default)
	DummyContrastsHRF  = "hrf"  // dummy contrasts for the convolved variables only
	DummyContrastsNone = "none" // no run-level dummy contrasts
)

// ModelSpec describes the inputs of a basic multi-level statistical model.
type ModelSpec struct {
	Name            string
	Variables       []string
	Tasks           []string
	Subjects        []string
	Runs            []int
	Session         string
	HRFVariables    []string // subset of Variables convolved with the HRF
	Transformations []map[string]any
	Contrasts       []map[string]any
	DummyContrasts  string // DummyContrastsAll, DummyContrastsHRF or DummyContrastsNone
}

// BuildModel assembles a three-level (run, subject, dataset) statistical
// model skeleton from the spec. HRF variables get a Convolve transformation
// at the run level; each level carries dummy contrasts unless disabled. The
// result is a plain nested mapping, passed to the server uninterpreted.
func BuildModel(spec ModelSpec) (map[string]any, error) {
	if !subset(spec.HRFVariables, spec.Variables) {
		return nil, ErrValidation.New("HRF variables must be a subset of all variables")
	}

	dummy := spec.DummyContrasts
	if dummy == "" {
		dummy = DummyContrastsAll
	}
	switch dummy {
	case DummyContrastsAll, DummyContrastsHRF, DummyContrastsNone:
	default:
		return nil, ErrValidation.New("dummy contrasts mode must be \"all\", \"hrf\" or \"none\"")
	}

	transformations := append([]map[string]any{}, spec.Transformations...)
	if len(spec.HRFVariables) > 0 {
		transformations = append(transformations, map[string]any{
			"Input": spec.HRFVariables,
			"Name":  "Convolve",
		})
	}

	contrasts := spec.Contrasts
	if contrasts == nil {
		contrasts = []map[string]any{}
	}

	runStep := map[string]any{
		"Level":           "Run",
		"Model":           map[string]any{"X": spec.Variables},
		"Transformations": transformations,
		"Contrasts":       contrasts,
	}
	if dummy != DummyContrastsNone {
		runStep["DummyContrasts"] = map[string]any{"Type": "t"}
	}

	model := map[string]any{
		"Name": spec.Name,
		"Input": map[string]any{
			"Subject": spec.Subjects,
			"Task":    spec.Tasks,
		},
		"Steps": []any{
			runStep,
			map[string]any{
				"Level":          "Subject",
				"DummyContrasts": map[string]any{"Type": "FEMA"},
			},
			map[string]any{
				"Level":          "Dataset",
				"DummyContrasts": map[string]any{"Type": "t"},
			},
		},
	}

	// optional fields are grafted onto the serialized skeleton
	raw, err := jsoniter.ConfigCompatibleWithStandardLibrary.Marshal(model)
	if err != nil {
		return nil, err
	}
	if len(spec.Runs) > 0 {
		if raw, err = sjson.SetBytes(raw, "Input.Run", spec.Runs); err != nil {
			return nil, err
		}
	}
	if spec.Session != "" {
		if raw, err = sjson.SetBytes(raw, "Input.Session", spec.Session); err != nil {
			return nil, err
		}
	}
	if dummy == DummyContrastsHRF && len(spec.HRFVariables) > 0 {
		if raw, err = sjson.SetBytes(raw, "Steps.0.DummyContrasts.Conditions", spec.HRFVariables); err != nil {
			return nil, err
		}
	}

	var out map[string]any
	if err := jsoniter.ConfigCompatibleWithStandardLibrary.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func subset(sub, super []string) bool {
	set := make(map[string]bool, len(super))
	for _, s := range super {
		set[s] = true
	}
	for _, s := range sub {
		if !set[s] {
			return false
		}
	}
	return true
}

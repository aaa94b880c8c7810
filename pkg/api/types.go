package api

import (
	"github.com/mitchellh/mapstructure"
)

// Run is a typed view of a runs record.
type Run struct {
	ID          int     `mapstructure:"id"`
	Subject     string  `mapstructure:"subject"`
	Session     string  `mapstructure:"session"`
	Number      int     `mapstructure:"number"`
	Acquisition string  `mapstructure:"acquisition"`
	DatasetID   int     `mapstructure:"dataset_id"`
	TaskID      int     `mapstructure:"task"`
	Duration    float64 `mapstructure:"duration"`
}

// Task is a typed view of a tasks record.
type Task struct {
	ID   int    `mapstructure:"id"`
	Name string `mapstructure:"name"`
}

// Dataset is a typed view of a datasets record.
type Dataset struct {
	ID    int    `mapstructure:"id"`
	Name  string `mapstructure:"name"`
	Tasks []Task `mapstructure:"tasks"`
}

// Predictor is a typed view of a predictors record.
type Predictor struct {
	ID   int    `mapstructure:"id"`
	Name string `mapstructure:"name"`
}

// Collection is a typed view of a predictor collection record. Collections
// are processed asynchronously: status starts as PENDING and moves to OK or
// FAILED.
type Collection struct {
	ID         int         `mapstructure:"id"`
	Status     string      `mapstructure:"status"`
	Predictors []Predictor `mapstructure:"predictors"`
	Traceback  string      `mapstructure:"traceback"`
}

// decodeRecord decodes a generic JSON record into a typed struct.
// Numeric coercion is intentionally loose: the API is not strict about
// int-vs-string for fields like run number.
func decodeRecord(input any, out any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           out,
		WeaklyTypedInput: true,
	})
	if err != nil {
		return err
	}
	return dec.Decode(input)
}

package api

import (
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// modelSchema is the structural contract a model specification must satisfy
// before it is worth submitting for server-side compilation. It checks shape
// only; the server remains the authority on model semantics.
const modelSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["Name", "Input", "Steps"],
  "properties": {
    "Name": {"type": "string", "minLength": 1},
    "Input": {
      "type": "object",
      "properties": {
        "Task": {"type": "array", "items": {"type": "string"}},
        "Subject": {"type": "array", "items": {"type": "string"}},
        "Run": {"type": "array"},
        "Session": {"type": "string"}
      }
    },
    "Steps": {
      "type": "array",
      "minItems": 1,
      "items": {
        "type": "object",
        "required": ["Level"],
        "properties": {
          "Level": {"enum": ["Run", "Session", "Subject", "Dataset"]},
          "Model": {
            "type": "object",
            "properties": {"X": {"type": "array", "items": {"type": "string"}}}
          },
          "Transformations": {"type": "array"},
          "Contrasts": {"type": "array"},
          "DummyContrasts": {"type": "object"}
        }
      }
    }
  }
}`

var compiledModelSchema = jsonschema.MustCompileString("model.schema.json", modelSchema)

// ValidateModel checks a model specification against the model schema.
func ValidateModel(model any) error {
	if model == nil {
		return ErrValidation.New("analysis has no model to validate")
	}
	if err := compiledModelSchema.Validate(model); err != nil {
		msg := strings.ReplaceAll(err.Error(), "\n", "; ")
		return ErrValidation.MsgErr("model specification is invalid: "+msg, err)
	}
	return nil
}

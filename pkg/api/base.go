package api

import (
	"context"
	"net/http"
	"sort"
	"strconv"

	jsoniter "github.com/json-iterator/go"

	"github.com/neuroscout/neuroscout-go/internal/common/apperrors"
	"github.com/neuroscout/neuroscout-go/pkg/client"
)

// Params carries request parameters: query filters on get, body fields on
// post/put. Keys mirror the API's snake_case field names.
type Params map[string]any

// Sentinel errors for local (non-transport) failures.
var (
	// ErrValidation covers configuration and argument validation failures.
	ErrValidation = apperrors.New("validation error").SetStatusCode(http.StatusBadRequest)
	// ErrResolution covers failed name-to-id or run lookups.
	ErrResolution = apperrors.New("resolution error").SetStatusCode(http.StatusBadRequest)
	// ErrConflict covers mutually exclusive arguments supplied together.
	ErrConflict = apperrors.New("conflicting arguments").SetStatusCode(http.StatusBadRequest)
)

// Supported output types for get operations.
const (
	OutputJSON = "json"
	OutputDF   = "df"
)

var supportedVerbs = map[string]bool{
	http.MethodGet:    true,
	http.MethodPost:   true,
	http.MethodPut:    true,
	http.MethodDelete: true,
}

// endpointConfig is the declarative description of one resource endpoint:
// its base route, the verbs it supports, and which get-pipeline stages are
// enabled for it.
type endpointConfig struct {
	route        string
	verbs        []string
	resolveNames bool // *_name keyword arguments resolved to *_id
	findRuns     bool // dataset/task/subject/number/session filters resolved to run ids
}

// endpoint binds a declarative resource configuration to the dispatcher.
// It is stateless beyond its fixed configuration.
type endpoint struct {
	api *API
	cfg endpointConfig
}

// newEndpoint validates the declared verb set and registers the endpoint for
// sibling lookup.
func newEndpoint(a *API, cfg endpointConfig) (*endpoint, error) {
	for _, v := range cfg.verbs {
		if !supportedVerbs[v] {
			return nil, ErrValidation.New("unsupported verb " + v + " declared for " + cfg.route)
		}
	}
	e := &endpoint{api: a, cfg: cfg}
	a.byRoute[cfg.route] = e
	return e, nil
}

func (e *endpoint) supports(verb string) bool {
	for _, v := range e.cfg.verbs {
		if v == verb {
			return true
		}
	}
	return false
}

// getRaw performs a plain get without any pipeline stages. Used internally by
// stages that must not recurse through sibling endpoints' own pipelines.
func (e *endpoint) getRaw(ctx context.Context, id, subRoute string, query Params) (any, error) {
	res, err := e.api.client.Request(ctx, client.RequestOptions{
		Method:   http.MethodGet,
		Route:    e.cfg.route,
		ID:       id,
		SubRoute: subRoute,
		Query:    query,
	})
	if err != nil {
		return nil, err
	}
	return res.Value()
}

// get runs the full get pipeline: name resolution, run discovery, the HTTP
// call, and output shaping, in that fixed order. The reserved "output_type"
// parameter selects the result shape ("json" default, or "df" for a Table
// with id columns augmented by human-readable names).
func (e *endpoint) get(ctx context.Context, id, subRoute string, query Params) (any, error) {
	if !e.supports(http.MethodGet) {
		return nil, ErrValidation.New("get is not supported by " + e.cfg.route)
	}

	params := make(Params, len(query))
	for k, v := range query {
		params[k] = v
	}

	outputType := OutputJSON
	if v, ok := params[paramOutputType]; ok {
		s, _ := v.(string)
		outputType = s
		delete(params, paramOutputType)
	}
	if outputType != OutputJSON && outputType != OutputDF {
		return nil, ErrValidation.New("output_type must be \"json\" or \"df\", got " + strconv.Quote(outputType))
	}

	if e.cfg.resolveNames {
		if err := resolveNameParams(ctx, e.api, params); err != nil {
			return nil, err
		}
	}
	if e.cfg.findRuns {
		if err := discoverRuns(ctx, e.api, params); err != nil {
			return nil, err
		}
	}

	v, err := e.getRaw(ctx, id, subRoute, params)
	if err != nil {
		return nil, err
	}

	if outputType == OutputDF {
		return e.api.shapeTable(ctx, v)
	}
	return v, nil
}

const paramOutputType = "output_type"

// post issues a create-like call. Query parameters and body data are kept
// separate because several sub-routes (compile, fill) take query flags on a
// bodyless post.
func (e *endpoint) post(ctx context.Context, id, subRoute string, query, data Params, files []client.FilePart) (any, error) {
	if !e.supports(http.MethodPost) {
		return nil, ErrValidation.New("post is not supported by " + e.cfg.route)
	}
	res, err := e.api.client.Request(ctx, client.RequestOptions{
		Method:   http.MethodPost,
		Route:    e.cfg.route,
		ID:       id,
		SubRoute: subRoute,
		Query:    query,
		Data:     data,
		Files:    files,
	})
	if err != nil {
		return nil, err
	}
	return res.Value()
}

func (e *endpoint) put(ctx context.Context, id string, data Params) (any, error) {
	if !e.supports(http.MethodPut) {
		return nil, ErrValidation.New("put is not supported by " + e.cfg.route)
	}
	res, err := e.api.client.Request(ctx, client.RequestOptions{
		Method: http.MethodPut,
		Route:  e.cfg.route,
		ID:     id,
		Data:   data,
	})
	if err != nil {
		return nil, err
	}
	return res.Value()
}

func (e *endpoint) delete(ctx context.Context, id string) (any, error) {
	if !e.supports(http.MethodDelete) {
		return nil, ErrValidation.New("delete is not supported by " + e.cfg.route)
	}
	res, err := e.api.client.Request(ctx, client.RequestOptions{
		Method: http.MethodDelete,
		Route:  e.cfg.route,
		ID:     id,
	})
	if err != nil {
		return nil, err
	}
	return res.Value()
}

// jsonMarshalString encodes a value with the package's JSON codec.
func jsonMarshalString(v any) (string, error) {
	return jsoniter.ConfigCompatibleWithStandardLibrary.MarshalToString(v)
}

// sortedKeys returns the map's keys in alphabetical order. Name resolution
// relies on this ordering so dataset_name resolves before task_name.
func sortedKeys(params Params) []string {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

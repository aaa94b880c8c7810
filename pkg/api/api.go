// Package api provides typed access to the Neuroscout REST resources
// (datasets, tasks, runs, predictors, predictor events, user, analyses) and a
// stateful Analysis object that stays synchronized with server state.
//
// Resource endpoints are thin configurations of a shared endpoint framework:
// each declares its route, the HTTP verbs it supports, and which cross-cutting
// request stages apply (name-to-id resolution, run discovery, tabular output
// shaping).
package api

import (
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/neuroscout/neuroscout-go/pkg/client"
	"github.com/neuroscout/neuroscout-go/pkg/config"
)

// API is the root object binding all resource endpoints to one
// authenticated client session.
type API struct {
	client *client.Client
	log    zerolog.Logger

	Datasets        *Datasets
	Tasks           *Tasks
	Runs            *Runs
	Predictors      *Predictors
	PredictorEvents *PredictorEvents
	User            *User
	Analyses        *Analyses

	// route -> generic endpoint, used by the name-resolution and output
	// shaping stages to reach sibling resources.
	byRoute map[string]*endpoint
}

// New creates an API bound to a new client built from cfg. When cfg carries
// credentials the session is authenticated immediately.
func New(cfg *config.Config, opts ...client.Option) (*API, error) {
	c, err := client.New(cfg, opts...)
	if err != nil {
		return nil, err
	}
	return NewWithClient(c)
}

// NewWithClient creates an API on top of an existing client session.
func NewWithClient(c *client.Client) (*API, error) {
	a := &API{
		client:  c,
		log:     log.With().Str("component", "api").Logger(),
		byRoute: map[string]*endpoint{},
	}

	var err error
	if a.Datasets, err = newDatasets(a); err != nil {
		return nil, err
	}
	if a.Tasks, err = newTasks(a); err != nil {
		return nil, err
	}
	if a.Runs, err = newRuns(a); err != nil {
		return nil, err
	}
	if a.Predictors, err = newPredictors(a); err != nil {
		return nil, err
	}
	if a.PredictorEvents, err = newPredictorEvents(a); err != nil {
		return nil, err
	}
	if a.User, err = newUser(a); err != nil {
		return nil, err
	}
	if a.Analyses, err = newAnalyses(a); err != nil {
		return nil, err
	}

	return a, nil
}

// Client returns the underlying request dispatcher.
func (a *API) Client() *client.Client {
	return a.client
}

// lookup returns the generic endpoint registered for a resource route,
// or nil when none exists.
func (a *API) lookup(route string) *endpoint {
	return a.byRoute[route]
}

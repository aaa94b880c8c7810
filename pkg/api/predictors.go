package api

import (
	"context"
	"errors"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/avast/retry-go/v4"

	"github.com/neuroscout/neuroscout-go/pkg/client"
)

// CollectionStatusPending is the status of a predictor collection that the
// server has not finished processing.
const CollectionStatusPending = "PENDING"

// Predictors is the predictors endpoint. Beyond listing, it supports
// uploading new predictor collections from event files.
type Predictors struct {
	*endpoint
	// pollInterval is the fixed delay between collection status polls.
	pollInterval time.Duration
}

func newPredictors(a *API) (*Predictors, error) {
	e, err := newEndpoint(a, endpointConfig{
		route:        "predictors",
		verbs:        []string{http.MethodGet, http.MethodPost},
		resolveNames: true,
		findRuns:     true,
	})
	if err != nil {
		return nil, err
	}
	return &Predictors{endpoint: e, pollInterval: 2 * time.Second}, nil
}

// Get lists predictors matching the given filters (run_id, name, ...).
func (p *Predictors) Get(ctx context.Context, params Params) (any, error) {
	return p.get(ctx, "", "", params)
}

// GetOne fetches a single predictor by id.
func (p *Predictors) GetOne(ctx context.Context, id int) (map[string]any, error) {
	return getOne(ctx, p.endpoint, id)
}

// CollectionOptions describes a new predictor collection upload. Each event
// file is a TSV with onset, duration and one or more new predictor columns;
// Runs[i] holds the run ids the i-th file applies to.
type CollectionOptions struct {
	Name         string
	DatasetID    int
	Runs         [][]int
	EventFiles   []string
	Descriptions []map[string]any
}

// CreateCollection uploads one or more event files as a new predictor
// collection. The server processes collections asynchronously; the returned
// record starts with status PENDING and must be polled via GetCollection or
// WaitForCollection.
func (p *Predictors) CreateCollection(ctx context.Context, opts CollectionOptions) (*Collection, error) {
	if len(opts.EventFiles) == 0 {
		return nil, ErrValidation.New("at least one event file is required")
	}
	if len(opts.Runs) != len(opts.EventFiles) {
		return nil, ErrValidation.New("one run id list is required per event file")
	}

	files := make([]client.FilePart, 0, len(opts.EventFiles))
	for _, path := range opts.EventFiles {
		content, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		files = append(files, client.FilePart{
			Field:    "event_files",
			FileName: filepath.Base(path),
			Content:  content,
		})
	}

	// each file's run ids are sent as one comma-joined form field
	runs := make([]string, 0, len(opts.Runs))
	for _, set := range opts.Runs {
		parts := make([]string, 0, len(set))
		for _, r := range set {
			parts = append(parts, formatID(r))
		}
		runs = append(runs, strings.Join(parts, ","))
	}

	data := Params{
		"collection_name": opts.Name,
		"dataset_id":      opts.DatasetID,
		"runs":            runs,
	}
	if opts.Descriptions != nil {
		desc, err := jsonMarshalString(opts.Descriptions)
		if err != nil {
			return nil, err
		}
		data["descriptions"] = desc
	}

	v, err := p.post(ctx, "", "collection", nil, data, files)
	if err != nil {
		return nil, err
	}
	var coll Collection
	if err := decodeRecord(v, &coll); err != nil {
		return nil, err
	}
	return &coll, nil
}

// GetCollection fetches a predictor collection's status and, once processed,
// its resulting predictors.
func (p *Predictors) GetCollection(ctx context.Context, collectionID int) (*Collection, error) {
	v, err := p.get(ctx, "", "collection/"+formatID(collectionID), nil)
	if err != nil {
		return nil, err
	}
	var coll Collection
	if err := decodeRecord(v, &coll); err != nil {
		return nil, err
	}
	return &coll, nil
}

// errStillPending drives the polling loop; it never escapes this package.
var errStillPending = errors.New("collection still pending")

// WaitForCollection polls the collection until its status leaves PENDING.
// Polling is unbounded by design; cancel the context to stop waiting on a
// stuck server job.
func (p *Predictors) WaitForCollection(ctx context.Context, collectionID int) (*Collection, error) {
	var coll *Collection
	err := retry.Do(
		func() error {
			var err error
			coll, err = p.GetCollection(ctx, collectionID)
			if err != nil {
				return retry.Unrecoverable(err)
			}
			if coll.Status == CollectionStatusPending {
				return errStillPending
			}
			return nil
		},
		retry.Context(ctx),
		retry.Attempts(0),
		retry.Delay(p.pollInterval),
		retry.DelayType(retry.FixedDelay),
		retry.LastErrorOnly(true),
	)
	if err != nil {
		return nil, err
	}
	return coll, nil
}

// PredictorEvents is the read-only predictor events endpoint. It benefits
// from both name resolution and run discovery: callers can filter by
// predictor_name, dataset_name, task_name, subject and session without
// touching raw ids.
type PredictorEvents struct {
	*endpoint
}

func newPredictorEvents(a *API) (*PredictorEvents, error) {
	e, err := newEndpoint(a, endpointConfig{
		route:        "predictor-events",
		verbs:        []string{http.MethodGet},
		resolveNames: true,
		findRuns:     true,
	})
	if err != nil {
		return nil, err
	}
	return &PredictorEvents{endpoint: e}, nil
}

// Get lists predictor events matching the given filters.
func (p *PredictorEvents) Get(ctx context.Context, params Params) (any, error) {
	return p.get(ctx, "", "", params)
}

package api

import (
	"context"
	"errors"
	"net/http"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/neuroscout/neuroscout-go/pkg/client"
)

// Report and upload statuses.
const (
	ReportStatusPending = "PENDING"
	ReportStatusOK      = "OK"
	ReportStatusFailed  = "FAILED"
)

// Image upload levels.
const (
	UploadLevelGroup   = "GROUP"
	UploadLevelSubject = "SUBJECT"
)

// Upload selection modes.
const (
	SelectLatest = "latest"
	SelectOldest = "oldest"
	SelectAll    = "all"
)

// NeuroVaultMediaURL is the public location of uploaded statmap images.
const NeuroVaultMediaURL = "https://neurovault.org/media/images"

var validate = validator.New(validator.WithRequiredStructEnabled())

// Analyses is the analyses endpoint: CRUD plus the derived workflow
// operations (bundle, clone, compile, fill, reports, uploads) and the
// analysis creation wizard.
type Analyses struct {
	*endpoint
	// pollInterval is the fixed delay between report status polls.
	pollInterval time.Duration
}

func newAnalyses(a *API) (*Analyses, error) {
	e, err := newEndpoint(a, endpointConfig{
		route:        "analyses",
		verbs:        []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete},
		resolveNames: true,
	})
	if err != nil {
		return nil, err
	}
	return &Analyses{endpoint: e, pollInterval: 2 * time.Second}, nil
}

// Get fetches an analysis record by hash id.
func (s *Analyses) Get(ctx context.Context, id string) (map[string]any, error) {
	return s.getMap(ctx, id, "", nil)
}

// GetFull fetches the full analysis record, including runs and predictors.
func (s *Analyses) GetFull(ctx context.Context, id string) (map[string]any, error) {
	return s.getMap(ctx, id, "full", nil)
}

// Create creates a new analysis from raw fields and returns the server
// record, including the assigned hash id.
func (s *Analyses) Create(ctx context.Context, fields Params) (map[string]any, error) {
	v, err := s.post(ctx, "", "", nil, fields, nil)
	if err != nil {
		return nil, err
	}
	return asMap(v)
}

// Update pushes raw fields for an existing analysis and returns the updated
// server record.
func (s *Analyses) Update(ctx context.Context, id string, fields Params) (map[string]any, error) {
	v, err := s.put(ctx, id, fields)
	if err != nil {
		return nil, err
	}
	return asMap(v)
}

// Delete deletes the analysis server-side. The hash id is invalid
// afterwards; further calls against it fail with a not-found error.
func (s *Analyses) Delete(ctx context.Context, id string) error {
	_, err := s.delete(ctx, id)
	return err
}

// GetBundle retrieves the analysis execution bundle as a binary archive.
// When filename is non-empty the bundle is written there and the returned
// bytes are nil.
func (s *Analyses) GetBundle(ctx context.Context, id, filename string) ([]byte, error) {
	v, err := s.get(ctx, id, "bundle", nil)
	if err != nil {
		return nil, err
	}
	bundle, ok := v.([]byte)
	if !ok {
		return nil, ErrResolution.New("unexpected bundle response")
	}
	if filename != "" {
		return nil, os.WriteFile(filename, bundle, 0o644)
	}
	return bundle, nil
}

// Clone duplicates the analysis server-side and returns the new record. The
// clone carries a fresh hash id and a parent_id referencing the source.
func (s *Analyses) Clone(ctx context.Context, id string) (map[string]any, error) {
	v, err := s.post(ctx, id, "clone", nil, nil, nil)
	if err != nil {
		return nil, err
	}
	return asMap(v)
}

// CompileOptions controls compilation.
type CompileOptions struct {
	// Build asks the server to build and verify the resulting specification.
	Build bool
	// ValidateLocally checks the analysis model against the bundled model
	// schema before triggering server-side compilation.
	ValidateLocally bool
}

// Compile submits the analysis for asynchronous server-side compilation.
// Use GetStatus to poll the outcome.
func (s *Analyses) Compile(ctx context.Context, id string, opts CompileOptions) (map[string]any, error) {
	if opts.ValidateLocally {
		full, err := s.GetFull(ctx, id)
		if err != nil {
			return nil, err
		}
		if err := ValidateModel(full["model"]); err != nil {
			return nil, err
		}
	}
	v, err := s.post(ctx, id, "compile", Params{"build": opts.Build}, nil, nil)
	if err != nil {
		return nil, err
	}
	return asMap(v)
}

// Fill asks the server to auto-populate missing runs/predictors. With dryrun
// the result is returned without being persisted.
func (s *Analyses) Fill(ctx context.Context, id string, partial, dryrun bool) (map[string]any, error) {
	v, err := s.post(ctx, id, "fill", Params{"partial": partial, "dryrun": dryrun}, nil, nil)
	if err != nil {
		return nil, err
	}
	return asMap(v)
}

// GetResources fetches server-computed execution metadata, e.g. the dataset
// storage address.
func (s *Analyses) GetResources(ctx context.Context, id string) (map[string]any, error) {
	return s.getMap(ctx, id, "resources", nil)
}

// GetStatus fetches the compilation status.
func (s *Analyses) GetStatus(ctx context.Context, id string) (map[string]any, error) {
	return s.getMap(ctx, id, "compile", nil)
}

// ReportOptions constrain report generation.
type ReportOptions struct {
	RunID        []int
	SamplingRate float64
	Scale        bool
}

// GenerateReport triggers asynchronous report generation.
func (s *Analyses) GenerateReport(ctx context.Context, id string, opts ReportOptions) (map[string]any, error) {
	query := Params{"scale": opts.Scale}
	if len(opts.RunID) > 0 {
		query["run_id"] = opts.RunID
	}
	if opts.SamplingRate > 0 {
		query["sampling_rate"] = opts.SamplingRate
	}
	v, err := s.post(ctx, id, "report", query, nil, nil)
	if err != nil {
		return nil, err
	}
	return asMap(v)
}

// GetReport fetches the generated report. With loopWait the call polls at a
// fixed interval until the status leaves PENDING; the loop is unbounded by
// design, cancel the context to stop waiting. A terminal FAILED status is
// returned in the record, not as an error.
func (s *Analyses) GetReport(ctx context.Context, id string, runID []int, loopWait bool) (map[string]any, error) {
	query := Params{}
	if len(runID) > 0 {
		query["run_id"] = runID
	}

	report, err := s.getMap(ctx, id, "report", query)
	if err != nil {
		return nil, err
	}
	if !loopWait {
		return report, nil
	}

	stillPending := errors.New("report still pending")
	err = retry.Do(
		func() error {
			if status, _ := report["status"].(string); status != ReportStatusPending {
				return nil
			}
			var rerr error
			report, rerr = s.getMap(ctx, id, "report", query)
			if rerr != nil {
				return retry.Unrecoverable(rerr)
			}
			if status, _ := report["status"].(string); status == ReportStatusPending {
				return stillPending
			}
			return nil
		},
		retry.Context(ctx),
		retry.Attempts(0),
		retry.Delay(s.pollInterval),
		retry.DelayType(retry.FixedDelay),
		retry.LastErrorOnly(true),
	)
	if err != nil {
		return nil, err
	}
	return report, nil
}

// GetDesignMatrix extracts the design matrix from a completed report.
// Returns nil without error when the report did not finish OK.
func (s *Analyses) GetDesignMatrix(ctx context.Context, id string, runID []int, loopWait bool) (any, error) {
	report, err := s.GetReport(ctx, id, runID, loopWait)
	if err != nil {
		return nil, err
	}
	if status, _ := report["status"].(string); status != ReportStatusOK {
		return nil, nil
	}
	result, _ := report["result"].(map[string]any)
	if result == nil {
		return nil, nil
	}
	return result["design_matrix"], nil
}

// UploadOptions describes a statmap image upload tied to a validation hash.
// Repeated uploads sharing a CollectionID attach to one collection.
type UploadOptions struct {
	ValidationHash  string `validate:"required"`
	SubjectPaths    []string
	GroupPaths      []string
	CollectionID    int
	Force           bool
	CLIVersion      string
	FmriprepVersion string
	Estimator       string
	NSubjects       int
	CLIArgs         map[string]any
}

// Upload submits group-level then subject-level images, t-stat maps first.
// The collection id returned by the first upload is threaded through the
// remaining ones so all images land in one collection. Returns the last
// upload record, or nil when no paths were given.
func (s *Analyses) Upload(ctx context.Context, id string, opts UploadOptions) (map[string]any, error) {
	if err := validate.Struct(opts); err != nil {
		return nil, ErrValidation.MsgErr("invalid upload options", err)
	}

	collectionID := opts.CollectionID
	var last map[string]any

	levels := []struct {
		level string
		paths []string
	}{
		{UploadLevelGroup, opts.GroupPaths},
		{UploadLevelSubject, opts.SubjectPaths},
	}

	for _, l := range levels {
		for _, path := range tStatFirst(l.paths) {
			rec, err := s.uploadImage(ctx, id, l.level, path, collectionID, opts)
			if err != nil {
				return nil, err
			}
			if collectionID == 0 {
				var meta struct {
					CollectionID int `mapstructure:"collection_id"`
				}
				if err := decodeRecord(rec, &meta); err == nil {
					collectionID = meta.CollectionID
				}
			}
			last = rec
		}
	}

	return last, nil
}

// uploadImage posts a single image file at the given level.
func (s *Analyses) uploadImage(ctx context.Context, id, level, path string, collectionID int, opts UploadOptions) (map[string]any, error) {
	if err := validate.Var(level, "oneof=GROUP SUBJECT"); err != nil {
		return nil, ErrValidation.New("upload level must be GROUP or SUBJECT")
	}

	content, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	data := Params{
		"level":           level,
		"validation_hash": opts.ValidationHash,
		"force":           opts.Force,
	}
	if opts.CLIVersion != "" {
		data["cli_version"] = opts.CLIVersion
	}
	if opts.FmriprepVersion != "" {
		data["fmriprep_version"] = opts.FmriprepVersion
	}
	if opts.Estimator != "" {
		data["estimator"] = opts.Estimator
	}
	if opts.NSubjects > 0 {
		data["n_subjects"] = opts.NSubjects
	}
	if opts.CLIArgs != nil {
		args, err := jsonMarshalString(opts.CLIArgs)
		if err != nil {
			return nil, err
		}
		data["cli_args"] = args
	}
	if collectionID != 0 {
		data["collection_id"] = collectionID
	}

	v, err := s.post(ctx, id, "upload", nil, data, []client.FilePart{{
		Field:    "image_file",
		FileName: filepath.Base(path),
		Content:  content,
	}})
	if err != nil {
		return nil, err
	}
	return asMap(v)
}

// tStatFirst orders paths so t-stat maps upload before other images.
func tStatFirst(paths []string) []string {
	var tmaps, rest []string
	for _, p := range paths {
		if strings.Contains(p, "stat-t") {
			tmaps = append(tmaps, p)
		} else {
			rest = append(rest, p)
		}
	}
	return append(tmaps, rest...)
}

// GetUploads lists upload collections for the analysis, sorted by upload
// time. sel picks "latest", "oldest" or "all"; an empty value means latest.
// Filter attributes not present on a collection are ignored.
func (s *Analyses) GetUploads(ctx context.Context, id, sel string, filters Params) ([]map[string]any, error) {
	if sel == "" {
		sel = SelectLatest
	}
	if err := validate.Var(sel, "oneof=latest oldest all"); err != nil {
		return nil, ErrValidation.New("select must be \"latest\", \"oldest\" or \"all\"")
	}

	v, err := s.get(ctx, id, "upload", nil)
	if err != nil {
		return nil, err
	}
	records, ok := v.([]any)
	if !ok {
		return nil, ErrResolution.New("unexpected uploads response")
	}

	uploads := make([]map[string]any, 0, len(records))
	for _, r := range records {
		if m, ok := r.(map[string]any); ok {
			uploads = append(uploads, m)
		}
	}

	sort.SliceStable(uploads, func(i, j int) bool {
		ti := parseUploadTime(uploads[i])
		tj := parseUploadTime(uploads[j])
		if sel == SelectOldest {
			return ti.Before(tj)
		}
		return ti.After(tj)
	})

	filtered := uploads[:0]
	for _, u := range uploads {
		match := true
		for k, want := range filters {
			got, ok := u[k]
			if ok && got != want {
				match = false
				break
			}
		}
		if match {
			filtered = append(filtered, u)
		}
	}

	if len(filtered) == 0 {
		return nil, nil
	}
	if sel != SelectAll {
		return filtered[:1], nil
	}
	return filtered, nil
}

// parseUploadTime parses an upload timestamp, tolerating a trailing seconds
// component.
func parseUploadTime(u map[string]any) time.Time {
	raw, _ := u["uploaded_at"].(string)
	if strings.Count(raw, ":") > 1 {
		raw = raw[:len(raw)-3]
	}
	t, err := time.Parse("2006-01-02T15:04", raw)
	if err != nil {
		return time.Time{}
	}
	return t
}

// uploadEntityTags are the entities extracted from a statmap basename.
var uploadEntityTags = []string{"task", "contrast", "stat", "space"}

var entityPatterns = func() map[string]*regexp.Regexp {
	m := make(map[string]*regexp.Regexp, len(uploadEntityTags))
	for _, tag := range uploadEntityTags {
		m[tag] = regexp.MustCompile(tag + `-(.*?)_`)
	}
	return m
}()

// parseEntities extracts task/contrast/stat/space entities from an image
// basename.
func parseEntities(basename string) map[string]any {
	out := map[string]any{}
	for tag, re := range entityPatterns {
		if m := re.FindStringSubmatch(basename); m != nil {
			out[tag] = m[1]
		}
	}
	return out
}

// LoadUploadsOptions controls which uploaded images are downloaded.
// CollectionFilters apply at the collection level (unknown attributes are
// ignored); ImageFilters apply at the file level after entity extraction
// (files lacking a filtered attribute are excluded).
type LoadUploadsOptions struct {
	Select            string
	DownloadDir       string
	CollectionFilters Params
	ImageFilters      Params
}

// LoadedImage is one downloaded statmap image with its merged
// collection/file metadata.
type LoadedImage struct {
	Path string
	Meta map[string]any
}

var (
	scratchDirOnce sync.Once
	scratchDir     string
)

// defaultDownloadDir is a per-process scratch directory for image downloads.
func defaultDownloadDir() string {
	scratchDirOnce.Do(func() {
		scratchDir = filepath.Join(os.TempDir(), "neuroscout-"+uuid.NewString())
	})
	return scratchDir
}

// LoadUploads downloads the statmap images of matching upload collections
// and returns their local paths with merged metadata. Images already present
// in the download directory are not re-fetched.
func (s *Analyses) LoadUploads(ctx context.Context, id string, opts LoadUploadsOptions) ([]LoadedImage, error) {
	downloadDir := opts.DownloadDir
	if downloadDir == "" {
		downloadDir = defaultDownloadDir()
	}
	if err := os.MkdirAll(downloadDir, 0o755); err != nil {
		return nil, err
	}

	uploads, err := s.GetUploads(ctx, id, opts.Select, opts.CollectionFilters)
	if err != nil {
		return nil, err
	}

	var out []LoadedImage
	for _, u := range uploads {
		files, _ := u["files"].([]any)
		collection := make(map[string]any, len(u))
		for k, v := range u {
			if k != "files" {
				collection[k] = v
			}
		}

		for _, fv := range files {
			f, ok := fv.(map[string]any)
			if !ok {
				continue
			}
			basename, _ := f["basename"].(string)

			meta := make(map[string]any, len(f))
			for k, v := range f {
				meta[k] = v
			}
			for k, v := range parseEntities(basename) {
				meta[k] = v
			}

			status, _ := meta["status"].(string)
			delete(meta, "status")
			if status != ReportStatusOK {
				continue
			}
			if !matchImageFilters(meta, opts.ImageFilters) {
				continue
			}

			collectionID := formatID(collection["collection_id"])
			dest := filepath.Join(downloadDir, collectionID+"_"+basename)
			if _, err := os.Stat(dest); err != nil {
				content, err := s.api.client.Download(ctx, NeuroVaultMediaURL+"/"+collectionID+"/"+basename)
				if err != nil {
					return nil, err
				}
				if err := os.WriteFile(dest, content, 0o644); err != nil {
					return nil, err
				}
			}

			delete(meta, "traceback")
			for k, v := range collection {
				meta[k] = v
			}
			out = append(out, LoadedImage{Path: dest, Meta: meta})
		}
	}
	return out, nil
}

// matchImageFilters applies file-level filters; a file lacking a filtered
// attribute does not match.
func matchImageFilters(meta map[string]any, filters Params) bool {
	for k, want := range filters {
		got, ok := meta[k]
		if !ok || got != want {
			return false
		}
	}
	return true
}

func (s *Analyses) getMap(ctx context.Context, id, subRoute string, query Params) (map[string]any, error) {
	v, err := s.get(ctx, id, subRoute, query)
	if err != nil {
		return nil, err
	}
	return asMap(v)
}

func asMap(v any) (map[string]any, error) {
	m, ok := v.(map[string]any)
	if !ok {
		return nil, ErrResolution.New("unexpected response shape, wanted a record")
	}
	return m, nil
}

package api

import (
	"context"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAnalysesReport(t *testing.T) {
	t.Run("LoopWaitPollsUntilTerminal", func(t *testing.T) {
		var polls int
		mux := http.NewServeMux()
		mux.HandleFunc("/api/analyses/AB123/report", func(w http.ResponseWriter, r *http.Request) {
			polls++
			if polls < 3 {
				writeJSON(t, w, map[string]any{"status": "PENDING"})
				return
			}
			writeJSON(t, w, map[string]any{
				"status": "OK",
				"result": map[string]any{"design_matrix": []any{map[string]any{"rms": 0.5}}},
			})
		})

		a := newTestAPI(t, mux)
		a.Analyses.pollInterval = time.Millisecond

		report, err := a.Analyses.GetReport(context.Background(), "AB123", nil, true)
		require.NoError(t, err)
		assert.Equal(t, 3, polls)
		assert.Equal(t, "OK", report["status"])
	})

	t.Run("NoLoopWaitReturnsPending", func(t *testing.T) {
		mux := http.NewServeMux()
		mux.HandleFunc("/api/analyses/AB123/report", func(w http.ResponseWriter, r *http.Request) {
			writeJSON(t, w, map[string]any{"status": "PENDING"})
		})

		a := newTestAPI(t, mux)
		report, err := a.Analyses.GetReport(context.Background(), "AB123", nil, false)
		require.NoError(t, err)
		assert.Equal(t, "PENDING", report["status"])
	})

	t.Run("RunIDForwardedAsQuery", func(t *testing.T) {
		var query string
		mux := http.NewServeMux()
		mux.HandleFunc("/api/analyses/AB123/report", func(w http.ResponseWriter, r *http.Request) {
			query = r.URL.Query().Get("run_id")
			writeJSON(t, w, map[string]any{"status": "OK"})
		})

		a := newTestAPI(t, mux)
		_, err := a.Analyses.GetReport(context.Background(), "AB123", []int{10, 11}, false)
		require.NoError(t, err)
		assert.Equal(t, "10,11", query)
	})

	t.Run("DesignMatrixNilUnlessOK", func(t *testing.T) {
		mux := http.NewServeMux()
		mux.HandleFunc("/api/analyses/BAD99/report", func(w http.ResponseWriter, r *http.Request) {
			writeJSON(t, w, map[string]any{"status": "FAILED", "traceback": "boom"})
		})

		a := newTestAPI(t, mux)
		dm, err := a.Analyses.GetDesignMatrix(context.Background(), "BAD99", nil, false)
		require.NoError(t, err)
		assert.Nil(t, dm)
	})

	t.Run("DesignMatrixExtracted", func(t *testing.T) {
		mux := http.NewServeMux()
		mux.HandleFunc("/api/analyses/AB123/report", func(w http.ResponseWriter, r *http.Request) {
			writeJSON(t, w, map[string]any{
				"status": "OK",
				"result": map[string]any{"design_matrix": []any{map[string]any{"rms": 0.5}}},
			})
		})

		a := newTestAPI(t, mux)
		dm, err := a.Analyses.GetDesignMatrix(context.Background(), "AB123", nil, false)
		require.NoError(t, err)
		require.NotNil(t, dm)
		rows := dm.([]any)
		require.Len(t, rows, 1)
	})
}

func TestAnalysesBundle(t *testing.T) {
	payload := []byte{0x1f, 0x8b, 0x08, 0x00, 0x01, 0x02}

	mux := http.NewServeMux()
	mux.HandleFunc("/api/analyses/AB123/bundle", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/x-tar")
		_, _ = w.Write(payload)
	})
	a := newTestAPI(t, mux)

	t.Run("ReturnsBytes", func(t *testing.T) {
		bundle, err := a.Analyses.GetBundle(context.Background(), "AB123", "")
		require.NoError(t, err)
		assert.Equal(t, payload, bundle)
	})

	t.Run("WritesFile", func(t *testing.T) {
		dest := filepath.Join(t.TempDir(), "bundle.tar.gz")
		bundle, err := a.Analyses.GetBundle(context.Background(), "AB123", dest)
		require.NoError(t, err)
		assert.Nil(t, bundle)

		written, err := os.ReadFile(dest)
		require.NoError(t, err)
		assert.Equal(t, payload, written)
	})
}

func TestAnalysesCompile(t *testing.T) {
	t.Run("LocalValidationBlocksBadModel", func(t *testing.T) {
		var compiled bool
		mux := http.NewServeMux()
		mux.HandleFunc("/api/analyses/AB123/full", func(w http.ResponseWriter, r *http.Request) {
			writeJSON(t, w, map[string]any{
				"hash_id": "AB123",
				"model":   map[string]any{"Name": "incomplete"},
			})
		})
		mux.HandleFunc("/api/analyses/AB123/compile", func(w http.ResponseWriter, r *http.Request) {
			compiled = true
			writeJSON(t, w, map[string]any{"status": "PENDING"})
		})

		a := newTestAPI(t, mux)
		_, err := a.Analyses.Compile(context.Background(), "AB123", CompileOptions{ValidateLocally: true})
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrValidation)
		assert.False(t, compiled)
	})

	t.Run("BuildFlagForwarded", func(t *testing.T) {
		var query string
		mux := http.NewServeMux()
		mux.HandleFunc("/api/analyses/AB123/compile", func(w http.ResponseWriter, r *http.Request) {
			query = r.URL.Query().Get("build")
			writeJSON(t, w, map[string]any{"status": "PENDING"})
		})

		a := newTestAPI(t, mux)
		rec, err := a.Analyses.Compile(context.Background(), "AB123", CompileOptions{Build: true})
		require.NoError(t, err)
		assert.Equal(t, "true", query)
		assert.Equal(t, "PENDING", rec["status"])
	})
}

func TestTStatFirst(t *testing.T) {
	paths := []string{
		"sub-01_contrast-rms_stat-variance_statmap.nii.gz",
		"sub-01_contrast-rms_stat-t_statmap.nii.gz",
		"sub-02_contrast-rms_stat-effect_statmap.nii.gz",
		"sub-02_contrast-rms_stat-t_statmap.nii.gz",
	}
	ordered := tStatFirst(paths)
	assert.Equal(t, []string{
		"sub-01_contrast-rms_stat-t_statmap.nii.gz",
		"sub-02_contrast-rms_stat-t_statmap.nii.gz",
		"sub-01_contrast-rms_stat-variance_statmap.nii.gz",
		"sub-02_contrast-rms_stat-effect_statmap.nii.gz",
	}, ordered)
}

func TestUpload(t *testing.T) {
	t.Run("ThreadsCollectionID", func(t *testing.T) {
		dir := t.TempDir()
		group := filepath.Join(dir, "task-x_contrast-rms_stat-t_statmap.nii.gz")
		subject := filepath.Join(dir, "sub-01_task-x_contrast-rms_stat-t_statmap.nii.gz")
		require.NoError(t, os.WriteFile(group, []byte("group image"), 0o644))
		require.NoError(t, os.WriteFile(subject, []byte("subject image"), 0o644))

		var levels []string
		var collectionIDs []string
		mux := http.NewServeMux()
		mux.HandleFunc("/api/analyses/AB123/upload", func(w http.ResponseWriter, r *http.Request) {
			require.NoError(t, r.ParseMultipartForm(1<<20))
			levels = append(levels, r.FormValue("level"))
			collectionIDs = append(collectionIDs, r.FormValue("collection_id"))
			assert.Equal(t, "deadbeef", r.FormValue("validation_hash"))
			writeJSON(t, w, map[string]any{"collection_id": 99, "status": "PENDING"})
		})

		a := newTestAPI(t, mux)
		last, err := a.Analyses.Upload(context.Background(), "AB123", UploadOptions{
			ValidationHash: "deadbeef",
			GroupPaths:     []string{group},
			SubjectPaths:   []string{subject},
		})
		require.NoError(t, err)
		require.NotNil(t, last)

		// group uploads first; its collection id is threaded into the rest
		assert.Equal(t, []string{"GROUP", "SUBJECT"}, levels)
		assert.Equal(t, []string{"", "99"}, collectionIDs)
	})

	t.Run("RequiresValidationHash", func(t *testing.T) {
		a := newTestAPI(t, http.NewServeMux())
		_, err := a.Analyses.Upload(context.Background(), "AB123", UploadOptions{})
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrValidation)
	})
}

func TestGetUploads(t *testing.T) {
	collections := []map[string]any{
		{"collection_id": 1, "uploaded_at": "2024-01-01T08:00", "estimator": "nilearn"},
		{"collection_id": 2, "uploaded_at": "2024-03-01T08:00:15", "estimator": "fitlins"},
		{"collection_id": 3, "uploaded_at": "2024-02-01T08:00", "estimator": "nilearn"},
	}

	newAPI := func(t *testing.T) *API {
		mux := http.NewServeMux()
		mux.HandleFunc("/api/analyses/AB123/upload", func(w http.ResponseWriter, r *http.Request) {
			writeJSON(t, w, collections)
		})
		return newTestAPI(t, mux)
	}

	t.Run("LatestByDefault", func(t *testing.T) {
		uploads, err := newAPI(t).Analyses.GetUploads(context.Background(), "AB123", "", nil)
		require.NoError(t, err)
		require.Len(t, uploads, 1)
		assert.Equal(t, float64(2), uploads[0]["collection_id"])
	})

	t.Run("Oldest", func(t *testing.T) {
		uploads, err := newAPI(t).Analyses.GetUploads(context.Background(), "AB123", SelectOldest, nil)
		require.NoError(t, err)
		require.Len(t, uploads, 1)
		assert.Equal(t, float64(1), uploads[0]["collection_id"])
	})

	t.Run("AllSortedNewestFirst", func(t *testing.T) {
		uploads, err := newAPI(t).Analyses.GetUploads(context.Background(), "AB123", SelectAll, nil)
		require.NoError(t, err)
		require.Len(t, uploads, 3)
		assert.Equal(t, float64(2), uploads[0]["collection_id"])
		assert.Equal(t, float64(3), uploads[1]["collection_id"])
		assert.Equal(t, float64(1), uploads[2]["collection_id"])
	})

	t.Run("FilteredByAttribute", func(t *testing.T) {
		uploads, err := newAPI(t).Analyses.GetUploads(context.Background(), "AB123", SelectAll,
			Params{"estimator": "nilearn"})
		require.NoError(t, err)
		require.Len(t, uploads, 2)
	})

	t.Run("MissingFilterAttributeIgnored", func(t *testing.T) {
		uploads, err := newAPI(t).Analyses.GetUploads(context.Background(), "AB123", SelectAll,
			Params{"fmriprep_version": "20.2.1"})
		require.NoError(t, err)
		assert.Len(t, uploads, 3)
	})

	t.Run("NoMatchesReturnsNil", func(t *testing.T) {
		uploads, err := newAPI(t).Analyses.GetUploads(context.Background(), "AB123", SelectAll,
			Params{"estimator": "spm"})
		require.NoError(t, err)
		assert.Nil(t, uploads)
	})

	t.Run("BadSelect", func(t *testing.T) {
		_, err := newAPI(t).Analyses.GetUploads(context.Background(), "AB123", "newest", nil)
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrValidation)
	})
}

func TestParseEntities(t *testing.T) {
	entities := parseEntities("task-objectcategories_contrast-rms_stat-t_space-MNI_statmap.nii.gz")
	assert.Equal(t, map[string]any{
		"task":     "objectcategories",
		"contrast": "rms",
		"stat":     "t",
		"space":    "MNI",
	}, entities)

	assert.Empty(t, parseEntities("plain.nii.gz"))
}

func TestLoadUploads(t *testing.T) {
	// The image files are served from the API stub itself by pointing the
	// download at a local path; LoadUploads builds NeuroVault URLs, so this
	// test exercises everything up to the download decision instead.
	t.Run("SkipsFailedImages", func(t *testing.T) {
		mux := http.NewServeMux()
		mux.HandleFunc("/api/analyses/AB123/upload", func(w http.ResponseWriter, r *http.Request) {
			writeJSON(t, w, []map[string]any{{
				"collection_id": 1,
				"uploaded_at":   "2024-01-01T08:00",
				"files": []map[string]any{
					{"basename": "task-x_stat-t_statmap.nii.gz", "status": "FAILED", "traceback": "boom"},
				},
			}})
		})

		a := newTestAPI(t, mux)
		images, err := a.Analyses.LoadUploads(context.Background(), "AB123", LoadUploadsOptions{
			DownloadDir: t.TempDir(),
		})
		require.NoError(t, err)
		assert.Empty(t, images)
	})

	t.Run("ImageFiltersExcludeMissingAttributes", func(t *testing.T) {
		dir := t.TempDir()
		// pre-seed the downloads so no network fetch is attempted
		require.NoError(t, os.WriteFile(filepath.Join(dir, "1_task-x_stat-t_statmap.nii.gz"), []byte("img"), 0o644))
		require.NoError(t, os.WriteFile(filepath.Join(dir, "1_plain.nii.gz"), []byte("img"), 0o644))

		mux := http.NewServeMux()
		mux.HandleFunc("/api/analyses/AB123/upload", func(w http.ResponseWriter, r *http.Request) {
			writeJSON(t, w, []map[string]any{{
				"collection_id": 1,
				"uploaded_at":   "2024-01-01T08:00",
				"files": []map[string]any{
					{"basename": "task-x_stat-t_statmap.nii.gz", "status": "OK"},
					{"basename": "plain.nii.gz", "status": "OK"},
				},
			}})
		})

		a := newTestAPI(t, mux)
		images, err := a.Analyses.LoadUploads(context.Background(), "AB123", LoadUploadsOptions{
			DownloadDir:  dir,
			ImageFilters: Params{"stat": "t"},
		})
		require.NoError(t, err)
		require.Len(t, images, 1)
		assert.Equal(t, filepath.Join(dir, "1_task-x_stat-t_statmap.nii.gz"), images[0].Path)
		assert.Equal(t, "t", images[0].Meta["stat"])
		assert.Equal(t, float64(1), images[0].Meta["collection_id"])
		assert.NotContains(t, images[0].Meta, "traceback")
	})
}

package api

import (
	"context"
	"net/http"
	"testing"

	jsoniter "github.com/json-iterator/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// analysisStub is a minimal stateful analyses backend: it stores one record
// per hash id and fills in server-owned fields on create and update.
type analysisStub struct {
	t       *testing.T
	records map[string]map[string]any
	nextID  int
	fills   int
}

func newAnalysisStub(t *testing.T) *analysisStub {
	return &analysisStub{t: t, records: map[string]map[string]any{}, nextID: 1}
}

func (s *analysisStub) register(mux *http.ServeMux) {
	mux.HandleFunc("/api/analyses", func(w http.ResponseWriter, r *http.Request) {
		fields := s.readBody(r)
		hash := s.newHash()
		record := map[string]any{"hash_id": hash, "status": "DRAFT", "modified_at": "2024-01-01T08:00"}
		for k, v := range fields {
			record[k] = v
		}
		s.records[hash] = record
		writeJSON(s.t, w, record)
	})
	mux.HandleFunc("/api/analyses/", func(w http.ResponseWriter, r *http.Request) {
		hash, sub := splitAnalysisPath(r.URL.Path)
		record, ok := s.records[hash]
		if !ok {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"message": "analysis not found"}`))
			return
		}

		switch {
		case sub == "" && r.Method == http.MethodGet:
			writeJSON(s.t, w, record)
		case sub == "" && r.Method == http.MethodPut:
			for k, v := range s.readBody(r) {
				record[k] = v
			}
			writeJSON(s.t, w, record)
		case sub == "" && r.Method == http.MethodDelete:
			delete(s.records, hash)
			writeJSON(s.t, w, map[string]any{})
		case sub == "clone":
			clone := map[string]any{}
			for k, v := range record {
				clone[k] = v
			}
			cloneHash := s.newHash()
			clone["hash_id"] = cloneHash
			clone["parent_id"] = hash
			s.records[cloneHash] = clone
			writeJSON(s.t, w, clone)
		case sub == "fill":
			s.fills++
			record["runs"] = []int{101, 102}
			record["predictors"] = []int{201}
			writeJSON(s.t, w, record)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	})
}

func (s *analysisStub) readBody(r *http.Request) map[string]any {
	var fields map[string]any
	require.NoError(s.t, jsoniter.ConfigCompatibleWithStandardLibrary.NewDecoder(r.Body).Decode(&fields))
	return fields
}

func (s *analysisStub) newHash() string {
	hash := []string{"AAA11", "BBB22", "CCC33", "DDD44"}[s.nextID-1]
	s.nextID++
	return hash
}

func splitAnalysisPath(path string) (hash, sub string) {
	rest := path[len("/api/analyses/"):]
	for i := 0; i < len(rest); i++ {
		if rest[i] == '/' {
			return rest[:i], rest[i+1:]
		}
	}
	return rest, ""
}

func TestAnalysisEntity(t *testing.T) {
	newHarness := func(t *testing.T) (*API, *analysisStub) {
		stub := newAnalysisStub(t)
		mux := http.NewServeMux()
		stub.register(mux)
		return newTestAPI(t, mux), stub
	}

	t.Run("CreateAssignsHashAndExtra", func(t *testing.T) {
		a, _ := newHarness(t)
		analysis, err := a.Analyses.NewAnalysis(context.Background(), &Analysis{
			Name:      "my analysis",
			DatasetID: 5,
		})
		require.NoError(t, err)
		assert.Equal(t, "AAA11", analysis.HashID)
		assert.Equal(t, "my analysis", analysis.Name)
		assert.Equal(t, 5, analysis.DatasetID)
		// server-owned fields land in Extra, not on the struct
		assert.Equal(t, "DRAFT", analysis.Extra["status"])
		assert.Equal(t, "2024-01-01T08:00", analysis.Extra["modified_at"])
	})

	t.Run("PushPullRoundTrip", func(t *testing.T) {
		a, stub := newHarness(t)
		analysis, err := a.Analyses.NewAnalysis(context.Background(), &Analysis{Name: "v1", DatasetID: 5})
		require.NoError(t, err)

		analysis.Description = "about things"
		require.NoError(t, analysis.Push(context.Background()))
		assert.Equal(t, "about things", stub.records["AAA11"]["description"])

		// a pull discards local edits
		analysis.Description = "unsaved"
		require.NoError(t, analysis.Pull(context.Background()))
		assert.Equal(t, "about things", analysis.Description)
	})

	t.Run("GetAnalysisLoadsExisting", func(t *testing.T) {
		a, stub := newHarness(t)
		stub.records["AAA11"] = map[string]any{
			"hash_id":    "AAA11",
			"name":       "existing",
			"dataset_id": 7,
			"runs":       []any{float64(1), float64(2)},
			"status":     "PASSED",
		}
		stub.nextID = 2

		analysis, err := a.Analyses.GetAnalysis(context.Background(), "AAA11")
		require.NoError(t, err)
		assert.Equal(t, "existing", analysis.Name)
		assert.Equal(t, 7, analysis.DatasetID)
		assert.Equal(t, []int{1, 2}, analysis.Runs)
		assert.Equal(t, "PASSED", analysis.Extra["status"])
	})

	t.Run("FillRefreshesRunsAndPredictors", func(t *testing.T) {
		a, _ := newHarness(t)
		analysis, err := a.Analyses.NewAnalysis(context.Background(), &Analysis{Name: "v1", DatasetID: 5})
		require.NoError(t, err)

		_, err = analysis.Fill(context.Background(), true, false)
		require.NoError(t, err)
		assert.Equal(t, []int{101, 102}, analysis.Runs)
		assert.Equal(t, []int{201}, analysis.Predictors)
	})

	t.Run("DryrunFillLeavesLocalStateAlone", func(t *testing.T) {
		a, _ := newHarness(t)
		analysis, err := a.Analyses.NewAnalysis(context.Background(), &Analysis{Name: "v1", DatasetID: 5})
		require.NoError(t, err)

		resp, err := analysis.Fill(context.Background(), true, true)
		require.NoError(t, err)
		assert.NotEmpty(t, resp["runs"])
		assert.Empty(t, analysis.Runs)
	})

	t.Run("CloneKeepsDataset", func(t *testing.T) {
		a, stub := newHarness(t)
		analysis, err := a.Analyses.NewAnalysis(context.Background(), &Analysis{Name: "v1", DatasetID: 5})
		require.NoError(t, err)

		clone, err := analysis.Clone(context.Background(), 0)
		require.NoError(t, err)
		assert.Equal(t, "BBB22", clone.HashID)
		assert.Equal(t, 5, clone.DatasetID)
		assert.Equal(t, "AAA11", clone.Extra["parent_id"])
		assert.Zero(t, stub.fills)
	})

	t.Run("CloneToDatasetClearsAndFills", func(t *testing.T) {
		a, stub := newHarness(t)
		analysis, err := a.Analyses.NewAnalysis(context.Background(), &Analysis{
			Name:       "v1",
			DatasetID:  5,
			Runs:       []int{1, 2},
			Predictors: []int{3},
		})
		require.NoError(t, err)

		clone, err := analysis.Clone(context.Background(), 9)
		require.NoError(t, err)
		assert.Equal(t, 9, clone.DatasetID)
		assert.Equal(t, 1, stub.fills)
		assert.Equal(t, []int{101, 102}, clone.Runs)
		assert.Equal(t, []int{201}, clone.Predictors)
		// the source analysis is untouched
		assert.Equal(t, 5, analysis.DatasetID)
		assert.Equal(t, []int{1, 2}, analysis.Runs)
	})

	t.Run("DeleteInvalidatesHash", func(t *testing.T) {
		a, _ := newHarness(t)
		analysis, err := a.Analyses.NewAnalysis(context.Background(), &Analysis{Name: "v1", DatasetID: 5})
		require.NoError(t, err)

		require.NoError(t, analysis.Delete(context.Background()))
		err = analysis.Pull(context.Background())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "404 Not Found: analysis not found")
	})
}

package api

import (
	"net/http"
	"net/http/httptest"
	"testing"

	jsoniter "github.com/json-iterator/go"
	"github.com/stretchr/testify/require"

	"github.com/neuroscout/neuroscout-go/pkg/client"
	"github.com/neuroscout/neuroscout-go/pkg/config"
)

// newTestAPI starts a stub server around mux and returns an API bound to it.
// The client is unauthenticated; none of the stub handlers check auth.
func newTestAPI(t *testing.T, mux *http.ServeMux) *API {
	t.Helper()
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	c, err := client.New(&config.Config{APIBase: srv.URL + "/api"})
	require.NoError(t, err)
	a, err := NewWithClient(c)
	require.NoError(t, err)
	return a
}

func writeJSON(t *testing.T, w http.ResponseWriter, v any) {
	t.Helper()
	w.Header().Set("Content-Type", "application/json")
	data, err := jsoniter.ConfigCompatibleWithStandardLibrary.Marshal(v)
	require.NoError(t, err)
	_, err = w.Write(data)
	require.NoError(t, err)
}

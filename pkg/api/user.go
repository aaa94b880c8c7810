package api

import (
	"context"
	"net/http"
)

// User is the endpoint for the authenticated user's own profile, predictors
// and analyses.
type User struct {
	*endpoint
}

func newUser(a *API) (*User, error) {
	e, err := newEndpoint(a, endpointConfig{
		route: "user",
		verbs: []string{http.MethodGet, http.MethodPost, http.MethodPut},
	})
	if err != nil {
		return nil, err
	}
	return &User{endpoint: e}, nil
}

// Get fetches the current user's profile.
func (u *User) Get(ctx context.Context) (map[string]any, error) {
	v, err := u.get(ctx, "", "", nil)
	if err != nil {
		return nil, err
	}
	m, ok := v.(map[string]any)
	if !ok {
		return nil, ErrResolution.New("unexpected response fetching user profile")
	}
	return m, nil
}

// Update updates profile fields and returns the updated profile.
func (u *User) Update(ctx context.Context, fields Params) (any, error) {
	return u.put(ctx, "", fields)
}

// MyPredictors lists predictors uploaded by the current user, filterable
// like the public predictors listing (e.g. run_id, name).
func (u *User) MyPredictors(ctx context.Context, params Params) (any, error) {
	return u.get(ctx, "", "predictors", params)
}

// MyAnalyses lists the current user's analyses.
func (u *User) MyAnalyses(ctx context.Context) (any, error) {
	return u.get(ctx, "", "myanalyses", nil)
}

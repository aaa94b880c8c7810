// Package client implements the authenticated request dispatcher for the
// Neuroscout API. It owns the HTTP session, the bearer token and its expiry
// bookkeeping, and performs the generic verb-dispatch request/response cycle
// with uniform error normalization.
package client

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"reflect"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/h2non/filetype"
	jsoniter "github.com/json-iterator/go"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/tidwall/gjson"

	"github.com/neuroscout/neuroscout-go/pkg/config"
	"github.com/neuroscout/neuroscout-go/pkg/routes"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// AuthRoute is the authentication route. Requests to it never trigger the
// transparent re-authentication cycle.
const AuthRoute = "auth"

// Client dispatches authenticated requests against a Neuroscout API server.
// A Client is owned by a single logical caller; it is not safe for
// concurrent use because token state is mutated in place.
type Client struct {
	baseURL     string
	httpClient  *http.Client
	email       string
	password    string
	token       string
	tokenExpiry time.Time
	log         zerolog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient sets the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// WithLogger sets the logger used for request diagnostics.
func WithLogger(l zerolog.Logger) Option {
	return func(c *Client) {
		c.log = l
	}
}

// New creates a Client from the given configuration. When the configuration
// carries credentials, the client authenticates immediately; invalid
// credentials surface as the auth request's HTTP error. Without credentials
// the client is usable unauthenticated.
func New(cfg *config.Config, opts ...Option) (*Client, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	c := &Client{
		baseURL:    config.MorphServer(cfg.APIBase),
		httpClient: &http.Client{},
		email:      cfg.Email,
		password:   cfg.Password,
		log:        log.With().Str("component", "client").Logger(),
	}
	for _, opt := range opts {
		opt(c)
	}

	if c.email != "" && c.password != "" {
		if err := c.Authenticate(context.Background(), "", ""); err != nil {
			return nil, err
		}
	}

	return c, nil
}

// Authenticated reports whether the client currently holds a token.
func (c *Client) Authenticated() bool {
	return c.token != ""
}

// Token returns the current bearer token, empty when unauthenticated.
func (c *Client) Token() string {
	return c.token
}

// TokenExpiry returns the locally computed expiry of the current token.
func (c *Client) TokenExpiry() time.Time {
	return c.tokenExpiry
}

// Authenticate obtains a bearer token from the auth route. Empty arguments
// fall back to the stored credentials, then to the environment. When no
// credentials can be found the client simply stays unauthenticated.
//
// The returned token's payload is decoded without signature verification,
// purely for client-side expiry bookkeeping; the server remains the
// authority on token validity and the trust boundary is the HTTPS channel.
func (c *Client) Authenticate(ctx context.Context, email, password string) error {
	if email == "" {
		email = c.email
	}
	if password == "" {
		password = c.password
	}
	if email == "" || password == "" {
		env := &config.Config{APIBase: c.baseURL, Email: email, Password: password}
		env.FillFromEnv()
		email, password = env.Email, env.Password
	}
	if email == "" || password == "" {
		c.log.Debug().Msg("no credentials available, staying unauthenticated")
		return nil
	}

	res, err := c.Request(ctx, RequestOptions{
		Method: http.MethodPost,
		Route:  AuthRoute,
		Data:   map[string]any{"email": email, "password": password},
	})
	if err != nil {
		return err
	}

	token := gjson.GetBytes(res.Body, "access_token").String()
	if token == "" {
		return fmt.Errorf("auth response did not contain an access token")
	}

	c.email = email
	c.password = password
	c.token = token
	c.tokenExpiry = decodeExpiry(token, time.Now())

	c.log.Debug().Time("expiry", c.tokenExpiry).Msg("authenticated")
	return nil
}

// decodeExpiry extracts iat/exp from the token payload and converts the
// expiry into local time, compensating for clock skew between this host and
// the server via the issued-at timestamp.
func decodeExpiry(token string, now time.Time) time.Time {
	claims := jwt.MapClaims{}
	parser := jwt.NewParser()
	if _, _, err := parser.ParseUnverified(token, claims); err != nil {
		return time.Time{}
	}

	exp, ok := claims["exp"].(float64)
	if !ok {
		return time.Time{}
	}
	expiry := time.Unix(int64(exp), 0)

	if iat, ok := claims["iat"].(float64); ok {
		skew := now.Sub(time.Unix(int64(iat), 0))
		expiry = expiry.Add(skew)
	}
	return expiry
}

// FilePart is a file attachment sent as part of a multipart request body.
type FilePart struct {
	Field    string // form field name
	FileName string
	Content  []byte
}

// RequestOptions describes one API request. Query parameters with nil values
// are dropped unless KeepNull is set; list-valued query parameters are
// serialized as comma-joined strings. When Files are present the Data fields
// become multipart form fields, otherwise Data is sent as a JSON body.
type RequestOptions struct {
	Method   string
	Route    string
	ID       string
	SubRoute string
	Query    map[string]any
	Data     map[string]any
	Files    []FilePart
	KeepNull bool
}

// Result is a normalized API response: parsed-ready JSON bytes or a raw
// binary payload such as a bundle download.
type Result struct {
	StatusCode int
	Body       []byte
	IsJSON     bool
}

// Value parses a JSON result into a generic value (map, slice or scalar).
// Non-JSON results are returned as raw bytes.
func (r *Result) Value() (any, error) {
	if !r.IsJSON {
		return r.Body, nil
	}
	var v any
	if err := json.Unmarshal(r.Body, &v); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}
	return v, nil
}

// Decode unmarshals a JSON result into v.
func (r *Result) Decode(v any) error {
	if !r.IsJSON {
		return fmt.Errorf("response is not JSON")
	}
	return json.Unmarshal(r.Body, v)
}

// HTTPError represents a failed request. When the server response carries a
// "message" field it is appended to the HTTP status description.
type HTTPError struct {
	StatusCode int
	Message    string
}

func (e *HTTPError) Error() string {
	return e.Message
}

// Request performs one API call. Unless the target is the auth route, an
// expired token is refreshed transparently by re-running the stored
// credential flow before the call is issued.
func (c *Client) Request(ctx context.Context, opts RequestOptions) (*Result, error) {
	if opts.Route == "" {
		return nil, fmt.Errorf("route is required")
	}
	switch opts.Method {
	case http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete:
	default:
		return nil, fmt.Errorf("unsupported method %q", opts.Method)
	}

	if opts.Route != AuthRoute && !c.tokenExpiry.IsZero() && time.Now().After(c.tokenExpiry) {
		c.log.Debug().Msg("token expired, re-authenticating")
		if err := c.Authenticate(ctx, "", ""); err != nil {
			return nil, err
		}
	}

	path, err := routes.Build(routes.Pattern, map[string]string{
		"route":     opts.Route,
		"id":        opts.ID,
		"sub_route": opts.SubRoute,
	})
	if err != nil {
		return nil, err
	}

	u := c.baseURL + "/" + path
	if q := encodeQuery(opts.Query, opts.KeepNull); q != "" {
		u += "?" + q
	}

	var body io.Reader
	contentType := ""
	switch {
	case len(opts.Files) > 0:
		buf, ct, err := encodeMultipart(opts.Data, opts.Files, opts.KeepNull)
		if err != nil {
			return nil, err
		}
		body, contentType = buf, ct
	case opts.Data != nil:
		payload, err := json.Marshal(dropNull(opts.Data, opts.KeepNull))
		if err != nil {
			return nil, fmt.Errorf("failed to encode request body: %w", err)
		}
		body, contentType = bytes.NewReader(payload), "application/json"
	}

	req, err := http.NewRequestWithContext(ctx, opts.Method, u, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if c.token != "" {
		req.Header.Set("Authorization", "JWT "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	isJSON := strings.Contains(resp.Header.Get("Content-Type"), "application/json")

	c.log.Debug().
		Str("method", opts.Method).
		Str("path", path).
		Int("status", resp.StatusCode).
		Msg("request")

	if resp.StatusCode >= 400 {
		msg := fmt.Sprintf("%d %s", resp.StatusCode, http.StatusText(resp.StatusCode))
		if isJSON {
			if m := gjson.GetBytes(respBody, "message"); m.Exists() {
				msg = msg + ": " + m.String()
			}
		}
		return nil, &HTTPError{StatusCode: resp.StatusCode, Message: msg}
	}

	return &Result{StatusCode: resp.StatusCode, Body: respBody, IsJSON: isJSON}, nil
}

// Download fetches an arbitrary URL (e.g. a NeuroVault image) using the
// client's HTTP session, without API path building or auth headers.
func (c *Client) Download(ctx context.Context, rawURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("download failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return nil, &HTTPError{
			StatusCode: resp.StatusCode,
			Message:    fmt.Sprintf("%d %s: %s", resp.StatusCode, http.StatusText(resp.StatusCode), rawURL),
		}
	}
	return io.ReadAll(resp.Body)
}

// dropNull removes nil-valued entries unless keepNull is set.
func dropNull(params map[string]any, keepNull bool) map[string]any {
	if keepNull {
		return params
	}
	out := make(map[string]any, len(params))
	for k, v := range params {
		if isNil(v) {
			continue
		}
		out[k] = v
	}
	return out
}

func isNil(v any) bool {
	if v == nil {
		return true
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Ptr, reflect.Slice, reflect.Map, reflect.Interface:
		return rv.IsNil()
	}
	return false
}

// encodeQuery serializes query parameters deterministically. Lists become
// comma-joined strings.
func encodeQuery(params map[string]any, keepNull bool) string {
	if len(params) == 0 {
		return ""
	}
	q := url.Values{}
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		v := params[k]
		if isNil(v) {
			if !keepNull {
				continue
			}
			q.Set(k, "")
			continue
		}
		q.Set(k, formatValue(v))
	}
	return q.Encode()
}

// formatValue renders a parameter value for query or form encoding.
func formatValue(v any) string {
	rv := reflect.ValueOf(v)
	if rv.Kind() == reflect.Slice && rv.Type().Elem().Kind() != reflect.Uint8 {
		parts := make([]string, 0, rv.Len())
		for i := 0; i < rv.Len(); i++ {
			parts = append(parts, formatValue(rv.Index(i).Interface()))
		}
		return strings.Join(parts, ",")
	}

	switch t := v.(type) {
	case string:
		return t
	case bool:
		return strconv.FormatBool(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(t), 'f', -1, 32)
	default:
		return fmt.Sprintf("%v", v)
	}
}

// encodeMultipart assembles a multipart body from form fields and file
// attachments. File content types are sniffed from content.
func encodeMultipart(data map[string]any, files []FilePart, keepNull bool) (*bytes.Buffer, string, error) {
	buf := &bytes.Buffer{}
	w := multipart.NewWriter(buf)

	fields := dropNull(data, keepNull)
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		v := fields[k]
		// slices become repeated form fields
		rv := reflect.ValueOf(v)
		if rv.Kind() == reflect.Slice && rv.Type().Elem().Kind() != reflect.Uint8 {
			for i := 0; i < rv.Len(); i++ {
				if err := w.WriteField(k, formatValue(rv.Index(i).Interface())); err != nil {
					return nil, "", err
				}
			}
			continue
		}
		if err := w.WriteField(k, formatValue(v)); err != nil {
			return nil, "", err
		}
	}

	for _, f := range files {
		hdr := make(textproto.MIMEHeader)
		hdr.Set("Content-Disposition", fmt.Sprintf(`form-data; name=%q; filename=%q`, f.Field, f.FileName))
		if kind, err := filetype.Match(f.Content); err == nil && kind != filetype.Unknown {
			hdr.Set("Content-Type", kind.MIME.Value)
		} else {
			hdr.Set("Content-Type", "application/octet-stream")
		}
		part, err := w.CreatePart(hdr)
		if err != nil {
			return nil, "", err
		}
		if _, err := part.Write(f.Content); err != nil {
			return nil, "", err
		}
	}

	if err := w.Close(); err != nil {
		return nil, "", err
	}
	return buf, w.FormDataContentType(), nil
}

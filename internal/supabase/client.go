// Package supabase is a small client for the parts of a Supabase project the kiosk reads and
// writes: PostgREST tables, storage listings and the signed-in user.
//
// Requests go through resty on top of a go-retryablehttp transport, so 5xx responses and
// connection errors are retried with backoff before an error is returned.
package supabase

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/go-resty/resty/v2"
	"github.com/hashicorp/go-retryablehttp"

	"github.com/desertthunder/mesakiosk/internal/models"
	"github.com/desertthunder/mesakiosk/internal/shared"
)

const (
	restPath    = "/rest/v1"
	storagePath = "/storage/v1"
	authPath    = "/auth/v1"

	defaultTimeout   = 15 * time.Second
	defaultListLimit = 100
)

// Options configures a [Client].
type Options struct {
	URL         string
	AnonKey     string
	AccessToken string
	Timeout     time.Duration
	RetryMax    int
	RetryWait   time.Duration
	Logger      *log.Logger
}

// FromConfig maps the supabase config section onto [Options].
func FromConfig(c shared.SupabaseConfig, logger *log.Logger) Options {
	return Options{
		URL:         c.URL,
		AnonKey:     c.AnonKey,
		AccessToken: c.AccessToken,
		Timeout:     c.Timeout,
		RetryMax:    c.RetryMax,
		Logger:      logger,
	}
}

// Client talks to one Supabase project.
type Client struct {
	baseURL string
	token   string
	http    *resty.Client
	logger  *log.Logger
}

// apiError is the error body PostgREST, storage and auth return.
type apiError struct {
	Message          string `json:"message"`
	Code             string `json:"code"`
	Details          string `json:"details"`
	Hint             string `json:"hint"`
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description"`
	Msg              string `json:"msg"`
}

func (e *apiError) String() string {
	for _, s := range []string{e.Message, e.ErrorDescription, e.Msg, e.Error} {
		if s != "" {
			return s
		}
	}
	return ""
}

// retryLogger adapts a charmbracelet logger to [retryablehttp.LeveledLogger].
type retryLogger struct{ l *log.Logger }

func (r retryLogger) Error(msg string, kv ...any) { r.l.Error(msg, kv...) }
func (r retryLogger) Info(msg string, kv ...any)  { r.l.Debug(msg, kv...) }
func (r retryLogger) Debug(msg string, kv ...any) { r.l.Debug(msg, kv...) }
func (r retryLogger) Warn(msg string, kv ...any)  { r.l.Warn(msg, kv...) }

// New returns a client for the project at opts.URL. The URL and anon key are required.
func New(opts Options) (*Client, error) {
	if opts.URL == "" || opts.AnonKey == "" {
		return nil, fmt.Errorf("%w: supabase url and anon key", shared.ErrMissingConfig)
	}
	if _, err := url.ParseRequestURI(opts.URL); err != nil {
		return nil, fmt.Errorf("%w: supabase url: %v", shared.ErrInvalidConfig, err)
	}
	if opts.Timeout <= 0 {
		opts.Timeout = defaultTimeout
	}
	if opts.RetryMax < 0 {
		opts.RetryMax = 0
	}
	if opts.Logger == nil {
		opts.Logger = shared.NewLogger(nil)
	}
	logger := shared.WithLogger(opts.Logger, "component", "supabase")

	retry := retryablehttp.NewClient()
	retry.RetryMax = opts.RetryMax
	retry.Logger = retryLogger{logger}
	retry.ErrorHandler = retryablehttp.PassthroughErrorHandler
	if opts.RetryWait > 0 {
		retry.RetryWaitMin = opts.RetryWait
		retry.RetryWaitMax = opts.RetryWait
	}

	token := opts.AccessToken
	if token == "" {
		token = opts.AnonKey
	}

	base := strings.TrimRight(opts.URL, "/")
	hc := resty.NewWithClient(retry.StandardClient()).
		SetBaseURL(base).
		SetTimeout(opts.Timeout).
		SetHeader("apikey", opts.AnonKey).
		SetHeader("Accept", "application/json").
		SetAuthToken(token).
		SetLogger(logger)

	return &Client{baseURL: base, token: opts.AccessToken, http: hc, logger: logger}, nil
}

func (c *Client) request(ctx context.Context) *resty.Request {
	return c.http.R().SetContext(ctx).SetError(&apiError{})
}

// check maps an unsuccessful response onto the shared sentinels.
func (c *Client) check(resp *resty.Response, err error, what string) error {
	if err != nil {
		return fmt.Errorf("%w: %s: %v", shared.ErrServiceUnavailable, what, err)
	}
	if !resp.IsError() {
		return nil
	}

	msg := resp.Status()
	if e, ok := resp.Error().(*apiError); ok && e.String() != "" {
		msg = e.String()
	}
	c.logger.Debug("request failed", "what", what, "status", resp.StatusCode(), "message", msg)

	switch resp.StatusCode() {
	case http.StatusNotFound, http.StatusNotAcceptable:
		return fmt.Errorf("%w: %s: %s", shared.ErrNotFound, what, msg)
	case http.StatusUnauthorized, http.StatusForbidden:
		return fmt.Errorf("%w: %s: %s", shared.ErrNotAuthenticated, what, msg)
	default:
		return fmt.Errorf("%w: %s: %d %s", shared.ErrAPIRequest, what, resp.StatusCode(), msg)
	}
}

// selectOne reads the first row of table matching id.
func selectOne[T any](ctx context.Context, c *Client, table, id string) (*T, error) {
	if id == "" {
		return nil, fmt.Errorf("%w: %s id", shared.ErrMissingArgument, table)
	}

	var rows []T
	resp, err := c.request(ctx).
		SetQueryParams(map[string]string{"select": "*", "id": "eq." + id, "limit": "1"}).
		SetResult(&rows).
		Get(restPath + "/" + table)
	if err := c.check(resp, err, "select "+table); err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("%w: %s %s", shared.ErrNotFound, table, id)
	}
	return &rows[0], nil
}

// Room fetches a room record by id.
func (c *Client) Room(ctx context.Context, id string) (*models.Room, error) {
	return selectOne[models.Room](ctx, c, "room", id)
}

// Event fetches an events row by id.
func (c *Client) Event(ctx context.Context, id string) (*models.Event, error) {
	return selectOne[models.Event](ctx, c, "events", id)
}

// UpdateRoom applies patch to the room with id.
func (c *Client) UpdateRoom(ctx context.Context, id string, patch models.RoomPatch) error {
	if id == "" {
		return fmt.Errorf("%w: room id", shared.ErrMissingArgument)
	}
	resp, err := c.request(ctx).
		SetQueryParam("id", "eq."+id).
		SetHeader("Prefer", "return=minimal").
		SetBody(patch).
		Patch(restPath + "/room")
	return c.check(resp, err, "update room")
}

// KioskSessions lists the front-desk check-ins available for selection, newest first.
func (c *Client) KioskSessions(ctx context.Context) ([]models.KioskSession, error) {
	var rows []models.KioskSession
	resp, err := c.request(ctx).
		SetQueryParams(map[string]string{"select": "*", "order": "start_time.desc"}).
		SetResult(&rows).
		Get(restPath + "/kiosk_session")
	if err := c.check(resp, err, "select kiosk_session"); err != nil {
		return nil, err
	}
	return rows, nil
}

type listRequest struct {
	Prefix string `json:"prefix"`
	Limit  int    `json:"limit"`
	Offset int    `json:"offset"`
	SortBy struct {
		Column string `json:"column"`
		Order  string `json:"order"`
	} `json:"sortBy"`
}

// ListObjects lists the entries of bucket under prefix, sorted by name. Folders are included.
func (c *Client) ListObjects(ctx context.Context, bucket, prefix string) ([]models.StorageObject, error) {
	if bucket == "" {
		return nil, fmt.Errorf("%w: bucket", shared.ErrMissingArgument)
	}

	body := listRequest{Prefix: prefix, Limit: defaultListLimit}
	body.SortBy.Column, body.SortBy.Order = "name", "asc"

	var objs []models.StorageObject
	resp, err := c.request(ctx).
		SetPathParam("bucket", bucket).
		SetBody(body).
		SetResult(&objs).
		Post(storagePath + "/object/list/{bucket}")
	if err := c.check(resp, err, "list "+bucket); err != nil {
		return nil, err
	}
	return objs, nil
}

// PublicURL is the download URL of a public object.
func (c *Client) PublicURL(bucket string, parts ...string) string {
	segs := make([]string, 0, len(parts)+1)
	segs = append(segs, url.PathEscape(bucket))
	for _, p := range parts {
		for _, s := range strings.Split(strings.Trim(p, "/"), "/") {
			if s != "" {
				segs = append(segs, url.PathEscape(s))
			}
		}
	}
	return c.baseURL + storagePath + "/object/public/" + strings.Join(segs, "/")
}

type authUser struct {
	ID           string `json:"id"`
	Email        string `json:"email"`
	UserMetadata struct {
		RealName string `json:"real_name"`
		FullName string `json:"full_name"`
		Name     string `json:"name"`
	} `json:"user_metadata"`
}

// CurrentUser resolves the user behind the configured access token. Without a token the kiosk is a
// guest and CurrentUser returns nil, nil.
func (c *Client) CurrentUser(ctx context.Context) (*models.User, error) {
	if c.token == "" {
		return nil, nil
	}

	var u authUser
	resp, err := c.request(ctx).SetResult(&u).Get(authPath + "/user")
	if err := c.check(resp, err, "get user"); err != nil {
		if errors.Is(err, shared.ErrNotAuthenticated) {
			c.logger.Warn("access token rejected, continuing as guest")
			return nil, nil
		}
		return nil, err
	}

	name := u.UserMetadata.RealName
	for _, alt := range []string{u.UserMetadata.FullName, u.UserMetadata.Name} {
		if name == "" {
			name = alt
		}
	}
	return &models.User{ID: u.ID, DisplayName: name, Email: u.Email}, nil
}

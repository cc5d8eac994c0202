// Package trackerapi provides a Yandex Tracker REST API v2 client.
//
// Responses are decoded into a loose value model: top-level entities are
// Object maps, nested references are *Ref, comments are *Comment when they
// have the regular shape, timestamps are time.Time.
package trackerapi

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/ogen-go/ogen/validate"
)

// DefaultBaseURL is the public Tracker API endpoint.
const DefaultBaseURL = "https://api.tracker.yandex.net"

const maxResponseBytes = 16 << 20

// securitySource authorizes outgoing requests.
type securitySource interface {
	authorize(req *http.Request)
}

// oauthSecuritySource uses a Yandex OAuth token.
type oauthSecuritySource struct {
	token string
}

func (s *oauthSecuritySource) authorize(req *http.Request) {
	req.Header.Set("Authorization", "OAuth "+s.token)
}

// iamSecuritySource uses a Yandex Cloud IAM token.
type iamSecuritySource struct {
	token string
}

func (s *iamSecuritySource) authorize(req *http.Request) {
	req.Header.Set("Authorization", "Bearer "+s.token)
}

// Options configures a Client. Exactly one of Token and IAMToken, and
// exactly one of OrgID and CloudOrgID, must be set.
type Options struct {
	BaseURL    string
	Token      string
	IAMToken   string
	OrgID      string
	CloudOrgID string
	HTTPClient *http.Client
}

// Client talks to the Tracker API.
type Client struct {
	baseURL    string
	httpClient *http.Client
	security   securitySource
	orgHeader  string
	orgID      string
}

// NewClient creates a client from opts.
func NewClient(opts Options) (*Client, error) {
	c := &Client{
		baseURL:    strings.TrimRight(opts.BaseURL, "/"),
		httpClient: opts.HTTPClient,
	}
	if c.baseURL == "" {
		c.baseURL = DefaultBaseURL
	}
	if c.httpClient == nil {
		c.httpClient = &http.Client{Timeout: 30 * time.Second}
	}

	switch {
	case opts.Token != "" && opts.IAMToken != "":
		return nil, errors.New("only one of token and IAM token may be set")
	case opts.Token != "":
		c.security = &oauthSecuritySource{token: opts.Token}
	case opts.IAMToken != "":
		c.security = &iamSecuritySource{token: opts.IAMToken}
	default:
		return nil, errors.New("token is required")
	}

	switch {
	case opts.OrgID != "" && opts.CloudOrgID != "":
		return nil, errors.New("only one of org id and cloud org id may be set")
	case opts.OrgID != "":
		c.orgHeader, c.orgID = "X-Org-ID", opts.OrgID
	case opts.CloudOrgID != "":
		c.orgHeader, c.orgID = "X-Cloud-Org-ID", opts.CloudOrgID
	default:
		return nil, errors.New("org id is required")
	}

	return c, nil
}

// do performs one request and returns the response body of a 2xx answer.
func (c *Client) do(ctx context.Context, method, path string, q url.Values, body []byte) ([]byte, error) {
	u := c.baseURL + path
	if len(q) > 0 {
		u += "?" + q.Encode()
	}

	var rdr io.Reader
	if body != nil {
		rdr = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, u, rdr)
	if err != nil {
		return nil, errors.Wrap(err, "create request")
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	c.security.authorize(req)
	req.Header.Set(c.orgHeader, c.orgID)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, errors.Wrapf(err, "%s %s", method, path)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, errors.Wrap(err, "read response")
	}

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, errors.Wrapf(ErrNotFound, "%s %s", method, path)
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		statusErr := &validate.UnexpectedStatusCodeError{StatusCode: resp.StatusCode, Payload: resp}
		if msgs := errorMessages(data); len(msgs) > 0 {
			return nil, errors.Wrap(statusErr, strings.Join(msgs, "; "))
		}
		return nil, errors.Wrapf(statusErr, "%s %s", method, path)
	}
	return data, nil
}

// errorMessages extracts errorMessages from a Tracker error body.
func errorMessages(data []byte) []string {
	var msgs []string
	d := jx.DecodeBytes(data)
	if d.Next() != jx.Object {
		return nil
	}
	_ = d.Obj(func(d *jx.Decoder, key string) error {
		if key != "errorMessages" || d.Next() != jx.Array {
			return d.Skip()
		}
		return d.Arr(func(d *jx.Decoder) error {
			if d.Next() != jx.String {
				return d.Skip()
			}
			s, err := d.Str()
			if err == nil && s != "" {
				msgs = append(msgs, s)
			}
			return err
		})
	})
	return msgs
}

func (c *Client) getEntity(ctx context.Context, method, path string, q url.Values, body []byte) (any, error) {
	data, err := c.do(ctx, method, path, q, body)
	if err != nil {
		return nil, err
	}
	obj, err := decodeEntity(data)
	if err != nil {
		return nil, err
	}
	return obj, nil
}

// =============================================================================
// Issues
// =============================================================================

// GetIssue fetches one issue by key or id.
func (c *Client) GetIssue(ctx context.Context, key string) (any, error) {
	return c.getEntity(ctx, http.MethodGet, "/v2/issues/"+url.PathEscape(key), nil, nil)
}

// CreateIssue creates an issue in queue. fields carries any further issue
// attributes (description, type, priority, assignee...).
func (c *Client) CreateIssue(ctx context.Context, queue, summary string, fields map[string]any) (any, error) {
	payload := make(map[string]any, len(fields)+2)
	for k, v := range fields {
		payload[k] = v
	}
	payload["queue"] = queue
	payload["summary"] = summary
	return c.getEntity(ctx, http.MethodPost, "/v2/issues/", nil, encodeFields(payload))
}

// UpdateIssue edits the given fields of an issue.
func (c *Client) UpdateIssue(ctx context.Context, key string, fields map[string]any) (any, error) {
	return c.getEntity(ctx, http.MethodPatch, "/v2/issues/"+url.PathEscape(key), nil, encodeFields(fields))
}

// MoveIssue moves an issue to another queue. The issue gets a new key.
func (c *Client) MoveIssue(ctx context.Context, key, queue string) (any, error) {
	q := url.Values{"queue": {queue}}
	return c.getEntity(ctx, http.MethodPost, "/v2/issues/"+url.PathEscape(key)+"/_move", q, nil)
}

// FindIssues returns a lazily fetched page of issues matching req.
func (c *Client) FindIssues(_ context.Context, req SearchRequest) (any, error) {
	page, err := c.searchPage("/v2/issues/_search", req)
	if err != nil {
		return nil, err
	}
	return page, nil
}

// CountIssues returns the number of issues matching req. Paging and order
// are ignored.
func (c *Client) CountIssues(ctx context.Context, req SearchRequest) (int, error) {
	data, err := c.do(ctx, http.MethodPost, "/v2/issues/_count", nil, req.countBody())
	if err != nil {
		return 0, err
	}
	n, err := jx.DecodeBytes(data).Int()
	if err != nil {
		return 0, errors.Wrap(err, "decode count")
	}
	return n, nil
}

// LinkIssues links src to dst with relationship and returns both issues as
// they are after linking.
func (c *Client) LinkIssues(ctx context.Context, src, dst, relationship string) (any, any, error) {
	body := encodeFields(map[string]any{
		"relationship": relationship,
		"issue":        dst,
	})
	if _, err := c.do(ctx, http.MethodPost, "/v2/issues/"+url.PathEscape(src)+"/links", nil, body); err != nil {
		return nil, nil, err
	}
	source, err := c.GetIssue(ctx, src)
	if err != nil {
		return nil, nil, err
	}
	target, err := c.GetIssue(ctx, dst)
	if err != nil {
		return nil, nil, err
	}
	return source, target, nil
}

// GetIssueComments lists comments of an issue.
func (c *Client) GetIssueComments(ctx context.Context, key string) (any, error) {
	data, err := c.do(ctx, http.MethodGet, "/v2/issues/"+url.PathEscape(key)+"/comments", nil, nil)
	if err != nil {
		return nil, err
	}
	comments, err := decodeComments(data)
	if err != nil {
		return nil, err
	}
	return comments, nil
}

// =============================================================================
// Projects
// =============================================================================

// GetProject fetches one project by id.
func (c *Client) GetProject(ctx context.Context, id string) (any, error) {
	return c.getEntity(ctx, http.MethodGet, "/v2/projects/"+url.PathEscape(id), nil, nil)
}

// CreateProject creates a project from fields.
func (c *Client) CreateProject(ctx context.Context, fields map[string]any) (any, error) {
	return c.getEntity(ctx, http.MethodPost, "/v2/projects", nil, encodeFields(fields))
}

// UpdateProject edits a project. A "version" entry in fields is sent as the
// optimistic-locking query parameter.
func (c *Client) UpdateProject(ctx context.Context, id string, fields map[string]any) (any, error) {
	var q url.Values
	payload := make(map[string]any, len(fields))
	for k, v := range fields {
		if k == "version" {
			q = url.Values{"version": {stringOf(v)}}
			continue
		}
		payload[k] = v
	}
	return c.getEntity(ctx, http.MethodPut, "/v2/projects/"+url.PathEscape(id), q, encodeFields(payload))
}

// DeleteProject removes a project.
func (c *Client) DeleteProject(ctx context.Context, id string) error {
	_, err := c.do(ctx, http.MethodDelete, "/v2/projects/"+url.PathEscape(id), nil, nil)
	return err
}

// FindProjects returns a lazily fetched page of projects matching req.
func (c *Client) FindProjects(_ context.Context, req SearchRequest) (any, error) {
	page, err := c.searchPage("/v2/projects/_search", req)
	if err != nil {
		return nil, err
	}
	return page, nil
}

// =============================================================================
// Boards
// =============================================================================

// GetBoards lists all boards visible to the caller.
func (c *Client) GetBoards(ctx context.Context) (any, error) {
	data, err := c.do(ctx, http.MethodGet, "/v2/boards", nil, nil)
	if err != nil {
		return nil, err
	}
	boards, err := decodeList(data)
	if err != nil {
		return nil, err
	}
	return boards, nil
}

// GetBoard fetches one board by id.
func (c *Client) GetBoard(ctx context.Context, id string) (any, error) {
	return c.getEntity(ctx, http.MethodGet, "/v2/boards/"+url.PathEscape(id), nil, nil)
}

func (c *Client) searchPage(path string, req SearchRequest) (*Page, error) {
	q, err := req.Values()
	if err != nil {
		return nil, err
	}
	body := req.Body()
	return newPage(func(ctx context.Context) ([]any, error) {
		data, err := c.do(ctx, http.MethodPost, path, q, body)
		if err != nil {
			return nil, err
		}
		return decodeList(data)
	}), nil
}

func stringOf(v any) string {
	switch v := v.(type) {
	case string:
		return v
	case int:
		return formatID(int64(v))
	case int64:
		return formatID(v)
	case float64:
		return formatID(int64(v))
	}
	return ""
}

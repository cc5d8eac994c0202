package trackerapi

import (
	"context"
	"net/url"
	"strconv"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/google/go-querystring/query"
)

// ErrNotFound is returned when the tracker answers 404 for an entity.
var ErrNotFound = errors.New("not found")

// Object is a mapping-style entity as returned by the API: issues, projects,
// boards and anything the decoder could not turn into a typed value.
type Object map[string]any

// Attributer is implemented by typed, attribute-style values.
// Attr reports the named attribute and whether it is present.
type Attributer interface {
	Attr(name string) (any, bool)
}

// Materializer is a lazily fetched collection. The first call performs the
// upstream request.
type Materializer interface {
	Materialize(ctx context.Context) ([]any, error)
}

// Ref links to another tracker entity (status, user, queue, priority...).
type Ref struct {
	Self    string
	ID      string
	Key     string
	Display string
}

// Attr implements Attributer.
func (r Ref) Attr(name string) (any, bool) {
	switch name {
	case "self":
		return r.Self, r.Self != ""
	case "id":
		return r.ID, r.ID != ""
	case "key":
		return r.Key, r.Key != ""
	case "display":
		return r.Display, true
	}
	return nil, false
}

// Comment is a typed issue comment. Entries that do not fit this shape are
// delivered as Object instead.
type Comment struct {
	ID        int64
	LongID    string
	Text      string
	CreatedBy any
	UpdatedBy any
	CreatedAt time.Time
	UpdatedAt *time.Time
	Version   *int64
}

// Attr implements Attributer.
func (c *Comment) Attr(name string) (any, bool) {
	switch name {
	case "id":
		return c.ID, true
	case "longId":
		return c.LongID, c.LongID != ""
	case "text":
		return c.Text, true
	case "createdBy":
		return c.CreatedBy, c.CreatedBy != nil
	case "updatedBy":
		return c.UpdatedBy, c.UpdatedBy != nil
	case "createdAt":
		return c.CreatedAt, true
	case "updatedAt":
		if c.UpdatedAt == nil {
			return nil, false
		}
		return *c.UpdatedAt, true
	case "version":
		if c.Version == nil {
			return nil, false
		}
		return *c.Version, true
	}
	return nil, false
}

// SearchRequest is the parameter shape of the _search and _count endpoints.
// Paging goes to the query string, everything else to the JSON body; zero
// values are left out of both.
type SearchRequest struct {
	PerPage int `url:"perPage,omitempty"`
	Page    int `url:"page,omitempty"`

	Query  string         `url:"-"`
	Filter map[string]any `url:"-"`
	Order  string         `url:"-"`
}

// Values returns the URL query part of the request.
func (r SearchRequest) Values() (url.Values, error) {
	v, err := query.Values(r)
	if err != nil {
		return nil, errors.Wrap(err, "encode search params")
	}
	return v, nil
}

// Body returns the JSON body of the request.
func (r SearchRequest) Body() []byte {
	e := jx.GetEncoder()
	defer jx.PutEncoder(e)

	e.ObjStart()
	if r.Query != "" {
		e.FieldStart("query")
		e.Str(r.Query)
	}
	if len(r.Filter) > 0 {
		e.FieldStart("filter")
		writeValue(e, map[string]any(r.Filter))
	}
	if r.Order != "" {
		e.FieldStart("order")
		e.Str(r.Order)
	}
	e.ObjEnd()

	return append([]byte(nil), e.Bytes()...)
}

// countBody is the body of _count: the same filters without ordering.
func (r SearchRequest) countBody() []byte {
	r.Order = ""
	return r.Body()
}

func formatID(n int64) string {
	return strconv.FormatInt(n, 10)
}

package postgrest

import (
	"context"
	"encoding/json"
	"io"
	"math"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testURL = "http://localhost:3000"

func newTestClient(t *testing.T, opts ...Option) *Client {
	t.Helper()
	c, err := New(testURL, opts...)
	require.NoError(t, err)
	return c
}

func TestBuilderURL(t *testing.T) {
	c := newTestClient(t)

	tests := []struct {
		name    string
		builder *Builder
		want    string
	}{
		{
			name:    "select and eq keep insertion order",
			builder: c.From("users").Select("username").Eq("username", "leroyjenkins"),
			want:    "/users?select=username&username=eq.leroyjenkins",
		},
		{
			name:    "filters before select",
			builder: c.From("users").Eq("username", "supabot").Select("status"),
			want:    "/users?username=eq.supabot&select=status",
		},
		{
			name:    "select replaced in place",
			builder: c.From("users").Select("a").Eq("b", "1").Select("c,d"),
			want:    "/users?select=c,d&b=eq.1",
		},
		{
			name:    "comparison operators",
			builder: c.From("t").Neq("a", "1").Gt("b", "2").Gte("c", "3").Lt("d", "4").Lte("e", "5"),
			want:    "/t?a=neq.1&b=gt.2&c=gte.3&d=lt.4&e=lte.5",
		},
		{
			name:    "pattern and is",
			builder: c.From("t").Like("a", "*bot").Ilike("b", "SUPA*").Is("c", "null"),
			want:    "/t?a=like.*bot&b=ilike.SUPA*&c=is.null",
		},
		{
			name:    "in quotes reserved characters",
			builder: c.From("t").In("a", []string{"x", "y,z", "1.5"}),
			want:    `/t?a=in.(x,%22y,z%22,%221.5%22)`,
		},
		{
			name:    "array containment",
			builder: c.From("t").Contains("tags", []string{"a", "b"}).ContainedBy("ids", []string{"1"}),
			want:    "/t?tags=cs.{a,b}&ids=cd.{1}",
		},
		{
			name:    "not and or",
			builder: c.From("t").Not("status", "eq", "OFFLINE").Or("age.lt.18,age.gt.65"),
			want:    "/t?status=not.eq.OFFLINE&or=(age.lt.18,age.gt.65)",
		},
		{
			name:    "text search",
			builder: c.From("t").TextSearch("catchphrase", "cat", TextSearchPlain, "english").TextSearch("b", "x", "", ""),
			want:    "/t?catchphrase=plfts(english).cat&b=fts.x",
		},
		{
			name:    "order terms merge",
			builder: c.From("t").Order("a", OrderOpts{}).Order("b", OrderOpts{Descending: true, NullsFirst: true}).Order("c", OrderOpts{NullsLast: true}),
			want:    "/t?order=a.asc,b.desc.nullsfirst,c.asc.nullslast",
		},
		{
			name:    "range sets offset and limit",
			builder: c.From("t").Range(10, 19),
			want:    "/t?offset=10&limit=10",
		},
		{
			name:    "inverted range selects nothing",
			builder: c.From("t").Range(5, 2),
			want:    "/t?offset=5&limit=0",
		},
		{
			name:    "limit replaces",
			builder: c.From("t").Limit(5).Limit(1).Offset(2),
			want:    "/t?limit=1&offset=2",
		},
		{
			name:    "values are escaped",
			builder: c.From("t").Eq("name", "a&b=c d"),
			want:    "/t?name=eq.a%26b%3Dc+d",
		},
		{
			name:    "rpc path",
			builder: c.RPC("get_status", map[string]string{"name_param": "leroyjenkins"}),
			want:    "/rpc/get_status",
		},
		{
			name:    "upsert on conflict",
			builder: c.From("users").Upsert(map[string]string{"username": "x"}).OnConflict("username"),
			want:    "/users?on_conflict=username",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, testURL+tt.want, tt.builder.URL())
		})
	}
}

func TestBuilderMethods(t *testing.T) {
	c := newTestClient(t)

	assert.Equal(t, http.MethodGet, c.From("users").Select("*").Method())
	assert.Equal(t, http.MethodPost, c.From("users").Insert(`{}`).Method())
	assert.Equal(t, http.MethodPost, c.From("users").Upsert(`{}`).Method())
	assert.Equal(t, http.MethodPatch, c.From("users").Update(`{}`).Method())
	assert.Equal(t, http.MethodDelete, c.From("users").Delete().Method())
	assert.Equal(t, http.MethodPost, c.RPC("get_status", nil).Method())
}

func TestSchemaHeaderPerVerb(t *testing.T) {
	c := newTestClient(t).Schema("personal")

	tests := []struct {
		name    string
		builder *Builder
		header  string
		absent  string
	}{
		{"select", c.From("users").Select("username"), "Accept-Profile", "Content-Profile"},
		{"custom header", c.From("users").Header("X-Probe", "1"), "Accept-Profile", "Content-Profile"},
		{"insert", c.From("users").Insert(`{}`), "Content-Profile", "Accept-Profile"},
		{"update", c.From("users").Update(`{}`), "Content-Profile", "Accept-Profile"},
		{"delete", c.From("users").Delete(), "Content-Profile", "Accept-Profile"},
		{"rpc", c.RPC("get_status", nil), "Content-Profile", "Accept-Profile"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := tt.builder.Headers()
			assert.Equal(t, "personal", h.Get(tt.header))
			assert.Empty(t, h.Get(tt.absent))
		})
	}
}

func TestSchemaIsOrthogonalToQuery(t *testing.T) {
	base := newTestClient(t, WithHeader("apikey", "secret"))
	personal := base.Schema("personal")

	build := func(c *Client) *Builder {
		return c.From("users").Update(map[string]string{"status": "OFFLINE"}).Eq("username", "supabot")
	}

	plain, err := build(base).Request(context.Background())
	require.NoError(t, err)
	scoped, err := build(personal).Request(context.Background())
	require.NoError(t, err)

	assert.Equal(t, plain.URL.String(), scoped.URL.String())
	assert.Equal(t, plain.Method, scoped.Method)

	plainBody, _ := io.ReadAll(plain.Body)
	scopedBody, _ := io.ReadAll(scoped.Body)
	assert.JSONEq(t, string(plainBody), string(scopedBody))

	scoped.Header.Del("Content-Profile")
	assert.Equal(t, plain.Header, scoped.Header)
	assert.Empty(t, plain.Header.Get("Content-Profile"))
	assert.Empty(t, plain.Header.Get("Accept-Profile"))
}

func TestPreferAndAcceptHeaders(t *testing.T) {
	c := newTestClient(t)

	assert.Empty(t, c.From("t").Select("*").Headers().Get("Prefer"))
	assert.Equal(t, "return=representation", c.From("t").Update(`{}`).Headers().Get("Prefer"))
	assert.Equal(t, "return=representation", c.From("t").Delete().Headers().Get("Prefer"))
	assert.Equal(t, "return=representation,resolution=merge-duplicates", c.From("t").Upsert(`{}`).Headers().Get("Prefer"))
	assert.Equal(t, "count=exact", c.From("t").Count(CountExact).Headers().Get("Prefer"))
	assert.Equal(t, "return=representation,count=planned", c.From("t").Insert(`{}`).Count(CountPlanned).Headers().Get("Prefer"))
	assert.Equal(t, "application/vnd.pgrst.object+json", c.From("t").Single().Headers().Get("Accept"))
}

func TestRequestBody(t *testing.T) {
	c := newTestClient(t)

	tests := []struct {
		name    string
		builder *Builder
		want    string
	}{
		{"raw string", c.From("users").Update(`{"status": "OFFLINE"}`), `{"status":"OFFLINE"}`},
		{"raw message", c.From("users").Insert(json.RawMessage(`[{"a":1}]`)), `[{"a":1}]`},
		{"struct", c.From("users").Update(struct {
			Status string `json:"status"`
		}{"OFFLINE"}), `{"status":"OFFLINE"}`},
		{"rpc args", c.RPC("f", map[string]int{"param": 0}), `{"param":0}`},
		{"rpc without args", c.RPC("f", nil), `{}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, err := tt.builder.Request(context.Background())
			require.NoError(t, err)
			body, err := io.ReadAll(req.Body)
			require.NoError(t, err)
			assert.JSONEq(t, tt.want, string(body))
			assert.Equal(t, "application/json", req.Header.Get("Content-Type"))
		})
	}

	req, err := c.From("users").Select("*").Request(context.Background())
	require.NoError(t, err)
	assert.Nil(t, req.Body)
	assert.Empty(t, req.Header.Get("Content-Type"))
}

func TestRequestUnencodableBody(t *testing.T) {
	c := newTestClient(t)
	_, err := c.From("t").Insert(math.NaN()).Request(context.Background())

	var te *TransportError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, http.MethodPost, te.Method)
}

func TestBuilderIsDeterministic(t *testing.T) {
	c := newTestClient(t)
	build := func() string {
		return c.From("users").Select("username").Eq("username", "leroyjenkins").Order("username", OrderOpts{}).Limit(1).URL()
	}
	first := build()
	for range 50 {
		assert.Equal(t, first, build())
	}
}

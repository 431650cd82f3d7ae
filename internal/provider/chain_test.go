package provider

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"linksave/internal/apperr"
	"linksave/internal/post"
)

type countingAPI struct {
	name  string
	calls int
	post  *post.Post
	err   error
	order *[]string
}

func (a *countingAPI) api() API {
	return API{Name: a.name, Fetch: func(ctx context.Context, rawURL string) (*post.Post, error) {
		a.calls++
		*a.order = append(*a.order, a.name)
		return a.post, a.err
	}}
}

func TestChainFallbackOrder(t *testing.T) {
	var order []string
	a := &countingAPI{name: "A", err: errors.New("a down"), order: &order}
	b := &countingAPI{name: "B", err: apperr.NewResolution("x", apperr.ReasonParse, ErrHTMLResponse), order: &order}
	c := &countingAPI{name: "C", post: &post.Post{ID: "c1"}, order: &order}

	chain := Chain{Platform: post.PlatformTwitter, APIs: []API{a.api(), b.api(), c.api()}}
	p, err := chain.Resolve(context.Background(), "https://x.com/a/status/1")

	require.NoError(t, err)
	assert.Equal(t, "c1", p.ID)
	assert.Equal(t, post.PlatformTwitter, p.Platform)
	assert.Equal(t, post.UnknownAuthor, p.Author)
	assert.Equal(t, []string{"A", "B", "C"}, order)
	assert.Equal(t, 1, a.calls)
	assert.Equal(t, 1, b.calls)
	assert.Equal(t, 1, c.calls)
}

func TestChainStopsAtFirstSuccess(t *testing.T) {
	var order []string
	a := &countingAPI{name: "A", post: &post.Post{ID: "a"}, order: &order}
	b := &countingAPI{name: "B", post: &post.Post{ID: "b"}, order: &order}

	p, err := Chain{Platform: post.PlatformTikTok, APIs: []API{a.api(), b.api()}}.Resolve(context.Background(), "u")
	require.NoError(t, err)
	assert.Equal(t, "a", p.ID)
	assert.Equal(t, 0, b.calls)
}

func TestChainIncompletePostTriesNext(t *testing.T) {
	var order []string
	a := &countingAPI{name: "A", post: &post.Post{ID: "a", MediaItems: []post.MediaItem{{Kind: post.KindVideo}}}, order: &order}
	b := &countingAPI{name: "B", post: &post.Post{ID: "b", MediaItems: []post.MediaItem{{Kind: post.KindVideo, URL: "v"}}}, order: &order}

	p, err := Chain{Platform: post.PlatformTikTok, APIs: []API{a.api(), b.api()}}.Resolve(context.Background(), "u")
	require.NoError(t, err)
	assert.Equal(t, "b", p.ID)
}

func TestChainExhaustedAggregatesErrors(t *testing.T) {
	var order []string
	a := &countingAPI{name: "first", err: apperr.NewResolution("x", apperr.ReasonNotFound, nil), order: &order}
	b := &countingAPI{name: "second", err: apperr.NewResolution("x", apperr.ReasonNotFound, nil), order: &order}

	_, err := Chain{Platform: post.PlatformInstagram, APIs: []API{a.api(), b.api()}}.Resolve(context.Background(), "u")
	require.Error(t, err)
	assert.True(t, apperr.IsReason(err, apperr.ReasonNotFound))
	assert.True(t, strings.Contains(err.Error(), "[first]"))
	assert.True(t, strings.Contains(err.Error(), "[second]"))
}

func TestDominantReason(t *testing.T) {
	assert.Equal(t, apperr.ReasonParse, dominantReason([]apperr.Reason{apperr.ReasonParse, apperr.ReasonParse}))
	assert.Equal(t, apperr.ReasonNotFound, dominantReason([]apperr.Reason{apperr.ReasonNetwork, apperr.ReasonNotFound}))
	assert.Equal(t, apperr.ReasonNetwork, dominantReason([]apperr.Reason{apperr.ReasonNetwork, apperr.ReasonParse}))
	assert.Equal(t, apperr.ReasonNetwork, dominantReason(nil))
}

func TestSchemaApply(t *testing.T) {
	var doc any
	dec := json.NewDecoder(strings.NewReader(`{
		"tweet": {"author": {"screen_name": ""}, "user": {"name": "alice"}, "likes": 10,
		"media": {"all": [{"url": "https://v/1.mp4"}]}, "created_timestamp": 1700000000}
	}`))
	dec.UseNumber()
	require.NoError(t, dec.Decode(&doc))

	schema := Schema{
		"author":  {Paths: []string{"tweet.author.screen_name", "tweet.user.name"}, Default: post.UnknownAuthor},
		"caption": {Paths: []string{"tweet.text", "tweet.raw_text.text"}},
		"media":   {Paths: []string{"tweet.media.all.0.url"}, Required: true},
		"likes":   {Paths: []string{"tweet.likes"}},
		"created": {Paths: []string{"tweet.created_timestamp"}},
		"views":   {Paths: []string{"tweet.views"}, Default: "n/a"},
	}
	v, err := schema.Apply(doc)
	require.NoError(t, err)

	assert.Equal(t, "alice", v.String("author"))
	assert.Equal(t, "", v.String("caption"))
	assert.False(t, v.Has("caption"))
	assert.Equal(t, "https://v/1.mp4", v.String("media"))
	likes, ok := v.Int("likes")
	assert.True(t, ok)
	assert.Equal(t, int64(10), likes)
	ts, ok := v.Time("created")
	assert.True(t, ok)
	assert.Equal(t, int64(1700000000), ts.Unix())
	assert.Equal(t, "n/a", v.String("views"))
}

func TestSchemaMissingRequired(t *testing.T) {
	_, err := Schema{"media": {Paths: []string{"a.b", "c"}, Required: true}}.Apply(map[string]any{"a": map[string]any{}})
	var mf *MissingFieldError
	require.ErrorAs(t, err, &mf)
	assert.Equal(t, "media", mf.Field)
}

func TestLookupArrays(t *testing.T) {
	doc := map[string]any{"list": []any{"x", map[string]any{"k": "v"}}}
	v, ok := Lookup(doc, "list.1.k")
	assert.True(t, ok)
	assert.Equal(t, "v", v)
	_, ok = Lookup(doc, "list.5")
	assert.False(t, ok)
	_, ok = Lookup(doc, "list.x")
	assert.False(t, ok)
}

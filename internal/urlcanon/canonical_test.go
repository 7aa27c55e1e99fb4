package urlcanon

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCanonicalize(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		raw  string
		base string
		want string
	}{
		{name: "http default port", raw: "http://example.com:80/", want: "http://example.com/"},
		{name: "https default port", raw: "https://example.com:443/", want: "https://example.com/"},
		{name: "non default port", raw: "http://example.com:8080/", want: "http://example.com:8080/"},
		{name: "https on port 80", raw: "https://example.com:80/", want: "https://example.com:80/"},
		{name: "empty path", raw: "http://example.com", want: "http://example.com/"},
		{name: "empty port", raw: "http://example.com:/a", want: "http://example.com/a"},
		{name: "lowercase scheme and host", raw: "HTTP://Example.COM/Path", want: "http://example.com/Path"},
		{name: "fragment dropped", raw: "http://example.com/a#top", want: "http://example.com/a"},
		{name: "user info dropped", raw: "http://user:pw@example.com/", want: "http://example.com/"},
		{name: "empty segments collapsed", raw: "http://example.com//a//b", want: "http://example.com/a/b"},
		{name: "dot segments removed", raw: "http://example.com/a/./b/../c", want: "http://example.com/a/c"},
		{name: "climb clamped", raw: "http://example.com/../../a", want: "http://example.com/a"},
		{
			name: "query sorted with duplicates",
			raw:  "http://example.com/?name1=value1.2&name1=value1.1&name2=value2",
			want: "http://example.com/?name1=value1.1&name1=value1.2&name2=value2",
		},
		{
			name: "identical pairs preserved",
			raw:  "http://example.com/?b=1&a=2&b=1",
			want: "http://example.com/?a=2&b=1&b=1",
		},
		{name: "empty values render bare", raw: "http://example.com/?b=&a", want: "http://example.com/?a&b"},
		{name: "empty query dropped", raw: "http://example.com/x?", want: "http://example.com/x"},
		{
			name: "percent encoding preserved",
			raw:  "http://example.com/%7Euser/a%20b?q=%41%2f",
			want: "http://example.com/%7Euser/a%20b?q=%41%2f",
		},
		{name: "ipv6 host", raw: "http://[::1]:8080/x", want: "http://[::1]:8080/x"},
		{name: "ipv6 default port", raw: "http://[::1]:80/x", want: "http://[::1]/x"},
		{name: "path params kept", raw: "http://example.com/a;jsessionid=1", want: "http://example.com/a;jsessionid=1"},
		{name: "resolved against base", raw: "../x?b=2&a=1", base: "http://example.com/b/c/d", want: "http://example.com/b/x?a=1&b=2"},
		{name: "absolute ignores base", raw: "https://other.com:443", base: "http://example.com/", want: "https://other.com/"},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, ok := Canonicalize(tt.raw, tt.base)
			require.True(t, ok)
			require.Equal(t, tt.want, got)
		})
	}
}

func TestCanonicalizeNotCrawlable(t *testing.T) {
	t.Parallel()

	for _, raw := range []string{
		"mailto:someone@example.com",
		"javascript:void(0)",
		"tel:+15555550100",
		"/relative/without/base",
		"",
		"http://example.com:abc/",
		"http:///nohost",
	} {
		got, ok := Canonicalize(raw, "")
		require.False(t, ok, raw)
		require.Empty(t, got)
	}

	_, ok := Canonicalize("mailto:x@example.com", "http://example.com/")
	require.False(t, ok)
}

func TestCanonicalizeIdempotent(t *testing.T) {
	t.Parallel()

	for _, raw := range []string{
		"http://Example.com:80/a/./b/../c?z=1&a=&a=2#frag",
		"https://example.com:443",
		"http://example.com//x//y/?=v&k",
		"http://example.com/a;p=1/./b?q=a=b",
		"http://example.com/%7Efoo/bar%20baz?x=%2F",
		"http://[::1]:8080/../x",
	} {
		once, ok := Canonicalize(raw, "")
		require.True(t, ok, raw)
		twice, ok := Canonicalize(once, "")
		require.True(t, ok, once)
		require.Equal(t, once, twice)
	}
}

func TestCleanParameters(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		uri   string
		mode  ParamHandling
		odata bool
		want  string
	}{
		{
			name: "use all leaves query untouched",
			uri:  "http://example.com/path?p2=myparam&p1=2",
			mode: UseAll,
			want: "http://example.com/path?p2=myparam&p1=2",
		},
		{
			name: "ignore value keeps names",
			uri:  "http://example.com/path?p1=2&p2=myparam",
			mode: IgnoreValue,
			want: "http://example.com/path?p1&p2",
		},
		{
			name: "ignore value dedupes and sorts",
			uri:  "http://example.com/path?b=1&a=2&b=3",
			mode: IgnoreValue,
			want: "http://example.com/path?a&b",
		},
		{
			name: "ignore value without query",
			uri:  "http://example.com/path",
			mode: IgnoreValue,
			want: "http://example.com/path",
		},
		{
			name: "ignore completely drops query",
			uri:  "http://example.com/path?p1=2&p2=myparam",
			mode: IgnoreCompletely,
			want: "http://example.com/path",
		},
		{
			name: "explicit port kept",
			uri:  "http://example.com:8080/path?p1=2",
			mode: IgnoreCompletely,
			want: "http://example.com:8080/path",
		},
		{
			name: "fragment dropped",
			uri:  "http://example.com/path?p1=2#frag",
			mode: IgnoreValue,
			want: "http://example.com/path?p1",
		},
		{
			name: "odata untouched when not aware",
			uri:  "http://localhost/odata/Book(title='x',year=2012)",
			mode: IgnoreValue,
			want: "http://localhost/odata/Book(title='x',year=2012)",
		},
		{
			name:  "odata use all",
			uri:   "http://localhost/odata/Book(title='x',year=2012)",
			mode:  UseAll,
			odata: true,
			want:  "http://localhost/odata/Book(title='x',year=2012)",
		},
		{
			name:  "odata composite key ignore value",
			uri:   "http://localhost/odata/Book(title='x',year=2012)",
			mode:  IgnoreValue,
			odata: true,
			want:  "http://localhost/odata/Book(title,year)",
		},
		{
			name:  "odata composite key ignore completely",
			uri:   "http://localhost/odata/Book(title='x',year=2012)",
			mode:  IgnoreCompletely,
			odata: true,
			want:  "http://localhost/odata/Book()",
		},
		{
			name:  "odata single literal ignore value",
			uri:   "http://localhost/odata/Book(42)",
			mode:  IgnoreValue,
			odata: true,
			want:  "http://localhost/odata/Book()",
		},
		{
			name:  "odata quoted literal ignore completely",
			uri:   "http://localhost/odata/Book('abc')",
			mode:  IgnoreCompletely,
			odata: true,
			want:  "http://localhost/odata/Book()",
		},
		{
			name:  "odata nested navigation with query",
			uri:   "http://localhost/odata/Book(42)/Authors(id=7)?$top=1&$skip=2",
			mode:  IgnoreValue,
			odata: true,
			want:  "http://localhost/odata/Book()/Authors(id)?$skip&$top",
		},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			require.Equal(t, tt.want, CleanParameters(tt.uri, tt.mode, tt.odata))
		})
	}
}

func TestParseParamHandling(t *testing.T) {
	t.Parallel()

	for in, want := range map[string]ParamHandling{
		"":                   UseAll,
		"use_all":            UseAll,
		"IGNORE_VALUE":       IgnoreValue,
		" ignore_completely": IgnoreCompletely,
	} {
		got, err := ParseParamHandling(in)
		require.NoError(t, err)
		require.Equal(t, want, got)
	}

	_, err := ParseParamHandling("sometimes")
	require.Error(t, err)
	require.Equal(t, "ignore_value", IgnoreValue.String())
}

func TestCanonicalizerKey(t *testing.T) {
	t.Parallel()

	c := Canonicalizer{Handling: IgnoreValue}
	a, ok := c.Key("http://Example.com:80/list?page=2&sort=asc", "")
	require.True(t, ok)
	b, ok := c.Key("/list?sort=desc&page=9", "http://example.com/other")
	require.True(t, ok)
	require.Equal(t, "http://example.com/list?page&sort", a)
	require.Equal(t, a, b)

	_, ok = c.Key("mailto:a@example.com", "")
	require.False(t, ok)
}

package query

import (
	"strings"
	"testing"
)

func TestBuild(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		base   string
		params []Param
		want   string
	}{
		{
			name: "no params keeps base unchanged",
			base: "https://example.com/x",
			want: "https://example.com/x",
		},
		{
			name:   "only empty values keeps base unchanged",
			base:   "https://example.com/x",
			params: []Param{{Name: "a", Value: ""}, {Name: "b", Value: "   "}},
			want:   "https://example.com/x",
		},
		{
			name:   "values appended in list order",
			base:   "https://example.com/hook",
			params: []Param{{Name: "stage", Value: "3D"}, {Name: "artist", Value: "ann"}},
			want:   "https://example.com/hook?stage=3D&artist=ann",
		},
		{
			name:   "values are percent-encoded",
			base:   "https://example.com/hook",
			params: []Param{{Name: "caption", Value: "a b&c"}},
			want:   "https://example.com/hook?caption=a+b%26c",
		},
		{
			name:   "fragment stays after the query",
			base:   "https://example.com/hook#frag",
			params: []Param{{Name: "a", Value: "1"}},
			want:   "https://example.com/hook?a=1#frag",
		},
		{
			name:   "fragment after existing query",
			base:   "https://example.com/hook?token=1#frag?x",
			params: []Param{{Name: "a", Value: "1"}},
			want:   "https://example.com/hook?token=1&a=1#frag?x",
		},
		{
			name:   "existing query is extended with ampersand",
			base:   "https://example.com/hook?token=1",
			params: []Param{{Name: "stage", Value: "Layout"}},
			want:   "https://example.com/hook?token=1&stage=Layout",
		},
		{
			name:   "trailing question mark gets no extra separator",
			base:   "https://example.com/hook?",
			params: []Param{{Name: "stage", Value: "Layout"}},
			want:   "https://example.com/hook?stage=Layout",
		},
		{
			name:   "empty name skipped",
			base:   "https://example.com/hook",
			params: []Param{{Name: " ", Value: "x"}, {Name: "y", Value: "1"}},
			want:   "https://example.com/hook?y=1",
		},
	}

	for _, testCase := range tests {
		testCase := testCase
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()

			got := Build(testCase.base, testCase.params)
			if got != testCase.want {
				t.Fatalf("Build = %q, want %q", got, testCase.want)
			}
			if !strings.HasPrefix(got, testCase.base) {
				t.Fatalf("Build = %q does not start with base %q", got, testCase.base)
			}
			if again := Build(got, nil); again != got {
				t.Fatalf("Build is not idempotent: %q -> %q", got, again)
			}
		})
	}
}

func TestBuildRaw(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		base string
		raw  []string
		want string
	}{
		{
			name: "url without extra params",
			base: "https://example.com/x",
			want: "https://example.com/x",
		},
		{
			name: "raw pairs appended in order",
			base: "https://example.com/x",
			raw:  []string{"a=1", "b=2"},
			want: "https://example.com/x?a=1&b=2",
		},
		{
			name: "split on first equals only",
			base: "https://example.com/x",
			raw:  []string{"expr=a=b"},
			want: "https://example.com/x?expr=a%3Db",
		},
		{
			name: "malformed entries dropped",
			base: "https://example.com/x",
			raw:  []string{"novalue", "=orphan", "c=3", ""},
			want: "https://example.com/x?c=3",
		},
		{
			name: "all malformed entries keep base unchanged",
			base: "https://example.com/x",
			raw:  []string{"novalue", "=orphan", "", "  =x"},
			want: "https://example.com/x",
		},
		{
			name: "empty value skipped",
			base: "https://example.com/x",
			raw:  []string{"a=", "b=2"},
			want: "https://example.com/x?b=2",
		},
	}

	for _, testCase := range tests {
		testCase := testCase
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()

			got := BuildRaw(testCase.base, testCase.raw)
			if got != testCase.want {
				t.Fatalf("BuildRaw = %q, want %q", got, testCase.want)
			}
			if strings.Count(got, "?") > 1 {
				t.Fatalf("BuildRaw = %q has more than one '?'", got)
			}
		})
	}
}

func TestParseRawKeepsOrder(t *testing.T) {
	t.Parallel()

	params := ParseRaw([]string{"z=26", "broken", "a=1"})
	if len(params) != 2 {
		t.Fatalf("len(params) = %d, want 2", len(params))
	}
	if params[0] != (Param{Name: "z", Value: "26"}) || params[1] != (Param{Name: "a", Value: "1"}) {
		t.Fatalf("params = %#v", params)
	}
}

package route

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func mustRule(t *testing.T, host string, prefixes []string, priority, port int) Rule {
	t.Helper()
	r, err := NewRule(host, prefixes, priority, port)
	require.NoError(t, err)
	return r
}

func TestNewRule_RejectsEmptyPrefixSet(t *testing.T) {
	t.Parallel()

	_, err := NewRule("crawler.example.com", nil, 100, 11235)
	require.ErrorIs(t, err, ErrNoPrefixes)

	_, err = NewRule("crawler.example.com", []string{}, 100, 11235)
	require.ErrorIs(t, err, ErrNoPrefixes)
}

func TestNewRule_RejectsBadInputs(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name     string
		host     string
		prefixes []string
		port     int
	}{
		{name: "empty host", host: "", prefixes: []string{"/crawl"}, port: 11235},
		{name: "empty prefix entry", host: "x", prefixes: []string{"/crawl", ""}, port: 11235},
		{name: "relative prefix", host: "x", prefixes: []string{"crawl"}, port: 11235},
		{name: "zero port", host: "x", prefixes: []string{"/crawl"}, port: 0},
		{name: "port too large", host: "x", prefixes: []string{"/crawl"}, port: 70000},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			_, err := NewRule(tc.host, tc.prefixes, 100, tc.port)
			require.Error(t, err)
		})
	}
}

func TestResolve_APIPathsRouteToAPIPort(t *testing.T) {
	t.Parallel()

	rule := mustRule(t, "x", []string{"/crawl", "/task", "/results"}, 100, 11235)
	table, err := NewTable([]Rule{rule}, 80)
	require.NoError(t, err)

	for _, path := range []string{"/crawl", "/task/42", "/results/42", "/crawl/deep"} {
		dec := table.Resolve(Request{Host: "x", Path: path})
		require.True(t, dec.Matched, "path %s", path)
		require.Equal(t, 11235, dec.TargetPort, "path %s", path)
	}
}

func TestResolve_UnmatchedFallsBackToDefaultPort(t *testing.T) {
	t.Parallel()

	rule := mustRule(t, "x", []string{"/crawl", "/task", "/results"}, 100, 11235)
	table, err := NewTable([]Rule{rule}, 80)
	require.NoError(t, err)

	for _, path := range []string{"/", "/index.html", "/status"} {
		dec := table.Resolve(Request{Host: "x", Path: path})
		require.False(t, dec.Matched, "path %s", path)
		require.Equal(t, 80, dec.TargetPort, "path %s", path)
	}
}

func TestResolve_HostMismatchNeverMatches(t *testing.T) {
	t.Parallel()

	rule := mustRule(t, "crawler.example.com", []string{"/crawl"}, 100, 11235)
	table, err := NewTable([]Rule{rule}, 80)
	require.NoError(t, err)

	dec := table.Resolve(Request{Host: "other.example.com", Path: "/crawl"})
	require.False(t, dec.Matched)
	require.Equal(t, 80, dec.TargetPort)
}

func TestResolve_PrefixMatchIsCaseSensitive(t *testing.T) {
	t.Parallel()

	rule := mustRule(t, "x", []string{"/crawl"}, 100, 11235)
	table, err := NewTable([]Rule{rule}, 80)
	require.NoError(t, err)

	dec := table.Resolve(Request{Host: "x", Path: "/Crawl"})
	require.False(t, dec.Matched)
	require.Equal(t, 80, dec.TargetPort)
}

func TestResolve_HighestPriorityWinsRegardlessOfOrder(t *testing.T) {
	t.Parallel()

	high := mustRule(t, "x", []string{"/task"}, 100, 11235)
	low := mustRule(t, "x", []string{"/task"}, 50, 9000)

	for _, rules := range [][]Rule{{high, low}, {low, high}} {
		table, err := NewTable(rules, 80)
		require.NoError(t, err)
		dec := table.Resolve(Request{Host: "x", Path: "/task/42"})
		require.True(t, dec.Matched)
		require.Equal(t, 11235, dec.TargetPort)
	}
}

func TestNewTable_RejectsEqualPriorityOverlap(t *testing.T) {
	t.Parallel()

	a := mustRule(t, "x", []string{"/task"}, 100, 11235)
	b := mustRule(t, "x", []string{"/task/archive"}, 100, 9000)

	_, err := NewTable([]Rule{a, b}, 80)
	require.Error(t, err)
	require.Contains(t, err.Error(), "ambiguous")
}

func TestNewTable_AllowsEqualPriorityOnDisjointPrefixes(t *testing.T) {
	t.Parallel()

	a := mustRule(t, "x", []string{"/crawl"}, 100, 11235)
	b := mustRule(t, "x", []string{"/metrics"}, 100, 9090)
	c := mustRule(t, "y", []string{"/crawl"}, 100, 11235)

	table, err := NewTable([]Rule{a, b, c}, 80)
	require.NoError(t, err)

	dec := table.Resolve(Request{Host: "x", Path: "/metrics"})
	require.True(t, dec.Matched)
	require.Equal(t, 9090, dec.TargetPort)
}

func TestNewTable_RejectsBadDefaultPort(t *testing.T) {
	t.Parallel()

	_, err := NewTable(nil, 0)
	require.Error(t, err)
}

func TestResolve_EmptyTableAlwaysFallsBack(t *testing.T) {
	t.Parallel()

	table, err := NewTable(nil, 80)
	require.NoError(t, err)

	dec := table.Resolve(Request{Host: "anything", Path: "/crawl"})
	require.False(t, dec.Matched)
	require.Equal(t, 80, dec.TargetPort)
}

func TestResolve_DocumentedScenario(t *testing.T) {
	t.Parallel()

	rule := mustRule(t, "x", []string{"/crawl", "/task", "/results"}, 100, 11235)
	table, err := NewTable([]Rule{rule}, 80)
	require.NoError(t, err)

	require.Equal(t, Decision{Matched: true, TargetPort: 11235},
		table.Resolve(Request{Host: "x", Path: "/task/42"}))
	require.Equal(t, Decision{Matched: false, TargetPort: 80},
		table.Resolve(Request{Host: "x", Path: "/"}))
}

func TestRule_AccessorsCopyState(t *testing.T) {
	t.Parallel()

	prefixes := []string{"/crawl"}
	rule := mustRule(t, "x", prefixes, 100, 11235)

	prefixes[0] = "/mutated"
	require.Equal(t, []string{"/crawl"}, rule.PathPrefixes())

	got := rule.PathPrefixes()
	got[0] = "/mutated"
	require.Equal(t, []string{"/crawl"}, rule.PathPrefixes())
}

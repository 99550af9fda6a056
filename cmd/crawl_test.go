package cmd

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
)

const fixtureDir = "../internal/crawler/testdata"

var fixtureRoutes = map[string]string{
	"/our-clinics/":                    "root.html",
	"/our-clinics/regions/brisbane/":   "region_brisbane.html",
	"/our-clinics/regions/gold-coast/": "region_gold_coast.html",
	"/our-clinics/regions/empty/":      "region_empty.html",
	"/our-clinics/brisbane/":           "clinic_brisbane.html",
	"/our-clinics/minimal/":            "clinic_minimal.html",
	"/our-clinics/nameless/":           "clinic_nameless.html",
	"/our-clinics/southport/":          "clinic_southport.html",
}

func newFixtureServer(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		name, ok := fixtureRoutes[r.URL.Path]
		if !ok {
			http.Error(w, "upstream error", http.StatusInternalServerError)
			return
		}
		body, err := os.ReadFile(filepath.Join(fixtureDir, name))
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write(body)
	}))
	t.Cleanup(srv.Close)
	return srv
}

// writeFastConfig points the crawler at baseURL with no courtesy delay and a
// single immediate retry.
func writeFastConfig(t *testing.T, baseURL, output string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := fmt.Sprintf(`crawler:
  base_url: %q
  min_delay_seconds: 0
  max_delay_seconds: 0
http:
  timeout_seconds: 5
  max_retries: 1
  backoff_base_seconds: 0
  backoff_max_seconds: 0
output:
  file: %q
logging:
  level: error
`, baseURL, output)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func runCLI(t *testing.T, args ...string) (int, string, string) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	code := run(context.Background(), args, &stdout, &stderr, deps{registerer: prometheus.NewRegistry()})
	return code, stdout.String(), stderr.String()
}

func TestCrawlWritesCSV(t *testing.T) {
	t.Parallel()

	srv := newFixtureServer(t)
	output := filepath.Join(t.TempDir(), "out", "clinics.csv")
	snapshots := filepath.Join(t.TempDir(), "pages")
	cfgPath := writeFastConfig(t, srv.URL, output)

	code, stdout, stderr := runCLI(t, "crawl", "--config", cfgPath, "--snapshot", snapshots)
	require.Equal(t, exitOK, code, stderr)

	got, err := os.ReadFile(output)
	require.NoError(t, err)
	require.Equal(t,
		"Region,Clinic_Name,Address,Phone,Email,Services\n"+
			`Brisbane,My FootDr Brisbane,"Level 1, 123 Queen Street Brisbane QLD 4000",(07) 1234 5678,info@myfootdr.com.au,General Podiatry; Orthotics; Sports Podiatry`+"\n"+
			"Brisbane,Minimal Clinic,,,,\n"+
			`Gold Coast,Southport Podiatry,"Shop 4, 10 Scarborough Street, Southport QLD 4215",0412 345 678,goldcoast@myfootdr.com.au,Diabetic Foot Care; Nail Surgery`+"\n",
		string(got))

	require.Contains(t, stdout, "3 records written to "+output)
	require.Contains(t, stdout, "regions:  4 visited, 1 skipped")
	require.Contains(t, stdout, "clinics:  4 visited, 1 skipped, 1 duplicates")
	require.Contains(t, stdout, "requests: 10")

	pages, err := filepath.Glob(filepath.Join(snapshots, "pages", "*.html"))
	require.NoError(t, err)
	require.Len(t, pages, 8)
}

func TestCrawlFlagsOverrideConfig(t *testing.T) {
	t.Parallel()

	srv := newFixtureServer(t)
	cfgPath := writeFastConfig(t, srv.URL, filepath.Join(t.TempDir(), "ignored.csv"))
	output := filepath.Join(t.TempDir(), "flag.csv")

	code, _, stderr := runCLI(t, "crawl", "--config", cfgPath, "-o", output, "--concurrency", "3")
	require.Equal(t, exitOK, code, stderr)

	got, err := os.ReadFile(output)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(got)), "\n")
	require.Len(t, lines, 4)
	require.True(t, strings.HasPrefix(lines[1], "Brisbane,My FootDr Brisbane,"))
	require.True(t, strings.HasPrefix(lines[2], "Brisbane,Minimal Clinic,"))
	require.True(t, strings.HasPrefix(lines[3], "Gold Coast,Southport Podiatry,"))
}

func TestCrawlRootUnavailable(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "down", http.StatusServiceUnavailable)
	}))
	t.Cleanup(srv.Close)
	output := filepath.Join(t.TempDir(), "clinics.csv")

	code, _, stderr := runCLI(t, "crawl", "--config", writeFastConfig(t, srv.URL, output))
	require.Equal(t, exitRootUnavailable, code)
	require.Contains(t, stderr, "root page unavailable")

	got, err := os.ReadFile(output)
	require.NoError(t, err)
	require.Equal(t, "Region,Clinic_Name,Address,Phone,Email,Services\n", string(got))
}

func TestCrawlInvalidConfig(t *testing.T) {
	t.Parallel()

	cases := map[string][]string{
		"zero concurrency": {"crawl", "--concurrency", "0", "-o", filepath.Join(t.TempDir(), "a.csv")},
		"relative base":    {"crawl", "--base-url", "not a url", "-o", filepath.Join(t.TempDir(), "b.csv")},
		"unknown flag":     {"crawl", "--no-such-flag"},
		"missing file":     {"crawl", "--config", filepath.Join(t.TempDir(), "missing.yaml")},
		"bad log level":    {"crawl", "--log-level", "chatty"},
	}
	for name, args := range cases {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			code, _, stderr := runCLI(t, args...)
			require.Equal(t, exitInvalidConfig, code, stderr)
		})
	}
}

func TestCrawlRejectsArguments(t *testing.T) {
	t.Parallel()

	code, _, _ := runCLI(t, "crawl", "extra")
	require.Equal(t, exitFailure, code)
}

package cmd

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"runtime"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/Togather-Foundation/catalog/internal/api"
)

func setBuildVars(t *testing.T, version, commit, date string) {
	t.Helper()
	prevVersion, prevCommit, prevDate := Version, GitCommit, BuildDate
	Version, GitCommit, BuildDate = version, commit, date
	t.Cleanup(func() {
		Version, GitCommit, BuildDate = prevVersion, prevCommit, prevDate
	})
}

func runVersion(t *testing.T, args ...string) string {
	t.Helper()
	root := newRootCommand(t)
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(append([]string{"version"}, args...))
	require.NoError(t, root.Execute())
	return out.String()
}

func TestVersion_PrintsBuildVars(t *testing.T) {
	tests := []struct {
		name                  string
		version, commit, date string
	}{
		{name: "release build", version: "0.4.1", commit: "9f2c1ab", date: "2026-10-02T08:30:00Z"},
		{name: "no ldflags", version: "dev", commit: "unknown", date: "unknown"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// No DATABASE_URL: version must not touch config or storage.
			t.Setenv("DATABASE_URL", "")
			setBuildVars(t, tt.version, tt.commit, tt.date)

			out := runVersion(t)

			require.Contains(t, out, "Catalog Server\n")
			require.Contains(t, out, "Version:    "+tt.version+"\n")
			require.Contains(t, out, "Git commit: "+tt.commit+"\n")
			require.Contains(t, out, "Build date: "+tt.date+"\n")
			require.Contains(t, out, "Go version: "+runtime.Version())
			require.Contains(t, out, "Platform:   "+runtime.GOOS+"/"+runtime.GOARCH)
		})
	}
}

func TestVersion_Help(t *testing.T) {
	require.Contains(t, runVersion(t, "--help"), "Print the version number")
}

func TestBuildInfo_ServedOnVersionEndpoint(t *testing.T) {
	setBuildVars(t, "0.4.1", "9f2c1ab", "2026-10-02T08:30:00Z")

	router := api.NewRouter(api.Dependencies{Build: buildInfo(), Logger: zerolog.Nop()})
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/version", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, "0.4.1", body["version"])
}

package main

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/HatiCode/hydrastral/pkg/passlog"
	"github.com/HatiCode/hydrastral/pkg/reference"
	"github.com/HatiCode/hydrastral/pkg/snapshot"
)

// dailyDocument renders an NWIS daily values document with one constant
// value for every day of each given year.
func dailyDocument(years map[int]float64) string {
	var values []string
	for year, v := range years {
		for d := time.Date(year, time.January, 1, 0, 0, 0, 0, time.UTC); d.Year() == year; d = d.AddDate(0, 0, 1) {
			values = append(values, fmt.Sprintf(`{"value": "%g", "qualifiers": ["A"], "dateTime": "%s"}`,
				v, d.Format("2006-01-02T15:04:05.000")))
		}
	}
	return `{"value": {"timeSeries": [{
  "variable": {"variableCode": [{"value": "00060"}], "noDataValue": -999999.0},
  "values": [{"value": [` + strings.Join(values, ",\n") + `]}]
}]}}`
}

const instantDocument = `{"value": {"timeSeries": [
  {
    "variable": {"variableCode": [{"value": "00060"}]},
    "values": [{"value": [
      {"value": "180", "dateTime": "2023-05-01T10:00:00.000-04:00"},
      {"value": "200", "dateTime": "2023-05-01T10:15:00.000-04:00"}
    ]}]
  },
  {
    "variable": {"variableCode": [{"value": "00065"}]},
    "values": [{"value": [
      {"value": "4.10", "dateTime": "2023-05-01T10:15:00.000-04:00"}
    ]}]
  }
]}}`

const inventoryDocument = `gauges:
  - id: "01010000"
    partition: me
    name: ST. JOHN RIVER AT NINEMILE BRIDGE, MAINE
`

const brokenInventoryDocument = inventoryDocument + `  - id: "01010500"
    partition: ME
    name: ST. JOHN RIVER AT DICKEY, MAINE
`

type e2eEnv struct {
	dir      string
	fixtures string
	store    string
	passLog  string
}

func newE2EEnv(t *testing.T) e2eEnv {
	t.Helper()
	dir := t.TempDir()
	env := e2eEnv{
		dir:      dir,
		fixtures: filepath.Join(dir, "fixtures"),
		store:    filepath.Join(dir, "data"),
		passLog:  filepath.Join(dir, "passes.db"),
	}

	write := func(path, body string) {
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	}
	write(filepath.Join(env.fixtures, "dv", "01010000.json"), dailyDocument(map[int]float64{2001: 100, 2002: 300}))
	write(filepath.Join(env.fixtures, "iv", "01010000.json"), instantDocument)
	write(filepath.Join(dir, "inventory.yaml"), inventoryDocument)
	write(filepath.Join(dir, "broken.yaml"), brokenInventoryDocument)
	return env
}

func (e e2eEnv) run(t *testing.T, command, inventory string, extra ...string) (int, string) {
	t.Helper()
	args := []string{
		command,
		"--source=fixture",
		"--fixture-dir=" + e.fixtures,
		"--inventory=" + filepath.Join(e.dir, inventory),
		"--store-root=" + e.store,
		"--pass-log=" + e.passLog,
		"--trend-window=0",
		"--log-level=error",
	}
	var stderr bytes.Buffer
	code := execute(context.Background(), append(args, extra...), &stderr)
	return code, stderr.String()
}

func TestExecute_BuildThenLive(t *testing.T) {
	env := newE2EEnv(t)

	code, out := env.run(t, "build", "inventory.yaml")
	require.Equal(t, exitOK, code, out)
	_, err := os.Stat(filepath.Join(env.store, filepath.FromSlash(reference.PartitionKey("ME"))))
	require.NoError(t, err, "partition table should be published")

	code, out = env.run(t, "live", "inventory.yaml")
	require.Equal(t, exitOK, code, out)

	data, err := os.ReadFile(filepath.Join(env.store, filepath.FromSlash(snapshot.CurrentKey)))
	require.NoError(t, err)
	snap, err := snapshot.Decode(data)
	require.NoError(t, err)
	assert.Equal(t, 1, snap.SiteCount)
	assert.Empty(t, snap.Failures)

	site, ok := snap.Site("01010000")
	require.True(t, ok)
	require.NotNil(t, site.Flow)
	assert.Equal(t, 200.0, *site.Flow)
	require.NotNil(t, site.Percentile)
	assert.InDelta(t, 50.0, *site.Percentile, 1e-9)
	assert.Equal(t, "Normal", site.FlowStatus)
	require.NotNil(t, site.GageHeight)
	assert.Equal(t, 4.10, *site.GageHeight)
	assert.Nil(t, site.FloodStatus)

	store, err := passlog.Open(context.Background(), env.passLog)
	require.NoError(t, err)
	defer store.Close()
	all, err := store.Recent(context.Background(), "", 10)
	require.NoError(t, err)
	assert.Len(t, all, 2)
	live, err := store.Recent(context.Background(), "live", 10)
	require.NoError(t, err)
	require.Len(t, live, 1)
	assert.Equal(t, exitOK, live[0].ExitCode)
	assert.Equal(t, 1, live[0].Succeeded)
}

func TestExecute_FailedGaugeExitsWithFailures(t *testing.T) {
	env := newE2EEnv(t)

	code, out := env.run(t, "build", "broken.yaml")
	assert.Equal(t, exitFailures, code, out)

	code, out = env.run(t, "live", "broken.yaml")
	assert.Equal(t, exitFailures, code, out)

	data, err := os.ReadFile(filepath.Join(env.store, filepath.FromSlash(snapshot.CurrentKey)))
	require.NoError(t, err)
	snap, err := snapshot.Decode(data)
	require.NoError(t, err)
	assert.Contains(t, snap.Sites, "01010000")
	assert.NotContains(t, snap.Sites, "01010500")
	assert.Contains(t, snap.Failures, "01010500")
}

func TestExecute_DryRunPublishesNothing(t *testing.T) {
	env := newE2EEnv(t)

	code, out := env.run(t, "build", "inventory.yaml", "--dry-run")
	require.Equal(t, exitOK, code, out)
	code, out = env.run(t, "live", "inventory.yaml", "--dry-run")
	require.Equal(t, exitOK, code, out)

	_, err := os.Stat(filepath.Join(env.store, filepath.FromSlash(snapshot.CurrentKey)))
	assert.True(t, os.IsNotExist(err))
	_, err = os.Stat(filepath.Join(env.store, filepath.FromSlash(reference.PartitionKey("ME"))))
	assert.True(t, os.IsNotExist(err))
}

func TestExecute_SetupErrors(t *testing.T) {
	tests := []struct {
		name    string
		args    []string
		wantErr string
	}{
		{
			name:    "no partitions and no inventory",
			args:    []string{"live"},
			wantErr: "partitions",
		},
		{
			name:    "invalid partition key",
			args:    []string{"build", "--partitions=NH/VT"},
			wantErr: "partition",
		},
		{
			name:    "missing inventory file",
			args:    []string{"live", "--source=fixture", "--fixture-dir=/nonexistent", "--inventory=/nonexistent/gauges.yaml", "--store-root=" + t.TempDir()},
			wantErr: "inventory",
		},
		{
			name:    "unknown flag",
			args:    []string{"live", "--no-such-flag"},
			wantErr: "unknown flag",
		},
		{
			name:    "unknown command",
			args:    []string{"forecast"},
			wantErr: "unknown command",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var stderr bytes.Buffer
			code := execute(context.Background(), tt.args, &stderr)
			assert.Equal(t, exitSetup, code)
			assert.Contains(t, stderr.String(), tt.wantErr)
		})
	}
}

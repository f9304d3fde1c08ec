package cmd

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trace-pprof/internal/exporter"
	"github.com/trace-pprof/internal/testutil"
	"github.com/trace-pprof/pkg/compression"
)

func runRoot(t *testing.T, args ...string) string {
	t.Helper()
	out := &bytes.Buffer{}
	rootCmd.SetOut(out)
	rootCmd.SetErr(&bytes.Buffer{})
	rootCmd.SetArgs(args)
	require.NoError(t, rootCmd.Execute())
	return out.String()
}

func TestInspectProfile(t *testing.T) {
	profiles, err := exporter.New(nil).ExportHeap(t.Context(), testutil.AppServerTrace().Store, exporter.DefaultOptions())
	require.NoError(t, err)
	gz, err := compression.NewGzipCompressor(compression.LevelDefault).Compress(profiles[0].Data)
	require.NoError(t, err)

	out := &bytes.Buffer{}
	require.NoError(t, inspectProfile(out, "app.pb.gz", gz))

	text := out.String()
	assert.Contains(t, text, "samples:   1")
	assert.Contains(t, text, "alloc_space: 128 B (bytes)")
	lines := strings.Split(text, "\n")
	var mappings []string
	for _, l := range lines {
		if strings.HasPrefix(l, "  * ") || strings.HasPrefix(l, "    0x") {
			mappings = append(mappings, l)
		}
	}
	require.NotEmpty(t, mappings)
	assert.Contains(t, mappings[0], "* 0x400000-0x500000 /usr/bin/app [a1b2c3]")
}

func TestInspectProfile_Invalid(t *testing.T) {
	err := inspectProfile(&bytes.Buffer{}, "junk", []byte("not a profile"))
	assert.Error(t, err)
}

func TestConvertCommand(t *testing.T) {
	dir := t.TempDir()
	input := testutil.WriteFile(t, dir, "nginx.folded",
		"nginx-4242/4242;main(/usr/sbin/nginx);ngx_process_events(/usr/sbin/nginx) 3\n"+
			"redis-9/9;main(/usr/bin/redis-server) 1\n")
	outDir := filepath.Join(dir, "out")
	configFile := testutil.WriteFile(t, dir, "config.yaml", "log:\n  level: error\n")

	out := runRoot(t, "convert", "--config", configFile, "-i", input, "-o", outDir, "--compression", "zstd")
	assert.Contains(t, out, "nginx")
	assert.Contains(t, out, "redis")

	written := filepath.Join(outDir, "profiles", "nginx", "cpu", "1-4242.pb.zst")
	data, err := os.ReadFile(written)
	require.NoError(t, err)
	assert.Equal(t, compression.TypeZstd, compression.DetectType(data))

	summary := runRoot(t, "inspect", written)
	assert.Contains(t, summary, "samples:   3")
	assert.Contains(t, summary, "/usr/sbin/nginx")
}

func TestVersionCommand(t *testing.T) {
	out := runRoot(t, "version")
	assert.Contains(t, out, "version dev")
}

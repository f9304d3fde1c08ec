package collapsed

import (
	"context"
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trace-pprof/internal/testutil"
	"github.com/trace-pprof/internal/tracestore"
	apperrors "github.com/trace-pprof/pkg/errors"
)

func importString(t *testing.T, input string, opts Options) (*tracestore.Storage, *Result) {
	t.Helper()
	store := tracestore.New()
	res, err := NewImporter(store, opts, nil).Import(context.Background(), strings.NewReader(input))
	require.NoError(t, err)
	return store, res
}

func stackNames(store *tracestore.Storage, cs tracestore.CallsiteID) []string {
	var names []string
	for _, id := range store.Callstack(cs) {
		f, _ := store.Frame(id)
		names = append(names, store.String(f.Name))
	}
	return names
}

func TestImporter_ServerFixture(t *testing.T) {
	f, err := os.Open(testutil.GetTestDataPath(t, "server.folded"))
	require.NoError(t, err)
	defer f.Close()

	store := tracestore.New()
	res, err := NewImporter(store, DefaultOptions(), nil).Import(context.Background(), f)
	require.NoError(t, err)

	assert.Equal(t, 5, res.Lines)
	assert.Equal(t, 2, res.Skipped)
	assert.Equal(t, int64(15), res.Samples)
	assert.Equal(t, 2, res.Processes)
	assert.Equal(t, 15, store.PerfSamples.Len())

	// nginx and libc; the java frames carry no module.
	assert.Equal(t, 2, store.Mappings.Len())

	procs := store.Processes.All()
	require.Len(t, procs, 2)
	assert.Equal(t, int64(4242), procs[0].PID)
	assert.Equal(t, "nginx", store.String(procs[0].Name))
	assert.Equal(t, int64(-1), procs[1].PID)
	assert.Equal(t, "java", store.String(procs[1].Name))

	samples := store.PerfSamples.All()
	assert.Equal(t, int64(2), samples[0].Ts)
	assert.Equal(t,
		[]string{"epoll_wait", "ngx_process_events", "main", "_start"},
		stackNames(store, samples[0].Callsite))
	// Both nginx threads land in one process.
	assert.Equal(t, samples[0].UPID, samples[7].UPID)
}

func TestImporter_CountExpandsToSamples(t *testing.T) {
	store, res := importString(t, "app-1/1;main;work 3\n", DefaultOptions())

	assert.Equal(t, int64(3), res.Samples)
	all := store.PerfSamples.All()
	require.Len(t, all, 3)
	for _, s := range all {
		assert.Equal(t, all[0].Callsite, s.Callsite)
		assert.Equal(t, int64(1), s.Ts)
	}
}

func TestImporter_MaxSamplesPerLine(t *testing.T) {
	opts := DefaultOptions()
	opts.MaxSamplesPerLine = 2

	store, res := importString(t, "app-1/1;main 10\n", opts)

	assert.Equal(t, int64(2), res.Samples)
	assert.Equal(t, int64(8), res.Truncated)
	assert.Equal(t, 2, store.PerfSamples.Len())
}

func TestImporter_FramesAndMappings(t *testing.T) {
	input := "app-1/1;main(/bin/app);a(/bin/app) 1\n" +
		"app-1/1;main(/bin/app);b(/bin/app) 1\n" +
		"app-1/1;main(/bin/app);a(/bin/app);anon 1\n"
	store, _ := importString(t, input, DefaultOptions())

	t.Run("one mapping per module", func(t *testing.T) {
		require.Equal(t, 1, store.Mappings.Len())
		m, ok := store.Mapping(1)
		require.True(t, ok)
		assert.Equal(t, "/bin/app", store.String(m.Name))
		assert.Equal(t, uint64(moduleSpan), m.Start)
		assert.Equal(t, uint64(2*moduleSpan), m.End)
	})

	t.Run("frames deduplicated with distinct addresses", func(t *testing.T) {
		require.Equal(t, 4, store.Frames.Len())
		seen := map[uint64]bool{}
		for id := tracestore.FrameID(1); id <= 3; id++ {
			f, _ := store.Frame(id)
			assert.Equal(t, tracestore.MappingID(1), f.Mapping)
			assert.False(t, seen[f.Address])
			seen[f.Address] = true
		}
	})

	t.Run("frame without module is unmapped", func(t *testing.T) {
		f, _ := store.Frame(4)
		assert.Equal(t, "anon", store.String(f.Name))
		assert.Zero(t, f.Mapping)
		assert.Zero(t, f.Address)
	})

	t.Run("shared prefixes share callsites", func(t *testing.T) {
		// main, main>a, main>b, main>a>anon
		assert.Equal(t, 4, store.Callsites.Len())
	})
}

func TestImporter_Swapper(t *testing.T) {
	input := "swapper-0/0;do_idle 5\napp-1/1;main 1\n"

	_, res := importString(t, input, DefaultOptions())
	assert.Equal(t, int64(1), res.Samples)
	assert.Equal(t, 1, res.Skipped)

	opts := DefaultOptions()
	opts.IncludeSwapper = true
	_, res = importString(t, input, opts)
	assert.Equal(t, int64(6), res.Samples)
	assert.Zero(t, res.Skipped)
}

func TestImporter_MalformedLines(t *testing.T) {
	input := "app-1/1;main\napp-1/1;main abc\napp-1/1;main -2\napp-1/1;main 1\n"

	t.Run("lenient skips", func(t *testing.T) {
		_, res := importString(t, input, DefaultOptions())
		assert.Equal(t, 4, res.Lines)
		assert.Equal(t, 3, res.Skipped)
		assert.Equal(t, int64(1), res.Samples)
	})

	t.Run("strict fails", func(t *testing.T) {
		opts := DefaultOptions()
		opts.StrictMode = true
		_, err := NewImporter(tracestore.New(), opts, nil).Import(context.Background(), strings.NewReader(input))
		require.Error(t, err)
		assert.Equal(t, apperrors.CodeParseError, apperrors.GetErrorCode(err))
		assert.Contains(t, err.Error(), "line 1")
	})
}

func TestImporter_ZeroCountAndEmptyStack(t *testing.T) {
	store, res := importString(t, "app-1/1;main 0\napp-1/1;;[] 4\n", DefaultOptions())

	assert.Equal(t, 2, res.Skipped)
	assert.Zero(t, store.PerfSamples.Len())
}

func TestImporter_CanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewImporter(tracestore.New(), DefaultOptions(), nil).Import(ctx, strings.NewReader("app-1/1;main 1\n"))
	assert.ErrorIs(t, err, context.Canceled)
}

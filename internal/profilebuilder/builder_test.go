package profilebuilder

import (
	"testing"

	"github.com/google/pprof/profile"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trace-pprof/internal/testutil"
	"github.com/trace-pprof/internal/tracestore"
	apperrors "github.com/trace-pprof/pkg/errors"
)

var countType = []SampleType{{Type: "samples", Unit: "count"}}

func TestBuild_SingleFrame(t *testing.T) {
	tr := testutil.NewTrace()
	app := tr.Mapping("/bin/app", "", 0x1000, 0x2000, 0)
	f1 := tr.Frame("main", app, 0x1100)
	cs := tr.Stack(f1)

	b := New(tr.Store, countType)
	b.AddSample(cs, []int64{1})
	p := testutil.ParseProfile(t, b.Build())

	require.Len(t, p.SampleType, 1)
	assert.Equal(t, "samples", p.SampleType[0].Type)
	assert.Equal(t, "count", p.SampleType[0].Unit)

	require.Len(t, p.Mapping, 1)
	assert.Equal(t, "/bin/app", p.Mapping[0].File)
	assert.Equal(t, uint64(0x1000), p.Mapping[0].Start)
	assert.Equal(t, uint64(0x2000), p.Mapping[0].Limit)
	assert.True(t, p.Mapping[0].HasFunctions)

	require.Len(t, p.Function, 1)
	assert.Equal(t, "main", p.Function[0].Name)
	assert.Equal(t, "main", p.Function[0].SystemName)
	assert.Equal(t, "/bin/app", p.Function[0].Filename)

	require.Len(t, p.Location, 1)
	loc := p.Location[0]
	assert.Equal(t, uint64(0x1100), loc.Address)
	assert.Same(t, p.Mapping[0], loc.Mapping)
	require.Len(t, loc.Line, 1)
	assert.Same(t, p.Function[0], loc.Line[0].Function)

	require.Len(t, p.Sample, 1)
	assert.Equal(t, []int64{1}, p.Sample[0].Value)
	require.Len(t, p.Sample[0].Location, 1)
	assert.Same(t, loc, p.Sample[0].Location[0])

	id, ok := b.MainBinary()
	assert.True(t, ok)
	assert.Equal(t, uint64(1), id)
}

func TestBuild_ZeroSamples(t *testing.T) {
	b := New(tracestore.New(), []SampleType{
		{Type: "alloc_objects", Unit: "count"},
		{Type: "alloc_space", Unit: "bytes"},
	})

	data := b.Build()
	require.NotEmpty(t, data)

	p := testutil.ParseProfile(t, data)
	assert.Empty(t, p.Sample)
	assert.Empty(t, p.Mapping)
	assert.Empty(t, p.Location)
	assert.Empty(t, p.Function)
	require.Len(t, p.SampleType, 2)
	assert.Equal(t, "alloc_space", p.SampleType[1].Type)
	assert.Equal(t, "bytes", p.SampleType[1].Unit)

	_, ok := b.MainBinary()
	assert.False(t, ok)
	// Reserved empty string plus four distinct sample type strings.
	assert.Equal(t, 5, b.Stats().Strings)
}

func TestBuild_Idempotent(t *testing.T) {
	tr := testutil.AppServerTrace()
	b := New(tr.Store, countType)
	for _, s := range tr.Store.PerfSamples.All() {
		b.AddSample(s.Callsite, []int64{1})
	}

	first := b.Build()
	second := b.Build()
	assert.Equal(t, first, second)

	b.AddSample(tr.Store.PerfSamples.All()[0].Callsite, []int64{100})
	assert.Equal(t, first, b.Build())
	assert.Equal(t, 4, b.Stats().Samples)

	first[0] ^= 0xff
	assert.Equal(t, second, b.Build(), "returned bytes are a copy")
}

func TestBuild_DeduplicatesRepeatedStacks(t *testing.T) {
	tr := testutil.NewTrace()
	app := tr.Mapping("/usr/bin/app", "bid", 0x1000, 0x9000, 0)
	root := tr.Frame("main", app, 0x1010)
	mid := tr.Frame("run", app, 0x1020)
	a := tr.Frame("a", app, 0x1030)
	c := tr.Frame("c", app, 0x1040)

	csA := tr.Stack(root, mid, a)
	csC := tr.Stack(root, mid, c)

	b := New(tr.Store, countType)
	b.AddSample(csA, []int64{1})
	b.AddSample(csA, []int64{2})
	b.AddSample(csC, []int64{3})

	stats := b.Stats()
	assert.Equal(t, 3, stats.Samples)
	assert.Equal(t, 4, stats.Locations)
	assert.Equal(t, 4, stats.Functions)
	assert.Equal(t, 1, stats.Mappings)

	p := testutil.ParseProfile(t, b.Build())
	require.Len(t, p.Sample, 3, "samples are never merged")
	assert.Equal(t, p.Sample[0].Location, p.Sample[1].Location)
	assert.Equal(t, p.Sample[0].Location[1:], p.Sample[2].Location[1:])
	assert.NotEqual(t, p.Sample[0].Location[0], p.Sample[2].Location[0])
}

func TestBuild_MappingsAcrossLoadAddressesCollapse(t *testing.T) {
	tr := testutil.AppServerTrace()
	b := New(tr.Store, countType)
	for _, s := range tr.Store.PerfSamples.All() {
		b.AddSample(s.Callsite, []int64{1})
	}

	// libc is mapped at two addresses with the same build id and size.
	assert.Equal(t, 3, b.Stats().Mappings)

	p := testutil.ParseProfile(t, b.Build())
	var libc []*profile.Mapping
	for _, m := range p.Mapping {
		if m.File == "/lib/x86_64-linux-gnu/libc.so.6" {
			libc = append(libc, m)
		}
	}
	require.Len(t, libc, 1)
	assert.Equal(t, uint64(0x7f0000000000), libc[0].Start, "first observed load address wins")

	// Both malloc frames sit at the same offset inside libc.
	leafOfAlloc := p.Sample[2].Location[0]
	leafOfWorker := p.Sample[3].Location[0]
	assert.Same(t, leafOfAlloc, leafOfWorker)
	assert.Equal(t, uint64(0x7f0000010000), leafOfAlloc.Address)
}

func TestBuild_DistinctIdentityKeepsMappingsApart(t *testing.T) {
	tr := testutil.NewTrace()
	m1 := tr.Mapping("/usr/lib/a.so", "", 0x1000, 0x2000, 0)
	m2 := tr.Mapping("/usr/lib/b.so", "", 0x1000, 0x2000, 0)
	m3 := tr.Mapping("/usr/lib/a.so", "", 0x1000, 0x2000, 0x1000)

	b := New(tr.Store, countType)
	b.AddSample(tr.Stack(tr.Frame("x", m1, 0x1001)), []int64{1})
	b.AddSample(tr.Stack(tr.Frame("y", m2, 0x1001)), []int64{1})
	b.AddSample(tr.Stack(tr.Frame("z", m3, 0x1001)), []int64{1})

	assert.Equal(t, 3, b.Stats().Mappings)
	testutil.ParseProfile(t, b.Build())
}

func TestBuild_InlineFramesAndDebugInfo(t *testing.T) {
	tr := testutil.AppServerTrace()
	b := New(tr.Store, countType)
	for _, s := range tr.Store.PerfSamples.All() {
		b.AddSample(s.Callsite, []int64{1})
	}
	p := testutil.ParseProfile(t, b.Build())

	app := testutil.FindMapping(p, "/usr/bin/app")
	require.NotNil(t, app)
	assert.True(t, app.HasFunctions)
	assert.True(t, app.HasFilenames)
	assert.True(t, app.HasLineNumbers)
	assert.True(t, app.HasInlineFrames)
	assert.Equal(t, "a1b2c3", app.BuildID)

	leaf := p.Sample[0].Location[0]
	require.Len(t, leaf.Line, 2)
	assert.Equal(t, "parse", leaf.Line[0].Function.Name)
	assert.Equal(t, "parse.c", leaf.Line[0].Function.Filename)
	assert.Equal(t, int64(42), leaf.Line[0].Line)
	assert.Equal(t, "handle", leaf.Line[1].Function.Name)
	assert.Equal(t, int64(7), leaf.Line[1].Line)

	libc := testutil.FindMapping(p, "/lib/x86_64-linux-gnu/libc.so.6")
	require.NotNil(t, libc)
	assert.True(t, libc.HasFunctions)
	assert.False(t, libc.HasFilenames)
	assert.False(t, libc.HasInlineFrames)
}

func TestBuild_RoundTripPreservesStacks(t *testing.T) {
	tr := testutil.AppServerTrace()
	samples := tr.Store.PerfSamples.All()

	b := New(tr.Store, countType)
	for i, s := range samples {
		b.AddSample(s.Callsite, []int64{int64(i + 1)})
	}
	p := testutil.ParseProfile(t, b.Build())

	want := [][]string{
		{"parse", "handle", "main", "_start"},
		{"parse", "handle", "main", "_start"},
		{"malloc", "parse", "handle", "main", "_start"},
		{"malloc"},
	}
	require.Len(t, p.Sample, len(want))
	for i, s := range p.Sample {
		assert.Equal(t, want[i], testutil.StackNames(s), "sample %d", i)
		assert.Equal(t, []int64{int64(i + 1)}, s.Value)
	}
}

func TestBuild_MainBinaryWrittenFirst(t *testing.T) {
	tr := testutil.NewTrace()
	ld := tr.Mapping("/lib64/ld-linux-x86-64.so.2", "aa", 0x7f00000000, 0x7f00030000, 0)
	exe := tr.Mapping("/usr/sbin/nginx", "bb", 0x400000, 0x480000, 0)

	b := New(tr.Store, countType)
	b.AddSample(tr.Stack(tr.Frame("_dl_start", ld, 0x7f00001000)), []int64{1})
	b.AddSample(tr.Stack(tr.Frame("main", exe, 0x400100)), []int64{1})

	p := testutil.ParseProfile(t, b.Build())
	require.Len(t, p.Mapping, 2)
	assert.Equal(t, "/usr/sbin/nginx", p.Mapping[0].File)
	assert.Equal(t, uint64(2), p.Mapping[0].ID, "ids are not renumbered")
	assert.Equal(t, "/lib64/ld-linux-x86-64.so.2", p.Mapping[1].File)

	id, ok := b.MainBinary()
	require.True(t, ok)
	assert.Equal(t, uint64(2), id)
}

func TestBuild_CustomScorer(t *testing.T) {
	tr := testutil.NewTrace()
	a := tr.Mapping("/usr/bin/a", "", 0x1000, 0x2000, 0)
	c := tr.Mapping("/usr/lib/libc.so", "", 0x3000, 0x4000, 0)

	preferLibc := func(m MappingInfo) int64 {
		if m.Filename == "/usr/lib/libc.so" {
			return 1
		}
		return 0
	}
	b := New(tr.Store, countType, WithMainBinaryScorer(preferLibc))
	b.AddSample(tr.Stack(tr.Frame("f", a, 0x1001), tr.Frame("g", c, 0x3001)), []int64{1})

	p := testutil.ParseProfile(t, b.Build())
	assert.Equal(t, "/usr/lib/libc.so", p.Mapping[0].File)
}

func TestBuild_DegradedInput(t *testing.T) {
	t.Run("unmapped frame", func(t *testing.T) {
		tr := testutil.NewTrace()
		f := tr.Frame("jit_stub", 0, 0xdeadbeef)

		b := New(tr.Store, countType)
		b.AddSample(tr.Stack(f), []int64{1})
		p := testutil.ParseProfile(t, b.Build())

		require.Len(t, p.Location, 1)
		assert.Nil(t, p.Location[0].Mapping)
		assert.Equal(t, uint64(0), p.Location[0].Address)
		require.Len(t, p.Location[0].Line, 1)
		assert.Equal(t, "jit_stub", p.Location[0].Line[0].Function.Name)
		assert.Equal(t, "", p.Location[0].Line[0].Function.Filename)
		assert.Empty(t, p.Mapping)
	})

	t.Run("nameless frame has no lines", func(t *testing.T) {
		tr := testutil.NewTrace()
		m := tr.Mapping("/bin/stripped", "", 0x1000, 0x2000, 0)
		f := tr.Frame("", m, 0x1abc)

		b := New(tr.Store, countType)
		b.AddSample(tr.Stack(f), []int64{1})
		p := testutil.ParseProfile(t, b.Build())

		require.Len(t, p.Location, 1)
		assert.Empty(t, p.Location[0].Line)
		assert.Equal(t, uint64(0x1abc), p.Location[0].Address)
		assert.False(t, p.Mapping[0].HasFunctions)
	})

	t.Run("empty symbol set falls back to frame name", func(t *testing.T) {
		tr := testutil.NewTrace()
		m := tr.Mapping("/bin/app", "", 0x1000, 0x2000, 0)
		f := tr.Store.Frames.Insert(tracestore.Frame{
			Name:      tr.Store.Strings.Intern("fallback"),
			Mapping:   m,
			Address:   0x1001,
			SymbolSet: tr.Store.Symbols.NewSet(),
		})

		b := New(tr.Store, countType)
		b.AddSample(tr.Stack(f), []int64{1})
		p := testutil.ParseProfile(t, b.Build())
		assert.Equal(t, []string{"fallback"}, testutil.StackNames(p.Sample[0]))
	})

	t.Run("address below mapping start", func(t *testing.T) {
		tr := testutil.NewTrace()
		m := tr.Mapping("/bin/app", "", 0x5000, 0x6000, 0)
		f := tr.Frame("early", m, 0x10)

		b := New(tr.Store, countType)
		b.AddSample(tr.Stack(f), []int64{1})
		p := testutil.ParseProfile(t, b.Build())
		assert.Equal(t, uint64(0x5000), p.Location[0].Address)
	})

	t.Run("missing frame row", func(t *testing.T) {
		tr := testutil.NewTrace()
		cs := tr.Store.Callsites.Intern(0, tracestore.FrameID(99))

		b := New(tr.Store, countType)
		b.AddSample(cs, []int64{1})
		p := testutil.ParseProfile(t, b.Build())
		require.Len(t, p.Location, 1)
		assert.Empty(t, p.Location[0].Line)
	})

	t.Run("value count mismatch", func(t *testing.T) {
		tr := testutil.NewTrace()
		cs := tr.Stack(tr.Frame("f", 0, 0))
		b := New(tr.Store, []SampleType{{Type: "a", Unit: "count"}, {Type: "b", Unit: "bytes"}})
		b.AddSample(cs, []int64{7})
		b.AddSample(cs, []int64{1, 2, 3})

		p := testutil.ParseProfile(t, b.Build())
		assert.Equal(t, []int64{7, 0}, p.Sample[0].Value)
		assert.Equal(t, []int64{1, 2}, p.Sample[1].Value)
	})
}

func TestBuild_DeobfuscatedNames(t *testing.T) {
	tr := testutil.NewTrace()
	m := tr.Mapping("base.apk", "", 0x1000, 0x2000, 0)
	f := tr.Frame("a.b.c", m, 0x1100)
	require.True(t, tr.Store.Frames.SetDeobfuscatedName(f, tr.Store.Strings.Intern("com.example.Feed.load")))

	b := New(tr.Store, countType)
	b.AddSample(tr.Stack(f), []int64{1})
	p := testutil.ParseProfile(t, b.Build())

	require.Len(t, p.Function, 1)
	assert.Equal(t, "com.example.Feed.load", p.Function[0].Name)
	assert.Equal(t, "a.b.c", p.Function[0].SystemName)
	assert.Equal(t, "base.apk", p.Function[0].Filename)
}

func TestMapping_InvariantViolationPanics(t *testing.T) {
	b := New(tracestore.New(), countType)

	defer func() {
		r := recover()
		require.NotNil(t, r)
		err, ok := r.(error)
		require.True(t, ok)
		assert.True(t, apperrors.IsInvariantViolation(err))
	}()
	b.mapping(3)
}

func TestCheckFunction_InvariantViolationPanics(t *testing.T) {
	b := New(tracestore.New(), countType)
	assert.Panics(t, func() { b.checkFunction(0) })
	assert.Panics(t, func() { b.checkFunction(1) })
}

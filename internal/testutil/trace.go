package testutil

import (
	"github.com/trace-pprof/internal/tracestore"
)

// Sym is one inline level for TraceBuilder.SymbolizedFrame.
type Sym struct {
	Name string
	File string
	Line uint32
}

// TraceBuilder populates a tracestore.Storage with readable calls.
type TraceBuilder struct {
	Store *tracestore.Storage
}

// NewTrace returns a builder over an empty store.
func NewTrace() *TraceBuilder {
	return &TraceBuilder{Store: tracestore.New()}
}

func (b *TraceBuilder) str(s string) tracestore.StringID {
	return b.Store.Strings.Intern(s)
}

// Mapping adds a mapping row.
func (b *TraceBuilder) Mapping(name, buildID string, start, end, offset uint64) tracestore.MappingID {
	return b.Store.Mappings.Insert(tracestore.Mapping{
		Start:       start,
		End:         end,
		ExactOffset: offset,
		Name:        b.str(name),
		BuildID:     b.str(buildID),
	})
}

// Frame adds an unsymbolized frame at absolute address addr.
func (b *TraceBuilder) Frame(name string, m tracestore.MappingID, addr uint64) tracestore.FrameID {
	return b.Store.Frames.Insert(tracestore.Frame{
		Name:    b.str(name),
		Mapping: m,
		Address: addr,
	})
}

// SymbolizedFrame adds a frame whose symbol set holds syms, innermost first.
func (b *TraceBuilder) SymbolizedFrame(m tracestore.MappingID, addr uint64, syms ...Sym) tracestore.FrameID {
	set := b.Store.Symbols.NewSet()
	for _, s := range syms {
		b.Store.Symbols.Insert(tracestore.Symbol{
			SymbolSet:  set,
			Name:       b.str(s.Name),
			SourceFile: b.str(s.File),
			LineNumber: s.Line,
		})
	}
	return b.Store.Frames.Insert(tracestore.Frame{
		Mapping:   m,
		Address:   addr,
		SymbolSet: set,
	})
}

// Stack interns a root-first frame chain and returns its leaf callsite.
func (b *TraceBuilder) Stack(rootFirst ...tracestore.FrameID) tracestore.CallsiteID {
	return b.Store.Callsites.InternStack(rootFirst)
}

// Process adds a process row.
func (b *TraceBuilder) Process(pid int64, name string) tracestore.UPID {
	return b.Store.Processes.Insert(tracestore.Process{PID: pid, Name: b.str(name)})
}

// CPUSample adds one perf sample.
func (b *TraceBuilder) CPUSample(upid tracestore.UPID, cs tracestore.CallsiteID, ts int64) {
	b.Store.PerfSamples.Insert(tracestore.PerfSample{Ts: ts, UPID: upid, Callsite: cs})
}

// Alloc adds one heap allocation record.
func (b *TraceBuilder) Alloc(upid tracestore.UPID, cs tracestore.CallsiteID, count, size int64) {
	b.Store.Allocations.Insert(tracestore.Allocation{UPID: upid, Callsite: cs, Count: count, Size: size})
}

// AppServerTrace is a two-process trace used across packages. Process "app"
// (pid 100) runs /usr/bin/app linked against libc and the dynamic linker;
// process "worker" (pid 200) loads the same libc build at another address.
func AppServerTrace() *TraceBuilder {
	b := NewTrace()

	app := b.Mapping("/usr/bin/app", "a1b2c3", 0x400000, 0x500000, 0)
	libc := b.Mapping("/lib/x86_64-linux-gnu/libc.so.6", "c0ffee", 0x7f0000000000, 0x7f0000200000, 0)
	ld := b.Mapping("/lib64/ld-linux-x86-64.so.2", "1d1d1d", 0x7f1000000000, 0x7f1000030000, 0)
	libc2 := b.Mapping("/lib/x86_64-linux-gnu/libc.so.6", "c0ffee", 0x7e0000000000, 0x7e0000200000, 0)

	start := b.Frame("_start", ld, 0x7f1000001000)
	main := b.SymbolizedFrame(app, 0x401000, Sym{Name: "main", File: "main.c", Line: 10})
	handle := b.SymbolizedFrame(app, 0x402000,
		Sym{Name: "parse", File: "parse.c", Line: 42},
		Sym{Name: "handle", File: "server.c", Line: 7},
	)
	malloc := b.Frame("malloc", libc, 0x7f0000010000)
	malloc2 := b.Frame("malloc", libc2, 0x7e0000010000)

	appPID := b.Process(100, "app")
	workerPID := b.Process(200, "worker")

	hot := b.Stack(start, main, handle)
	alloc := b.Stack(start, main, handle, malloc)
	workerAlloc := b.Stack(malloc2)

	b.CPUSample(appPID, hot, 1)
	b.CPUSample(appPID, hot, 2)
	b.CPUSample(appPID, alloc, 3)
	b.CPUSample(workerPID, workerAlloc, 4)

	b.Alloc(appPID, alloc, 2, 128)
	b.Alloc(workerPID, workerAlloc, 1, 4096)
	return b
}

package collapsed

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/samber/lo"

	"github.com/trace-pprof/internal/tracestore"
	apperrors "github.com/trace-pprof/pkg/errors"
	"github.com/trace-pprof/pkg/utils"
)

const (
	// DefaultMaxSamplesPerLine caps the rows one line may expand into.
	DefaultMaxSamplesPerLine = 1 << 20

	// moduleSpan is the synthetic address range reserved for each module.
	moduleSpan  = 1 << 28
	frameStride = 16
)

// Options configures an Importer.
type Options struct {
	// StrictMode fails the import on the first malformed line instead of
	// skipping it.
	StrictMode bool
	// IncludeSwapper keeps samples of the kernel idle task.
	IncludeSwapper bool
	// MaxSamplesPerLine caps how many perf sample rows one line produces.
	MaxSamplesPerLine int64
	// ProcessName is used for lines that carry no thread element name.
	ProcessName string
}

// DefaultOptions returns lenient options.
func DefaultOptions() Options {
	return Options{MaxSamplesPerLine: DefaultMaxSamplesPerLine}
}

// Result summarizes one import.
type Result struct {
	Lines     int
	Skipped   int
	Samples   int64
	Truncated int64
	Processes int
}

type frameKey struct {
	function string
	module   string
}

type processKey struct {
	pid  int
	name string
}

// Importer converts folded stacks into tracestore rows. Folded text carries no
// addresses, so every module gets a synthetic mapping and each distinct
// function inside it a distinct synthetic address. Frames without a module
// are left unmapped.
type Importer struct {
	opts   Options
	logger utils.Logger
	store  *tracestore.Storage

	modules   map[string]tracestore.MappingID
	nextFrame map[tracestore.MappingID]uint64
	frames    map[frameKey]tracestore.FrameID
	processes map[processKey]tracestore.UPID
}

// NewImporter creates an Importer writing into store.
func NewImporter(store *tracestore.Storage, opts Options, logger utils.Logger) *Importer {
	if opts.MaxSamplesPerLine <= 0 {
		opts.MaxSamplesPerLine = DefaultMaxSamplesPerLine
	}
	return &Importer{
		opts:      opts,
		logger:    utils.OrNull(logger),
		store:     store,
		modules:   make(map[string]tracestore.MappingID),
		nextFrame: make(map[tracestore.MappingID]uint64),
		frames:    make(map[frameKey]tracestore.FrameID),
		processes: make(map[processKey]tracestore.UPID),
	}
}

// Import reads every line of r. Each line with count N adds N perf samples
// (at most MaxSamplesPerLine) to the process the line's thread belongs to,
// timestamped with the line number.
func (im *Importer) Import(ctx context.Context, r io.Reader) (*Result, error) {
	res := &Result{}
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)

	lineNum := 0
	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		lineNum++
		text := strings.TrimSpace(scanner.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}
		res.Lines++

		if err := im.importLine(text, int64(lineNum), res); err != nil {
			if im.opts.StrictMode {
				return nil, apperrors.Wrap(apperrors.CodeParseError, fmt.Sprintf("line %d", lineNum), err)
			}
			im.logger.Debug("skipping line %d: %v", lineNum, err)
			res.Skipped++
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, apperrors.Wrap(apperrors.CodeParseError, "failed to read folded stacks", err)
	}

	res.Processes = len(im.processes)
	if res.Truncated > 0 {
		im.logger.Warn("truncated %d samples exceeding %d per line", res.Truncated, im.opts.MaxSamplesPerLine)
	}
	return res, nil
}

func (im *Importer) importLine(text string, ts int64, res *Result) error {
	sep := strings.LastIndexAny(text, " \t")
	if sep <= 0 {
		return ErrInvalidFormat
	}
	count, err := strconv.ParseInt(strings.TrimSpace(text[sep+1:]), 10, 64)
	if err != nil {
		return fmt.Errorf("invalid count value: %w", err)
	}
	if count < 0 {
		return fmt.Errorf("negative count %d", count)
	}

	stack := strings.TrimSpace(text[:sep])
	first, _, _ := strings.Cut(stack, ";")
	if IsInvalidData(first) {
		res.Skipped++
		return nil
	}

	info, frames := ParseCallStack(stack)
	if IsSwapperThread(info.ThreadName) && !im.opts.IncludeSwapper {
		res.Skipped++
		return nil
	}
	frames = lo.Filter(frames, func(f StackFrame, _ int) bool {
		return strings.TrimSpace(f.Function) != ""
	})
	if len(frames) == 0 || count == 0 {
		res.Skipped++
		return nil
	}

	ids := lo.Map(frames, func(f StackFrame, _ int) tracestore.FrameID {
		return im.frame(f)
	})
	callsite := im.store.Callsites.InternStack(ids)
	upid := im.process(info)

	n := min(count, im.opts.MaxSamplesPerLine)
	res.Truncated += count - n
	for i := int64(0); i < n; i++ {
		im.store.PerfSamples.Insert(tracestore.PerfSample{Ts: ts, UPID: upid, Callsite: callsite})
	}
	res.Samples += n
	return nil
}

func (im *Importer) frame(f StackFrame) tracestore.FrameID {
	key := frameKey{function: f.Function, module: f.Module}
	if id, ok := im.frames[key]; ok {
		return id
	}

	var (
		mapping tracestore.MappingID
		address uint64
	)
	if f.Module != "" {
		mapping = im.mapping(f.Module)
		row, _ := im.store.Mappings.Row(mapping)
		address = row.Start + im.nextFrame[mapping]
		im.nextFrame[mapping] += frameStride
	}

	id := im.store.Frames.Insert(tracestore.Frame{
		Name:    im.store.Strings.Intern(f.Function),
		Mapping: mapping,
		Address: address,
	})
	im.frames[key] = id
	return id
}

func (im *Importer) mapping(module string) tracestore.MappingID {
	if id, ok := im.modules[module]; ok {
		return id
	}
	start := uint64(len(im.modules)+1) * moduleSpan
	id := im.store.Mappings.Insert(tracestore.Mapping{
		Start: start,
		End:   start + moduleSpan,
		Name:  im.store.Strings.Intern(module),
	})
	im.modules[module] = id
	return id
}

func (im *Importer) process(info ThreadInfo) tracestore.UPID {
	name := info.ThreadName
	if name == "" {
		name = im.opts.ProcessName
	}
	// Threads of one pid share a process; without a pid each thread name
	// stands for its own process.
	key := processKey{pid: info.PID}
	if info.PID < 0 {
		key.name = name
	}
	if upid, ok := im.processes[key]; ok {
		return upid
	}
	upid := im.store.Processes.Insert(tracestore.Process{
		PID:  int64(info.PID),
		Name: im.store.Strings.Intern(name),
	})
	im.processes[key] = upid
	return upid
}

// ErrInvalidFormat reports a line without a trailing count.
var ErrInvalidFormat = apperrors.New(apperrors.CodeParseError, "invalid collapsed format")

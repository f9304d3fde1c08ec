// Package collapsed imports folded ("collapsed") stack text, as produced by
// stackcollapse-perf and async-profiler, into trace storage.
//
// Each line has the form
//
//	comm-pid/tid;frame;frame(module);... count
//
// with the root frame first. An APM thread marker "[Thread-7 tid=1060369]"
// may appear either as the first element or right after it.
package collapsed

import (
	"regexp"
	"strconv"
	"strings"
)

// StackFrame is one frame of a folded stack.
type StackFrame struct {
	Function string
	Module   string
}

// ThreadInfo is the thread identity encoded in the first element of a line.
// PID and TID are -1 when absent.
type ThreadInfo struct {
	ThreadName string
	PID        int
	TID        int
}

var (
	apmFormatRegex   = regexp.MustCompile(`^\[(.+)\s+tid=(\d+)\]$`)
	invalidDataRegex = regexp.MustCompile(`^\d+_\d+_`)
)

// SplitFuncAndModule splits "func(module)" into its parts. A frame without a
// trailing parenthesized module is returned whole.
func SplitFuncAndModule(raw string) (function, module string) {
	open := strings.LastIndex(raw, "(")
	if open <= 0 || open == len(raw)-2 || !strings.HasSuffix(raw, ")") {
		return raw, ""
	}
	return strings.TrimSpace(raw[:open]), raw[open+1 : len(raw)-1]
}

// ExtractThreadInfo parses "comm-pid/tid" or the APM "[name tid=N]" form.
// A "?" pid is treated as absent.
func ExtractThreadInfo(threadFrame string) ThreadInfo {
	info := ThreadInfo{ThreadName: threadFrame, PID: -1, TID: -1}

	if m := apmFormatRegex.FindStringSubmatch(threadFrame); m != nil {
		info.ThreadName = m[1]
		if tid, err := strconv.Atoi(m[2]); err == nil {
			info.TID = tid
		}
		return info
	}

	dash := strings.LastIndex(threadFrame, "-")
	if dash <= 0 {
		return info
	}
	ids := threadFrame[dash+1:]
	pidStr, tidStr, hasTID := strings.Cut(ids, "/")
	if !hasTID {
		// "comm-tid" as emitted by perf script without --pid.
		if tid, err := strconv.Atoi(ids); err == nil {
			info.ThreadName = threadFrame[:dash]
			info.TID = tid
		}
		return info
	}

	info.ThreadName = threadFrame[:dash]
	if pid, err := strconv.Atoi(pidStr); err == nil {
		info.PID = pid
	}
	if tid, err := strconv.Atoi(tidStr); err == nil {
		info.TID = tid
	}
	return info
}

// IsSwapperThread reports whether the thread is the kernel idle task.
func IsSwapperThread(threadName string) bool {
	return threadName == "swapper" || strings.HasPrefix(threadName, "swapper-")
}

// IsInvalidData matches raw perf record headers such as
// "5_2175795_[002]_83367.826506:-?/10101010" that leak into folded output.
func IsInvalidData(firstFrame string) bool {
	return invalidDataRegex.MatchString(firstFrame)
}

// ParseCallStack splits the stack part of a line into the thread info and the
// frames, root first. Empty and "[]" frames are dropped.
func ParseCallStack(stack string) (ThreadInfo, []StackFrame) {
	parts := strings.Split(stack, ";")
	info := ExtractThreadInfo(parts[0])

	start := 1
	if start < len(parts) {
		if m := apmFormatRegex.FindStringSubmatch(parts[start]); m != nil {
			if tid, err := strconv.Atoi(m[2]); err == nil && info.TID < 0 {
				info.TID = tid
			}
			start++
		}
	}

	frames := make([]StackFrame, 0, len(parts)-start)
	for _, raw := range parts[start:] {
		if raw == "" || raw == "[]" {
			continue
		}
		fn, module := SplitFuncAndModule(raw)
		frames = append(frames, StackFrame{Function: fn, Module: module})
	}
	return info, frames
}

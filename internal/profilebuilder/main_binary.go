package profilebuilder

import (
	"path"
	"regexp"
	"strings"
)

// MappingInfo is what the main-binary scorer sees of a staged mapping.
type MappingInfo struct {
	Filename   string
	HasBuildID bool
	Start      uint64
	Limit      uint64
	Offset     uint64
	DebugInfo  DebugInfo
}

// ScoreFunc rates how likely a mapping is the process's main executable.
// Higher is more likely.
type ScoreFunc func(MappingInfo) int64

const (
	identityBonus    = 10
	disqualification = -1000
)

var (
	sharedLibraryRx  = regexp.MustCompile(`([.]so$|[.]so[._][0-9]+)`)
	systemPrefixes   = []string{"/apex", "/system", "/[", "["}
	dynamicLinkerRx  = regexp.MustCompile(`^(ld-.*|ld[.]so.*|linker|linker64)$`)
)

// MainBinaryScore is the default ScoreFunc. Each piece of identity or debug
// information adds a bonus. Empty mappings, shared libraries, system and
// pseudo mappings ("[vdso]", "/system/...") and the dynamic linker are each
// disqualified by a large penalty.
func MainBinaryScore(m MappingInfo) int64 {
	var score int64
	for _, has := range []bool{
		m.HasBuildID,
		m.Filename != "",
		m.DebugInfo.HasFunctions,
		m.DebugInfo.HasFilenames,
		m.DebugInfo.HasLineNumbers,
		m.DebugInfo.HasInlineFrames,
	} {
		if has {
			score += identityBonus
		}
	}

	if m.Limit == m.Start {
		score += disqualification
	}
	if sharedLibraryRx.MatchString(m.Filename) {
		score += disqualification
	}
	for _, prefix := range systemPrefixes {
		if strings.HasPrefix(m.Filename, prefix) {
			score += disqualification
			break
		}
	}
	if m.Filename != "" && dynamicLinkerRx.MatchString(path.Base(m.Filename)) {
		score += disqualification
	}
	return score
}

// guessMainBinary returns the id of the highest scoring staged mapping, the
// first one on ties, or 0 when nothing is staged.
func guessMainBinary(mappings []mapping, score ScoreFunc) uint64 {
	var (
		best      uint64
		bestScore int64
	)
	for i := range mappings {
		s := score(mappings[i].info())
		if best == 0 || s > bestScore {
			best, bestScore = uint64(i)+1, s
		}
	}
	return best
}

package profilebuilder

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMainBinaryScore(t *testing.T) {
	full := DebugInfo{HasFunctions: true, HasFilenames: true, HasLineNumbers: true, HasInlineFrames: true}

	tests := []struct {
		name string
		info MappingInfo
		want int64
	}{
		{"executable with everything", MappingInfo{Filename: "/usr/bin/app", HasBuildID: true, Start: 1, Limit: 2, DebugInfo: full}, 60},
		{"bare executable", MappingInfo{Filename: "/usr/bin/app", Start: 1, Limit: 2}, 10},
		{"anonymous", MappingInfo{Start: 1, Limit: 2}, 0},
		{"empty range", MappingInfo{Filename: "/usr/bin/app", Start: 5, Limit: 5}, 10 - 1000},
		{"shared library", MappingInfo{Filename: "/usr/lib/libfoo.so", Start: 1, Limit: 2}, 10 - 1000},
		{"versioned shared library", MappingInfo{Filename: "/lib/libc.so.6", Start: 1, Limit: 2}, 10 - 1000},
		{"system image", MappingInfo{Filename: "/system/bin/app_process64", Start: 1, Limit: 2}, 10 - 1000},
		{"apex image", MappingInfo{Filename: "/apex/com.android.art/lib64/libart.so", Start: 1, Limit: 2}, 10 - 2000},
		{"pseudo mapping", MappingInfo{Filename: "[vdso]", Start: 1, Limit: 2}, 10 - 1000},
		{"android linker", MappingInfo{Filename: "/system/bin/linker64", Start: 1, Limit: 2}, 10 - 2000},
		{"glibc loader", MappingInfo{Filename: "/lib64/ld-linux-x86-64.so.2", Start: 1, Limit: 2}, 10 - 2000},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, MainBinaryScore(tt.info))
		})
	}
}

func TestGuessMainBinary(t *testing.T) {
	linker := mapping{filenameStr: "/system/bin/linker64", filename: 1, buildID: 2, memoryStart: 0, memoryLimit: 10}
	exe := mapping{filenameStr: "/data/local/tmp/bench", filename: 3, buildID: 4, memoryStart: 100, memoryLimit: 200}
	lib := mapping{filenameStr: "/data/app/lib/libnative.so", filename: 5, memoryStart: 300, memoryLimit: 400}

	t.Run("executable beats linker and libraries", func(t *testing.T) {
		assert.Equal(t, uint64(2), guessMainBinary([]mapping{linker, exe, lib}, MainBinaryScore))
	})

	t.Run("ties go to the first staged mapping", func(t *testing.T) {
		other := exe
		other.filenameStr = "/data/local/tmp/other"
		assert.Equal(t, uint64(1), guessMainBinary([]mapping{exe, other}, MainBinaryScore))
	})

	t.Run("negative scores still select", func(t *testing.T) {
		assert.Equal(t, uint64(2), guessMainBinary([]mapping{linker, lib}, MainBinaryScore))
	})

	t.Run("nothing staged", func(t *testing.T) {
		assert.Equal(t, uint64(0), guessMainBinary(nil, MainBinaryScore))
	})
}

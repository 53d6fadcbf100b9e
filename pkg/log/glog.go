// Copyright 2018 The gVisor Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package log

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"time"
)

// GoogleEmitter is a wrapper that emits logs in a format compatible with
// package github.com/golang/glog:
//
//	Lmmdd hh:mm:ss.uuuuuu pid file:line] msg
type GoogleEmitter struct {
	// Emitter is the underlying emitter.
	Emitter
}

var pid = os.Getpid()

var levelLetters = [...]byte{Warning: 'W', Info: 'I', Debug: 'D'}

// caller returns the base name and line of the frame depth+1 above it.
func caller(depth int) (string, int) {
	_, file, line, ok := runtime.Caller(depth + 1)
	if !ok {
		return "???", 0
	}
	return filepath.Base(file), line
}

// Emit implements Emitter.Emit.
func (g GoogleEmitter) Emit(depth int, level Level, timestamp time.Time, format string, args ...any) {
	letter := byte('?')
	if int(level) < len(levelLetters) {
		letter = levelLetters[level]
	}
	file, line := caller(depth + 1)
	_, month, day := timestamp.Date()
	hour, minute, second := timestamp.Clock()

	b := make([]byte, 0, 128)
	b = fmt.Appendf(b, "%c%02d%02d %02d:%02d:%02d.%06d %7d %s:%d] ",
		letter, int(month), day, hour, minute, second, timestamp.Nanosecond()/1000,
		pid, file, line)
	b = fmt.Appendf(b, format, args...)
	b = append(b, '\n')

	// The message is already formatted.
	g.Emitter.Emit(depth+1, level, timestamp, "%s", b)
}

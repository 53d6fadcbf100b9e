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

// Package cli is the main entrypoint for ptctl.
package cli

import (
	"context"
	"flag"
	"io"
	"os"

	"github.com/google/subcommands"
	"github.com/pml4/pml4/cmd/ptctl/cmd"
	"github.com/pml4/pml4/pkg/log"
)

var (
	debug      = flag.Bool("debug", false, "enable debug logging.")
	logFormat  = flag.String("log-format", "text", "log format: text (default) or json.")
	logPattern = flag.String("log", "", "file to log to, instead of stderr. %TIMESTAMP% and %COMMAND% are expanded.")
	alsoStderr = flag.Bool("alsologtostderr", false, "send log messages to stderr as well as to -log.")
	allocator  = flag.String("allocator", "runtime", "table allocator: runtime (Go heap) or mmap.")
	tableLimit = flag.Int("table-limit", 0, "maximum number of tables per address space for the mmap allocator, 0 for no limit.")
)

// Main is the main entrypoint.
func Main() {
	forEachCmd(subcommands.Register)

	// All subcommands must be registered before flag parsing.
	flag.Parse()

	conf := &cmd.Config{
		Allocator:  *allocator,
		TableLimit: *tableLimit,
	}
	if err := conf.Validate(); err != nil {
		cmd.Fatalf("%v", err)
	}

	subcommand := flag.CommandLine.Arg(0)
	var e log.Emitter
	if *logPattern == "" {
		e = newEmitter(*logFormat, os.Stderr)
	} else {
		f, err := log.OpenFile(*logPattern, subcommand, os.O_WRONLY|os.O_CREATE|os.O_APPEND)
		if err != nil {
			cmd.Fatalf("error opening log file %q: %v", *logPattern, err)
		}
		cmd.ErrorLogger = f
		e = newEmitter(*logFormat, f)
		if *alsoStderr {
			e = &log.MultiEmitter{e, newEmitter(*logFormat, os.Stderr)}
		}
	}
	log.SetTarget(e)
	if *debug {
		log.SetLevel(log.Debug)
	}
	log.Debugf("Args: %v", os.Args)

	os.Exit(int(subcommands.Execute(context.Background(), conf)))
}

// forEachCmd invokes the passed callback for each command supported by
// ptctl.
func forEachCmd(cb func(cmd subcommands.Command, group string)) {
	cb(subcommands.HelpCommand(), "")
	cb(subcommands.FlagsCommand(), "")

	cb(new(cmd.Summary), "")
	cb(new(cmd.Map), "")
	cb(new(cmd.Lookup), "")
	cb(new(cmd.Check), "")
}

func newEmitter(format string, logFile io.Writer) log.Emitter {
	switch format {
	case "text":
		return log.GoogleEmitter{Emitter: &log.Writer{Next: logFile}}
	case "json":
		return log.JSONEmitter{Writer: &log.Writer{Next: logFile}}
	}
	cmd.Fatalf("invalid log format %q, must be 'text' or 'json'", format)
	panic("unreachable")
}

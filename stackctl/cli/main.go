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

// Package cli is the main entrypoint for stackctl.
package cli

import (
	"context"
	"flag"
	"io"
	"os"
	"time"

	"github.com/google/subcommands"
	"initstack.dev/initstack/pkg/log"
	"initstack.dev/initstack/stackctl/cmd"
	"initstack.dev/initstack/stackctl/cmd/util"
	"initstack.dev/initstack/stackctl/config"
)

var (
	// Debugging flags.
	debug     = flag.Bool("debug", false, "enable debug logging.")
	debugLog  = flag.String("debug-log", "", "additional location for logs. If it ends with '/', log files are created inside the directory with default names. The following variables are available: %COMMAND%, %PID%, %TIMESTAMP%.")
	logFormat = flag.String("log-format", config.DefaultLogFormat(), "log format: text (default), json, or json-k8s.")
	logFile   = flag.String("log", "", "file path where internal errors are written in json format.")
	quiet     = flag.Bool("quiet", false, "do not log to stderr.")
)

// Main is the main entrypoint.
func Main() {
	// Register all commands.
	forEachCmd(subcommands.Register)

	// All subcommands must be registered before flag parsing.
	flag.Parse()

	if *logFile != "" {
		f, err := os.OpenFile(*logFile, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0644)
		if err != nil {
			util.Fatalf("error opening log file %q: %v", *logFile, err)
		}
		util.ErrorLogger = f
	}

	if *debug {
		log.SetLevel(log.Debug)
	}

	subcommand := flag.CommandLine.Arg(0)
	var emitters log.MultiEmitter
	if !*quiet {
		emitters = append(emitters, newEmitter(*logFormat, os.Stderr))
	}
	if *debugLog != "" {
		pattern := *debugLog
		if pattern[len(pattern)-1] == '/' {
			pattern += "stackctl.log.%TIMESTAMP%.%COMMAND%"
		}
		f, err := log.OpenFile(pattern, os.O_WRONLY|os.O_CREATE|os.O_APPEND, log.PatternOpts{
			Command:   subcommand,
			PID:       os.Getpid(),
			Timestamp: time.Now(),
		})
		if err != nil {
			util.Fatalf("error opening debug log file in %q: %v", *debugLog, err)
		}
		emitters = append(emitters, newEmitter(*logFormat, f))
	}

	switch len(emitters) {
	case 0:
		log.SetTarget(newEmitter("text", io.Discard))
	case 1:
		// Use the singular emitter to avoid needless
		// `for` loop overhead when logging to a single place.
		log.SetTarget(emitters[0])
	default:
		log.SetTarget(&emitters)
	}

	log.Debugf("Args: %v", os.Args)

	// Call the subcommand.
	status := subcommands.Execute(context.Background())
	if status != subcommands.ExitSuccess {
		log.Warningf("Failure to execute command, status: %v", status)
	}
	os.Exit(int(status))
}

// forEachCmd invokes the passed callback for each command supported by
// stackctl.
func forEachCmd(cb func(cmd subcommands.Command, group string)) {
	// Help and flags commands are generated automatically.
	cb(subcommands.HelpCommand(), "")
	cb(subcommands.FlagsCommand(), "")
	cb(subcommands.CommandsCommand(), "")

	cb(new(cmd.Build), "")
	cb(new(cmd.Parse), "")

	const debugGroup = "debug"
	cb(new(cmd.Self), debugGroup)
}

func newEmitter(format string, logFile io.Writer) log.Emitter {
	e, err := log.NewEmitter(format, &log.Writer{Next: logFile})
	if err != nil {
		util.Fatalf("%v", err)
	}
	return e
}

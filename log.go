// Copyright 2015 Google Inc. All Rights Reserved.
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

package linkmonitor

import (
	"flag"
	"io"
	"log"
	"os"
	"sync"
)

var fEnableDebug = flag.Bool(
	"linkmonitor.debug",
	false,
	"Write linkmonitor debugging messages to stderr.")

var (
	gLogger      *log.Logger
	gLoggerOnce  sync.Once
	gDebugLogger *log.Logger
)

func initLoggers() {
	const flags = log.Ldate | log.Ltime | log.Lmicroseconds | log.Lshortfile

	gLogger = log.New(os.Stderr, "linkmonitor: ", flags)

	var debugWriter io.Writer = io.Discard
	if flag.Parsed() && *fEnableDebug {
		debugWriter = os.Stderr
	}
	gDebugLogger = log.New(debugWriter, "linkmonitor: ", flags)
}

// logger returns the package's always-on logger, used for conditions a
// caller should know about (dropped unauthenticated netlink messages,
// event socket failures) regardless of the debug flag.
func logger() *log.Logger {
	gLoggerOnce.Do(initLoggers)
	return gLogger
}

// debugLogger returns a logger gated on -linkmonitor.debug, used for the
// high-volume traffic an operator only wants during troubleshooting.
func debugLogger() *log.Logger {
	gLoggerOnce.Do(initLoggers)
	return gDebugLogger
}

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
	"time"

	"golang.org/x/time/rate"
)

// rateLimitedLogger drops messages once its limiter runs out of tokens.
// Messages at levels that are not being logged do not consume tokens.
type rateLimitedLogger struct {
	// logger is the destination. If nil, the global logger at the time of
	// each call is used, so SetTarget after construction is honored.
	logger Logger
	limit  *rate.Limiter
}

func (rl *rateLimitedLogger) target() Logger {
	if rl.logger != nil {
		return rl.logger
	}
	return Log()
}

func (rl *rateLimitedLogger) allow(level Level) (Logger, bool) {
	l := rl.target()
	return l, l.IsLogging(level) && rl.limit.Allow()
}

// Debugf implements Logger.Debugf.
func (rl *rateLimitedLogger) Debugf(format string, v ...any) {
	if l, ok := rl.allow(Debug); ok {
		l.Debugf(format, v...)
	}
}

// Infof implements Logger.Infof.
func (rl *rateLimitedLogger) Infof(format string, v ...any) {
	if l, ok := rl.allow(Info); ok {
		l.Infof(format, v...)
	}
}

// Warningf implements Logger.Warningf.
func (rl *rateLimitedLogger) Warningf(format string, v ...any) {
	if l, ok := rl.allow(Warning); ok {
		l.Warningf(format, v...)
	}
}

// IsLogging implements Logger.IsLogging.
func (rl *rateLimitedLogger) IsLogging(level Level) bool {
	return rl.target().IsLogging(level)
}

// BasicRateLimitedLogger returns a Logger that logs to the global logger no
// more than once per the given duration.
func BasicRateLimitedLogger(every time.Duration) Logger {
	return &rateLimitedLogger{
		limit: rate.NewLimiter(rate.Every(every), 1),
	}
}

// RateLimitedLogger returns a Logger that logs to the given logger no more
// than once per the given duration.
func RateLimitedLogger(logger Logger, every time.Duration) Logger {
	return &rateLimitedLogger{
		logger: logger,
		limit:  rate.NewLimiter(rate.Every(every), 1),
	}
}

// Package nlog is the daemon's own logger: timestamped, severity-leveled
// writes to stderr or a log file. It intentionally does not pull in an
// external logging library -- none of this module's ambient stack does,
// following the teacher's (aistore) house style of a small from-scratch
// cmn/nlog rather than logrus/zap/zerolog.
/*
 * Copyright (c) 2018-2021, NVIDIA CORPORATION. All rights reserved.
 */
package nlog

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"
)

type severity int32

const (
	sevInfo severity = iota
	sevWarn
	sevErr
)

var sevTag = [...]byte{sevInfo: 'I', sevWarn: 'W', sevErr: 'E'}

var (
	mu    sync.Mutex
	out   io.Writer = os.Stderr
	title string
	level severity = sevInfo
)

// SetTitle prefixes every log line with a short process tag, e.g. "pipewired".
func SetTitle(s string) { title = s }

// SetOutput redirects all subsequent log lines (stderr by default).
func SetOutput(w io.Writer) {
	mu.Lock()
	out = w
	mu.Unlock()
}

// SetLevel filters by minimum severity: "info", "warn", "error".
func SetLevel(s string) {
	switch s {
	case "warn", "warning":
		level = sevWarn
	case "err", "error":
		level = sevErr
	default:
		level = sevInfo
	}
}

func log(sev severity, format string, args ...any) {
	if sev < level {
		return
	}
	mu.Lock()
	defer mu.Unlock()
	now := time.Now()
	var line string
	if format == "" {
		line = fmt.Sprintln(args...)
	} else {
		line = fmt.Sprintf(format, args...) + "\n"
	}
	if title != "" {
		fmt.Fprintf(out, "%c %s %s: %s", sevTag[sev], now.Format("15:04:05.000000"), title, line)
	} else {
		fmt.Fprintf(out, "%c %s %s", sevTag[sev], now.Format("15:04:05.000000"), line)
	}
}

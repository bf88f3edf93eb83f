// Copyright 2021 Intuitive Labs GmbH. All rights reserved.
//
// Use of this source code is governed by a BSD-style license
// that can be found in the LICENSE.txt file in the root of the source
// tree.

package htwheel

import (
	"github.com/intuitivelabs/slog"
)

const NAME = "htwheel"

// Log is the package logger. It is exported so that callers can change
// the level or the destination (e.g. slog.SetLevel(&Log, slog.LWARN)).
var Log slog.Log

func init() {
	Log.Init(NAME+": ", slog.LINFO)
}

func DBGon() bool {
	return Log.DBGon()
}

func WARNon() bool {
	return Log.WARNon()
}

func ERRon() bool {
	return Log.ERRon()
}

func DBG(f string, a ...interface{}) {
	Log.LLog(slog.LDBG, 1, NAME, f, a...)
}

func INF(f string, a ...interface{}) {
	Log.LLog(slog.LINFO, 1, NAME, f, a...)
}

func WARN(f string, a ...interface{}) {
	Log.LLog(slog.LWARN, 1, NAME, f, a...)
}

func ERR(f string, a ...interface{}) {
	Log.LLog(slog.LERR, 1, NAME, f, a...)
}

// BUG logs an internal-invariant violation. It never aborts the process;
// use PANIC() for violations that make it unsafe to keep running.
func BUG(f string, a ...interface{}) {
	Log.LLog(slog.LBUG, 1, NAME, f, a...)
}

// PANIC logs an internal-invariant violation and aborts, used for
// list-linkage corruption where continuing would silently corrupt further
// buckets.
func PANIC(f string, a ...interface{}) {
	Log.PANIC(f, a...)
}

// Copyright 2021 Intuitive Labs GmbH. All rights reserved.
//
// Use of this source code is governed by a BSD-style license
// that can be found in the LICENSE.txt file in the root of the source
// tree.

package driver

import (
	"github.com/intuitivelabs/slog"
)

const logPrefix = "htwheel/driver"

var Log slog.Log

func init() {
	Log.Init(logPrefix+": ", slog.LINFO)
}

func DBGon() bool  { return Log.DBGon() }
func WARNon() bool { return Log.WARNon() }

func DBG(f string, a ...interface{}) {
	Log.LLog(slog.LDBG, 1, logPrefix, f, a...)
}

func WARN(f string, a ...interface{}) {
	Log.LLog(slog.LWARN, 1, logPrefix, f, a...)
}

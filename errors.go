// Copyright 2021 Intuitive Labs GmbH. All rights reserved.
//
// Use of this source code is governed by a BSD-style license
// that can be found in the LICENSE.txt file in the root of the source
// tree.

package htwheel

import (
	"errors"
)

var ErrInvalidConfig = errors.New("invalid wheel configuration")
var ErrBucketAlloc = errors.New("bucket array allocation failed")
var ErrNilCallback = errors.New("timer registered with a nil callback")
var ErrActiveTimer = errors.New("called on a timer already scheduled")
var ErrInvalidTimer = errors.New("called on an invalid or uninitialised timer")

// Package mono provides a monotonic nanosecond clock for latency-sensitive
// paths (pts computation, log timestamping) that must not pay the cost of
// repeated wall-clock syscalls.
/*
 * Copyright (c) 2018-2021, NVIDIA CORPORATION. All rights reserved.
 */
package mono

import "time"

var start = time.Now()

// NanoTime returns a process-relative monotonic nanosecond counter. It is
// cheap enough to call from the data loop on every frame; node.SendCommand
// uses it to record a node's start time.
func NanoTime() int64 { return int64(time.Since(start)) }

// Package cos provides common low-level types and utilities used throughout
// the daemon: sentinel errors, size/round-up helpers, and uuid generation.
/*
 * Copyright (c) 2018-2023, NVIDIA CORPORATION. All rights reserved.
 */
package cos

import (
	"errors"
	"fmt"
	"os"
	"sync"
	ratomic "sync/atomic"

	"github.com/553481221/pipewire/cmn/debug"
)

type (
	// ErrNotFound reports that a looked-up object does not exist. The
	// registry and ports report missing ids through their own return
	// values (an ok bool, wire.InvalidBufferId) rather than this type.
	ErrNotFound struct {
		what string
	}
	// Errs accumulates up to maxErrs distinct errors.
	Errs struct {
		errs []error
		cnt  int64
		mu   sync.Mutex
	}
)

func NewErrNotFound(format string, a ...any) *ErrNotFound {
	return &ErrNotFound{fmt.Sprintf(format, a...)}
}

func (e *ErrNotFound) Error() string { return e.what + " does not exist" }

func IsErrNotFound(err error) bool {
	_, ok := err.(*ErrNotFound)
	return ok
}

const maxErrs = 4

func (e *Errs) Add(err error) {
	debug.Assert(err != nil)
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, added := range e.errs {
		if added.Error() == err.Error() {
			return
		}
	}
	if len(e.errs) < maxErrs {
		e.errs = append(e.errs, err)
		ratomic.StoreInt64(&e.cnt, int64(len(e.errs)))
	}
}

func (e *Errs) Cnt() int { return int(ratomic.LoadInt64(&e.cnt)) }

func (e *Errs) Error() (s string) {
	cnt := e.Cnt()
	if cnt == 0 {
		return
	}
	e.mu.Lock()
	err := e.errs[0]
	e.mu.Unlock()
	if cnt > 1 {
		err = fmt.Errorf("%v (and %d more error%s)", err, cnt-1, Plural(cnt-1))
	}
	return err.Error()
}

const fatalPrefix = "FATAL ERROR: "

// Exitf reports a fatal startup error (e.g. bad config) and terminates --
// used only before the logger/loops are up.
func Exitf(f string, a ...any) {
	fmt.Fprintln(os.Stderr, fmt.Sprintf(fatalPrefix+f, a...))
	os.Exit(1)
}

var errBufferUnderrun = errors.New("buffer underrun")

func ErrBufferUnderrun() error { return errBufferUnderrun }

//go:build !debug

// Package debug provides build-tag gated assertions: compiled out entirely
// (zero cost) unless built with `-tags debug`.
/*
 * Copyright (c) 2018-2021, NVIDIA CORPORATION. All rights reserved.
 */
package debug

func ON() bool { return false }

func Assert(_ bool, _ ...any)            {}
func AssertNoErr(_ error)                {}
func Assertf(_ bool, _ string, _ ...any) {}

// Copyright (c) The Kestrel Authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

//go:build !linux

package main

func mapBacking(size int) ([]byte, error) {
	return make([]byte, size), nil
}

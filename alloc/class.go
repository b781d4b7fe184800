/*
 * MIT License
 *
 * Copyright (c) 2024 Nicolas JUHEL
 *
 * Permission is hereby granted, free of charge, to any person obtaining a copy
 * of this software and associated documentation files (the "Software"), to deal
 * in the Software without restriction, including without limitation the rights
 * to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
 * copies of the Software, and to permit persons to whom the Software is
 * furnished to do so, subject to the following conditions:
 *
 * The above copyright notice and this permission notice shall be included in all
 * copies or substantial portions of the Software.
 *
 * THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
 * IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
 * FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
 * AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
 * LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
 * OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
 * SOFTWARE.
 *
 *
 */

// Package alloc is the slab page allocator of spec §4.1: per-thread
// pools, a global drain pool, a free-page grade index, and a big-page
// path, replacing general-purpose allocation for task-server workloads.
// Go cannot intercept malloc/free process-wide, so this package is the
// explicit allocator applications opt into for task bodies, connection
// buffers and log chunks — the same role the original plays for the
// whole process, scoped to what a Go program can actually own.
package alloc

import "math"

// PageSize is the fixed allocation page size (64 KiB).
const PageSize = 64 * 1024

// pageMask recovers a page header address from any pointer inside it.
const pageMask = ^uintptr(PageSize - 1)

// classSizes are the 39 block-size classes, built the way tcmalloc-style
// allocators derive theirs: a fixed stride within a group of four classes,
// doubling the stride every fourth class so that the relative spacing
// between classes stays roughly constant as sizes grow. Requests above the
// largest class go through the big-page (mmap) path instead.
var classSizes = buildClassSizes()

func buildClassSizes() []int {
	const numClasses = 39
	sizes := make([]int, 0, numClasses)
	size, stride := 8, 8
	for len(sizes) < numClasses {
		sizes = append(sizes, size)
		if len(sizes)%4 == 0 {
			stride *= 2
		}
		size += stride
	}
	return sizes
}

// maxClass is the largest block size served by the small-allocation path;
// requests above this go through the big-page path.
var maxClass = classSizes[len(classSizes)-1]

// NumClasses is the number of block-size classes.
func NumClasses() int { return len(classSizes) }

// classIndex returns the smallest class index whose size is >= n, or -1
// if n exceeds maxClass (caller must use the big-page path).
func classIndex(n int) int {
	if n <= 0 {
		n = 1
	}
	if n > maxClass {
		return -1
	}
	lo, hi := 0, len(classSizes)-1
	for lo < hi {
		mid := (lo + hi) / 2
		if classSizes[mid] < n {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	return lo
}

// ClassSize returns the block size for a class index.
func ClassSize(idx int) int {
	if idx < 0 || idx >= len(classSizes) {
		return 0
	}
	return classSizes[idx]
}

// blocksPerPage is the number of blocks of classSizes[idx] that fit in
// one page body (the header consumes pageHeaderSize bytes).
func blocksPerPage(idx int) int {
	size := classSizes[idx]
	avail := PageSize - pageHeaderSize
	if size <= 0 {
		return 0
	}
	n := avail / size
	if n > math.MaxInt32 {
		n = math.MaxInt32
	}
	return n
}

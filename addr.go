// Copyright 2025 Esteban Alvarez. All Rights Reserved.
//
// Created: October 2025
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

package prefetch

// Address decomposition. A physical address splits into a 64-byte cache
// line, a 4 KiB page of 64 lines, and the line's offset within the page.

// cacheLine returns the cache-line index of an address.
func cacheLine(addr uint64) uint64 { return addr >> 6 }

// pageOf returns the 4 KiB page index of a cache line.
func pageOf(cl uint64) uint64 { return cl >> 6 }

// offsetOf returns the line-in-page offset of a cache line, in [0,63].
func offsetOf(cl uint64) int { return int(cl & 63) }

// lineAddr reassembles the address of line index within page.
func lineAddr(page uint64, index int) uint64 {
	return (page << 12) | (uint64(index) << 6)
}

// pollutionHash folds a cache line onto the pollution filter's buckets by
// XOR-ing two 12-bit slices of the line index. Collisions are expected; the
// filter is a heuristic.
func pollutionHash(cl uint64) int {
	return int((cl & 0xfff) ^ ((cl >> 12) & 0xfff))
}

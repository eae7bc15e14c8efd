// Copyright 2021-2025
// SPDX-License-Identifier: Apache-2.0
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package portfolio

import "fmt"

// book is the mutable, dollars-only working copy of a snapshot used while
// the greedy phases run. It is local to one rebalance call.
type book struct {
	snap    *Snapshot
	dollars []float64
	cash    float64
}

func newBook(snap *Snapshot) *book {
	b := &book{
		snap:    snap,
		dollars: make([]float64, len(snap.securities)),
		cash:    snap.cash.Quantity,
	}
	for idx, sec := range snap.securities {
		b.dollars[idx] = sec.Value()
	}
	return b
}

// total returns the value of the book, failing when weights cannot be
// normalized
func (b *book) total() (float64, error) {
	total := b.cash
	for _, val := range b.dollars {
		total += val
	}
	if total <= 0 {
		return 0, fmt.Errorf("%w: got %g", ErrNonPositiveValue, total)
	}
	return total, nil
}

// delta is target dollars minus current dollars; positive when underweight
func (b *book) delta(idx int, total float64) float64 {
	return b.snap.securities[idx].TargetWeight*total - b.dollars[idx]
}

func (b *book) weights(total float64) []float64 {
	out := make([]float64, len(b.dollars))
	for idx, val := range b.dollars {
		out[idx] = val / total
	}
	return out
}

func (b *book) sell(idx int, dollars float64) {
	b.dollars[idx] -= dollars
	b.cash += dollars
}

func (b *book) buy(idx int, dollars float64) {
	b.dollars[idx] += dollars
	b.cash -= dollars
}

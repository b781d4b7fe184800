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

package alloc

import "github.com/nabbar/tcore/futex"

const numGrades = 8

// gradeIndex is one size class's free-page grade index: 8 doubly linked
// lists, one per fullness grade (spec §3). Pages migrate as blocks are
// acquired/released; refill walks grade 7 downward, taking the page with
// the most free blocks first.
type gradeIndex struct {
	mu   futex.Mutex
	head [numGrades]*page
}

func (g *gradeIndex) link(p *page) {
	grade := p.computeGrade()
	p.grade = grade
	p.gradeNext = g.head[grade]
	p.gradePrev = nil
	if g.head[grade] != nil {
		g.head[grade].gradePrev = p
	}
	g.head[grade] = p
	p.onGradeLst = true
}

func (g *gradeIndex) unlink(p *page) {
	if !p.onGradeLst {
		return
	}
	if p.gradePrev != nil {
		p.gradePrev.gradeNext = p.gradeNext
	} else {
		g.head[p.grade] = p.gradeNext
	}
	if p.gradeNext != nil {
		p.gradeNext.gradePrev = p.gradePrev
	}
	p.gradePrev, p.gradeNext = nil, nil
	p.onGradeLst = false
}

// relink moves p to the grade list matching its current free-block
// fraction; cheap no-op if the grade did not change.
func (g *gradeIndex) relink(p *page) {
	g.mu.Lock()
	defer g.mu.Unlock()

	newGrade := p.computeGrade()
	if p.onGradeLst && newGrade == p.grade {
		return
	}
	if p.onGradeLst {
		g.unlink(p)
	}
	g.link(p)
	_ = newGrade
}

func (g *gradeIndex) add(p *page) {
	g.mu.Lock()
	g.link(p)
	g.mu.Unlock()
}

func (g *gradeIndex) remove(p *page) {
	g.mu.Lock()
	g.unlink(p)
	g.mu.Unlock()
}

// takeRefillable unlinks and returns the first non-full page found,
// walking grades from the most-free (7) down to the least-free (0): a
// more-empty page is preferred for refill since it yields more blocks to
// transfer into the requester's ring in one pass (spec §4.1 step 4).
func (g *gradeIndex) takeRefillable() *page {
	g.mu.Lock()
	defer g.mu.Unlock()

	for grade := numGrades - 1; grade >= 0; grade-- {
		for p := g.head[grade]; p != nil; p = p.gradeNext {
			if !p.isFull() {
				g.unlink(p)
				return p
			}
		}
	}
	return nil
}

// Copyright 2025 Poiesic Systems
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

package main

import (
	"fmt"
	"io"
	"sync"
	"time"
)

// progress reports seeding progress to a writer every interval records.
// It is safe for use by the pool's workers.
type progress struct {
	mu       sync.Mutex
	w        io.Writer
	total    int
	interval int
	done     int
	failed   int
	reported int
	start    time.Time
}

func newProgress(w io.Writer, total, interval int) *progress {
	if interval < 1 {
		interval = 1
	}
	return &progress{
		w:        w,
		total:    total,
		interval: interval,
		start:    time.Now(),
	}
}

// record counts one finished insert.
func (p *progress) record(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.done++
	if err != nil {
		p.failed++
	}
	if p.done-p.reported >= p.interval {
		p.report()
		p.reported = p.done
	}
}

// finish prints the final line.
func (p *progress) finish() {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.report()
	fmt.Fprintln(p.w)
}

func (p *progress) counts() (done, failed int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.done, p.failed
}

// Must be called with mu held.
func (p *progress) report() {
	rate := 0.0
	if elapsed := time.Since(p.start).Seconds(); elapsed > 0 {
		rate = float64(p.done) / elapsed
	}
	percentage := 100.0
	if p.total > 0 {
		percentage = float64(p.done) / float64(p.total) * 100.0
	}
	fmt.Fprintf(p.w, "\rSeeding: %d/%d (%.1f%%), %d failed, %.1f records/s",
		p.done, p.total, percentage, p.failed, rate)
}

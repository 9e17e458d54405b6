// Copyright (c) 2026 John Earle
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

// Package notify runs best-effort side tasks: work whose failure is logged
// and never reaches the caller. Tasks outlive the request that started
// them, up to a per-task timeout.
package notify

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/leadrelay/orchestrator/internal/queue"
)

// DefaultTimeout bounds a single best-effort task.
const DefaultTimeout = 10 * time.Second

// EventPublisher is the sink for relay events.
type EventPublisher interface {
	Publish(ctx context.Context, evt queue.Event) error
}

// Notifier schedules best-effort tasks. The zero value is not usable; use New.
type Notifier struct {
	pub     EventPublisher
	timeout time.Duration
	wg      sync.WaitGroup
}

// New creates a notifier. pub may be nil, in which case events are dropped.
func New(pub EventPublisher, timeout time.Duration) *Notifier {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Notifier{pub: pub, timeout: timeout}
}

// BestEffort runs fn in the background. The task keeps ctx's values but
// not its cancellation, so it survives the end of the request. Errors and
// panics are logged and swallowed.
func (n *Notifier) BestEffort(ctx context.Context, name string, fn func(ctx context.Context) error) {
	taskCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), n.timeout)

	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		defer cancel()
		defer func() {
			if r := recover(); r != nil {
				slog.ErrorContext(taskCtx, "best-effort task panicked", "task", name, "panic", r)
			}
		}()

		start := time.Now()
		if err := fn(taskCtx); err != nil {
			slog.WarnContext(taskCtx, "best-effort task failed",
				"task", name,
				"error", err,
				"elapsed", time.Since(start),
			)
			return
		}
		slog.DebugContext(taskCtx, "best-effort task done", "task", name, "elapsed", time.Since(start))
	}()
}

// Publish sends evt in the background. A nil publisher drops it.
func (n *Notifier) Publish(ctx context.Context, evt queue.Event) {
	if n.pub == nil {
		return
	}
	n.BestEffort(ctx, "publish "+string(evt.Type), func(ctx context.Context) error {
		return n.pub.Publish(ctx, evt)
	})
}

// Wait blocks until every scheduled task has finished. Used on shutdown
// and in tests.
func (n *Notifier) Wait() { n.wg.Wait() }

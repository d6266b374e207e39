/*
 * Copyright 2025 Hewlett Packard Enterprise Development LP
 * Other additional copyright holders may be indicated within.
 *
 * The entirety of this work is licensed under the Apache License,
 * Version 2.0 (the "License"); you may not use this file except
 * in compliance with the License.
 *
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package common

import (
	"fmt"
	"time"

	"k8s.io/utils/clock"
)

// ConditionFunc reports whether the awaited condition currently holds.
type ConditionFunc func() bool

// TimeoutError - the condition did not hold within the allotted budget.
type TimeoutError struct {
	Interval time.Duration
	Timeout  time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("condition not met after %s (poll interval %s)", e.Timeout, e.Interval)
}

// AwaitCondition polls condition every interval until it holds or timeout
// elapses on the supplied clock. The condition is checked before the first
// sleep, so an already-true condition never blocks. Used for bounded
// initialization waits; runtime data paths use per-invocation counted polls
// instead and must not call this.
func AwaitCondition(clk clock.Clock, interval, timeout time.Duration, condition ConditionFunc) error {
	deadline := clk.Now().Add(timeout)

	for {
		if condition() {
			return nil
		}

		if !clk.Now().Before(deadline) {
			return &TimeoutError{Interval: interval, Timeout: timeout}
		}

		clk.Sleep(interval)
	}
}

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
	"errors"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	clocktesting "k8s.io/utils/clock/testing"
)

var _ = Describe("Await Condition", func() {

	var clk *clocktesting.FakeClock

	BeforeEach(func() {
		clk = clocktesting.NewFakeClock(time.Now())
	})

	It("returns without sleeping when the condition already holds", func() {
		err := AwaitCondition(clk, time.Millisecond, time.Second, func() bool { return true })
		Expect(err).NotTo(HaveOccurred())
		Expect(clk.HasWaiters()).To(BeFalse())
	})

	It("polls until the condition holds", func() {
		checks := 0
		done := make(chan error)

		go func() {
			done <- AwaitCondition(clk, time.Millisecond, 10*time.Millisecond, func() bool {
				checks++
				return checks >= 3
			})
		}()

		for i := 0; i < 2; i++ {
			Eventually(clk.HasWaiters).Should(BeTrue())
			clk.Step(time.Millisecond)
		}

		Expect(<-done).NotTo(HaveOccurred())
		Expect(checks).To(Equal(3))
	})

	It("fails with a timeout once the budget elapses", func() {
		done := make(chan error)

		go func() {
			done <- AwaitCondition(clk, time.Millisecond, 3*time.Millisecond, func() bool { return false })
		}()

		for i := 0; i < 3; i++ {
			Eventually(clk.HasWaiters).Should(BeTrue())
			clk.Step(time.Millisecond)
		}

		err := <-done
		Expect(err).To(HaveOccurred())

		timeoutErr := &TimeoutError{}
		Expect(errors.As(err, &timeoutErr)).To(BeTrue())
		Expect(timeoutErr.Timeout).To(Equal(3 * time.Millisecond))
	})
})

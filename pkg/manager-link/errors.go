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

package link

import "fmt"

// LinkError - the link stayed down past the deferral budget. Surfaced to
// the host exactly like a device error, as a failed status wrapper.
type LinkError struct {
	Retries uint
}

func NewLinkError(retries uint) *LinkError {
	return &LinkError{Retries: retries}
}

func (e *LinkError) Error() string {
	return fmt.Sprintf("link: not ready after %d deferrals", e.Retries)
}

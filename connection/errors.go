// Copyright 2025 AxonFlow
// SPDX-License-Identifier: BUSL-1.1
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package connection

import "fmt"

// Lifecycle error codes. Expected domain failures (missing credentials,
// provider-rejected connects) resolve as structured ConnectResults instead
// of errors; these codes cover the cases that reject the operation itself.
const (
	// ErrCodeUnknownProvider means the requested provider id has never
	// registered. Fails fast instead of queueing on readiness.
	ErrCodeUnknownProvider = "UNKNOWN_PROVIDER"

	// ErrCodeTokenAcquisition means cloud token resolution failed hard.
	// Distinct from a failed connect result: the caller cannot recover
	// without user action outside the connect flow.
	ErrCodeTokenAcquisition = "TOKEN_ACQUISITION_FAILED"

	// ErrCodeNotConnected means an operation that requires a connected
	// session was invoked against a key that has none.
	ErrCodeNotConnected = "NOT_CONNECTED"

	// ErrCodeNotConnecting means cancel was invoked for a key with no
	// in-flight connect attempt.
	ErrCodeNotConnecting = "NOT_CONNECTING"

	// ErrCodeProviderCall means the provider returned an error on a
	// synchronous request (disconnect, list, change database).
	ErrCodeProviderCall = "PROVIDER_CALL_FAILED"
)

// LifecycleError describes a failed connection lifecycle operation.
type LifecycleError struct {
	Key      string
	Provider string
	Code     string
	Message  string
	Cause    error
}

func (e *LifecycleError) Error() string {
	msg := fmt.Sprintf("[%s]", e.Code)
	if e.Provider != "" {
		msg += fmt.Sprintf(" provider %s:", e.Provider)
	}
	msg += " " + e.Message
	if e.Key != "" {
		msg += fmt.Sprintf(" (key: %s)", e.Key)
	}
	if e.Cause != nil {
		msg += fmt.Sprintf(": %v", e.Cause)
	}
	return msg
}

func (e *LifecycleError) Unwrap() error {
	return e.Cause
}

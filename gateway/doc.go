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

/*
Package gateway exposes the connection manager over HTTP.

Routes live under /api/v1 and carry a bearer JWT when a secret is
configured. /health and /prometheus stay unauthenticated so load
balancers and scrapers can reach them.

Every request gets an X-Request-ID, either propagated from the caller
or generated, which is threaded through the structured logs.
*/
package gateway

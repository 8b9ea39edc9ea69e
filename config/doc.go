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
Package config loads the workbench YAML configuration.

Values can reference environment variables with ${VAR} or $VAR syntax,
including shell-style defaults:

	server:
	  listen_addr: "${WB_LISTEN_ADDR:-:8080}"
	  jwt_secret: ${WB_JWT_SECRET}

Missing files are an error; a missing config is not, callers fall back
to Default().
*/
package config

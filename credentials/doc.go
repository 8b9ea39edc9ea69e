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
Package credentials supplies the credential material the connection core
needs before each connect attempt: saved passwords, the MRU list, and
cloud access tokens.

The Resolver implements connection.TokenEnsurer over an AccountService.
For Azure identities, AzureAccountService mints tenant-scoped tokens with
azidentity service-principal credentials. When the requested tenant has no
token the resolver falls back to the account's first tenant that does and
logs a warning, since the resulting connection may carry wrong-tenant
credentials.

The SecretsStore implements connection.Store. Saved passwords are looked
up in a pluggable SecretsManager backend: AWS Secrets Manager (with a TTL
cache) in production, an in-memory backend for development and tests.
MRU entries and saved profiles never carry credentials.
*/
package credentials

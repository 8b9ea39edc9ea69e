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

package gateway

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// Prometheus metrics for the connection gateway
var (
	connectRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "workbench_connect_requests_total",
			Help: "Total number of connect requests",
		},
		[]string{"provider", "outcome"},
	)
	disconnectRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "workbench_disconnect_requests_total",
			Help: "Total number of disconnect requests",
		},
		[]string{"outcome"},
	)
	connectDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "workbench_connect_duration_milliseconds",
			Help:    "Connect request duration in milliseconds",
			Buckets: []float64{10, 50, 100, 250, 500, 1000, 2500, 5000, 15000, 60000},
		},
	)
	activeConnections = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "workbench_active_connections",
			Help: "Number of live connection sessions",
		},
	)
)

// metricsOnce ensures metrics are registered only once
var metricsOnce sync.Once

func init() {
	registerMetrics()
}

// registerMetrics registers gateway metrics once (safe for multiple calls)
func registerMetrics() {
	metricsOnce.Do(func() {
		_ = prometheus.Register(connectRequests)
		_ = prometheus.Register(disconnectRequests)
		_ = prometheus.Register(connectDuration)
		_ = prometheus.Register(activeConnections)
	})
}

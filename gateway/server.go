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
	"context"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"

	"axonflow/workbench/config"
	"axonflow/workbench/connection"
	"axonflow/workbench/providers"
	"axonflow/workbench/shared/logger"
)

// ConnectionService is the slice of the connection manager the gateway
// exposes over HTTP.
type ConnectionService interface {
	Connect(ctx context.Context, p *connection.Profile, key string, opts connection.ConnectOptions) (*connection.ConnectResult, error)
	Disconnect(ctx context.Context, key string) (bool, error)
	CancelConnection(ctx context.Context, key string) (bool, error)
	ChangeDatabase(ctx context.Context, key, database string) (bool, error)
	ListDatabases(ctx context.Context, key string) ([]string, error)
	GetConnectionString(ctx context.Context, key string, includePassword bool) (string, error)
	RebuildIntelliSenseCache(ctx context.Context, key string) error
	BuildConnectionInfo(ctx context.Context, providerID, connectionString string) (*providers.ConnectionInfo, error)
	GetActiveConnectionProfiles(providerFilter []string) []*connection.Profile
}

// Server is the HTTP gateway in front of the connection manager.
type Server struct {
	manager   ConnectionService
	registry  *providers.Registry
	router    *mux.Router
	cors      *cors.Cors
	log       *logger.Logger
	jwtSecret []byte
	startedAt time.Time

	httpServer *http.Server
	cfg        config.ServerConfig
}

// New creates a gateway server wired to manager and registry.
func New(cfg config.ServerConfig, manager ConnectionService, registry *providers.Registry) *Server {
	s := &Server{
		manager:   manager,
		registry:  registry,
		router:    mux.NewRouter(),
		log:       logger.New("gateway"),
		jwtSecret: []byte(cfg.JWTSecret),
		startedAt: time.Now(),
		cfg:       cfg,
	}

	s.cors = cors.New(cors.Options{
		AllowedOrigins:   cfg.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
		AllowCredentials: true,
	})

	s.routes()
	return s
}

func (s *Server) routes() {
	// Unauthenticated surface
	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")
	s.router.Handle("/prometheus", promhttp.Handler()).Methods("GET")

	api := s.router.PathPrefix("/api/v1").Subrouter()
	api.Use(mux.MiddlewareFunc(requestIDMiddleware))
	api.Use(mux.MiddlewareFunc(s.authMiddleware))

	api.HandleFunc("/connections", s.handleConnect).Methods("POST")
	api.HandleFunc("/connections", s.handleListActive).Methods("GET")
	api.HandleFunc("/connections/disconnect", s.handleDisconnect).Methods("POST")
	api.HandleFunc("/connections/cancel", s.handleCancel).Methods("POST")
	api.HandleFunc("/connections/database", s.handleChangeDatabase).Methods("POST")
	api.HandleFunc("/connections/databases", s.handleListDatabases).Methods("GET")
	api.HandleFunc("/connections/string", s.handleConnectionString).Methods("GET")
	api.HandleFunc("/connections/refresh-intellisense", s.handleRebuildIntelliSense).Methods("POST")
	api.HandleFunc("/connections/parse", s.handleParseConnectionString).Methods("POST")
	api.HandleFunc("/providers", s.handleListProviders).Methods("GET")
}

// Handler returns the fully wrapped HTTP handler, used by tests and Run.
func (s *Server) Handler() http.Handler {
	return s.cors.Handler(s.router)
}

// Run serves until ctx is cancelled, then drains in-flight requests.
func (s *Server) Run(ctx context.Context) error {
	s.httpServer = &http.Server{
		Addr:         s.cfg.ListenAddr,
		Handler:      s.Handler(),
		ReadTimeout:  s.cfg.ReadTimeout(),
		WriteTimeout: s.cfg.WriteTimeout(),
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info("", "", "Gateway listening", map[string]interface{}{"addr": s.cfg.ListenAddr})
		errCh <- s.httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownGrace())
	defer cancel()
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return err
	}
	s.log.Info("", "", "Gateway stopped", nil)
	return nil
}

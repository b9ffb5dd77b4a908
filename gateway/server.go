// Copyright 2025 TierFlow
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

	"tierflow/platform/common/usage"
	"tierflow/platform/config"
	"tierflow/platform/resilience"
	"tierflow/platform/router"
	"tierflow/platform/saga"
	"tierflow/platform/shared/logger"
)

// Server wires the routing engine, the saga orchestrator and the
// resilience layer behind one HTTP listener.
type Server struct {
	store        *config.Store
	engine       *router.Engine
	orchestrator *saga.Orchestrator
	breakers     *resilience.BreakerTable
	collector    *MetricsCollector
	recorder     *usage.Recorder
	log          *logger.Logger

	httpServer *http.Server
}

// Options holds the dependencies a Server needs.
type Options struct {
	Store        *config.Store
	Engine       *router.Engine
	Orchestrator *saga.Orchestrator
	Breakers     *resilience.BreakerTable
	Logger       *logger.Logger

	// Recorder persists routing events when a database is wired. Optional.
	Recorder *usage.Recorder

	// Addr is the listen address, for example ":8080".
	Addr string
}

// NewServer builds a server from opts.
func NewServer(opts Options) *Server {
	s := &Server{
		store:        opts.Store,
		engine:       opts.Engine,
		orchestrator: opts.Orchestrator,
		breakers:     opts.Breakers,
		collector:    NewMetricsCollector(),
		recorder:     opts.Recorder,
		log:          opts.Logger,
	}
	s.httpServer = &http.Server{
		Addr:         opts.Addr,
		Handler:      s.Routes(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}
	return s
}

// Routes builds the HTTP handler tree.
func (s *Server) Routes() http.Handler {
	r := mux.NewRouter()

	r.HandleFunc("/health", s.handleHealth).Methods("GET")
	r.HandleFunc("/metrics", s.handleMetrics).Methods("GET")
	r.Handle("/prometheus", promhttp.Handler()).Methods("GET")

	r.HandleFunc("/api/v1/route", s.handleRoute).Methods("POST")
	r.HandleFunc("/api/v1/route/feedback", s.handleFeedback).Methods("POST")

	r.HandleFunc("/api/v1/sagas/execute", s.handleExecuteSaga).Methods("POST")
	r.HandleFunc("/api/v1/sagas/{id}", s.handleGetSaga).Methods("GET")

	r.HandleFunc("/api/v1/tiers/status", s.handleTiersStatus).Methods("GET")

	c := cors.New(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
		AllowCredentials: true,
	})

	return c.Handler(s.withRequestID(s.withLogging(r)))
}

// Start serves until ctx is cancelled, then drains in-flight requests.
func (s *Server) Start(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.log.Info("", "", "gateway listening", map[string]interface{}{
			"addr": s.httpServer.Addr,
		})
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	s.log.Info("", "", "gateway shutting down", nil)
	return s.httpServer.Shutdown(shutdownCtx)
}

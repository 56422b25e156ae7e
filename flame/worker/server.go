// Package worker is the Flame executor. Each operation request covers one
// key range of the input table: the worker scans it from the KVS, applies
// the named function and writes the results back in one batch.
package worker

import (
	"context"
	"io/ioutil"
	"net"
	"net/http"
	"sync"

	"github.com/eepycrawl/flamekv/coordinator"
	"github.com/eepycrawl/flamekv/kv/client"
	"github.com/eepycrawl/flamekv/kv/config"
	"github.com/eepycrawl/flamekv/kv/util/idgen"
	"github.com/eepycrawl/flamekv/pkg/apiutil"
	"github.com/gorilla/mux"
	"github.com/pingcap/errors"
	"github.com/pingcap/log"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/unrolled/render"
	"go.uber.org/zap"
)

// Server serves the operation routes and heartbeats the Flame coordinator.
type Server struct {
	cfg *config.Config
	id  string
	rd  *render.Render
	hc  *http.Client

	mu      sync.Mutex
	clients map[string]*client.Client

	listener net.Listener
	httpSrv  *http.Server
	wg       sync.WaitGroup
	cancel   context.CancelFunc
}

func NewServer(cfg *config.Config) *Server {
	return &Server{
		cfg:     cfg,
		id:      idgen.NewWorkerID(),
		rd:      apiutil.NewRender(),
		hc:      &http.Client{},
		clients: make(map[string]*client.Client),
	}
}

func (s *Server) ID() string {
	return s.id
}

// Addr is the bound listen address once Run has been called.
func (s *Server) Addr() string {
	if s.listener == nil {
		return s.cfg.Server.Addr
	}
	return s.listener.Addr().String()
}

// kvsClient returns the shared client of a KVS coordinator.
func (s *Server) kvsClient(coordinatorAddr string) *client.Client {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.clients[coordinatorAddr]
	if !ok {
		c = client.NewWithHTTPClient(coordinatorAddr, s.hc)
		s.clients[coordinatorAddr] = c
	}
	return c
}

func (s *Server) Handler() http.Handler {
	router := mux.NewRouter()
	for _, op := range operations() {
		router.HandleFunc(op.Path, s.operationHandler(op)).Methods("POST")
	}
	router.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		s.rd.Text(w, http.StatusOK, "Flame worker "+s.id)
	}).Methods("GET")
	router.Handle("/metrics", promhttp.Handler()).Methods("GET")
	return apiutil.NewHandler("flame-worker", router)
}

func (s *Server) readBody(w http.ResponseWriter, r *http.Request) ([]byte, error) {
	body, err := ioutil.ReadAll(http.MaxBytesReader(w, r.Body, int64(s.cfg.Server.MaxBodySize)))
	return body, errors.WithStack(err)
}

// Run binds the listen address, starts pinging the coordinator and serves
// until ctx is cancelled or Close is called.
func (s *Server) Run(ctx context.Context) error {
	l, err := net.Listen("tcp", s.cfg.Server.Addr)
	if err != nil {
		return errors.Annotatef(err, "listen on %s", s.cfg.Server.Addr)
	}
	s.listener = l
	port := l.Addr().(*net.TCPAddr).Port

	ctx, s.cancel = context.WithCancel(ctx)
	s.httpSrv = &http.Server{Handler: s.Handler()}

	if s.cfg.Server.Coordinator != "" {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			coordinator.RunHeartbeat(ctx, s.hc, s.cfg.Server.Coordinator, s.id, port, s.cfg.Server.HeartbeatInterval.Duration)
		}()
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		<-ctx.Done()
		s.httpSrv.Close()
	}()

	log.Info("flame worker started", zap.String("id", s.id), zap.String("addr", l.Addr().String()))

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.httpSrv.Serve(l); err != nil && err != http.ErrServerClosed {
			log.Error("flame worker serve failed", zap.Error(err))
		}
	}()
	return nil
}

func (s *Server) Close() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
	log.Info("flame worker stopped", zap.String("id", s.id))
}

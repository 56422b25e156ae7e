package server

import (
	"context"
	"embed"
	"net"
	"net/http"
	"path/filepath"
	"strings"
	"sync"

	"github.com/eepycrawl/flamekv/coordinator"
	"github.com/eepycrawl/flamekv/kv/config"
	"github.com/eepycrawl/flamekv/kv/storage"
	"github.com/eepycrawl/flamekv/kv/util"
	"github.com/eepycrawl/flamekv/kv/util/idgen"
	"github.com/eepycrawl/flamekv/pkg/apiutil"
	"github.com/gorilla/mux"
	"github.com/pingcap/errors"
	"github.com/pingcap/log"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/unrolled/render"
	"go.uber.org/zap"
)

//go:embed templates/*.tmpl
var templates embed.FS

const idFileName = "id"

// Server is a KVS worker: it owns a Container of tables and serves them
// over HTTP, heartbeats the coordinator and forwards writes to replicas.
type Server struct {
	cfg   *config.Config
	id    string
	store storage.Datastore
	rd    *render.Render
	hc    *http.Client

	replicas *replicaManager

	listener net.Listener
	httpSrv  *http.Server
	wg       sync.WaitGroup
	cancel   context.CancelFunc
}

// NewServer prepares the data directory, loads or creates the worker ID and
// opens the storage backends.
func NewServer(cfg *config.Config) (*Server, error) {
	if err := util.EnsureDir(cfg.Storage.DataDir); err != nil {
		return nil, errors.Annotatef(err, "create data dir %s", cfg.Storage.DataDir)
	}
	id, err := loadOrCreateID(cfg.Storage.DataDir)
	if err != nil {
		return nil, err
	}
	store, err := storage.NewContainer(cfg.Storage.DataDir, cfg.Storage.RowCompression == config.CompressionLZ4)
	if err != nil {
		return nil, err
	}
	s := &Server{
		cfg:   cfg,
		id:    id,
		store: store,
		rd:    newRender(),
		hc:    &http.Client{},
	}
	s.replicas = newReplicaManager(s.id, cfg, s.hc)
	return s, nil
}

func newRender() *render.Render {
	return render.New(render.Options{
		IndentJSON: true,
		Directory:  "templates",
		Asset:      templates.ReadFile,
		AssetNames: func() []string {
			entries, err := templates.ReadDir("templates")
			if err != nil {
				return nil
			}
			names := make([]string, 0, len(entries))
			for _, e := range entries {
				names = append(names, "templates/"+e.Name())
			}
			return names
		},
	})
}

func loadOrCreateID(dataDir string) (string, error) {
	path := filepath.Join(dataDir, idFileName)
	data, err := util.ReadFileIfExists(path)
	if err != nil {
		return "", err
	}
	if id := strings.TrimSpace(string(data)); id != "" {
		if !idgen.Valid(id) {
			return "", errors.Errorf("invalid worker id %q in %s", id, path)
		}
		return id, nil
	}
	id := idgen.NewWorkerID()
	if err = util.WriteFileAtomic(path, []byte(id)); err != nil {
		return "", err
	}
	log.Info("generated worker id", zap.String("id", id), zap.String("path", path))
	return id, nil
}

func (s *Server) ID() string {
	return s.id
}

// Store exposes the datastore, used by tests.
func (s *Server) Store() storage.Datastore {
	return s.store
}

// Addr is the bound listen address once Run has been called.
func (s *Server) Addr() string {
	if s.listener == nil {
		return s.cfg.Server.Addr
	}
	return s.listener.Addr().String()
}

// Handler builds the HTTP routes. Path variables arrive escaped so that row
// keys may contain slashes.
func (s *Server) Handler() http.Handler {
	router := mux.NewRouter().UseEncodedPath()

	router.HandleFunc("/", s.handleTables).Methods("GET")
	router.HandleFunc("/view/{table}", s.handleView).Methods("GET")

	router.HandleFunc("/data/{table}", s.handleScan).Methods("GET")
	router.HandleFunc("/data/{table}", s.handlePutRow).Methods("PUT")
	router.HandleFunc("/data/{table}/{row}", s.handleGetRow).Methods("GET")
	router.HandleFunc("/data/{table}/{row}/{column}", s.handleGetCell).Methods("GET")
	router.HandleFunc("/data/{table}/{row}/{column}", s.handlePutCell).Methods("PUT")
	router.HandleFunc("/append/{table}/{row}/{column}", s.handleAppend).Methods("PUT")

	router.HandleFunc("/batch/put/{table}", s.handleBatchPut).Methods("PUT")
	router.HandleFunc("/batch/append/{table}", s.handleBatchAppend).Methods("PUT")
	router.HandleFunc("/batch/get/{table}/{column}", s.handleBatchGet).Methods("POST")

	router.HandleFunc("/delete/{table}", s.handleDelete).Methods("PUT")
	router.HandleFunc("/rename/{table}", s.handleRename).Methods("PUT")
	router.HandleFunc("/count/{table}", s.handleCount).Methods("GET")

	router.Handle("/metrics", promhttp.Handler()).Methods("GET")
	return apiutil.NewHandler("kvs-worker", router)
}

// Run binds the listen address, starts the background loops and serves
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
		s.replicas.start(ctx, &s.wg)
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		<-ctx.Done()
		s.httpSrv.Close()
	}()

	log.Info("kvs worker started",
		zap.String("id", s.id),
		zap.String("addr", l.Addr().String()),
		zap.String("data-dir", s.cfg.Storage.DataDir),
		zap.Int("replicas", s.cfg.Storage.Replicas))

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.httpSrv.Serve(l); err != nil && err != http.ErrServerClosed {
			log.Error("kvs worker serve failed", zap.Error(err))
		}
	}()
	return nil
}

// Close stops serving, drains the replica queue and closes the store.
func (s *Server) Close() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
	s.replicas.stop()
	if err := s.store.Close(); err != nil {
		log.Warn("close store failed", zap.Error(err))
	}
	log.Info("kvs worker stopped", zap.String("id", s.id))
}

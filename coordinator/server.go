package coordinator

import (
	"context"
	"embed"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/eepycrawl/flamekv/pkg/apiutil"
	"github.com/gorilla/mux"
	"github.com/pingcap/errcode"
	"github.com/pingcap/errors"
	"github.com/pingcap/log"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/unrolled/render"
	"go.uber.org/zap"
)

//go:embed templates/*.tmpl
var templates embed.FS

// NewRender returns a renderer that also knows the membership page template.
func NewRender() *render.Render {
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

// Server is the HTTP face of a Membership. Name labels the page title and
// the metrics of this coordinator.
type Server struct {
	name       string
	membership *Membership
	rd         *render.Render
	router     *mux.Router

	listener net.Listener
	httpSrv  *http.Server
	wg       sync.WaitGroup
	cancel   context.CancelFunc
}

func NewServer(name string, ttl time.Duration) *Server {
	s := &Server{
		name:       name,
		membership: NewMembership(ttl),
		rd:         NewRender(),
		router:     mux.NewRouter(),
	}
	s.router.HandleFunc("/ping", s.handlePing).Methods("GET")
	s.router.HandleFunc("/workers", s.handleWorkers).Methods("GET")
	s.router.HandleFunc("/", s.handleIndex).Methods("GET")
	s.router.Handle("/metrics", promhttp.Handler()).Methods("GET")
	return s
}

func (s *Server) Membership() *Membership {
	return s.membership
}

// Router lets a coordinator with extra endpoints register them.
func (s *Server) Router() *mux.Router {
	return s.router
}

func (s *Server) Render() *render.Render {
	return s.rd
}

// Handler returns the router wrapped in the common middleware.
func (s *Server) Handler() http.Handler {
	return apiutil.NewHandler(s.name, s.router)
}

// Run binds addr and serves until ctx is cancelled or Close is called.
func (s *Server) Run(ctx context.Context, addr string) error {
	l, err := net.Listen("tcp", addr)
	if err != nil {
		return errors.Annotatef(err, "listen on %s", addr)
	}
	s.listener = l
	ctx, s.cancel = context.WithCancel(ctx)
	s.httpSrv = &http.Server{Handler: s.Handler()}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		<-ctx.Done()
		s.httpSrv.Close()
	}()

	log.Info("coordinator started", zap.String("name", s.name), zap.String("addr", l.Addr().String()))

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.httpSrv.Serve(l); err != nil && err != http.ErrServerClosed {
			log.Error("coordinator serve failed", zap.String("name", s.name), zap.Error(err))
		}
	}()
	return nil
}

// Addr is the bound address once Run has been called.
func (s *Server) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

func (s *Server) Close() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
	log.Info("coordinator stopped", zap.String("name", s.name))
}

func (s *Server) handlePing(w http.ResponseWriter, r *http.Request) {
	id := r.URL.Query().Get("id")
	portStr := r.URL.Query().Get("port")
	if id == "" || portStr == "" {
		apiutil.ErrorResp(s.rd, w, errcode.NewInvalidInputErr(errors.New("id and port are required")))
		return
	}
	port, err := strconv.Atoi(portStr)
	if err != nil || port <= 0 || port > 65535 {
		apiutil.ErrorResp(s.rd, w, errcode.NewInvalidInputErr(errors.Errorf("invalid port %q", portStr)))
		return
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	addr := net.JoinHostPort(host, strconv.Itoa(port))
	s.membership.Ping(id, addr)
	log.Debug("worker pinged", zap.String("coordinator", s.name), zap.String("id", id), zap.String("addr", addr))
	membershipGauge.WithLabelValues(s.name).Set(float64(s.membership.Len()))
	s.rd.Text(w, http.StatusOK, "OK")
}

func (s *Server) handleWorkers(w http.ResponseWriter, r *http.Request) {
	workers := s.membership.Workers()
	membershipGauge.WithLabelValues(s.name).Set(float64(len(workers)))
	s.rd.Text(w, http.StatusOK, FormatWorkers(workers))
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	s.rd.HTML(w, http.StatusOK, "workers", map[string]interface{}{
		"Title":   s.name,
		"Workers": s.membership.Workers(),
	})
}

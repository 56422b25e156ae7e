// Package coordinator is the Flame coordinator: it tracks Flame workers
// like the KVS coordinator tracks KVS workers, and runs submitted jobs as
// drivers against them.
package coordinator

import (
	"context"
	"net/http"
	"strings"

	base "github.com/eepycrawl/flamekv/coordinator"
	"github.com/eepycrawl/flamekv/flame"
	"github.com/eepycrawl/flamekv/kv/client"
	"github.com/eepycrawl/flamekv/kv/config"
	"github.com/google/uuid"
	"github.com/pingcap/errors"
	"github.com/pingcap/log"
	"go.uber.org/zap"
)

// RunIDHeader carries the ID of a job run in the submit response.
const RunIDHeader = "X-Run-ID"

type Server struct {
	*base.Server
	cfg *config.Config
	kvs *client.Client
}

func NewServer(cfg *config.Config) *Server {
	s := &Server{
		Server: base.NewServer("flame-coordinator", cfg.Server.WorkerTTL.Duration),
		cfg:    cfg,
		kvs:    client.New(cfg.Flame.KVSCoordinator),
	}
	s.Router().HandleFunc("/submit", s.handleSubmit).Methods("POST")
	return s
}

// liveWorkers reads the Flame workers from the in-process membership.
func (s *Server) liveWorkers(context.Context) ([]string, error) {
	return flame.MembershipAddrs(s.Membership().Workers()), nil
}

// splitArgs turns a submit body into job arguments, one per line.
func splitArgs(body string) []string {
	body = strings.TrimRight(strings.ReplaceAll(body, "\r\n", "\n"), "\n")
	if body == "" {
		return nil
	}
	return strings.Split(body, "\n")
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	job := r.URL.Query().Get("job")
	if job == "" {
		s.Render().Text(w, http.StatusBadRequest, "missing job")
		return
	}
	if _, ok := flame.LookupJob(job); !ok {
		s.Render().Text(w, http.StatusNotFound, "unknown job "+job)
		return
	}
	body, err := readAll(w, r, int64(s.cfg.Server.MaxBodySize))
	if err != nil {
		s.Render().Text(w, http.StatusBadRequest, err.Error())
		return
	}

	runID := uuid.New().String()
	w.Header().Set(RunIDHeader, runID)
	log.Info("job submitted", zap.String("job", job), zap.String("run-id", runID))

	fc := flame.NewContext(job, s.kvs, s.liveWorkers)
	out, err := flame.RunJob(r.Context(), fc, job, splitArgs(string(body)))
	if err != nil {
		log.Warn("job run failed", zap.String("job", job), zap.String("run-id", runID), zap.Error(err))
		if _, unknown := errors.Cause(err).(flame.UnknownJobErr); unknown {
			s.Render().Text(w, http.StatusNotFound, err.Error())
			return
		}
		s.Render().Text(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.Render().Text(w, http.StatusOK, out)
}

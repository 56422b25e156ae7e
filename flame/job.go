package flame

import (
	"context"
	"sort"
	"sync"

	"github.com/pingcap/errors"
	"github.com/pingcap/log"
	"go.uber.org/zap"
)

// Job is a driver program. It reports its result through fc.Output.
type Job func(ctx context.Context, fc *Context, args []string) error

var jobs = struct {
	sync.RWMutex
	m map[string]Job
}{m: make(map[string]Job)}

// RegisterJob makes a job runnable by name. It panics on duplicates.
func RegisterJob(name string, job Job) {
	jobs.Lock()
	defer jobs.Unlock()
	if _, dup := jobs.m[name]; dup {
		panic("flame: duplicate job " + name)
	}
	jobs.m[name] = job
}

func LookupJob(name string) (Job, bool) {
	jobs.RLock()
	defer jobs.RUnlock()
	job, ok := jobs.m[name]
	return job, ok
}

func JobNames() []string {
	jobs.RLock()
	defer jobs.RUnlock()
	names := make([]string, 0, len(jobs.m))
	for name := range jobs.m {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// UnknownJobErr is returned by RunJob for a name nobody registered.
type UnknownJobErr struct {
	Name string
}

func (e UnknownJobErr) Error() string {
	return "unknown job " + e.Name
}

// RunJob runs the named job on fc and returns its output.
func RunJob(ctx context.Context, fc *Context, name string, args []string) (string, error) {
	job, ok := LookupJob(name)
	if !ok {
		return "", UnknownJobErr{Name: name}
	}
	log.Info("job started", zap.String("job", name), zap.Strings("args", args))
	if err := job(ctx, fc, args); err != nil {
		jobCounter.WithLabelValues(name, "fail").Inc()
		log.Warn("job failed", zap.String("job", name), zap.Error(err))
		return "", errors.Annotatef(err, "job %s", name)
	}
	jobCounter.WithLabelValues(name, "ok").Inc()
	log.Info("job finished", zap.String("job", name))
	return fc.Result(), nil
}

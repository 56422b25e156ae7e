package coordinator

import (
	"bytes"
	"context"
	"io/ioutil"
	"net/http"
	"net/url"
	"strings"

	"github.com/pingcap/errors"
)

func readAll(w http.ResponseWriter, r *http.Request, limit int64) ([]byte, error) {
	body, err := ioutil.ReadAll(http.MaxBytesReader(w, r.Body, limit))
	return body, errors.WithStack(err)
}

// SubmitResult is the answer of a coordinator to a job submission.
type SubmitResult struct {
	RunID  string
	Output string
}

// Submit runs job on the Flame coordinator at addr and waits for its output.
func Submit(ctx context.Context, hc *http.Client, addr, job string, args []string) (*SubmitResult, error) {
	u := "http://" + addr + "/submit?" + url.Values{"job": {job}}.Encode()
	req, err := http.NewRequest(http.MethodPost, u, bytes.NewReader([]byte(strings.Join(args, "\n"))))
	if err != nil {
		return nil, errors.WithStack(err)
	}
	resp, err := hc.Do(req.WithContext(ctx))
	if err != nil {
		return nil, errors.Annotatef(err, "submit %s to %s", job, addr)
	}
	defer resp.Body.Close()
	data, err := ioutil.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, errors.Errorf("job %s: status %d: %s", job, resp.StatusCode, bytes.TrimSpace(data))
	}
	return &SubmitResult{RunID: resp.Header.Get(RunIDHeader), Output: string(data)}, nil
}

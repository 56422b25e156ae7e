package apiutil

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/pingcap/errcode"
	"github.com/pingcap/errors"
	"github.com/stretchr/testify/assert"
)

func TestErrorResp(t *testing.T) {
	rd := NewRender()

	w := httptest.NewRecorder()
	ErrorResp(rd, w, errors.WithStack(errcode.NewNotFoundErr(errors.New("no such table"))))
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Contains(t, w.Body.String(), "no such table")
	assert.Equal(t, "missing", w.Header().Get(ErrorCodeHeader))

	w = httptest.NewRecorder()
	ErrorResp(rd, w, errcode.NewInvalidInputErr(errors.New("bad")))
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = httptest.NewRecorder()
	ErrorResp(rd, w, errors.New("boom"))
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, "boom", w.Body.String())

	w = httptest.NewRecorder()
	ErrorResp(rd, w, nil)
	assert.Equal(t, http.StatusInternalServerError, w.Code)
}

func TestHandlerRecovers(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/panic", func(http.ResponseWriter, *http.Request) { panic("oops") })
	mux.HandleFunc("/ok", func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusTeapot) })
	h := NewHandler("test", mux)

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest("GET", "/panic", nil))
	assert.Equal(t, http.StatusInternalServerError, w.Code)

	w = httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest("GET", "/ok", nil))
	assert.Equal(t, http.StatusTeapot, w.Code)
}

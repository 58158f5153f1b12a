package prometheus

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/pkg/errors"
	"github.com/versafe/versafe/runtime"
	"github.com/versafe/versafe/testing/assert"
	"github.com/versafe/versafe/testing/require"
)

type stubService struct {
	status error
}

func (s *stubService) Start()        {}
func (s *stubService) Stop() error   { return nil }
func (s *stubService) Status() error { return s.status }

type failingService struct {
	status error
}

func (s *failingService) Start()        {}
func (s *failingService) Stop() error   { return nil }
func (s *failingService) Status() error { return s.status }

func TestHealthz(t *testing.T) {
	registry := runtime.NewServiceRegistry()
	require.NoError(t, registry.RegisterService(&stubService{}))
	s := NewService(":0", registry)

	rec := httptest.NewRecorder()
	s.healthzHandler(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Equal(t, true, strings.Contains(string(body), "OK"))

	require.NoError(t, registry.RegisterService(&failingService{status: errors.New("outbox backed up")}))
	rec = httptest.NewRecorder()
	s.healthzHandler(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	body, err = io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Equal(t, true, strings.Contains(string(body), "outbox backed up"))
}

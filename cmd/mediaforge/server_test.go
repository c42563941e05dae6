package main

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/mediaforge/mediaforge/artifact"
	"github.com/mediaforge/mediaforge/output"
)

func newArtifactTestServer(t *testing.T) *Server {
	t.Helper()
	store := artifact.NewMemoryStore()
	router, err := output.NewRouter(store, nil, output.DefaultConfig(), zap.NewNop())
	require.NoError(t, err)
	return &Server{artifacts: store, router: router, logger: zap.NewNop()}
}

func serveArtifact(s *Server, token string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/artifacts/"+token, nil)
	req.SetPathValue("token", token)
	rec := httptest.NewRecorder()
	s.handleServeArtifact(rec, req)
	return rec
}

func TestHandleServeArtifact_LeasedToken(t *testing.T) {
	t.Parallel()
	s := newArtifactTestServer(t)

	art, err := s.artifacts.Write(context.Background(), []byte("mp4 bytes"), artifact.MediaVideo)
	require.NoError(t, err)
	lease := s.router.Leases().Grant(art.ID, time.Minute)

	rec := serveArtifact(s, lease.Token)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "video/mp4", rec.Header().Get("Content-Type"))
	assert.Equal(t, "mp4 bytes", rec.Body.String())
}

func TestHandleServeArtifact_GoneLease(t *testing.T) {
	t.Parallel()
	s := newArtifactTestServer(t)

	rec := serveArtifact(s, "never-granted")
	assert.Equal(t, http.StatusGone, rec.Code)

	art, err := s.artifacts.Write(context.Background(), []byte("png bytes"), artifact.MediaImage)
	require.NoError(t, err)
	lease := s.router.Leases().Grant(art.ID, time.Minute)
	s.router.Leases().Revoke(lease.Token)

	rec = serveArtifact(s, lease.Token)
	assert.Equal(t, http.StatusGone, rec.Code)
}

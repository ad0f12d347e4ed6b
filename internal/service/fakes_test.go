package service_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/LeventeLantos/whatsapp-dispatch/internal/model"
	"github.com/LeventeLantos/whatsapp-dispatch/internal/repo"
	"github.com/LeventeLantos/whatsapp-dispatch/internal/service"
)

type fakeGateway struct {
	mu sync.Mutex

	uploadID  string
	uploadErr error
	mediaID   string
	mediaErr  error
	textID    string
	textErr   error

	uploads    []string
	mediaFiles []string
	textBodies []string
}

var _ service.Gateway = (*fakeGateway)(nil)

func (g *fakeGateway) UploadFile(_ context.Context, fileURL, _ string) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.uploads = append(g.uploads, fileURL)
	return g.uploadID, g.uploadErr
}

func (g *fakeGateway) SendMedia(_ context.Context, _, fileID string) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.mediaFiles = append(g.mediaFiles, fileID)
	return g.mediaID, g.mediaErr
}

func (g *fakeGateway) SendText(_ context.Context, _, text string) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.textBodies = append(g.textBodies, text)
	return g.textID, g.textErr
}

func (g *fakeGateway) calls() (uploads, media, texts int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.uploads), len(g.mediaFiles), len(g.textBodies)
}

type passthroughResolver struct{}

var _ service.AttachmentResolver = passthroughResolver{}

func (passthroughResolver) Resolve(_ context.Context, ref string) (string, error) {
	if ref == "" {
		return "", errors.New("empty ref")
	}
	return "https://files.example.com/" + ref, nil
}

// multipleMatchRepo simulates a store whose uniqueness invariant was broken
// outside this service.
type multipleMatchRepo struct {
	repo.MessageRepository
}

func (multipleMatchRepo) UpdateStatusByGatewayID(context.Context, string, model.Status) (model.Message, error) {
	return model.Message{}, repo.ErrMultipleMatch
}

func createPending(t *testing.T, r repo.MessageRepository, req model.OutboundRequest) model.Message {
	t.Helper()
	m := model.NewOutbound(req)
	if err := r.Create(context.Background(), &m); err != nil {
		t.Fatalf("Create() error: %v", err)
	}
	return m
}

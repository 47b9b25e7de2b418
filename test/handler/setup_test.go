package handler_test

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
	"github.com/xxxsen/common/webapi"

	"github.com/xxxsen/docask/internal/ai"
	"github.com/xxxsen/docask/internal/chunker"
	"github.com/xxxsen/docask/internal/config"
	"github.com/xxxsen/docask/internal/extract"
	"github.com/xxxsen/docask/internal/filestore"
	"github.com/xxxsen/docask/internal/handler"
	"github.com/xxxsen/docask/internal/middleware"
	"github.com/xxxsen/docask/internal/pipeline"
	"github.com/xxxsen/docask/internal/pkg/jwt"
	"github.com/xxxsen/docask/internal/rag"
	"github.com/xxxsen/docask/internal/repo"
	"github.com/xxxsen/docask/internal/service"
	"github.com/xxxsen/docask/internal/task"
	"github.com/xxxsen/docask/test/testutil"
)

const (
	embedDim   = 1536
	fakeAnswer = "According to the notes, alpha comes first [1]."
)

// fakeEmbedder maps every text to the same unit vector, so chunks stored
// by the pipeline always match later queries with similarity 1.
type fakeEmbedder struct{}

func (fakeEmbedder) Embed(ctx context.Context, text string, taskType string) ([]float32, error) {
	v := make([]float32, embedDim)
	v[0] = 1
	return v, nil
}

func (f fakeEmbedder) EmbedBatch(ctx context.Context, texts []string, taskType string) ([][]float32, error) {
	out := make([][]float32, 0, len(texts))
	for range texts {
		vec, _ := f.Embed(ctx, "", taskType)
		out = append(out, vec)
	}
	return out, nil
}

func (fakeEmbedder) ModelName() string { return "fake-embed" }

type fakeChat struct {
	mu    sync.Mutex
	calls int
}

func (f *fakeChat) Complete(ctx context.Context, msgs []ai.Message) (*ai.ChatResult, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	return &ai.ChatResult{Content: fakeAnswer, Model: "fake-model"}, nil
}

type routerEnv struct {
	router http.Handler
	conn   *sql.DB
	secret []byte
}

func setupRouter(t *testing.T) *routerEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	conn, closer := testutil.OpenTestDB(t)
	t.Cleanup(closer)

	docRepo := repo.NewDocumentRepo(conn)
	chunkRepo := repo.NewChunkRepo(conn)
	convRepo := repo.NewConversationRepo(conn)
	msgRepo := repo.NewMessageRepo(conn)
	citeRepo := repo.NewCitationRepo(conn)

	store, err := filestore.New(config.FileStoreConfig{
		Type: "local",
		Data: map[string]interface{}{"dir": t.TempDir()},
	})
	require.NoError(t, err)

	runner := task.NewRunner(2)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = runner.Shutdown(ctx)
	})
	coord, err := pipeline.New(docRepo, chunkRepo, store, extract.New(nil),
		chunker.New(200, 40), fakeEmbedder{}, runner, pipeline.Options{
			Retry:          task.RetryPolicy{MaxAttempts: 2, BaseDelay: 10 * time.Millisecond, MaxDelay: 50 * time.Millisecond},
			EmbedDimension: embedDim,
		})
	require.NoError(t, err)

	spaces := service.NewSpaceService(repo.NewSpaceRepo(conn))
	documents := service.NewDocumentService(docRepo, spaces, store, coord, 64*1024, 0, 2)
	retriever := rag.NewRetriever(fakeEmbedder{}, chunkRepo, 5, 0.5)
	chat := service.NewChatService(spaces, convRepo, msgRepo, citeRepo, retriever, &fakeChat{}, 5*time.Second, 3)

	secret := []byte("test-secret")
	deps := handler.RouterDeps{
		Spaces:    handler.NewSpaceHandler(spaces),
		Documents: handler.NewDocumentHandler(documents, 64*1024),
		Chat:      handler.NewChatHandler(chat),
		JWTSecret: secret,
		AskWindow: time.Minute,
	}
	engine, err := webapi.NewEngine(
		"/api/v1",
		"",
		webapi.WithRegister(func(group *gin.RouterGroup) {
			handler.RegisterRoutes(group, deps)
		}),
		webapi.WithExtraMiddlewares(
			middleware.RequestID(),
			middleware.CORS(nil),
		),
	)
	require.NoError(t, err)
	return &routerEnv{router: engine, conn: conn, secret: secret}
}

// newUser mints a token for a fresh user and arranges for everything the
// user creates to cascade away with their spaces.
func (e *routerEnv) newUser(t *testing.T) (string, string) {
	t.Helper()
	userID := testutil.NewID(t)
	token, err := jwt.GenerateToken(userID, "user@example.com", e.secret, time.Hour)
	require.NoError(t, err)
	t.Cleanup(func() {
		_, _ = e.conn.Exec(`DELETE FROM spaces WHERE user_id = $1`, userID)
	})
	return userID, token
}

func (e *routerEnv) doJSON(t *testing.T, method, target, token string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(payload)
	}
	req := httptest.NewRequest(method, target, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp := httptest.NewRecorder()
	e.router.ServeHTTP(resp, req)
	require.Equal(t, http.StatusOK, resp.Code)
	return resp
}

// decodeEnvelope unpacks the {code, message, data} wrapper and, when out is
// given, the data payload into it. It returns the envelope code.
func decodeEnvelope(t *testing.T, resp *httptest.ResponseRecorder, out interface{}) int {
	t.Helper()
	var envelope struct {
		Code int             `json:"code"`
		Data json.RawMessage `json:"data"`
	}
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &envelope))
	if out != nil && len(envelope.Data) > 0 {
		require.NoError(t, json.Unmarshal(envelope.Data, out))
	}
	return envelope.Code
}

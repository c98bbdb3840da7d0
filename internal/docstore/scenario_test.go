package docstore

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"tacita/internal/detect"
	dErrors "tacita/pkg/domain-errors"
	"tacita/pkg/platform/tx"
	"tacita/pkg/testutil"
)

func newScenarioService(ceiling int64) (*Service, *InMemoryStore) {
	store := NewInMemoryStore()
	svc := NewService(ServiceParams{
		Store:         store,
		Detections:    detect.NewInMemoryRecordStore(),
		Engine:        detect.NewEngine(nil, detect.DefaultOptions()),
		Embedder:      NewLocalEmbedder(64),
		Index:         NewVecIndex(),
		Runner:        tx.NoopRunner{},
		Chunker:       NewChunker(200, 100, 20),
		Logger:        slog.New(slog.NewTextHandler(io.Discard, nil)),
		Ceiling:       ceiling,
		MinSimilarity: 0.01,
		DefaultTTL:    time.Hour,
	})
	return svc, store
}

func TestCapacityCeilingScenario(t *testing.T) {
	ctx := context.Background()
	const ceiling = 5
	service, store := newScenarioService(ceiling)

	testutil.Given(t, "a store filled to its capacity ceiling", func(t *testing.T) {
		for i := 0; i < ceiling; i++ {
			_, err := service.AddDocument(ctx, AddRequest{
				SubjectID: "u1",
				Text:      fmt.Sprintf("document number %d with some body text", i),
			})
			require.NoError(t, err)
		}
	})

	testutil.When(t, "one more document arrives", func(t *testing.T) {
		_, err := service.AddDocument(ctx, AddRequest{SubjectID: "u1", Text: "the straw"})
		require.Error(t, err)
		require.True(t, dErrors.HasCode(err, dErrors.CodeCapacityExceeded))
	})

	testutil.Then(t, "the store still holds exactly the ceiling", func(t *testing.T) {
		count, err := store.Count(ctx)
		require.NoError(t, err)
		require.Equal(t, int64(ceiling), count)
	})
}

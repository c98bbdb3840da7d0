package docstore

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"tacita/internal/detect"
	"tacita/pkg/domain"
	dErrors "tacita/pkg/domain-errors"
	"tacita/pkg/platform/sentinel"
	"tacita/pkg/platform/tx"
)

const embedConcurrency = 4

// AddRequest carries everything needed to admit one document.
// Gate, when set, is re-checked immediately before the document is
// persisted so that a consent withdrawal racing the upload loses.
// AllowRemote marks that the subject holds a remote_inference grant;
// without it chunk text never leaves the process and embedding uses
// the local fallback.
type AddRequest struct {
	SubjectID   domain.SubjectID
	Filename    string
	MIMEType    string
	Text        string
	Redact      bool
	AllowRemote bool
	Gate        func(ctx context.Context) error
}

// AddResult reports what was stored. Detections carry transient
// values for the caller's immediate use; only value-free records
// are persisted.
type AddResult struct {
	Document   Document
	Detections []detect.Detection
	Degraded   bool
}

// Service owns document admission, retrieval and deletion. The SQL
// store is the source of truth; the vector index is a derived cache
// rebuilt from chunks at startup.
type Service struct {
	store      Store
	detections detect.RecordStore
	engine     *detect.Engine
	embedder   Embedder
	remote     Embedder
	index      *VecIndex
	runner     tx.Runner
	chunker    Chunker
	logger     *slog.Logger

	ceiling int64
	count   atomic.Int64

	minSimilarity float64
	defaultTTL    time.Duration

	mu    sync.Mutex
	locks map[domain.DocumentID]*sync.Mutex
}

type ServiceParams struct {
	Store      Store
	Detections detect.RecordStore
	Engine     *detect.Engine

	// Embedder is the always-available local path. Remote, when set, is
	// used for a document only when its request carries AllowRemote.
	Embedder Embedder
	Remote   Embedder

	Index         *VecIndex
	Runner        tx.Runner
	Chunker       Chunker
	Logger        *slog.Logger
	Ceiling       int64
	MinSimilarity float64
	DefaultTTL    time.Duration
}

func NewService(p ServiceParams) *Service {
	return &Service{
		store:         p.Store,
		detections:    p.Detections,
		engine:        p.Engine,
		embedder:      p.Embedder,
		remote:        p.Remote,
		index:         p.Index,
		runner:        p.Runner,
		chunker:       p.Chunker,
		logger:        p.Logger,
		ceiling:       p.Ceiling,
		minSimilarity: p.MinSimilarity,
		defaultTTL:    p.DefaultTTL,
		locks:         make(map[domain.DocumentID]*sync.Mutex),
	}
}

// Warm loads the document count and rebuilds the vector index from
// persisted chunks. Call once at startup before serving traffic.
func (s *Service) Warm(ctx context.Context) error {
	n, err := s.store.Count(ctx)
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodePersistenceFailure, "counting documents")
	}
	s.count.Store(n)

	chunks, err := s.store.AllChunks(ctx)
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodePersistenceFailure, "loading chunk embeddings")
	}
	byDoc := make(map[domain.DocumentID][]Chunk)
	for _, c := range chunks {
		byDoc[c.DocumentID] = append(byDoc[c.DocumentID], c)
	}
	for id, cs := range byDoc {
		s.index.AddDocument(id, cs)
	}
	s.logger.InfoContext(ctx, "document store warmed", "documents", n, "chunks", len(chunks))
	return nil
}

// AddDocument runs detection and embedding outside any lock or
// transaction, then persists the document, its chunks and the
// value-free detection records atomically.
func (s *Service) AddDocument(ctx context.Context, req AddRequest) (AddResult, error) {
	if req.Text == "" {
		return AddResult{}, dErrors.New(dErrors.CodeInvalidInput, "document text is empty")
	}
	if s.count.Load() >= s.ceiling {
		return AddResult{}, dErrors.Newf(dErrors.CodeCapacityExceeded, "document capacity %d reached", s.ceiling)
	}

	result, err := s.engine.Detect(ctx, req.Text)
	if err != nil {
		return AddResult{}, dErrors.Wrap(err, dErrors.CodeInternal, "detecting entities")
	}

	text := req.Text
	if req.Redact {
		text = detect.Redact(text, result.Detections)
	}

	chunks := s.chunker.Chunks(text)
	if len(chunks) == 0 {
		return AddResult{}, dErrors.New(dErrors.CodeInvalidInput, "document produced no chunks")
	}

	now := time.Now().UTC()
	doc := Document{
		ID:                 domain.NewDocumentID(),
		SubjectID:          req.SubjectID,
		Filename:           req.Filename,
		MIMEType:           req.MIMEType,
		UploadedAt:         now,
		RawByteSize:        int64(len(req.Text)),
		ChunkCount:         len(chunks),
		CreatedAt:          now,
		RetentionExpiresAt: now.Add(s.defaultTTL),
	}

	embedded, err := s.embedChunks(ctx, doc.ID, chunks, s.docEmbedder(req.AllowRemote))
	if err != nil {
		return AddResult{}, err
	}

	if req.Gate != nil {
		if err := req.Gate(ctx); err != nil {
			return AddResult{}, err
		}
	}

	// Reserve a slot before the write so concurrent uploads cannot
	// overshoot the ceiling between check and commit.
	if s.count.Add(1) > s.ceiling {
		s.count.Add(-1)
		return AddResult{}, dErrors.Newf(dErrors.CodeCapacityExceeded, "document capacity %d reached", s.ceiling)
	}

	records := make([]detect.Record, 0, len(result.Detections))
	for _, d := range result.Detections {
		records = append(records, detect.NewRecord(d, domain.ResourceDocuments, doc.ID.String(), now))
	}

	err = s.runner.RunInTx(ctx, func(ctx context.Context) error {
		if err := s.store.Insert(ctx, doc, embedded); err != nil {
			return err
		}
		return s.detections.SaveAll(ctx, records)
	})
	if err != nil {
		s.count.Add(-1)
		return AddResult{}, dErrors.Wrap(err, dErrors.CodePersistenceFailure, "persisting document")
	}

	s.index.AddDocument(doc.ID, embedded)
	s.logger.InfoContext(ctx, "document added",
		"document_id", doc.ID.String(),
		"subject_id", string(doc.SubjectID),
		"chunks", len(embedded),
		"detections", len(records),
		"degraded", result.Degraded,
	)
	return AddResult{Document: doc, Detections: result.Detections, Degraded: result.Degraded}, nil
}

// docEmbedder selects the backend for document text. The remote one is
// only ever used when the subject's remote_inference grant is in hand;
// everything else stays on the local path.
func (s *Service) docEmbedder(allowRemote bool) Embedder {
	if allowRemote && s.remote != nil {
		return s.remote
	}
	return s.embedder
}

func (s *Service) embedChunks(ctx context.Context, id domain.DocumentID, texts []string, emb Embedder) ([]Chunk, error) {
	out := make([]Chunk, len(texts))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(embedConcurrency)
	for i, text := range texts {
		g.Go(func() error {
			vec, err := emb.EmbedDocument(gctx, text)
			if err != nil {
				return err
			}
			out[i] = Chunk{DocumentID: id, Index: i, Text: text, Embedding: vec}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "embedding chunks")
	}
	return out, nil
}

func (s *Service) Get(ctx context.Context, id domain.DocumentID) (Document, error) {
	doc, err := s.store.Get(ctx, id)
	if errors.Is(err, sentinel.ErrNotFound) {
		return Document{}, dErrors.Wrap(err, dErrors.CodeNotFound, "document not found")
	}
	if err != nil {
		return Document{}, dErrors.Wrap(err, dErrors.CodePersistenceFailure, "loading document")
	}
	return doc, nil
}

func (s *Service) ListBySubject(ctx context.Context, subject domain.SubjectID) ([]Document, error) {
	docs, err := s.store.ListBySubject(ctx, subject)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodePersistenceFailure, "listing documents")
	}
	return docs, nil
}

func (s *Service) ListExpired(ctx context.Context, asOf time.Time) ([]Document, error) {
	docs, err := s.store.ListExpired(ctx, asOf)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodePersistenceFailure, "listing expired documents")
	}
	return docs, nil
}

// Delete removes the document, its chunks and its detection records
// in one transaction, then drops the vector index entries.
func (s *Service) Delete(ctx context.Context, id domain.DocumentID) error {
	lock := s.docLock(id)
	lock.Lock()
	defer lock.Unlock()

	err := s.runner.RunInTx(ctx, func(ctx context.Context) error {
		if err := s.store.Delete(ctx, id); err != nil {
			return err
		}
		_, err := s.detections.DeleteBySource(ctx, domain.ResourceDocuments, id.String())
		return err
	})
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return dErrors.Wrap(err, dErrors.CodeNotFound, "document not found")
		}
		return dErrors.Wrap(err, dErrors.CodePersistenceFailure, "deleting document")
	}

	s.count.Add(-1)
	s.index.RemoveDocument(id)
	s.logger.InfoContext(ctx, "document deleted", "document_id", id.String())
	return nil
}

// Search embeds the query and scans the in-memory index. Hits below
// the similarity floor are dropped; the remainder is diversified so
// the best chunk of each document ranks ahead of runners-up.
func (s *Service) Search(ctx context.Context, query string, k int) ([]SearchHit, error) {
	if query == "" {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "query is empty")
	}
	if k <= 0 {
		k = 5
	}
	// Queries embed in the deployment's primary space so they can match
	// remotely embedded chunks. Documents stored under the local fallback
	// trade some recall for keeping their text on host.
	queryEmbedder := s.embedder
	if s.remote != nil {
		queryEmbedder = s.remote
	}
	vec, err := queryEmbedder.EmbedQuery(ctx, query)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "embedding query")
	}

	// Oversample so diversification still has k hits to choose from.
	scored := s.index.Search(vec, k*4)

	best := make(map[domain.DocumentID]int)
	var primary, secondary []scoredHit
	for _, h := range scored {
		if h.Score < s.minSimilarity {
			continue
		}
		if _, seen := best[h.Ref.DocumentID]; !seen {
			best[h.Ref.DocumentID] = len(primary)
			primary = append(primary, h)
		} else {
			secondary = append(secondary, h)
		}
	}
	ranked := append(primary, secondary...)
	sort.SliceStable(ranked[:len(primary)], func(i, j int) bool {
		return ranked[i].Score > ranked[j].Score
	})
	if len(ranked) > k {
		ranked = ranked[:k]
	}

	hits := make([]SearchHit, 0, len(ranked))
	for _, h := range ranked {
		chunk, err := s.store.Chunk(ctx, h.Ref)
		if err != nil {
			// Index raced a delete; skip the stale entry.
			continue
		}
		hits = append(hits, SearchHit{Ref: h.Ref, Text: chunk.Text, Score: h.Score})
	}
	return hits, nil
}

// RestampExpiry recomputes every document's expiry from its creation
// time and the given TTL, used when the retention policy changes.
func (s *Service) RestampExpiry(ctx context.Context, ttl time.Duration) (int64, error) {
	n, err := s.store.RestampExpiry(ctx, ttl)
	if err != nil {
		return 0, dErrors.Wrap(err, dErrors.CodePersistenceFailure, "restamping document expiry")
	}
	return n, nil
}

func (s *Service) Count() int64 { return s.count.Load() }

func (s *Service) docLock(id domain.DocumentID) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[id]
	if !ok {
		l = &sync.Mutex{}
		s.locks[id] = l
	}
	return l
}

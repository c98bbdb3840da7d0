package docstore

import (
	"context"
	"testing"

	"github.com/stretchr/testify/suite"

	"tacita/pkg/domain"
)

type VecIndexSuite struct {
	suite.Suite
	ctx      context.Context
	embedder *LocalEmbedder
	index    *VecIndex
}

func (s *VecIndexSuite) SetupTest() {
	s.ctx = context.Background()
	s.embedder = NewLocalEmbedder(256)
	s.index = NewVecIndex()
}

func TestVecIndexSuite(t *testing.T) {
	suite.Run(t, new(VecIndexSuite))
}

func (s *VecIndexSuite) embed(text string) []float32 {
	vec, err := s.embedder.EmbedDocument(s.ctx, text)
	s.Require().NoError(err)
	return vec
}

func (s *VecIndexSuite) addDoc(id domain.DocumentID, texts ...string) {
	chunks := make([]Chunk, len(texts))
	for i, t := range texts {
		chunks[i] = Chunk{DocumentID: id, Index: i, Embedding: s.embed(t)}
	}
	s.index.AddDocument(id, chunks)
}

func (s *VecIndexSuite) TestSearchRanksRelevantChunksFirst() {
	solar := domain.NewDocumentID()
	castles := domain.NewDocumentID()
	s.addDoc(solar, "solar panels convert sunlight into electricity for the grid")
	s.addDoc(castles, "medieval castles used moats and drawbridges for defense")

	query, err := s.embedder.EmbedQuery(s.ctx, "solar electricity sunlight")
	s.Require().NoError(err)

	hits := s.index.Search(query, 2)
	s.Require().Len(hits, 2)
	s.Equal(solar, hits[0].Ref.DocumentID)
	s.Greater(hits[0].Score, hits[1].Score)
}

func (s *VecIndexSuite) TestIdenticalTextScoresHighest() {
	id := domain.NewDocumentID()
	text := "the retention enforcer sweeps expired documents nightly"
	s.addDoc(id, text)

	query, err := s.embedder.EmbedQuery(s.ctx, text)
	s.Require().NoError(err)

	hits := s.index.Search(query, 1)
	s.Require().Len(hits, 1)
	s.InDelta(1.0, hits[0].Score, 0.001)
}

func (s *VecIndexSuite) TestRemoveDocument() {
	keep := domain.NewDocumentID()
	drop := domain.NewDocumentID()
	s.addDoc(keep, "first chunk", "second chunk")
	s.addDoc(drop, "third chunk")
	s.Equal(3, s.index.Len())

	s.index.RemoveDocument(drop)
	s.Equal(2, s.index.Len())

	query, err := s.embedder.EmbedQuery(s.ctx, "third chunk")
	s.Require().NoError(err)
	for _, hit := range s.index.Search(query, 10) {
		s.NotEqual(drop, hit.Ref.DocumentID)
	}
}

func (s *VecIndexSuite) TestSearchLimitsToK() {
	id := domain.NewDocumentID()
	s.addDoc(id, "one", "two", "three", "four", "five")

	query, err := s.embedder.EmbedQuery(s.ctx, "three")
	s.Require().NoError(err)
	s.Len(s.index.Search(query, 2), 2)
}

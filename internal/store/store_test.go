package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "questions.db"), DefaultConfig(), nil)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestAddAndFindExact(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.AddQuestion(ctx, "什么是热字", "A", TypeChoice, ""))

	answer, ok, err := s.FindAnswer(ctx, "什么是热字")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "A", answer)
}

func TestFindAnswerStripsOrdinalPrefix(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.AddQuestion(ctx, "什么是热字", "A", TypeChoice, ""))

	// The raw page text carries a "1.(25分)" prefix; normalization removes it
	// and the fuzzy path finds the stored record by containment.
	answer, ok, err := s.FindAnswer(ctx, "1.(25分) 什么是热字")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "A", answer)
}

func TestFindAnswerFuzzyTokenOverlap(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.AddQuestion(ctx, "电脑编辑速度最快的方式", "B", TypeChoice, ""))

	answer, ok, err := s.FindAnswer(ctx, "最快把课文编辑到电脑里的方式")
	require.NoError(t, err)
	assert.True(t, ok, "shared tokens should score above the 0.3 floor")
	assert.Equal(t, "B", answer)
}

func TestFindAnswerThresholdIsStrict(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	// Raise the floor to exactly the substring score: a 0.8-scoring candidate
	// must NOT be returned under a strict > comparison.
	s.cfg.MinScore = 0.8

	require.NoError(t, s.AddQuestion(ctx, "什么是热字", "A", TypeChoice, ""))

	_, ok, err := s.FindAnswer(ctx, "请问 什么是热字 呢")
	require.NoError(t, err)
	assert.False(t, ok, "score equal to the threshold must be rejected")
}

func TestFindAnswerNoTokenOverlap(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.AddQuestion(ctx, "完全不同的题目内容", "C", TypeChoice, ""))

	_, ok, err := s.FindAnswer(ctx, "another question entirely")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestExactMatchIgnoresThreshold(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	s.cfg.MinScore = 0.99

	require.NoError(t, s.AddQuestion(ctx, "verbatim content", "D", TypeSubjective, ""))

	answer, ok, err := s.FindAnswer(ctx, "verbatim content")
	require.NoError(t, err)
	assert.True(t, ok, "verbatim match must not depend on the fuzzy threshold")
	assert.Equal(t, "D", answer)
}

func TestUpsertQuestion(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	created, err := s.UpsertQuestion(ctx, "什么是热字", "A", TypeChoice, "甲 乙 丙 丁")
	require.NoError(t, err)
	assert.True(t, created)

	created, err = s.UpsertQuestion(ctx, "什么是热字", "B", TypeChoice, "新选项")
	require.NoError(t, err)
	assert.False(t, created, "duplicate content updates in place")

	all, err := s.GetAll(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, "B", all[0].Answer)
	assert.Equal(t, "新选项", all[0].Keywords)
}

func TestUpdateAndDelete(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.AddQuestion(ctx, "q1", "A", TypeChoice, "kw"))
	all, err := s.GetAll(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
	id := all[0].ID

	require.NoError(t, s.UpdateQuestion(ctx, id, "B", TypeSubjective, nil))
	all, err = s.GetAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, "B", all[0].Answer)
	assert.Equal(t, TypeSubjective, all[0].Type)
	assert.Equal(t, "kw", all[0].Keywords, "nil keywords leaves the column untouched")

	require.NoError(t, s.DeleteQuestion(ctx, id))
	exists, err := s.QuestionExists(ctx, "q1")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestHandleIndependentLookup(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.AddQuestion(ctx, "什么是热字", "A", TypeChoice, ""))

	h1, err := s.Handle(ctx)
	require.NoError(t, err)
	defer h1.Close()
	h2, err := s.Handle(ctx)
	require.NoError(t, err)
	defer h2.Close()

	for _, h := range []*Handle{h1, h2} {
		answer, ok, err := h.FindAnswer(ctx, "什么是热字")
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, "A", answer)
	}
}

package importer

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/LampLure/taoshiwan-auto-answer/internal/browser"
	"github.com/LampLure/taoshiwan-auto-answer/internal/config"
	"github.com/LampLure/taoshiwan-auto-answer/internal/store"
)

func TestParseChoiceAnswer(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"正确答案：B", "B"},
		{"正确答案: bd", "BD"},
		{"参考答案：A C", "AC"},
		{"B", "B"},
		{"正确答案：", ""},
		{"", ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ParseChoiceAnswer(tt.in), "input %q", tt.in)
	}
}

func TestCleanSubjectiveAnswer(t *testing.T) {
	assert.Equal(t, "热字是高频字", CleanSubjectiveAnswer("参考答案：热字是高频字"))
	assert.Equal(t, "plain", CleanSubjectiveAnswer("  plain  "))
	assert.Equal(t, "", CleanSubjectiveAnswer("答案："))
}

type fakeElement struct {
	text     string
	children map[string][]*fakeElement
}

func (e *fakeElement) Click(ctx context.Context) error              { return nil }
func (e *fakeElement) Input(ctx context.Context, text string) error { return nil }
func (e *fakeElement) Text(ctx context.Context) (string, error)     { return e.text, nil }

func (e *fakeElement) Attribute(ctx context.Context, name string) (string, bool, error) {
	return "", false, nil
}

func (e *fakeElement) Element(ctx context.Context, selector string) (browser.Element, error) {
	if list := e.children[selector]; len(list) > 0 {
		return list[0], nil
	}
	return nil, assert.AnError
}

func (e *fakeElement) Elements(ctx context.Context, selector string) ([]browser.Element, error) {
	out := make([]browser.Element, len(e.children[selector]))
	for i, c := range e.children[selector] {
		out[i] = c
	}
	return out, nil
}

func (e *fakeElement) Eval(ctx context.Context, js string, args ...any) (string, error) {
	return "", nil
}

type fakeDriver struct {
	elements map[string][]*fakeElement
}

func (d *fakeDriver) Navigate(ctx context.Context, url string) error { return nil }
func (d *fakeDriver) Back(ctx context.Context) error                 { return nil }
func (d *fakeDriver) URL(ctx context.Context) (string, error)        { return "", nil }
func (d *fakeDriver) HTML(ctx context.Context) (string, error)       { return "", nil }

func (d *fakeDriver) Element(ctx context.Context, selector string, timeout time.Duration) (browser.Element, error) {
	if list := d.elements[selector]; len(list) > 0 {
		return list[0], nil
	}
	return nil, assert.AnError
}

func (d *fakeDriver) Elements(ctx context.Context, selector string) ([]browser.Element, error) {
	out := make([]browser.Element, len(d.elements[selector]))
	for i, e := range d.elements[selector] {
		out[i] = e
	}
	return out, nil
}

func (d *fakeDriver) Eval(ctx context.Context, js string, args ...any) (string, error) {
	return "", nil
}

func (d *fakeDriver) PID() int     { return 0 }
func (d *fakeDriver) Close() error { return nil }
func (d *fakeDriver) ForceKill()   {}

type upsert struct {
	content  string
	answer   string
	qt       store.QuestionType
	keywords string
}

type fakeBank struct {
	seen     []upsert
	existing map[string]bool
}

func (b *fakeBank) UpsertQuestion(ctx context.Context, content, answer string, qt store.QuestionType, keywords string) (bool, error) {
	b.seen = append(b.seen, upsert{content, answer, qt, keywords})
	return !b.existing[content], nil
}

func TestScrapePage(t *testing.T) {
	cfg := config.Default()
	loc := cfg.Locators

	choice := &fakeElement{children: map[string][]*fakeElement{
		loc.QuestionContent: {{text: "1.(25分) 什么是热字"}},
		loc.CorrectAnswer:   {{text: "正确答案：B"}},
		loc.ChoiceOptions:   {{text: "A. 冷门字"}, {text: "B. 高频字"}},
	}}
	subjective := &fakeElement{children: map[string][]*fakeElement{
		loc.QuestionContent: {{text: "简述多媒体作品的要素"}},
		loc.CorrectAnswer:   {{text: "参考答案：图文声像俱全"}},
	}}
	unanswered := &fakeElement{children: map[string][]*fakeElement{
		loc.QuestionContent: {{text: "没有答案的题"}},
	}}

	d := &fakeDriver{elements: map[string][]*fakeElement{
		loc.Questions: {choice, subjective, unanswered},
	}}

	bank := &fakeBank{existing: map[string]bool{"简述多媒体作品的要素": true}}
	im := New(cfg, nil, bank, nil)

	var stats Stats
	require.NoError(t, im.scrapePage(context.Background(), d, &stats))

	require.Len(t, bank.seen, 2)
	assert.Equal(t, "1.(25分) 什么是热字", bank.seen[0].content)
	assert.Equal(t, "B", bank.seen[0].answer)
	assert.Equal(t, store.TypeChoice, bank.seen[0].qt)
	assert.Equal(t, "A. 冷门字 B. 高频字", bank.seen[0].keywords)

	assert.Equal(t, "图文声像俱全", bank.seen[1].answer)
	assert.Equal(t, store.TypeSubjective, bank.seen[1].qt)

	assert.Equal(t, 1, stats.Added)
	assert.Equal(t, 1, stats.Updated)
	assert.Equal(t, 1, stats.Skipped, "question without an answer node is skipped")
}

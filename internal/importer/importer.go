// Package importer builds the question bank by walking an already-finished
// account's homework review pages, where the site displays the correct
// answers, and upserting what it finds.
package importer

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"go.uber.org/zap"

	"github.com/LampLure/taoshiwan-auto-answer/internal/accounts"
	"github.com/LampLure/taoshiwan-auto-answer/internal/browser"
	"github.com/LampLure/taoshiwan-auto-answer/internal/config"
	"github.com/LampLure/taoshiwan-auto-answer/internal/session"
	"github.com/LampLure/taoshiwan-auto-answer/internal/store"
)

// Bank receives scraped questions. *store.Store satisfies it; upsert
// semantics mean reimporting the same account never duplicates content.
type Bank interface {
	UpsertQuestion(ctx context.Context, content, answer string, qt store.QuestionType, keywords string) (created bool, err error)
}

// Stats summarizes one import run.
type Stats struct {
	Pages   int
	Added   int
	Updated int
	Skipped int
}

// Importer scrapes review pages through a logged-in session controller.
type Importer struct {
	cfg    config.Config
	ctrl   *session.Controller
	bank   Bank
	logger *zap.Logger
}

func New(cfg config.Config, ctrl *session.Controller, bank Bank, logger *zap.Logger) *Importer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Importer{cfg: cfg, ctrl: ctrl, bank: bank, logger: logger}
}

// Run signs in as acct and imports every finished homework it can open.
// The account must have completed its homework; unfinished entries have no
// answers to scrape and are skipped by the view-link locator.
func (im *Importer) Run(ctx context.Context, acct accounts.Account) (Stats, error) {
	var stats Stats

	if err := im.ctrl.Login(ctx, acct); err != nil {
		return stats, err
	}
	defer im.ctrl.Logout(ctx)

	d := im.ctrl.Driver()
	if err := d.Navigate(ctx, im.ctrl.ListURL()); err != nil {
		return stats, err
	}

	// Index-based walk with a re-fetch per pass: the list page is left and
	// re-entered for every homework, so old handles are stale.
	for i := 0; ; i++ {
		views, err := d.Elements(ctx, im.cfg.Locators.ViewButtons)
		if err != nil {
			return stats, fmt.Errorf("list finished homework: %w", err)
		}
		if i >= len(views) {
			break
		}
		if err := views[i].Click(ctx); err != nil {
			return stats, fmt.Errorf("open review page %d: %w", i+1, err)
		}

		if err := im.scrapePage(ctx, d, &stats); err != nil {
			return stats, fmt.Errorf("review page %d: %w", i+1, err)
		}
		stats.Pages++

		if err := d.Navigate(ctx, im.ctrl.ListURL()); err != nil {
			return stats, err
		}
	}

	im.logger.Info("import finished",
		zap.Int("pages", stats.Pages),
		zap.Int("added", stats.Added),
		zap.Int("updated", stats.Updated),
		zap.Int("skipped", stats.Skipped))
	return stats, nil
}

func (im *Importer) scrapePage(ctx context.Context, d browser.Driver, stats *Stats) error {
	loc := im.cfg.Locators

	questions, err := d.Elements(ctx, loc.Questions)
	if err != nil {
		return fmt.Errorf("list questions: %w", err)
	}

	for idx, q := range questions {
		content, err := elementText(ctx, q, loc.QuestionContent)
		if err != nil {
			return err
		}
		answerRaw, err := elementText(ctx, q, loc.CorrectAnswer)
		if err != nil {
			return err
		}
		if content == "" || answerRaw == "" {
			stats.Skipped++
			continue
		}

		options, err := q.Elements(ctx, loc.ChoiceOptions)
		if err != nil {
			return err
		}

		var qt store.QuestionType
		var answer, keywords string
		if len(options) > 0 {
			qt = store.TypeChoice
			answer = ParseChoiceAnswer(answerRaw)
			keywords = optionKeywords(ctx, options)
			if answer == "" {
				im.logger.Debug("no answer letters found",
					zap.Int("index", idx), zap.String("raw", answerRaw))
				stats.Skipped++
				continue
			}
		} else {
			qt = store.TypeSubjective
			answer = CleanSubjectiveAnswer(answerRaw)
			if answer == "" {
				stats.Skipped++
				continue
			}
		}

		created, err := im.bank.UpsertQuestion(ctx, content, answer, qt, keywords)
		if err != nil {
			return fmt.Errorf("store question: %w", err)
		}
		if created {
			stats.Added++
		} else {
			stats.Updated++
		}
	}
	return nil
}

func elementText(ctx context.Context, q browser.Element, selector string) (string, error) {
	el, err := q.Element(ctx, selector)
	if err != nil {
		if browser.IsSessionLoss(err) {
			return "", err
		}
		return "", nil
	}
	text, err := el.Text(ctx)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(text), nil
}

func optionKeywords(ctx context.Context, options []browser.Element) string {
	parts := make([]string, 0, len(options))
	for _, o := range options {
		if text, err := o.Text(ctx); err == nil {
			if t := strings.TrimSpace(text); t != "" {
				parts = append(parts, t)
			}
		}
	}
	return strings.Join(parts, " ")
}

var answerPrefix = regexp.MustCompile(`^(正确答案|参考答案|答案)\s*[:：]\s*`)

var answerLetters = regexp.MustCompile(`[A-Z]`)

// ParseChoiceAnswer extracts the answer letters from a review page label
// like "正确答案：BD" and returns them in page order, e.g. "BD".
func ParseChoiceAnswer(raw string) string {
	raw = answerPrefix.ReplaceAllString(strings.TrimSpace(raw), "")
	return strings.Join(answerLetters.FindAllString(strings.ToUpper(raw), -1), "")
}

// CleanSubjectiveAnswer strips the answer label prefix, keeping the body.
func CleanSubjectiveAnswer(raw string) string {
	return strings.TrimSpace(answerPrefix.ReplaceAllString(strings.TrimSpace(raw), ""))
}

package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/LampLure/taoshiwan-auto-answer/internal/browser"
)

// errHomeworkUnreachable marks a homework entry whose page exposes no
// actionable controls. The entry goes into the skip set and the account
// continues; it is never an account failure.
var errHomeworkUnreachable = errors.New("homework page exposes no actionable controls")

// setValueJS assigns a textarea's value directly and fires the events the
// page's own change tracking listens for. Returns the resulting value so the
// caller can verify the assignment took.
const setValueJS = `(v) => {
	this.value = v;
	this.dispatchEvent(new Event('input', {bubbles: true}));
	this.dispatchEvent(new Event('change', {bubbles: true}));
	return this.value;
}`

// answerHomework fills every question on the current homework page and
// submits it. Questions are addressed by index with a fresh element fetch
// per iteration; handles from before any page mutation are stale.
func (c *Controller) answerHomework(ctx context.Context) error {
	d := c.driver
	loc := c.cfg.Locators

	// A detail page interposes a start button before the questions.
	cur, err := d.URL(ctx)
	if err != nil {
		return err
	}
	if strings.Contains(cur, c.cfg.Site.DetailPageMarker) {
		el, ferr := d.Element(ctx, loc.StartHomework, c.cfg.Timeouts.ElementWait())
		if ferr != nil {
			if browser.IsSessionLoss(ferr) {
				return ferr
			}
			return errHomeworkUnreachable
		}
		if err := el.Click(ctx); err != nil {
			return fmt.Errorf("start homework: %w", err)
		}
		if err := c.step(ctx); err != nil {
			return err
		}
		if cur, err = d.URL(ctx); err != nil {
			return err
		}
	}
	// Anything that is not the answering page by now has no controls worth
	// probing for.
	if m := c.cfg.Site.HomeworkPageMarker; m != "" && !strings.Contains(cur, m) {
		return errHomeworkUnreachable
	}

	initial, err := d.Elements(ctx, loc.Questions)
	if err != nil {
		return fmt.Errorf("list questions: %w", err)
	}
	total := len(initial)
	if total == 0 {
		return errHomeworkUnreachable
	}
	c.emitLog(-1, false, fmt.Sprintf("共 %d 道题", total))

	answered := 0
	for i := 0; i < total; i++ {
		if err := c.step(ctx); err != nil {
			return err
		}

		current, err := d.Elements(ctx, loc.Questions)
		if err != nil {
			return fmt.Errorf("refetch questions: %w", err)
		}
		if i >= len(current) {
			break
		}
		q := current[i]

		done, err := c.answerQuestion(ctx, i, q)
		if err != nil {
			return fmt.Errorf("question %d: %w", i+1, err)
		}
		if done {
			answered++
		}
		c.emitProgress(100*(i+1)/total, fmt.Sprintf("第 %d/%d 题", i+1, total))
	}

	c.checkAnsweredCount(ctx, answered, total)
	return c.submit(ctx)
}

// answerQuestion fills one question. done reports whether an answer was
// actually applied; an unknown subjective question is skipped, not failed.
func (c *Controller) answerQuestion(ctx context.Context, index int, q browser.Element) (bool, error) {
	loc := c.cfg.Locators

	contentEl, err := q.Element(ctx, loc.QuestionContent)
	if err != nil {
		if browser.IsSessionLoss(err) {
			return false, err
		}
		c.logger.Debug("question content not found", zap.Int("index", index))
		return false, nil
	}
	text, err := contentEl.Text(ctx)
	if err != nil {
		return false, err
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return false, nil
	}

	answer, found, err := c.answers.FindAnswer(ctx, text)
	if err != nil {
		// A bank lookup problem must not fail the account; fall through to
		// the no-answer handling.
		c.logger.Warn("answer lookup failed", zap.Int("index", index), zap.Error(err))
		found = false
	}

	options, err := q.Elements(ctx, loc.ChoiceOptions)
	if err != nil {
		return false, err
	}
	if len(options) > 0 {
		return true, c.applyChoice(ctx, index, options, answer, found)
	}
	return c.applySubjective(ctx, index, q, answer, found)
}

// applyChoice clicks the option(s) named by answer letters ("A", "BD").
// Unknown answers pick a random option so the homework can still be
// submitted complete; out-of-range letters default to the first option.
func (c *Controller) applyChoice(ctx context.Context, index int, options []browser.Element, answer string, found bool) error {
	if !found || strings.TrimSpace(answer) == "" {
		pick := c.rng.Intn(len(options))
		c.logger.Debug("no stored answer, picking at random",
			zap.Int("index", index), zap.Int("option", pick))
		return c.clickOption(ctx, options[pick])
	}

	clicked := false
	for _, r := range strings.ToUpper(strings.TrimSpace(answer)) {
		if r < 'A' || r > 'Z' {
			continue
		}
		ord := int(r - 'A')
		if ord >= len(options) {
			ord = 0
		}
		if err := c.clickOption(ctx, options[ord]); err != nil {
			return err
		}
		clicked = true
	}
	if !clicked {
		return c.clickOption(ctx, options[c.rng.Intn(len(options))])
	}
	return nil
}

// clickOption prefers the embedded input control; some rows only toggle
// when the radio/checkbox itself is hit.
func (c *Controller) clickOption(ctx context.Context, option browser.Element) error {
	if input, err := option.Element(ctx, c.cfg.Locators.ChoiceInputs); err == nil {
		if cerr := input.Click(ctx); cerr == nil {
			return nil
		} else if browser.IsSessionLoss(cerr) {
			return cerr
		}
	} else if browser.IsSessionLoss(err) {
		return err
	}
	if err := option.Click(ctx); err != nil {
		return fmt.Errorf("click option: %w", err)
	}
	return nil
}

// applySubjective writes the stored answer into the textarea via script,
// verifies it stuck, and falls back to keystroke input when it did not.
func (c *Controller) applySubjective(ctx context.Context, index int, q browser.Element, answer string, found bool) (bool, error) {
	if !found || strings.TrimSpace(answer) == "" {
		c.logger.Debug("no stored answer for subjective question, skipping",
			zap.Int("index", index))
		return false, nil
	}

	box, err := q.Element(ctx, c.cfg.Locators.SubjectiveBox)
	if err != nil {
		if browser.IsSessionLoss(err) {
			return false, err
		}
		return false, nil
	}

	got, err := box.Eval(ctx, setValueJS, answer)
	if err == nil && got == answer {
		return true, nil
	}
	if browser.IsSessionLoss(err) {
		return false, err
	}

	c.logger.Debug("script assignment not verified, typing answer",
		zap.Int("index", index), zap.Error(err))
	if err := box.Input(ctx, answer); err != nil {
		return false, fmt.Errorf("type answer: %w", err)
	}
	return true, nil
}

// checkAnsweredCount compares our count against the page's own counter when
// one exists. A mismatch is logged, not fatal; the submit confirm dialog is
// the real gate.
func (c *Controller) checkAnsweredCount(ctx context.Context, answered, total int) {
	c.emitLog(-1, false, fmt.Sprintf("已作答 %d/%d", answered, total))

	sel := c.cfg.Locators.AnsweredCount
	if sel == "" {
		return
	}
	el, err := c.driver.Element(ctx, sel, 500*time.Millisecond)
	if err != nil {
		return
	}
	pageCount, err := el.Text(ctx)
	if err != nil {
		return
	}
	c.logger.Debug("page answered counter",
		zap.String("page", strings.TrimSpace(pageCount)),
		zap.Int("answered", answered),
		zap.Int("total", total))
}

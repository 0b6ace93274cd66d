package session

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"go.uber.org/zap"

	"github.com/LampLure/taoshiwan-auto-answer/internal/browser"
)

var (
	onclickViewID = regexp.MustCompile(`view\('([^']+)'`)
	kcidParam     = regexp.MustCompile(`kcid=([0-9A-Za-z]+)`)
)

// homeworkID derives a stable id for one homework entry from its onclick
// handler or link target. Falling back to the raw attribute keeps entries
// distinguishable even on markup we did not anticipate.
func homeworkID(onclick, href string) string {
	for _, src := range []string{onclick, href} {
		if src == "" {
			continue
		}
		if m := onclickViewID.FindStringSubmatch(src); m != nil {
			return m[1]
		}
		if m := kcidParam.FindStringSubmatch(src); m != nil {
			return m[1]
		}
	}
	if onclick != "" {
		return onclick
	}
	return href
}

// processHomework drains the account's pending homework. Elements go stale
// across navigations, so the button list is re-fetched on every pass and the
// skip set decides what is left.
func (c *Controller) processHomework(ctx context.Context) error {
	d := c.driver

	if err := d.Navigate(ctx, c.listURL()); err != nil {
		return err
	}
	// Bounded wait for the list to render; an account with nothing pending
	// simply has no rows, which is not an error.
	if _, err := d.Element(ctx, c.cfg.Locators.HomeworkRows, c.cfg.Timeouts.PageLoad()); err != nil {
		if browser.IsSessionLoss(err) {
			return err
		}
	}

	course := 0
	for {
		if err := c.step(ctx); err != nil {
			return err
		}

		target, id, err := c.nextHomework(ctx)
		if err != nil {
			return err
		}
		if target == nil {
			moved, cerr := c.openNextCourse(ctx, &course)
			if cerr != nil {
				return cerr
			}
			if !moved {
				c.logger.Debug("no pending homework left")
				return nil
			}
			continue
		}

		if err := target.Click(ctx); err != nil {
			return fmt.Errorf("open homework %s: %w", id, err)
		}
		if err := c.step(ctx); err != nil {
			return err
		}

		if err := c.answerHomework(ctx); err != nil {
			if errors.Is(err, errHomeworkUnreachable) {
				// Durable for the rest of this account's pass; retrying a
				// page with no controls would loop forever.
				c.skip[id] = struct{}{}
				c.emitLog(-1, true, fmt.Sprintf("作业 %s 无法进入，已跳过", id))
				if rerr := c.returnToList(ctx); rerr != nil {
					return rerr
				}
				continue
			}
			return err
		}

		// Only after a full submit cycle; a recovery retry must redo
		// anything that did not get this far.
		c.skip[id] = struct{}{}
		c.emitLog(-1, false, fmt.Sprintf("作业 %s 已提交", id))

		if err := c.returnToList(ctx); err != nil {
			return err
		}
	}
}

// nextHomework returns the first makeup button not yet in the skip set.
func (c *Controller) nextHomework(ctx context.Context) (browser.Element, string, error) {
	buttons, err := c.driver.Elements(ctx, c.cfg.Locators.MakeupButtons)
	if err != nil {
		return nil, "", fmt.Errorf("list homework: %w", err)
	}
	for _, b := range buttons {
		onclick, _, aerr := b.Attribute(ctx, "onclick")
		if aerr != nil {
			return nil, "", aerr
		}
		href, _, aerr := b.Attribute(ctx, "href")
		if aerr != nil {
			return nil, "", aerr
		}
		id := homeworkID(onclick, href)
		if id == "" {
			continue
		}
		if _, done := c.skip[id]; done {
			continue
		}
		return b, id, nil
	}
	return nil, "", nil
}

// openNextCourse opens the next course page, for homework the top-level
// list does not surface. Courses are addressed by index with a fresh link
// fetch per visit. Reports whether a course was opened.
func (c *Controller) openNextCourse(ctx context.Context, next *int) (bool, error) {
	sel := c.cfg.Locators.CourseLinks
	if sel == "" {
		return false, nil
	}
	d := c.driver

	if err := d.Navigate(ctx, c.listURL()); err != nil {
		return false, err
	}
	links, err := d.Elements(ctx, sel)
	if err != nil {
		return false, fmt.Errorf("list courses: %w", err)
	}
	if *next >= len(links) {
		return false, nil
	}
	link := links[*next]
	*next++

	if err := link.Click(ctx); err != nil {
		if browser.IsSessionLoss(err) {
			return false, err
		}
		c.logger.Debug("course link click failed, moving on", zap.Error(err))
	}
	if err := c.step(ctx); err != nil {
		return false, err
	}
	return true, nil
}

// returnToList puts the driver back on the homework list page. The result
// page offers a back link; failing that, browser history; failing that, a
// direct navigation.
func (c *Controller) returnToList(ctx context.Context) error {
	d := c.driver

	cur, err := d.URL(ctx)
	if err != nil {
		return err
	}
	if strings.Contains(cur, c.cfg.Site.HomeworkListMarker) {
		return nil
	}

	if strings.Contains(cur, c.cfg.Site.ResultPageMarker) {
		if el, ferr := d.Element(ctx, c.cfg.Locators.ResultBack, c.cfg.Timeouts.ElementWait()); ferr == nil {
			if cerr := el.Click(ctx); cerr == nil {
				if err := c.step(ctx); err != nil {
					return err
				}
				if cur, err = d.URL(ctx); err == nil && strings.Contains(cur, c.cfg.Site.HomeworkListMarker) {
					return nil
				}
			}
		} else if browser.IsSessionLoss(ferr) {
			return ferr
		}
	}

	if err := d.Back(ctx); err == nil {
		if cur, uerr := d.URL(ctx); uerr == nil && strings.Contains(cur, c.cfg.Site.HomeworkListMarker) {
			return nil
		}
	} else if browser.IsSessionLoss(err) {
		return err
	}

	c.logger.Debug("direct navigation back to homework list", zap.String("from", cur))
	return d.Navigate(ctx, c.listURL())
}

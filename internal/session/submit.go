package session

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/LampLure/taoshiwan-auto-answer/internal/browser"
)

// submit clicks through the submit button and its confirm dialog, then
// waits for the site to declare the outcome.
func (c *Controller) submit(ctx context.Context) error {
	d := c.driver
	loc := c.cfg.Locators

	if err := c.step(ctx); err != nil {
		return err
	}

	btn, err := d.Element(ctx, loc.SubmitButton, c.cfg.Timeouts.ElementWait())
	if err != nil {
		return fmt.Errorf("submit button: %w", err)
	}
	if err := btn.Click(ctx); err != nil {
		return fmt.Errorf("click submit: %w", err)
	}

	// The confirm dialog is usually present but some homework types submit
	// directly.
	if confirm, cerr := d.Element(ctx, loc.ConfirmButton, c.cfg.Timeouts.ElementWait()); cerr == nil {
		if err := confirm.Click(ctx); err != nil {
			return fmt.Errorf("confirm submit: %w", err)
		}
	} else if browser.IsSessionLoss(cerr) {
		return cerr
	}

	return c.awaitSubmitOutcome(ctx)
}

// awaitSubmitOutcome polls the page for the site's success or failure
// banner. Landing on the result page counts as success; some flows redirect
// before the banner renders.
func (c *Controller) awaitSubmitOutcome(ctx context.Context) error {
	d := c.driver
	site := c.cfg.Site

	var failed bool
	ok, err := pollUntil(ctx, c.cfg.Timeouts.SubmitWait(), 500*time.Millisecond, func() (bool, error) {
		html, herr := d.HTML(ctx)
		if herr != nil {
			return false, herr
		}
		if strings.Contains(html, site.SubmitFailureMarker) {
			failed = true
			return true, nil
		}
		if strings.Contains(html, site.SubmitSuccessMarker) {
			return true, nil
		}
		cur, uerr := d.URL(ctx)
		if uerr != nil {
			return false, uerr
		}
		return strings.Contains(cur, site.ResultPageMarker), nil
	})
	if err != nil {
		return err
	}
	if failed {
		return fmt.Errorf("site rejected submission")
	}
	if !ok {
		return fmt.Errorf("no submit outcome within %s", c.cfg.Timeouts.SubmitWait())
	}
	return nil
}

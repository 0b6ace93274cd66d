package session

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/LampLure/taoshiwan-auto-answer/internal/accounts"
	"github.com/LampLure/taoshiwan-auto-answer/internal/browser"
)

// login opens the entry page, fills the modal and classifies the outcome.
func (c *Controller) login(ctx context.Context, acct accounts.Account) error {
	d := c.driver
	loc := c.cfg.Locators

	if err := d.Navigate(ctx, c.cfg.Site.EntryURL); err != nil {
		return err
	}
	if err := c.step(ctx); err != nil {
		return err
	}

	// Some pages land with the modal already open; the opener is optional.
	if el, err := d.Element(ctx, loc.LoginOpen, c.cfg.Timeouts.ElementWait()); err == nil {
		if err := el.Click(ctx); err != nil && browser.IsSessionLoss(err) {
			return err
		}
		if err := c.step(ctx); err != nil {
			return err
		}
	} else if browser.IsSessionLoss(err) {
		return err
	}

	// The form lives inside a modal that renders after the opener; wait for
	// it before filling fields.
	if loc.LoginModal != "" {
		if _, err := d.Element(ctx, loc.LoginModal, c.cfg.Timeouts.ElementWait()); err != nil && browser.IsSessionLoss(err) {
			return err
		}
	}

	user, err := d.Element(ctx, loc.Username, c.cfg.Timeouts.ElementWait())
	if err != nil {
		return fmt.Errorf("login form: %w", err)
	}
	if err := user.Input(ctx, acct.Username); err != nil {
		return fmt.Errorf("fill username: %w", err)
	}

	pass, err := d.Element(ctx, loc.Password, c.cfg.Timeouts.ElementWait())
	if err != nil {
		return fmt.Errorf("login form: %w", err)
	}
	if err := pass.Input(ctx, acct.Password); err != nil {
		return fmt.Errorf("fill password: %w", err)
	}
	// The markup mirrors the password into a hidden field on some builds,
	// transformed through the site's in-page hash when one is configured.
	if loc.PasswordMask != "" {
		masked := acct.Password
		if js := c.cfg.Site.CredentialHashJS; js != "" {
			hashed, herr := d.Eval(ctx, js, acct.Password)
			if browser.IsSessionLoss(herr) {
				return herr
			}
			if herr == nil && hashed != "" {
				masked = hashed
			}
		}
		if mask, err := d.Element(ctx, loc.PasswordMask, 500*time.Millisecond); err == nil {
			_ = mask.Input(ctx, masked)
		} else if browser.IsSessionLoss(err) {
			return err
		}
	}

	submit, err := d.Element(ctx, loc.LoginSubmit, c.cfg.Timeouts.ElementWait())
	if err != nil {
		return fmt.Errorf("login submit: %w", err)
	}
	if err := submit.Click(ctx); err != nil {
		return fmt.Errorf("click login: %w", err)
	}

	return c.verifyLogin(ctx)
}

// verifyLogin polls three signals in priority order until one is decisive:
// an error popup naming a credential problem, logged-in markers in the URL
// or page source, and finally the presence of the logout control. No signal
// within the probe budget is treated as failure.
func (c *Controller) verifyLogin(ctx context.Context) error {
	d := c.driver
	loc := c.cfg.Locators

	var loginErr *LoginError
	ok, err := pollUntil(ctx, c.cfg.Timeouts.LoginProbe(), 300*time.Millisecond, func() (bool, error) {
		// Signal 1: error popup.
		popupText, perr := c.popupText(ctx)
		if perr != nil {
			return false, perr
		}
		if popupText != "" {
			for _, phrase := range c.cfg.Site.LoginErrorPhrases {
				if strings.Contains(popupText, phrase) {
					loginErr = &LoginError{Reason: phrase}
					return true, nil
				}
			}
		}

		// Signal 2: logged-in markers.
		cur, uerr := d.URL(ctx)
		if uerr != nil {
			return false, uerr
		}
		if c.cfg.Site.LoggedInURLMarker != "" && strings.Contains(cur, c.cfg.Site.LoggedInURLMarker) {
			return true, nil
		}
		html, herr := d.HTML(ctx)
		if herr != nil {
			return false, herr
		}
		for _, marker := range c.cfg.Site.LoggedInTextMarkers {
			if strings.Contains(html, marker) {
				return true, nil
			}
		}

		// Signal 3: logout control.
		if _, lerr := d.Element(ctx, loc.LogoutControl, 300*time.Millisecond); lerr == nil {
			return true, nil
		} else if browser.IsSessionLoss(lerr) {
			return false, lerr
		}
		return false, nil
	})
	if err != nil {
		return err
	}
	if loginErr != nil {
		return loginErr
	}
	if !ok {
		return &LoginError{Reason: "无法确认登录状态"}
	}
	return nil
}

// popupText reads the layer popup body, closing it when a close control is
// present. Empty string means no popup.
func (c *Controller) popupText(ctx context.Context) (string, error) {
	d := c.driver
	loc := c.cfg.Locators

	el, err := d.Element(ctx, loc.ErrorPopup, 300*time.Millisecond)
	if err != nil {
		if browser.IsSessionLoss(err) {
			return "", err
		}
		return "", nil
	}
	text, err := el.Text(ctx)
	if err != nil {
		if browser.IsSessionLoss(err) {
			return "", err
		}
		return "", nil
	}
	if closeEl, cerr := d.Element(ctx, loc.ErrorClose, 200*time.Millisecond); cerr == nil {
		_ = closeEl.Click(ctx)
	}
	return text, nil
}

// logout is best effort: the logout control first, a forced logout URL as
// fallback. The account is already done; nothing here fails it.
func (c *Controller) logout(ctx context.Context) {
	d := c.driver
	if d == nil {
		return
	}
	if el, err := d.Element(ctx, c.cfg.Locators.LogoutControl, c.cfg.Timeouts.ElementWait()); err == nil {
		if err := el.Click(ctx); err == nil {
			return
		}
	}
	if err := d.Navigate(ctx, c.cfg.Site.EntryURL+c.cfg.Site.LogoutQuery); err != nil {
		c.logger.Debug("logout fallback failed", zap.Error(err))
	}
}

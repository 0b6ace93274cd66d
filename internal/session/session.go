// Package session drives one account through the whole site flow: login,
// homework discovery, answering, submission and logout. A Controller owns
// one browser driver at a time and recreates it when the DevTools session
// dies mid-account, resuming the same account where it left off.
package session

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"net/url"
	"time"

	"go.uber.org/zap"

	"github.com/LampLure/taoshiwan-auto-answer/internal/accounts"
	"github.com/LampLure/taoshiwan-auto-answer/internal/browser"
	"github.com/LampLure/taoshiwan-auto-answer/internal/config"
	"github.com/LampLure/taoshiwan-auto-answer/internal/events"
)

// AnswerSource resolves scraped question text to a stored answer.
// *store.Handle satisfies it.
type AnswerSource interface {
	FindAnswer(ctx context.Context, questionText string) (answer string, ok bool, err error)
}

// LoginError is terminal for its account: wrong credentials will not get
// better with a fresh browser, so no recovery is attempted.
type LoginError struct {
	Reason string
}

func (e *LoginError) Error() string { return "login failed: " + e.Reason }

// IsLoginError reports whether err (or anything it wraps) is a LoginError.
func IsLoginError(err error) bool {
	var le *LoginError
	return errors.As(err, &le)
}

// Options configures a Controller.
type Options struct {
	Config   config.Config
	Factory  browser.Factory
	Answers  AnswerSource
	Control  *Control
	ErrorLog *ErrorLog
	Sink     events.Sink
	Logger   *zap.Logger
	// Worker tags emitted events with the owning worker's id.
	Worker int
	// MaxRecoveries bounds browser recreations per account. Zero means the
	// default of 2.
	MaxRecoveries int
	// Seed fixes the random fallback choice order; zero seeds from the clock.
	Seed int64
}

// Controller runs accounts sequentially on one browser.
type Controller struct {
	cfg           config.Config
	factory       browser.Factory
	driver        browser.Driver
	answers       AnswerSource
	control       *Control
	errlog        *ErrorLog
	sink          events.Sink
	logger        *zap.Logger
	worker        int
	maxRecoveries int
	rng           *rand.Rand

	// skip holds homework ids already handled for the current account, so a
	// browser recovery does not redo finished homework.
	skip map[string]struct{}
}

func New(opts Options) *Controller {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Sink == nil {
		opts.Sink = events.Nop{}
	}
	if opts.Control == nil {
		opts.Control = NewControl()
	}
	if opts.MaxRecoveries == 0 {
		opts.MaxRecoveries = 2
	}
	seed := opts.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &Controller{
		cfg:           opts.Config,
		factory:       opts.Factory,
		answers:       opts.Answers,
		control:       opts.Control,
		errlog:        opts.ErrorLog,
		sink:          opts.Sink,
		logger:        opts.Logger,
		worker:        opts.Worker,
		maxRecoveries: opts.MaxRecoveries,
		rng:           rand.New(rand.NewSource(seed)),
	}
}

// Close quits the controller's browser if one is open.
func (c *Controller) Close() error {
	if c.driver == nil {
		return nil
	}
	err := c.driver.Close()
	c.driver = nil
	return err
}

// ForceKill terminates the browser process without handshake.
func (c *Controller) ForceKill() {
	if c.driver != nil {
		c.driver.ForceKill()
		c.driver = nil
	}
}

// PID reports the current browser process id, or 0 when none is open.
func (c *Controller) PID() int {
	if c.driver == nil {
		return 0
	}
	return c.driver.PID()
}

// RunAccount processes one account end to end. A dead browser is replaced
// and the same account retried; a login failure or any other error is
// returned to the caller, which advances to the next account.
func (c *Controller) RunAccount(ctx context.Context, index int, acct accounts.Account) error {
	c.skip = make(map[string]struct{})
	acct.Normalize(c.cfg.Site.DefaultPassword)

	c.emitStatus(index, accounts.StatusWorking)
	c.emitLog(index, true, fmt.Sprintf("账号 %s 开始处理", acct.Username))

	recoveries := 0
	for {
		err := c.runOnce(ctx, acct)
		switch {
		case err == nil:
			c.emitStatus(index, accounts.StatusDone)
			c.emitLog(index, true, fmt.Sprintf("账号 %s 处理完成", acct.Username))
			return nil

		case errors.Is(err, ErrStopped) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded):
			c.emitStatus(index, accounts.StatusInterrupted)
			return err

		case IsLoginError(err):
			if c.errlog != nil {
				if rerr := c.errlog.RecordLoginFailure(acct.Username, err); rerr != nil {
					c.logger.Warn("error record write failed", zap.Error(rerr))
				}
			}
			c.emitStatus(index, accounts.StatusFailed)
			c.emitLog(index, true, fmt.Sprintf("账号 %s 登录失败: %v", acct.Username, err))
			return err

		case browser.IsSessionLoss(err) && recoveries < c.maxRecoveries:
			recoveries++
			c.emitLog(index, true, fmt.Sprintf("浏览器会话丢失，正在重建 (%d/%d)", recoveries, c.maxRecoveries))
			c.logger.Warn("browser session lost, recreating",
				zap.String("account", acct.Username),
				zap.Int("attempt", recoveries),
				zap.Error(err))
			if rerr := c.recreateDriver(ctx); rerr != nil {
				c.recordFailure(acct.Username, fmt.Errorf("recreate browser: %w", rerr))
				c.emitStatus(index, accounts.StatusFailed)
				return rerr
			}
			continue

		default:
			c.recordFailure(acct.Username, err)
			c.emitStatus(index, accounts.StatusFailed)
			c.emitLog(index, true, fmt.Sprintf("账号 %s 出错: %v", acct.Username, err))
			return err
		}
	}
}

// Login opens a browser if needed and signs the account in. Flows that
// drive the site outside the homework loop, like the bank importer, build
// on this plus Driver.
func (c *Controller) Login(ctx context.Context, acct accounts.Account) error {
	if err := c.ensureDriver(ctx); err != nil {
		return err
	}
	acct.Normalize(c.cfg.Site.DefaultPassword)
	return c.login(ctx, acct)
}

// Logout signs out, best effort.
func (c *Controller) Logout(ctx context.Context) { c.logout(ctx) }

// Driver exposes the live browser to flows built on top of the controller.
// Nil until Login or RunAccount has opened one.
func (c *Controller) Driver() browser.Driver { return c.driver }

// ListURL returns the homework list address for the configured site.
func (c *Controller) ListURL() string { return c.listURL() }

func (c *Controller) runOnce(ctx context.Context, acct accounts.Account) error {
	if err := c.ensureDriver(ctx); err != nil {
		return err
	}
	if err := c.login(ctx, acct); err != nil {
		return err
	}
	if err := c.processHomework(ctx); err != nil {
		return err
	}
	c.logout(ctx)
	return nil
}

func (c *Controller) ensureDriver(ctx context.Context) error {
	if c.driver != nil {
		return nil
	}
	d, err := c.factory.New(ctx)
	if err != nil {
		return fmt.Errorf("start browser: %w", err)
	}
	c.driver = d
	return nil
}

func (c *Controller) recreateDriver(ctx context.Context) error {
	if c.driver != nil {
		c.driver.ForceKill()
		c.driver = nil
	}
	// Let the old process release its profile and ports before relaunching.
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(time.Second):
	}
	if err := c.ensureDriver(ctx); err != nil {
		return err
	}
	// And again after: a freshly launched browser needs a moment before the
	// first navigation is reliable.
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(500 * time.Millisecond):
	}
	return nil
}

// step is the per-operation boundary: honors pause/stop, then applies the
// configured settle delay.
func (c *Controller) step(ctx context.Context) error {
	if err := c.control.Gate(ctx); err != nil {
		return err
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(c.cfg.Delay.Step()):
	}
	return nil
}

// listURL resolves the homework list address against the entry URL's host.
func (c *Controller) listURL() string {
	u, err := url.Parse(c.cfg.Site.EntryURL)
	if err != nil {
		return c.cfg.Site.EntryURL
	}
	u.Path = c.cfg.Site.HomeworkListPath
	u.RawQuery = ""
	return u.String()
}

func (c *Controller) recordFailure(account string, cause error) {
	if c.errlog == nil {
		return
	}
	pageURL := ""
	if c.driver != nil {
		recCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		pageURL, _ = c.driver.URL(recCtx)
		cancel()
	}
	if err := c.errlog.Record(account, pageURL, cause); err != nil {
		c.logger.Warn("error record write failed", zap.Error(err))
	}
}

func (c *Controller) emitStatus(index int, status string) {
	c.sink.Emit(events.Event{
		Worker:  c.worker,
		Account: index,
		Kind:    events.KindStatus,
		Status:  status,
	})
}

func (c *Controller) emitProgress(percent int, desc string) {
	c.sink.Emit(events.Event{
		Worker:  c.worker,
		Account: -1,
		Kind:    events.KindProgress,
		Percent: percent,
		Message: desc,
	})
}

func (c *Controller) emitLog(index int, important bool, msg string) {
	c.sink.Emit(events.Event{
		Worker:    c.worker,
		Account:   index,
		Kind:      events.KindLog,
		Message:   msg,
		Important: important,
	})
}

// pollUntil retries fn every interval until it reports done, errors, or the
// budget elapses. A timeout is not an error; ok is false.
func pollUntil(ctx context.Context, budget, interval time.Duration, fn func() (bool, error)) (bool, error) {
	deadline := time.Now().Add(budget)
	for {
		done, err := fn()
		if err != nil || done {
			return done, err
		}
		if time.Now().After(deadline) {
			return false, nil
		}
		select {
		case <-ctx.Done():
			return false, ctx.Err()
		case <-time.After(interval):
		}
	}
}

package browser

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/launcher/flags"
	"github.com/go-rod/rod/lib/proto"
	"go.uber.org/zap"

	"github.com/LampLure/taoshiwan-auto-answer/internal/config"
)

// RodFactory launches Chrome through rod. Each New call is a fully separate
// browser process with its own user data dir, so workers cannot share
// cookies or crash each other.
type RodFactory struct {
	cfg    config.Browser
	logger *zap.Logger
}

func NewRodFactory(cfg config.Browser, logger *zap.Logger) *RodFactory {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RodFactory{cfg: cfg, logger: logger}
}

// New launches a browser and opens its single working page.
func (f *RodFactory) New(ctx context.Context) (Driver, error) {
	l := launcher.New().Headless(f.cfg.Headless)
	if f.cfg.Bin != "" {
		l = l.Bin(f.cfg.Bin)
	}
	for _, rawFlag := range f.cfg.Launch {
		flagStr := strings.TrimLeft(rawFlag, "-")
		name, val, hasVal := strings.Cut(flagStr, "=")
		if hasVal {
			l = l.Set(flags.Flag(name), val)
		} else {
			l = l.Set(flags.Flag(name))
		}
	}

	controlURL, err := l.Launch()
	if err != nil {
		return nil, fmt.Errorf("launch chrome: %w", err)
	}

	b := rod.New().ControlURL(controlURL)
	if err := b.Connect(); err != nil {
		l.Kill()
		l.Cleanup()
		return nil, fmt.Errorf("connect to chrome: %w", err)
	}

	page, err := b.Page(proto.TargetCreateTarget{URL: "about:blank"})
	if err != nil {
		_ = b.Close()
		l.Kill()
		l.Cleanup()
		return nil, fmt.Errorf("create page: %w", err)
	}

	if f.cfg.ViewportWidth > 0 && f.cfg.ViewportHeight > 0 {
		if err := (proto.EmulationSetDeviceMetricsOverride{
			Width:             f.cfg.ViewportWidth,
			Height:            f.cfg.ViewportHeight,
			DeviceScaleFactor: 1.0,
			Mobile:            false,
		}).Call(page); err != nil {
			f.logger.Debug("set viewport failed", zap.Error(err))
		}
	}

	f.logger.Debug("browser launched",
		zap.Int("pid", l.PID()),
		zap.Bool("headless", f.cfg.Headless))

	return &rodDriver{
		browser:    b,
		page:       page,
		launch:     l,
		navTimeout: f.cfg.NavigationTimeout(),
		logger:     f.logger,
	}, nil
}

type rodDriver struct {
	browser    *rod.Browser
	page       *rod.Page
	launch     *launcher.Launcher
	navTimeout time.Duration
	logger     *zap.Logger
}

func (d *rodDriver) Navigate(ctx context.Context, url string) error {
	p := d.page.Context(ctx).Timeout(d.navTimeout)
	if err := p.Navigate(url); err != nil {
		return fmt.Errorf("navigate %s: %w", url, err)
	}
	if err := p.WaitLoad(); err != nil {
		return fmt.Errorf("wait load %s: %w", url, err)
	}
	return nil
}

func (d *rodDriver) Back(ctx context.Context) error {
	p := d.page.Context(ctx).Timeout(d.navTimeout)
	if err := p.NavigateBack(); err != nil {
		return fmt.Errorf("navigate back: %w", err)
	}
	if err := p.WaitLoad(); err != nil {
		return fmt.Errorf("wait load after back: %w", err)
	}
	return nil
}

func (d *rodDriver) URL(ctx context.Context) (string, error) {
	info, err := d.page.Context(ctx).Info()
	if err != nil {
		return "", fmt.Errorf("page info: %w", err)
	}
	return info.URL, nil
}

func (d *rodDriver) HTML(ctx context.Context) (string, error) {
	html, err := d.page.Context(ctx).HTML()
	if err != nil {
		return "", fmt.Errorf("page html: %w", err)
	}
	return html, nil
}

func (d *rodDriver) Element(ctx context.Context, selector string, timeout time.Duration) (Element, error) {
	p := d.page.Context(ctx).Timeout(timeout)
	var el *rod.Element
	var err error
	if IsXPath(selector) {
		el, err = p.ElementX(selector)
	} else {
		el, err = p.Element(selector)
	}
	if err != nil {
		return nil, fmt.Errorf("find %q: %w", selector, err)
	}
	return &rodElement{el: el.CancelTimeout()}, nil
}

func (d *rodDriver) Elements(ctx context.Context, selector string) ([]Element, error) {
	p := d.page.Context(ctx)
	var els rod.Elements
	var err error
	if IsXPath(selector) {
		els, err = p.ElementsX(selector)
	} else {
		els, err = p.Elements(selector)
	}
	if err != nil {
		return nil, fmt.Errorf("find all %q: %w", selector, err)
	}
	out := make([]Element, len(els))
	for i, el := range els {
		out[i] = &rodElement{el: el}
	}
	return out, nil
}

func (d *rodDriver) Eval(ctx context.Context, js string, args ...any) (string, error) {
	res, err := d.page.Context(ctx).Evaluate(&rod.EvalOptions{
		JS:           js,
		JSArgs:       args,
		ByValue:      true,
		AwaitPromise: true,
	})
	if err != nil {
		return "", fmt.Errorf("evaluate: %w", err)
	}
	return res.Value.Str(), nil
}

func (d *rodDriver) PID() int {
	if d.launch == nil {
		return 0
	}
	return d.launch.PID()
}

func (d *rodDriver) Close() error {
	err := d.browser.Close()
	if d.launch != nil {
		d.launch.Cleanup()
	}
	return err
}

func (d *rodDriver) ForceKill() {
	if d.launch != nil {
		d.launch.Kill()
		d.launch.Cleanup()
	}
}

type rodElement struct {
	el *rod.Element
}

func (e *rodElement) Click(ctx context.Context) error {
	if err := e.el.Context(ctx).Click(proto.InputMouseButtonLeft, 1); err != nil {
		return fmt.Errorf("click: %w", err)
	}
	return nil
}

func (e *rodElement) Input(ctx context.Context, text string) error {
	el := e.el.Context(ctx)
	// Select any existing text so Input replaces instead of appending.
	_ = el.SelectAllText()
	if err := el.Input(text); err != nil {
		return fmt.Errorf("input: %w", err)
	}
	return nil
}

func (e *rodElement) Text(ctx context.Context) (string, error) {
	text, err := e.el.Context(ctx).Text()
	if err != nil {
		return "", fmt.Errorf("element text: %w", err)
	}
	return text, nil
}

func (e *rodElement) Attribute(ctx context.Context, name string) (string, bool, error) {
	v, err := e.el.Context(ctx).Attribute(name)
	if err != nil {
		return "", false, fmt.Errorf("attribute %q: %w", name, err)
	}
	if v == nil {
		return "", false, nil
	}
	return *v, true, nil
}

func (e *rodElement) Element(ctx context.Context, selector string) (Element, error) {
	el := e.el.Context(ctx)
	var found *rod.Element
	var err error
	if IsXPath(selector) {
		found, err = el.ElementX(selector)
	} else {
		found, err = el.Element(selector)
	}
	if err != nil {
		return nil, fmt.Errorf("find %q in element: %w", selector, err)
	}
	return &rodElement{el: found}, nil
}

func (e *rodElement) Elements(ctx context.Context, selector string) ([]Element, error) {
	el := e.el.Context(ctx)
	var found rod.Elements
	var err error
	if IsXPath(selector) {
		found, err = el.ElementsX(selector)
	} else {
		found, err = el.Elements(selector)
	}
	if err != nil {
		return nil, fmt.Errorf("find all %q in element: %w", selector, err)
	}
	out := make([]Element, len(found))
	for i, sub := range found {
		out[i] = &rodElement{el: sub}
	}
	return out, nil
}

func (e *rodElement) Eval(ctx context.Context, js string, args ...any) (string, error) {
	res, err := e.el.Context(ctx).Eval(js, args...)
	if err != nil {
		return "", fmt.Errorf("element evaluate: %w", err)
	}
	return res.Value.Str(), nil
}

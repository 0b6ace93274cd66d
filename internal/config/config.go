// Package config holds all tunables for the automation run: site addresses
// and markers, element locators, timeouts, delays and worker settings.
// Values are loaded once and passed explicitly into each component at
// construction; nothing reads shared mutable process state at runtime.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"time"
)

// Config is the root configuration document.
type Config struct {
	Site     Site     `json:"site"`
	Browser  Browser  `json:"browser"`
	Timeouts Timeouts `json:"timeouts"`
	Delay    Delay    `json:"delay"`
	Lookup   Lookup   `json:"lookup"`
	Workers  Workers  `json:"workers"`
	Locators Locators `json:"locators"`

	// DatabasePath is the SQLite question bank location.
	DatabasePath string `json:"database_path"`
	// AccountsPath is the JSON account list location.
	AccountsPath string `json:"accounts_path"`
	// ErrorLogPath receives the durable per-account error records.
	ErrorLogPath string `json:"error_log_path"`
}

// Site describes the target site's URLs and the text/URL markers the session
// controller keys on. Markers are site contracts, not behavior.
type Site struct {
	EntryURL string `json:"entry_url"`
	// LogoutQuery appended to EntryURL forces a server-side logout when the
	// logout control cannot be used.
	LogoutQuery string `json:"logout_query"`
	// DefaultPassword substitutes for accounts stored without one.
	DefaultPassword string `json:"default_password"`
	// CredentialHashJS, when set, is an arrow function evaluated in-page
	// with the raw password; its result is written into the hidden password
	// field. The hash algorithm is the site's contract, not ours.
	CredentialHashJS string `json:"credential_hash_js,omitempty"`

	HomeworkListPath   string `json:"homework_list_path"`
	HomeworkListMarker string `json:"homework_list_marker"`
	HomeworkPageMarker string `json:"homework_page_marker"`
	DetailPageMarker   string `json:"detail_page_marker"`
	ResultPageMarker   string `json:"result_page_marker"`
	LoggedInURLMarker  string `json:"logged_in_url_marker"`

	LoggedInTextMarkers []string `json:"logged_in_text_markers"`
	LoginErrorPhrases   []string `json:"login_error_phrases"`
	SubmitSuccessMarker string   `json:"submit_success_marker"`
	SubmitFailureMarker string   `json:"submit_failure_marker"`
}

// Browser holds launch settings for one worker's browser instance.
type Browser struct {
	Headless            bool     `json:"headless"`
	Bin                 string   `json:"bin,omitempty"`
	Launch              []string `json:"launch,omitempty"`
	ViewportWidth       int      `json:"viewport_width"`
	ViewportHeight      int      `json:"viewport_height"`
	NavigationTimeoutMs int      `json:"navigation_timeout_ms"`
}

// NavigationTimeout returns the page navigation timeout.
func (b Browser) NavigationTimeout() time.Duration {
	if b.NavigationTimeoutMs == 0 {
		return 30 * time.Second
	}
	return time.Duration(b.NavigationTimeoutMs) * time.Millisecond
}

// Timeouts bound the explicit waits inside a session.
type Timeouts struct {
	PageLoadMs    int `json:"page_load_ms"`
	ElementWaitMs int `json:"element_wait_ms"`
	LoginProbeMs  int `json:"login_probe_ms"`
	SubmitWaitMs  int `json:"submit_wait_ms"`
}

func (t Timeouts) PageLoad() time.Duration {
	if t.PageLoadMs == 0 {
		return 3 * time.Second
	}
	return time.Duration(t.PageLoadMs) * time.Millisecond
}

func (t Timeouts) ElementWait() time.Duration {
	if t.ElementWaitMs == 0 {
		return 3 * time.Second
	}
	return time.Duration(t.ElementWaitMs) * time.Millisecond
}

// LoginProbe bounds each of the three post-login outcome checks.
func (t Timeouts) LoginProbe() time.Duration {
	if t.LoginProbeMs == 0 {
		return 5 * time.Second
	}
	return time.Duration(t.LoginProbeMs) * time.Millisecond
}

// SubmitWait bounds the wait for a definitive submit success/failure marker.
func (t Timeouts) SubmitWait() time.Duration {
	if t.SubmitWaitMs == 0 {
		return 9 * time.Second
	}
	return time.Duration(t.SubmitWaitMs) * time.Millisecond
}

// Delay controls the settle pause between page operations.
type Delay struct {
	DefaultMs  int     `json:"default_ms"`
	MinMs      int     `json:"min_ms"`
	MaxMs      int     `json:"max_ms"`
	Multiplier float64 `json:"multiplier"`
}

// Step returns the clamped per-operation settle delay.
func (d Delay) Step() time.Duration {
	ms := d.DefaultMs
	if ms == 0 {
		ms = 300
	}
	mult := d.Multiplier
	if mult == 0 {
		mult = 1.0
	}
	scaled := int(float64(ms) * mult)
	max := d.MaxMs
	if max == 0 {
		max = 5000
	}
	if scaled > max {
		scaled = max
	}
	if scaled < d.MinMs {
		scaled = d.MinMs
	}
	return time.Duration(scaled) * time.Millisecond
}

// Lookup carries the answer-resolution thresholds.
type Lookup struct {
	// MinScore is the strict floor a fuzzy match must exceed.
	MinScore float64 `json:"min_score"`
	// EarlyExit stops the corpus scan once a candidate beats it.
	EarlyExit float64 `json:"early_exit"`
}

// Workers controls the concurrency layer.
type Workers struct {
	Count     int `json:"count"`
	StaggerMs int `json:"stagger_ms"`
	// CleanupBudgetMs is the hard wall-clock bound on teardown.
	CleanupBudgetMs int `json:"cleanup_budget_ms"`
}

func (w Workers) WorkerCount() int {
	if w.Count <= 0 {
		return 1
	}
	if w.Count > 32 {
		return 32
	}
	return w.Count
}

// Stagger is the pause between successive worker starts, spreading the
// initial login burst against the site.
func (w Workers) Stagger() time.Duration {
	if w.StaggerMs == 0 {
		return 2 * time.Second
	}
	return time.Duration(w.StaggerMs) * time.Millisecond
}

func (w Workers) CleanupBudget() time.Duration {
	if w.CleanupBudgetMs == 0 {
		return 5 * time.Second
	}
	return time.Duration(w.CleanupBudgetMs) * time.Millisecond
}

// Default returns the configuration tuned for the production site.
func Default() Config {
	return Config{
		Site: Site{
			EntryURL:           "https://infotech.51taoshi.com/hw/fore/index.do",
			LogoutQuery:        "?out=1",
			DefaultPassword:    "123456",
			HomeworkListPath:   "/hw/stu/myHomework.do",
			HomeworkListMarker: "myHomework.do",
			HomeworkPageMarker: "doHomework.do",
			DetailPageMarker:   "viewHomework.do",
			ResultPageMarker:   "myResult.do",
			LoggedInURLMarker:  "stu/",
			LoggedInTextMarkers: []string{
				"退出",
				"作业列表",
			},
			LoginErrorPhrases: []string{
				"用户名或密码错误",
				"密码错误",
				"账号不存在",
				"用户被置为无效",
				"请填写用户名",
				"请填写密码",
			},
			SubmitSuccessMarker: "提交试卷成功",
			SubmitFailureMarker: "提交试卷失败",
		},
		Browser: Browser{
			Headless:            true,
			ViewportWidth:       1200,
			ViewportHeight:      800,
			NavigationTimeoutMs: 30000,
		},
		Timeouts: Timeouts{
			PageLoadMs:    3000,
			ElementWaitMs: 3000,
			LoginProbeMs:  5000,
			SubmitWaitMs:  9000,
		},
		Delay: Delay{
			DefaultMs:  300,
			MinMs:      0,
			MaxMs:      5000,
			Multiplier: 1.0,
		},
		Lookup: Lookup{
			MinScore:  0.3,
			EarlyExit: 0.9,
		},
		Workers: Workers{
			Count:           1,
			StaggerMs:       2000,
			CleanupBudgetMs: 5000,
		},
		Locators:     DefaultLocators(),
		DatabasePath: "questions.db",
		AccountsPath: "accounts.json",
		ErrorLogPath: "app_error.log",
	}
}

// Load reads a config file over the defaults. A missing file is not an
// error; the defaults are returned unchanged.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := json.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}

// Save writes the config as indented JSON.
func Save(path string, cfg Config) error {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}

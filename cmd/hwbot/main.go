// Command hwbot automates the homework site for a roster of accounts: it
// logs each account in, answers its pending homework from the local question
// bank, submits, and records the outcome.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/LampLure/taoshiwan-auto-answer/internal/accounts"
	"github.com/LampLure/taoshiwan-auto-answer/internal/browser"
	"github.com/LampLure/taoshiwan-auto-answer/internal/cleanup"
	"github.com/LampLure/taoshiwan-auto-answer/internal/config"
	"github.com/LampLure/taoshiwan-auto-answer/internal/events"
	"github.com/LampLure/taoshiwan-auto-answer/internal/importer"
	"github.com/LampLure/taoshiwan-auto-answer/internal/session"
	"github.com/LampLure/taoshiwan-auto-answer/internal/store"
	"github.com/LampLure/taoshiwan-auto-answer/internal/worker"
)

var (
	// Global flags
	verbose    bool
	configPath string

	// run flags
	flagWorkers  int
	flagHeadless bool
	flagDelayMs  int
	flagAccounts string
	flagDB       string

	// questions add flags
	flagContent  string
	flagAnswer   string
	flagType     string
	flagKeywords string

	logger *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:   "hwbot",
	Short: "Multi-account homework automation for the taoshiwan site",
	Long: `hwbot drives the taoshiwan homework site through a real browser.

It signs in each account from the roster, answers pending homework using the
local question bank, submits, and writes the per-account outcome back to the
roster file. Multiple accounts run concurrently, one browser per worker.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		cfg := zap.NewProductionConfig()
		if verbose {
			cfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		}
		var err error
		logger, err = cfg.Build()
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Process every pending account in the roster",
	Long: `Loads the roster, splits it across workers, and processes each account:
login, answer all pending homework from the question bank, submit, logout.

Ctrl-C stops gracefully at the next step boundary; a second Ctrl-C aborts.`,
	RunE: runRoster,
}

var importCmd = &cobra.Command{
	Use:   "import [username] [password]",
	Short: "Import questions and answers from a finished account",
	Long: `Signs in as an account that has already completed its homework and
scrapes the review pages, where the site shows the correct answers, into the
question bank. Reimporting updates existing questions in place.`,
	Args: cobra.RangeArgs(1, 2),
	RunE: runImport,
}

var questionsCmd = &cobra.Command{
	Use:   "questions",
	Short: "Inspect and edit the question bank",
}

var questionsListCmd = &cobra.Command{
	Use:   "list",
	Short: "Print every stored question",
	RunE:  listQuestions,
}

var questionsAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Add or update one question by content",
	RunE:  addQuestion,
}

var questionsDeleteCmd = &cobra.Command{
	Use:   "delete [id]",
	Short: "Delete a question by id",
	Args:  cobra.ExactArgs(1),
	RunE:  deleteQuestion,
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "config.json", "path to config file")

	runCmd.Flags().IntVar(&flagWorkers, "workers", 0, "concurrent workers (overrides config)")
	runCmd.Flags().BoolVar(&flagHeadless, "headless", true, "run browsers headless")
	runCmd.Flags().IntVar(&flagDelayMs, "delay-ms", 0, "settle delay between page operations (overrides config)")
	runCmd.Flags().StringVar(&flagAccounts, "accounts", "", "accounts file (overrides config)")
	runCmd.Flags().StringVar(&flagDB, "db", "", "question bank path (overrides config)")

	importCmd.Flags().BoolVar(&flagHeadless, "headless", true, "run the browser headless")
	importCmd.Flags().StringVar(&flagDB, "db", "", "question bank path (overrides config)")

	questionsAddCmd.Flags().StringVar(&flagContent, "content", "", "question text (required)")
	questionsAddCmd.Flags().StringVar(&flagAnswer, "answer", "", "answer text (required)")
	questionsAddCmd.Flags().StringVar(&flagType, "type", "choice", "question type: choice or subjective")
	questionsAddCmd.Flags().StringVar(&flagKeywords, "keywords", "", "option text for choice questions")
	_ = questionsAddCmd.MarkFlagRequired("content")
	_ = questionsAddCmd.MarkFlagRequired("answer")

	questionsCmd.AddCommand(questionsListCmd, questionsAddCmd, questionsDeleteCmd)
	rootCmd.AddCommand(runCmd, importCmd, questionsCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// loadConfig applies command-line overrides on top of the config file.
func loadConfig(cmd *cobra.Command) (config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return cfg, err
	}
	if cmd.Flags().Changed("workers") {
		cfg.Workers.Count = flagWorkers
	}
	if cmd.Flags().Changed("headless") {
		cfg.Browser.Headless = flagHeadless
	}
	if cmd.Flags().Changed("delay-ms") {
		cfg.Delay.DefaultMs = flagDelayMs
	}
	if flagAccounts != "" {
		cfg.AccountsPath = flagAccounts
	}
	if flagDB != "" {
		cfg.DatabasePath = flagDB
	}
	return cfg, nil
}

func openStore(cfg config.Config) (*store.Store, error) {
	return store.Open(cfg.DatabasePath, store.Config{
		MinScore:  cfg.Lookup.MinScore,
		EarlyExit: cfg.Lookup.EarlyExit,
	}, logger)
}

func runRoster(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	roster, err := accounts.Load(cfg.AccountsPath)
	if err != nil {
		return err
	}
	if len(roster) == 0 {
		return fmt.Errorf("no accounts in %s", cfg.AccountsPath)
	}

	st, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	control := session.NewControl()
	errlog := session.NewErrorLog(cfg.ErrorLogPath)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		select {
		case <-sigCh:
		case <-ctx.Done():
			return
		}
		fmt.Println("\n停止中，等待当前步骤完成；再按一次 Ctrl-C 强制退出")
		control.Stop()
		select {
		case <-sigCh:
			cancel()
		case <-ctx.Done():
		}
	}()

	sink := events.NewChannelSink(512)
	consumerDone := make(chan struct{})
	go func() {
		defer close(consumerDone)
		for e := range sink.Events() {
			switch e.Kind {
			case events.KindStatus:
				if e.Account >= 0 && e.Account < len(roster) {
					roster[e.Account].Status = e.Status
					fmt.Printf("[worker %d] %s -> %s\n", e.Worker, roster[e.Account].Username, e.Status)
				}
			case events.KindLog:
				fmt.Printf("[worker %d] %s\n", e.Worker, e.Message)
			case events.KindProgress:
				fmt.Printf("[worker %d] %3d%% %s\n", e.Worker, e.Percent, e.Message)
			case events.KindFinished:
				if e.Worker < 0 {
					fmt.Println("全部账号处理完成")
				} else {
					fmt.Printf("[worker %d] 全部完成\n", e.Worker)
				}
			}
		}
	}()

	var orchSink events.Sink = sink
	if verbose {
		orchSink = events.Tee{sink, events.LoggerSink{Logger: logger}}
	}

	rodFactory := browser.NewRodFactory(cfg.Browser, logger)

	var mu sync.Mutex
	var controllers []*session.Controller
	var handles []*store.Handle

	newRunner := func(ctx context.Context, workerID int, workerSink events.Sink) (worker.Runner, error) {
		h, err := st.Handle(ctx)
		if err != nil {
			return nil, err
		}
		ctrl := session.New(session.Options{
			Config:   cfg,
			Factory:  rodFactory,
			Answers:  h,
			Control:  control,
			ErrorLog: errlog,
			Sink:     workerSink,
			Logger:   logger,
			Worker:   workerID,
		})
		mu.Lock()
		controllers = append(controllers, ctrl)
		handles = append(handles, h)
		mu.Unlock()
		return ctrl, nil
	}

	orch := worker.NewOrchestrator(cfg, newRunner, orchSink, logger)
	runErr := orch.Run(ctx, roster)

	// Teardown is budgeted: even a wedged browser cannot hold the process.
	mu.Lock()
	targets := make([]cleanup.Target, len(controllers))
	for i, c := range controllers {
		targets[i] = c
	}
	mu.Unlock()
	cleanup.New(cfg.Workers.CleanupBudget(), nil, logger).Shutdown(targets)

	for _, h := range handles {
		_ = h.Close()
	}

	sink.Close()
	<-consumerDone

	if err := accounts.Save(cfg.AccountsPath, roster); err != nil {
		logger.Warn("saving roster failed", zap.Error(err))
	}

	if runErr != nil {
		return runErr
	}
	if control.Stopped() {
		fmt.Println("已停止")
	}
	return nil
}

func runImport(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	acct := accounts.Account{Username: args[0]}
	if len(args) > 1 {
		acct.Password = args[1]
	}

	st, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	ctrl := session.New(session.Options{
		Config:  cfg,
		Factory: browser.NewRodFactory(cfg.Browser, logger),
		Logger:  logger,
	})
	defer cleanup.New(cfg.Workers.CleanupBudget(), nil, logger).Shutdown([]cleanup.Target{ctrl})

	stats, err := importer.New(cfg, ctrl, st, logger).Run(cmd.Context(), acct)
	if err != nil {
		return err
	}

	fmt.Printf("导入完成: %d 个页面, 新增 %d, 更新 %d, 跳过 %d\n",
		stats.Pages, stats.Added, stats.Updated, stats.Skipped)
	return nil
}

func listQuestions(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	st, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	all, err := st.GetAll(cmd.Context())
	if err != nil {
		return err
	}
	if len(all) == 0 {
		fmt.Println("题库为空")
		return nil
	}
	for _, q := range all {
		fmt.Printf("#%d [%s] %s\n    答案: %s\n", q.ID, q.Type, q.Content, q.Answer)
		if q.Keywords != "" {
			fmt.Printf("    选项: %s\n", q.Keywords)
		}
	}
	fmt.Printf("共 %d 题\n", len(all))
	return nil
}

func addQuestion(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	qt := store.QuestionType(flagType)
	if qt != store.TypeChoice && qt != store.TypeSubjective {
		return fmt.Errorf("unknown question type %q", flagType)
	}

	st, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	created, err := st.UpsertQuestion(cmd.Context(), flagContent, flagAnswer, qt, flagKeywords)
	if err != nil {
		return err
	}
	if created {
		fmt.Println("已新增")
	} else {
		fmt.Println("已更新")
	}
	return nil
}

func deleteQuestion(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	id, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		return fmt.Errorf("invalid id %q", args[0])
	}

	st, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	if err := st.DeleteQuestion(cmd.Context(), id); err != nil {
		return err
	}
	fmt.Println("已删除")
	return nil
}

package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/BTreeMap/BookPipe/internal/api"
	"github.com/BTreeMap/BookPipe/internal/flow"
	"github.com/BTreeMap/BookPipe/internal/genai"
	"github.com/BTreeMap/BookPipe/internal/intent"
	"github.com/BTreeMap/BookPipe/internal/lockfile"
	"github.com/BTreeMap/BookPipe/internal/messaging"
	"github.com/BTreeMap/BookPipe/internal/models"
	"github.com/BTreeMap/BookPipe/internal/scheduler"
	"github.com/BTreeMap/BookPipe/internal/store"
	"github.com/BTreeMap/BookPipe/internal/twiliowhatsapp"
	"github.com/BTreeMap/BookPipe/internal/util"
	"github.com/BTreeMap/BookPipe/internal/whatsapp"
	"github.com/joho/godotenv"
)

// Default configuration constants
const (
	// DefaultStateDir is the default directory for BookPipe state data
	DefaultStateDir = "/var/lib/bookpipe"
	// DefaultAppDBFileName is the SQLite file holding context records
	DefaultAppDBFileName = "bookpipe.db"
	// DefaultWhatsAppDBFileName is the SQLite file holding the whatsmeow device
	DefaultWhatsAppDBFileName = "whatsmeow.db"
)

// Config holds the merged environment and flag configuration.
type Config struct {
	StateDir           string
	DatabaseDSN        string
	WhatsAppDSN        string
	APIAddr            string
	Recommender        string
	CompletionMode     string
	CatalogFile        string
	RulesFile          string
	OpenAIKey          string
	OpenAIModel        string
	OpenAIBaseURL      string
	GenAITimeout       time.Duration
	DialogflowFollowup bool
	PruneSchedule      string
	Retention          time.Duration

	TwilioEnabled   bool
	TwilioPublicURL string

	WhatsAppEnabled bool
	QROutput        string
	NumericCode     bool
}

func main() {
	initializeLogger()

	config := loadEnvironmentConfig()
	if err := parseCommandLineFlags(flag.CommandLine, os.Args[1:], &config); err != nil {
		slog.Error("Invalid command line", "error", err)
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	slog.Info("Bootstrapping BookPipe", "state_dir", config.StateDir, "recommender", config.Recommender,
		"completion", config.CompletionMode, "twilio", config.TwilioEnabled, "whatsapp", config.WhatsAppEnabled)
	if err := run(ctx, config); err != nil {
		slog.Error("BookPipe failed to run", "error", err)
		os.Exit(1)
	}
	slog.Info("BookPipe exited successfully")
}

// initializeLogger sets up structured logging with debug level
func initializeLogger() {
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}))
	slog.SetDefault(logger)
}

// loadEnvironmentConfig loads configuration from environment variables and .env file
func loadEnvironmentConfig() Config {
	if err := godotenv.Load(); err != nil {
		slog.Debug("failed to load .env file", "error", err)
	} else {
		slog.Debug("successfully loaded .env file")
	}

	config := Config{
		StateDir:           util.GetEnvDefault("BOOKPIPE_STATE_DIR", DefaultStateDir),
		DatabaseDSN:        os.Getenv("DATABASE_URL"),
		WhatsAppDSN:        os.Getenv("WHATSAPP_DB_DSN"),
		APIAddr:            util.GetEnvDefault("API_ADDR", api.DefaultAddr),
		Recommender:        util.GetEnvDefault("BOOKPIPE_RECOMMENDER", string(flow.RecommenderChoiceGenAI)),
		CompletionMode:     util.GetEnvDefault("BOOKPIPE_COMPLETION_MODE", string(flow.CompletionDeferred)),
		CatalogFile:        os.Getenv("BOOKPIPE_CATALOG_FILE"),
		RulesFile:          os.Getenv("BOOKPIPE_RULES_FILE"),
		OpenAIKey:          os.Getenv("OPENAI_API_KEY"),
		OpenAIModel:        util.GetEnvDefault("OPENAI_MODEL", genai.DefaultModel),
		OpenAIBaseURL:      os.Getenv("OPENAI_BASE_URL"),
		GenAITimeout:       genai.DefaultTimeout,
		DialogflowFollowup: util.ParseBoolEnv("BOOKPIPE_DIALOGFLOW_FOLLOWUP", false),
		PruneSchedule:      util.GetEnvDefault("BOOKPIPE_PRUNE_SCHEDULE", scheduler.DefaultPruneSchedule),
		Retention:          scheduler.DefaultRetention,
		TwilioEnabled:      util.ParseBoolEnv("TWILIO_ENABLED", os.Getenv("TWILIO_ACCOUNT_SID") != ""),
		TwilioPublicURL:    os.Getenv("TWILIO_WEBHOOK_BASE_URL"),
		WhatsAppEnabled:    util.ParseBoolEnv("WHATSAPP_ENABLED", false),
	}

	if raw := os.Getenv("BOOKPIPE_GENAI_TIMEOUT"); raw != "" {
		if d, err := time.ParseDuration(raw); err == nil && d > 0 {
			config.GenAITimeout = d
		} else {
			slog.Warn("Invalid BOOKPIPE_GENAI_TIMEOUT, using default", "value", raw, "default", config.GenAITimeout)
		}
	}

	if raw := os.Getenv("BOOKPIPE_RETENTION"); raw != "" {
		if d, err := time.ParseDuration(raw); err == nil && d > 0 {
			config.Retention = d
		} else {
			slog.Warn("Invalid BOOKPIPE_RETENTION, using default", "value", raw, "default", config.Retention)
		}
	}

	slog.Debug("environment variables loaded",
		"BOOKPIPE_STATE_DIR", config.StateDir,
		"DATABASE_URL_SET", config.DatabaseDSN != "",
		"WHATSAPP_DB_DSN_SET", config.WhatsAppDSN != "",
		"API_ADDR", config.APIAddr,
		"OPENAI_API_KEY_SET", config.OpenAIKey != "",
		"OPENAI_MODEL", config.OpenAIModel,
		"TWILIO_ENABLED", config.TwilioEnabled,
		"WHATSAPP_ENABLED", config.WhatsAppEnabled)

	return config
}

// parseCommandLineFlags applies flag overrides on top of the environment
// configuration and fills in state-dir derived DSNs.
func parseCommandLineFlags(fs *flag.FlagSet, args []string, config *Config) error {
	fs.StringVar(&config.StateDir, "state-dir", config.StateDir, "state directory for BookPipe data (overrides $BOOKPIPE_STATE_DIR)")
	fs.StringVar(&config.DatabaseDSN, "db-dsn", config.DatabaseDSN, "context store DSN, SQLite path or Postgres URL (overrides $DATABASE_URL)")
	fs.StringVar(&config.WhatsAppDSN, "whatsapp-db-dsn", config.WhatsAppDSN, "whatsmeow device store DSN (overrides $WHATSAPP_DB_DSN)")
	fs.StringVar(&config.APIAddr, "addr", config.APIAddr, "API server address (overrides $API_ADDR)")
	fs.StringVar(&config.Recommender, "recommender", config.Recommender, "recommendation strategy: genai or rules (overrides $BOOKPIPE_RECOMMENDER)")
	fs.StringVar(&config.CompletionMode, "completion", config.CompletionMode, "completion mode: deferred or inline (overrides $BOOKPIPE_COMPLETION_MODE)")
	fs.StringVar(&config.CatalogFile, "catalog", config.CatalogFile, "YAML question catalog file (overrides $BOOKPIPE_CATALOG_FILE)")
	fs.StringVar(&config.RulesFile, "rules", config.RulesFile, "YAML rule table file (overrides $BOOKPIPE_RULES_FILE)")
	fs.StringVar(&config.OpenAIKey, "openai-api-key", config.OpenAIKey, "OpenAI API key (overrides $OPENAI_API_KEY)")
	fs.StringVar(&config.OpenAIModel, "openai-model", config.OpenAIModel, "OpenAI chat model (overrides $OPENAI_MODEL)")
	fs.DurationVar(&config.GenAITimeout, "genai-timeout", config.GenAITimeout, "recommendation backend timeout (overrides $BOOKPIPE_GENAI_TIMEOUT)")
	fs.BoolVar(&config.DialogflowFollowup, "dialogflow-followup", config.DialogflowFollowup, "fire the completion event from the webhook after the last answer")
	fs.StringVar(&config.PruneSchedule, "prune-schedule", config.PruneSchedule, "cron expression for pruning stale sessions, empty disables (overrides $BOOKPIPE_PRUNE_SCHEDULE)")
	fs.DurationVar(&config.Retention, "retention", config.Retention, "age after which idle sessions and dedup records are pruned (overrides $BOOKPIPE_RETENTION)")
	fs.BoolVar(&config.TwilioEnabled, "twilio", config.TwilioEnabled, "enable the Twilio WhatsApp channel")
	fs.StringVar(&config.TwilioPublicURL, "twilio-public-url", config.TwilioPublicURL, "public base URL Twilio posts to, used for signature checks")
	fs.BoolVar(&config.WhatsAppEnabled, "whatsapp", config.WhatsAppEnabled, "enable the direct WhatsApp channel (overrides $WHATSAPP_ENABLED)")
	fs.StringVar(&config.QROutput, "qr-output", config.QROutput, "path to write the WhatsApp login QR code")
	fs.BoolVar(&config.NumericCode, "numeric-code", config.NumericCode, "print the WhatsApp login code as text")

	if err := fs.Parse(args); err != nil {
		return err
	}

	if config.DatabaseDSN == "" {
		config.DatabaseDSN = filepath.Join(config.StateDir, DefaultAppDBFileName)
		slog.Debug("No database DSN provided, defaulting to SQLite", "sqlite_path", config.DatabaseDSN)
	}
	if config.WhatsAppDSN == "" {
		if store.DetectDSNType(config.DatabaseDSN) == "postgres" {
			config.WhatsAppDSN = config.DatabaseDSN
		} else {
			config.WhatsAppDSN = "file:" + filepath.Join(config.StateDir, DefaultWhatsAppDBFileName) + "?_foreign_keys=on"
		}
	}
	if !flow.IsValidCompletionMode(flow.CompletionMode(config.CompletionMode)) {
		return fmt.Errorf("unknown completion mode %q", config.CompletionMode)
	}
	switch flow.RecommenderChoice(config.Recommender) {
	case flow.RecommenderChoiceGenAI, flow.RecommenderChoiceRules:
	default:
		return fmt.Errorf("unknown recommender %q", config.Recommender)
	}
	return nil
}

// usesStateDir reports whether any file-backed database lives in the state directory.
func usesStateDir(config Config) bool {
	if store.DetectDSNType(config.DatabaseDSN) != "postgres" {
		return true
	}
	return config.WhatsAppEnabled && store.DetectDSNType(config.WhatsAppDSN) != "postgres"
}

// buildDispatcher loads the catalog and rules and wires the recommender,
// controller and intent table.
func buildDispatcher(config Config) (*flow.Dispatcher, error) {
	catalog := models.DefaultCatalog()
	if config.CatalogFile != "" {
		loaded, err := flow.LoadCatalogFile(config.CatalogFile)
		if err != nil {
			return nil, err
		}
		catalog = loaded
	}

	rules := flow.DefaultRuleTable()
	if config.RulesFile != "" {
		loaded, err := flow.LoadRuleTableFile(config.RulesFile)
		if err != nil {
			return nil, err
		}
		rules = loaded
	}

	// Left as a nil interface when no client exists so NewRecommender can fall back.
	var generator flow.TextGenerator
	if flow.RecommenderChoice(config.Recommender) == flow.RecommenderChoiceGenAI {
		client, err := genai.NewClient(buildGenAIOptions(config)...)
		switch {
		case err == nil:
			generator = client
		case errors.Is(err, genai.ErrMissingAPIKey):
			slog.Warn("OpenAI API key not set; recommendations will use the rule table")
		default:
			return nil, fmt.Errorf("failed to create GenAI client: %w", err)
		}
	}

	recommender := flow.NewRecommender(flow.RecommenderChoice(config.Recommender), generator, rules, config.GenAITimeout)
	controller, err := flow.NewController(catalog, recommender,
		flow.WithCompletionMode(flow.CompletionMode(config.CompletionMode)))
	if err != nil {
		return nil, err
	}
	return flow.NewDispatcher(flow.NewIntentMap(controller)), nil
}

// buildGenAIOptions constructs GenAI configuration options
func buildGenAIOptions(config Config) []genai.Option {
	var opts []genai.Option
	if config.OpenAIKey != "" {
		opts = append(opts, genai.WithAPIKey(config.OpenAIKey))
	}
	if config.OpenAIModel != "" {
		opts = append(opts, genai.WithModel(config.OpenAIModel))
	}
	if config.OpenAIBaseURL != "" {
		opts = append(opts, genai.WithBaseURL(config.OpenAIBaseURL))
	}
	return opts
}

// buildWhatsAppOptions constructs WhatsApp configuration options
func buildWhatsAppOptions(config Config) []whatsapp.Option {
	opts := []whatsapp.Option{whatsapp.WithDBDSN(config.WhatsAppDSN)}
	if config.QROutput != "" {
		opts = append(opts, whatsapp.WithQRCodeOutput(config.QROutput))
	}
	if config.NumericCode {
		opts = append(opts, whatsapp.WithNumericCode())
	}
	return opts
}

// run wires every component and serves until ctx is cancelled.
func run(ctx context.Context, config Config) error {
	if usesStateDir(config) {
		lock, err := lockfile.AcquireLock(config.StateDir)
		if err != nil {
			return err
		}
		defer lock.Release()
	}

	st, err := store.Open(config.DatabaseDSN)
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	defer st.Close()

	if config.PruneSchedule != "" {
		sched := scheduler.NewScheduler()
		defer sched.Stop()
		if err := sched.AddJob(config.PruneSchedule, scheduler.PruneJob(st, config.Retention, nil)); err != nil {
			return fmt.Errorf("invalid prune schedule %q: %w", config.PruneSchedule, err)
		}
	}

	dispatcher, err := buildDispatcher(config)
	if err != nil {
		return err
	}
	resolver := intent.NewResolver()

	apiOpts := []api.Option{
		api.WithAddr(config.APIAddr),
		api.WithDialogflowFollowup(config.DialogflowFollowup),
	}

	var services []messaging.Service
	if config.TwilioEnabled {
		client, err := twiliowhatsapp.NewClient()
		if err != nil {
			return fmt.Errorf("failed to create Twilio client: %w", err)
		}
		svc := messaging.NewTwilioService(client)
		apiOpts = append(apiOpts, api.WithTwilioService(svc))
		if token := os.Getenv("TWILIO_AUTH_TOKEN"); token != "" {
			apiOpts = append(apiOpts, api.WithTwilioSignatureValidation(twiliowhatsapp.NewSignatureValidator(token), config.TwilioPublicURL))
		}
		services = append(services, svc)
	}
	if config.WhatsAppEnabled {
		client, err := whatsapp.NewClient(ctx, buildWhatsAppOptions(config)...)
		if err != nil {
			return fmt.Errorf("failed to create WhatsApp client: %w", err)
		}
		defer client.Disconnect()
		services = append(services, messaging.NewWhatsAppService(client))
	}

	handlersDone := make(chan struct{})
	handlerCount := 0
	for _, svc := range services {
		if err := svc.Start(ctx); err != nil {
			return fmt.Errorf("failed to start messaging service: %w", err)
		}
		handler := messaging.NewResponseHandler(svc, st, dispatcher, resolver)
		handlerCount++
		go func() {
			handler.Start(ctx)
			handlersDone <- struct{}{}
		}()
	}

	serveErr := api.NewServer(dispatcher, apiOpts...).Run(ctx)

	for _, svc := range services {
		if err := svc.Stop(); err != nil {
			slog.Warn("Failed to stop messaging service", "error", err)
		}
	}
	for i := 0; i < handlerCount; i++ {
		<-handlersDone
	}
	return serveErr
}

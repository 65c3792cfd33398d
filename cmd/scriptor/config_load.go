package main

import (
	"flag"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"time"

	"scriptor/internal/cli"
	"scriptor/internal/config"
	"scriptor/internal/logging"
)

const envPrefix = "SCRIPTOR_"

type Config struct {
	Addr        string
	AuthToken   string
	ConfigPath  string
	Scripts     []string
	Watch       bool
	Imports     map[string]any
	Debounce    time.Duration
	MaxWatches  int
	RunTimeout  time.Duration
	HistorySize int
	LogLevel    logging.Level
	Verbose     bool
	Quiet       bool
	ShowVersion bool
	Sources     map[string]configSource
}

type configSource string

const (
	sourceDefault configSource = "default"
	sourceFile    configSource = "file"
	sourceEnv     configSource = "env"
	sourceFlag    configSource = "flag"
)

type configDefaults struct {
	Addr        string
	Watch       bool
	Debounce    time.Duration
	MaxWatches  int
	RunTimeout  time.Duration
	HistorySize int
	LogLevel    logging.Level
}

type flagValues struct {
	Addr        string
	Token       string
	ConfigPath  string
	Scripts     cli.StringList
	Watch       bool
	Debounce    time.Duration
	MaxWatches  int
	RunTimeout  time.Duration
	HistorySize int
	LogLevel    string
	Verbose     bool
	Quiet       bool
	Help        bool
	Version     bool
	Set         map[string]bool
}

type helpOption struct {
	Name string
	Desc string
}

func defaultConfigValues() configDefaults {
	return configDefaults{
		Addr:        "127.0.0.1:7420",
		Watch:       true,
		Debounce:    100 * time.Millisecond,
		MaxWatches:  100,
		RunTimeout:  30 * time.Second,
		HistorySize: 256,
		LogLevel:    logging.LevelInfo,
	}
}

func loadConfig(args []string) (Config, error) {
	defaults := defaultConfigValues()
	flags, err := parseFlags(args, defaults)
	if err != nil {
		return Config{}, err
	}
	env := cli.Env{Prefix: envPrefix}

	cfg := Config{
		Sources:     make(map[string]configSource),
		ShowVersion: flags.Version,
	}

	configPath := ""
	configPathSource := sourceDefault
	if rawPath, ok := env.String("CONFIG"); ok {
		configPath = rawPath
		configPathSource = sourceEnv
	}
	if flags.Set["config"] {
		configPath = strings.TrimSpace(flags.ConfigPath)
		configPathSource = sourceFlag
		if configPath == "" {
			return Config{}, fmt.Errorf("invalid --config: value cannot be empty")
		}
	}
	cfg.ConfigPath = configPath
	cfg.Sources["config"] = configPathSource

	var file config.File
	if configPath != "" {
		file, err = config.Load(configPath)
		if err != nil {
			return Config{}, fmt.Errorf("load config: %w", err)
		}
	}

	addr := defaults.Addr
	addrSource := sourceDefault
	if file.Addr != "" {
		addr = file.Addr
		addrSource = sourceFile
	}
	if rawAddr, ok := env.String("ADDR"); ok {
		addr = rawAddr
		addrSource = sourceEnv
	}
	if flags.Set["addr"] {
		trimmed := strings.TrimSpace(flags.Addr)
		if trimmed == "" {
			return Config{}, fmt.Errorf("invalid --addr: value cannot be empty")
		}
		addr = trimmed
		addrSource = sourceFlag
	}
	cfg.Addr = addr
	cfg.Sources["addr"] = addrSource

	token := file.Token
	tokenSource := sourceDefault
	if token != "" {
		tokenSource = sourceFile
	}
	if rawToken, ok := env.Raw("TOKEN"); ok {
		token = rawToken
		tokenSource = sourceEnv
	}
	if flags.Set["token"] {
		token = flags.Token
		tokenSource = sourceFlag
	}
	cfg.AuthToken = token
	cfg.Sources["token"] = tokenSource

	scripts := file.Scripts
	scriptsSource := sourceDefault
	if len(scripts) > 0 {
		scriptsSource = sourceFile
	}
	if rawScripts, ok := env.List("SCRIPTS"); ok {
		scripts = rawScripts
		scriptsSource = sourceEnv
	}
	if flags.Set["script"] {
		scripts = []string(flags.Scripts)
		scriptsSource = sourceFlag
	}
	cfg.Scripts = scripts
	cfg.Sources["scripts"] = scriptsSource

	watch := defaults.Watch
	watchSource := sourceDefault
	if file.Watch != nil {
		watch = *file.Watch
		watchSource = sourceFile
	}
	if rawWatch, ok := env.Bool("WATCH"); ok {
		watch = rawWatch
		watchSource = sourceEnv
	}
	if flags.Set["watch"] {
		watch = flags.Watch
		watchSource = sourceFlag
	}
	cfg.Watch = watch
	cfg.Sources["watch"] = watchSource

	cfg.Imports = file.Imports
	if len(file.Imports) > 0 {
		cfg.Sources["imports"] = sourceFile
	} else {
		cfg.Sources["imports"] = sourceDefault
	}

	debounce := defaults.Debounce
	debounceSource := sourceDefault
	if file.Debounce != nil {
		debounce = *file.Debounce
		debounceSource = sourceFile
	}
	if rawDebounce, ok := env.Duration("DEBOUNCE"); ok && rawDebounce >= 0 {
		debounce = rawDebounce
		debounceSource = sourceEnv
	}
	if flags.Set["debounce"] {
		if flags.Debounce < 0 {
			return Config{}, fmt.Errorf("invalid --debounce: must be >= 0")
		}
		debounce = flags.Debounce
		debounceSource = sourceFlag
	}
	cfg.Debounce = debounce
	cfg.Sources["debounce"] = debounceSource

	maxWatches := defaults.MaxWatches
	maxWatchesSource := sourceDefault
	if file.MaxWatches != nil {
		maxWatches = *file.MaxWatches
		maxWatchesSource = sourceFile
	}
	if rawMax, ok := env.Int("MAX_WATCHES"); ok && rawMax > 0 {
		maxWatches = rawMax
		maxWatchesSource = sourceEnv
	}
	if flags.Set["max-watches"] {
		if flags.MaxWatches <= 0 {
			return Config{}, fmt.Errorf("invalid --max-watches: must be > 0")
		}
		maxWatches = flags.MaxWatches
		maxWatchesSource = sourceFlag
	}
	cfg.MaxWatches = maxWatches
	cfg.Sources["max-watches"] = maxWatchesSource

	runTimeout := defaults.RunTimeout
	runTimeoutSource := sourceDefault
	if rawTimeout, ok := env.Duration("RUN_TIMEOUT"); ok && rawTimeout > 0 {
		runTimeout = rawTimeout
		runTimeoutSource = sourceEnv
	}
	if flags.Set["run-timeout"] {
		if flags.RunTimeout <= 0 {
			return Config{}, fmt.Errorf("invalid --run-timeout: must be > 0")
		}
		runTimeout = flags.RunTimeout
		runTimeoutSource = sourceFlag
	}
	cfg.RunTimeout = runTimeout
	cfg.Sources["run-timeout"] = runTimeoutSource

	historySize := defaults.HistorySize
	historySource := sourceDefault
	if rawHistory, ok := env.Int("EVENT_HISTORY"); ok && rawHistory >= 0 {
		historySize = rawHistory
		historySource = sourceEnv
	}
	if flags.Set["event-history"] {
		if flags.HistorySize < 0 {
			return Config{}, fmt.Errorf("invalid --event-history: must be >= 0")
		}
		historySize = flags.HistorySize
		historySource = sourceFlag
	}
	cfg.HistorySize = historySize
	cfg.Sources["event-history"] = historySource

	logLevel := defaults.LogLevel
	logLevelSource := sourceDefault
	if file.LogLevel != "" {
		parsed, ok := logging.ParseLevel(file.LogLevel)
		if !ok {
			return Config{}, fmt.Errorf("invalid log_level %q in %s", file.LogLevel, configPath)
		}
		logLevel = parsed
		logLevelSource = sourceFile
	}
	if rawLevel, ok := env.String("LOG_LEVEL"); ok {
		if parsed, ok := logging.ParseLevel(rawLevel); ok {
			logLevel = parsed
			logLevelSource = sourceEnv
		}
	}
	if flags.Set["log-level"] {
		parsed, ok := logging.ParseLevel(flags.LogLevel)
		if !ok {
			return Config{}, fmt.Errorf("invalid --log-level: %q", flags.LogLevel)
		}
		logLevel = parsed
		logLevelSource = sourceFlag
	}

	verboseSource := sourceDefault
	if flags.Set["verbose"] {
		cfg.Verbose = flags.Verbose
		verboseSource = sourceFlag
	}
	cfg.Sources["verbose"] = verboseSource

	quietSource := sourceDefault
	if flags.Set["quiet"] {
		cfg.Quiet = flags.Quiet
		quietSource = sourceFlag
	}
	cfg.Sources["quiet"] = quietSource

	if cfg.Verbose && cfg.Quiet {
		return Config{}, fmt.Errorf("--verbose and --quiet are mutually exclusive")
	}
	if cfg.Verbose {
		logLevel = logging.LevelDebug
		logLevelSource = sourceFlag
	} else if cfg.Quiet {
		logLevel = logging.LevelWarning
		logLevelSource = sourceFlag
	}
	cfg.LogLevel = logLevel
	cfg.Sources["log-level"] = logLevelSource

	return cfg, nil
}

func parseFlags(args []string, defaults configDefaults) (flagValues, error) {
	if args == nil {
		args = []string{}
	}
	fs := flag.NewFlagSet("scriptor", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	addr := fs.String("addr", defaults.Addr, "HTTP listen address")
	token := fs.String("token", "", "Auth token for REST/WS")
	configPath := fs.String("config", "", "YAML configuration file")
	var scripts cli.StringList
	fs.Var(&scripts, "script", "Script to add at startup (repeatable)")
	watch := fs.Bool("watch", defaults.Watch, "Watch startup scripts for changes")
	debounce := fs.Duration("debounce", defaults.Debounce, "File event debounce window")
	maxWatches := fs.Int("max-watches", defaults.MaxWatches, "Max watched directories")
	runTimeout := fs.Duration("run-timeout", defaults.RunTimeout, "Timeout for a single script run")
	historySize := fs.Int("event-history", defaults.HistorySize, "Lifecycle events retained for replay")
	logLevel := fs.String("log-level", string(defaults.LogLevel), "Log level (debug, info, warning, error)")
	verbose := fs.Bool("verbose", false, "Enable verbose logging")
	quiet := fs.Bool("quiet", false, "Reduce logging to warnings")
	helpVersion := cli.AddHelpVersionFlags(fs, "Show help", "Print version and exit")

	fs.Usage = func() {
		printHelp(fs.Output(), defaults)
	}

	if err := fs.Parse(args); err != nil {
		return flagValues{}, err
	}
	if fs.NArg() > 0 {
		return flagValues{}, fmt.Errorf("unexpected arguments: %s", strings.Join(fs.Args(), " "))
	}

	set := make(map[string]bool)
	fs.Visit(func(flag *flag.Flag) {
		set[flag.Name] = true
	})

	flags := flagValues{
		Addr:        *addr,
		Token:       *token,
		ConfigPath:  *configPath,
		Scripts:     scripts,
		Watch:       *watch,
		Debounce:    *debounce,
		MaxWatches:  *maxWatches,
		RunTimeout:  *runTimeout,
		HistorySize: *historySize,
		LogLevel:    *logLevel,
		Verbose:     *verbose,
		Quiet:       *quiet,
		Help:        helpVersion.Help,
		Version:     helpVersion.Version,
		Set:         set,
	}

	if flags.Help {
		set["help"] = true
		fs.SetOutput(os.Stdout)
		fs.Usage()
		return flags, flag.ErrHelp
	}

	return flags, nil
}

func printHelp(out io.Writer, defaults configDefaults) {
	fmt.Fprintln(out, "Usage: scriptor [options]")
	fmt.Fprintln(out, "")
	fmt.Fprintln(out, "Serve a lazily loaded, file watched script registry over HTTP")
	fmt.Fprintln(out, "")
	fmt.Fprintln(out, "Options:")

	writeOptionGroup(out, "Server", []helpOption{
		{Name: "--addr ADDR", Desc: fmt.Sprintf("HTTP listen address (env: SCRIPTOR_ADDR, default: %s)", defaults.Addr)},
		{Name: "--token TOKEN", Desc: "Auth token for REST/WS (env: SCRIPTOR_TOKEN, default: none)"},
		{Name: "--run-timeout DURATION", Desc: fmt.Sprintf("Timeout for a single run (env: SCRIPTOR_RUN_TIMEOUT, default: %s)", defaults.RunTimeout)},
		{Name: "--event-history N", Desc: fmt.Sprintf("Events kept for replay (env: SCRIPTOR_EVENT_HISTORY, default: %d)", defaults.HistorySize)},
	})
	writeOptionGroup(out, "Scripts", []helpOption{
		{Name: "--config PATH", Desc: "YAML configuration file (env: SCRIPTOR_CONFIG)"},
		{Name: "--script PATH", Desc: "Script to add at startup, repeatable (env: SCRIPTOR_SCRIPTS)"},
		{Name: "--watch", Desc: fmt.Sprintf("Watch startup scripts (env: SCRIPTOR_WATCH, default: %t)", defaults.Watch)},
		{Name: "--debounce DURATION", Desc: fmt.Sprintf("File event debounce (env: SCRIPTOR_DEBOUNCE, default: %s)", defaults.Debounce)},
		{Name: "--max-watches N", Desc: fmt.Sprintf("Max watched directories (env: SCRIPTOR_MAX_WATCHES, default: %d)", defaults.MaxWatches)},
	})
	writeOptionGroup(out, "Logging", []helpOption{
		{Name: "--log-level LEVEL", Desc: fmt.Sprintf("debug, info, warning or error (env: SCRIPTOR_LOG_LEVEL, default: %s)", defaults.LogLevel)},
		{Name: "--verbose", Desc: "Enable debug logging"},
		{Name: "--quiet", Desc: "Only log warnings and errors"},
		{Name: "-h, --help", Desc: "Show help"},
		{Name: "-v, --version", Desc: "Print version and exit"},
	})
}

func writeOptionGroup(out io.Writer, title string, options []helpOption) {
	fmt.Fprintln(out, "")
	fmt.Fprintf(out, "%s:\n", title)
	for _, option := range options {
		fmt.Fprintf(out, "  %-24s %s\n", option.Name, option.Desc)
	}
}

func logStartupConfig(logger *logging.Logger, cfg Config) {
	if logger == nil {
		return
	}
	fields := map[string]string{
		"addr":        cfg.Addr,
		"scripts":     fmt.Sprintf("%d", len(cfg.Scripts)),
		"watch":       fmt.Sprintf("%t", cfg.Watch),
		"debounce":    cfg.Debounce.String(),
		"max_watches": fmt.Sprintf("%d", cfg.MaxWatches),
		"auth":        formatTokenState(cfg.AuthToken),
	}
	if cfg.ConfigPath != "" {
		fields["config"] = cfg.ConfigPath
	}
	logger.Debug("startup config", fields)

	overridden := []string{}
	for name, source := range cfg.Sources {
		if source != sourceDefault {
			overridden = append(overridden, name+"="+string(source))
		}
	}
	if len(overridden) > 0 {
		sort.Strings(overridden)
		logger.Debug("config sources", map[string]string{
			"sources": strings.Join(overridden, " "),
		})
	}
}

func formatTokenState(token string) string {
	if token == "" {
		return "disabled"
	}
	return "token ****"
}

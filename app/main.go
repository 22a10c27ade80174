package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	log "github.com/go-pkgz/lgr"
	"github.com/go-pkgz/repeater/v2"
	"github.com/umputun/go-flags"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/umputun/vigil/app/api"
	"github.com/umputun/vigil/app/config"
	"github.com/umputun/vigil/app/desk"
	"github.com/umputun/vigil/app/export"
	"github.com/umputun/vigil/app/notify"
	"github.com/umputun/vigil/app/store"
	"github.com/umputun/vigil/app/web"
)

var opts struct {
	Backend  string        `short:"b" long:"backend" env:"VIGIL_BACKEND" default:"http://localhost:8080" description:"redaction backend URL"`
	Conf     string        `short:"f" long:"conf" env:"VIGIL_CONF" description:"YAML desk config file, overrides matching flags"`
	Interval time.Duration `long:"interval" env:"VIGIL_INTERVAL" default:"2s" description:"status poll interval"`

	Store struct {
		Engine string `long:"engine" env:"ENGINE" default:"file" choice:"file" choice:"sqlite" description:"persistence engine"` //nolint
		Path   string `long:"path" env:"PATH" default:"vigil-state.json" description:"state file or database location"`
	} `group:"store" namespace:"store" env-namespace:"VIGIL_STORE"`

	Resume struct {
		Concurrency int           `long:"concurrency" env:"CONCURRENCY" default:"4" description:"parallel startup probes"`
		Attempts    int           `long:"attempts" env:"ATTEMPTS" default:"3" description:"startup probe attempts"`
		Duration    time.Duration `long:"duration" env:"DURATION" default:"500ms" description:"delay between probe attempts"`
	} `group:"resume" namespace:"resume" env-namespace:"VIGIL_RESUME"`

	Web struct {
		Address string `long:"address" env:"ADDRESS" default:"localhost:8880" description:"listen address for the local API"`
	} `group:"web" namespace:"web" env-namespace:"VIGIL_WEB"`

	Notify struct {
		EnabledCompletion bool          `long:"enabled-complete" env:"ENABLED_COMPLETE" description:"enable email notifications on task completion"`
		EnabledExpiry     bool          `long:"enabled-expiry" env:"ENABLED_EXPIRY" description:"enable email notifications on task expiry"`
		SMTPHost          string        `long:"smtp-host" env:"SMTP_HOST" description:"SMTP host"`
		SMTPPort          int           `long:"smtp-port" env:"SMTP_PORT" description:"SMTP port"`
		SMTPUsername      string        `long:"smtp-username" env:"SMTP_USERNAME" description:"SMTP user name"`
		SMTPPassword      string        `long:"smtp-password" env:"SMTP_PASSWORD" description:"SMTP password"`
		SMTPTLS           bool          `long:"smtp-tls" env:"SMTP_TLS" description:"enable SMTP TLS"`
		SMTPStartTLS      bool          `long:"smtp-starttls" env:"SMTP_STARTTLS" description:"enable SMTP StartTLS"`
		SMTPTimeOut       time.Duration `long:"smtp-timeout" env:"SMTP_TIMEOUT" default:"10s" description:"SMTP TCP connection timeout"`
		From              string        `long:"from" env:"FROM" description:"SMTP from email"`
		To                []string      `long:"to" env:"TO" description:"SMTP to email(s)" env-delim:","`
		HostName          string        `long:"host" env:"HOSTNAME" description:"host name running vigil"`
	} `group:"notify" namespace:"notify" env-namespace:"VIGIL_NOTIFY"`

	Log struct {
		Enabled         bool   `long:"enabled" env:"ENABLED" description:"enable logging to file"`
		Filename        string `long:"filename" env:"FILE" default:"vigil.log" description:"log file name"`
		MaxSize         int    `long:"max-size" env:"MAX_SIZE" default:"100" description:"max log size in megabytes"`
		MaxBackups      int    `long:"max-backups" env:"MAX_BACKUPS" default:"7" description:"max number of rotated files"`
		MaxAge          int    `long:"max-age" env:"MAX_AGE" default:"0" description:"max age of rotated files in days"`
		EnabledCompress bool   `long:"enabled-compress" env:"ENABLED_COMPRESS" description:"enable compression of rotated files"`
	} `group:"log" namespace:"log" env-namespace:"VIGIL_LOG"`

	Dbg bool `long:"dbg" env:"VIGIL_DEBUG" description:"debug mode"`
}

var revision = "unknown"

func main() {
	fmt.Printf("vigil %s\n", revision)

	if _, err := flags.Parse(&opts); err != nil {
		os.Exit(2)
	}
	setupLogs()

	defer func() {
		if x := recover(); x != nil {
			log.Printf("[WARN] run time panic:\n%v", x)
			panic(x)
		}
	}()

	if opts.Conf != "" {
		if err := applyConfigFile(opts.Conf); err != nil {
			log.Printf("[ERROR] %v", err)
			os.Exit(1)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	signals(cancel) // handle SIGQUIT and SIGTERM

	st, err := makeStore()
	if err != nil {
		log.Printf("[ERROR] failed to make store, %v", err)
		os.Exit(1)
	}
	defer func() {
		if err := st.Close(); err != nil {
			log.Printf("[WARN] failed to close store, %v", err)
		}
	}()

	client := api.New(opts.Backend)
	log.Printf("[INFO] %s", client)

	manager := &desk.Manager{
		Client:            client,
		Store:             st,
		Interval:          opts.Interval,
		ResumeConcurrency: opts.Resume.Concurrency,
		Probe:             repeater.NewFixed(opts.Resume.Attempts, opts.Resume.Duration),
	}
	if notifier := makeNotifier(); notifier != nil {
		log.Printf("[INFO] %s", notifier)
		manager.Events = notifier
	}

	server := &web.Server{
		Desk:     manager,
		Exporter: export.New(manager),
		Backend:  client,
		Version:  revision,
	}
	go func() {
		if err := server.Run(ctx, opts.Web.Address); err != nil {
			log.Printf("[WARN] web server terminated, %v", err)
			cancel()
		}
	}()

	manager.Do(ctx)
}

// applyConfigFile loads the YAML config and overrides matching options
func applyConfigFile(path string) error {
	cfg, err := config.Load(path)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if cfg.Backend != "" {
		opts.Backend = cfg.Backend
	}
	d, err := cfg.PollIntervalDuration()
	if err != nil {
		return err
	}
	if d > 0 {
		opts.Interval = d
	}
	if cfg.Store.Engine != "" {
		opts.Store.Engine = cfg.Store.Engine
	}
	if cfg.Store.Path != "" {
		opts.Store.Path = cfg.Store.Path
	}
	if cfg.Web.Address != "" {
		opts.Web.Address = cfg.Web.Address
	}
	if cfg.Resume.Concurrency > 0 {
		opts.Resume.Concurrency = cfg.Resume.Concurrency
	}
	if cfg.Resume.Attempts > 0 {
		opts.Resume.Attempts = cfg.Resume.Attempts
	}
	return nil
}

// makeStore picks the persistence engine from options
func makeStore() (store.Interface, error) {
	if opts.Store.Engine == "sqlite" {
		return store.NewSQLiteStore(opts.Store.Path)
	}
	return store.NewFileStore(opts.Store.Path)
}

func makeNotifier() *notify.Email {
	if !opts.Notify.EnabledCompletion && !opts.Notify.EnabledExpiry {
		return nil
	}

	from := opts.Notify.From
	if from == "" {
		from = "vigil@" + makeHostName()
	}

	return notify.NewEmail(notify.EmailParams{
		Host:         opts.Notify.SMTPHost,
		Port:         opts.Notify.SMTPPort,
		TLS:          opts.Notify.SMTPTLS,
		StartTLS:     opts.Notify.SMTPStartTLS,
		Username:     opts.Notify.SMTPUsername,
		Password:     opts.Notify.SMTPPassword,
		TimeOut:      opts.Notify.SMTPTimeOut,
		From:         from,
		To:           opts.Notify.To,
		OnCompletion: opts.Notify.EnabledCompletion,
		OnExpiry:     opts.Notify.EnabledExpiry,
		HostName:     makeHostName(),
	})
}

func makeHostName() string {
	if opts.Notify.HostName != "" {
		return opts.Notify.HostName
	}
	host, err := os.Hostname()
	if err != nil {
		return "unknown"
	}
	return host
}

// setupLogs configures logging and returns the effective writer,
// a rotated file when file logging enabled and stdout otherwise
func setupLogs() io.Writer {
	logOpts := []log.Option{log.Msec, log.LevelBraces}
	if opts.Dbg {
		logOpts = []log.Option{log.Debug, log.Msec, log.LevelBraces, log.CallerFunc, log.CallerPkg, log.CallerFile}
	}

	if !opts.Log.Enabled {
		log.Setup(logOpts...)
		return os.Stdout
	}

	fileWriter := &lumberjack.Logger{
		Filename:   opts.Log.Filename,
		MaxSize:    opts.Log.MaxSize,
		MaxBackups: opts.Log.MaxBackups,
		MaxAge:     opts.Log.MaxAge,
		Compress:   opts.Log.EnabledCompress,
	}
	logOpts = append(logOpts, log.Out(io.MultiWriter(os.Stdout, fileWriter)))
	log.Setup(logOpts...)
	return fileWriter
}

func signals(cancel context.CancelFunc) {
	sigChan := make(chan os.Signal, 1)
	go func() {
		stacktrace := make([]byte, 8192)
		for sig := range sigChan {
			if sig == syscall.SIGQUIT { // catch SIGQUIT and print stack traces
				length := runtime.Stack(stacktrace, true)
				fmt.Println(string(stacktrace[:length]))
				continue
			}
			cancel() // terminate on SIGTERM and SIGINT
		}
	}()
	signal.Notify(sigChan, syscall.SIGQUIT, syscall.SIGTERM, syscall.SIGINT)
}

package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"hearth/commands"
	"hearth/config"
	"hearth/dispatcher"
	"hearth/gateway"
	"hearth/jobs"
	"hearth/logger"
	"hearth/report"
	"hearth/storage"

	"go.uber.org/zap"
)

const (
	attachmentProbeLimit   = 4
	attachmentProbeTimeout = 10 * time.Second
)

type Application struct {
	Config     *config.Config
	Logger     *zap.SugaredLogger
	Reporter   report.Reporter
	Storage    jobs.RunStorage
	Families   *jobs.Families
	Schedules  map[string]jobs.ScheduleSpec
	Runners    []*jobs.Runner
	Dispatcher *dispatcher.Dispatcher
	Source     gatewaySource
	close      func() error
}

type gatewaySource interface {
	dispatcher.Source
	commands.Replier
	Ready() <-chan struct{}
}

func main() {
	configPath := flag.String("config", "", "path to the configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "hearth: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New(cfg.Logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "hearth: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	app, err := newApplication(ctx, cfg, log)
	if err != nil {
		log.Fatalf("starting hearth - %v", err)
	}

	if err = run(ctx, app); err != nil {
		log.Errorf("hearth stopped with error - %v", err)
		os.Exit(1)
	}
}

func newApplication(ctx context.Context, cfg *config.Config, log *zap.SugaredLogger) (Application, error) {
	reporter := report.Multi{report.NewLogger(log)}
	if cfg.ErrorWebhook.Url != "" {
		reporter = append(reporter, report.NewWebhook(cfg.ErrorWebhook.Url, gateway.Hearth, cfg.ErrorWebhook.Timeout, log))
	}

	pg, err := storage.NewPgsqlConnection(ctx, cfg.Postgres.ConnectionString)
	if err != nil {
		return Application{}, fmt.Errorf("connect postgres - %w", err)
	}

	names := make([]string, 0, len(cfg.Jobs))
	for _, j := range cfg.Jobs {
		names = append(names, j.Name)
	}
	locks := jobs.NewLocks(names...)

	var (
		families  []*jobs.Family
		runners   []*jobs.Runner
		schedules = make(map[string]jobs.ScheduleSpec, len(cfg.Jobs))
	)
	for _, j := range cfg.Jobs {
		lock, err := locks.Get(j.Name)
		if err != nil {
			return Application{}, err
		}

		body := jobs.NewHttpJob(j.Name, j.Endpoints, j.Limit, j.Timeout, log)
		family := jobs.NewFamily(lock, body.Run, pg, reporter, log)
		families = append(families, family)

		if j.Schedule == "" {
			continue
		}

		rp, err := j.RetryPolicy()
		if err != nil {
			return Application{}, fmt.Errorf("job %s - %w", j.Name, err)
		}

		runner, err := jobs.NewRunner(family, j.ScheduleSpec(), log, jobs.WithRetryPolicy(rp))
		if err != nil {
			return Application{}, fmt.Errorf("job %s - %w", j.Name, err)
		}
		runners = append(runners, runner)
		schedules[j.Name] = j.ScheduleSpec()
	}

	source, closeSource, err := newGatewaySource(cfg.Gateway, log)
	if err != nil {
		pg.Close()
		return Application{}, err
	}

	app := Application{
		Config:     cfg,
		Logger:     log,
		Reporter:   reporter,
		Storage:    pg,
		Families:   jobs.NewFamilies(families...),
		Schedules:  schedules,
		Runners:    runners,
		Dispatcher: dispatcher.New(reporter, log),
		Source:     source,
		close: func() error {
			pg.Close()
			return closeSource()
		},
	}

	subscribeHandlers(app)

	return app, nil
}

func newGatewaySource(cfg config.GatewayConfig, log *zap.SugaredLogger) (gatewaySource, func() error, error) {
	if cfg.Transport == config.WebsocketGateway {
		return gateway.NewWebsocketSource(cfg.WebsocketUrl, log), func() error { return nil }, nil
	}

	transport, err := gateway.NewRabbitMqTransport(cfg.AmqpUrl, cfg.Exchange, cfg.Queue, cfg.EventKinds, log)
	if err != nil {
		return nil, nil, fmt.Errorf("connect rabbitmq - %w", err)
	}

	return rabbitMqSource{
		RabbitMqTransport: transport,
		RabbitMqReplier:   gateway.RabbitMqReplier{Transport: transport, Exchange: cfg.ReplyExchange},
	}, transport.Close, nil
}

type rabbitMqSource struct {
	*gateway.RabbitMqTransport
	gateway.RabbitMqReplier
}

func subscribeHandlers(app Application) {
	trigger := commands.TriggerJobHandler{Families: app.Families}

	app.Dispatcher.Subscribe(dispatcher.OperatorCommand, commands.OperatorCommandHandler{
		Trigger:  trigger,
		Families: app.Families,
		Replier:  app.Source,
		Logger:   app.Logger,
	}.Handle)

	app.Dispatcher.Subscribe(dispatcher.MessageCreated, commands.AttachmentProbeHandler{
		Client: &http.Client{Timeout: attachmentProbeTimeout},
		Limit:  attachmentProbeLimit,
		Logger: app.Logger,
	}.Handle)

	if _, err := app.Families.Get(commands.ThreadSyncJob); err == nil {
		app.Dispatcher.Subscribe(dispatcher.ThreadCreated, commands.ThreadCreatedHandler{
			Trigger: trigger,
			Job:     commands.ThreadSyncJob,
			Logger:  app.Logger,
		}.Handle)
	}
}

// run serves until ctx ends, then shuts down in order: http server, gateway
// intake, dispatcher drain, job runners and finally storage and transport.
func run(ctx context.Context, app Application) error {
	srv := &http.Server{
		Addr:    ":" + app.Config.Port,
		Handler: newHttpHandler(app),
	}

	go func() {
		app.Logger.Infof("listening on %v", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			app.Logger.Errorf("http server error - %v", err)
		}
	}()

	for _, runner := range app.Runners {
		if err := runner.Start(); err != nil {
			return err
		}
	}

	intakeCtx, stopIntake := context.WithCancel(ctx)
	defer stopIntake()

	intake := make(chan error, 1)
	go func() {
		intake <- app.Dispatcher.Run(intakeCtx, app.Source)
	}()

	go func() {
		select {
		case <-app.Source.Ready():
			app.Logger.Infoln("gateway ready, dispatching events")
		case <-intakeCtx.Done():
		}
	}()

	select {
	case <-ctx.Done():
		app.Logger.Infoln("shutdown requested")
	case err := <-intake:
		app.Logger.Errorf("gateway intake ended - %v", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), app.Config.ShutdownTimeout)
	defer cancel()

	var errs []error
	if err := srv.Shutdown(shutdownCtx); err != nil {
		errs = append(errs, fmt.Errorf("http server shutdown - %w", err))
	}

	stopIntake()

	if err := app.Dispatcher.Shutdown(shutdownCtx); err != nil {
		errs = append(errs, err)
	}

	for _, runner := range app.Runners {
		if err := runner.Stop(shutdownCtx); err != nil {
			errs = append(errs, err)
		}
	}

	if err := app.close(); err != nil {
		errs = append(errs, err)
	}

	app.Logger.Infoln("hearth stopped")

	return errors.Join(errs...)
}

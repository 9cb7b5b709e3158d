package bot

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"

	"rektbot/src/auth"
	"rektbot/src/connectors"
	"rektbot/src/controller"
	"rektbot/src/database"
	"rektbot/src/dispatcher"
	"rektbot/src/executors"
	"rektbot/src/metrics"
	"rektbot/src/notify"
	"rektbot/src/orderstore"
	"rektbot/src/reconciler"
	"rektbot/src/repository"
	"rektbot/src/server"
)

type Bot struct {
	Log *logrus.Entry
}

func (b *Bot) Start() error {
	config := GetConfig()
	engineConfig := executors.GetConfig()
	connectorConfig := connectors.GetConfig()
	serverConfig := server.GetConfig()

	log := b.Log
	if log == nil {
		log = logrus.WithField("cmd", "bot")
	}

	limits, err := controller.GetConfig().Limits()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(
		context.Background(),
		os.Interrupt,
		syscall.SIGTERM,
	)
	defer stop()

	// Initialize main (read/write) database
	if err := database.InitMainDB(); err != nil {
		log.WithError(err).Error("Failed to connect to main database")
		return err
	}

	// Initialize read-only database
	if err := database.InitReadOnlyDB(); err != nil {
		log.WithError(err).Error("Failed to connect to read-only database")
		return err
	}

	recorder := metrics.New(config.MetricsNamespace)

	channel, err := connectors.NewNostrChannel(connectorConfig, log)
	if err != nil {
		return err
	}
	venue := connectors.NewLNMarketsClient(connectorConfig)
	rail := connectors.NewLightningClient(connectorConfig)
	resolver := connectors.NewLNURLClient(connectorConfig)

	store := orderstore.New(repository.NewOrderRepository(), log)
	dispatch := dispatcher.New(engineConfig.DispatchBuffer, log)
	notifier := notify.New(channel, log)

	positions := reconciler.NewPositionReconciler(store, venue, log)
	withdrawals := reconciler.NewWithdrawalReconciler(
		store,
		repository.NewWithdrawalRepository(),
		dispatch,
		venue,
		resolver,
		notifier,
		log,
	)
	commands := controller.NewCommandController(
		store,
		repository.NewProcessedMessageRepository(),
		withdrawals,
		notifier,
		limits,
		recorder,
		log,
	)

	engine, err := executors.New(engineConfig, executors.Deps{
		Store:       store,
		Rail:        rail,
		Venue:       venue,
		Channel:     channel,
		Commands:    commands,
		Dispatcher:  dispatch,
		Positions:   positions,
		Withdrawals: withdrawals,
		Notifier:    notifier,
		Exceptions:  repository.NewExceptionRepository(),
		Metrics:     recorder,
		Log:         log,
	})
	if err != nil {
		return err
	}

	routes := server.Routes{
		Orders:  repository.NewReadOnlyOrderRepository(),
		Engine:  engine,
		Metrics: recorder.Handler(),
	}
	if hash := auth.GetConfig().AdminTokenHash; hash != "" {
		guard, err := auth.RequireAdmin(hash)
		if err != nil {
			return err
		}
		routes.AdminAuth = guard
	}

	serverErr := make(chan error, 1)
	go func() {
		err := server.Start(ctx, *serverConfig, server.NewRouter(routes))
		if err != nil {
			log.WithError(err).Error("admin API crashed")
			stop()
		}
		serverErr <- err
	}()

	channel.Start(ctx)
	log.WithFields(map[string]interface{}{
		"npub":   channel.Npub(),
		"relays": connectorConfig.Relays(),
	}).Info("listening for commands")

	runErr := engine.Run(ctx)
	stop()

	// ctx is done; results still have to reach the database
	engine.Flush(context.Background())

	if err := <-serverErr; err != nil && runErr == nil {
		return err
	}
	return runErr
}

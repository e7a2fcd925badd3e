package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	simpleproducer "github.com/merchlift/email-tracking/internal/amqp/producer"
	"github.com/merchlift/email-tracking/internal/app"
	"github.com/merchlift/email-tracking/internal/logger"
	internalhttp "github.com/merchlift/email-tracking/internal/server/http"
	sqlstorage "github.com/merchlift/email-tracking/internal/storage/sql"
	"github.com/merchlift/email-tracking/internal/version"
	"github.com/streadway/amqp"
)

var (
	configFile string
)

func init() {
	flag.StringVar(&configFile, "config", "/etc/email-tracking/config.json", "Path to configuration file")
}

func main() {
	flag.Parse()

	if flag.Arg(0) == "version" {
		version.PrintVersion()

		return
	}

	config, err := NewConfig()
	if err != nil {
		log.Fatal(err)
	}

	logg := logger.New(config.Logger.Level, config.Logger.File)

	ctx, cancel := context.WithCancel(context.Background())

	storage, err := initStorage(ctx, config)
	if err != nil {
		logg.Error(err.Error())

		log.Fatal(err)
	}

	producer, err := initNotifier(config)
	if err != nil {
		logg.Error(err.Error())

		log.Fatal(err)
	}

	// producer is nil when amqp is not configured; keep the interface nil too.
	var notifier app.Notifier
	if producer != nil {
		notifier = producer
	}

	trackingApp := app.New(logg, storage, notifier, config.Tracking.BaseURL)

	server := internalhttp.NewServer(trackingApp, config.HTTP.Host, config.HTTP.Port)

	defer cancel()

	go func() {
		signals := make(chan os.Signal, 1)
		signal.Notify(signals, syscall.SIGINT, syscall.SIGHUP)

		select {
		case <-ctx.Done():
			return
		case <-signals:
		}

		signal.Stop(signals)
		cancel()

		ctx, cancel := context.WithTimeout(context.Background(), time.Second*3)
		defer cancel()

		if err := server.Stop(ctx); err != nil {
			logg.Error("failed to stop http server: " + err.Error())
		}
	}()

	logg.Info("email tracking service is running...")

	if err := server.Start(); err != nil {
		logg.Error("failed to start http server: " + err.Error())
		cancel()
		os.Exit(1) //nolint:gocritic
	}
}

func initStorage(ctx context.Context, config Config) (*sqlstorage.Storage, error) {
	storage, err := sqlstorage.New(ctx, config.DB.ConnectionString)
	if err != nil {
		return nil, fmt.Errorf("can't create new storage instance, %w", err)
	}

	err = storage.Connect(ctx)
	if err != nil {
		return nil, fmt.Errorf("can't connect to storage, %w", err)
	}

	return storage, nil
}

func initNotifier(config Config) (*simpleproducer.Producer, error) {
	if config.AMQP.URI == "" {
		return nil, nil
	}

	conn, err := amqp.Dial(config.AMQP.URI)
	if err != nil {
		return nil, fmt.Errorf("can't connect to amqp, %w", err)
	}

	producer := simpleproducer.New(config.AMQP.Name, conn)

	if err := producer.Connect(); err != nil {
		return nil, fmt.Errorf("can't connect producer, %w", err)
	}

	return producer, nil
}

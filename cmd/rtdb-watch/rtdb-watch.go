package main

import (
	"context"
	"fmt"
	"net/http"
	"os"

	"github.com/diwise/service-chassis/pkg/infrastructure/buildinfo"
	"github.com/diwise/service-chassis/pkg/infrastructure/env"
	"github.com/diwise/service-chassis/pkg/infrastructure/o11y"
	"github.com/rediaas/firebase-rest/internal/pkg/application/recorder"
	"github.com/rediaas/firebase-rest/internal/pkg/application/watcher"
	"github.com/rediaas/firebase-rest/internal/pkg/infrastructure/router"
	"github.com/rediaas/firebase-rest/internal/pkg/presentation/api"
)

const (
	appName string = "rtdb-watch"
)

func main() {
	appVersion := buildinfo.SourceVersion()

	ctx, log, cleanup := o11y.Init(context.Background(), appName, appVersion, "json")
	defer cleanup()

	cfg := LoadConfiguration(ctx)

	targetsFile, err := os.Open(cfg.targetsPath)
	if err != nil {
		log.Error("failed to open watch target configuration", "file", cfg.targetsPath, "err", err.Error())
		os.Exit(1)
	}

	watchConfig, err := watcher.LoadConfiguration(targetsFile)
	targetsFile.Close()
	if err != nil {
		log.Error("failed to load watch target configuration", "err", err.Error())
		os.Exit(1)
	}

	var sink watcher.EventSink

	if cfg.postgres.host != "" {
		rec, err := recorder.New(ctx, cfg.postgres.ConnStr())
		if err != nil {
			log.Error("failed to connect to database", "err", err.Error())
			os.Exit(1)
		}

		err = rec.Start()
		if err != nil {
			log.Error("failed to start recorder", "err", err.Error())
			os.Exit(1)
		}
		defer rec.Stop()

		sink = rec
	} else {
		log.Info("no database configured, events will be counted but not recorded")
	}

	w := watcher.New(ctx, cfg.host, watchConfig, sink)

	err = w.Start()
	if err != nil {
		log.Error("failed to start watcher", "err", err.Error())
		os.Exit(1)
	}
	defer w.Stop()

	r := router.New(appName)
	api.RegisterHandlers(r, w)

	log.Info("starting to listen for connections", "port", cfg.servicePort)

	err = http.ListenAndServe(":"+cfg.servicePort, r)
	if err != nil {
		log.Error("failed to listen for connections", "err", err.Error())
		os.Exit(1)
	}
}

type Config struct {
	host        string
	targetsPath string
	servicePort string

	postgres PostgresConfig
}

type PostgresConfig struct {
	host     string
	user     string
	password string
	port     string
	dbname   string
	sslmode  string
}

func LoadConfiguration(ctx context.Context) Config {
	return Config{
		host:        env.GetVariableOrDefault(ctx, "FIREBASE_HOST", ""),
		targetsPath: env.GetVariableOrDefault(ctx, "WATCH_TARGETS_FILE", "/opt/rtdb-watch/config/targets.yaml"),
		servicePort: env.GetVariableOrDefault(ctx, "SERVICE_PORT", "8080"),

		postgres: PostgresConfig{
			host:     env.GetVariableOrDefault(ctx, "POSTGRES_HOST", ""),
			user:     env.GetVariableOrDefault(ctx, "POSTGRES_USER", ""),
			password: env.GetVariableOrDefault(ctx, "POSTGRES_PASSWORD", ""),
			port:     env.GetVariableOrDefault(ctx, "POSTGRES_PORT", "5432"),
			dbname:   env.GetVariableOrDefault(ctx, "POSTGRES_DBNAME", "rtdb"),
			sslmode:  env.GetVariableOrDefault(ctx, "POSTGRES_SSLMODE", "disable"),
		},
	}
}

func (c PostgresConfig) ConnStr() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s", c.user, c.password, c.host, c.port, c.dbname, c.sslmode)
}

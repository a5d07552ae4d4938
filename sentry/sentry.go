package sentry

import (
	"time"

	sentry "github.com/getsentry/sentry-go"
	sentrygin "github.com/getsentry/sentry-go/gin"
	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"

	"songmatch/config"
)

// Init configures the global Sentry client. An empty DSN disables sending.
func Init() {
	if err := sentry.Init(sentry.ClientOptions{
		Dsn:              config.Config.Sentry.DSN,
		Release:          config.Config.Sentry.Release,
		TracesSampleRate: 1.0,
	}); err != nil {
		log.Fatalf("sentry.Init: %s", err)
	}
	if config.Config.Sentry.DSN == "" {
		log.Debug("sentry DSN not set, events will not be sent")
	}
}

func GetSentryGin() gin.HandlerFunc {
	return sentrygin.New(sentrygin.Options{Repanic: true})
}

func Flush() {
	sentry.Flush(2 * time.Second)
}

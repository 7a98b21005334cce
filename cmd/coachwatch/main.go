// coachwatch is a terminal coach panel: it polls one call's coaching state
// from a running coachcall server and prints progress, transcript growth,
// and the active prompt as the call unfolds.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"coachcall-server/pkg/config"
	"coachcall-server/pkg/poll"
)

func main() {
	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, "usage: coachwatch <call-id>")
		os.Exit(2)
	}
	callID := os.Args[1]

	serverURL := os.Getenv("COACHCALL_SERVER_URL")
	if serverURL == "" {
		serverURL = "http://localhost:8080"
	}

	appConfig, err := config.Load(logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to load configuration")
	}

	fetcher := poll.NewHTTPStateFetcher(serverURL)
	poller := poll.New(fetcher, callID, appConfig.Coaching.PollInterval, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	poller.Start(ctx)
	defer poller.Stop()

	logger.WithFields(logrus.Fields{
		"call_id": callID,
		"server":  serverURL,
	}).Info("Watching call")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	ticker := time.NewTicker(appConfig.Coaching.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-sigChan:
			logger.Info("Stopped watching")
			return
		case <-ticker.C:
			render(poller)
		}
	}
}

func render(poller *poll.Poller) {
	snapshot := poller.Snapshot()
	if snapshot == nil {
		if failures := poller.ConsecutiveFailures(); failures > 0 {
			fmt.Printf("waiting for call state (%d failed polls)\n", failures)
		}
		return
	}

	if !poller.ConsumeAutoScroll() && poller.ConsecutiveFailures() == 0 {
		return
	}

	fmt.Printf("[%s] %s  %d/%d topics covered (%.0f%%), required %d/%d\n",
		snapshot.DurationDisplay,
		snapshot.Session.Status,
		snapshot.CoveredCount, snapshot.TotalActiveItems,
		snapshot.ProgressPercent,
		snapshot.RequiredCoveredCount, snapshot.RequiredTotal,
	)
	if len(snapshot.Segments) > 0 {
		last := snapshot.Segments[len(snapshot.Segments)-1]
		fmt.Printf("  %s: %s\n", last.Speaker, last.Text)
	}
	if snapshot.PrimaryPrompt != nil {
		fmt.Printf("  >> %s\n", snapshot.PrimaryPrompt.Message)
	}
	if failures := poller.ConsecutiveFailures(); failures > 0 {
		fmt.Printf("  (showing last known state, %d failed polls)\n", failures)
	}
}

// Creates the demo signal stream in Timeplus so the simulator has
// somewhere to write. Safe to run repeatedly.
package main

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
	proton "github.com/timeplus-io/proton-go-driver/v2"

	"github.com/brainz-lab/signal-sub000/cmd/internal/env"
)

func main() {
	logrus.SetLevel(logrus.InfoLevel)
	logrus.Info("Setting up demo streams")

	conn, err := proton.Open(&proton.Options{
		Addr: []string{env.Get("TIMEPLUS_ADDRESS", "localhost:8464")},
		Auth: proton.Auth{
			Database: env.Get("TIMEPLUS_WORKSPACE", "default"),
			Username: env.Get("TIMEPLUS_USER", "test"),
			Password: env.Get("TIMEPLUS_PASSWORD", "test123"),
		},
		DialTimeout: 10 * time.Second,
	})
	if err != nil {
		logrus.Fatalf("Failed to connect to Timeplus: %v", err)
	}
	defer conn.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	// one row per reading; the engine aggregates over `value`
	query := `
	CREATE STREAM IF NOT EXISTS device_temperatures (
		device_id string,
		value float64
	)
	`
	if err := conn.Exec(ctx, query); err != nil {
		logrus.Fatalf("Failed to create device_temperatures stream: %v", err)
	}
	logrus.Info("Stream device_temperatures ready")

	rows, err := conn.Query(ctx, "SHOW STREAMS")
	if err != nil {
		logrus.Fatalf("Failed to query streams: %v", err)
	}
	defer rows.Close()

	streams := []string{}
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			logrus.Warnf("Failed to scan stream name: %v", err)
			continue
		}
		streams = append(streams, name)
	}
	logrus.Infof("Available streams: %v", streams)
	logrus.Info("Setup completed")
}

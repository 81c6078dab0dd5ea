// Simulator drives the engine end to end: it writes synthetic device
// temperatures into Timeplus, registers a demo channel and threshold
// rule through the HTTP API, and polls for the alerts that result.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"net/http"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"
	proton "github.com/timeplus-io/proton-go-driver/v2"
	"github.com/timeplus-io/proton-go-driver/v2/lib/driver"

	"github.com/brainz-lab/signal-sub000/cmd/internal/env"
	"github.com/brainz-lab/signal-sub000/pkg/models"
)

const (
	defaultDeviceCount = 5
	defaultIntervalMs  = 1000
	streamName         = "device_temperatures"
)

func main() {
	engineURL := env.Get("ENGINE_URL", "http://localhost:8080")
	deviceCount, _ := strconv.Atoi(env.Get("DEVICE_COUNT", fmt.Sprintf("%d", defaultDeviceCount)))
	intervalMs, _ := strconv.Atoi(env.Get("INTERVAL_MS", fmt.Sprintf("%d", defaultIntervalMs)))

	conn := connectToTimeplus()
	defer conn.Close()

	ruleID, err := createDemoRule(engineURL)
	if err != nil {
		logrus.Fatalf("Failed to create demo rule: %v", err)
	}
	logrus.Infof("Demo rule %s created, generating data for %d devices every %d ms",
		ruleID, deviceCount, intervalMs)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go pollAlerts(ctx, engineURL, ruleID, 10*time.Second)

	ticker := time.NewTicker(time.Duration(intervalMs) * time.Millisecond)
	defer ticker.Stop()
	for range ticker.C {
		for i := 1; i <= deviceCount; i++ {
			deviceID := fmt.Sprintf("device_%d", i)
			value := 20 + rand.Float64()*10
			// the occasional spike pushes the window average over the rule threshold
			if rand.Intn(50) == 0 {
				value = 90 + rand.Float64()*20
				logrus.Warnf("Sending spike for %s: %.2f", deviceID, value)
			}
			if err := sendReading(ctx, conn, deviceID, value); err != nil {
				logrus.Errorf("Error sending reading: %v", err)
			}
		}
	}
}

func connectToTimeplus() driver.Conn {
	address := env.Get("TIMEPLUS_ADDRESS", "localhost:8464")
	logrus.Infof("Connecting simulator to Timeplus at %s", address)

	conn, err := proton.Open(&proton.Options{
		Addr: []string{address},
		Auth: proton.Auth{
			Database: env.Get("TIMEPLUS_WORKSPACE", "default"),
			Username: env.Get("TIMEPLUS_USER", "test"),
			Password: env.Get("TIMEPLUS_PASSWORD", "test123"),
		},
		DialTimeout: 10 * time.Second,
		Compression: &proton.Compression{
			Method: proton.CompressionLZ4,
		},
	})
	if err != nil {
		logrus.Fatalf("Failed to open Timeplus connection: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	for i := 0; i < 10; i++ {
		if err = conn.Ping(ctx); err == nil {
			logrus.Info("Connected to Timeplus")
			return conn
		}
		logrus.Warnf("Failed to connect to Timeplus (attempt %d/10): %v", i+1, err)
		time.Sleep(3 * time.Second)
	}
	logrus.Fatalf("Failed to connect to Timeplus: %v", err)
	return nil
}

func sendReading(ctx context.Context, conn driver.Conn, deviceID string, value float64) error {
	batch, err := conn.PrepareBatch(ctx, fmt.Sprintf("INSERT INTO `%s` (device_id, value)", streamName))
	if err != nil {
		return fmt.Errorf("failed to prepare batch: %w", err)
	}
	if err := batch.Append(deviceID, value); err != nil {
		return fmt.Errorf("failed to append reading: %w", err)
	}
	return batch.Send()
}

// createDemoRule registers a webhook channel and a threshold rule over
// the demo stream through the engine's API.
func createDemoRule(engineURL string) (string, error) {
	channel := models.NotificationChannel{
		ProjectID: "demo",
		Name:      "Demo webhook",
		Type:      models.ChannelTypeWebhook,
		Config:    map[string]string{"url": env.Get("DEMO_WEBHOOK_URL", "http://localhost:9090/hook")},
	}
	var createdChannel models.NotificationChannel
	if err := postJSON(engineURL+"/api/channels", channel, &createdChannel); err != nil {
		return "", fmt.Errorf("failed to create demo channel: %w", err)
	}

	rule := models.CreateRuleRequest{
		ProjectID: "demo",
		Name:      "High device temperature",
		Backend:   "timeplus",
		Severity:  models.SeverityCritical,
		Spec: models.RuleSpec{
			Signal: streamName,
			Type:   models.RuleTypeThreshold,
			Threshold: &models.ThresholdParams{
				Operator:      models.OperatorGT,
				Threshold:     70,
				Aggregation:   models.AggregationMax,
				WindowSeconds: 60,
				GroupBy:       []string{"device_id"},
			},
		},
		ChannelIDs:                []string{createdChannel.ID},
		EvaluationIntervalSeconds: 15,
		ResolvePeriodSeconds:      120,
	}
	var createdRule models.Rule
	if err := postJSON(engineURL+"/api/rules", rule, &createdRule); err != nil {
		return "", fmt.Errorf("failed to create demo rule: %w", err)
	}
	return createdRule.ID, nil
}

func postJSON(url string, body, out interface{}) error {
	data, err := json.Marshal(body)
	if err != nil {
		return err
	}
	resp, err := http.Post(url, "application/json", bytes.NewBuffer(data))
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		return fmt.Errorf("unexpected status %d from %s", resp.StatusCode, url)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// pollAlerts periodically lists the rule's open alerts and logs them
func pollAlerts(ctx context.Context, engineURL, ruleID string, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		resp, err := http.Get(fmt.Sprintf("%s/api/alerts?rule_id=%s&open=true", engineURL, ruleID))
		if err != nil {
			logrus.Errorf("Error checking alerts: %v", err)
			continue
		}
		var alerts []models.Alert
		if err := json.NewDecoder(resp.Body).Decode(&alerts); err != nil {
			logrus.Errorf("Error decoding alerts: %v", err)
		}
		resp.Body.Close()

		for _, alert := range alerts {
			logrus.Warnf("Open alert %s: %s value %.2f (started %s)",
				alert.ID, alert.Fingerprint, alert.Value, alert.StartedAt.Format(time.RFC3339))
		}
		if len(alerts) == 0 {
			logrus.Info("No open alerts")
		}
	}
}

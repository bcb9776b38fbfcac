package sensor_simulator

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/LeonardoBeccarini/agos/internal/model"
	"github.com/LeonardoBeccarini/agos/pkg/dedup"
	"github.com/LeonardoBeccarini/agos/pkg/rabbitmq"
)

// SMSSender is the GSM modem of the field device.
type SMSSender interface {
	Send(ctx context.Context, number, text string) error
}

// LogSMS stampa gli SMS invece di inviarli.
type LogSMS struct{}

func (LogSMS) Send(_ context.Context, number, text string) error {
	log.Printf("device: SMS to %s: %s", number, text)
	return nil
}

// PolledCommand is the body of GET /command when a command is pending.
type PolledCommand struct {
	Command    model.CommandKind `json:"command"`
	ID         string            `json:"id"`
	Operator   string            `json:"operator"`
	Timestamp  time.Time         `json:"timestamp"`
	Recipients []string          `json:"recipients"`
}

// FieldDevice simula il nodo sul fiume: invia telemetria e interroga periodicamente
// il coordinator per i comandi (non e' raggiungibile dall'esterno).
type FieldDevice struct {
	baseURL   string
	http      *http.Client
	generator *DataGenerator
	publisher rabbitmq.IPublisher // se impostato la telemetria va su MQTT invece che su HTTP
	sms       SMSSender
	deduper   *dedup.Deduper
	retry     func() backoff.BackOff
}

type Option func(*FieldDevice)

func WithPublisher(p rabbitmq.IPublisher) Option { return func(d *FieldDevice) { d.publisher = p } }
func WithSMS(s SMSSender) Option                 { return func(d *FieldDevice) { d.sms = s } }
func WithHTTPClient(c *http.Client) Option       { return func(d *FieldDevice) { d.http = c } }

// WithRetry sostituisce la policy di retry delle POST (test).
func WithRetry(fn func() backoff.BackOff) Option { return func(d *FieldDevice) { d.retry = fn } }

func NewFieldDevice(baseURL string, gen *DataGenerator, opts ...Option) *FieldDevice {
	d := &FieldDevice{
		baseURL:   strings.TrimRight(baseURL, "/"),
		http:      &http.Client{Timeout: 8 * time.Second},
		generator: gen,
		sms:       LogSMS{},
		deduper:   dedup.New(time.Hour, 1000),
		retry: func() backoff.BackOff {
			bo := backoff.NewExponentialBackOff()
			bo.InitialInterval = 500 * time.Millisecond
			bo.MaxElapsedTime = 20 * time.Second
			return backoff.WithMaxRetries(bo, 4)
		},
	}
	for _, o := range opts {
		o(d)
	}
	return d
}

// Start invia telemetria e fa polling dei comandi fino alla cancellazione di ctx.
func (d *FieldDevice) Start(ctx context.Context, telemetryEvery, pollEvery time.Duration) {
	tt := time.NewTicker(telemetryEvery)
	defer tt.Stop()
	pt := time.NewTicker(pollEvery)
	defer pt.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-tt.C:
			rd := d.generator.Next(now)
			if d.publisher != nil {
				if err := d.publisher.PublishMessage(ctx, rd); err != nil {
					log.Printf("device: mqtt publish error: %v", err)
				}
				continue
			}
			level, err := d.SendTelemetry(ctx, rd)
			if err != nil {
				log.Printf("device: telemetry error: %v", err)
				continue
			}
			log.Printf("device: water=%.1f%s flow=%.1f -> %s", *rd.WaterLevel, rd.Unit, *rd.FlowRate, level)
		case <-pt.C:
			if _, err := d.PollCommand(ctx); err != nil {
				log.Printf("device: poll error: %v", err)
			}
		}
	}
}

// SendTelemetry posts one reading. 5xx and network errors are retried with backoff;
// a 4xx is final (the same payload would be rejected again).
func (d *FieldDevice) SendTelemetry(ctx context.Context, rd model.TelemetryReading) (model.AlertLevel, error) {
	body, err := json.Marshal(rd)
	if err != nil {
		return model.LevelNormal, err
	}

	var out struct {
		Level model.AlertLevel `json:"level"`
	}
	op := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.baseURL+"/telemetry", bytes.NewReader(body))
		if err != nil {
			return backoff.Permanent(err)
		}
		req.Header.Set("Content-Type", "application/json")
		resp, err := d.http.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<16))

		switch {
		case resp.StatusCode == http.StatusOK:
			return json.Unmarshal(data, &out)
		case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
			return fmt.Errorf("coordinator HTTP %d", resp.StatusCode)
		default:
			return backoff.Permanent(fmt.Errorf("coordinator HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(data))))
		}
	}
	if err := backoff.Retry(op, backoff.WithContext(d.retry(), ctx)); err != nil {
		return model.LevelNormal, err
	}
	return out.Level, nil
}

// PollCommand does one GET /command and executes the command, if any.
// A command id already executed is ignored.
func (d *FieldDevice) PollCommand(ctx context.Context) (*PolledCommand, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, d.baseURL+"/command", nil)
	if err != nil {
		return nil, err
	}
	resp, err := d.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("coordinator HTTP %d", resp.StatusCode)
	}

	var raw struct {
		Command *model.CommandKind `json:"command"`
		PolledCommand
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<16)).Decode(&raw); err != nil {
		return nil, fmt.Errorf("decode command: %w", err)
	}
	if raw.Command == nil {
		return nil, nil
	}
	cmd := raw.PolledCommand
	cmd.Command = *raw.Command

	if !d.deduper.ShouldProcess(cmd.ID) {
		return nil, nil
	}
	log.Printf("device: command %s (%s) from %s", cmd.ID, cmd.Command, cmd.Operator)

	text := smsText(cmd.Command)
	var errs []error
	for _, n := range cmd.Recipients {
		if err := d.sms.Send(ctx, n, text); err != nil {
			errs = append(errs, fmt.Errorf("sms to %s: %w", n, err))
		}
	}
	return &cmd, errors.Join(errs...)
}

func smsText(k model.CommandKind) string {
	switch k {
	case model.CommandCritical:
		return "FLOOD ALERT: critical water level. Evacuate low-lying areas now."
	case model.CommandWarning:
		return "FLOOD WARNING: river rising. Prepare to evacuate."
	case model.CommandInfo:
		return "River monitoring: elevated water level, stay alert."
	case model.CommandAllClear:
		return "ALL CLEAR: river level back to normal."
	}
	return "River monitoring notice."
}

// cmd/field-sim/main.go
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	sensorSimulator "github.com/LeonardoBeccarini/agos/internal/sensor-simulator"
	"github.com/LeonardoBeccarini/agos/pkg/rabbitmq"
)

func main() {
	baseURL := flag.String("coordinator", "http://localhost:8080", "coordinator base URL")
	interval := flag.Duration("interval", 10*time.Second, "telemetry interval")
	poll := flag.Duration("poll", 15*time.Second, "command poll interval")
	seed := flag.Int64("seed", time.Now().UnixNano(), "random seed")
	storm := flag.Duration("storm", 0, "simulate a flood of this duration right after start")
	peak := flag.Float64("peak", 40, "flood peak water level (inches)")
	useMQTT := flag.Bool("mqtt", false, "publish telemetry on MQTT instead of HTTP")
	clientID := flag.String("client-id", "field-device-1", "MQTT client ID")
	topic := flag.String("topic", "agos/telemetry/ingest", "MQTT ingest topic")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	gen := sensorSimulator.NewDataGenerator(*seed)
	if *storm > 0 {
		gen.StartStorm(time.Now(), *storm, *peak)
	}

	var opts []sensorSimulator.Option
	if *useMQTT {
		cfg := &rabbitmq.RabbitMQConfig{
			Host:     "localhost",
			Port:     1883,
			User:     "guest",
			Password: "guest",
			ClientID: *clientID,
		}
		client, err := rabbitmq.NewRabbitMQConn(ctx, cfg, nil)
		if err != nil {
			log.Fatal(err)
		}
		defer rabbitmq.CloseRabbitMQConn(client)
		opts = append(opts, sensorSimulator.WithPublisher(rabbitmq.NewPublisher(client, *topic, 1, false)))
	}

	device := sensorSimulator.NewFieldDevice(*baseURL, gen, opts...)
	log.Printf("field-sim: reporting to %s every %s, polling every %s", *baseURL, *interval, *poll)
	device.Start(ctx, *interval, *poll)
}

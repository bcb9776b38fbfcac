package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"sync/atomic"
	"syscall"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/gorilla/handlers"
	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/LeonardoBeccarini/agos/internal/auth"
	"github.com/LeonardoBeccarini/agos/internal/metrics"
	"github.com/LeonardoBeccarini/agos/internal/services/classifier"
	"github.com/LeonardoBeccarini/agos/internal/services/command"
	"github.com/LeonardoBeccarini/agos/internal/services/coordinator"
	"github.com/LeonardoBeccarini/agos/internal/services/hub"
	"github.com/LeonardoBeccarini/agos/internal/services/recipients"
	"github.com/LeonardoBeccarini/agos/internal/services/recorder"
	"github.com/LeonardoBeccarini/agos/internal/services/relay"
	"github.com/LeonardoBeccarini/agos/pkg/dedup"
	"github.com/LeonardoBeccarini/agos/pkg/rabbitmq"
)

func main() {
	cfg := loadConfig()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// === Metrics ===
	promReg := prometheus.NewRegistry()
	promReg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(promReg)

	// === gRPC health (NOT_SERVING finche' la registry non e' caricata) ===
	grpcSrv, grpcHealth := coordinator.NewGRPCHealth()
	lis, err := net.Listen("tcp", ":"+strconv.Itoa(cfg.GRPCPort))
	if err != nil {
		log.Fatalf("coordinator: grpc listen: %v", err)
	}
	go func() {
		log.Printf("coordinator: gRPC health listening on :%d", cfg.GRPCPort)
		if err := grpcSrv.Serve(lis); err != nil {
			log.Printf("coordinator: grpc server: %v", err)
		}
	}()

	// === Core ===
	cls, err := classifier.Load(cfg.ThresholdsPath)
	if err != nil {
		log.Fatalf("coordinator: thresholds: %v", err)
	}
	log.Printf("coordinator: %d threshold(s), water level unit %q", len(cls.Thresholds()), cls.Unit())

	store, err := recipients.NewFileStore(cfg.RecipientsPath)
	if err != nil {
		log.Fatalf("coordinator: recipient store: %v", err)
	}
	registry, err := recipients.Open(store)
	if err != nil {
		log.Fatalf("coordinator: recipient registry: %v", err)
	}
	log.Printf("coordinator: %d recipient(s) loaded from %s", len(registry.List()), store.Path())

	queue := command.NewQueue(command.WithObserver(m))

	hb := hub.New(hub.Config{
		SendTimeout: cfg.HubSendTimeout,
		BufferSize:  cfg.HubBuffer,
		Observer:    m,
	})

	authn, err := auth.ParseTokens(cfg.OperatorTokens)
	if err != nil {
		log.Fatalf("coordinator: %v", err)
	}
	if authn.Operators() == 0 {
		log.Printf("coordinator: OPERATOR_TOKENS is empty, every POST /command will be rejected")
	}

	// === Sinks ===
	var (
		sinks  []relay.Sink
		health = coordinator.HealthDeps{Hub: hb}
	)

	if cfg.InfluxURL != "" {
		influx := influxdb2.NewClientWithOptions(cfg.InfluxURL, cfg.InfluxToken,
			influxdb2.DefaultOptions().SetHTTPRequestTimeout(uint(cfg.SinkTimeout.Seconds()+1)))
		defer influx.Close()
		rec := recorder.New(influx.WriteAPIBlocking(cfg.InfluxOrg, cfg.InfluxBucket), recorder.BreakerSettings{
			Fails:    cfg.CBFails,
			Open:     time.Duration(cfg.CBOpenMs) * time.Millisecond,
			Interval: time.Duration(cfg.CBIntervalMs) * time.Millisecond,
		})
		sinks = append(sinks, rec)
		health.Recorder = rec
		log.Printf("coordinator: recording telemetry to %s (bucket %s)", cfg.InfluxURL, cfg.InfluxBucket)
	}

	var (
		mqttClient mqtt.Client
		ingest     atomic.Pointer[rabbitmq.Consumer]
	)
	if cfg.MQTTEnabled {
		// clean session: dopo una riconnessione le sottoscrizioni vanno rifatte
		onConnect := func(mqtt.Client) {
			if c := ingest.Load(); c != nil {
				if err := c.Subscribe(); err != nil {
					log.Printf("coordinator: resubscribe %s: %v", cfg.IngestTopic, err)
				}
			}
		}
		mqttClient, err = rabbitmq.NewRabbitMQConn(ctx, &cfg.Rabbit, onConnect)
		if err != nil {
			log.Fatalf("coordinator: mqtt connection error: %v", err)
		}
		defer rabbitmq.CloseRabbitMQConn(mqttClient)
		sinks = append(sinks, relay.NewMirrorSink(rabbitmq.NewPublisher(mqttClient, cfg.UpdateTopic, 0, true)))
		health.MQTT = mqttClient
	}

	outbox := relay.NewOutbox(cfg.OutboxSize, cfg.SinkTimeout, sinks...)
	outbox.SetObserver(m)
	go outbox.Run(ctx)

	rl, err := relay.New(relay.Config{
		Classifier: cls,
		Hub:        hb,
		Outbox:     outbox,
		Deduper:    dedup.New(cfg.DedupTTL, cfg.DedupMax),
		Observer:   m,
	})
	if err != nil {
		log.Fatalf("coordinator: relay: %v", err)
	}

	if mqttClient != nil {
		c := rabbitmq.NewConsumer(mqttClient, cfg.IngestTopic, 1, rl.HandleMQTT)
		ingest.Store(c)
		go func() {
			if err := c.ConsumeMessage(ctx); err != nil {
				log.Printf("coordinator: ingest consumer: %v", err)
			}
		}()
	}

	// === HTTP ===
	api := coordinator.NewAPI(coordinator.Deps{
		Relay:      rl,
		Queue:      queue,
		Registry:   registry,
		Auth:       authn,
		Console:    hub.NewHandler(hb, nil),
		Health:     coordinator.NewHealthHandler(health),
		Ready:      coordinator.NewReadyHandler(health, 2*time.Second),
		Metrics:    promhttp.HandlerFor(promReg, promhttp.HandlerOpts{}),
		DefaultTTL: cfg.CommandTTL,
		MaxTTL:     cfg.CommandMaxTTL,
	})

	cors := handlers.CORS(
		handlers.AllowedOrigins(cfg.AllowedOrigins),
		handlers.AllowedMethods([]string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions}),
		handlers.AllowedHeaders([]string{"Authorization", "Content-Type"}),
	)
	handler := handlers.RecoveryHandler(handlers.PrintRecoveryStack(true))(
		handlers.CombinedLoggingHandler(os.Stdout, cors(api.Router())),
	)

	srv := &http.Server{
		Addr:              ":" + strconv.Itoa(cfg.HTTPPort),
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		log.Printf("coordinator: HTTP listening on :%d", cfg.HTTPPort)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("coordinator: http server error: %v", err)
		}
	}()

	grpcHealth.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)

	<-ctx.Done()
	log.Println("coordinator: shutting down")

	grpcHealth.Shutdown()
	hb.Close()

	shCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shCtx); err != nil {
		fmt.Fprintf(os.Stderr, "coordinator: http shutdown: %v\n", err)
	}
	grpcSrv.GracefulStop()
}

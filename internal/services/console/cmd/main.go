package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/LeonardoBeccarini/agos/internal/services/console"
)

func envStr(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

// console-tail: stampa gli aggiornamenti live del coordinator nel terminale.
func main() {
	url := envStr("CONSOLE_WS_URL", "ws://localhost:8080/ws")
	policy := console.Policy{
		BaseDelay:   time.Duration(envInt("RECONNECT_BASE_MS", 1000)) * time.Millisecond,
		MaxDelay:    time.Duration(envInt("RECONNECT_MAX_MS", 30000)) * time.Millisecond,
		MaxAttempts: envInt("RECONNECT_MAX_ATTEMPTS", 8),
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	c := console.New(url, console.WSDialer{}, policy, console.WithStateHook(func(s console.State) {
		log.Printf("console-tail: %s", s)
	}))

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case u := <-c.Updates():
				s := u.Sample
				fmt.Printf("#%d %s  %s  water=%.2f%s flow=%.2f turb=%.1f/%.1f batt=%d%%\n",
					u.Seq, s.ObservedAt.Local().Format(time.TimeOnly), u.Level,
					s.WaterLevel, u.Unit, s.FlowRate, s.UpstreamTurbidity, s.DownstreamTurbidity, s.BatteryLevel)
			}
		}
	}()

	log.Printf("console-tail: following %s", url)
	err := c.Run(ctx)
	switch {
	case errors.Is(err, context.Canceled):
		log.Printf("console-tail: bye")
	case errors.Is(err, console.ErrGaveUp):
		if v := c.View(); v.Latest != nil {
			log.Printf("console-tail: last known level %s (seq %d, stale)", v.Latest.Level, v.Latest.Seq)
		}
		log.Fatalf("console-tail: %v", err)
	case err != nil:
		log.Fatalf("console-tail: %v", err)
	}
}

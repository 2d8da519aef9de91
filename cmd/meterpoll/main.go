// cmd/meterpoll/main.go
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/joho/godotenv"

	"github.com/emeter/meterpoll/internal/catalog"
	"github.com/emeter/meterpoll/internal/config"
	"github.com/emeter/meterpoll/internal/decode"
	"github.com/emeter/meterpoll/internal/engine"
	"github.com/emeter/meterpoll/internal/logging"
	"github.com/emeter/meterpoll/internal/serialport"
	"github.com/emeter/meterpoll/internal/transport"
)

func main() {
	// Optional .env for METERPOLL_CONFIG / METERPOLL_LOG_LEVEL.
	_ = godotenv.Load()

	log := logging.New(os.Getenv("METERPOLL_LOG_LEVEL"))

	if len(os.Args) >= 2 && os.Args[1] == "ports" {
		listPorts()
		return
	}

	cfgPath := os.Getenv("METERPOLL_CONFIG")
	if len(os.Args) >= 2 {
		cfgPath = os.Args[1]
	}
	if cfgPath == "" {
		log.Fatal("usage: meterpoll <config.yaml> | meterpoll ports")
	}

	// --------------------
	// Load + validate config
	// --------------------

	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("config load failed: %v", err)
	}
	if err := config.Validate(cfg); err != nil {
		log.Fatalf("config validation failed: %v", err)
	}
	config.Normalize(cfg)

	if !serialport.Exists(cfg.Meter.Serial.Port) {
		log.Warnf("port %s not detected; connecting anyway", cfg.Meter.Serial.Port)
	}

	cat, err := catalog.Load(catalogEntries(cfg))
	if err != nil {
		log.Fatalf("catalog load failed: %v", err)
	}

	// --------------------
	// Build + run the engine
	// --------------------

	order := decode.HighWordFirst
	if cfg.Meter.Serial.SwapWords {
		order = decode.LowWordFirst
	}

	eng, err := engine.New(engine.Options{
		Catalog:   cat,
		Interval:  time.Duration(cfg.Meter.Poll.IntervalMs) * time.Millisecond,
		WordOrder: order,
		Retries:   cfg.Meter.Serial.Retries,
		Log:       log,
	})
	if err != nil {
		log.Fatalf("engine build failed: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	done := make(chan struct{})
	go func() {
		eng.Run(ctx)
		close(done)
	}()

	eng.Connect(sessionConfig(cfg.Meter.Serial))

	// --------------------
	// Render snapshots until interrupted
	// --------------------

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			<-done
			return
		case <-ticker.C:
			render(eng.Snapshot())
		}
	}
}

func listPorts() {
	ports, err := serialport.List()
	if err != nil {
		fmt.Fprintf(os.Stderr, "port listing failed: %v\n", err)
		os.Exit(1)
	}
	if len(ports) == 0 {
		fmt.Println("no serial ports found")
		return
	}
	for _, p := range ports {
		if p.Description != "" {
			fmt.Printf("%s\t%s\n", p.Name, p.Description)
			continue
		}
		fmt.Println(p.Name)
	}
}

// catalogEntries converts config entries; an empty list means the built-in
// EM6400NG map.
func catalogEntries(cfg *config.Config) []catalog.RegisterSpec {
	if len(cfg.Meter.Registers) == 0 {
		return catalog.Default()
	}

	out := make([]catalog.RegisterSpec, 0, len(cfg.Meter.Registers))
	for _, r := range cfg.Meter.Registers {
		out = append(out, catalog.RegisterSpec{
			Name:    r.Name,
			Address: r.Offset - 1,
			FC:      catalog.FunctionCode(r.FC),
			Width:   catalog.Width(r.Width),
			Scale:   r.Scale,
			Unit:    r.Unit,
		})
	}
	return out
}

func sessionConfig(s config.SerialConfig) transport.Config {
	return transport.Config{
		Port:     s.Port,
		BaudRate: s.BaudRate,
		DataBits: 8,
		StopBits: s.StopBits,
		Parity:   s.Parity,
		SlaveID:  s.SlaveID,
		Timeout:  time.Duration(s.TimeoutMs) * time.Millisecond,
		Gap:      time.Duration(s.GapMs) * time.Millisecond,
	}
}

func render(snap *engine.Snapshot) {
	fmt.Printf("\n[%s] %s", snap.At.Format("15:04:05"), snap.Conn)
	if snap.Err != "" {
		fmt.Printf(" (%s)", snap.Err)
	}
	fmt.Println()

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	for _, name := range snap.Order {
		r := snap.Readings[name]
		fmt.Fprintf(w, "%s\t%s\t%s\n", name, renderValue(r), r.Status)
	}
	w.Flush()
}

func renderValue(r engine.Reading) string {
	switch {
	case r.Status == engine.ReadingError:
		return "ERR"
	case !r.HasValue:
		return "N/A"
	default:
		return fmt.Sprintf("%.4f %s", r.Value, r.Unit)
	}
}

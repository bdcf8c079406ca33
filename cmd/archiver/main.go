package main

import (
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/downfa11-org/go-archiver/pkg/capture"
	"github.com/downfa11-org/go-archiver/pkg/catalog"
	"github.com/downfa11-org/go-archiver/pkg/config"
	"github.com/downfa11-org/go-archiver/pkg/layout"
	"github.com/downfa11-org/go-archiver/pkg/metrics"
	"github.com/downfa11-org/go-archiver/util"
)

func main() {
	// Configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("❌ Failed to load config: %v", err)
	}
	util.SetLevel(cfg.LogLevel)

	cat, err := catalog.NewCatalog(cfg.ArchiveDir)
	if err != nil {
		log.Fatalf("❌ Failed to open archive catalog: %v", err)
	}

	if cfg.DescribeInstance >= 0 {
		describe(cat, int32(cfg.DescribeInstance), cfg.SegmentFileSize)
		return
	}

	fmt.Printf("🚀 Starting archiver over %s (segment file size %d)\n", cfg.ArchiveDir, cfg.SegmentFileSize)
	fmt.Printf("📊 Exporter: %v\n", cfg.EnableExporter)

	if cfg.EnableExporter {
		metrics.StartMetricsServer(cfg.ExporterPort)
	}
	startHealthServer(cfg.HealthCheckPort)

	// Capture sessions are registered by the embedding transport layer; the
	// driver loop below steps whatever the registry holds.
	registry := capture.NewRegistry()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	idle := time.Duration(cfg.IdleSleepMS) * time.Millisecond
	aborting := false
	for {
		select {
		case <-stop:
			if !aborting {
				util.Info("shutdown requested, aborting %d capture sessions", registry.Len())
				registry.AbortAll()
				aborting = true
			}
		default:
		}

		workCount := registry.DoWorkAll()
		if aborting && registry.Len() == 0 {
			util.Info("archiver stopped")
			return
		}
		if workCount == 0 {
			time.Sleep(idle)
		}
	}
}

func describe(cat *catalog.Catalog, instanceID, segmentFileSize int32) {
	desc, err := cat.LoadDescriptor(instanceID)
	if err != nil {
		log.Fatalf("❌ Failed to load descriptor: %v", err)
	}
	fmt.Printf("instance %d\n", instanceID)
	fmt.Printf("  term window length:  %d\n", desc.TermBufferLength)
	fmt.Printf("  initial term:        %d offset %d\n", desc.InitialTermID, desc.InitialTermOffset)
	fmt.Printf("  last term:           %d offset %d\n", desc.LastTermID, desc.LastTermOffset)
	fmt.Printf("  captured length:     %d bytes\n", layout.FullLength(desc))
	fmt.Printf("  segment files:       %d\n", layout.FileIndex(desc.InitialTermID, desc.LastTermID,
		desc.TermBufferLength, segmentFileSize)+1)
}

func startHealthServer(port int) {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		if _, err := w.Write([]byte("ok")); err != nil {
			util.Error("health response write: %v", err)
		}
	})
	go func() {
		addr := fmt.Sprintf(":%d", port)
		if err := http.ListenAndServe(addr, mux); err != nil {
			util.Error("health check server: %v", err)
		}
	}()
}

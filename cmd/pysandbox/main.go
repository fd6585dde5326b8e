// Command pysandbox is a reference code execution sidecar: it receives one
// batched-continuation round of sandboxed Python over HTTP and returns the
// result, so the sandbox can run in its own process (or its own container,
// with PYSANDBOX_ISOLATION=docker) instead of as a child of the chatrt process.
//
// The reference sidecar is single-tenant, suitable for development and
// small-scale deployments. actormesh.PythonActor talks to whichever
// SandboxRunner it's given directly in-process by default; point it at an
// HTTP client runner instead to offload execution here.
package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/nevindra/chatrt/actormesh"
	"github.com/nevindra/chatrt/pysandbox"
)

type config struct {
	addr          string
	pythonBin     string
	maxConcurrent int
	isolation     string
	dockerImage   string
}

func loadConfig() config {
	cfg := config{
		addr:          ":9100",
		pythonBin:     "python3",
		maxConcurrent: 4,
		isolation:     "subprocess",
	}
	if v := os.Getenv("PYSANDBOX_ADDR"); v != "" {
		cfg.addr = v
	}
	if v := os.Getenv("PYSANDBOX_PYTHON_BIN"); v != "" {
		cfg.pythonBin = v
	}
	if v := os.Getenv("PYSANDBOX_MAX_CONCURRENT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.maxConcurrent = n
		}
	}
	if v := os.Getenv("PYSANDBOX_ISOLATION"); v != "" {
		cfg.isolation = v
	}
	if v := os.Getenv("PYSANDBOX_DOCKER_IMAGE"); v != "" {
		cfg.dockerImage = v
	}
	return cfg
}

func newRunner(cfg config) (actormesh.SandboxRunner, error) {
	switch cfg.isolation {
	case "docker":
		return pysandbox.NewDockerRunner(pysandbox.DockerConfig{Image: cfg.dockerImage})
	case "subprocess", "":
		return pysandbox.NewRunner(cfg.pythonBin), nil
	default:
		return nil, fmt.Errorf("unsupported isolation mode: %q", cfg.isolation)
	}
}

func main() {
	log.SetFlags(log.Ldate | log.Ltime | log.Lmsgprefix)
	log.SetPrefix("[pysandbox] ")

	cfg := loadConfig()

	runner, err := newRunner(cfg)
	if err != nil {
		log.Fatalf("runner init: %v", err)
	}

	sem := make(chan struct{}, cfg.maxConcurrent)

	mux := http.NewServeMux()
	mux.HandleFunc("/execute", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		handleExecute(sem, runner, w, r)
	})
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
	})

	srv := &http.Server{
		Addr:         cfg.addr,
		Handler:      mux,
		ReadTimeout:  5 * time.Minute,
		WriteTimeout: 5 * time.Minute,
		IdleTimeout:  30 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		log.Printf("listening on %s (isolation=%s)", cfg.addr, cfg.isolation)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	<-ctx.Done()
	log.Println("shutting down...")

	shutCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutCtx); err != nil {
		log.Printf("shutdown error: %v", err)
	}
	log.Println("stopped")
}

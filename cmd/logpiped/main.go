package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"logpipe/internal/config"
	"logpipe/internal/engine"
	"logpipe/internal/logging"
	"logpipe/internal/transport"
)

func main() {
	path := flag.String("config", "logpiped.yaml", "daemon configuration file")
	probe := flag.Bool("probe", false, "check the health of a running daemon and exit")
	flag.Parse()

	logging.InitFromEnv()

	if *probe {
		os.Exit(runProbe(*path))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	e, err := engine.Bootstrap(ctx, *path)
	if err != nil {
		log.Fatalf("bootstrap: %v", err)
	}

	if err := e.Run(ctx); err != nil {
		log.Fatalf("engine: %v", err)
	}
}

// runProbe asks the daemon configured in path for the health of every
// pipeline and returns the process exit code.
func runProbe(path string) int {
	file, err := config.LoadDaemonSpec(path)
	if err != nil {
		log.Printf("probe: %v", err)
		return 2
	}
	cl, err := transport.Dial(file.GRPCPort)
	if err != nil {
		log.Printf("probe: %v", err)
		return 2
	}
	defer cl.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	code := 0
	services := []string{""}
	for _, p := range file.Pipelines {
		services = append(services, p.Name)
	}
	for _, svc := range services {
		res, err := cl.Health.Check(ctx, &healthpb.HealthCheckRequest{Service: svc})
		name := svc
		if name == "" {
			name = "logpiped"
		}
		switch {
		case err != nil:
			fmt.Printf("%-20s error: %v\n", name, err)
			code = 1
		case res.Status != healthpb.HealthCheckResponse_SERVING:
			fmt.Printf("%-20s %s\n", name, res.Status)
			code = 1
		default:
			fmt.Printf("%-20s %s\n", name, res.Status)
		}
	}
	return code
}

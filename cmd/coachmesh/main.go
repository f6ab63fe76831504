// Command coachmesh runs the coaching mesh as an interactive chat.
package main

import (
	"bufio"
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/hupe1980/coachmesh/capability"
	"github.com/hupe1980/coachmesh/classify"
	"github.com/hupe1980/coachmesh/config"
	"github.com/hupe1980/coachmesh/core"
	"github.com/hupe1980/coachmesh/logging"
	"github.com/hupe1980/coachmesh/metrics"
	"github.com/hupe1980/coachmesh/model"
	anthropicmodel "github.com/hupe1980/coachmesh/model/anthropic"
	openaimodel "github.com/hupe1980/coachmesh/model/openai"
	"github.com/hupe1980/coachmesh/orchestrator"
	"github.com/hupe1980/coachmesh/watch"
	"github.com/hupe1980/coachmesh/worker"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var (
		configPath  string
		provider    string
		metricsAddr string
	)

	cmd := &cobra.Command{
		Use:          "coachmesh",
		Short:        "Multi-specialist health coaching mesh",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runChat(cmd.Context(), configPath, provider, metricsAddr)
		},
	}

	cmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to YAML config file")
	cmd.Flags().StringVar(&provider, "provider", "static", "model provider: static, anthropic or openai")
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address (e.g. :9090)")

	return cmd
}

func runChat(ctx context.Context, configPath, provider, metricsAddr string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	logger := logging.New(logging.Config{
		Level:  cfg.LogLevel,
		Format: cfg.LogFormat,
		Output: os.Stderr,
	})

	gen, err := newGenerator(provider)
	if err != nil {
		return err
	}

	reg, err := worker.DefaultMesh(demoSource(), gen)
	if err != nil {
		return err
	}

	var classifier core.Classifier = classify.Static{}
	if provider != "static" {
		classifier = classify.NewModelClassifier(gen)
	}

	m := metrics.New(prometheus.DefaultRegisterer)

	orch, err := orchestrator.New(reg, classifier,
		orchestrator.FromConfig(cfg),
		func(o *orchestrator.Options) {
			o.Logger = logger
			o.Metrics = m
		},
	)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if metricsAddr != "" {
		go serveMetrics(metricsAddr, logger)
	}

	if len(cfg.DataPaths) > 0 {
		watcher, err := watch.New(cfg.DataPaths, orch.InvalidateData, func(o *watch.Options) {
			o.Logger = logger
		})
		if err != nil {
			return err
		}
		go func() {
			if err := watcher.Start(ctx); err != nil && ctx.Err() == nil {
				logger.Error("data watcher stopped", "error", err)
			}
		}()
	}

	return repl(ctx, orch)
}

func repl(ctx context.Context, orch *orchestrator.Orchestrator) error {
	fmt.Println("coachmesh ready. Type your message, or 'exit' to quit.")

	scanner := bufio.NewScanner(os.Stdin)
	var sessionID string

	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			return scanner.Err()
		}

		input := strings.TrimSpace(scanner.Text())
		if input == "" {
			continue
		}
		if input == "exit" || input == "quit" {
			return nil
		}

		resp, err := orch.ProcessTurn(ctx, orchestrator.TurnRequest{
			SessionID: sessionID,
			Input:     input,
		})
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			continue
		}

		sessionID = resp.SessionID
		fmt.Println(resp.Reply)
		for _, w := range resp.Widgets {
			fmt.Printf("[widget: %s]\n", w.Type)
		}
	}
}

func newGenerator(provider string) (model.Generator, error) {
	switch provider {
	case "static":
		return nil, nil
	case "anthropic":
		return anthropicmodel.New(), nil
	case "openai":
		return openaimodel.New(), nil
	default:
		return nil, fmt.Errorf("unknown provider %q", provider)
	}
}

func serveMetrics(addr string, logger logging.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	logger.Info("metrics listening", "addr", addr)
	if err := http.ListenAndServe(addr, mux); err != nil {
		logger.Error("metrics server stopped", "error", err)
	}
}

// demoSource backs the CLI with a small canned data set so the mesh is
// explorable without any backend.
func demoSource() capability.Caller {
	return capability.NewStaticSource(map[string]string{
		"get_biomarkers":       "Total cholesterol 242 mg/dL (high), LDL 162 mg/dL (high), HDL 48 mg/dL, fasting glucose 96 mg/dL.",
		"get_biomarker_ranges": "Total cholesterol target < 200 mg/dL, LDL target < 130 mg/dL, HDL target > 40 mg/dL.",
		"get_food_journal":     "Last 7 days: high saturated fat (cheese, red meat 5x), low fiber, 2 servings of vegetables per day.",
		"get_activity_log":     "Average 4,200 steps per day, one 30 minute walk last week, no strength training.",
		"get_sleep_stages":     "Average 6h 10m per night, 14% deep sleep, frequent wake-ups between 3 and 4 AM.",
		"get_stress_profile":   "Elevated resting heart rate in the evenings, HRV trending down over 2 weeks.",
	})
}

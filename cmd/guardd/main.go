package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/trackforge/go-guard/env"
	"github.com/trackforge/go-guard/guard"
	"github.com/trackforge/go-guard/logger"
	"github.com/trackforge/go-guard/ratelimit"
	"github.com/trackforge/go-guard/scoring"
	"github.com/trackforge/go-guard/store"
)

var rootCmd = &cobra.Command{
	Use:   "guardd",
	Short: "Member tracker API with an in-process resource-protection layer",
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API",
	RunE: func(cmd *cobra.Command, args []string) error {
		addr, _ := cmd.Flags().GetString("addr")
		dbPath, _ := cmd.Flags().GetString("db")
		rulesPath, _ := cmd.Flags().GetString("rules")
		envFile, _ := cmd.Flags().GetString("env-file")
		jsonLogs, _ := cmd.Flags().GetBool("json")

		if err := env.LoadEnvFile(envFile); err != nil {
			return err
		}

		var log logger.Logger
		if jsonLogs {
			log = logger.NewJSONLogger(os.Stdout)
		} else {
			log = logger.NewConsoleLogger()
		}

		rules := ratelimit.DefaultRules()
		if rulesPath != "" {
			var err error
			if rules, err = ratelimit.LoadRules(rulesPath); err != nil {
				return err
			}
			log.Info("loaded rate limit rules from %s", rulesPath)
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		db, err := store.Open(env.Get("GUARD_DB", dbPath))
		if err != nil {
			return err
		}
		defer db.Close()

		g := guard.New(ctx, log, guard.WithRules(rules))
		defer g.Close()

		srv := newServer(log, g, scoring.New(log), db)
		httpServer := &http.Server{
			Addr:              addr,
			Handler:           srv.routes(),
			ReadHeaderTimeout: 10 * time.Second,
		}

		errCh := make(chan error, 1)
		go func() {
			log.Info("listening on %s", addr)
			errCh <- httpServer.ListenAndServe()
		}()

		select {
		case err := <-errCh:
			return err
		case <-ctx.Done():
		}

		log.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	},
}

func main() {
	serveCmd.Flags().String("addr", ":8080", "listen address")
	serveCmd.Flags().String("db", "guardd.db", "path to the member database")
	serveCmd.Flags().String("rules", "", "path to a rate limit rules YAML file")
	serveCmd.Flags().String("env-file", ".env", "path to an env file")
	serveCmd.Flags().Bool("json", false, "log as JSON lines")
	rootCmd.AddCommand(serveCmd)
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

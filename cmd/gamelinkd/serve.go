package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/opd-ai/gamelink/factory"
	"github.com/opd-ai/gamelink/metrics"
	"github.com/opd-ai/gamelink/simulation"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var serveGames []string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run every enabled transport and print events until interrupted",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return serve(ctx, cmd)
	},
}

func init() {
	serveCmd.Flags().StringSliceVar(&serveGames, "game", nil, "game ids the built-in engine treats as running")
	rootCmd.AddCommand(serveCmd)
}

func serve(ctx context.Context, cmd *cobra.Command) error {
	engine := simulation.NewEngine()
	for _, s := range serveGames {
		id, err := parseGameID(s)
		if err != nil {
			return err
		}
		engine.AddGame(id)
	}

	node, err := factory.Build(cfg, nodeOptions(engine))
	if err != nil {
		return err
	}
	defer node.Close()

	if node.Registry != nil {
		addr, err := metrics.Serve(ctx, cfg.Metrics.Addr, node.Registry)
		if err != nil {
			return fmt.Errorf("failed to serve metrics: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "metrics on http://%s/metrics\n", addr)
	}

	events, unsubscribe := node.Subscribe(256)
	defer unsubscribe()

	if err := node.Start(ctx); err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "serve",
			"error":    err.Error(),
		}).Warn("Some transports failed to start")
	}
	running := 0
	for _, s := range node.Status() {
		fmt.Fprintf(cmd.OutOrStdout(), "%-10s %s\n", s.Kind, statusLine(s.State.String(), s.Err))
		if s.Err == nil {
			running++
		}
	}
	if running == 0 {
		return errors.New("no transport is running")
	}
	if node.DevID != "" {
		fmt.Fprintf(cmd.OutOrStdout(), "mqtt device id %s\n", node.DevID)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case e, ok := <-events:
			if !ok {
				return nil
			}
			fmt.Fprintln(cmd.OutOrStdout(), e.Time.Format("15:04:05.000"), e)
		}
	}
}

func statusLine(state string, err error) string {
	if err != nil {
		return "disabled: " + err.Error()
	}
	return state
}

func nodeOptions(engine *simulation.Engine) factory.Options {
	opts := factory.Options{Engine: engine}
	if simulate {
		opts.Network = simulation.NewRadioNetwork()
	}
	return opts
}

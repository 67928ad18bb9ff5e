package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/vango-dev/enginebridge"
	"github.com/vango-dev/enginebridge/pkg/protocol"
)

type sendOptions struct {
	url      string
	dir      string
	engine   string
	target   string
	method   string
	data     string
	jsonData bool
	file     string
	wait     time.Duration
	logLevel string
}

func sendCmd() *cobra.Command {
	var opts sendOptions

	cmd := &cobra.Command{
		Use:   "send",
		Short: "Connect to a native host and send one message",
		Long: `Connect to a native host view, run the create handshake, send one
message and print the events received while waiting, one JSON object per
line.

Examples:
  enginebridge send --url=ws://localhost:8765/views/1/ws --target=Echo --method=Ping --data=hello
  enginebridge send --url=ws://localhost:8765/views/1/ws --target=Echo --method=State --json --data='{"hp":10}'
  enginebridge send --url=ws://localhost:8765/views/2/ws --target=Echo --method=Blob --file=scene.bin --wait=3s`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSend(cmd.Context(), opts, cmd.OutOrStdout())
		},
	}

	cmd.Flags().StringVarP(&opts.url, "url", "u", "", "Websocket URL of the view")
	cmd.Flags().StringVarP(&opts.dir, "config", "c", ".", "Directory containing enginebridge.json")
	cmd.Flags().StringVarP(&opts.engine, "engine", "e", "", "Engine type: unity or unreal (default from config)")
	cmd.Flags().StringVarP(&opts.target, "target", "t", "", "Message target")
	cmd.Flags().StringVarP(&opts.method, "method", "m", "", "Message method")
	cmd.Flags().StringVarP(&opts.data, "data", "d", "", "Message data")
	cmd.Flags().BoolVar(&opts.jsonData, "json", false, "Send --data as a JSON object")
	cmd.Flags().StringVarP(&opts.file, "file", "f", "", "Send the file's contents as a binary message")
	cmd.Flags().DurationVarP(&opts.wait, "wait", "w", time.Second, "How long to print received events")
	cmd.Flags().StringVar(&opts.logLevel, "log-level", "warn", "Log level: debug, info, warn, error")
	cmd.MarkFlagRequired("url")
	cmd.MarkFlagRequired("target")
	cmd.MarkFlagRequired("method")

	return cmd
}

func runSend(ctx context.Context, opts sendOptions, out io.Writer) error {
	if ctx == nil {
		ctx = context.Background()
	}
	cfg, err := loadConfig(opts.dir)
	if err != nil {
		return err
	}
	engineType := protocol.EngineType(cfg.Controller.EngineType)
	if opts.engine != "" {
		engineType = protocol.EngineType(opts.engine)
	}
	if !engineType.Valid() {
		return fmt.Errorf("unknown engine %q", engineType)
	}

	var payload []byte
	if opts.file != "" {
		if payload, err = os.ReadFile(opts.file); err != nil {
			return err
		}
	}
	var object map[string]any
	if opts.jsonData {
		if err := json.Unmarshal([]byte(opts.data), &object); err != nil {
			return fmt.Errorf("--data is not a JSON object: %w", err)
		}
	}

	bcfg := enginebridge.FromFile(cfg, prometheus.NewRegistry(), newLogger(opts.logLevel))
	bridge := enginebridge.New(bcfg)
	defer bridge.Close(context.WithoutCancel(ctx))

	view, err := bridge.Dial(ctx, opts.url, engineType)
	if err != nil {
		return err
	}
	ctrl := view.Controller

	events, stop := ctrl.Events().Subscribe()
	defer stop()

	switch {
	case payload != nil:
		err = ctrl.SendBinaryMessage(ctx, opts.target, opts.method, payload, true)
	case object != nil:
		err = ctrl.SendJSONMessage(ctx, opts.target, opts.method, object)
	default:
		err = ctrl.SendMessage(ctx, opts.target, opts.method, opts.data)
	}
	if err != nil {
		return err
	}

	enc := json.NewEncoder(out)
	timer := time.NewTimer(opts.wait)
	defer timer.Stop()
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			if err := enc.Encode(ev); err != nil {
				return err
			}
		case <-timer.C:
			return nil
		case <-ctx.Done():
			return nil
		}
	}
}

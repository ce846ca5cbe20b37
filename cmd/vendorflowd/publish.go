package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"vendorflow-backend/internal/metrics"
	"vendorflow-backend/internal/transport/mqtt"
)

func newPublishCmd(v *viper.Viper) *cobra.Command {
	var topic, message string

	cmd := &cobra.Command{
		Use:   "publish",
		Short: "Publish one JSON object to the broker and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			if topic == "" || message == "" {
				return errors.New("--topic and --message are required")
			}
			var body map[string]any
			if err := json.Unmarshal([]byte(message), &body); err != nil || body == nil {
				return errors.New("--message must be a JSON object")
			}

			cfg, logger, err := loadConfig(v)
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}

			conn := mqtt.New(cfg.MQTT, metrics.New(nil), logger)
			if err := conn.Open(ctx); err != nil {
				return fmt.Errorf("failed to connect to %s: %w", cfg.MQTT.Broker, err)
			}
			defer conn.Close()

			if err := conn.Publish(ctx, topic, body); err != nil {
				return err
			}
			logger.Info("published", zap.String("topic", topic))
			return nil
		},
	}

	cmd.Flags().StringVar(&topic, "topic", "", "destination topic")
	cmd.Flags().StringVar(&message, "message", "", "JSON object to publish")
	return cmd
}

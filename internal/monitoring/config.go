// SPDX-FileCopyrightText: 2025 Mads R. Havmand <mads@v42.dk>
//
// SPDX-License-Identifier: AGPL-3.0-only

package monitoring

import (
	"context"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

const meterName = "github.com/MadsRC/llmledger/ledger"

type Config struct {
	ServiceName    string
	ServiceVersion string
	OTLPEndpoint   string
	Logger         *slog.Logger
	Reader         sdkmetric.Reader
}

type Manager struct {
	telemetry     *TelemetryManager
	ledgerMetrics *LedgerMetrics
	config        Config
}

func NewManager(ctx context.Context, config Config) (*Manager, error) {
	telemetry, err := NewTelemetryManager(ctx, TelemetryConfig(config))
	if err != nil {
		return nil, fmt.Errorf("failed to create telemetry manager: %w", err)
	}

	ledgerMetrics, err := NewLedgerMetrics(telemetry.GetMeter(meterName))
	if err != nil {
		return nil, fmt.Errorf("failed to create ledger metrics: %w", err)
	}

	return &Manager{
		telemetry:     telemetry,
		ledgerMetrics: ledgerMetrics,
		config:        config,
	}, nil
}

func (m *Manager) GetLedgerMetrics() *LedgerMetrics {
	return m.ledgerMetrics
}

func (m *Manager) GetMeter(instrumentationName string) metric.Meter {
	return m.telemetry.GetMeter(instrumentationName)
}

func (m *Manager) Shutdown(ctx context.Context) error {
	return m.telemetry.Shutdown(ctx)
}

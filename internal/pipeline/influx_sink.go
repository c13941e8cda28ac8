package pipeline

import (
	"context"
	"fmt"
	"time"

	client "github.com/influxdata/influxdb1-client/v2"
)

// InfluxSinkConfig contains InfluxDB 1.x connection settings.
// Params: endpoint URL, credentials, database, and timeouts.
// Returns: sink configuration consumed by NewInfluxSink.
type InfluxSinkConfig struct {
	URL             string
	Username        string
	Password        string
	Database        string
	RetentionPolicy string
	Timeout         time.Duration
}

// InfluxSink writes batches to the InfluxDB 1.x HTTP write API using
// line protocol with nanosecond precision.
// Params: client and target database settings.
// Returns: network sink implementation.
type InfluxSink struct {
	cfg    InfluxSinkConfig
	client client.Client
}

// NewInfluxSink builds the HTTP client and pings the server, so an
// unreachable sink fails at startup instead of on the first flush.
// Params: cfg connection settings.
// Returns: connected sink or construction/ping error.
func NewInfluxSink(cfg InfluxSinkConfig) (*InfluxSink, error) {
	httpClient, err := client.NewHTTPClient(client.HTTPConfig{
		Addr:     cfg.URL,
		Username: cfg.Username,
		Password: cfg.Password,
		Timeout:  cfg.Timeout,
	})
	if err != nil {
		return nil, fmt.Errorf("init influx client for %q: %w", cfg.URL, err)
	}

	if _, _, err := httpClient.Ping(cfg.Timeout); err != nil {
		_ = httpClient.Close()
		return nil, fmt.Errorf("ping %q: %w", cfg.URL, err)
	}

	return &InfluxSink{cfg: cfg, client: httpClient}, nil
}

// WriteBatch converts and writes one batch.
// Params: ctx aborts before the write starts; batch points to write.
// Returns: conversion or write error.
func (s *InfluxSink) WriteBatch(ctx context.Context, batch Batch) error {
	if len(batch) == 0 {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	points, err := client.NewBatchPoints(client.BatchPointsConfig{
		Database:        s.cfg.Database,
		RetentionPolicy: s.cfg.RetentionPolicy,
		Precision:       "ns",
	})
	if err != nil {
		return fmt.Errorf("init batch: %w", err)
	}

	for _, point := range batch {
		converted, err := client.NewPoint(point.Measurement, point.Tags, point.Fields, point.Time)
		if err != nil {
			return fmt.Errorf("build point %s: %w", point.Measurement, err)
		}
		points.AddPoint(converted)
	}

	if err := s.client.Write(points); err != nil {
		return fmt.Errorf("write %d points to %q: %w", len(batch), s.cfg.Database, err)
	}
	return nil
}

// Close releases the underlying HTTP client.
// Params: none.
// Returns: close error.
func (s *InfluxSink) Close() error {
	return s.client.Close()
}

// EncodeLine renders one point in InfluxDB line protocol. The print and
// log sinks use it so dry-run output is byte-identical to a real write.
// Params: point to serialize.
// Returns: line-protocol string or conversion error.
func EncodeLine(point Point) (string, error) {
	converted, err := client.NewPoint(point.Measurement, point.Tags, point.Fields, point.Time)
	if err != nil {
		return "", err
	}
	return converted.String(), nil
}

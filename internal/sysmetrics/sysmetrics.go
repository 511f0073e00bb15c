// Unraid API - Subscription and Backup Job Orchestration
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/unraid-api

// Package sysmetrics produces the CPU and memory utilization topics. The
// samplers only run while the topic has at least one subscriber.
package sysmetrics

import (
	"context"
	"fmt"
	"time"

	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/mem"

	"github.com/tomtom215/unraid-api/internal/config"
	"github.com/tomtom215/unraid-api/internal/pubsub"
	"github.com/tomtom215/unraid-api/internal/subscription"
)

// CPUSample is the payload of CPU_UTILIZATION.
type CPUSample struct {
	Percent   float64   `json:"percent"`
	PerCPU    []float64 `json:"per_cpu,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// MemorySample is the payload of MEMORY_UTILIZATION.
type MemorySample struct {
	Total       uint64    `json:"total"`
	Available   uint64    `json:"available"`
	Used        uint64    `json:"used"`
	Free        uint64    `json:"free"`
	UsedPercent float64   `json:"used_percent"`
	SwapTotal   uint64    `json:"swap_total"`
	SwapUsed    uint64    `json:"swap_used"`
	Timestamp   time.Time `json:"timestamp"`
}

// Sampler reads host utilization.
type Sampler interface {
	CPU(ctx context.Context) (*CPUSample, error)
	Memory(ctx context.Context) (*MemorySample, error)
}

// TopicRegistrar is satisfied by *subscription.Tracker.
type TopicRegistrar interface {
	RegisterTopic(topic string, h subscription.Handler)
}

// Publisher is satisfied by *pubsub.PubSub.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) error
}

// HostSampler reads the local host through gopsutil.
type HostSampler struct{}

// CPU returns utilization since the previous call.
func (HostSampler) CPU(ctx context.Context) (*CPUSample, error) {
	total, err := cpu.PercentWithContext(ctx, 0, false)
	if err != nil {
		return nil, fmt.Errorf("read cpu utilization: %w", err)
	}
	perCPU, err := cpu.PercentWithContext(ctx, 0, true)
	if err != nil {
		return nil, fmt.Errorf("read per-cpu utilization: %w", err)
	}
	s := &CPUSample{PerCPU: perCPU, Timestamp: time.Now()}
	if len(total) > 0 {
		s.Percent = total[0]
	}
	return s, nil
}

// Memory returns the current virtual and swap memory usage.
func (HostSampler) Memory(ctx context.Context) (*MemorySample, error) {
	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("read memory usage: %w", err)
	}
	s := &MemorySample{
		Total:       vm.Total,
		Available:   vm.Available,
		Used:        vm.Used,
		Free:        vm.Free,
		UsedPercent: vm.UsedPercent,
		Timestamp:   time.Now(),
	}
	if swap, err := mem.SwapMemoryWithContext(ctx); err == nil {
		s.SwapTotal = swap.Total
		s.SwapUsed = swap.Used
	}
	return s, nil
}

// Register adds the CPU and memory topics to topics as polling producers.
func Register(topics TopicRegistrar, pub Publisher, sampler Sampler, cfg config.PollingConfig) {
	topics.RegisterTopic(pubsub.TopicCPUUtilization, subscription.PollingHandler(cfg.CPUInterval,
		func(ctx context.Context) error {
			s, err := sampler.CPU(ctx)
			if err != nil {
				return err
			}
			return publish(ctx, pub, pubsub.TopicCPUUtilization, s)
		}))

	topics.RegisterTopic(pubsub.TopicMemoryUtilization, subscription.PollingHandler(cfg.MemoryInterval,
		func(ctx context.Context) error {
			s, err := sampler.Memory(ctx)
			if err != nil {
				return err
			}
			return publish(ctx, pub, pubsub.TopicMemoryUtilization, s)
		}))
}

// publish drops samples taken by a producer that was stopped mid-read.
func publish(ctx context.Context, pub Publisher, topic string, payload any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return pub.Publish(ctx, topic, payload)
}

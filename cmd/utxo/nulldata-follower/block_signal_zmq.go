//go:build zmq

package main

import (
	"context"
	"encoding/hex"
	"fmt"
	"syscall"
	"time"

	"github.com/goodnatureofminers/nulldata-harvester/internal/clock"
	"github.com/pebbe/zmq4"
	"go.uber.org/zap"
)

const hashBlockTopic = "hashblock"

// startBlockSignal subscribes to the node's hashblock notifications. The returned
// channel holds at most one pending wake-up.
func startBlockSignal(ctx context.Context, addr string, logger *zap.Logger) (<-chan struct{}, error) {
	if addr == "" {
		return nil, nil
	}

	sub, err := zmq4.NewSocket(zmq4.SUB)
	if err != nil {
		return nil, fmt.Errorf("create zmq socket: %w", err)
	}
	if err := sub.SetSubscribe(hashBlockTopic); err != nil {
		_ = sub.Close()
		return nil, fmt.Errorf("subscribe %s: %w", hashBlockTopic, err)
	}
	if err := sub.SetRcvtimeo(time.Second); err != nil {
		_ = sub.Close()
		return nil, fmt.Errorf("set zmq receive timeout: %w", err)
	}
	if err := sub.Connect(addr); err != nil {
		_ = sub.Close()
		return nil, fmt.Errorf("connect zmq %s: %w", addr, err)
	}

	notify := make(chan struct{}, 1)
	logger = logger.With(zap.String("addr", addr))

	go func() {
		defer func() {
			_ = sub.Close()
		}()
		for ctx.Err() == nil {
			parts, err := sub.RecvMessageBytes(0)
			if err != nil {
				if zmq4.AsErrno(err) == zmq4.Errno(syscall.EAGAIN) {
					continue
				}
				logger.Warn("zmq receive failed", zap.Error(err))
				_ = clock.Wait(ctx, time.Second, nil)
				continue
			}
			if len(parts) < 2 || string(parts[0]) != hashBlockTopic {
				logger.Warn("skip malformed zmq message", zap.Int("parts", len(parts)))
				continue
			}

			logger.Debug("new block announced", zap.String("hash", hex.EncodeToString(parts[1])))
			select {
			case notify <- struct{}{}:
			default:
			}
		}
	}()

	return notify, nil
}

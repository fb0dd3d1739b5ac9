package store

import (
	"context"
	"net"

	"github.com/redis/go-redis/v9"
)

// healthHook reports transport failures of one client back to its manager
// and emits connect events for dialed connections.
type healthHook struct {
	manager *Manager
	client  *redis.Client
}

var _ redis.Hook = (*healthHook)(nil)

func (h *healthHook) DialHook(next redis.DialHook) redis.DialHook {
	return func(ctx context.Context, network, addr string) (net.Conn, error) {
		conn, err := next(ctx, network, addr)
		if err == nil {
			h.manager.emit(EventConnect, nil)
		}
		return conn, err
	}
}

func (h *healthHook) ProcessHook(next redis.ProcessHook) redis.ProcessHook {
	return func(ctx context.Context, cmd redis.Cmder) error {
		err := next(ctx, cmd)
		h.check(err)
		return err
	}
}

func (h *healthHook) ProcessPipelineHook(next redis.ProcessPipelineHook) redis.ProcessPipelineHook {
	return func(ctx context.Context, cmds []redis.Cmder) error {
		err := next(ctx, cmds)
		h.check(err)
		return err
	}
}

func (h *healthHook) check(err error) {
	if IsConnectionError(err) {
		h.manager.markBroken(h.client, err)
	}
}

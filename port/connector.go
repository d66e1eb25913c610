package port

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/n-ando/OpenRTM-aist-sub001/buffer"
	"github.com/n-ando/OpenRTM-aist-sub001/rpc"
	"github.com/n-ando/OpenRTM-aist-sub001/rterr"
)

// pushTimeout bounds each asynchronous put of a "new" connector.
const pushTimeout = time.Second

// putRequest carries one encoded value to an input port.
type putRequest struct {
	Connector string `json:"connector"`
	Data      []byte `json:"data"`
}

// pullRequest asks an output port for the oldest value of a periodic connector.
type pullRequest struct {
	Connector string `json:"connector"`
}

type pullReply struct {
	Data []byte `json:"data,omitempty"`
	OK   bool   `json:"ok"`
}

// connector is the local half of a connector. Which fields are in use
// depends on the port kind and the subscription:
//
//	in  + flush     put hands over through the port's handoff channel
//	in  + new       put writes ring; Read drains it
//	in  + periodic  Read pulls from outRef
//	out + flush     Write puts synchronously to every target
//	out + new       Write fills ring; a pusher goroutine drains it to targets
//	out + periodic  Write fills ring; peers pull from it
type connector struct {
	profile ConnectorProfile
	sub     Subscription
	outRef  rpc.Ref
	targets []rpc.Ref
	ring    *buffer.Ring[[]byte]

	closed chan struct{}
	done   chan struct{}
	once   sync.Once
}

func newConnector(cp ConnectorProfile, sub Subscription, outRef rpc.Ref, targets []rpc.Ref) *connector {
	return &connector{
		profile: cp,
		sub:     sub,
		outRef:  outRef,
		targets: targets,
		closed:  make(chan struct{}),
	}
}

func (c *connector) id() string { return c.profile.ID }

// close releases blocked writers and stops the pusher, waiting for it to exit.
func (c *connector) close() {
	c.once.Do(func() { close(c.closed) })
	if c.done != nil {
		<-c.done
	}
}

func (c *connector) isClosed() bool {
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}

// push drains ring towards the targets until the connector is closed.
func (c *connector) push(sub rpc.Substrate, logger *slog.Logger) {
	defer close(c.done)
	for {
		select {
		case <-c.closed:
			return
		case <-c.ring.NotEmpty():
		}
		for {
			if c.isClosed() {
				return
			}
			data, ok := c.ring.Read()
			if !ok {
				break
			}
			for _, target := range c.targets {
				ctx, cancel := context.WithTimeout(context.Background(), pushTimeout)
				_, err := rpc.Invoke[putRequest, rpc.Empty](ctx, sub, target, "put", putRequest{Connector: c.id(), Data: data})
				cancel()
				if err != nil {
					logger.Warn("push failed", "connector_id", c.id(), "target", target, "error", err)
				}
			}
		}
	}
}

// flushTo puts data to every target and returns once all of them took it.
// A failing target does not cancel the others.
func (c *connector) flushTo(ctx context.Context, sub rpc.Substrate, data []byte) error {
	var g errgroup.Group
	for _, target := range c.targets {
		g.Go(func() error {
			_, err := rpc.Invoke[putRequest, rpc.Empty](ctx, sub, target, "put", putRequest{Connector: c.id(), Data: data})
			if err != nil {
				return remoteErr("write", string(target), err)
			}
			return nil
		})
	}
	return g.Wait()
}

// handOver blocks until a reader receives data from handoff.
func (c *connector) handOver(ctx context.Context, handoff chan<- []byte, data []byte) error {
	select {
	case handoff <- data:
		return nil
	case <-c.closed:
		return rterr.Connection("put", c.id(), "connector closed")
	case <-ctx.Done():
		return rterr.Wrap(rterr.KindTimeout, "put", c.id(), ctx.Err())
	}
}

package cache

import (
	"context"

	"github.com/redis/go-redis/v9"
)

// PubSubHandler processes one message delivered on a channel.
type PubSubHandler func(channel string, payload []byte)

// Publish sends payload on the given channel. Used by the Processor to
// fan out bid-update/outbid events and by handlers that raise
// cross-instance notifications.
func (c *Client) Publish(ctx context.Context, channel string, payload []byte) error {
	return c.cmd.Publish(ctx, channel, payload).Err()
}

func (c *Client) PublishAuctionBid(ctx context.Context, auctionID int, payload []byte) error {
	return c.Publish(ctx, auctionBidsChannel(auctionID), payload)
}

func (c *Client) PublishAuctionEvent(ctx context.Context, auctionID int, payload []byte) error {
	return c.Publish(ctx, auctionEventsChannel(auctionID), payload)
}

func (c *Client) PublishGlobalNotification(ctx context.Context, payload []byte) error {
	return c.Publish(ctx, GlobalNotificationsChannel, payload)
}

// Demux is the single subscriber connection that the Gateway's Hub
// attaches to for the lifetime of the process. Rooms join and leave
// channels dynamically via Subscribe/Unsubscribe instead of each room
// opening its own Redis connection, per spec.md §9's design note that a
// single demultiplexing subscriber dispatches by channel name.
type Demux struct {
	pubsub  *redis.PubSub
	handler PubSubHandler
}

// NewDemux opens the subscriber connection with no channels yet
// attached; channels are added with Subscribe as rooms become active.
func (c *Client) NewDemux(ctx context.Context, handler PubSubHandler) *Demux {
	return &Demux{
		pubsub:  c.sub.Subscribe(ctx),
		handler: handler,
	}
}

// Subscribe attaches additional channels to the demux without
// disrupting channels already flowing through it.
func (d *Demux) Subscribe(ctx context.Context, channels ...string) error {
	return d.pubsub.Subscribe(ctx, channels...)
}

// Unsubscribe detaches channels, e.g. when a room empties and the
// auction it tracks is long ended.
func (d *Demux) Unsubscribe(ctx context.Context, channels ...string) error {
	return d.pubsub.Unsubscribe(ctx, channels...)
}

// Run drains delivered messages and dispatches each to the handler
// until ctx is cancelled or the underlying connection errors out.
func (d *Demux) Run(ctx context.Context) error {
	ch := d.pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			d.handler(msg.Channel, []byte(msg.Payload))
		}
	}
}

// Close releases the demux's subscription.
func (d *Demux) Close() error {
	return d.pubsub.Close()
}

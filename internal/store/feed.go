package store

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// ChangeFeed fans out commit notifications between portal processes so every
// live subscription re-reads after a write, whichever process made it.
type ChangeFeed interface {
	Publish(ctx context.Context, collection, id string) error
	// Subscribe signals on the returned channel after each change to the
	// document, or to any document of the collection when id is empty.
	// The returned func releases the subscription.
	Subscribe(ctx context.Context, collection, id string) (<-chan struct{}, func(), error)
}

type RedisFeed struct {
	client *redis.Client
	prefix string
}

func NewRedisFeed(client *redis.Client) *RedisFeed {
	return &RedisFeed{client: client, prefix: "docs"}
}

func (f *RedisFeed) documentChannel(collection, id string) string {
	return fmt.Sprintf("%s:%s:%s", f.prefix, collection, id)
}

func (f *RedisFeed) collectionChannel(collection string) string {
	return fmt.Sprintf("%s:%s", f.prefix, collection)
}

func (f *RedisFeed) Publish(ctx context.Context, collection, id string) error {
	if err := f.client.Publish(ctx, f.documentChannel(collection, id), id).Err(); err != nil {
		return fmt.Errorf("publish document change: %w", err)
	}
	if err := f.client.Publish(ctx, f.collectionChannel(collection), id).Err(); err != nil {
		return fmt.Errorf("publish collection change: %w", err)
	}
	return nil
}

func (f *RedisFeed) Subscribe(ctx context.Context, collection, id string) (<-chan struct{}, func(), error) {
	channel := f.collectionChannel(collection)
	if id != "" {
		channel = f.documentChannel(collection, id)
	}

	ps := f.client.Subscribe(ctx, channel)
	// Wait for the subscription to be confirmed so no change committed after
	// Subscribe returns can be missed.
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, nil, fmt.Errorf("subscribe %s: %w", channel, err)
	}

	trigger := make(chan struct{}, 1)
	messages := ps.Channel()
	done := make(chan struct{})
	go func() {
		defer close(trigger)
		for {
			select {
			case _, ok := <-messages:
				if !ok {
					return
				}
				signal(trigger)
			case <-done:
				return
			}
		}
	}()

	stop := func() {
		close(done)
		_ = ps.Close()
	}
	return trigger, stop, nil
}

package internal

import (
	"context"
	"encoding/json"
	"log"
	"sync"

	"github.com/ThreeDotsLabs/watermill/message"
)

// Dispatcher receives decoded sync-trigger events. Errors are logged and the
// message acknowledged either way: retrying is the job of outer schedulers
// (webhook redelivery, the next scheduled tick), never of this loop.
type Dispatcher interface {
	SyncRepository(ctx context.Context, evt Event) error
	SyncRepositories(ctx context.Context, evt Event) error
	SyncProject(ctx context.Context, evt Event) error
}

// Consumer subscribes to the sync topics and hands events to the Dispatcher.
type Consumer struct {
	Subscriber  message.Subscriber
	Dispatcher  Dispatcher
	Logger      *log.Logger
	Concurrency int
}

// Run blocks until the context is canceled.
func (c *Consumer) Run(ctx context.Context) error {
	logger := c.Logger
	if logger == nil {
		logger = log.Default()
	}
	concurrency := c.Concurrency
	if concurrency <= 0 {
		concurrency = 1
	}

	topics := []string{TopicSyncRepository, TopicSyncRepositories, TopicSyncProject}
	sem := make(chan struct{}, concurrency)

	var wg sync.WaitGroup
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	for _, topic := range topics {
		msgs, err := c.Subscriber.Subscribe(ctx, topic)
		if err != nil {
			return err
		}
		wg.Add(1)
		go func(topic string, ch <-chan *message.Message) {
			defer wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case msg, ok := <-ch:
					if !ok {
						return
					}
					sem <- struct{}{}
					wg.Add(1)
					go func(msg *message.Message) {
						defer wg.Done()
						defer func() { <-sem }()
						c.handle(ctx, logger, topic, msg)
					}(msg)
				}
			}
		}(topic, msgs)
	}

	<-ctx.Done()
	wg.Wait()
	return nil
}

func (c *Consumer) handle(ctx context.Context, logger *log.Logger, topic string, msg *message.Message) {
	defer msg.Ack()

	var evt Event
	if err := json.Unmarshal(msg.Payload, &evt); err != nil {
		logger.Printf("decode trigger failed: %v", err)
		return
	}

	var err error
	switch topic {
	case TopicSyncRepository:
		err = c.Dispatcher.SyncRepository(ctx, evt)
	case TopicSyncRepositories:
		err = c.Dispatcher.SyncRepositories(ctx, evt)
	case TopicSyncProject:
		err = c.Dispatcher.SyncProject(ctx, evt)
	}
	if err != nil {
		logger.Printf("sync trigger topic=%s provider=%s repo=%s failed: %v", topic, evt.Provider, evt.RepositoryID, err)
		IncSync("failed")
		return
	}
	IncSync("ok")
}

package sink

import (
	"sync"

	"github.com/n0needt0/go-goodies/log"

	"github.com/n0needt0/goodies/plc-sink/internal/domain"
	"github.com/n0needt0/goodies/plc-sink/internal/services"
)

// Consumer is the sole reader of the message channel. Every write to the log
// file happens here, fully serialized.
type Consumer struct {
	services *services.Services
	writer   *Writer
	messages <-chan domain.LogMessage
	quit     chan bool
	wg       sync.WaitGroup
}

func NewConsumer(services *services.Services, writer *Writer, messages <-chan domain.LogMessage) *Consumer {
	return &Consumer{
		services: services,
		writer:   writer,
		messages: messages,
		quit:     make(chan bool),
	}
}

func (c *Consumer) Start() error {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()

		for {
			select {
			case msg := <-c.messages:
				if err := c.writer.Append(msg); err != nil {
					// Durable storage is gone; continuing to accept logs we
					// cannot persist would be lying to the senders.
					if c.services.Config.SOCAlertClient != nil {
						c.services.Config.SOCAlertClient.SendStorageFailureAlert(c.services.Config.Sink.Path, err)
					}
					log.Fatalf("log storage failure: %v", err)
					return
				}
			case <-c.quit:
				log.Info("Sink consumer received shutdown signal")
				return
			}
		}
	}()

	return nil
}

func (c *Consumer) Shutdown() error {
	log.Info("Sink consumer shutting down")
	c.quit <- true
	c.wg.Wait()
	return c.writer.Close()
}

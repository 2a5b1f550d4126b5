package messaging

import (
	"encoding/json"
	"log"
	"sync"
	"time"

	"mmcd/metrics"
	"mmcd/protocol"
	"mmcd/store"
)

const (
	// maxOutboxRetries is how many failed sends a message gets before it is dropped.
	maxOutboxRetries = 20
	outboxBatch      = 50

	// Sent rows are kept this long for inspection, then purged.
	outboxRetention  = 24 * time.Hour
	outboxPurgeEvery = time.Hour
)

// OutboxStore is the persistence the drainer works against.
type OutboxStore interface {
	ListPendingOutbox(limit int) ([]*store.OutboxMessage, error)
	AckOutbox(id int64) error
	IncrementOutboxRetries(id int64) error
	PurgeSentOutbox(olderThan time.Duration) (int64, error)
}

// OutboxDrainer forwards events that were queued while the broker was down.
// Messages go out oldest first; a failed send ends the pass so the shelf
// manager never sees events out of order.
type OutboxDrainer struct {
	db       OutboxStore
	client   Transport
	interval time.Duration
	clock    func() time.Time

	lastPurge time.Time
	stopOnce  sync.Once
	stopChan  chan struct{}
	wg        sync.WaitGroup
}

// NewOutboxDrainer creates a new outbox drainer.
func NewOutboxDrainer(db OutboxStore, client Transport, interval time.Duration) *OutboxDrainer {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &OutboxDrainer{
		db:       db,
		client:   client,
		interval: interval,
		clock:    time.Now,
		stopChan: make(chan struct{}),
	}
}

// Start begins the outbox drain loop.
func (d *OutboxDrainer) Start() {
	d.wg.Add(1)
	go d.drainLoop()
}

// Stop stops the outbox drain loop.
func (d *OutboxDrainer) Stop() {
	d.stopOnce.Do(func() { close(d.stopChan) })
	d.wg.Wait()
}

func (d *OutboxDrainer) drainLoop() {
	defer d.wg.Done()
	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	for {
		select {
		case <-d.stopChan:
			return
		case <-ticker.C:
			d.drain()
			d.purge()
		}
	}
}

// expired reports whether the queued envelope is already past its expiry.
// Payloads that do not decode are sent as they are.
func expired(payload []byte, now time.Time) bool {
	var hdr protocol.RawHeader
	if err := json.Unmarshal(payload, &hdr); err != nil {
		return false
	}
	return hdr.Expired(now)
}

func (d *OutboxDrainer) drain() {
	if !d.client.IsConnected() {
		return
	}
	msgs, err := d.db.ListPendingOutbox(outboxBatch)
	if err != nil {
		log.Printf("outbox: list pending: %v", err)
		return
	}

	now := d.clock()
	for i, msg := range msgs {
		switch {
		case msg.Retries >= maxOutboxRetries:
			log.Printf("outbox: dropping msg %d (%s) after %d retries", msg.ID, msg.MsgType, msg.Retries)
			metrics.OutboxDroppedTotal.WithLabelValues("retries").Inc()
			d.db.AckOutbox(msg.ID)
			continue
		case expired(msg.Payload, now):
			log.Printf("outbox: dropping expired msg %d (%s)", msg.ID, msg.MsgType)
			metrics.OutboxDroppedTotal.WithLabelValues("expired").Inc()
			d.db.AckOutbox(msg.ID)
			continue
		}

		if err := d.client.Publish(msg.Topic, msg.Payload); err != nil {
			log.Printf("outbox: publish msg %d: %v", msg.ID, err)
			d.db.IncrementOutboxRetries(msg.ID)
			metrics.OutboxPending.Set(float64(len(msgs) - i))
			return
		}
		if err := d.db.AckOutbox(msg.ID); err != nil {
			log.Printf("outbox: ack msg %d: %v", msg.ID, err)
		}
	}
	metrics.OutboxPending.Set(0)
}

func (d *OutboxDrainer) purge() {
	now := d.clock()
	if now.Sub(d.lastPurge) < outboxPurgeEvery {
		return
	}
	d.lastPurge = now
	n, err := d.db.PurgeSentOutbox(outboxRetention)
	if err != nil {
		log.Printf("outbox: purge: %v", err)
		return
	}
	if n > 0 {
		log.Printf("outbox: purged %d sent messages", n)
	}
}

package bus

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/IBM/sarama"
)

// KafkaBus backs Bus with a sarama consumer group (for Poll/Commit) and an
// async producer configured for strong producer semantics (SPEC_FULL.md
// §4.4): acks from all in-sync replicas, an idempotent producer, and
// bounded retries. Publish itself stays non-blocking — acknowledgment is
// handled by the producer's background machinery, pumped with a
// zero-timeout drain of its Successes/Errors channels.
type KafkaBus struct {
	client   sarama.Client
	group    sarama.ConsumerGroup
	producer sarama.AsyncProducer
	topic    string

	msgs   chan *sarama.ConsumerMessage
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	session sarama.ConsumerGroupSession
	pending *sarama.ConsumerMessage
}

// KafkaConfig controls broker connection and producer reliability knobs.
type KafkaConfig struct {
	Brokers       []string
	IngestTopic   string
	ConsumerGroup string
	RetryMax      int // bounded producer retries
}

// NewKafkaBus dials the given brokers, joins ConsumerGroup subscribed to
// IngestTopic, and starts an idempotent async producer.
func NewKafkaBus(cfg KafkaConfig) (*KafkaBus, error) {
	conf := sarama.NewConfig()
	conf.Consumer.Offsets.Initial = sarama.OffsetOldest
	conf.Consumer.Return.Errors = true
	conf.Consumer.Offsets.AutoCommit.Enable = false // commits are synchronous, driven by Bus.Commit

	conf.Producer.RequiredAcks = sarama.WaitForAll
	conf.Producer.Idempotent = true
	conf.Producer.Return.Successes = true
	conf.Producer.Return.Errors = true
	retryMax := cfg.RetryMax
	if retryMax <= 0 {
		retryMax = 5
	}
	conf.Producer.Retry.Max = retryMax
	// Idempotent production requires at most one in-flight request per
	// connection; sarama enforces this.
	conf.Net.MaxOpenRequests = 1

	client, err := sarama.NewClient(cfg.Brokers, conf)
	if err != nil {
		return nil, err
	}

	group, err := sarama.NewConsumerGroupFromClient(cfg.ConsumerGroup, client)
	if err != nil {
		_ = client.Close()
		return nil, err
	}

	producer, err := sarama.NewAsyncProducerFromClient(client)
	if err != nil {
		_ = group.Close()
		_ = client.Close()
		return nil, err
	}

	kb := &KafkaBus{
		client:   client,
		group:    group,
		producer: producer,
		topic:    cfg.IngestTopic,
		msgs:     make(chan *sarama.ConsumerMessage),
	}

	ctx, cancel := context.WithCancel(context.Background())
	kb.cancel = cancel
	kb.wg.Add(1)
	go kb.consumeLoop(ctx)

	return kb, nil
}

// consumeLoop keeps re-joining the consumer group: Consume returns whenever
// a rebalance happens, so this must be called in a loop for the life of
// the bus.
func (kb *KafkaBus) consumeLoop(ctx context.Context) {
	defer kb.wg.Done()
	handler := &groupHandler{bus: kb}
	for {
		if err := kb.group.Consume(ctx, []string{kb.topic}, handler); err != nil {
			if errors.Is(err, sarama.ErrClosedConsumerGroup) || ctx.Err() != nil {
				return
			}
			// Transient rebalance/coordinator errors: brief backoff then retry.
			select {
			case <-time.After(time.Second):
			case <-ctx.Done():
				return
			}
		}
		if ctx.Err() != nil {
			return
		}
	}
}

type groupHandler struct{ bus *KafkaBus }

func (h *groupHandler) Setup(s sarama.ConsumerGroupSession) error {
	h.bus.mu.Lock()
	h.bus.session = s
	h.bus.mu.Unlock()
	return nil
}

func (h *groupHandler) Cleanup(s sarama.ConsumerGroupSession) error {
	h.bus.mu.Lock()
	h.bus.session = nil
	h.bus.mu.Unlock()
	return nil
}

func (h *groupHandler) ConsumeClaim(s sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for msg := range claim.Messages() {
		select {
		case h.bus.msgs <- msg:
		case <-s.Context().Done():
			return nil
		}
	}
	return nil
}

// Poll returns the next message from the consumer group, or (nil, nil) if
// timeout elapses first. The returned message must be followed by Commit
// once processing succeeds (SPEC_FULL.md §4.5: commit after every message,
// even malformed ones, so poison pills can't stall the loop).
func (kb *KafkaBus) Poll(ctx context.Context, timeout time.Duration) (*Message, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case msg, ok := <-kb.msgs:
		if !ok {
			return nil, nil
		}
		kb.mu.Lock()
		kb.pending = msg
		kb.mu.Unlock()
		return &Message{Key: msg.Key, Value: msg.Value}, nil
	case <-timer.C:
		return nil, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Commit marks the most recently polled message done and commits the
// consumer group offset synchronously.
func (kb *KafkaBus) Commit(ctx context.Context) error {
	kb.mu.Lock()
	defer kb.mu.Unlock()
	if kb.session == nil || kb.pending == nil {
		return nil
	}
	kb.session.MarkMessage(kb.pending, "")
	kb.session.Commit()
	kb.pending = nil
	return nil
}

// Publish hands the message to the producer's input channel (non-blocking)
// then does a zero-timeout pump of its Successes/Errors channels, matching
// the "non-blocking enqueue followed by a zero-timeout pump" suspension
// point described in SPEC_FULL.md §5.
func (kb *KafkaBus) Publish(ctx context.Context, topic string, key, value []byte) error {
	msg := &sarama.ProducerMessage{
		Topic: topic,
		Key:   sarama.ByteEncoder(key),
		Value: sarama.ByteEncoder(value),
	}
	select {
	case kb.producer.Input() <- msg:
	case <-ctx.Done():
		return ctx.Err()
	}

	for {
		select {
		case <-kb.producer.Successes():
		case perr := <-kb.producer.Errors():
			return perr.Err
		default:
			// Acknowledgment will arrive later via the producer's background
			// machinery; the publisher does not wait for it.
			return nil
		}
	}
}

// Close stops the consume loop and releases the producer, group, and
// client, in that order.
func (kb *KafkaBus) Close() error {
	kb.cancel()
	kb.wg.Wait()

	var errs []error
	if err := kb.producer.Close(); err != nil {
		errs = append(errs, err)
	}
	if err := kb.group.Close(); err != nil {
		errs = append(errs, err)
	}
	if err := kb.client.Close(); err != nil {
		errs = append(errs, err)
	}
	if len(errs) > 0 {
		return errs[0]
	}
	return nil
}

var _ Bus = (*KafkaBus)(nil)

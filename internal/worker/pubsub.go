package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"cloud.google.com/go/pubsub/v2"
	"github.com/rs/zerolog"

	"github.com/aqplatform/ingestion/internal/ingestion"
)

// Job types accepted on the trigger subscription.
const (
	JobHistorical = "historical_ingestion"
	JobRealtime   = "realtime_ingestion"
)

// ErrUnknownJob reports a job type the worker does not handle.
var ErrUnknownJob = errors.New("unknown job type")

// PubSubHandler triggers ingestion runs from Pub/Sub messages.
type PubSubHandler struct {
	client           *pubsub.Client
	subscriber       *pubsub.Subscriber
	subscriptionName string
	dispatcher       *Dispatcher
	logger           zerolog.Logger
}

// PubSubConfig holds configuration for the Pub/Sub handler.
type PubSubConfig struct {
	ProjectID        string
	SubscriptionName string
	Runner           Runner
	Logger           zerolog.Logger
}

// JobMessage is the payload of a trigger message.
type JobMessage struct {
	JobType string `json:"job_type"`
}

// NewPubSubHandler creates a new Pub/Sub handler.
func NewPubSubHandler(ctx context.Context, cfg PubSubConfig) (*PubSubHandler, error) {
	client, err := pubsub.NewClient(ctx, cfg.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("creating pubsub client: %w", err)
	}

	subscriber := client.Subscriber(cfg.SubscriptionName)

	// Runs are serialized, so more outstanding messages only queue up.
	subscriber.ReceiveSettings.MaxOutstandingMessages = 1
	subscriber.ReceiveSettings.MaxExtension = 30 * time.Minute

	return &PubSubHandler{
		client:           client,
		subscriber:       subscriber,
		subscriptionName: cfg.SubscriptionName,
		dispatcher:       NewDispatcher(cfg.Runner, cfg.Logger),
		logger:           cfg.Logger,
	}, nil
}

// Start begins processing Pub/Sub messages.
func (h *PubSubHandler) Start(ctx context.Context) error {
	h.logger.Info().
		Str("subscription", h.subscriptionName).
		Msg("starting pubsub handler")

	return h.subscriber.Receive(ctx, func(ctx context.Context, msg *pubsub.Message) {
		h.handleMessage(ctx, msg)
	})
}

// Close closes the Pub/Sub client.
func (h *PubSubHandler) Close() error {
	return h.client.Close()
}

func (h *PubSubHandler) handleMessage(ctx context.Context, msg *pubsub.Message) {
	logger := h.logger.With().
		Str("message_id", msg.ID).
		Str("publish_time", msg.PublishTime.Format(time.RFC3339)).
		Logger()

	logger.Debug().Msg("received pubsub message")

	if h.dispatcher.Dispatch(logger.WithContext(ctx), msg.Data) {
		msg.Ack()
		return
	}
	msg.Nack()
}

// Dispatcher decodes job messages and runs the matching ingestion mode.
type Dispatcher struct {
	runner Runner
	logger zerolog.Logger
}

// NewDispatcher creates a dispatcher.
func NewDispatcher(runner Runner, logger zerolog.Logger) *Dispatcher {
	return &Dispatcher{runner: runner, logger: logger}
}

// Dispatch handles one message payload and reports whether it should be
// acked. Malformed payloads and failed runs are nacked for redelivery;
// unknown job types are acked.
func (d *Dispatcher) Dispatch(ctx context.Context, data []byte) bool {
	logger := d.logger
	if l := zerolog.Ctx(ctx); l.GetLevel() != zerolog.Disabled {
		logger = *l
	}
	startTime := time.Now()

	var job JobMessage
	if err := json.Unmarshal(data, &job); err != nil {
		logger.Error().Err(err).Msg("failed to parse message")
		return false
	}

	mode, err := jobMode(job.JobType)
	if err != nil {
		logger.Warn().Err(err).Msg("message acked without running")
		return true
	}

	stats, err := d.runner.Run(ctx, mode)
	if err != nil {
		logger.Error().
			Err(err).
			Str("job_type", job.JobType).
			Str("run_id", stats.RunID).
			Msg("job failed")
		return false
	}

	logger.Info().
		Str("job_type", job.JobType).
		Str("run_id", stats.RunID).
		Int("inserted", stats.Inserted).
		Dur("duration", time.Since(startTime)).
		Msg("job completed successfully")

	return true
}

func jobMode(jobType string) (ingestion.Mode, error) {
	switch jobType {
	case JobHistorical:
		return ingestion.ModeHistorical, nil
	case JobRealtime:
		return ingestion.ModeRealtime, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownJob, jobType)
	}
}

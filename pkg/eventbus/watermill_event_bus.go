package eventbus

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/heraldkit/herald/pkg/events"
	"github.com/heraldkit/herald/pkg/otelhelper"
)

type WatermillEventBus struct {
	publisher     message.Publisher
	subscriber    message.Subscriber
	subscriptions map[events.EventType]EventHandler
	tracer        trace.Tracer
}

func NewWatermillEventBus(pub message.Publisher, sub message.Subscriber) *WatermillEventBus {
	return &WatermillEventBus{
		publisher:     pub,
		subscriber:    sub,
		subscriptions: make(map[events.EventType]EventHandler),
		tracer:        otel.Tracer("herald/eventbus"),
	}
}

func (eb *WatermillEventBus) GenerateID() string {
	return watermill.NewULID()
}

func (eb *WatermillEventBus) Publish(_ context.Context, key string, event events.Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}

	msg := message.NewMessage("msg-"+eb.GenerateID(), payload)
	msg.Metadata.Set(events.EventMetadataKey, key)
	msg.Metadata.Set(events.EventTypeMetadataKey, string(event.GetType()))

	return eb.publisher.Publish(topicFor(event.GetType()), msg)
}

// topicFor routes inbound trigger events and transport callbacks to their
// own topics; everything else shares the engine lifecycle topic.
func topicFor(eventType events.EventType) string {
	switch eventType {
	case events.TriggerEventReceivedEvent:
		return events.TriggerEventTopic
	case events.TransportCallbackEvent:
		return events.CallbackTopic
	default:
		return events.Topic
	}
}

// decodeEvent instantiates the concrete event struct for a type. The switch
// is exhaustive over the engine's event set; unknown types are nacked.
func decodeEvent(eventType events.EventType) any {
	switch eventType {
	case events.RunStartedEvent:
		return &events.RunStarted{}
	case events.RunCompletedEvent:
		return &events.RunCompleted{}
	case events.RunFailedEvent:
		return &events.RunFailed{}
	case events.DispatchRecordedEvent:
		return &events.DispatchRecorded{}
	case events.InstanceCreatedEvent:
		return &events.InstanceCreated{}
	case events.InstanceAdvancedEvent:
		return &events.InstanceAdvanced{}
	case events.InstanceSuspendedEvent:
		return &events.InstanceSuspended{}
	case events.InstanceCompletedEvent:
		return &events.InstanceCompleted{}
	case events.InstanceAbortedEvent:
		return &events.InstanceAborted{}
	case events.TriggerEventReceivedEvent:
		return &events.TriggerEventReceived{}
	case events.TransportCallbackEvent:
		return &events.TransportCallback{}
	default:
		return nil
	}
}

// Subscribe starts consuming every topic the bus publishes to. Handlers
// registered via Handle are invoked by event type; messages without a
// handler are acked and dropped.
func (eb *WatermillEventBus) Subscribe(ctx context.Context) error {
	for _, topic := range []string{events.Topic, events.TriggerEventTopic, events.CallbackTopic} {
		messages, err := eb.subscriber.Subscribe(ctx, topic)
		if err != nil {
			return err
		}

		go eb.consume(ctx, messages)
	}

	return nil
}

func (eb *WatermillEventBus) consume(ctx context.Context, messages <-chan *message.Message) {
	for msg := range messages {
		eventType := events.EventType(msg.Metadata.Get(events.EventTypeMetadataKey))

		handler, exists := eb.subscriptions[eventType]
		if !exists {
			msg.Ack()

			continue
		}

		msgCtx, span := otelhelper.StartSpan(ctx, eb.tracer, "eventbus consume",
			attribute.String(otelhelper.EventTypeKey, string(eventType)),
		)

		event := decodeEvent(eventType)
		if event == nil {
			otelhelper.SetError(span, errors.New("unknown event type"))
			span.End()
			msg.Nack()

			continue
		}

		err := json.Unmarshal(msg.Payload, event)
		if err != nil {
			otelhelper.SetError(span, err)
			span.End()
			msg.Nack()

			continue
		}

		err = handler(msgCtx, event)
		if err != nil {
			otelhelper.SetError(span, err)
			span.End()
			msg.Nack()

			continue
		}

		span.End()
		msg.Ack()
	}
}

func (eb *WatermillEventBus) Handle(eventType events.EventType, handler EventHandler) {
	eb.subscriptions[eventType] = handler
}

func (eb *WatermillEventBus) Close() error {
	err := eb.publisher.Close()
	if err != nil {
		return err
	}

	return eb.subscriber.Close()
}

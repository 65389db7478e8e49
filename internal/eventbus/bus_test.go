package eventbus

import "testing"

func TestPublishDeliversToInterestedSubscriber(t *testing.T) {
	bus := New()
	sub := bus.NewSubscriber("s1")
	sub.Subscribe(SessionTopic("sess-1"))

	bus.Publish(SessionTopic("sess-1"), "session_update", map[string]string{"status": "Created"})

	select {
	case msg := <-sub.C():
		if msg.Type != "session_update" {
			t.Fatalf("msg.Type = %s, want session_update", msg.Type)
		}
	default:
		t.Fatal("expected a message to be delivered")
	}
}

func TestPublishSkipsUninterestedSubscriber(t *testing.T) {
	bus := New()
	sub := bus.NewSubscriber("s1")
	sub.Subscribe(SessionTopic("sess-1"))

	bus.Publish(SessionTopic("sess-2"), "session_update", nil)

	select {
	case <-sub.C():
		t.Fatal("expected no message for an unsubscribed topic")
	default:
	}
}

func TestGlobalTopicAlwaysDelivered(t *testing.T) {
	bus := New()
	sub := bus.NewSubscriber("s1")
	sub.Subscribe(SessionTopic("sess-1"))

	bus.Publish(GlobalTopic, "chain_unavailable", nil)

	select {
	case msg := <-sub.C():
		if msg.Topic != GlobalTopic {
			t.Fatalf("msg.Topic = %s, want GlobalTopic", msg.Topic)
		}
	default:
		t.Fatal("expected the global topic to reach every subscriber regardless of its filter")
	}
}

func TestEmptyFilterSubscribesToEverything(t *testing.T) {
	bus := New()
	sub := bus.NewSubscriber("s1")

	bus.Publish(SessionTopic("sess-1"), "session_update", nil)

	select {
	case <-sub.C():
	default:
		t.Fatal("expected a subscriber with no topics set to receive every message")
	}
}

func TestDeliverDropsOldestOnOverflow(t *testing.T) {
	bus := New()
	sub := bus.NewSubscriber("s1")

	for i := 0; i < subscriberBufferSize+10; i++ {
		bus.Publish(GlobalTopic, "session_update", i)
	}

	if got := sub.DroppedCount(); got == 0 {
		t.Fatal("expected DroppedCount > 0 after overflowing the subscriber buffer")
	}
	if len(sub.C()) != subscriberBufferSize {
		t.Fatalf("subscriber channel len = %d, want %d", len(sub.C()), subscriberBufferSize)
	}
}

func TestRemoveUnregistersSubscriber(t *testing.T) {
	bus := New()
	bus.NewSubscriber("s1")
	if bus.SubscriberCount() != 1 {
		t.Fatalf("SubscriberCount = %d, want 1", bus.SubscriberCount())
	}

	bus.Remove("s1")
	if bus.SubscriberCount() != 0 {
		t.Fatalf("SubscriberCount = %d, want 0 after Remove", bus.SubscriberCount())
	}
}

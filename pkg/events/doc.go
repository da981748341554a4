/*
Package events provides an in-memory broker for bootstrap events.

The sequencer publishes an event for every state it enters, every step that
fails or is ignored under the failure policy, the daemon launch, and the end
of the run. Subscribers such as the metrics textfile exporter react to them
without the sequencer knowing they exist.

	sequencer ──Publish──▶ event channel (100) ──▶ broadcast loop
	                                                    │
	                               ┌────────────────────┼──────────────┐
	                               ▼                    ▼              ▼
	                         subscriber (50)      subscriber (50)     ...

Publish never blocks on a slow subscriber: when a subscriber's buffer is
full the event is dropped for that subscriber only. Stop delivers whatever
is still queued and then closes every subscription, so a subscriber
ranging over its channel ends cleanly.

# Usage

	broker := events.NewBroker()
	broker.Start()
	defer broker.Stop()

	sub := broker.Subscribe()
	go func() {
		for ev := range sub {
			fmt.Println(ev.Type, ev.State)
		}
	}()

	broker.Publish(&events.Event{Type: events.EventStateEntered, State: types.StateRoleResolved})
*/
package events

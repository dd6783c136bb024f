package live

import (
	"encoding/json"
	"testing"

	"tandem/api/internal/realtime"
)

func reactionEvent(messageID string) realtime.Event {
	row, _ := json.Marshal(map[string]string{"message_id": messageID, "emoji": "👍"})
	return realtime.Event{Table: "message_reactions", Action: realtime.ActionInsert, Row: row}
}

func TestDemuxRoutesByMessage(t *testing.T) {
	d := NewDemux()

	chA, cancelA := d.Subscribe("msg-a")
	defer cancelA()
	chB, cancelB := d.Subscribe("msg-b")
	defer cancelB()

	d.Dispatch(reactionEvent("msg-a"))

	select {
	case ev := <-chA:
		if ev.Table != "message_reactions" {
			t.Fatalf("table = %q", ev.Table)
		}
	default:
		t.Fatal("listener for msg-a got nothing")
	}
	select {
	case <-chB:
		t.Fatal("listener for msg-b got a foreign event")
	default:
	}
}

func TestDemuxMultipleListeners(t *testing.T) {
	d := NewDemux()
	ch1, cancel1 := d.Subscribe("msg-a")
	ch2, cancel2 := d.Subscribe("msg-a")
	defer cancel1()
	defer cancel2()

	d.Dispatch(reactionEvent("msg-a"))
	for i, ch := range []<-chan realtime.Event{ch1, ch2} {
		select {
		case <-ch:
		default:
			t.Fatalf("listener %d missed the event", i)
		}
	}
}

func TestDemuxCancel(t *testing.T) {
	d := NewDemux()
	ch, cancel := d.Subscribe("msg-a")
	cancel()
	cancel() // idempotent

	if _, ok := <-ch; ok {
		t.Fatal("channel not closed by cancel")
	}
	// Dispatch after cancel must not panic or deliver.
	d.Dispatch(reactionEvent("msg-a"))
}

func TestDemuxCloseThenCancel(t *testing.T) {
	d := NewDemux()
	_, cancel := d.Subscribe("msg-a")
	d.Close()
	cancel() // must not double-close

	d.Dispatch(reactionEvent("msg-a"))
}

func TestDemuxIgnoresUnparseableRow(t *testing.T) {
	d := NewDemux()
	ch, cancel := d.Subscribe("msg-a")
	defer cancel()

	d.Dispatch(realtime.Event{Table: "message_reactions", Row: json.RawMessage(`not json`)})
	d.Dispatch(realtime.Event{Table: "message_reactions", Row: json.RawMessage(`{}`)})
	select {
	case <-ch:
		t.Fatal("unparseable event delivered")
	default:
	}
}

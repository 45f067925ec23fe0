package subscription

import (
	"errors"
	"testing"

	"github.com/ggoodman/pushstream-go/wire"
)

func TestComposeFansOutInOrder(t *testing.T) {
	var got []string
	mk := func(name string) Listeners {
		return Listeners{
			OnOpen:      func(wire.Headers) { got = append(got, name+":open") },
			OnEvent:     func(e wire.Event) { got = append(got, name+":event:"+e.ID) },
			OnEnd:       func(*wire.EndOfStream) { got = append(got, name+":end") },
			OnError:     func(error) { got = append(got, name+":error") },
			OnRetrying:  func() { got = append(got, name+":retrying") },
			OnSubscribe: func() { got = append(got, name+":subscribe") },
		}
	}

	l := Compose(mk("a"), Listeners{}, mk("b"))
	l.OnSubscribe()
	l.OnOpen(nil)
	l.OnEvent(wire.Event{ID: "1"})
	l.OnRetrying()
	l.OnError(errors.New("x"))
	l.OnEnd(nil)

	want := []string{
		"a:subscribe", "b:subscribe",
		"a:open", "b:open",
		"a:event:1", "b:event:1",
		"a:retrying", "b:retrying",
		"a:error", "b:error",
		"a:end", "b:end",
	}
	if !equalStrings(want, got) {
		t.Errorf("want %v, got %v", want, got)
	}
}

func TestStateTerminal(t *testing.T) {
	for _, s := range []State{StateEnding, StateEnded, StateFailed, StateInactive} {
		if !s.Terminal() {
			t.Errorf("%s should be terminal", s)
		}
	}
	for _, s := range []State{StateOpening, StateOpen, StateRetryPending, StateActive} {
		if s.Terminal() {
			t.Errorf("%s should not be terminal", s)
		}
	}
}

package pushstream

import (
	"testing"

	"github.com/ggoodman/pushstream-go/internal/streamtest"
	"github.com/ggoodman/pushstream-go/wire"
)

func TestParseLocator(t *testing.T) {
	tests := []struct {
		in      string
		want    Locator
		wantErr bool
	}{
		{in: "v1:us1:1a234-123a", want: Locator{Version: "v1", Cluster: "us1", ID: "1a234-123a"}},
		{in: "v1:us1", wantErr: true},
		{in: "v1:us1:abc:def", wantErr: true},
		{in: "v1::abc", wantErr: true},
		{in: "", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseLocator(tt.in)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error, got %+v", got)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("want %+v, got %+v", tt.want, got)
			}
			if got.String() != tt.in {
				t.Errorf("String: want %q, got %q", tt.in, got.String())
			}
		})
	}
}

func TestInstanceDefaultHost(t *testing.T) {
	inst, err := NewInstance("v1:eu2:abc", "chat", "v7")
	if err != nil {
		t.Fatalf("NewInstance: %v", err)
	}
	if got, want := inst.Client().URL(inst.Scope("rooms/1")), "https://eu2.pusherplatform.io/services/chat/v7/abc/rooms/1"; got != want {
		t.Errorf("want %q, got %q", want, got)
	}
	if got := inst.Scope("https://elsewhere.example.com/x"); got != "https://elsewhere.example.com/x" {
		t.Errorf("absolute URLs must not be scoped, got %q", got)
	}
}

func TestInstanceRequiresServiceAndVersion(t *testing.T) {
	if _, err := NewInstance("v1:eu2:abc", "", "v7"); err == nil {
		t.Error("expected error without service name")
	}
	if _, err := NewInstance("nope", "chat", "v7"); err == nil {
		t.Error("expected error for malformed locator")
	}
}

func TestInstanceSubscribesToScopedPath(t *testing.T) {
	srv := streamtest.New()
	hs := srv.Start(t)
	srv.End(wire.EndOfStream{StatusCode: 200})

	inst, err := NewInstance("v1:us1:abc", "chat", "v7", WithHost(hs.URL), WithLogger(testLogger(t)))
	if err != nil {
		t.Fatalf("NewInstance: %v", err)
	}

	var col collector
	sub := inst.SubscribeNonResuming("rooms//1/", col.listeners())
	defer sub.Unsubscribe()
	waitFor(t, "end", col.terminated)

	if got, want := srv.Requests()[0].Path, "/services/chat/v7/abc/rooms/1"; got != want {
		t.Errorf("want path %q, got %q", want, got)
	}

	var col2 collector
	sub2 := inst.SubscribeResuming("rooms/2", col2.listeners())
	defer sub2.Unsubscribe()
	waitFor(t, "end", col2.terminated)
	if got, want := srv.Requests()[1].Path, "/services/chat/v7/abc/rooms/2"; got != want {
		t.Errorf("want path %q, got %q", want, got)
	}
}

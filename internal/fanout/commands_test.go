package fanout

import (
	"errors"
	"testing"

	"github.com/nerrad567/powersensor-core/internal/bus"
	"github.com/nerrad567/powersensor-core/internal/infrastructure/mqtt"
)

type fakeSubscriber struct {
	topic   string
	handler mqtt.MessageHandler
	err     error
}

func (f *fakeSubscriber) Subscribe(topic string, _ byte, h mqtt.MessageHandler) error {
	if f.err != nil {
		return f.err
	}
	f.topic, f.handler = topic, h
	return nil
}

func TestRoleCommands(t *testing.T) {
	sub := &fakeSubscriber{}
	b := bus.New(nil)
	var updates []bus.RoleUpdate
	b.Subscribe(bus.TopicRoleUpdated, func(ev bus.Event) {
		updates = append(updates, ev.Payload.(bus.RoleUpdate))
	})

	if err := RoleCommands(sub, b, nil); err != nil {
		t.Fatalf("RoleCommands() error = %v", err)
	}
	if sub.topic != "powersensor/command/role/+" {
		t.Errorf("subscribed to %q", sub.topic)
	}

	sub.handler("powersensor/command/role/aabbcc", []byte(`{"role":"solar"}`))
	sub.handler("powersensor/command/role/ddeeff", []byte("water"))
	sub.handler("powersensor/command/role/ddeeff", []byte(""))
	sub.handler("powersensor/command/role", []byte("water"))

	want := []bus.RoleUpdate{{MAC: "aabbcc", Role: "solar"}, {MAC: "ddeeff", Role: "water"}}
	if len(updates) != len(want) {
		t.Fatalf("updates = %+v, want %+v", updates, want)
	}
	for i := range want {
		if updates[i] != want[i] {
			t.Errorf("updates[%d] = %+v, want %+v", i, updates[i], want[i])
		}
	}
}

func TestRoleCommands_SubscribeError(t *testing.T) {
	sub := &fakeSubscriber{err: mqtt.ErrNotConnected}
	if err := RoleCommands(sub, bus.New(nil), nil); !errors.Is(err, mqtt.ErrNotConnected) {
		t.Errorf("RoleCommands() error = %v, want ErrNotConnected", err)
	}
}

func TestParseRolePayload(t *testing.T) {
	tests := []struct {
		payload string
		want    string
		wantErr bool
	}{
		{`{"role":"house-net"}`, "house-net", false},
		{`"appliance"`, "appliance", false},
		{"  solar\n", "solar", false},
		{`{"role":""}`, "", true},
		{`{"role":`, "", true},
		{"", "", true},
		{`""`, "", true},
	}

	for _, tt := range tests {
		t.Run(tt.payload, func(t *testing.T) {
			got, err := ParseRolePayload([]byte(tt.payload))
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseRolePayload() error = %v, wantErr %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("ParseRolePayload() = %q, want %q", got, tt.want)
			}
		})
	}
}

package statecache

import (
	"testing"

	"github.com/redis/go-redis/v9"
)

func TestKeysAreScopedToNode(t *testing.T) {
	client := redis.NewClient(&redis.Options{Addr: "localhost:0"})
	defer client.Close()

	a := NewRedisStore(client, "mmc-a")
	b := NewRedisStore(client, "mmc-b")

	if a.slotKey(0) == b.slotKey(0) {
		t.Errorf("slot keys collide across nodes: %q", a.slotKey(0))
	}
	if got, want := a.slotKey(3), "mmcd:mmc-a:slot:3"; got != want {
		t.Errorf("slotKey = %q, want %q", got, want)
	}
	if got, want := a.sensorKey(2), "mmcd:mmc-a:sensor:2"; got != want {
		t.Errorf("sensorKey = %q, want %q", got, want)
	}
	if a.slotsKey() == a.sensorsKey() {
		t.Error("index keys must differ")
	}
}

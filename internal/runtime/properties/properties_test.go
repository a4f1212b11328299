package properties

import (
	"testing"

	"github.com/ThreeDotsLabs/watermill/message"
)

func TestCloneDoesNotAlias(t *testing.T) {
	original := Properties{"a": "1", "b": "2"}
	clone := original.Clone()
	clone["a"] = "changed"

	if original["a"] != "1" {
		t.Fatalf("expected original map to stay untouched, got %q", original["a"])
	}
	if len(clone) != len(original) {
		t.Fatalf("expected clone to have same size")
	}
}

func TestCloneNil(t *testing.T) {
	var p Properties
	cloned := p.Clone()
	if cloned == nil {
		t.Fatal("expected non-nil map")
	}
	if len(cloned) != 0 {
		t.Fatal("expected empty map")
	}
}

func TestWithAndWithAll(t *testing.T) {
	base := Properties{"foo": "bar"}
	enriched := base.With("baz", "qux")
	if _, ok := base.Get("baz"); ok {
		t.Fatalf("expected base map to remain unchanged")
	}
	if enriched["baz"] != "qux" {
		t.Fatalf("expected enriched map to add entry")
	}

	merged := enriched.WithAll(Properties{"alpha": "beta"})
	if merged["alpha"] != "beta" || merged["baz"] != "qux" {
		t.Fatalf("unexpected merge result %#v", merged)
	}
}

func TestContainsAll(t *testing.T) {
	inbound := New("MessageType", "AircraftLanded", "Region", "EU", "MessageVersion", "2")

	tests := []struct {
		name     string
		required Properties
		want     bool
	}{
		{name: "empty requirement", required: nil, want: true},
		{name: "subset", required: New("Region", "EU"), want: true},
		{name: "value mismatch", required: New("Region", "US"), want: false},
		{name: "missing key", required: New("Tenant", "a"), want: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := inbound.ContainsAll(tt.required); got != tt.want {
				t.Fatalf("ContainsAll() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestEqualAndWithout(t *testing.T) {
	a := New("x", "1", "y", "2")
	if !a.Equal(New("y", "2", "x", "1")) {
		t.Fatal("expected maps with same entries to be equal")
	}
	if a.Equal(New("x", "1")) {
		t.Fatal("expected maps with different sizes to differ")
	}
	if !Properties(nil).Equal(Properties{}) {
		t.Fatal("expected nil and empty to be equal")
	}
	if stripped := a.Without("x"); len(stripped) != 1 || stripped["y"] != "2" {
		t.Fatalf("unexpected Without result %#v", stripped)
	}
}

func TestToAndFromWatermill(t *testing.T) {
	p := Properties{"source": "api"}
	wm := ToWatermill(p)
	if wm["source"] != "api" {
		t.Fatalf("expected watermill metadata to copy entries")
	}
	wm["source"] = "mutation"
	if p["source"] != "api" {
		t.Fatalf("expected original properties to be immutable to watermill changes")
	}

	roundTrip := FromWatermill(message.Metadata{"event": "order"})
	if roundTrip["event"] != "order" {
		t.Fatalf("expected watermill metadata to convert back")
	}
	if FromWatermill(nil) == nil {
		t.Fatal("expected non-nil map")
	}
}

package labelmap

import (
	"bytes"
	"testing"
)

func chainMapping() *Mapping {
	m := NewMapping()
	m.Set(1, 4)
	m.Set(2, 5)
	m.Set(20, 6)
	m.Set(6, 32)
	m.Set(15, 3)
	m.Set(3, 32)
	m.Set(8, 32)
	m.Set(32, 21)
	return m
}

func TestMapping(t *testing.T) {
	m := chainMapping()
	if v, ok := m.Get(1); v != 4 || !ok {
		t.Errorf("Incorrect mapping on Get.  Got %d, %t\n", v, ok)
	}
	if v, ok := m.Get(10); ok {
		t.Errorf("Got mapping for 10 when none was inserted.  Received %d, %t\n", v, ok)
	}
	if v, ok := m.FinalLabel(20); v != 21 || !ok {
		t.Errorf("Couldn't get final mapping label from 20->6->32->21.  Got %d, %t\n", v, ok)
	}
	if v, ok := m.FinalLabel(21); v != 21 || ok {
		t.Errorf("Final label should be unmapped.  Got %d, %t\n", v, ok)
	}

	c := m.ConstituentLabels(21)
	expected := []uint64{20, 6, 32, 3, 8, 15, 21}
	if len(c) != len(expected) {
		t.Errorf("Expected %d constituent labels, got %d instead: %s\n", len(expected), len(c), c)
	}
	for _, label := range expected {
		if _, found := c[label]; !found {
			t.Errorf("Expected label %d as constituent but wasn't found.\n", label)
		}
	}

	mapped := m.MappedLabels([]uint64{1, 15, 99})
	if mapped[0] != 4 || mapped[1] != 21 || mapped[2] != 99 {
		t.Errorf("Bad mapped labels: %v\n", mapped)
	}

	m.Compress()
	if v, _ := m.Get(20); v != 21 {
		t.Errorf("Compress did not point 20 at its final label, got %d\n", v)
	}
	if c := m.ConstituentLabels(21); len(c) != len(expected) {
		t.Errorf("Compress changed constituents: %s\n", c)
	}
}

func TestMappingCycle(t *testing.T) {
	m := NewMapping()
	m.Set(1, 2)
	m.Set(2, 1)
	if v, ok := m.FinalLabel(1); ok || v != 1 {
		t.Errorf("Cycle should be reported as unmapped, got %d, %t\n", v, ok)
	}
}

func TestMsgpRoundTrip(t *testing.T) {
	m := chainMapping()
	buf, err := m.MarshalMsg(nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(buf) > m.Msgsize() {
		t.Errorf("Msgsize %d underestimates encoded size %d\n", m.Msgsize(), len(buf))
	}
	got := NewMapping()
	left, err := got.UnmarshalMsg(buf)
	if err != nil {
		t.Fatal(err)
	}
	if len(left) != 0 {
		t.Errorf("%d bytes left after decoding\n", len(left))
	}
	if got.Len() != m.Len() {
		t.Fatalf("Expected %d mappings, got %d\n", m.Len(), got.Len())
	}
	for _, p := range m.Pairs() {
		if v, ok := got.Get(p[0]); !ok || v != p[1] {
			t.Errorf("Mapping %d -> %d lost, got %d\n", p[0], p[1], v)
		}
	}
	if _, err := got.UnmarshalMsg(buf[:len(buf)-3]); err == nil {
		t.Errorf("Expected error decoding truncated buffer\n")
	}
}

func TestArrowRoundTrip(t *testing.T) {
	m := chainMapping()
	var buf bytes.Buffer
	if err := WriteArrow(&buf, m); err != nil {
		t.Fatal(err)
	}
	got, err := ReadArrow(&buf)
	if err != nil {
		t.Fatal(err)
	}
	want := m.Table()
	if got.Len() != len(want) {
		t.Fatalf("Expected %d rows, got %d\n", len(want), got.Len())
	}
	for sv, body := range want {
		if v, ok := got.Get(sv); !ok || v != body {
			t.Errorf("Supervoxel %d should map to body %d, got %d\n", sv, body, v)
		}
	}
}

func TestStore(t *testing.T) {
	store, err := OpenStore(StoreConfig{CacheEntries: 2})
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()

	m := chainMapping()
	if err := store.Put(m); err != nil {
		t.Fatal(err)
	}
	if v, err := store.Get(8); err != nil || v != 32 {
		t.Errorf("Expected 32 for label 8, got %d, %v\n", v, err)
	}
	if _, err := store.Get(999); err != ErrNotFound {
		t.Errorf("Expected ErrNotFound, got %v\n", err)
	}
	if v, err := store.FinalLabel(20); err != nil || v != 21 {
		t.Errorf("Expected final label 21 for 20, got %d, %v\n", v, err)
	}
	loaded, err := store.Load()
	if err != nil {
		t.Fatal(err)
	}
	if loaded.Len() != m.Len() {
		t.Errorf("Loaded %d mappings, expected %d\n", loaded.Len(), m.Len())
	}
}

package registry

import (
	"testing"
	"time"
)

func TestMemoryStore(t *testing.T) {
	st := NewMemoryStore()

	entry := &Entry{
		SessionID:  "s1",
		Hostname:   "alpha",
		Username:   "bob",
		RemoteAddr: "192.168.1.10:54321",
	}
	st.Save(entry)

	got, ok := st.Get("s1")
	if !ok || got.Hostname != "alpha" {
		t.Fatalf("Get = %+v, %v", got, ok)
	}

	if list := st.List(); len(list) != 1 {
		t.Errorf("List returned %d entries, want 1", len(list))
	}

	st.Delete("s1")
	if _, ok := st.Get("s1"); ok {
		t.Error("entry survived Delete")
	}
}

func TestRecorderLifecycle(t *testing.T) {
	st := NewMemoryStore()
	rec := NewRecorder(st)

	rec.Connected("s1", "alpha", "bob", "192.168.1.10:54321")
	rec.Frame("s1", 100)
	rec.Frame("s1", 50)

	waitFor(t, func() bool {
		entry, ok := st.Get("s1")
		return ok && entry.Frames == 2 && entry.Bytes == 150
	})

	rec.Disconnected("s1")
	waitFor(t, func() bool {
		_, ok := st.Get("s1")
		return !ok
	})

	if err := rec.Close(); err != nil {
		t.Errorf("Close: %v", err)
	}
}

func TestRecorderFrameForUnknownSession(t *testing.T) {
	st := NewMemoryStore()
	rec := NewRecorder(st)
	defer rec.Close()

	// Must not create a phantom entry.
	rec.Frame("ghost", 10)

	time.Sleep(50 * time.Millisecond)
	if _, ok := st.Get("ghost"); ok {
		t.Error("frame event created an entry for an unknown session")
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not reached in time")
}

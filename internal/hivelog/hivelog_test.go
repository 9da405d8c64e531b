package hivelog

import "testing"

func TestGetReturnsUsableLogger(t *testing.T) {
	t.Parallel()

	l := Get("comb")
	if l == nil {
		t.Fatal("Get returned nil logger")
	}

	// Must never panic, even with no fields and with an odd-length kv list.
	l.Debug("no fields")
	l.Info("even fields", "key", "value")
	l.Warn("odd fields", "dangling")
	l.Error("multiple fields", "a", 1, "b", 2)
}

func TestGetIsConcurrencySafe(t *testing.T) {
	t.Parallel()

	done := make(chan struct{})
	for i := 0; i < 8; i++ {
		go func(n int) {
			Get("worker").Debug("tick", "n", n)
			done <- struct{}{}
		}(i)
	}
	for i := 0; i < 8; i++ {
		<-done
	}
}

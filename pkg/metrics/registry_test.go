package metrics

import "testing"

func TestIsEnabledDefaultsFalse(t *testing.T) {
	Reset()
	if IsEnabled() {
		t.Error("expected metrics disabled before InitRegistry")
	}
}

func TestInitRegistryEnables(t *testing.T) {
	Reset()
	defer Reset()

	InitRegistry(nil)
	if !IsEnabled() {
		t.Error("expected metrics enabled after InitRegistry")
	}
	if GetRegistry() == nil {
		t.Error("expected a non-nil registry after InitRegistry(nil)")
	}
}

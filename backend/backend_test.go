package backend

import "testing"

type fakeBackend struct{ SEBackend }

func TestRegisterAndDispatch(t *testing.T) {
	Register("faketype-backendtest", func(cfg any) (SEBackend, error) {
		return fakeBackend{}, nil
	})
	b, err := Dispatch("faketype-backendtest", nil)
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if b == nil {
		t.Fatal("expected non-nil backend")
	}
}

func TestDispatchUnknownType(t *testing.T) {
	_, err := Dispatch("no-such-type-backendtest", nil)
	if err == nil {
		t.Fatal("expected error for unregistered type")
	}
}

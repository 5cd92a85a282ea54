package utils

import (
	"errors"
	"testing"
)

func TestRegistry(t *testing.T) {
	reg := NewRegistry[string, int]()

	err := RegistrySet(reg, "one", 1)
	if nil != err {
		t.Fatalf("failed RegistrySet, got error %v", err)
	}
	err = RegistrySet(reg, "one", 2)
	if !errors.Is(err, Error) {
		t.Errorf("failed, duplicated name accepted, got error %v", err)
	}

	v, found := RegistryGet(reg, "one")
	if !found || 1 != v {
		t.Errorf("failed RegistryGet, got %d, %v", v, found)
	}
	_, found = RegistryGet(reg, "two")
	if found {
		t.Error("failed, RegistryGet found unknown name")
	}

	entries := RegistryEntries(reg)
	entries["two"] = 2
	_, found = RegistryGet(reg, "two")
	if found {
		t.Error("failed, RegistryEntries did not return a copy")
	}
}

package relay

import (
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"
)

func testOp(i int) Operation {
	return Operation{
		ID:        fmt.Sprintf("op_%d", i),
		Action:    "page_create",
		Target:    fmt.Sprintf("Page %d", i),
		Status:    OpSucceeded,
		CreatedAt: time.Date(2025, 1, 1, 0, 0, i, 0, time.UTC),
	}
}

func TestMemoryOpLogNewestFirst(t *testing.T) {
	log := NewMemoryOpLog(10)
	for i := 0; i < 3; i++ {
		if err := log.Append(testOp(i)); err != nil {
			t.Fatalf("append failed: %v", err)
		}
	}
	ops, err := log.List(0)
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(ops) != 3 {
		t.Fatalf("expected 3 ops, got %d", len(ops))
	}
	if ops[0].ID != "op_2" || ops[2].ID != "op_0" {
		t.Fatalf("expected newest first, got %+v", ops)
	}
}

func TestMemoryOpLogBounded(t *testing.T) {
	log := NewMemoryOpLog(2)
	for i := 0; i < 5; i++ {
		if err := log.Append(testOp(i)); err != nil {
			t.Fatalf("append failed: %v", err)
		}
	}
	ops, err := log.List(0)
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(ops) != 2 {
		t.Fatalf("expected ring bound of 2, got %d", len(ops))
	}
	if ops[0].ID != "op_4" || ops[1].ID != "op_3" {
		t.Fatalf("expected the two newest ops, got %+v", ops)
	}
}

func TestMemoryOpLogListLimit(t *testing.T) {
	log := NewMemoryOpLog(10)
	for i := 0; i < 5; i++ {
		if err := log.Append(testOp(i)); err != nil {
			t.Fatalf("append failed: %v", err)
		}
	}
	ops, err := log.List(2)
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(ops) != 2 || ops[0].ID != "op_4" {
		t.Fatalf("unexpected limited listing: %+v", ops)
	}
}

func TestMemoryOpLogGet(t *testing.T) {
	log := NewMemoryOpLog(10)
	if err := log.Append(testOp(1)); err != nil {
		t.Fatalf("append failed: %v", err)
	}
	op, err := log.Get("op_1")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if op.Target != "Page 1" {
		t.Fatalf("unexpected op: %+v", op)
	}
	if _, err := log.Get("op_missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestJSONFileOpLogPersists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ops.json")

	log := NewJSONFileOpLog(path, 10)
	for i := 0; i < 3; i++ {
		if err := log.Append(testOp(i)); err != nil {
			t.Fatalf("append failed: %v", err)
		}
	}

	// A fresh instance must see what the first one wrote.
	reopened := NewJSONFileOpLog(path, 10)
	ops, err := reopened.List(0)
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(ops) != 3 || ops[0].ID != "op_2" {
		t.Fatalf("unexpected reloaded ops: %+v", ops)
	}
	op, err := reopened.Get("op_1")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if op.Action != "page_create" {
		t.Fatalf("unexpected op: %+v", op)
	}
}

func TestJSONFileOpLogMissingFileIsEmpty(t *testing.T) {
	log := NewJSONFileOpLog(filepath.Join(t.TempDir(), "absent.json"), 10)
	ops, err := log.List(0)
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(ops) != 0 {
		t.Fatalf("expected empty log, got %+v", ops)
	}
}

package storage

import (
	"bytes"
	"testing"
)

func openTestKV(t *testing.T) KV {
	t.Helper()
	kv, err := Open(DefaultOptions(t.TempDir()))
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { _ = kv.Close() })
	return kv
}

var (
	tableA = []byte("a")
	tableB = []byte("b")
)

func TestPutGetDelete(t *testing.T) {
	kv := openTestKV(t)

	if err := kv.Put(tableA, []byte("key1"), []byte("value1")); err != nil {
		t.Fatalf("Put() error = %v", err)
	}
	v, err := kv.Get(tableA, []byte("key1"))
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if !bytes.Equal(v, []byte("value1")) {
		t.Fatalf("Get() = %q, want %q", v, "value1")
	}

	if err := kv.Delete(tableA, []byte("key1")); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if _, err := kv.Get(tableA, []byte("key1")); err != ErrNotFound {
		t.Fatalf("Get() after delete err = %v, want ErrNotFound", err)
	}
}

func TestGetMissingKeyReturnsErrNotFound(t *testing.T) {
	kv := openTestKV(t)
	if _, err := kv.Get(tableA, []byte("nope")); err != ErrNotFound {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestTablesAreIsolated(t *testing.T) {
	kv := openTestKV(t)
	if err := kv.Put(tableA, []byte("shared-key"), []byte("from-a")); err != nil {
		t.Fatal(err)
	}
	if _, err := kv.Get(tableB, []byte("shared-key")); err != ErrNotFound {
		t.Fatalf("key from table a leaked into table b: err = %v", err)
	}
}

func TestGetNextFindsSmallestKeyAtOrAfterProbe(t *testing.T) {
	kv := openTestKV(t)
	for _, k := range []string{"10", "20", "30"} {
		if err := kv.Put(tableA, []byte(k), []byte("v-"+k)); err != nil {
			t.Fatal(err)
		}
	}
	k, v, err := kv.GetNext(tableA, []byte("15"))
	if err != nil {
		t.Fatalf("GetNext() error = %v", err)
	}
	if string(k) != "20" || string(v) != "v-20" {
		t.Fatalf("GetNext() = (%q, %q), want (\"20\", \"v-20\")", k, v)
	}
}

func TestGetNextPastEndReturnsErrNotFound(t *testing.T) {
	kv := openTestKV(t)
	if err := kv.Put(tableA, []byte("10"), []byte("v")); err != nil {
		t.Fatal(err)
	}
	if _, _, err := kv.GetNext(tableA, []byte("99")); err != ErrNotFound {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestGetPrevFindsExactOrLesser(t *testing.T) {
	kv := openTestKV(t)
	for _, k := range []string{"10", "20", "30"} {
		if err := kv.Put(tableA, []byte(k), []byte("v-"+k)); err != nil {
			t.Fatal(err)
		}
	}
	// Exact match.
	k, _, err := kv.GetPrev(tableA, []byte("20"))
	if err != nil || string(k) != "20" {
		t.Fatalf("GetPrev(exact) = (%q, %v), want \"20\"", k, err)
	}
	// Falls back to the nearest lesser key.
	k, _, err = kv.GetPrev(tableA, []byte("25"))
	if err != nil || string(k) != "20" {
		t.Fatalf("GetPrev(between) = (%q, %v), want \"20\"", k, err)
	}
}

func TestGetRangeReturnsBoundedSortedEntries(t *testing.T) {
	kv := openTestKV(t)
	for _, k := range []string{"10", "20", "30", "40"} {
		if err := kv.Put(tableA, []byte(k), []byte("v-"+k)); err != nil {
			t.Fatal(err)
		}
	}
	rows, err := kv.GetRange(tableA, []byte("15"), []byte("35"))
	if err != nil {
		t.Fatalf("GetRange() error = %v", err)
	}
	if len(rows) != 2 || string(rows[0].Key) != "20" || string(rows[1].Key) != "30" {
		t.Fatalf("GetRange() = %+v, want [20 30]", rows)
	}
}

func TestIterFromWrapsAtEndOfTable(t *testing.T) {
	kv := openTestKV(t)
	for _, k := range []string{"10", "20", "30"} {
		if err := kv.Put(tableA, []byte(k), []byte("v-"+k)); err != nil {
			t.Fatal(err)
		}
	}
	k, _, next, ok, err := kv.IterFrom(tableA, []byte("30"))
	if err != nil || !ok {
		t.Fatalf("IterFrom(30) ok=%v err=%v", ok, err)
	}
	if string(k) != "30" {
		t.Fatalf("key = %q, want \"30\"", k)
	}
	if string(next) != "10" {
		t.Fatalf("next cursor = %q, want wrap to \"10\"", next)
	}
}

func TestBatchCommitIsAtomicAcrossTables(t *testing.T) {
	kv := openTestKV(t)
	b := kv.NewBatch()
	b.Put(tableA, []byte("x"), []byte("1"))
	b.Put(tableB, []byte("y"), []byte("2"))
	if err := b.Commit(); err != nil {
		t.Fatalf("Commit() error = %v", err)
	}
	if v, err := kv.Get(tableA, []byte("x")); err != nil || string(v) != "1" {
		t.Fatalf("table a read after batch commit: v=%q err=%v", v, err)
	}
	if v, err := kv.Get(tableB, []byte("y")); err != nil || string(v) != "2" {
		t.Fatalf("table b read after batch commit: v=%q err=%v", v, err)
	}
}

func TestDeleteRangeRemovesOnlyBoundedKeys(t *testing.T) {
	kv := openTestKV(t)
	for _, k := range []string{"10", "20", "30"} {
		if err := kv.Put(tableA, []byte(k), []byte("v")); err != nil {
			t.Fatal(err)
		}
	}
	if err := kv.DeleteRange(tableA, []byte("15"), []byte("25")); err != nil {
		t.Fatalf("DeleteRange() error = %v", err)
	}
	if _, err := kv.Get(tableA, []byte("20")); err != ErrNotFound {
		t.Fatalf("key 20 survived DeleteRange: err = %v", err)
	}
	if _, err := kv.Get(tableA, []byte("10")); err != nil {
		t.Fatalf("key 10 outside range was removed: err = %v", err)
	}
}

func TestFreeSpaceBytesReturnsPositiveValue(t *testing.T) {
	kv := openTestKV(t)
	free, err := kv.FreeSpaceBytes()
	if err != nil {
		t.Fatalf("FreeSpaceBytes() error = %v", err)
	}
	if free == 0 {
		t.Error("FreeSpaceBytes() = 0, want a positive value on a real filesystem")
	}
}

//go:build unix

package lockfile

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

func TestLockExcludesSecondHolder(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.jsonl")
	f1, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f1.Close()
	f2, err := os.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f2.Close()

	if err := Lock(f1); err != nil {
		t.Fatalf("Lock: %v", err)
	}
	acquired := make(chan struct{})
	go func() {
		_ = Lock(f2)
		close(acquired)
		_ = Unlock(f2)
	}()

	select {
	case <-acquired:
		t.Fatal("second lock acquired while the first was held")
	case <-time.After(100 * time.Millisecond):
	}
	if err := Unlock(f1); err != nil {
		t.Fatalf("Unlock: %v", err)
	}
	select {
	case <-acquired:
	case <-time.After(5 * time.Second):
		t.Fatal("second lock never acquired after unlock")
	}
}

func TestAppendLockedConcurrent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "log.jsonl")
	const writers = 16

	var wg sync.WaitGroup
	for i := range writers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := AppendLocked(path, []byte(fmt.Sprintf("{\"n\":%d}\n", i))); err != nil {
				t.Errorf("AppendLocked: %v", err)
			}
		}()
	}
	wg.Wait()

	f, err := os.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	lines := 0
	for sc := bufio.NewScanner(f); sc.Scan(); {
		lines++
	}
	if lines != writers {
		t.Errorf("got %d lines, want %d", lines, writers)
	}
}

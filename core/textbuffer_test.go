package engine

import (
	"strings"
	"testing"
	"time"
)

func TestTextBufferYieldsChunksInOrder(t *testing.T) {
	b := newTextBuffer()
	b.AddChunk("one ")
	b.AddChunk("two ")
	b.AddChunk("three")
	b.TextComplete()

	var got strings.Builder
	b.Chunks(func(chunk string) bool {
		got.WriteString(chunk)
		return true
	})

	if got.String() != "one two three" {
		t.Fatalf("expected chunks in order, got %q", got.String())
	}
}

func TestTextBufferBlocksUntilMoreChunksArrive(t *testing.T) {
	b := newTextBuffer()
	b.AddChunk("first")

	collected := make(chan string, 1)
	go func() {
		var got strings.Builder
		b.Chunks(func(chunk string) bool {
			got.WriteString(chunk)
			return true
		})
		collected <- got.String()
	}()

	time.Sleep(20 * time.Millisecond)
	b.AddChunk(" second")
	b.TextComplete()

	select {
	case got := <-collected:
		if got != "first second" {
			t.Fatalf("expected the consumer to receive late chunks, got %q", got)
		}
	case <-time.After(time.Second):
		t.Fatal("expected the consumer to finish after completion")
	}
}

func TestTextBufferClearUnblocksConsumers(t *testing.T) {
	b := newTextBuffer()

	finished := make(chan struct{})
	go func() {
		b.Chunks(func(string) bool { return true })
		close(finished)
	}()

	time.Sleep(20 * time.Millisecond)
	b.Clear()

	select {
	case <-finished:
	case <-time.After(time.Second):
		t.Fatal("expected clear to unblock the consumer")
	}
}

func TestTextBufferString(t *testing.T) {
	b := newTextBuffer()
	b.AddChunk("a")
	b.AddChunk("b")

	if b.String() != "ab" {
		t.Fatalf("expected the joined content, got %q", b.String())
	}
}

package media

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestStatic_Grant(t *testing.T) {
	mic := &Static{}

	stream, err := mic.Acquire(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !mic.Active() {
		t.Error("expected active stream")
	}

	stream.Release()
	stream.Release()

	acquired, released := mic.Counts()
	if acquired != 1 || released != 1 {
		t.Errorf("expected 1/1, got %d/%d", acquired, released)
	}
}

func TestStatic_Denied(t *testing.T) {
	mic := &Static{Denied: true}

	if _, err := mic.Acquire(context.Background()); !errors.Is(err, ErrPermissionDenied) {
		t.Errorf("expected ErrPermissionDenied, got %v", err)
	}
}

func TestPrompt_Answer(t *testing.T) {
	asked := make(chan struct{}, 1)
	p := NewPrompt(func() { asked <- struct{}{} })

	go func() {
		<-asked
		p.Answer(true)
	}()

	stream, err := p.Acquire(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	stream.Release()
}

func TestPrompt_Denied(t *testing.T) {
	var p *Prompt
	p = NewPrompt(func() { go p.Answer(false) })

	if _, err := p.Acquire(context.Background()); !errors.Is(err, ErrPermissionDenied) {
		t.Errorf("expected ErrPermissionDenied, got %v", err)
	}
}

func TestPrompt_Timeout(t *testing.T) {
	p := NewPrompt(nil)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	if _, err := p.Acquire(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected deadline exceeded, got %v", err)
	}
	if p.Answer(true) {
		t.Error("expected no pending request after timeout")
	}
}

func TestPrompt_SupersededRequestIsDenied(t *testing.T) {
	asked := make(chan struct{}, 2)
	p := NewPrompt(func() { asked <- struct{}{} })

	first := make(chan error, 1)
	go func() {
		_, err := p.Acquire(context.Background())
		first <- err
	}()
	<-asked

	second := make(chan error, 1)
	go func() {
		_, err := p.Acquire(context.Background())
		second <- err
	}()
	<-asked

	select {
	case err := <-first:
		if !errors.Is(err, ErrPermissionDenied) {
			t.Errorf("expected superseded request denied, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("superseded request still waiting")
	}

	if !p.Answer(true) {
		t.Fatal("expected the newer request to be pending")
	}
	if err := <-second; err != nil {
		t.Errorf("expected newer request granted, got %v", err)
	}
}

// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package executor

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestSubmitPreservesOrderWithinKind(t *testing.T) {
	p := New(2)
	defer p.Close()

	var mu sync.Mutex
	var order []int
	var chans []<-chan Result

	for i := 0; i < 5; i++ {
		i := i
		ch, err := p.Submit(context.Background(), KindHover, func(ctx context.Context) (any, error) {
			mu.Lock()
			order = append(order, i)
			mu.Unlock()
			return i, nil
		})
		if err != nil {
			t.Fatalf("submit %d: %v", i, err)
		}
		chans = append(chans, ch)
	}

	for _, ch := range chans {
		<-ch
	}

	mu.Lock()
	defer mu.Unlock()
	for i, v := range order {
		if v != i {
			t.Fatalf("expected in-order execution, got %v", order)
		}
	}
}

func TestDifferentKindsRunConcurrently(t *testing.T) {
	p := New(2)
	defer p.Close()

	const sleep = 100 * time.Millisecond
	start := time.Now()

	chA, err := p.Submit(context.Background(), KindDefinition, func(ctx context.Context) (any, error) {
		time.Sleep(sleep)
		return nil, nil
	})
	if err != nil {
		t.Fatal(err)
	}
	chB, err := p.Submit(context.Background(), KindHover, func(ctx context.Context) (any, error) {
		time.Sleep(sleep)
		return nil, nil
	})
	if err != nil {
		t.Fatal(err)
	}

	<-chA
	<-chB
	elapsed := time.Since(start)
	if elapsed >= 2*sleep {
		t.Fatalf("expected concurrent execution across kinds, took %v", elapsed)
	}
}

func TestSubmitUnknownKindErrors(t *testing.T) {
	p := New(1)
	defer p.Close()

	_, err := p.Submit(context.Background(), Kind("bogus"), func(ctx context.Context) (any, error) { return nil, nil })
	if err == nil {
		t.Fatal("expected error for unknown kind")
	}
}

func TestSubmitAsyncBoundsConcurrency(t *testing.T) {
	p := New(2)
	defer p.Close()

	var inFlight int32
	var maxObserved int32
	var wg sync.WaitGroup

	for i := 0; i < 6; i++ {
		wg.Add(1)
		ch, err := p.SubmitAsync(context.Background(), func(ctx context.Context) (any, error) {
			defer wg.Done()
			n := atomic.AddInt32(&inFlight, 1)
			for {
				max := atomic.LoadInt32(&maxObserved)
				if n <= max || atomic.CompareAndSwapInt32(&maxObserved, max, n) {
					break
				}
			}
			time.Sleep(20 * time.Millisecond)
			atomic.AddInt32(&inFlight, -1)
			return nil, nil
		})
		if err != nil {
			t.Fatal(err)
		}
		go func() { <-ch }()
	}

	wg.Wait()
	if atomic.LoadInt32(&maxObserved) > 2 {
		t.Fatalf("expected at most 2 concurrent async tasks, saw %d", maxObserved)
	}
}

func TestCloseIsIdempotentAndDrainsQueuedWork(t *testing.T) {
	p := New(1)

	ch, err := p.Submit(context.Background(), KindCompletion, func(ctx context.Context) (any, error) {
		return "done", nil
	})
	if err != nil {
		t.Fatal(err)
	}

	p.Close()
	p.Close() // must not panic

	res := <-ch
	if res.Err != nil || res.Value != "done" {
		t.Fatalf("expected queued work to complete before shutdown, got %+v", res)
	}
}

func TestSubmitAfterCloseErrors(t *testing.T) {
	p := New(1)
	p.Close()

	_, err := p.Submit(context.Background(), KindHover, func(ctx context.Context) (any, error) { return nil, nil })
	if err == nil {
		t.Fatal("expected error submitting after close")
	}
}

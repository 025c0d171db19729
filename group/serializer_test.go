package group

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/flowmesh/groupmedia/internal/wire"
	"github.com/flowmesh/groupmedia/media"
)

func TestSerializerSubmitRunsOnLoopGoroutine(t *testing.T) {
	t.Parallel()
	g := New("s", nil, testConfig(), wire.MediaInfos{}, nil, nil)
	s := NewSerializer(g, time.Hour, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	var mu sync.Mutex
	ran := false
	s.Submit(func(*GroupMedia) {
		mu.Lock()
		ran = true
		mu.Unlock()
	})

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		mu.Lock()
		r := ran
		mu.Unlock()
		if r {
			break
		}
		time.Sleep(time.Millisecond)
	}

	cancel()
	<-done

	mu.Lock()
	defer mu.Unlock()
	if !ran {
		t.Fatal("submitted command must run on the serializer's goroutine")
	}
}

func TestSerializerOnMediaEnqueuesIngestion(t *testing.T) {
	t.Parallel()
	g := New("s", nil, testConfig(), wire.MediaInfos{}, nil, nil)
	s := NewSerializer(g, time.Hour, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	s.OnMedia(media.Frame{Type: media.Video, Time: 1, Data: []byte("hi")})

	wait := make(chan struct{})
	s.Submit(func(*GroupMedia) { close(wait) })
	select {
	case <-wait:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for the serializer to process queued commands")
	}

	cancel()
	<-done

	if !g.fragments.Has(1) {
		t.Fatal("expected the media frame to have been split and stored as fragment 1")
	}
}

package infra

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// ErrBackpressure is returned when a lane's buffer exceeds the watermark.
var ErrBackpressure = errors.New("lane queue over watermark")

// LaneKey identifies a per-conversation serialization boundary. Messages
// sharing a lane key are processed in arrival order; different lanes run
// in parallel.
type LaneKey struct {
	AgentID   string
	ChannelID string
	UserID    string
}

// String renders the canonical agentId:channelId:userId form.
func (k LaneKey) String() string {
	return fmt.Sprintf("%s:%s:%s", k.AgentID, k.ChannelID, k.UserID)
}

// LaneQueue serializes tasks per lane. While the front task of a lane is
// in flight, later tasks for that lane buffer; independent lanes make
// progress concurrently.
type LaneQueue struct {
	mu        sync.Mutex
	lanes     map[string]*lane
	watermark int
	wg        sync.WaitGroup
}

type lane struct {
	queue   []laneTask
	running bool
}

type laneTask struct {
	ctx context.Context
	run func(context.Context)
}

// NewLaneQueue creates a lane queue. watermark bounds the number of
// buffered tasks per lane; <= 0 uses the default of 1024.
func NewLaneQueue(watermark int) *LaneQueue {
	if watermark <= 0 {
		watermark = 1024
	}
	return &LaneQueue{
		lanes:     make(map[string]*lane),
		watermark: watermark,
	}
}

// Enqueue schedules task on the lane identified by key. Returns
// ErrBackpressure when the lane's buffer is at the watermark.
func (q *LaneQueue) Enqueue(ctx context.Context, key LaneKey, task func(context.Context)) error {
	q.mu.Lock()
	ln, ok := q.lanes[key.String()]
	if !ok {
		ln = &lane{}
		q.lanes[key.String()] = ln
	}
	if len(ln.queue) >= q.watermark {
		q.mu.Unlock()
		return ErrBackpressure
	}
	ln.queue = append(ln.queue, laneTask{ctx: ctx, run: task})
	if ln.running {
		q.mu.Unlock()
		return nil
	}
	ln.running = true
	q.wg.Add(1)
	q.mu.Unlock()

	go q.drain(key.String(), ln)
	return nil
}

// Depth returns the number of buffered tasks on the lane.
func (q *LaneQueue) Depth(key LaneKey) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	if ln, ok := q.lanes[key.String()]; ok {
		return len(ln.queue)
	}
	return 0
}

// Wait blocks until all in-flight lanes drain. Used on shutdown.
func (q *LaneQueue) Wait() {
	q.wg.Wait()
}

func (q *LaneQueue) drain(key string, ln *lane) {
	defer q.wg.Done()
	for {
		q.mu.Lock()
		if len(ln.queue) == 0 {
			ln.running = false
			delete(q.lanes, key)
			q.mu.Unlock()
			return
		}
		next := ln.queue[0]
		ln.queue = ln.queue[1:]
		q.mu.Unlock()

		if next.ctx.Err() != nil {
			continue
		}
		next.run(next.ctx)
	}
}

package orgcache

import (
	"context"

	"github.com/gammazero/channelqueue"
)

// Progress is a best-effort build milestone notification. The terminal
// notification of a successful build has Step "done" and a Detail
// summarizing entry counts.
type Progress struct {
	Step   string
	Detail string
}

// OnProgress creates a channel that receives build progress notifications,
// and returns this channel and a cancel function that must be called when
// the channel is no longer needed. Any number of listeners may be attached;
// with none attached, notifications are dropped. Listener delivery never
// affects build outcome.
func (c *Cache) OnProgress() (<-chan Progress, context.CancelFunc) {
	// Queued delivery so that a listener that is slow to read does not block
	// the build.
	cq := channelqueue.New[Progress](-1)
	ch := cq.In()
	select {
	case c.addEventChan <- ch:
	case <-c.closing:
		close(ch)
		return cq.Out(), func() {}
	}

	cncl := func() {
		if ch == nil {
			return
		}
		select {
		case c.rmEventChan <- ch:
		case <-c.closing:
		}
		ch = nil
	}
	return cq.Out(), cncl
}

// notify hands a progress event to the distribution goroutine. Fire and
// forget: nothing is reported back and sends never fail the build.
func (c *Cache) notify(p Progress) {
	select {
	case c.inEvents <- p:
	case <-c.closing:
	}
}

// distributeEvents copies each progress event to every attached listener
// channel. It runs until the cache is closed, then closes all listener
// channels.
func (c *Cache) distributeEvents() {
	var outEventsChans []chan<- Progress

	for {
		select {
		case event := <-c.inEvents:
			for _, ch := range outEventsChans {
				ch <- event
			}
		case ch := <-c.addEventChan:
			outEventsChans = append(outEventsChans, ch)
		case ch := <-c.rmEventChan:
			for i, ca := range outEventsChans {
				if ca == ch {
					outEventsChans[i] = outEventsChans[len(outEventsChans)-1]
					outEventsChans[len(outEventsChans)-1] = nil
					outEventsChans = outEventsChans[:len(outEventsChans)-1]
					close(ch)
					break
				}
			}
		case <-c.closing:
			for _, ch := range outEventsChans {
				close(ch)
			}
			return
		}
	}
}

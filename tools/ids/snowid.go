package ids

import (
	"strconv"
	"sync"
	"time"
)

var epoch = time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)

// Snowflake produces 63-bit ids: 41 bits of milliseconds since 2020-01-01,
// 10 bits of node id and a 12-bit sequence. Connection ids come from here so
// they also sort by connect time.
type Snowflake struct {
	mu       sync.Mutex
	epochMS  int64
	nodeID   int64 // 0~1023
	seq      int64 // 0~4095
	lastTSMS int64
	now      func() time.Time
}

// NewSnowflake returns a generator for nodeID; out of range ids fall back to 1.
func NewSnowflake(nodeID int64) *Snowflake {
	if nodeID < 0 || nodeID > 1023 {
		nodeID = 1
	}
	return &Snowflake{
		epochMS: epoch.UnixMilli(),
		nodeID:  nodeID,
		now:     time.Now,
	}
}

func (g *Snowflake) Next() int64 {
	g.mu.Lock()
	defer g.mu.Unlock()

	for {
		now := g.now().UnixMilli()
		if now < g.lastTSMS {
			// clock moved backwards
			time.Sleep(time.Duration(g.lastTSMS-now) * time.Millisecond)
			continue
		}
		if now == g.lastTSMS {
			g.seq = (g.seq + 1) & 0xFFF
			if g.seq == 0 {
				for now <= g.lastTSMS {
					time.Sleep(100 * time.Microsecond)
					now = g.now().UnixMilli()
				}
			}
		} else {
			g.seq = 0
		}
		g.lastTSMS = now

		ts := (now - g.epochMS) & ((1 << 41) - 1)
		return (ts << 22) | (g.nodeID << 12) | g.seq
	}
}

func (g *Snowflake) NextString() string {
	return strconv.FormatInt(g.Next(), 10)
}

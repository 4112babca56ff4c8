package peer

import (
	"context"
	"time"
)

// idlePoll tick 频率为 0（外部驱动）时检查频率变化的间隔
const idlePoll = 100 * time.Millisecond

func tickInterval(hz float64) time.Duration {
	if hz <= 0 {
		return idlePoll
	}
	d := time.Duration(float64(time.Second) / hz)
	if d <= 0 {
		d = time.Millisecond
	}
	return d
}

// tickLoop 无头模式下按配置频率推进世界，dt 取实际间隔；频率可热更新
func (r *Runtime) tickLoop(ctx context.Context) error {
	hz := r.TickRate()
	ticker := time.NewTicker(tickInterval(hz))
	defer ticker.Stop()
	last := time.Now()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-r.done:
			return nil
		case now := <-ticker.C:
			if cur := r.TickRate(); cur != hz {
				hz = cur
				ticker.Reset(tickInterval(hz))
				Log.Infof("tick rate set to %v", hz)
			}
			if hz <= 0 {
				last = now
				continue
			}
			dt := now.Sub(last).Seconds()
			last = now
			r.Tick(dt)
		}
	}
}

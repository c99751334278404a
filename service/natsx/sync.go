package natsx

import (
	"context"
	"time"

	"famly/tools/errs"
)

type Publisher interface {
	Publish(ctx context.Context, biz string, data []byte, hdr map[string]string) error
}

// SyncPublisher retries a failed publish up to Retries more times. The wait
// grows linearly: Backoff, 2*Backoff, ...
type SyncPublisher struct {
	P       Publisher
	Retries int
	Backoff time.Duration
}

func (sp *SyncPublisher) Publish(ctx context.Context, biz string, data []byte, hdr map[string]string) error {
	err := sp.P.Publish(ctx, biz, data, hdr)
	for attempt := 1; err != nil && attempt <= sp.Retries; attempt++ {
		t := time.NewTimer(time.Duration(attempt) * sp.Backoff)
		select {
		case <-ctx.Done():
			t.Stop()
			return errs.WrapMsg(ctx.Err(), "publish cancelled", "biz", biz, "attempts", attempt)
		case <-t.C:
		}
		err = sp.P.Publish(ctx, biz, data, hdr)
	}
	if err != nil {
		return errs.WrapMsg(err, "publish", "biz", biz, "attempts", sp.Retries+1)
	}
	return nil
}

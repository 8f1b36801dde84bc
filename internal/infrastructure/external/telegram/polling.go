package telegram

import (
	"context"
	"time"
)

const (
	pollBatch        = 100
	pollErrorBackoff = 5 * time.Second
)

// UpdateHandler обрабатывает одно обновление.
type UpdateHandler func(ctx context.Context, update *Update) error

// StartPolling читает getUpdates до отмены ctx. Offset сдвигается до
// вызова handler: упавшее обновление не будет получено повторно.
// Возвращает nil при отмене ctx.
func (c *Client) StartPolling(ctx context.Context, handler UpdateHandler) error {
	c.logger.Info("starting telegram long polling")
	defer c.logger.Info("stopping telegram long polling")

	timeout := int(c.config.PollingTimeout / time.Second)
	var offset int64

	for ctx.Err() == nil {
		updates, err := c.GetUpdates(ctx, offset, pollBatch, timeout)
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			c.logger.Error("failed to get updates", "error", err)
			if !sleepCtx(ctx, pollErrorBackoff) {
				break
			}
			continue
		}

		for i := range updates {
			u := &updates[i]
			if u.UpdateID >= offset {
				offset = u.UpdateID + 1
			}
			if err := handler(ctx, u); err != nil {
				c.logger.Error("failed to handle update", "update_id", u.UpdateID, "error", err)
			}
		}
	}
	return nil
}

// sleepCtx returns false when ctx ends first.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

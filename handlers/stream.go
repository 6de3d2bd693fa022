// handlers/stream.go
package handlers

import (
	"bufio"
	"encoding/json"
	"fmt"
	"time"

	"rewards-ledger-system/logging"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

const streamKeepAlive = 15 * time.Second

// Stream pushes the caller's ledger events as server-sent events until the
// client goes away.
func (h *LedgerHandler) Stream(c *fiber.Ctx) error {
	acct, err := h.account(c)
	if err != nil {
		return writeError(c, err)
	}
	accountID := acct.ID

	c.Set("Content-Type", "text/event-stream")
	c.Set("Cache-Control", "no-cache")
	c.Set("Connection", "keep-alive")
	c.Set("X-Accel-Buffering", "no") // nginx

	events, cancel := h.Events.Subscribe(accountID)

	c.Context().SetBodyStreamWriter(func(w *bufio.Writer) {
		defer cancel()

		ticker := time.NewTicker(streamKeepAlive)
		defer ticker.Stop()

		fmt.Fprintf(w, "event: hello\ndata: {\"balance\":%d}\n\n", acct.Balance)
		if err := w.Flush(); err != nil {
			return
		}

		for {
			select {
			case ev, ok := <-events:
				if !ok {
					return
				}
				payload, err := json.Marshal(ev)
				if err != nil {
					logging.Logger.Error("[SSE] marshal event", zap.Error(err))
					continue
				}
				fmt.Fprintf(w, "id: %s\nevent: %s\ndata: %s\n\n", ev.ID, ev.Type, payload)
			case <-ticker.C:
				w.WriteString(":\n\n")
			}

			if err := w.Flush(); err != nil {
				logging.Logger.Debug("[SSE] client disconnected", zap.String("account_id", accountID))
				return
			}
		}
	})

	return nil
}

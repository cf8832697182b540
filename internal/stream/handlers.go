package stream

import (
	"bufio"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"backend-racesync/internal/race"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
)

// DefaultKeepAlive is the SSE comment ping interval.
const DefaultKeepAlive = 15 * time.Second

// RegisterRoutes mounts the WebSocket stream at /ws/:raceID.
func RegisterRoutes(r fiber.Router, hub *Hub) {
	r.Get("/ws/:raceID", websocket.New(func(c *websocket.Conn) {
		client := hub.Register(c.Params("raceID"))
		defer hub.Unregister(client)

		done := make(chan struct{})
		go func() {
			defer close(done)
			for msg := range client.Send {
				if err := c.WriteMessage(websocket.TextMessage, msg); err != nil {
					break
				}
			}
			// Unblocks the reader when the hub disconnects this client.
			_ = c.Close()
		}()

		for {
			if _, _, err := c.ReadMessage(); err != nil {
				break
			}
		}
		hub.Unregister(client)
		<-done
	}))
}

// RegisterSSERoutes mounts the event stream at /sse/routes/:raceID.
func RegisterSSERoutes(r fiber.Router, hub *Hub, keepAlive time.Duration) {
	if keepAlive <= 0 {
		keepAlive = DefaultKeepAlive
	}
	r.Get("/sse/routes/:raceID", func(c *fiber.Ctx) error {
		raceID := c.Params("raceID")
		if raceID == "" {
			return fiber.NewError(fiber.StatusBadRequest, "race id required")
		}
		c.Set(fiber.HeaderContentType, "text/event-stream")
		c.Set(fiber.HeaderCacheControl, "no-cache")
		c.Set(fiber.HeaderConnection, "keep-alive")
		c.Set("X-Accel-Buffering", "no")

		client := hub.Register(raceID)
		c.Context().SetBodyStreamWriter(func(w *bufio.Writer) {
			defer hub.Unregister(client)
			ticker := time.NewTicker(keepAlive)
			defer ticker.Stop()

			fmt.Fprintf(w, "data: {\"message\":\"connected\",\"route_id\":%q}\n\n", raceID)
			if err := w.Flush(); err != nil {
				return
			}
			for {
				select {
				case msg, ok := <-client.Send:
					if !ok {
						return
					}
					writeEvent(w, msg)
				case <-ticker.C:
					fmt.Fprint(w, ": ping\n\n")
				}
				if err := w.Flush(); err != nil {
					return
				}
			}
		})
		return nil
	})
}

// writeEvent renders an envelope as one SSE message named after its event kind.
func writeEvent(w *bufio.Writer, payload []byte) {
	var env race.Envelope
	if err := json.Unmarshal(payload, &env); err != nil || env.Event == "" {
		return
	}
	fmt.Fprintf(w, "event: %s\n", env.Event)
	for _, line := range strings.Split(string(env.Data), "\n") {
		fmt.Fprintf(w, "data: %s\n", line)
	}
	w.WriteString("\n")
}

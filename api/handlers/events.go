package handlers

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"go.uber.org/zap"

	"github.com/BaSui01/crewflow/event"
)

// EventsHandler 把事件总线以只读 WebSocket 流的形式推送给客户端
type EventsHandler struct {
	bus          event.Bus
	logger       *zap.Logger
	buffer       int
	writeTimeout time.Duration
	// OriginPatterns 透传给 websocket.AcceptOptions
	OriginPatterns []string
}

// NewEventsHandler 创建事件流处理器
func NewEventsHandler(bus event.Bus, logger *zap.Logger) *EventsHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &EventsHandler{
		bus:          bus,
		logger:       logger.With(zap.String("handler", "events")),
		buffer:       256,
		writeTimeout: 5 * time.Second,
	}
}

// HandleStream 处理 GET /v1/events?name=FlowStarted,FlowFinished。
// 总线同步投递，因此每个连接有自己的缓冲区；缓冲区满时丢弃事件而不是阻塞发布者。
func (h *EventsHandler) HandleStream(w http.ResponseWriter, r *http.Request) {
	filter := parseNameFilter(r.URL.Query().Get("name"))

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: h.OriginPatterns})
	if err != nil {
		h.logger.Debug("websocket accept failed", zap.Error(err))
		return
	}
	defer conn.CloseNow()

	// 只读流：CloseRead 处理控制帧，并在客户端断开时取消 ctx
	ctx := conn.CloseRead(r.Context())

	events := make(chan event.Event, h.buffer)
	sub := h.bus.Subscribe(event.Wildcard, func(evt event.Event) error {
		if filter != nil && !filter[evt.Name] {
			return nil
		}
		select {
		case events <- evt:
		default:
			h.logger.Warn("event stream buffer full, dropping event", zap.String("event", string(evt.Name)))
		}
		return nil
	})
	defer h.bus.Unsubscribe(sub)

	h.logger.Debug("event stream opened", zap.String("remote", r.RemoteAddr))
	for {
		select {
		case <-ctx.Done():
			conn.Close(websocket.StatusNormalClosure, "")
			return
		case evt := <-events:
			if err := h.write(ctx, conn, evt); err != nil {
				h.logger.Debug("event stream closed", zap.Error(err))
				return
			}
		}
	}
}

func (h *EventsHandler) write(ctx context.Context, conn *websocket.Conn, evt event.Event) error {
	ctx, cancel := context.WithTimeout(ctx, h.writeTimeout)
	defer cancel()
	return wsjson.Write(ctx, conn, evt)
}

func parseNameFilter(raw string) map[event.Name]bool {
	if raw == "" {
		return nil
	}
	filter := make(map[event.Name]bool)
	for _, name := range strings.Split(raw, ",") {
		if name = strings.TrimSpace(name); name != "" {
			filter[event.Name(name)] = true
		}
	}
	if len(filter) == 0 {
		return nil
	}
	return filter
}

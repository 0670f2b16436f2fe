// Event tail - follows the session and lead topics and prints every event.
// With -port it also rebroadcasts events to WebSocket clients at /ws.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
	"github.com/segmentio/kafka-go"
	"golang.org/x/sync/errgroup"

	"voice-hud-service/internal/models"
	"voice-hud-service/internal/observability/logging"
)

// envelope is what the tail prints and broadcasts. Exactly one of Session and
// Lead is set.
type envelope struct {
	Topic   string               `json:"topic"`
	Key     string               `json:"key"`
	Session *models.SessionEvent `json:"session,omitempty"`
	Lead    *models.LeadEvent    `json:"lead,omitempty"`
}

// Hub fans events out to WebSocket clients.
type Hub struct {
	mu      sync.Mutex
	clients map[*websocket.Conn]bool
}

func newHub() *Hub {
	return &Hub{clients: make(map[*websocket.Conn]bool)}
}

func (h *Hub) add(conn *websocket.Conn) {
	h.mu.Lock()
	h.clients[conn] = true
	n := len(h.clients)
	h.mu.Unlock()
	log.Info().Int("clients", n).Msg("Client connected")
}

func (h *Hub) remove(conn *websocket.Conn) {
	h.mu.Lock()
	if _, ok := h.clients[conn]; ok {
		delete(h.clients, conn)
		conn.Close()
	}
	n := len(h.clients)
	h.mu.Unlock()
	log.Info().Int("clients", n).Msg("Client disconnected")
}

func (h *Hub) broadcast(ev envelope) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for conn := range h.clients {
		conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
		if err := conn.WriteJSON(ev); err != nil {
			log.Warn().Err(err).Msg("Write error")
			conn.Close()
			delete(h.clients, conn)
		}
	}
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // local tool
	},
}

func wsHandler(hub *Hub) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Warn().Err(err).Msg("WebSocket upgrade error")
			return
		}
		hub.add(conn)

		// Read until the client goes away.
		go func() {
			defer hub.remove(conn)
			for {
				if _, _, err := conn.ReadMessage(); err != nil {
					return
				}
			}
		}()
	}
}

func decode(topic string, msg kafka.Message) (envelope, error) {
	ev := envelope{Topic: topic, Key: string(msg.Key)}

	var probe struct {
		EventType string `json:"eventType"`
	}
	if err := json.Unmarshal(msg.Value, &probe); err != nil {
		return ev, err
	}
	if probe.EventType == models.EventLeadSubmitted {
		ev.Lead = &models.LeadEvent{}
		return ev, json.Unmarshal(msg.Value, ev.Lead)
	}
	ev.Session = &models.SessionEvent{}
	return ev, json.Unmarshal(msg.Value, ev.Session)
}

func consume(ctx context.Context, hub *Hub, brokers []string, topic string, since time.Duration) error {
	// Partition reader without consumer group; the tail never commits offsets.
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:   brokers,
		Topic:     topic,
		Partition: 0,
		MinBytes:  1,
		MaxBytes:  10e6,
	})
	defer reader.Close()

	if err := reader.SetOffsetAt(ctx, time.Now().Add(-since)); err != nil {
		log.Warn().Err(err).Str("topic", topic).Msg("Failed to seek, reading from the start")
	}
	log.Info().Str("topic", topic).Dur("since", since).Msg("Consuming")

	for {
		msg, err := reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			log.Warn().Err(err).Str("topic", topic).Msg("Kafka read error")
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(time.Second):
			}
			continue
		}

		ev, err := decode(topic, msg)
		if err != nil {
			log.Warn().Err(err).Str("topic", topic).Msg("Skipping undecodable event")
			continue
		}

		logEvent(ev)
		if hub != nil {
			hub.broadcast(ev)
		}
	}
}

func logEvent(ev envelope) {
	switch {
	case ev.Session != nil:
		s := ev.Session
		log.Info().
			Str("eventType", s.EventType).
			Str("sessionId", s.SessionID).
			Str("agentId", s.AgentID).
			Str("route", s.Route).
			Str("errorKind", s.ErrorKind).
			Str("reason", s.Reason).
			Int64("durationMs", s.DurationMs).
			Msg("Session event")
	case ev.Lead != nil:
		l := ev.Lead
		log.Info().
			Str("eventType", l.EventType).
			Str("leadId", l.LeadID).
			Str("kind", l.Kind).
			Str("email", l.Email).
			Str("pageUri", l.PageURI).
			Msg("Lead event")
	}
}

func main() {
	brokers := flag.String("brokers", "localhost:9092", "Kafka brokers (comma-separated)")
	topicSession := flag.String("topic-session", "voice.session.events", "Session event topic")
	topicLead := flag.String("topic-lead", "site.lead.events", "Lead event topic")
	since := flag.Duration("since", time.Hour, "Replay events newer than this")
	port := flag.String("port", "", "Serve /ws on this port (disabled when empty)")
	flag.Parse()

	logging.Init(logging.Config{Level: "info", Format: "console", TimeFormat: time.RFC3339})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var hub *Hub
	g, gctx := errgroup.WithContext(ctx)

	if *port != "" {
		hub = newHub()
		mux := http.NewServeMux()
		mux.HandleFunc("/ws", wsHandler(hub))
		srv := &http.Server{Addr: ":" + *port, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

		g.Go(func() error {
			log.Info().Str("addr", srv.Addr).Msg("Broadcasting events on /ws")
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				return err
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	brokerList := strings.Split(*brokers, ",")
	for _, topic := range []string{*topicSession, *topicLead} {
		topic := topic // per-iteration copy; go directive is below 1.22
		g.Go(func() error {
			return consume(gctx, hub, brokerList, topic, *since)
		})
	}

	if err := g.Wait(); err != nil {
		log.Error().Err(err).Msg("Event tail failed")
		os.Exit(1)
	}
}

// ABOUTME: Minimal fake task worker for E2E testing — publishes progress events over NATS.
// ABOUTME: Usage: fake-worker [-nats nats://localhost:4222] [-user u1] [-chat c1]
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/2389/frame-gateway/internal/stream"
)

func main() {
	natsURL := flag.String("nats", nats.DefaultURL, "NATS server URL")
	prefix := flag.String("prefix", "frames", "Relay subject prefix")
	user := flag.String("user", "u1", "Target user identity")
	chat := flag.String("chat", "c1", "Target conversation ID")
	prompt := flag.String("prompt", "write me a haiku about gateways", "Simulated prompt")
	frames := flag.Int("frames", 5, "Number of progress frames to send")
	delay := flag.Duration("delay", 300*time.Millisecond, "Delay between events")
	flag.Parse()

	if err := run(*natsURL, *prefix, *user, *chat, *prompt, *frames, *delay); err != nil {
		log.Fatal(err)
	}
}

func run(natsURL, prefix, user, chat, prompt string, frames int, delay time.Duration) error {
	nc, err := nats.Connect(natsURL, nats.Name("fake-worker"))
	if err != nil {
		return fmt.Errorf("failed to connect: %w", err)
	}
	defer nc.Close()

	topic := stream.Topic{Identity: user, ConversationID: chat}
	subject := fmt.Sprintf("%s.%s.%s", prefix, sanitize(user), sanitize(chat))
	log.Printf("publishing to %s", subject)

	publish := func(event *stream.Event) error {
		data, err := json.Marshal(event)
		if err != nil {
			return fmt.Errorf("marshaling event: %w", err)
		}
		if err := nc.Publish(subject, data); err != nil {
			return fmt.Errorf("publishing %s: %w", event.Type, err)
		}
		log.Printf("sent %s", event.Type)
		time.Sleep(delay)
		return nil
	}

	if err := publish(stream.NewStatusEvent(topic, stream.StatusStarted, "Task started: "+prompt)); err != nil {
		return err
	}
	if err := publish(stream.NewStatusEvent(topic, stream.StatusThinking, "Thinking...")); err != nil {
		return err
	}

	for i := range frames {
		payload, _ := json.Marshal(map[string]any{"seq": i, "text": fmt.Sprintf("chunk %d ", i)})
		if err := publish(stream.NewEvent(stream.KindFrame, topic, payload)); err != nil {
			return err
		}
	}

	final, _ := json.Marshal(map[string]string{"text": "Gateways hum softly\nframes flow to waiting windows\nthe task is complete"})
	if err := publish(stream.NewEvent(stream.KindResponse, topic, final)); err != nil {
		return err
	}

	return nc.Flush()
}

// sanitize keeps subjects valid: NATS treats '.', '*', and '>' as structure.
func sanitize(s string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case '.', '*', '>', ' ':
			return '_'
		}
		return r
	}, s)
}

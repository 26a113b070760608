package main

import (
	"bufio"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/fastygo/realty-mesh/domain"
	"github.com/fastygo/realty-mesh/internal/config"
	"github.com/fastygo/realty-mesh/internal/eventbus"
	"github.com/fastygo/realty-mesh/pkg/logger"
)

type options struct {
	eventType string
	key       string
	data      string
	topic     string
	file      string
	timeout   time.Duration
	ensure    bool
}

func parseFlags(args []string) (options, error) {
	var opts options
	fs := flag.NewFlagSet("eventctl", flag.ContinueOnError)
	fs.StringVar(&opts.eventType, "type", "", "Event type, e.g. property.created")
	fs.StringVar(&opts.key, "key", "", "Partition key, usually the entity id")
	fs.StringVar(&opts.data, "data", "", "Event data as JSON")
	fs.StringVar(&opts.topic, "topic", "", "Topic override (default real-estate.events.<type>)")
	fs.StringVar(&opts.file, "file", "", "File of JSON events, one per line; - reads stdin")
	fs.DurationVar(&opts.timeout, "timeout", 30*time.Second, "Overall publish timeout")
	fs.BoolVar(&opts.ensure, "ensure-stream", false, "Create or update the stream before publishing")
	if err := fs.Parse(args); err != nil {
		return opts, err
	}
	if opts.file == "" && opts.eventType == "" {
		return opts, fmt.Errorf("either -type or -file is required")
	}
	return opts, nil
}

// readEvents parses one event per non-empty line. Missing topics are derived
// from the event type and the key falls back to data.id.
func readEvents(r io.Reader) ([]domain.Event, error) {
	var events []domain.Event
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	line := 0
	for scanner.Scan() {
		line++
		text := strings.TrimSpace(scanner.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}
		var evt domain.Event
		if err := json.Unmarshal([]byte(text), &evt); err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		if evt.EventType == "" {
			return nil, fmt.Errorf("line %d: eventType is required", line)
		}
		events = append(events, normalize(evt))
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return events, nil
}

func normalize(evt domain.Event) domain.Event {
	if evt.Topic == "" {
		evt.Topic = domain.TopicFor(evt.EventType)
	}
	if evt.Key == "" && len(evt.Data) > 0 {
		var ref struct {
			ID string `json:"id"`
		}
		if json.Unmarshal(evt.Data, &ref) == nil {
			evt.Key = ref.ID
		}
	}
	return evt
}

// groupByTopic keeps the input order within each topic.
func groupByTopic(events []domain.Event) ([]string, map[string][]eventbus.Message) {
	var topics []string
	groups := make(map[string][]eventbus.Message)
	for _, evt := range events {
		if _, ok := groups[evt.Topic]; !ok {
			topics = append(topics, evt.Topic)
		}
		groups[evt.Topic] = append(groups[evt.Topic], eventbus.NewMessage(evt))
	}
	return topics, groups
}

func loadEvents(opts options) ([]domain.Event, error) {
	if opts.file == "" {
		data := opts.data
		if data == "" {
			data = "{}"
		}
		if !json.Valid([]byte(data)) {
			return nil, fmt.Errorf("-data is not valid JSON")
		}
		return []domain.Event{normalize(domain.Event{
			Topic:     opts.topic,
			EventType: opts.eventType,
			Key:       opts.key,
			Data:      json.RawMessage(data),
		})}, nil
	}

	var r io.Reader = os.Stdin
	if opts.file != "-" {
		f, err := os.Open(opts.file)
		if err != nil {
			return nil, err
		}
		defer f.Close()
		r = f
	}
	events, err := readEvents(r)
	if err != nil {
		return nil, err
	}
	if opts.topic != "" {
		for i := range events {
			events[i].Topic = opts.topic
		}
	}
	return events, nil
}

func main() {
	opts, err := parseFlags(os.Args[1:])
	if err != nil {
		log.Fatalf("eventctl: %v", err)
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}
	zapLogger, err := logger.New(logger.Config{
		Level:    cfg.Logger.Level,
		Encoding: "console",
		Service:  "eventctl",
		Output:   os.Stderr,
	})
	if err != nil {
		log.Fatalf("logger error: %v", err)
	}
	defer zapLogger.Sync()

	events, err := loadEvents(opts)
	if err != nil {
		zapLogger.Fatal("cannot read events", zap.Error(err))
	}

	ctx, cancel := context.WithTimeout(context.Background(), opts.timeout)
	defer cancel()

	conn := eventbus.NewConnection(eventbus.ConnectionConfig{
		URL:            cfg.NATS.URL,
		Name:           cfg.NATS.ClientName + "-eventctl",
		Stream:         cfg.NATS.Stream,
		Subjects:       cfg.NATS.Subjects,
		ConnectTimeout: cfg.NATS.ConnectTimeout,
		DrainTimeout:   cfg.NATS.DrainTimeout,
	}, zapLogger)
	if err := conn.Connect(ctx); err != nil {
		zapLogger.Fatal("broker connection failed", zap.Error(err))
	}
	defer func() {
		closeCtx, closeCancel := context.WithTimeout(context.Background(), cfg.NATS.DrainTimeout)
		defer closeCancel()
		_ = conn.Close(closeCtx)
	}()

	if opts.ensure {
		if err := conn.EnsureStream(ctx); err != nil {
			zapLogger.Fatal("stream setup failed", zap.Error(err))
		}
	}

	js, err := conn.JetStream()
	if err != nil {
		zapLogger.Fatal("jetstream unavailable", zap.Error(err))
	}
	publisher := eventbus.NewPublisher(js, zapLogger, nil)

	topics, groups := groupByTopic(events)
	for _, topic := range topics {
		if err := publisher.PublishBatch(ctx, topic, groups[topic]); err != nil {
			zapLogger.Error("publish failed", zap.String("topic", topic), zap.Error(err))
			os.Exit(1)
		}
		zapLogger.Info("published", zap.String("topic", topic), zap.Int("count", len(groups[topic])))
	}
}

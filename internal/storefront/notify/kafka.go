package notify

import (
	"context"
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/segmentio/kafka-go"
)

// Message is the payload published for the chat-bot delivery service
type Message struct {
	Audience string    `json:"audience"`
	ChatID   int64     `json:"chat_id"`
	Text     string    `json:"text"`
	SentAt   time.Time `json:"sent_at"`
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// DefaultPublishTimeout bounds one notification write, so a slow broker
// cannot hold up the request or job that triggered it.
const DefaultPublishTimeout = 2 * time.Second

// KafkaNotifier publishes notifications to a topic consumed by the chat-bot.
type KafkaNotifier struct {
	writer      messageWriter
	adminChatID int64
	timeout     time.Duration
}

// ParseBrokers splits a comma-separated broker list, dropping blanks.
func ParseBrokers(csv string) []string {
	brokers := []string{}
	for _, b := range strings.Split(csv, ",") {
		b = strings.TrimSpace(b)
		if b != "" {
			brokers = append(brokers, b)
		}
	}
	return brokers
}

func NewKafkaNotifier(brokers []string, topic string, adminChatID int64) *KafkaNotifier {
	return &KafkaNotifier{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireOne,
			BatchTimeout: 10 * time.Millisecond,
			MaxAttempts:  3,
			WriteTimeout: DefaultPublishTimeout,
		},
		adminChatID: adminChatID,
		timeout:     DefaultPublishTimeout,
	}
}

func (n *KafkaNotifier) NotifyUser(ctx context.Context, chatID int64, text string) error {
	return n.publish(ctx, Message{Audience: "user", ChatID: chatID, Text: text})
}

func (n *KafkaNotifier) NotifyAdmin(ctx context.Context, text string) error {
	return n.publish(ctx, Message{Audience: "admin", ChatID: n.adminChatID, Text: text})
}

func (n *KafkaNotifier) publish(ctx context.Context, msg Message) error {
	msg.SentAt = time.Now().UTC()
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	timeout := n.timeout
	if timeout <= 0 {
		timeout = DefaultPublishTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	// Keyed by chat so one chat's messages stay ordered within a partition.
	return n.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(strconv.FormatInt(msg.ChatID, 10)),
		Value: data,
		Time:  msg.SentAt,
	})
}

func (n *KafkaNotifier) Close() error {
	return n.writer.Close()
}

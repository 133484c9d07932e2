// Пакет queue — очередь заданий на проверку файлов поверх Kafka.
// Сообщение — путь к файлу в хранилище; producer кладёт его после
// загрузки, consumer передаёт воркерам проверки.
package queue

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"
)

// Publisher кладёт задание на проверку файла в очередь.
type Publisher interface {
	Publish(ctx context.Context, filePath string) error
}

// KafkaPublisher — реализация Publisher поверх kafka-go Writer.
type KafkaPublisher struct {
	writer *kafka.Writer
	logger *slog.Logger
}

// NewKafkaPublisher создаёт producer для заданного топика.
func NewKafkaPublisher(brokers []string, topic string, logger *slog.Logger) *KafkaPublisher {
	writer := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.LeastBytes{},
		RequiredAcks: kafka.RequireAll,
		BatchTimeout: 10 * time.Millisecond,
	}
	return &KafkaPublisher{
		writer: writer,
		logger: logger.With("component", "kafka-publisher"),
	}
}

// Publish отправляет путь к файлу в топик. Ключ сообщения — сам путь,
// чтобы повторные задания одного файла попадали в одну партицию.
func (p *KafkaPublisher) Publish(ctx context.Context, filePath string) error {
	if filePath == "" {
		return errors.New("пустой путь к файлу")
	}

	err := p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(filePath),
		Value: []byte(filePath),
	})
	if err != nil {
		return fmt.Errorf("отправка задания в очередь: %w", err)
	}

	p.logger.Debug("задание поставлено в очередь", "file_path", filePath)
	return nil
}

// Close закрывает producer.
func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}

// Handler обрабатывает одно задание из очереди. Ошибка логируется,
// но не останавливает consumer: файл остаётся в статусе, который
// подберёт retry sweep.
type Handler func(ctx context.Context, filePath string)

// Consumer читает задания из Kafka в составе consumer group
// и передаёт их обработчику.
type Consumer struct {
	reader  *kafka.Reader
	handler Handler
	logger  *slog.Logger
	done    chan struct{}
}

// NewConsumer создаёт consumer group reader для заданного топика.
func NewConsumer(brokers []string, topic, groupID string, handler Handler, logger *slog.Logger) *Consumer {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  brokers,
		Topic:    topic,
		GroupID:  groupID,
		MinBytes: 1,
		MaxBytes: 1 << 20,
		MaxWait:  time.Second,
	})
	return &Consumer{
		reader:  reader,
		handler: handler,
		logger:  logger.With("component", "kafka-consumer"),
		done:    make(chan struct{}),
	}
}

// Start запускает цикл чтения в отдельной горутине. Цикл завершается
// при отмене контекста.
func (c *Consumer) Start(ctx context.Context) {
	go func() {
		defer close(c.done)
		c.logger.Info("consumer запущен")

		for {
			msg, err := c.reader.ReadMessage(ctx)
			if err != nil {
				if errors.Is(err, context.Canceled) || errors.Is(err, io.EOF) {
					c.logger.Info("consumer остановлен")
					return
				}
				c.logger.Error("ошибка чтения из очереди", "error", err)
				continue
			}

			c.handler(ctx, string(msg.Value))
		}
	}()
}

// Stop закрывает reader и дожидается завершения цикла чтения.
func (c *Consumer) Stop() error {
	err := c.reader.Close()
	<-c.done
	return err
}

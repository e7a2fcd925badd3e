package simpleproducer

import (
	"fmt"

	"github.com/streadway/amqp"
)

type Producer struct {
	name    string
	conn    *amqp.Connection
	channel *amqp.Channel
}

func New(name string, conn *amqp.Connection) *Producer {
	return &Producer{name: name, conn: conn}
}

func (p *Producer) Connect() error {
	channel, err := p.conn.Channel()
	if err != nil {
		return fmt.Errorf("cannot open channel, %w", err)
	}

	p.channel = channel

	_, err = channel.QueueDeclare(p.name, true, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("cannot declare queue, %w", err)
	}

	return nil
}

func (p *Producer) Publish(body []byte) error {
	err := p.channel.Publish("", p.name, false, false, amqp.Publishing{
		ContentType: "application/json",
		Body:        body,
	})
	if err != nil {
		return fmt.Errorf("cannot publish message, %w", err)
	}

	return nil
}

func (p *Producer) Close() error {
	if p.channel == nil {
		return nil
	}

	return p.channel.Close()
}

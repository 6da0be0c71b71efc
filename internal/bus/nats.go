package bus

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/nats-io/nats.go"
)

// SubjectAlertPersisted is published after an alert record is stored.
const SubjectAlertPersisted = "sos.alert.persisted"

// AlertPersisted is the payload of SubjectAlertPersisted.
type AlertPersisted struct {
	ID         string    `json:"id"`
	Channel    string    `json:"channel"`
	ExternalID string    `json:"externalId,omitempty"`
	Location   string    `json:"location"`
	CreatedAt  time.Time `json:"createdAt"`
}

type Publisher struct {
	Conn *nats.Conn
}

func NewPublisher(url, name string) (*Publisher, error) {
	conn, err := nats.Connect(url,
		nats.Name(name),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
	)
	if err != nil {
		return nil, err
	}
	return &Publisher{Conn: conn}, nil
}

func (p *Publisher) Close() {
	if p.Conn != nil {
		p.Conn.Drain()
		p.Conn.Close()
	}
}

func (p *Publisher) Publish(subject string, payload any) error {
	if p.Conn == nil {
		return errors.New("nats publisher not connected")
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	return p.Conn.Publish(subject, data)
}

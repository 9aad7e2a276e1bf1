package ingest

import (
	"encoding/json"
	"log"

	"github.com/nats-io/nats.go"

	"transit-assigner/internal/assign"
)

// Subscriber consumes raw vehicle positions from NATS and hands them to
// the engine loop over a channel. Decoding happens on the NATS delivery
// goroutine; the engine drains the channel serially so assignment state
// never sees concurrent updates.
type Subscriber struct {
	nc  *nats.Conn
	sub *nats.Subscription
	out chan assign.RawPosition
}

func NewSubscriber(url, subject string) (*Subscriber, error) {
	nc, err := nats.Connect(url,
		nats.Name("transit-assigner-ingest"),
		nats.DisconnectHandler(func(_ *nats.Conn) { log.Printf("ingest: nats disconnected") }),
		nats.ReconnectHandler(func(_ *nats.Conn) { log.Printf("ingest: nats reconnected") }),
	)
	if err != nil {
		return nil, err
	}

	s := &Subscriber{nc: nc, out: make(chan assign.RawPosition, 256)}
	s.sub, err = nc.Subscribe(subject, s.handle)
	if err != nil {
		nc.Close()
		return nil, err
	}
	log.Printf("ingest: subscribed to %s", subject)
	return s, nil
}

// Positions is the stream of decoded positions. The channel is closed by
// Close.
func (s *Subscriber) Positions() <-chan assign.RawPosition { return s.out }

func (s *Subscriber) handle(msg *nats.Msg) {
	var p assign.RawPosition
	if err := json.Unmarshal(msg.Data, &p); err != nil {
		log.Printf("ingest: bad position payload: %v", err)
		return
	}
	if p.VehicleID == "" || p.TimeMillis == 0 {
		log.Printf("ingest: position missing device_id or time, dropping")
		return
	}
	s.out <- p
}

// Close drains the subscription, closes the connection, then closes the
// position channel.
func (s *Subscriber) Close() {
	if s.sub != nil {
		_ = s.sub.Drain()
	}
	if s.nc != nil {
		_ = s.nc.Drain()
		s.nc.Close()
	}
	close(s.out)
}

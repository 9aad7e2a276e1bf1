package publisher

import (
	"encoding/json"
	"log"
	"time"

	"github.com/nats-io/nats.go"

	"transit-assigner/internal/assign"
)

// NATSPublisher pushes stop events and projected fixes onto NATS. It
// implements assign.EventSink.
type NATSPublisher struct {
	nc           *nats.Conn
	eventSubject string
	fixSubject   string
	logSubjects  bool
	metrics      PublisherMetrics
}

type PublisherMetrics interface {
	NATSPublishedInc()
	NATSPublishErrInc()
	PublishObserve(d time.Duration)
	NATSSetConnected(connected bool)
}

func NewNATSPublisher(url, eventSubject, fixSubject string, logSubjects bool, m PublisherMetrics) (*NATSPublisher, error) {
	nc, err := nats.Connect(url,
		nats.Name("transit-assigner"),
		nats.DisconnectHandler(func(_ *nats.Conn) {
			if m != nil {
				m.NATSSetConnected(false)
			}
			log.Printf("nats disconnected")
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			if m != nil {
				m.NATSSetConnected(true)
			}
			log.Printf("nats reconnected")
		}),
		nats.ClosedHandler(func(_ *nats.Conn) {
			if m != nil {
				m.NATSSetConnected(false)
			}
			log.Printf("nats closed")
		}),
	)
	if err != nil {
		return nil, err
	}
	if m != nil {
		m.NATSSetConnected(true)
	}
	return &NATSPublisher{
		nc:           nc,
		eventSubject: eventSubject,
		fixSubject:   fixSubject,
		logSubjects:  logSubjects,
		metrics:      m,
	}, nil
}

func (p *NATSPublisher) Close() {
	if p.nc != nil {
		p.nc.Drain()
		p.nc.Close()
	}
}

func (p *NATSPublisher) PublishStopEvent(ev assign.StopEvent) error {
	return p.publish(p.eventSubject, ev)
}

func (p *NATSPublisher) PublishProjectedFix(fix assign.ProjectedFix) error {
	return p.publish(p.fixSubject, fix)
}

func (p *NATSPublisher) publish(subject string, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	if p.logSubjects {
		log.Printf("nats publish subject=%s", subject)
	}
	start := time.Now()
	err = p.nc.Publish(subject, b)
	if p.metrics != nil {
		p.metrics.PublishObserve(time.Since(start))
		if err != nil {
			p.metrics.NATSPublishErrInc()
		} else {
			p.metrics.NATSPublishedInc()
		}
	}
	return err
}

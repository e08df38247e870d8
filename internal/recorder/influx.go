package recorder

import (
	"context"
	"fmt"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	influxdb2_api "github.com/influxdata/influxdb-client-go/v2/api"
	influxdb2_write "github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/signalsfoundry/platoon-coordinator/internal/logging"
	"github.com/signalsfoundry/platoon-coordinator/model"
)

// Measurement is the InfluxDB measurement every event is written to.
const Measurement = "maneuver"

// InfluxConfig locates the bucket events are written to.
type InfluxConfig struct {
	URL    string
	Token  string
	Org    string
	Bucket string
}

// InfluxSink writes one point per maneuver event. Writes are batched by the
// client; Close flushes whatever is still buffered.
type InfluxSink struct {
	client influxdb2.Client
	writer influxdb2_api.WriteAPI
	log    logging.Logger
	now    func() time.Time
}

// NewInfluxSink connects to InfluxDB and verifies the server answers a ping.
func NewInfluxSink(ctx context.Context, cfg InfluxConfig, log logging.Logger) (*InfluxSink, error) {
	if log == nil {
		log = logging.Noop()
	}
	client := influxdb2.NewClientWithOptions(
		cfg.URL,
		cfg.Token,
		influxdb2.DefaultOptions().
			SetBatchSize(500).
			SetFlushInterval(1000),
	)
	running, err := client.Ping(ctx)
	if err != nil || !running {
		client.Close()
		if err == nil {
			err = fmt.Errorf("server at %s not running", cfg.URL)
		}
		return nil, fmt.Errorf("influx ping: %w", err)
	}

	s := &InfluxSink{
		client: client,
		writer: client.WriteAPI(cfg.Org, cfg.Bucket),
		log:    log.With(logging.String("bucket", cfg.Bucket)),
		now:    time.Now,
	}
	go s.drainErrors()
	return s, nil
}

func (s *InfluxSink) drainErrors() {
	for err := range s.writer.Errors() {
		s.log.Error(context.Background(), "influx: write failed", logging.Err(err))
	}
}

// Record queues a point for ev.
func (s *InfluxSink) Record(ctx context.Context, ev model.ManeuverEvent) {
	s.writer.WritePoint(Point(ev, logging.RunIDFromContext(ctx), s.now()))
}

// Close flushes pending points and releases the client.
func (s *InfluxSink) Close() error {
	s.writer.Flush()
	s.client.Close()
	return nil
}

// Point converts ev to a line-protocol point tagged with platoon, kind and
// run. Empty tags are omitted.
func Point(ev model.ManeuverEvent, runID string, ts time.Time) *influxdb2_write.Point {
	p := influxdb2.NewPointWithMeasurement(Measurement).
		AddTag("kind", string(ev.Kind)).
		AddField("step", ev.Step).
		SetTime(ts)
	if ev.PlatoonID != "" {
		p.AddTag("platoon", ev.PlatoonID)
	}
	if runID != "" {
		p.AddTag("run", runID)
	}

	switch ev.Kind {
	case model.EventTransition:
		p.AddField("from", ev.From.String())
		p.AddField("to", ev.To.String())
	case model.EventLaneChange:
		p.AddField("direction", ev.Direction.String())
		p.AddField("members", ev.Index)
	case model.EventSplit:
		p.AddField("index", ev.Index)
	}
	if ev.Vehicle != "" {
		p.AddField("vehicle", string(ev.Vehicle))
	}
	if ev.Detail != "" {
		p.AddField("detail", ev.Detail)
	}
	return p
}

// LineProtocol renders ev the way it is sent to InfluxDB.
func LineProtocol(ev model.ManeuverEvent, runID string, ts time.Time) string {
	return influxdb2_write.PointToLineProtocol(Point(ev, runID, ts), time.Nanosecond)
}

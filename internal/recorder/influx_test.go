package recorder

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/signalsfoundry/platoon-coordinator/model"
)

func TestLineProtocol(t *testing.T) {
	ts := time.Unix(0, 42)
	line := LineProtocol(model.ManeuverEvent{
		Step:      7,
		PlatoonID: "p.0",
		Kind:      model.EventTransition,
		From:      model.Cruising,
		To:        model.OvertakingLeft,
	}, "run-1", ts)

	assert.True(t, strings.HasPrefix(line, Measurement+","), line)
	assert.Contains(t, line, "kind=transition")
	assert.Contains(t, line, "platoon=p.0")
	assert.Contains(t, line, "run=run-1")
	assert.Contains(t, line, `to="OVERTAKING_LEFT"`)
	assert.Contains(t, line, "step=7i")
	assert.True(t, strings.HasSuffix(strings.TrimSpace(line), " 42"), line)
}

func TestInfluxSinkWritesPoints(t *testing.T) {
	bodies := make(chan string, 4)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasSuffix(r.URL.Path, "/write") {
			b, _ := io.ReadAll(r.Body)
			bodies <- string(b)
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	sink, err := NewInfluxSink(context.Background(), InfluxConfig{
		URL:    srv.URL,
		Token:  "token",
		Org:    "platoon",
		Bucket: "maneuvers",
	}, nil)
	require.NoError(t, err)

	sink.Record(context.Background(), model.ManeuverEvent{Step: 1, PlatoonID: "p.0", Kind: model.EventSplit, Index: 3})
	require.NoError(t, sink.Close())

	select {
	case body := <-bodies:
		assert.Contains(t, body, "kind=split")
		assert.Contains(t, body, "index=3i")
	case <-time.After(5 * time.Second):
		t.Fatal("no write reached the server")
	}
}

func TestNewInfluxSinkFailsWhenUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, err := NewInfluxSink(ctx, InfluxConfig{URL: url}, nil)
	assert.Error(t, err)
}

package signals

import (
	"encoding/json"
	"testing"
	"time"

	natsserver "github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func startTestNATSServer(t *testing.T) *natsserver.Server {
	t.Helper()
	opts := &natsserver.Options{
		Host:   "127.0.0.1",
		Port:   -1,
		NoLog:  true,
		NoSigs: true,
	}
	server, err := natsserver.NewServer(opts)
	require.NoError(t, err)

	go server.Start()
	if !server.ReadyForConnections(5 * time.Second) {
		t.Fatal("NATS server not ready")
	}
	t.Cleanup(func() {
		server.Shutdown()
		server.WaitForShutdown()
	})
	return server
}

func TestBus(t *testing.T) {
	bus := NewRecordingBus()
	var got []Kind
	bus.Subscribe(func(s Signal) { got = append(got, s.Kind()) })

	bus.Emit(StaleContext{ContextID: "c1"})
	bus.Emit(CapacityExceeded{Set: "selected", Ceiling: 2, Evicted: []string{"/a"}})

	assert.Equal(t, []Kind{KindStaleContext, KindCapacityExceeded}, got)
	assert.Len(t, bus.Events(), 2)
	assert.Len(t, bus.EventsOfKind(KindCapacityExceeded), 1)

	bus.Clear()
	assert.Empty(t, bus.Events())
}

func TestBus_NonRecording(t *testing.T) {
	bus := NewBus()
	bus.Emit(StaleContext{})
	assert.Empty(t, bus.Events())
}

func TestBus_HandlerMayEmit(t *testing.T) {
	bus := NewRecordingBus()
	bus.Subscribe(func(s Signal) {
		if s.Kind() == KindBuildTimeout {
			bus.Emit(StatusChanged{From: "building", To: "error"})
		}
	})
	bus.Emit(BuildTimeout{Generation: 1, After: time.Second})
	assert.Len(t, bus.Events(), 2)
}

func TestLogSink(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	sink := LogSink(zap.New(core))

	sink(CapacityExceeded{Set: "expanded", Ceiling: 10, Evicted: []string{"/x", "/y"}})
	sink(BuildTimeout{Generation: 3, After: 2 * time.Second})

	require.Equal(t, 1, logs.FilterMessage("capacity exceeded, oldest entries evicted").Len())
	entry := logs.FilterMessage("capacity exceeded, oldest entries evicted").All()[0]
	assert.Equal(t, zapcore.WarnLevel, entry.Level)
	assert.Equal(t, int64(2), entry.ContextMap()["evicted"])
	assert.Equal(t, 1, logs.FilterLevelExact(zapcore.ErrorLevel).Len())
}

func TestNATSPublisher(t *testing.T) {
	server := startTestNATSServer(t)

	sub, err := nats.Connect(server.ClientURL())
	require.NoError(t, err)
	defer sub.Close()

	msgs := make(chan *nats.Msg, 4)
	_, err = sub.ChanSubscribe("test.signals.>", msgs)
	require.NoError(t, err)
	require.NoError(t, sub.Flush())

	pub, err := ConnectNATS(Config{NATSURL: server.ClientURL(), SubjectPrefix: "test.signals."}, "/proj", nil)
	require.NoError(t, err)
	defer pub.Close()

	bus := NewBus()
	bus.Subscribe(pub.Handle)
	bus.Emit(StaleContext{ContextID: "ctx-42"})

	select {
	case msg := <-msgs:
		assert.Equal(t, "test.signals.stale_context", msg.Subject)
		var env struct {
			Kind    Kind         `json:"kind"`
			Project string       `json:"project"`
			Payload StaleContext `json:"payload"`
		}
		require.NoError(t, json.Unmarshal(msg.Data, &env))
		assert.Equal(t, KindStaleContext, env.Kind)
		assert.Equal(t, "/proj", env.Project)
		assert.Equal(t, "ctx-42", env.Payload.ContextID)
	case <-time.After(5 * time.Second):
		t.Fatal("no signal received")
	}
}

func TestConnectNATS_RequiresURL(t *testing.T) {
	_, err := ConnectNATS(Config{}, "", nil)
	require.Error(t, err)
}

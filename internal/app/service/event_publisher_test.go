package service

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/sifan077/TempLogin/internal/app/model"
)

type publishedMsg struct {
	subject string
	data    []byte
}

// fakeJetStream records publishes. Methods it does not override panic on the nil
// embedded interface.
type fakeJetStream struct {
	nats.JetStreamContext

	mu   sync.Mutex
	msgs []publishedMsg
	err  error
}

func (f *fakeJetStream) Publish(subj string, data []byte, _ ...nats.PubOpt) (*nats.PubAck, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	f.msgs = append(f.msgs, publishedMsg{subject: subj, data: data})
	return &nats.PubAck{Stream: model.LinkStreamName}, nil
}

func TestEventPublisher_Subjects(t *testing.T) {
	js := &fakeJetStream{}
	p := NewEventPublisher(js, nil)
	p.now = func() time.Time { return t0 }

	link := model.Link{ID: "link-1", Token: "tl_secret", SubjectIdentity: "alice", ExpiresAt: t0.Add(time.Hour)}
	p.LinkIssued(context.Background(), link)
	p.LinkExpired(context.Background(), link, "expired")

	require.Len(t, js.msgs, 2)
	assert.Equal(t, model.LinkIssuedSubject, js.msgs[0].subject)
	assert.Equal(t, model.LinkExpiredSubject, js.msgs[1].subject)

	var issued model.LinkEvent
	require.NoError(t, json.Unmarshal(js.msgs[0].data, &issued))
	assert.Equal(t, model.EventLinkIssued, issued.Type)
	assert.Equal(t, "alice", issued.SubjectIdentity)
	require.NotNil(t, issued.Link, "issue events carry the link for delivery")
	assert.Equal(t, "tl_secret", issued.Link.Token)
	assert.True(t, issued.OccurredAt.Equal(t0))

	var expired model.LinkEvent
	require.NoError(t, json.Unmarshal(js.msgs[1].data, &expired))
	assert.Nil(t, expired.Link)
	assert.Equal(t, "link-1", expired.LinkID)
}

func TestEventPublisher_FailureIsLogged(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	js := &fakeJetStream{err: errors.New("no responders")}
	p := NewEventPublisher(js, zap.New(core))

	p.LinkExpired(context.Background(), model.Link{ID: "link-1"}, "expired")

	assert.Equal(t, 1, logs.FilterMessage("failed to publish link event").Len())
}

func TestJetStreamAccessLog_Record(t *testing.T) {
	js := &fakeJetStream{}
	sink := NewJetStreamAccessLog(js)

	entry := model.AccessLogEntry{ID: "entry-1", LinkID: "link-1", Outcome: model.OutcomeGranted, Timestamp: t0}
	require.NoError(t, sink.Record(context.Background(), entry))

	require.Len(t, js.msgs, 1)
	assert.Equal(t, model.AccessStreamSubject, js.msgs[0].subject)

	var got model.AccessLogEntry
	require.NoError(t, json.Unmarshal(js.msgs[0].data, &got))
	assert.Equal(t, "entry-1", got.ID)

	js.err = errors.New("timeout")
	assert.Error(t, sink.Record(context.Background(), entry))
}

func TestLogNotifier(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	n := NewLogNotifier(zap.New(core))

	n.LinkIssued(context.Background(), model.Link{ID: "link-1", Token: "tl_secret"})
	n.LinkExpired(context.Background(), model.Link{ID: "link-1"}, "maxed_out")

	require.Equal(t, 2, logs.Len())
	for _, entry := range logs.All() {
		for _, v := range entry.ContextMap() {
			assert.NotEqual(t, "tl_secret", v)
		}
	}
}

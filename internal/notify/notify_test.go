package notify

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/twmb/franz-go/pkg/kgo"

	"carekeeper/pkg/domain"
	"carekeeper/pkg/requestcontext"
)

type fakeProducer struct {
	records []*kgo.Record
	err     error
}

func (p *fakeProducer) ProduceSync(_ context.Context, rs ...*kgo.Record) kgo.ProduceResults {
	results := make(kgo.ProduceResults, 0, len(rs))
	for _, r := range rs {
		if p.err == nil {
			p.records = append(p.records, r)
		}
		results = append(results, kgo.ProduceResult{Record: r, Err: p.err})
	}
	return results
}

func TestKafkaNotifier(t *testing.T) {
	user := domain.NewUserID()
	ctx := requestcontext.WithRequestID(context.Background(), "req-7")

	t.Run("publishes keyed by user", func(t *testing.T) {
		p := &fakeProducer{}
		n, err := NewKafkaNotifier(p, "carekeeper.notifications")
		require.NoError(t, err)
		require.NoError(t, n.Notify(ctx, user, "inactivity-warning"))

		require.Len(t, p.records, 1)
		rec := p.records[0]
		assert.Equal(t, "carekeeper.notifications", rec.Topic)
		assert.Equal(t, user.String(), string(rec.Key))
		var msg Message
		require.NoError(t, json.Unmarshal(rec.Value, &msg))
		assert.Equal(t, user, msg.UserID)
		assert.Equal(t, "inactivity-warning", msg.Template)
		assert.Equal(t, "req-7", msg.RequestID)
	})

	t.Run("broker failure is returned", func(t *testing.T) {
		n, err := NewKafkaNotifier(&fakeProducer{err: errors.New("leader not available")}, "t")
		require.NoError(t, err)
		assert.Error(t, n.Notify(ctx, user, "inactivity-warning"))
	})
}

func TestLogNotifier(t *testing.T) {
	n := NewLogNotifier(slog.New(slog.NewTextHandler(io.Discard, nil)))
	assert.NoError(t, n.Notify(context.Background(), domain.NewUserID(), "deletion-scheduled"))
}

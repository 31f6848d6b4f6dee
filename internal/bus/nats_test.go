package bus

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zertoslack/zertoslack/internal/types"
)

type fakeConn struct {
	subjects []string
	payloads [][]byte
	err      error
}

func (f *fakeConn) Publish(subject string, data []byte) error {
	if f.err != nil {
		return f.err
	}
	f.subjects = append(f.subjects, subject)
	f.payloads = append(f.payloads, data)
	return nil
}

func TestHandle_PublishesEnvelope(t *testing.T) {
	conn := &fakeConn{}
	p := &Publisher{Conn: conn, Prefix: "zerto.alerts"}

	evt := types.ChangeEvent{
		Source: &types.Source{Label: "zvm.prod east"},
		Alert:  types.Alert{Link: types.Link{Identifier: "a-1"}, Level: types.LevelRemoved},
	}
	require.NoError(t, p.Handle(evt))

	require.Len(t, conn.subjects, 1)
	assert.Equal(t, "zerto.alerts.zvm_prod_east", conn.subjects[0])

	var env Envelope
	require.NoError(t, json.Unmarshal(conn.payloads[0], &env))
	assert.Equal(t, "zvm.prod east", env.Source)
	assert.Equal(t, types.KindRemoved, env.Kind)
	assert.Equal(t, "a-1", env.Alert.ID())
	assert.False(t, env.EmittedAt.IsZero())
}

func TestHandle_PropagatesError(t *testing.T) {
	p := &Publisher{Conn: &fakeConn{err: errors.New("nats: connection closed")}, Prefix: "x"}
	err := p.Handle(types.ChangeEvent{Source: &types.Source{Label: "a"}})
	assert.Error(t, err)
}

package bus

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/V4T54L/geofence-relay/internal/domain"
)

func TestKafkaBus_Message(t *testing.T) {
	b := NewKafka([]string{"localhost:9092"}, "geofencingSample/event", "group", MsgPack, discardLogger)
	defer b.Close()

	assert.Equal(t, "geofencingSample.event", b.writer.Topic)

	m, err := b.message(sampleMessage("d1", "FENCE1"))
	require.NoError(t, err)
	assert.Equal(t, []byte("FENCE1"), m.Key)
	require.Len(t, m.Headers, 1)
	assert.Equal(t, contentTypeHeader, m.Headers[0].Key)
	assert.Equal(t, "application/msgpack", string(m.Headers[0].Value))

	var got domain.EnrichedMessage
	require.NoError(t, MsgPack.Unmarshal(m.Value, &got))
	assert.Equal(t, "d1", got.DeviceDescriptor)
}

package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeEnvelope_Single(t *testing.T) {
	raw := []byte(`{
		"type": "price_update",
		"gameId": "nba-cha-hou",
		"slug": "hornets-rockets",
		"awaySide": {"buy": 56, "sell": 54},
		"homeSide": {"buy": 46, "sell": 44},
		"ticker": "KXNBAGAME-26FEB05CHAHOU-CHA",
		"timestamp": 1700000000000
	}`)

	env, err := DecodeEnvelope(raw)
	require.NoError(t, err)
	require.NotNil(t, env.Single)
	assert.Nil(t, env.Batch)

	items := env.Items()
	require.Len(t, items, 1)
	assert.Equal(t, "nba-cha-hou", items[0].GameID)
	assert.Equal(t, SidePrices{Buy: 56, Sell: 54}, items[0].AwaySide)
	assert.Equal(t, SidePrices{Buy: 46, Sell: 44}, items[0].HomeSide)
}

func TestDecodeEnvelope_Batch(t *testing.T) {
	msgs := []PriceMessage{
		{Type: MessageTypePrice, GameID: "g1", Ticker: "T1", Timestamp: 1},
		{Type: MessageTypePrice, GameID: "g2", Ticker: "T2", Timestamp: 2},
	}
	raw, err := EncodeBatch(msgs)
	require.NoError(t, err)

	env, err := DecodeEnvelope(raw)
	require.NoError(t, err)
	assert.Nil(t, env.Single)
	require.Len(t, env.Batch, 2)
	assert.Equal(t, "g1", env.Batch[0].GameID)
	assert.Equal(t, "g2", env.Batch[1].GameID)
	assert.Equal(t, env.Batch, env.Items())
}

func TestDecodeEnvelope_UpdatedSides(t *testing.T) {
	raw := []byte(`{"type":"price_update","gameId":"g1","awaySide":{"buy":62,"sell":60},"homeSide":{"buy":0,"sell":0},"updatedSides":["away"],"ticker":"T1","timestamp":5}`)

	env, err := DecodeEnvelope(raw)
	require.NoError(t, err)
	require.NotNil(t, env.Single)
	assert.Equal(t, []Side{SideAway}, env.Single.UpdatedSides)
}

func TestDecodeEnvelope_Malformed(t *testing.T) {
	for _, raw := range []string{
		"not json at all",
		`{"type": 42}`,
		`{"type":"batch","items":"nope"}`,
	} {
		_, err := DecodeEnvelope([]byte(raw))
		assert.Error(t, err, "payload %q must not decode", raw)
	}
}

func TestGameQuote_UpdatedSides(t *testing.T) {
	tests := []struct {
		name string
		q    GameQuote
		want []Side
	}{
		{"both known", GameQuote{AwayKnown: true, HomeKnown: true}, nil},
		{"away only", GameQuote{AwayKnown: true}, []Side{SideAway}},
		{"home only", GameQuote{HomeKnown: true}, []Side{SideHome}},
		{"neither", GameQuote{}, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.q.UpdatedSides())
		})
	}
}

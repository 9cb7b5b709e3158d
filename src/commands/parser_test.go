package commands

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rektbot/src/model"
)

func TestParseOpen(t *testing.T) {
	tests := []struct {
		name     string
		content  string
		side     model.Side
		amount   int64
		leverage int64
		tp       string
	}{
		{"bare long", "long 1000", model.SideLong, 1000, 0, ""},
		{"mention first", "nostr:npub1xyz long 5000 please", model.SideLong, 5000, 0, ""},
		{"leverage", "SHORT 2000 x25", model.SideShort, 2000, 25, ""},
		{"leverage and tp", "long 10_000 x5 tp 65000.5", model.SideLong, 10000, 5, "65000.5"},
		{"tp only", "@rektbot short 3000 tp 58000", model.SideShort, 3000, 0, "58000"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cmd, err := Parse(tt.content)
			require.NoError(t, err)
			assert.Equal(t, KindOpen, cmd.Kind)
			assert.Equal(t, tt.side, cmd.Side)
			assert.Equal(t, tt.amount, cmd.Amount)
			assert.Equal(t, tt.leverage, cmd.Leverage)
			if tt.tp == "" {
				assert.False(t, cmd.TakeProfit.Valid)
			} else {
				require.True(t, cmd.TakeProfit.Valid)
				assert.True(t, decimal.RequireFromString(tt.tp).Equal(cmd.TakeProfit.Decimal))
			}
		})
	}
}

func TestParseOpenMalformed(t *testing.T) {
	for _, content := range []string{"long", "long lots", "short -5", "long 1000 x0", "long 1000 tp", "short 1000 tp abc"} {
		_, err := Parse(content)
		assert.ErrorIs(t, err, ErrMalformed, content)
	}
}

func TestParseOtherCommands(t *testing.T) {
	cmd, err := Parse("withdraw")
	require.NoError(t, err)
	assert.Equal(t, Command{Kind: KindWithdraw}, cmd)

	cmd, err = Parse("nostr:npub1abc withdraw lnbc10u1pxyz")
	require.NoError(t, err)
	assert.Equal(t, "lnbc10u1pxyz", cmd.Target)

	cmd, err = Parse("Withdraw alice@getalby.com")
	require.NoError(t, err)
	assert.Equal(t, "alice@getalby.com", cmd.Target)

	cmd, err = Parse("what is my status?")
	assert.ErrorIs(t, err, ErrNoCommand, "keyword must be a whole word")

	cmd, err = Parse("status")
	require.NoError(t, err)
	assert.Equal(t, KindStatus, cmd.Kind)

	cmd, err = Parse("HELP")
	require.NoError(t, err)
	assert.Equal(t, KindHelp, cmd.Kind)

	_, err = Parse("gm")
	assert.ErrorIs(t, err, ErrNoCommand)
}

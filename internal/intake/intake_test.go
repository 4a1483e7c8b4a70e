package intake

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/triagebot/pkg/models"
)

func baseEvent() models.RawEvent {
	return models.RawEvent{
		Type:    "message",
		Channel: "C123",
		User:    "U456",
		Text:    "the deploy script crashes with a nil pointer",
		TS:      "1726000000.000100",
	}
}

func TestNormalize_AcceptsPlainMessage(t *testing.T) {
	in := New("U000BOT", []string{"C123"}, false)

	v := in.Normalize(baseEvent())
	require.NotNil(t, v.Message)
	assert.Empty(t, v.Dropped)
	assert.Equal(t, "C123", v.Message.ChannelID)
	assert.Equal(t, "1726000000.000100", v.Message.MessageTS)
	assert.Equal(t, models.Fingerprint{ChannelID: "C123", MessageTS: "1726000000.000100"},
		v.Message.Fingerprint())
}

func TestNormalize_FilterOrder(t *testing.T) {
	in := New("U000BOT", []string{"C123"}, false)

	cases := []struct {
		name   string
		mutate func(*models.RawEvent)
		want   DropReason
	}{
		{"bot id set", func(e *models.RawEvent) { e.BotID = "B1" }, DropOwnMessage},
		{"own user", func(e *models.RawEvent) { e.User = "U000BOT" }, DropOwnMessage},
		{"non-message type", func(e *models.RawEvent) { e.Type = "reaction_added" }, DropSystemEvent},
		{"join subtype", func(e *models.RawEvent) { e.Subtype = "channel_join" }, DropSystemEvent},
		{"topic subtype", func(e *models.RawEvent) { e.Subtype = "channel_topic" }, DropSystemEvent},
		{"unlisted channel", func(e *models.RawEvent) { e.Channel = "C999" }, DropDisallowedChannel},
		{"edit without reclassify", func(e *models.RawEvent) { e.Subtype = "message_changed"; e.EditSeq = 1 }, DropDuplicateEdit},
		{"empty text", func(e *models.RawEvent) { e.Text = "   " }, DropMalformed},
		{"missing ts", func(e *models.RawEvent) { e.TS = "" }, DropMalformed},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ev := baseEvent()
			tc.mutate(&ev)
			v := in.Normalize(ev)
			assert.Nil(t, v.Message)
			assert.Equal(t, tc.want, v.Dropped)
		})
	}
}

func TestNormalize_EditsReenterWhenEnabled(t *testing.T) {
	in := New("U000BOT", []string{"C123"}, true)

	ev := baseEvent()
	ev.Subtype = "message_changed"
	ev.EditSeq = 2

	v := in.Normalize(ev)
	require.NotNil(t, v.Message)
	assert.Equal(t, 2, v.Message.EditSeq)
	// Same fingerprint as the original delivery.
	assert.Equal(t, "C123:1726000000.000100", v.Message.Fingerprint().String())
}

func TestNormalize_OwnMessageCheckedBeforeChannel(t *testing.T) {
	in := New("U000BOT", []string{"C123"}, false)

	ev := baseEvent()
	ev.User = "U000BOT"
	ev.Channel = "C999" // would also be disallowed

	assert.Equal(t, DropOwnMessage, in.Normalize(ev).Dropped)
}

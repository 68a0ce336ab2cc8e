package chatclient

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fixedClock(t *Timeline, at time.Time) {
	t.now = func() time.Time { return at }
}

func strPtr(s string) *string { return &s }

func TestAddProvisionalUsesClockAndUniqueIDs(t *testing.T) {
	tl := NewTimeline()
	at := time.UnixMilli(1_700_000_000_000)
	fixedClock(tl, at)

	a := tl.AddProvisional(Draft{ConversationID: 1, SenderID: 7, Content: "a"})
	b := tl.AddProvisional(Draft{ConversationID: 1, SenderID: 7, Content: "b"})

	assert.Equal(t, at.UnixMilli(), a.ID)
	assert.Equal(t, at.UnixMilli()+1, b.ID)
	assert.True(t, a.Pending)
	assert.Equal(t, TypeText, a.Type)
	require.NotNil(t, a.ClientID)
	assert.NotEqual(t, *a.ClientID, *b.ClientID)
}

func TestConfirm(t *testing.T) {
	tests := []struct {
		name     string
		echo     func(p Message) Message
		replaced bool
		wantLen  int
	}{
		{
			name: "correlation id",
			echo: func(p Message) Message {
				return Message{ID: 501, SenderID: 7, ClientID: p.ClientID, Content: "hi", Type: TypeText}
			},
			replaced: true,
			wantLen:  2,
		},
		{
			name: "text tail heuristic",
			echo: func(Message) Message {
				return Message{ID: 501, SenderID: 7, Content: "hi", Type: TypeText}
			},
			replaced: true,
			wantLen:  2,
		},
		{
			name: "different content appends",
			echo: func(Message) Message {
				return Message{ID: 501, SenderID: 7, Content: "other", Type: TypeText}
			},
			replaced: false,
			wantLen:  3,
		},
		{
			name: "media appends",
			echo: func(Message) Message {
				return Message{ID: 501, SenderID: 7, Content: "hi", Type: TypeMedia}
			},
			replaced: false,
			wantLen:  3,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tl := NewTimeline()
			tl.Confirm(Message{ID: 100, SenderID: 8, Content: "before", Type: TypeText})
			p := tl.AddProvisional(Draft{ConversationID: 1, SenderID: 7, Content: "hi"})

			assert.Equal(t, tt.replaced, tl.Confirm(tt.echo(p)))
			msgs := tl.Messages()
			require.Len(t, msgs, tt.wantLen)
			if tt.replaced {
				assert.Equal(t, int64(501), msgs[1].ID)
				assert.False(t, msgs[1].Pending)
			}
		})
	}
}

func TestConfirmKeepsPositionAndDedupes(t *testing.T) {
	tl := NewTimeline()
	p := tl.AddProvisional(Draft{SenderID: 7, Content: "first"})
	tl.Confirm(Message{ID: 200, SenderID: 8, Content: "from bo", Type: TypeText})

	confirmed := Message{ID: 201, SenderID: 7, ClientID: p.ClientID, Content: "first", Type: TypeText}
	assert.True(t, tl.Confirm(confirmed))
	// the ack after the echo lands on the same entry
	assert.True(t, tl.Confirm(confirmed))

	msgs := tl.Messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, int64(201), msgs[0].ID)
	assert.Equal(t, int64(200), msgs[1].ID)
}

func TestConfirmMatchesOnlySameSender(t *testing.T) {
	tl := NewTimeline()
	tl.AddProvisional(Draft{SenderID: 7, Content: "ok"})

	assert.False(t, tl.Confirm(Message{ID: 9, SenderID: 8, Content: "ok", Type: TypeText}))
	assert.Equal(t, 2, tl.Len())
}

func TestFail(t *testing.T) {
	tl := NewTimeline()
	text := tl.AddProvisional(Draft{SenderID: 7, Content: "hi"})
	media := tl.AddProvisional(Draft{SenderID: 7, Content: "{}", Type: TypeMedia, FileName: "cat.png"})

	tl.Fail(text.ID)
	tl.Fail(media.ID)

	msgs := tl.Messages()
	require.Len(t, msgs, 1)
	assert.True(t, msgs[0].Failed)
	assert.False(t, msgs[0].Pending)
	assert.Equal(t, "cat.png", msgs[0].FileName)
}

func TestPrependSkipsKnownIDs(t *testing.T) {
	tl := NewTimeline()
	tl.Confirm(Message{ID: 10, Content: "ten"})
	tl.Confirm(Message{ID: 11, Content: "eleven"})

	added := tl.Prepend([]Message{{ID: 8}, {ID: 9}, {ID: 10}})
	assert.Equal(t, 2, added)

	var ids []int64
	for _, m := range tl.Messages() {
		ids = append(ids, m.ID)
	}
	assert.Equal(t, []int64{8, 9, 10, 11}, ids)
}

func TestRemoveReactionsAndSeen(t *testing.T) {
	tl := NewTimeline()
	tl.Confirm(Message{ID: 1, Content: "a"})
	tl.Confirm(Message{ID: 2, Content: "b"})

	assert.True(t, tl.ApplyReactions(2, []Reaction{{UserID: 3, Emoji: "👍"}}))
	assert.False(t, tl.ApplyReactions(99, nil))

	n := tl.ApplySeen([]SeenUpdate{{ID: 1, SeenBy: []SeenRecord{{UserID: 3}}}, {ID: 99}})
	assert.Equal(t, 1, n)

	assert.True(t, tl.Remove(1))
	assert.False(t, tl.Remove(1))

	msgs := tl.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, "👍", msgs[0].Reactions[0].Emoji)
}

package protocol

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecode(t *testing.T) {
	tcases := []struct {
		name     string
		raw      string
		expected Signal
		err      error
	}{
		{
			name:     "user join",
			raw:      `{"event":"user:join","data":{"userId":"u1","role":"MEMBER","name":"Aisyah"}}`,
			expected: &UserJoin{UserId: "u1", Role: "MEMBER", Name: "Aisyah"},
		},
		{
			name:     "presence ping without data",
			raw:      `{"event":"presence:ping"}`,
			expected: &PresencePing{},
		},
		{
			name:     "conversation join with bare id",
			raw:      `{"event":"conversation:join","data":"C123"}`,
			expected: &ConversationJoin{ConversationId: "C123"},
		},
		{
			name:     "conversation leave with object id",
			raw:      `{"event":"conversation:leave","data":{"id":"C123"}}`,
			expected: &ConversationLeave{ConversationId: "C123"},
		},
		{
			name:     "update last seen",
			raw:      `{"event":"user:update-last-seen","data":"u1"}`,
			expected: &UpdateLastSeen{UserId: "u1"},
		},
		{
			name:     "typing stop",
			raw:      `{"event":"typing:stop","data":{"conversationId":"C1","userId":"u1"}}`,
			expected: &TypingStop{ConversationId: "C1", UserId: "u1"},
		},
		{
			name: "message read",
			raw:  `{"event":"message:read","data":{"conversationId":"C1","userId":"u2","messageIds":["m1","m2"]}}`,
			expected: &MessageRead{
				ConversationId: "C1",
				UserId:         "u2",
				MessageIds:     []string{"m1", "m2"},
			},
		},
		{
			name: "unknown event",
			raw:  `{"event":"quiz:score","data":{}}`,
			err:  ErrUnknownEvent,
		},
		{
			name: "invalid json",
			raw:  `{"event":`,
			err:  ErrMalformed,
		},
		{
			name:     "user join without name",
			raw:      `{"event":"user:join","data":{"userId":"u1"}}`,
			expected: &UserJoin{UserId: "u1"},
		},
		{
			name: "user join missing user id",
			raw:  `{"event":"user:join","data":{"name":"Aisyah"}}`,
			err:  ErrMalformed,
		},
		{
			name: "conversation join with empty id",
			raw:  `{"event":"conversation:join","data":""}`,
			err:  ErrMalformed,
		},
		{
			name: "message send without data",
			raw:  `{"event":"message:send"}`,
			err:  ErrMalformed,
		},
		{
			name: "message read with empty ids",
			raw:  `{"event":"message:read","data":{"conversationId":"C1","userId":"u2","messageIds":[]}}`,
			err:  ErrMalformed,
		},
		{
			name: "typing start with wrong field type",
			raw:  `{"event":"typing:start","data":{"conversationId":1,"userId":"u1"}}`,
			err:  ErrMalformed,
		},
	}

	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			sig, err := Decode([]byte(tc.raw))
			if tc.err != nil {
				assert.ErrorIs(t, err, tc.err, "expected error %v", tc.err)
				assert.Nil(t, sig, "expected no signal on error")
				return
			}

			assert.NoError(t, err, "expected no error decoding %s", tc.raw)
			assert.Equal(t, tc.expected, sig, "expected decoded signal to match")
		})
	}
}

func TestDecode_MessageSend(t *testing.T) {
	raw := `{"event":"message:send","data":{"conversationId":"C1","senderId":"u1","recipientId":"u2",` +
		`"content":"Assalamualaikum","messageId":"msg-1700000000-abc123de","senderName":"Aisyah",` +
		`"createdAt":"2023-11-14T22:13:20Z"}}`

	sig, err := Decode([]byte(raw))
	require.NoError(t, err, "expected no error decoding message:send")

	msg, ok := sig.(*MessageSend)
	require.True(t, ok, "expected *MessageSend, got %T", sig)
	assert.Equal(t, EventMessageSend, msg.Event())
	assert.Equal(t, "msg-1700000000-abc123de", msg.MessageId)
	assert.Equal(t, "Assalamualaikum", msg.Content)
	assert.True(t, msg.CreatedAt.Equal(time.Unix(1700000000, 0)), "expected createdAt to be parsed")
}

func TestEncodeSignal(t *testing.T) {
	tcases := []struct {
		name     string
		sig      Signal
		expected string
	}{
		{
			name:     "bare string payload",
			sig:      &ConversationJoin{ConversationId: "C123"},
			expected: `{"event":"conversation:join","data":"C123"}`,
		},
		{
			name:     "empty ping",
			sig:      &PresencePing{},
			expected: `{"event":"presence:ping","data":{}}`,
		},
		{
			name:     "object payload",
			sig:      &TypingStop{ConversationId: "C1", UserId: "u1"},
			expected: `{"event":"typing:stop","data":{"conversationId":"C1","userId":"u1"}}`,
		},
	}

	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			f, err := EncodeSignal(tc.sig)
			assert.NoError(t, err, "expected no error encoding")

			b, err := json.Marshal(f)
			assert.NoError(t, err, "expected no error marshaling frame")
			assert.JSONEq(t, tc.expected, string(b), "expected frame to match")

			decoded, err := DecodeFrame(f)
			assert.NoError(t, err, "expected encoded frame to decode")
			assert.Equal(t, tc.sig, decoded, "expected decoded signal to equal original")
		})
	}
}

func TestPreview(t *testing.T) {
	long := strings.Repeat("a", 80)
	arabic := strings.Repeat("س", 60)

	tcases := []struct {
		name     string
		content  string
		expected string
	}{
		{name: "short content unchanged", content: "Jazakallah khair", expected: "Jazakallah khair"},
		{name: "exactly fifty", content: long[:50], expected: long[:50]},
		{name: "truncated to fifty", content: long, expected: long[:50]},
		{name: "multibyte truncated by characters", content: arabic, expected: strings.Repeat("س", 50)},
	}

	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			res := Preview(tc.content)
			assert.Equal(t, tc.expected, res)
			assert.LessOrEqual(t, len([]rune(res)), PreviewLength)
		})
	}
}

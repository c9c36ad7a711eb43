package types

import (
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSendRequest_Validate(t *testing.T) {
	tests := []struct {
		name    string
		req     SendRequest
		wantErr bool
	}{
		{"valid direct", SendRequest{Content: "hi", AudienceKind: AudienceDirect, TargetID: "bob"}, false},
		{"valid channel with kind", SendRequest{Content: "x := 1", AudienceKind: AudienceChannel, TargetID: "c1", MessageKind: MessageKindCode}, false},
		{"blank content", SendRequest{Content: "   ", AudienceKind: AudienceDirect, TargetID: "bob"}, true},
		{"empty content", SendRequest{AudienceKind: AudienceDirect, TargetID: "bob"}, true},
		{"too long", SendRequest{Content: strings.Repeat("a", 4001), AudienceKind: AudienceDirect, TargetID: "bob"}, true},
		{"bad audience", SendRequest{Content: "hi", AudienceKind: "GROUP", TargetID: "bob"}, true},
		{"missing target", SendRequest{Content: "hi", AudienceKind: AudienceChannel}, true},
		{"bad message kind", SendRequest{Content: "hi", AudienceKind: AudienceDirect, TargetID: "bob", MessageKind: "VIDEO"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.req.Validate()
			if tt.wantErr {
				require.Error(t, err)
				assert.ErrorIs(t, err, ErrInvalidRequest)
				return
			}
			require.NoError(t, err)
		})
	}
}

func TestSendRequest_ValidateDefaultsKind(t *testing.T) {
	req := SendRequest{Content: "hi", AudienceKind: AudienceDirect, TargetID: "bob"}
	require.NoError(t, req.Validate())
	assert.Equal(t, MessageKindText, req.MessageKind)
}

func TestTypingRequest_Validate(t *testing.T) {
	assert.NoError(t, (&TypingRequest{AudienceKind: AudienceChannel, TargetID: "c1", IsTyping: true}).Validate())
	assert.ErrorIs(t, (&TypingRequest{AudienceKind: AudienceChannel}).Validate(), ErrInvalidRequest)
}

func TestTruncate(t *testing.T) {
	short := strings.Repeat("a", 90)
	assert.Equal(t, short, Truncate(short))

	exact := strings.Repeat("b", 100)
	assert.Equal(t, exact, Truncate(exact))

	long := strings.Repeat("c", 150)
	got := Truncate(long)
	assert.Len(t, got, 100)
	assert.True(t, strings.HasSuffix(got, "..."))
	assert.Equal(t, strings.Repeat("c", 97), strings.TrimSuffix(got, "..."))
}

func TestTruncate_CountsRunes(t *testing.T) {
	long := strings.Repeat("é", 120)
	got := Truncate(long)
	assert.Equal(t, 100, len([]rune(got)))
}

func TestErrorCode(t *testing.T) {
	tests := []struct {
		err  error
		code string
	}{
		{ErrNotAMember, CodeNotAMember},
		{fmt.Errorf("resolve: %w", ErrChannelNotFound), CodeChannelNotFound},
		{ErrRecipientNotFound, CodeRecipientNotFound},
		{ErrBlocked, CodeBlocked},
		{ErrRateLimited, CodeRateLimited},
		{fmt.Errorf("%w: content", ErrInvalidRequest), CodeInvalidRequest},
		{fmt.Errorf("%w: disk full", ErrStore), CodeStoreFailure},
		{fmt.Errorf("boom"), CodeInternal},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.code, ErrorCode(tt.err), tt.err.Error())
	}
}

func TestOutboundEnvelope_View(t *testing.T) {
	now := time.Now()
	alice := UserIdentity{ID: "alice", DisplayName: "Alice"}
	bob := UserIdentity{ID: "bob"}

	direct := &OutboundEnvelope{
		MessageID: "m1", Sender: alice, Content: "hi", MessageKind: MessageKindText,
		CreatedAt: now, Audience: DirectAudience(bob),
	}
	view := direct.View()
	assert.Equal(t, AudienceDirect, view.Type)
	assert.Equal(t, "bob", view.RecipientID)
	assert.Equal(t, "bob", view.RecipientUsername)
	assert.Equal(t, "Alice", view.SenderUsername)
	assert.Empty(t, view.ChannelID)

	channel := &OutboundEnvelope{
		MessageID: "m2", Sender: alice, Content: "hello",
		Audience: ChannelAudience(Channel{ID: "c1", Name: "general"}, []UserIdentity{alice, bob}),
	}
	view = channel.View()
	assert.Equal(t, AudienceChannel, view.Type)
	assert.Equal(t, "c1", view.ChannelID)
	assert.Equal(t, "general", view.ChannelName)
	assert.Empty(t, view.RecipientID)
}

func TestChannelAudience_SnapshotsMembers(t *testing.T) {
	members := []UserIdentity{{ID: "a"}, {ID: "b"}}
	aud := ChannelAudience(Channel{ID: "c1"}, members)
	members[0] = UserIdentity{ID: "z"}
	assert.Equal(t, "a", aud.Members[0].ID)
}

func TestIsValidUserID(t *testing.T) {
	assert.True(t, IsValidUserID("alice_01.dev-x"))
	assert.False(t, IsValidUserID(""))
	assert.False(t, IsValidUserID("has space"))
	assert.False(t, IsValidUserID(strings.Repeat("a", 65)))
}

func TestErrorFrame_HidesInternalDetail(t *testing.T) {
	frame := ErrorFrame(fmt.Errorf("%w: sqlite busy", ErrStore), "ref-1")
	payload := frame.Payload.(ErrorPayload)
	assert.Equal(t, FrameError, frame.Type)
	assert.Equal(t, CodeStoreFailure, payload.Code)
	assert.Equal(t, ErrStore.Error(), payload.Message)
	assert.Equal(t, "ref-1", payload.ClientRef)

	payload = ErrorFrame(fmt.Errorf("nil map"), "").Payload.(ErrorPayload)
	assert.Equal(t, "internal error", payload.Message)

	payload = ErrorFrame(ErrNotAMember, "").Payload.(ErrorPayload)
	assert.Equal(t, ErrNotAMember.Error(), payload.Message)
}

func TestDeviceRequests_Validate(t *testing.T) {
	assert.NoError(t, (&RegisterDeviceRequest{Token: "tok", DeviceType: "ios"}).Validate())
	assert.ErrorIs(t, (&RegisterDeviceRequest{Token: "tok", DeviceType: "blackberry"}).Validate(), ErrInvalidRequest)
	assert.ErrorIs(t, (&RegisterDeviceRequest{}).Validate(), ErrInvalidRequest)

	assert.NoError(t, (&UnregisterDeviceRequest{Token: "tok"}).Validate())
	assert.ErrorIs(t, (&UnregisterDeviceRequest{}).Validate(), ErrInvalidRequest)
}

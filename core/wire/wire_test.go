package wire

import (
	"bytes"
	"reflect"
	"testing"
)

// TestKexInitRoundTrip exercises Marshal -> UnmarshalKexInit end to
// end: this is the one call site the non-test tree itself uses
// (core/kex/machine.go feeds Marshal's output into the exchange
// hash), but nothing previously confirmed Unmarshal actually inverts
// it.
func TestKexInitRoundTrip(t *testing.T) {
	msg := &KexInitMsg{
		Cookie:                  [16]byte{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14, 15, 16},
		KexAlgos:                []string{"curve25519-sha256", "curve25519-sha256@libssh.org"},
		ServerHostKeyAlgos:      []string{"ssh-ed25519"},
		CiphersClientServer:     []string{"aes256-gcm@openssh.com"},
		CiphersServerClient:     []string{"aes256-gcm@openssh.com"},
		MACsClientServer:        []string{"hmac-sha2-256"},
		MACsServerClient:        []string{"hmac-sha2-256"},
		CompressionClientServer: []string{"none"},
		CompressionServerClient: []string{"none"},
		LanguagesClientServer:   nil,
		LanguagesServerClient:   nil,
		FirstKexFollows:         true,
		Reserved:                0,
	}

	got, err := UnmarshalKexInit(msg.Marshal())
	if err != nil {
		t.Fatalf("UnmarshalKexInit: %v", err)
	}
	if !reflect.DeepEqual(got, msg) {
		t.Fatalf("round trip mismatch:\n got  %+v\n want %+v", got, msg)
	}
}

func TestKexInitRoundTripRejectsWrongMessageType(t *testing.T) {
	if _, err := UnmarshalKexInit([]byte{MsgNewKeys}); err == nil {
		t.Fatalf("expected an error unmarshaling a non-KEXINIT message type")
	}
}

func TestKexInitRoundTripRejectsShortBuffer(t *testing.T) {
	full := (&KexInitMsg{KexAlgos: []string{"curve25519-sha256"}}).Marshal()
	if _, err := UnmarshalKexInit(full[:len(full)-2]); err == nil {
		t.Fatalf("expected ErrShortBuffer on a truncated KEXINIT")
	}
}

func TestEcdhInitRoundTrip(t *testing.T) {
	msg := &EcdhInitMsg{ClientPublic: bytes.Repeat([]byte{0x42}, 32)}

	got, err := UnmarshalEcdhInit(msg.Marshal())
	if err != nil {
		t.Fatalf("UnmarshalEcdhInit: %v", err)
	}
	if !bytes.Equal(got.ClientPublic, msg.ClientPublic) {
		t.Fatalf("ClientPublic mismatch: got %x want %x", got.ClientPublic, msg.ClientPublic)
	}
}

func TestEcdhReplyRoundTrip(t *testing.T) {
	msg := &EcdhReplyMsg{
		HostKey:      bytes.Repeat([]byte{0x01}, 44),
		ServerPublic: bytes.Repeat([]byte{0x02}, 32),
		Signature:    bytes.Repeat([]byte{0x03}, 96),
	}

	got, err := UnmarshalEcdhReply(msg.Marshal())
	if err != nil {
		t.Fatalf("UnmarshalEcdhReply: %v", err)
	}
	if !bytes.Equal(got.HostKey, msg.HostKey) || !bytes.Equal(got.ServerPublic, msg.ServerPublic) || !bytes.Equal(got.Signature, msg.Signature) {
		t.Fatalf("round trip mismatch: got %+v want %+v", got, msg)
	}
}

// TestNewKeysMarshal covers NewKeysMsg.Marshal(), which has no
// Unmarshal counterpart since the message carries no payload beyond
// its type byte: the caller only needs to confirm that byte.
func TestNewKeysMarshal(t *testing.T) {
	got := NewKeysMsg{}.Marshal()
	want := []byte{MsgNewKeys}
	if !bytes.Equal(got, want) {
		t.Fatalf("NewKeysMsg.Marshal() = %x, want %x", got, want)
	}
}

func TestUserAuthRequestPasswordRoundTrip(t *testing.T) {
	msg := &UserAuthRequestMsg{
		User:     "alice",
		Service:  "ssh-connection",
		Method:   "password",
		Password: "hunter2",
	}

	got, err := UnmarshalUserAuthRequest(msg.Marshal())
	if err != nil {
		t.Fatalf("UnmarshalUserAuthRequest: %v", err)
	}
	if !reflect.DeepEqual(got, msg) {
		t.Fatalf("round trip mismatch: got %+v want %+v", got, msg)
	}
}

// TestUserAuthRequestNoneRoundTrip covers a non-password method:
// Marshal omits the password payload entirely, and Unmarshal must
// leave Password empty rather than misreading the next field as one.
func TestUserAuthRequestNoneRoundTrip(t *testing.T) {
	msg := &UserAuthRequestMsg{User: "bob", Service: "ssh-connection", Method: "none"}

	got, err := UnmarshalUserAuthRequest(msg.Marshal())
	if err != nil {
		t.Fatalf("UnmarshalUserAuthRequest: %v", err)
	}
	if !reflect.DeepEqual(got, msg) {
		t.Fatalf("round trip mismatch: got %+v want %+v", got, msg)
	}
}

func TestUserAuthFailureRoundTrip(t *testing.T) {
	msg := &UserAuthFailureMsg{Authentications: []string{"password", "publickey"}, PartialSuccess: true}

	got, err := UnmarshalUserAuthFailure(msg.Marshal())
	if err != nil {
		t.Fatalf("UnmarshalUserAuthFailure: %v", err)
	}
	if !reflect.DeepEqual(got, msg) {
		t.Fatalf("round trip mismatch: got %+v want %+v", got, msg)
	}
}

// TestUserAuthSuccessMarshal covers UserAuthSuccessMsg.Marshal(),
// which like NewKeysMsg has no Unmarshal counterpart: the message is
// only its type byte.
func TestUserAuthSuccessMarshal(t *testing.T) {
	got := UserAuthSuccessMsg{}.Marshal()
	want := []byte{MsgUserAuthSuccess}
	if !bytes.Equal(got, want) {
		t.Fatalf("UserAuthSuccessMsg.Marshal() = %x, want %x", got, want)
	}
}

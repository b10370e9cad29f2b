package wire

// KexInitMsg is the RFC 4253 section 7.1 KEXINIT payload. Field names
// mirror the teacher's KexInitMsg (lib/ssh/handshake.go), trimmed to
// the single key-exchange family this repository supports.
type KexInitMsg struct {
	Cookie                  [16]byte
	KexAlgos                []string
	ServerHostKeyAlgos      []string
	CiphersClientServer     []string
	CiphersServerClient     []string
	MACsClientServer        []string
	MACsServerClient        []string
	CompressionClientServer []string
	CompressionServerClient []string
	LanguagesClientServer   []string
	LanguagesServerClient   []string
	FirstKexFollows         bool
	Reserved                uint32
}

func (m *KexInitMsg) Marshal() []byte {
	b := NewBuilder(MsgKexInit).Cookie(m.Cookie).
		NameList(m.KexAlgos).
		NameList(m.ServerHostKeyAlgos).
		NameList(m.CiphersClientServer).
		NameList(m.CiphersServerClient).
		NameList(m.MACsClientServer).
		NameList(m.MACsServerClient).
		NameList(m.CompressionClientServer).
		NameList(m.CompressionServerClient).
		NameList(m.LanguagesClientServer).
		NameList(m.LanguagesServerClient).
		Bool(m.FirstKexFollows).
		Uint32(0)
	return b.Bytes()
}

// UnmarshalKexInit parses a KEXINIT payload, including its leading
// message-type byte.
func UnmarshalKexInit(packet []byte) (*KexInitMsg, error) {
	r := NewReader(packet)
	if r.Byte() != MsgKexInit {
		return nil, ErrShortBuffer
	}
	m := &KexInitMsg{
		Cookie:                  r.Cookie(),
		KexAlgos:                r.NameList(),
		ServerHostKeyAlgos:      r.NameList(),
		CiphersClientServer:     r.NameList(),
		CiphersServerClient:     r.NameList(),
		MACsClientServer:        r.NameList(),
		MACsServerClient:        r.NameList(),
		CompressionClientServer: r.NameList(),
		CompressionServerClient: r.NameList(),
		LanguagesClientServer:   r.NameList(),
		LanguagesServerClient:   r.NameList(),
		FirstKexFollows:         r.Bool(),
		Reserved:                r.Uint32(),
	}
	if r.Err() != nil {
		return nil, r.Err()
	}
	return m, nil
}

// EcdhInitMsg is RFC 5656-style KEX_ECDH_INIT: the client's ephemeral
// public key (SPEC_FULL.md section 6).
type EcdhInitMsg struct {
	ClientPublic []byte
}

func (m *EcdhInitMsg) Marshal() []byte {
	return NewBuilder(MsgKexECDHInit).String(m.ClientPublic).Bytes()
}

func UnmarshalEcdhInit(packet []byte) (*EcdhInitMsg, error) {
	r := NewReader(packet)
	if r.Byte() != MsgKexECDHInit {
		return nil, ErrShortBuffer
	}
	m := &EcdhInitMsg{ClientPublic: r.String()}
	if r.Err() != nil {
		return nil, r.Err()
	}
	return m, nil
}

// EcdhReplyMsg is KEX_ECDH_REPLY: the server's host key blob, its
// ephemeral public key, and its signature over the exchange hash.
type EcdhReplyMsg struct {
	HostKey      []byte
	ServerPublic []byte
	Signature    []byte
}

func (m *EcdhReplyMsg) Marshal() []byte {
	return NewBuilder(MsgKexECDHReply).
		String(m.HostKey).
		String(m.ServerPublic).
		String(m.Signature).
		Bytes()
}

func UnmarshalEcdhReply(packet []byte) (*EcdhReplyMsg, error) {
	r := NewReader(packet)
	if r.Byte() != MsgKexECDHReply {
		return nil, ErrShortBuffer
	}
	m := &EcdhReplyMsg{
		HostKey:      r.String(),
		ServerPublic: r.String(),
		Signature:    r.String(),
	}
	if r.Err() != nil {
		return nil, r.Err()
	}
	return m, nil
}

// NewKeysMsg carries no payload beyond its message type byte.
type NewKeysMsg struct{}

func (NewKeysMsg) Marshal() []byte { return []byte{MsgNewKeys} }

// UserAuthRequestMsg is RFC 4252 section 5's USERAUTH_REQUEST, trimmed
// to the password method this repository exercises; PublicKey and
// HostBased carry only enough payload to round-trip (SPEC_FULL.md
// section 9, "Unsupported methods").
type UserAuthRequestMsg struct {
	User     string
	Service  string
	Method   string
	Password string
}

func (m *UserAuthRequestMsg) Marshal() []byte {
	b := NewBuilder(MsgUserAuthRequest).
		String([]byte(m.User)).
		String([]byte(m.Service)).
		String([]byte(m.Method))
	if m.Method == "password" {
		b.Bool(false).String([]byte(m.Password))
	}
	return b.Bytes()
}

func UnmarshalUserAuthRequest(packet []byte) (*UserAuthRequestMsg, error) {
	r := NewReader(packet)
	if r.Byte() != MsgUserAuthRequest {
		return nil, ErrShortBuffer
	}
	m := &UserAuthRequestMsg{
		User:    string(r.String()),
		Service: string(r.String()),
		Method:  string(r.String()),
	}
	if m.Method == "password" {
		r.Bool() // change-password flag, unused
		m.Password = string(r.String())
	}
	if r.Err() != nil {
		return nil, r.Err()
	}
	return m, nil
}

// UserAuthFailureMsg is RFC 4252 section 5.1's USERAUTH_FAILURE.
type UserAuthFailureMsg struct {
	Authentications []string
	PartialSuccess  bool
}

func (m *UserAuthFailureMsg) Marshal() []byte {
	return NewBuilder(MsgUserAuthFailure).
		NameList(m.Authentications).
		Bool(m.PartialSuccess).
		Bytes()
}

func UnmarshalUserAuthFailure(packet []byte) (*UserAuthFailureMsg, error) {
	r := NewReader(packet)
	if r.Byte() != MsgUserAuthFailure {
		return nil, ErrShortBuffer
	}
	m := &UserAuthFailureMsg{
		Authentications: r.NameList(),
		PartialSuccess:  r.Bool(),
	}
	if r.Err() != nil {
		return nil, r.Err()
	}
	return m, nil
}

// UserAuthSuccessMsg carries no payload beyond its message type byte.
type UserAuthSuccessMsg struct{}

func (UserAuthSuccessMsg) Marshal() []byte { return []byte{MsgUserAuthSuccess} }

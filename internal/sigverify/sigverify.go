package sigverify

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
)

var (
	ErrInvalidSignature = errors.New("sigverify: invalid signature")
	ErrInvalidMessage   = errors.New("sigverify: invalid message")
)

// Envelope fields carried next to the signed payload but not covered by the signature.
const (
	FieldSignature = "signature"
	FieldAddress   = "address"
)

// Verify reports whether sig is a personal_sign (EIP-191) signature of msg by addr.
// Malformed signatures are errors; a well-formed signature by another key is (false, nil).
func Verify(addr common.Address, msg []byte, sig []byte) (bool, error) {
	signer, err := RecoverPersonal(msg, sig)
	if err != nil {
		return false, err
	}
	return signer == addr, nil
}

// RecoverPersonal recovers the address that personal-signed msg.
func RecoverPersonal(msg []byte, sig []byte) (common.Address, error) {
	if len(sig) != crypto.SignatureLength {
		return common.Address{}, fmt.Errorf("%w: length %d", ErrInvalidSignature, len(sig))
	}

	// go-ethereum expects v in {0,1}.
	s := make([]byte, crypto.SignatureLength)
	copy(s, sig)
	switch s[crypto.RecoveryIDOffset] {
	case 0, 1:
	case 27, 28:
		s[crypto.RecoveryIDOffset] -= 27
	default:
		return common.Address{}, fmt.Errorf("%w: bad v %d", ErrInvalidSignature, s[crypto.RecoveryIDOffset])
	}

	pub, err := crypto.SigToPub(accounts.TextHash(msg), s)
	if err != nil {
		return common.Address{}, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	return crypto.PubkeyToAddress(*pub), nil
}

// ParseSignatureHex decodes a 0x-prefixed 65-byte signature.
func ParseSignatureHex(s string) ([]byte, error) {
	b, err := hexutil.Decode(strings.TrimSpace(s))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	if len(b) != crypto.SignatureLength {
		return nil, fmt.Errorf("%w: length %d", ErrInvalidSignature, len(b))
	}
	return b, nil
}

// SubmissionMessage rebuilds the payload a wallet signed from a raw request
// body: the top-level object without the signature and address fields, keys
// in their original order and values compacted.
func SubmissionMessage(body []byte) ([]byte, error) {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()

	tok, err := dec.Token()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidMessage, err)
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return nil, fmt.Errorf("%w: expected object", ErrInvalidMessage)
	}

	var out bytes.Buffer
	out.WriteByte('{')
	first := true
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidMessage, err)
		}
		key, ok := keyTok.(string)
		if !ok {
			return nil, fmt.Errorf("%w: non-string key", ErrInvalidMessage)
		}
		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			return nil, fmt.Errorf("%w: value of %q: %v", ErrInvalidMessage, key, err)
		}
		if key == FieldSignature || key == FieldAddress {
			continue
		}

		if !first {
			out.WriteByte(',')
		}
		first = false
		if err := writeKey(&out, key); err != nil {
			return nil, err
		}
		out.WriteByte(':')
		if err := json.Compact(&out, raw); err != nil {
			return nil, fmt.Errorf("%w: value of %q: %v", ErrInvalidMessage, key, err)
		}
	}
	if _, err := dec.Token(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidMessage, err)
	}
	out.WriteByte('}')
	return out.Bytes(), nil
}

func writeKey(buf *bytes.Buffer, key string) error {
	var kb bytes.Buffer
	enc := json.NewEncoder(&kb)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(key); err != nil {
		return fmt.Errorf("%w: key %q: %v", ErrInvalidMessage, key, err)
	}
	buf.Write(bytes.TrimRight(kb.Bytes(), "\n"))
	return nil
}

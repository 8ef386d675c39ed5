// Package envelope implements the encrypted transport record that
// crosses the trust boundary between this replica and the sync server.
//
// The wire shape is a compatibility contract: field order is fixed, the
// inner payload is a JSON document embedded as a string, and `modified`
// is only ever read, never written. Marshaling is hand-rolled because
// struct tags cannot express any of that.
package envelope

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/calvinalkan/syncstore/internal/ident"
	"github.com/calvinalkan/syncstore/internal/keys"
)

// EncryptedPayload is the inner document carried by an envelope. All
// three fields are base64 strings.
type EncryptedPayload struct {
	IV         string `json:"IV"`
	Hmac       string `json:"hmac"`
	Ciphertext string `json:"ciphertext"`
}

// Envelope is one over-the-wire record. Modified is a server timestamp
// and flows inbound only; SortIndex and TTL are optional.
type Envelope struct {
	ID         string
	Collection string
	Modified   ident.ServerTimestamp
	SortIndex  *int
	TTL        *uint32
	Payload    EncryptedPayload
}

// Encrypt builds an envelope for cleartext: JSON-encode, encrypt under a
// fresh IV, base64 both, then HMAC the base64 ciphertext string bytes.
func Encrypt(key *keys.Bundle, id, collection string, cleartext any) (*Envelope, error) {
	plain, err := json.Marshal(cleartext)
	if err != nil {
		return nil, fmt.Errorf("encrypt envelope: encode payload: %w", err)
	}

	ciphertext, iv, err := key.Encrypt(plain)
	if err != nil {
		return nil, fmt.Errorf("encrypt envelope: %w", err)
	}

	encBase64 := base64.StdEncoding.EncodeToString(ciphertext)

	return &Envelope{
		ID:         id,
		Collection: collection,
		Payload: EncryptedPayload{
			IV:         base64.StdEncoding.EncodeToString(iv),
			Hmac:       key.HmacString([]byte(encBase64)),
			Ciphertext: encBase64,
		},
	}, nil
}

// Decrypt verifies the HMAC tag, then decrypts and JSON-decodes the
// payload into out. Verification failure returns [keys.ErrHmacMismatch]
// without touching the ciphertext.
func (e *Envelope) Decrypt(key *keys.Bundle, out any) error {
	if !key.VerifyHmacString(e.Payload.Hmac, []byte(e.Payload.Ciphertext)) {
		return fmt.Errorf("decrypt envelope %s: %w", e.ID, keys.ErrHmacMismatch)
	}

	iv, err := base64.StdEncoding.DecodeString(e.Payload.IV)
	if err != nil {
		return fmt.Errorf("decrypt envelope %s: decode iv: %w: %w", e.ID, keys.ErrCryptoFailure, err)
	}

	ciphertext, err := base64.StdEncoding.DecodeString(e.Payload.Ciphertext)
	if err != nil {
		return fmt.Errorf("decrypt envelope %s: decode ciphertext: %w: %w", e.ID, keys.ErrCryptoFailure, err)
	}

	plain, err := key.Decrypt(ciphertext, iv)
	if err != nil {
		return fmt.Errorf("decrypt envelope %s: %w", e.ID, err)
	}

	err = json.Unmarshal(plain, out)
	if err != nil {
		return fmt.Errorf("decrypt envelope %s: decode payload: %w", e.ID, err)
	}

	return nil
}

// MarshalJSON writes the client-side wire form. Modified is always
// stripped; sortindex and ttl appear only when present; the payload is a
// JSON string. Field order matches the server's expectations.
func (e *Envelope) MarshalJSON() ([]byte, error) {
	payload, err := json.Marshal(e.Payload)
	if err != nil {
		return nil, fmt.Errorf("marshal envelope: payload: %w", err)
	}

	payloadStr, err := json.Marshal(string(payload))
	if err != nil {
		return nil, fmt.Errorf("marshal envelope: payload string: %w", err)
	}

	id, err := json.Marshal(e.ID)
	if err != nil {
		return nil, fmt.Errorf("marshal envelope: id: %w", err)
	}

	collection, err := json.Marshal(e.Collection)
	if err != nil {
		return nil, fmt.Errorf("marshal envelope: collection: %w", err)
	}

	var b strings.Builder

	b.WriteString(`{"id":`)
	b.Write(id)
	b.WriteString(`,"collection":`)
	b.Write(collection)

	if e.SortIndex != nil {
		b.WriteString(`,"sortindex":`)
		b.WriteString(strconv.Itoa(*e.SortIndex))
	}

	if e.TTL != nil {
		b.WriteString(`,"ttl":`)
		b.WriteString(strconv.FormatUint(uint64(*e.TTL), 10))
	}

	b.WriteString(`,"payload":`)
	b.Write(payloadStr)
	b.WriteString("}")

	return []byte(b.String()), nil
}

// envelopeWire is the inbound shape. Unknown outer fields are ignored.
type envelopeWire struct {
	ID         string  `json:"id"`
	Collection string  `json:"collection"`
	Modified   float64 `json:"modified"`
	SortIndex  *int    `json:"sortindex"`
	TTL        *uint32 `json:"ttl"`
	Payload    string  `json:"payload"`
}

// UnmarshalJSON reads a server record, parsing the embedded payload
// string into its structured form.
func (e *Envelope) UnmarshalJSON(data []byte) error {
	var wire envelopeWire

	err := json.Unmarshal(data, &wire)
	if err != nil {
		return fmt.Errorf("unmarshal envelope: %w", err)
	}

	var payload EncryptedPayload

	err = json.Unmarshal([]byte(wire.Payload), &payload)
	if err != nil {
		return fmt.Errorf("unmarshal envelope %s: payload: %w", wire.ID, err)
	}

	e.ID = wire.ID
	e.Collection = wire.Collection
	e.Modified = ident.ServerTimestamp(wire.Modified)
	e.SortIndex = wire.SortIndex
	e.TTL = wire.TTL
	e.Payload = payload

	return nil
}

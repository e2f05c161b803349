// Package taskref encodes and decodes task references. A reference is either
// the id of a durable execution record or a deterministic identifier for a
// projected occurrence that has not been materialized yet.
package taskref

import (
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/crypto/blake2b"

	"github.com/example/facility-scheduler/internal/recurrence"
)

const (
	virtualVersion = "v1"
	virtualParts   = 5
	tagBytes       = 8
)

// ErrInvalid indicates the reference is neither a durable id nor a well-formed
// virtual identifier.
var ErrInvalid = errors.New("taskref: invalid task reference")

// Kind distinguishes the two reference forms.
type Kind int

const (
	KindDurable Kind = iota + 1
	KindVirtual
)

// Slot identifies one occurrence of a work item at a site on a civil date.
type Slot struct {
	WorkItemID string
	SiteID     string
	Date       recurrence.Date
}

// Ref is a decoded task reference.
type Ref struct {
	Kind Kind
	// ExecutionID is set for durable references.
	ExecutionID string
	// Slot is set for virtual references.
	Slot Slot
}

// Durable builds a durable reference.
func Durable(id string) Ref {
	return Ref{Kind: KindDurable, ExecutionID: id}
}

// Virtual builds a virtual reference.
func Virtual(slot Slot) Ref {
	return Ref{Kind: KindVirtual, Slot: slot}
}

// IsVirtual reports whether the reference points at an unmaterialized slot.
func (r Ref) IsVirtual() bool {
	return r.Kind == KindVirtual
}

// Codec converts slots to opaque identifiers and back. A non-empty key makes
// the checksum a keyed MAC so clients cannot forge identifiers.
type Codec struct {
	key []byte
}

// NewCodec constructs a Codec. Keys longer than 64 bytes are rejected.
func NewCodec(key []byte) (*Codec, error) {
	if len(key) > blake2b.Size {
		return nil, fmt.Errorf("taskref: key must be at most %d bytes", blake2b.Size)
	}
	return &Codec{key: append([]byte(nil), key...)}, nil
}

// Encode returns the virtual identifier for slot. The result is a pure
// function of the slot and the codec key.
func (c *Codec) Encode(slot Slot) string {
	wi := base64.RawURLEncoding.EncodeToString([]byte(slot.WorkItemID))
	site := base64.RawURLEncoding.EncodeToString([]byte(slot.SiteID))
	date := slot.Date.String()
	return strings.Join([]string{virtualVersion, wi, site, date, c.tag(wi, site, date)}, ":")
}

// Format renders ref in its external form.
func (c *Codec) Format(ref Ref) string {
	if ref.IsVirtual() {
		return c.Encode(ref.Slot)
	}
	return ref.ExecutionID
}

// Parse decodes an external reference.
func (c *Codec) Parse(raw string) (Ref, error) {
	raw = strings.TrimSpace(raw)
	if strings.HasPrefix(raw, virtualVersion+":") {
		slot, err := c.decodeVirtual(raw)
		if err != nil {
			return Ref{}, err
		}
		return Virtual(slot), nil
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return Ref{}, fmt.Errorf("%w: %q", ErrInvalid, raw)
	}
	return Durable(id.String()), nil
}

func (c *Codec) decodeVirtual(raw string) (Slot, error) {
	parts := strings.Split(raw, ":")
	if len(parts) != virtualParts {
		return Slot{}, fmt.Errorf("%w: expected %d segments", ErrInvalid, virtualParts)
	}
	wiEnc, siteEnc, dateStr, tag := parts[1], parts[2], parts[3], parts[4]

	want := c.tag(wiEnc, siteEnc, dateStr)
	if subtle.ConstantTimeCompare([]byte(want), []byte(tag)) != 1 {
		return Slot{}, fmt.Errorf("%w: checksum mismatch", ErrInvalid)
	}
	wi, err := base64.RawURLEncoding.DecodeString(wiEnc)
	if err != nil || len(wi) == 0 {
		return Slot{}, fmt.Errorf("%w: work item segment", ErrInvalid)
	}
	site, err := base64.RawURLEncoding.DecodeString(siteEnc)
	if err != nil || len(site) == 0 {
		return Slot{}, fmt.Errorf("%w: site segment", ErrInvalid)
	}
	date, err := recurrence.ParseDate(dateStr)
	if err != nil {
		return Slot{}, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	return Slot{WorkItemID: string(wi), SiteID: string(site), Date: date}, nil
}

func (c *Codec) tag(fields ...string) string {
	// New only fails for oversized keys, which NewCodec rejects.
	h, _ := blake2b.New(tagBytes, c.key)
	for _, f := range fields {
		h.Write([]byte(f))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}

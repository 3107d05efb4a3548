// Package messages defines the typed wire messages carried over broadcast
// channels: camera operating mode changes, shutter events, and frame
// references. Each message self-identifies its kind so consumers can decode
// a mixed stream.
package messages

import (
	"encoding/json"
	"fmt"
)

// Message kinds.
const (
	KindMode      = "mode"
	KindShoot     = "shoot"
	KindImagePath = "image_path"
)

// Message is implemented by every wire message.
type Message interface {
	Kind() string
}

// ModeType is a camera operating mode.
type ModeType string

const (
	ModeMotion ModeType = "motion"
	ModeSmart  ModeType = "smart"
)

// Valid reports whether the mode is a known operating mode.
func (m ModeType) Valid() bool {
	return m == ModeMotion || m == ModeSmart
}

// ShotType describes a shutter action.
type ShotType string

const (
	ShotSingle ShotType = "single"
	ShotBurst  ShotType = "burst"
)

// Valid reports whether the shot type is known.
func (s ShotType) Valid() bool {
	return s == ShotSingle || s == ShotBurst
}

// Mode announces a change of the camera operating mode.
type Mode struct {
	Type ModeType `json:"type"`
}

// Kind returns the wire discriminator for Mode messages.
func (Mode) Kind() string { return KindMode }

// Shoot announces a shutter action. Each occurrence is an independent
// event, not retained state.
type Shoot struct {
	Type ShotType `json:"type"`
}

// Kind returns the wire discriminator for Shoot messages.
func (Shoot) Kind() string { return KindShoot }

// ImagePath carries a frame reference. The path is resolved by the
// consumer against its configured base address; it is never raw pixels.
type ImagePath struct {
	Seq  uint64 `json:"seq"`
	Path string `json:"path"`
}

// Kind returns the wire discriminator for ImagePath messages.
func (ImagePath) Kind() string { return KindImagePath }

// envelope is the superset of all payload fields plus the discriminator.
type envelope struct {
	Kind string `json:"kind"`
	Type string `json:"type,omitempty"`
	Seq  uint64 `json:"seq,omitempty"`
	Path string `json:"path,omitempty"`
}

// Encode serializes a message into its self-identifying wire form.
func Encode(msg Message) ([]byte, error) {
	switch m := msg.(type) {
	case Mode:
		return json.Marshal(struct {
			Kind string `json:"kind"`
			Mode
		}{KindMode, m})
	case Shoot:
		return json.Marshal(struct {
			Kind string `json:"kind"`
			Shoot
		}{KindShoot, m})
	case ImagePath:
		return json.Marshal(struct {
			Kind string `json:"kind"`
			ImagePath
		}{KindImagePath, m})
	default:
		return nil, fmt.Errorf("messages: unknown message type %T", msg)
	}
}

// Decode parses a wire message back into its typed form. Unknown kinds
// and unknown enum values are rejected.
func Decode(data []byte) (Message, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("messages: decode: %w", err)
	}

	switch env.Kind {
	case KindMode:
		mode := ModeType(env.Type)
		if !mode.Valid() {
			return nil, fmt.Errorf("messages: invalid mode %q", env.Type)
		}
		return Mode{Type: mode}, nil
	case KindShoot:
		shot := ShotType(env.Type)
		if !shot.Valid() {
			return nil, fmt.Errorf("messages: invalid shot type %q", env.Type)
		}
		return Shoot{Type: shot}, nil
	case KindImagePath:
		return ImagePath{Seq: env.Seq, Path: env.Path}, nil
	default:
		return nil, fmt.Errorf("messages: unknown kind %q", env.Kind)
	}
}

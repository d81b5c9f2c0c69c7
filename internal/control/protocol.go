package control

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/luminet/stripd/internal/config"
)

// ABIVersion is the program payload contract advertised in hello.
const ABIVersion = 1

// Wire protocol: JSON-framed messages over a persistent websocket, a
// "type" discriminant selecting the kind. Unknown fields are ignored for
// forward compatibility; unknown types are nacked without disconnecting.
const (
	typeLoadProgram = "load_program"
	typeSetConfig   = "set_config"
	typePing        = "ping"
	typePause       = "pause"
	typeResume      = "resume"

	typeHello = "hello"
	typeAck   = "ack"
	typePong  = "pong"
)

var (
	// ErrMalformed is a frame that does not parse. Reported; session kept.
	ErrMalformed = errors.New("control: malformed message")
	// ErrUnsupported is an unknown message type. Reported; session kept.
	ErrUnsupported = errors.New("control: unsupported message type")
)

// envelope is the inbound message union. config.Update is embedded so
// set_config fields sit at the top level of the frame.
type envelope struct {
	Type string `json:"type"`
	ID   uint64 `json:"id"`

	// load_program: module bytes, base64 in JSON.
	WASM []byte `json:"wasm,omitempty"`

	config.Update
}

type ack struct {
	Type       string `json:"type"`
	ID         uint64 `json:"id"`
	OK         bool   `json:"ok"`
	Error      string `json:"error,omitempty"`
	Generation uint64 `json:"generation,omitempty"`
}

type hello struct {
	Type       string `json:"type"`
	Session    string `json:"session"`
	Generation uint64 `json:"generation"`
	PixelCount int    `json:"pixel_count"`
	ABIVersion int    `json:"abi_version"`
}

func decode(data []byte) (envelope, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return env, fmt.Errorf("%v: %w", err, ErrMalformed)
	}
	if env.Type == "" {
		return env, fmt.Errorf("missing type field: %w", ErrMalformed)
	}
	return env, nil
}

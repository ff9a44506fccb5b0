package capture

// Chunk is one transport completion: a slice of frame payload plus the
// boundary flags the transport derived from its wire format. The engine
// consumes chunks asynchronously, so delivery hands the payload off for
// good: the transport must never rewrite the backing bytes afterwards,
// it reads or paints every frame into a fresh buffer instead.
type Chunk struct {
	Data  []byte
	Start bool
	End   bool
	Err   error // transfer status, nil when the payload is good
}

// Capability describes the device behind a transport. Formats lists
// supported fourcc codes with the preferred one first.
type Capability struct {
	Driver   string   `json:"driver"`
	Card     string   `json:"card"`
	Bus      string   `json:"bus,omitempty"`
	Version  string   `json:"version,omitempty"`
	Features []string `json:"features,omitempty"`
	Formats  []uint32 `json:"-"`
}

// Transport moves bytes from a device into the engine.
//
// Stream starts delivery and returns once the link is up. The deliver
// callback runs on the transport's own producer context and must never
// block, the engine guarantees it won't. Stop tears delivery down and
// must not return while a deliver call can still happen. Reset restores
// a failed link so Stream can be called again.
type Transport interface {
	Capability() Capability
	Stream(f Format, deliver func(Chunk)) error
	Stop() error
	Reset() error
}

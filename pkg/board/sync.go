package board

import (
	"errors"
	"fmt"
	"sync"

	"github.com/automerge/automerge-go"
)

var ErrReadOnly = errors.New("peer may not send changes")

// Peer is our side of an automerge sync conversation about one Doc. The Doc is shared with other
// users of mu.
//
// A read-only peer talks from a private fork of the Doc, brought up to date before every Generate.
// Whatever the other side sends lands in the fork only, so the shared Doc never sees it.
type Peer struct {
	mu     sync.Locker
	shared *automerge.Doc

	// local guards state and fork.
	local    sync.Mutex
	state    *automerge.SyncState
	fork     *automerge.Doc
	readOnly bool
}

// NewPeer starts a sync conversation. A read-only peer only ships our changes and rejects any
// message that carries changes from the other side.
func NewPeer(mu sync.Locker, d *Doc, readOnly bool) (*Peer, error) {
	mu.Lock()
	defer mu.Unlock()
	p := &Peer{mu: mu, shared: d.doc, readOnly: readOnly}
	if !readOnly {
		p.state = automerge.NewSyncState(d.doc)
		return p, nil
	}
	fork, err := d.doc.Fork()
	if err != nil {
		return nil, fmt.Errorf("failed to fork doc: %w", err)
	}
	p.fork = fork
	p.state = automerge.NewSyncState(fork)
	return p, nil
}

// Receive applies one message from the other side.
func (p *Peer) Receive(raw []byte) error {
	if !p.readOnly {
		p.mu.Lock()
		defer p.mu.Unlock()
		if _, err := p.state.ReceiveMessage(raw); err != nil {
			return fmt.Errorf("failed to receive message: %w", err)
		}
		return nil
	}

	p.local.Lock()
	defer p.local.Unlock()
	msg, err := p.state.ReceiveMessage(raw)
	if err != nil {
		return fmt.Errorf("failed to receive message: %w", err)
	}
	if msg != nil {
		if n := len(msg.Changes()); n > 0 {
			return fmt.Errorf("%w: got %d", ErrReadOnly, n)
		}
	}
	return nil
}

// Generate returns the messages the other side needs next, possibly none.
func (p *Peer) Generate() ([][]byte, error) {
	if !p.readOnly {
		p.mu.Lock()
		defer p.mu.Unlock()
		return p.generate(), nil
	}

	p.local.Lock()
	defer p.local.Unlock()
	p.mu.Lock()
	_, err := p.fork.Merge(p.shared)
	p.mu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("failed to catch up fork: %w", err)
	}
	return p.generate(), nil
}

func (p *Peer) generate() [][]byte {
	var out [][]byte
	for {
		msg, valid := p.state.GenerateMessage()
		if msg == nil {
			return out
		}
		out = append(out, msg.Bytes())
		if !valid {
			return out
		}
	}
}

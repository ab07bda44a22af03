package sync

import (
	"context"
	"encoding/base64"
	"encoding/json"
	gosync "sync"

	"go.uber.org/zap"

	"github.com/teranos/hypermark/crdt"
	"github.com/teranos/hypermark/errors"
	"github.com/teranos/hypermark/logger"
	"github.com/teranos/hypermark/nostr"
)

// TypeDocument is the t tag value of CRDT document state events.
const TypeDocument = "document"

// documentPayload is the plaintext of a document state event.
type documentPayload struct {
	StateVector string `json:"sv"`
	State       string `json:"state"`
}

// DocumentSync replicates one CRDT document through the coordinator as an
// encrypted replaceable event carrying the full state and its vector.
type DocumentSync struct {
	coord  *Coordinator
	name   string
	doc    crdt.Document
	logger *zap.SugaredLogger

	mu    gosync.Mutex
	subID string
}

// NewDocumentSync binds doc to the slot doc:<name>.
func NewDocumentSync(coord *Coordinator, name string, doc crdt.Document, log *zap.SugaredLogger) *DocumentSync {
	return &DocumentSync{
		coord:  coord,
		name:   name,
		doc:    doc,
		logger: logger.OrNop(log).With(logger.FieldDocument, name),
	}
}

// Slot returns the d tag used for this document.
func (d *DocumentSync) Slot() string {
	return "doc:" + d.name
}

// Publish encrypts the full document state and publishes it. A (nil, nil)
// return means the event was queued.
func (d *DocumentSync) Publish(ctx context.Context) (*nostr.Event, error) {
	secret, err := d.coord.currentSecret()
	if err != nil {
		return nil, err
	}

	state, err := crdt.FullState(d.doc)
	if err != nil {
		return nil, err
	}
	payload, err := json.Marshal(documentPayload{
		StateVector: base64.StdEncoding.EncodeToString(crdt.StateVectorOf(d.doc)),
		State:       base64.StdEncoding.EncodeToString(state),
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to encode document payload")
	}
	content, err := Encrypt(secret, payload)
	if err != nil {
		return nil, err
	}

	return d.coord.Publish(ctx, nostr.Draft{
		Kind:    nostr.KindBookmarkState,
		Content: content,
		Tags: nostr.Tags{
			{nostr.TagD, d.Slot()},
			{nostr.TagApp, d.coord.opts.App},
			{nostr.TagVersion, ProtocolVersion},
			{nostr.TagType, TypeDocument},
		},
	})
}

// Start subscribes to remote states of the document.
func (d *DocumentSync) Start() error {
	pubkey := d.coord.PublicKey()
	if pubkey == "" {
		return ErrNotInitialized
	}
	id, err := d.coord.Subscribe([]nostr.Filter{{
		Authors: []string{pubkey},
		Kinds:   []int{nostr.KindBookmarkState},
		Tags: map[string][]string{
			nostr.TagD:   {d.Slot()},
			nostr.TagApp: {d.coord.opts.App},
		},
	}}, d.handle)
	if err != nil {
		return err
	}

	d.mu.Lock()
	d.subID = id
	d.mu.Unlock()
	return nil
}

// Stop removes the subscription.
func (d *DocumentSync) Stop() {
	d.mu.Lock()
	id := d.subID
	d.subID = ""
	d.mu.Unlock()
	if id != "" {
		d.coord.Unsubscribe(id)
	}
}

func (d *DocumentSync) handle(ev nostr.Classified) {
	state, ok := ev.(nostr.StateEvent)
	if !ok || state.Type != TypeDocument || state.D != d.Slot() {
		return
	}
	if err := d.Receive(context.Background(), state.Content); err != nil {
		d.logger.Warnw("Failed to merge remote document state",
			logger.FieldEventID, logger.ShortID(state.ID),
			logger.FieldError, err,
		)
	}
}

// Receive merges an encrypted remote state. Remote operations are applied
// only when the remote vector has something local lacks; when local holds
// operations the remote lacks, the merged state is republished so the peer
// converges.
func (d *DocumentSync) Receive(ctx context.Context, content string) error {
	secret, err := d.coord.currentSecret()
	if err != nil {
		return err
	}
	plaintext, err := Decrypt(secret, content)
	if err != nil {
		return err
	}

	var payload documentPayload
	if err := json.Unmarshal(plaintext, &payload); err != nil {
		return errors.Wrap(err, "document payload is not valid JSON")
	}
	rawSV, err := base64.StdEncoding.DecodeString(payload.StateVector)
	if err != nil {
		return errors.Wrap(err, "document state vector is not base64")
	}
	remote, err := crdt.ParseStateVector(rawSV)
	if err != nil {
		return err
	}
	local, err := crdt.ParseStateVector(crdt.StateVectorOf(d.doc))
	if err != nil {
		return err
	}

	relation := crdt.Compare(local, remote)
	d.logger.Debugw("Received document state", "relation", relation.String())

	if crdt.HasRemoteChanges(local, remote) {
		update, err := base64.StdEncoding.DecodeString(payload.State)
		if err != nil {
			return errors.Wrap(err, "document state is not base64")
		}
		if err := crdt.Apply(d.doc, update, crdt.OriginRemote); err != nil {
			return err
		}
	}

	if relation == crdt.LocalAhead || relation == crdt.Divergent {
		if _, err := d.Publish(ctx); err != nil {
			return errors.Wrap(err, "failed to republish merged document")
		}
	}
	return nil
}

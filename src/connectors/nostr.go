// NOSTR RELAY COMMAND CHANNEL (NIP-01 frames, NIP-04 direct messages)
package connectors

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/nbd-wtf/go-nostr"
	"github.com/nbd-wtf/go-nostr/nip04"
	"github.com/nbd-wtf/go-nostr/nip19"
	"github.com/pkg/errors"
	logger "github.com/sirupsen/logrus"

	"rektbot/src/externalmodel"
	"rektbot/src/model"
)

const (
	nostrSubscriptionID = "rektbot"
	nostrWriteTimeout   = 10 * time.Second
)

var ErrNoRelay = errors.New("no relay accepted the event")

type relayConn struct {
	url     string
	ws      *websocket.Conn
	writeMu sync.Mutex
}

func (r *relayConn) writeJSON(v interface{}) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return err
	}
	r.writeMu.Lock()
	defer r.writeMu.Unlock()
	_ = r.ws.SetWriteDeadline(time.Now().Add(nostrWriteTimeout))
	return r.ws.WriteMessage(websocket.TextMessage, raw)
}

// NostrChannel listens on every relay for notes and direct messages addressed to the bot and
// publishes replies to all connected relays.
type NostrChannel struct {
	secretKey      string
	publicKey      string
	relays         []string
	lookback       time.Duration
	reconnectDelay time.Duration
	dialer         *websocket.Dialer
	inbound        chan externalmodel.InboundMessage
	log            *logger.Entry
	now            func() time.Time

	mu    sync.RWMutex
	conns map[string]*relayConn
}

func NewNostrChannel(cfg Config, log *logger.Entry) (*NostrChannel, error) {
	sk, err := decodeSecretKey(cfg.NostrSecretKey)
	if err != nil {
		return nil, err
	}
	pk, err := nostr.GetPublicKey(sk)
	if err != nil {
		return nil, errors.Wrap(err, "derive nostr public key")
	}
	relays := cfg.Relays()
	if len(relays) == 0 {
		return nil, errors.New("NOSTR_RELAYS is empty")
	}
	if log == nil {
		log = logger.NewEntry(logger.StandardLogger())
	}
	buffer := cfg.NostrInboundBuffer
	if buffer <= 0 {
		buffer = 64
	}
	reconnect := cfg.NostrReconnectDelay
	if reconnect <= 0 {
		reconnect = 5 * time.Second
	}

	return &NostrChannel{
		secretKey:      sk,
		publicKey:      pk,
		relays:         relays,
		lookback:       cfg.NostrLookback,
		reconnectDelay: reconnect,
		dialer:         &websocket.Dialer{HandshakeTimeout: 30 * time.Second},
		inbound:        make(chan externalmodel.InboundMessage, buffer),
		log:            log.WithField("component", "nostr"),
		now:            time.Now,
		conns:          make(map[string]*relayConn),
	}, nil
}

// decodeSecretKey accepts an nsec or a hex key.
func decodeSecretKey(key string) (string, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return "", errors.New("NOSTR_NSEC is empty")
	}
	if !strings.HasPrefix(key, "nsec") {
		return key, nil
	}
	prefix, value, err := nip19.Decode(key)
	if err != nil {
		return "", errors.Wrap(err, "decode nsec")
	}
	sk, ok := value.(string)
	if prefix != "nsec" || !ok {
		return "", errors.Errorf("expected an nsec, got %s", prefix)
	}
	return sk, nil
}

// PublicKey is the bot's hex public key.
func (c *NostrChannel) PublicKey() string {
	return c.publicKey
}

// Npub is the bot's public key in bech32.
func (c *NostrChannel) Npub() string {
	npub, err := nip19.EncodePublicKey(c.publicKey)
	if err != nil {
		return c.publicKey
	}
	return npub
}

func (c *NostrChannel) Inbound() <-chan externalmodel.InboundMessage {
	return c.inbound
}

// Connected returns the number of relays currently subscribed.
func (c *NostrChannel) Connected() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.conns)
}

// Start keeps one subscription per relay alive until ctx is cancelled.
func (c *NostrChannel) Start(ctx context.Context) {
	for _, url := range c.relays {
		go c.runRelay(ctx, url)
	}
}

func (c *NostrChannel) runRelay(ctx context.Context, url string) {
	log := c.log.WithField("relay", url)
	for {
		conn, err := c.connect(ctx, url)
		if err != nil {
			log.WithError(err).Warn("relay connection failed")
		} else {
			log.Info("relay subscribed")
			err = c.readLoop(ctx, conn)
			c.drop(url)
			if ctx.Err() == nil {
				log.WithError(err).Warn("relay connection lost")
			}
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(c.reconnectDelay):
		}
	}
}

func (c *NostrChannel) connect(ctx context.Context, url string) (*relayConn, error) {
	ws, _, err := c.dialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, errors.Wrapf(err, "dial %s", url)
	}
	conn := &relayConn{url: url, ws: ws}

	filter := nostr.Filter{
		Kinds: []int{nostr.KindTextNote, nostr.KindEncryptedDirectMessage},
		Tags:  nostr.TagMap{"p": []string{c.publicKey}},
	}
	if c.lookback > 0 {
		since := nostr.Timestamp(c.now().Add(-c.lookback).Unix())
		filter.Since = &since
	}
	req := &nostr.ReqEnvelope{SubscriptionID: nostrSubscriptionID, Filters: nostr.Filters{filter}}
	if err := conn.writeJSON(req); err != nil {
		ws.Close()
		return nil, errors.Wrapf(err, "subscribe on %s", url)
	}

	c.mu.Lock()
	c.conns[url] = conn
	c.mu.Unlock()
	return conn, nil
}

func (c *NostrChannel) drop(url string) {
	c.mu.Lock()
	delete(c.conns, url)
	c.mu.Unlock()
}

func (c *NostrChannel) readLoop(ctx context.Context, conn *relayConn) error {
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.ws.Close()
		case <-done:
			conn.ws.Close()
		}
	}()

	log := c.log.WithField("relay", conn.url)
	for {
		_, data, err := conn.ws.ReadMessage()
		if err != nil {
			return err
		}

		switch env := nostr.ParseMessage(data).(type) {
		case *nostr.EventEnvelope:
			c.handleEvent(ctx, &env.Event, log)
		case *nostr.EOSEEnvelope:
			log.Debug("stored events delivered")
		case *nostr.OKEnvelope:
			if !env.OK {
				log.WithFields(map[string]interface{}{
					"event_id": env.EventID,
					"reason":   env.Reason,
				}).Warn("relay refused event")
			}
		case *nostr.NoticeEnvelope:
			log.WithField("notice", string(*env)).Info("relay notice")
		}
	}
}

func (c *NostrChannel) handleEvent(ctx context.Context, ev *nostr.Event, log *logger.Entry) {
	if ev.PubKey == c.publicKey || !c.addressedToUs(ev) {
		return
	}
	if ev.GetID() != ev.ID {
		log.WithField("event_id", ev.ID).Warn("event id does not match its content")
		return
	}
	if ok, err := ev.CheckSignature(); !ok || err != nil {
		log.WithField("event_id", ev.ID).WithError(err).Warn("invalid event signature")
		return
	}

	msg := externalmodel.InboundMessage{
		ID:         ev.ID,
		Author:     ev.PubKey,
		Content:    ev.Content,
		Mode:       model.DeliveryBroadcast,
		ReceivedAt: ev.CreatedAt.Time(),
	}

	switch ev.Kind {
	case nostr.KindTextNote:
	case nostr.KindEncryptedDirectMessage:
		shared, err := nip04.ComputeSharedSecret(ev.PubKey, c.secretKey)
		if err != nil {
			log.WithField("event_id", ev.ID).WithError(err).Warn("no shared secret with sender")
			return
		}
		plain, err := nip04.Decrypt(ev.Content, shared)
		if err != nil {
			log.WithField("event_id", ev.ID).WithError(err).Warn("undecryptable direct message")
			return
		}
		msg.Content = plain
		msg.Mode = model.DeliveryPrivate
	default:
		return
	}

	select {
	case c.inbound <- msg:
	case <-ctx.Done():
	}
}

func (c *NostrChannel) addressedToUs(ev *nostr.Event) bool {
	for _, tag := range ev.Tags {
		if len(tag) >= 2 && tag[0] == "p" && tag[1] == c.publicKey {
			return true
		}
	}
	return false
}

// Publish signs reply and sends it to every connected relay. Private replies are NIP-04
// direct messages; broadcast replies are notes tagging the answered event and its author.
func (c *NostrChannel) Publish(ctx context.Context, reply externalmodel.Reply) error {
	ev := nostr.Event{
		PubKey:    c.publicKey,
		CreatedAt: nostr.Timestamp(c.now().Unix()),
		Kind:      nostr.KindTextNote,
		Tags:      nostr.Tags{},
		Content:   reply.Content,
	}
	if reply.ReplyTo != "" {
		ev.Tags = append(ev.Tags, nostr.Tag{"e", reply.ReplyTo, "", "reply"})
	}
	if reply.Recipient != "" {
		ev.Tags = append(ev.Tags, nostr.Tag{"p", reply.Recipient})
	}

	if reply.Mode == model.DeliveryPrivate {
		shared, err := nip04.ComputeSharedSecret(reply.Recipient, c.secretKey)
		if err != nil {
			return errors.Wrapf(err, "shared secret with %s", reply.Recipient)
		}
		encrypted, err := nip04.Encrypt(reply.Content, shared)
		if err != nil {
			return errors.Wrap(err, "encrypt direct message")
		}
		ev.Kind = nostr.KindEncryptedDirectMessage
		ev.Content = encrypted
	}

	if err := ev.Sign(c.secretKey); err != nil {
		return errors.Wrap(err, "sign event")
	}

	c.mu.RLock()
	conns := make([]*relayConn, 0, len(c.conns))
	for _, conn := range c.conns {
		conns = append(conns, conn)
	}
	c.mu.RUnlock()

	sent := 0
	for _, conn := range conns {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err := conn.writeJSON(&nostr.EventEnvelope{Event: ev}); err != nil {
			c.log.WithField("relay", conn.url).WithError(err).Warn("publish failed")
			continue
		}
		sent++
	}
	if sent == 0 {
		return ErrNoRelay
	}

	c.log.WithFields(map[string]interface{}{
		"event_id":  ev.ID,
		"kind":      ev.Kind,
		"recipient": reply.Recipient,
		"relays":    sent,
	}).Debug("reply published")
	return nil
}

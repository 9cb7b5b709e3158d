package connectors

import (
	"fmt"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	LNMarketsKey        string        `envconfig:"LNM_API_KEY"`
	LNMarketsSecret     string        `envconfig:"LNM_API_SECRET"`
	LNMarketsPassphrase string        `envconfig:"LNM_API_PASSPHRASE"`
	LNMarketsBaseURL    string        `envconfig:"LNM_BASE_URL" default:"https://api.lnmarkets.com"`
	LNMarketsTimeout    time.Duration `envconfig:"LNM_TIMEOUT" default:"15s"`

	CLNRestURL string        `envconfig:"CLN_REST_URL" default:"https://127.0.0.1:3010"`
	CLNRune    string        `envconfig:"CLN_RUNE"`
	CLNTimeout time.Duration `envconfig:"CLN_TIMEOUT" default:"60s"`
	// CLNInsecureTLS accepts the node's self-signed certificate.
	CLNInsecureTLS bool `envconfig:"CLN_INSECURE_TLS" default:"false"`

	LNURLTimeout time.Duration `envconfig:"LNURL_TIMEOUT" default:"15s"`

	NostrSecretKey      string        `envconfig:"NOSTR_NSEC"`
	NostrRelays         string        `envconfig:"NOSTR_RELAYS" default:"wss://relay.damus.io,wss://nos.lol"`
	NostrLookback       time.Duration `envconfig:"NOSTR_LOOKBACK" default:"10m"`
	NostrReconnectDelay time.Duration `envconfig:"NOSTR_RECONNECT_DELAY" default:"5s"`
	NostrInboundBuffer  int           `envconfig:"NOSTR_INBOUND_BUFFER" default:"64"`
}

func GetConfig() Config {
	var config Config
	if err := envconfig.Process("", &config); err != nil {
		panic(fmt.Errorf("error processing env config: %w", err))
	}
	return config
}

// Relays splits NOSTR_RELAYS, dropping blanks.
func (c Config) Relays() []string {
	var out []string
	for _, r := range strings.Split(c.NostrRelays, ",") {
		if r = strings.TrimSpace(r); r != "" {
			out = append(out, r)
		}
	}
	return out
}

package ingest

import (
	"crypto/tls"
	"net"
	"net/url"

	MQTT "github.com/eclipse/paho.mqtt.golang"
	"github.com/pkg/errors"
)

// BrokerOpts describes how to reach the MQTT broker.
type BrokerOpts struct {
	URL      string
	Username string
	Password string
	ClientID string
	QoS      byte
}

func clientOptions(broker BrokerOpts) (*MQTT.ClientOptions, error) {
	brokerURL, err := url.Parse(broker.URL)
	if err != nil {
		return nil, errors.Wrap(err, "invalid broker url")
	}
	opts := MQTT.NewClientOptions().AddBroker(broker.URL)
	opts.Username = broker.Username
	opts.Password = broker.Password
	if broker.ClientID != "" {
		opts.SetClientID(broker.ClientID)
	}
	if brokerURL.Scheme == "tls" {
		host, _, _ := net.SplitHostPort(brokerURL.Host)
		opts.TLSConfig = &tls.Config{
			MinVersion:               tls.VersionTLS12,
			CurvePreferences:         []tls.CurveID{tls.CurveP521, tls.CurveP384, tls.CurveP256},
			PreferServerCipherSuites: true,
			CipherSuites: []uint16{
				tls.TLS_ECDHE_RSA_WITH_AES_256_GCM_SHA384,
				tls.TLS_RSA_WITH_AES_256_GCM_SHA384,
			},
			ServerName: host,
		}
	}
	opts.AutoReconnect = true
	return opts, nil
}

func connect(opts *MQTT.ClientOptions) (MQTT.Client, error) {
	c := MQTT.NewClient(opts)
	if token := c.Connect(); token.Wait() && token.Error() != nil {
		return nil, errors.Wrap(token.Error(), "failed to connect to broker")
	}
	return c, nil
}

// Publisher sends a payload to a topic.
type Publisher interface {
	Publish(topic string, payload []byte) error
}

type mqttPublisher struct {
	client MQTT.Client
	qos    byte
}

func (p *mqttPublisher) Publish(topic string, payload []byte) error {
	token := p.client.Publish(topic, p.qos, false, payload)
	token.Wait()
	return token.Error()
}

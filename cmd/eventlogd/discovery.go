package main

import (
	"fmt"
	"net/http"
	"time"

	consulapi "github.com/hashicorp/consul/api"
)

// findBroker waits until Consul knows an instance of the given service, and
// returns its address as an MQTT broker URL.
func findBroker(name, tag string) (string, error) {
	config := consulapi.DefaultConfig()
	config.HttpClient = http.DefaultClient
	client, err := consulapi.NewClient(config)
	if err != nil {
		return "", err
	}
	var idx uint64
	for {
		services, meta, err := client.Catalog().Service(name, tag, &consulapi.QueryOptions{
			WaitIndex: idx,
			WaitTime:  10 * time.Second,
		})
		if err != nil {
			return "", err
		}
		idx = meta.LastIndex
		if len(services) == 0 {
			continue
		}
		return fmt.Sprintf("tcp://%s:%d", services[0].ServiceAddress, services[0].ServicePort), nil
	}
}

// Package mqtt wraps eclipse/paho.mqtt.golang with the session behaviour
// AgriSense Core needs: per-endpoint clients, automatic reconnection with
// exponential backoff, subscription restoration after reconnect, panic
// recovery around message handlers, and optional retained online/offline
// status with a Last Will registered at connect time.
//
// The broker manager creates one Client per registered broker from an
// Options value describing that endpoint. Nothing in this package is a
// singleton; two Clients against the same broker are independent sessions.
//
// Usage:
//
//	client, err := mqtt.Connect(mqtt.Options{
//	    Host:         "localhost",
//	    Port:         1883,
//	    ClientID:     "agrisense-core",
//	    QoS:          1,
//	    InitialDelay: 1,
//	    MaxDelay:     60,
//	})
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	err = client.Subscribe("luixxa/#", 1, func(topic string, payload []byte) error {
//	    // handle message
//	    return nil
//	})
package mqtt

// Command result-watch follows recorded test results published over MQTT.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/andresaa/api-examen-conduccion/internal/events"
)

func main() {
	brokerAddr := flag.String("broker", "tcp://localhost:1883", "MQTT broker address, e.g. tcp://localhost:1883")
	topicRoot := flag.String("topic", "consultant/test-results", "Topic root the server publishes under")
	appointment := flag.String("appointment", "", "Only follow this appointment identifier")
	raw := flag.Bool("raw", false, "Print event payloads verbatim")

	flag.Parse()

	topic := subscription(*topicRoot, *appointment)

	clientID := fmt.Sprintf("result-watch-%d", time.Now().UnixNano())
	opts := mqtt.NewClientOptions().AddBroker(*brokerAddr).SetClientID(clientID)
	opts = opts.SetOrderMatters(false)

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		log.Fatalf("failed to connect to broker: %v", token.Error())
	}
	log.Printf("connected to MQTT broker %s as %s", *brokerAddr, clientID)

	handler := func(_ mqtt.Client, msg mqtt.Message) {
		if *raw {
			log.Printf("%s %s", msg.Topic(), msg.Payload())
			return
		}
		var e events.Event
		if err := json.Unmarshal(msg.Payload(), &e); err != nil {
			log.Printf("skipping undecodable payload on %s: %v", msg.Topic(), err)
			return
		}
		log.Print(describe(e, time.Now()))
	}

	if token := client.Subscribe(topic, 1, handler); token.Wait() && token.Error() != nil {
		log.Fatalf("failed to subscribe to %s: %v", topic, token.Error())
	}
	log.Printf("watching %s", topic)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	<-ctx.Done()
	log.Print("received shutdown signal, disconnecting")
	client.Unsubscribe(topic).Wait()
	client.Disconnect(250)
}

// subscription returns the topic filter for one appointment or for all of them.
func subscription(root, appointment string) string {
	if appointment != "" {
		return root + "/" + appointment
	}
	return root + "/+"
}

func describe(e events.Event, now time.Time) string {
	r := e.TestResult
	return fmt.Sprintf("%s %s user=%s appointment=%s type=%s status=%s (%s)",
		e.Type, r.TestResultID, r.UserID, r.AppointmentID, r.TestType, r.Status,
		humanize.RelTime(e.OccurredAt, now, "ago", "from now"))
}

// Package push delivers completion notifications through APNs.
package push

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/sideshow/apns2"
	"github.com/sideshow/apns2/certificate"
	"github.com/sideshow/apns2/payload"
	"golang.org/x/sync/errgroup"
)

// Notification is one message bound for one device. An empty DeviceID means
// the recipient never registered a device; callers expect that to be skipped,
// not reported as a failure.
type Notification struct {
	DeviceID string
	Category string
	Message  string
	Badge    int
	Sound    string
	Custom   map[string]any
}

// Client is the part of the APNs client the dispatcher uses.
type Client interface {
	PushWithContext(ctx apns2.Context, n *apns2.Notification) (*apns2.Response, error)
}

// Dispatcher fans notifications out to the push gateway.
type Dispatcher struct {
	client Client
	topic  string
}

// NewDispatcher loads the .p12 certificate and connects to APNs. An empty
// certPath returns an unconfigured dispatcher that skips every send.
func NewDispatcher(certPath, certPassword, topic string, sandbox bool) (*Dispatcher, error) {
	if certPath == "" {
		return &Dispatcher{}, nil
	}
	cert, err := certificate.FromP12File(certPath, certPassword)
	if err != nil {
		return nil, fmt.Errorf("load apns certificate: %w", err)
	}
	client := apns2.NewClient(cert)
	if sandbox {
		client = client.Development()
	} else {
		client = client.Production()
	}
	return &Dispatcher{client: client, topic: topic}, nil
}

// NewDispatcherWithClient wires an existing client; used by tests.
func NewDispatcherWithClient(client Client, topic string) *Dispatcher {
	return &Dispatcher{client: client, topic: topic}
}

// IsConfigured returns true if a gateway client is attached.
func (d *Dispatcher) IsConfigured() bool {
	return d.client != nil
}

// Send delivers one notification. Recipients without a device are skipped.
func (d *Dispatcher) Send(ctx context.Context, n Notification) error {
	if n.DeviceID == "" {
		return nil
	}
	if !d.IsConfigured() {
		slog.Debug("push not configured, skipping", "category", n.Category)
		return nil
	}

	body := payload.NewPayload().
		Alert(n.Message).
		Badge(n.Badge).
		Sound(n.Sound).
		Category(n.Category)
	for key, value := range n.Custom {
		body = body.Custom(key, value)
	}

	resp, err := d.client.PushWithContext(ctx, &apns2.Notification{
		DeviceToken: n.DeviceID,
		Topic:       d.topic,
		Payload:     body,
	})
	if err != nil {
		return fmt.Errorf("push to %s: %w", n.DeviceID, err)
	}
	if !resp.Sent() {
		return fmt.Errorf("push to %s rejected: %s", n.DeviceID, resp.Reason)
	}
	return nil
}

// SendAll delivers notifications concurrently; the first failure wins and
// deliveries already in flight are not recalled.
func (d *Dispatcher) SendAll(ctx context.Context, notifications []Notification) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, n := range notifications {
		g.Go(func() error {
			return d.Send(ctx, n)
		})
	}
	return g.Wait()
}
